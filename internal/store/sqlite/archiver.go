package sqlite

import (
	"context"
	"time"

	"alertstream/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// ArchivedTick is one tick tagged with its subscription key for durable
// storage.
type ArchivedTick struct {
	Key  string
	Tick model.Tick
}

// RunTickArchiver drains tickCh into the ticks table in batched
// transactions. Flushes every defaultBatchSize ticks or every
// defaultFlushDelay, whichever comes first. Blocks until ctx is cancelled
// or tickCh is closed.
func (s *Store) RunTickArchiver(ctx context.Context, tickCh <-chan ArchivedTick) {
	batch := make([]ArchivedTick, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.insertTicks(batch); err != nil {
			s.log.Error("tick batch insert failed", "err", err)
		} else {
			s.log.Debug("ticks committed", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case at, ok := <-tickCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, at)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

func (s *Store) insertTicks(batch []ArchivedTick) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO ticks (sub_key, ts, price, volume, side)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, at := range batch {
		t := at.Tick
		if _, err := stmt.Exec(at.Key, t.Time.UnixMilli(), t.Price, t.Volume, string(t.Side)); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PruneTicks deletes archived ticks older than maxAge. Returns the number
// of rows removed.
func (s *Store) PruneTicks(maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM ticks WHERE ts < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
