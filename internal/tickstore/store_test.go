package tickstore

import (
	"testing"
	"time"

	"alertstream/internal/model"
)

func tick(price float64) model.Tick {
	return model.Tick{Time: time.Now(), Price: price, Volume: 1, Side: model.SideBuy}
}

func TestStore_AppendAndRecent(t *testing.T) {
	s := NewWithCapacity(8, nil)

	for i := 0; i < 3; i++ {
		s.Append("SBIN:NSE", tick(float64(100+i)))
	}

	got := s.Recent("SBIN:NSE", 0)
	if len(got) != 3 {
		t.Fatalf("expected 3 ticks, got %d", len(got))
	}
	if got[0].Price != 100 || got[2].Price != 102 {
		t.Fatalf("wrong order: first=%v last=%v", got[0].Price, got[2].Price)
	}

	got = s.Recent("SBIN:NSE", 2)
	if len(got) != 2 || got[0].Price != 101 {
		t.Fatalf("Recent(2): expected newest two starting at 101, got %+v", got)
	}
}

func TestStore_FIFOEvictionAtCapacity(t *testing.T) {
	const capacity = 16
	s := NewWithCapacity(capacity, nil)

	for i := 0; i < capacity+1; i++ {
		s.Append("INFY:NSE", tick(float64(i)))
	}

	if n := s.Len("INFY:NSE"); n != capacity {
		t.Fatalf("expected len=%d after overflow, got %d", capacity, n)
	}
	got := s.Recent("INFY:NSE", 0)
	if got[0].Price != 1 {
		t.Fatalf("oldest tick should be evicted first: got oldest price %v, want 1", got[0].Price)
	}
	if got[len(got)-1].Price != float64(capacity) {
		t.Fatalf("newest tick missing: got %v", got[len(got)-1].Price)
	}
}

func TestStore_ListenersReceiveTicks(t *testing.T) {
	s := NewWithCapacity(8, nil)

	var got []float64
	unsub := s.Subscribe("TCS:NSE", func(key string, tk model.Tick) {
		got = append(got, tk.Price)
	})

	s.Append("TCS:NSE", tick(1))
	s.Append("TCS:NSE", tick(2))
	s.Append("OTHER:NSE", tick(99)) // different key — not delivered

	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("listener got %v, want [1 2]", got)
	}

	unsub()
	s.Append("TCS:NSE", tick(3))
	if len(got) != 2 {
		t.Fatalf("listener still receiving after unsubscribe: %v", got)
	}
	unsub() // second call is a no-op
}

func TestStore_SubscribeAllSeesEveryKey(t *testing.T) {
	s := NewWithCapacity(8, nil)

	var keys []string
	unsub := s.SubscribeAll(func(key string, tk model.Tick) {
		keys = append(keys, key)
	})

	s.Append("TCS:NSE", tick(1))
	s.Append("SBIN:NSE", tick(2))

	if len(keys) != 2 || keys[0] != "TCS:NSE" || keys[1] != "SBIN:NSE" {
		t.Fatalf("global listener saw %v", keys)
	}

	unsub()
	s.Append("TCS:NSE", tick(3))
	if len(keys) != 2 {
		t.Fatalf("global listener still receiving after unsubscribe: %v", keys)
	}
}

func TestStore_ListenerPanicDoesNotBreakOthers(t *testing.T) {
	s := NewWithCapacity(8, nil)

	var delivered int
	s.Subscribe("K:NSE", func(string, model.Tick) { panic("bad consumer") })
	s.Subscribe("K:NSE", func(string, model.Tick) { delivered++ })

	s.Append("K:NSE", tick(10))
	s.Append("K:NSE", tick(11))

	if delivered != 2 {
		t.Fatalf("healthy listener received %d ticks, want 2", delivered)
	}
}

func TestStore_Clear(t *testing.T) {
	s := NewWithCapacity(8, nil)
	s.Append("X:NSE", tick(1))
	s.Clear("X:NSE")
	if s.Len("X:NSE") != 0 {
		t.Fatal("expected empty after Clear")
	}
}
