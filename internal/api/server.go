// Package api exposes the alert management REST surface charts and
// watchlists talk to.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"alertstream/internal/alertstore"
	"alertstream/internal/markethours"
	"alertstream/internal/model"
	"alertstream/internal/monitor"
	"alertstream/internal/stream"
	"alertstream/internal/tickstore"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Handler carries the API's collaborators.
type Handler struct {
	alerts *alertstore.Store
	mon    *monitor.Monitor
	ticks  *tickstore.Store
	state  func() stream.State // nil when no stream is wired (tests)
	log    *slog.Logger
}

func New(alerts *alertstore.Store, mon *monitor.Monitor, ticks *tickstore.Store, state func() stream.State, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{alerts: alerts, mon: mon, ticks: ticks, state: state, log: log}
}

// Router builds the chi router with middleware and all routes mounted.
func (h *Handler) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if len(corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", h.listAlerts)
			r.Post("/", h.createAlert)
			r.Delete("/{id}", h.deleteAlert)
		})
		r.Post("/ohlc", h.pushOHLC)
		r.Get("/ticks", h.recentTicks)
		r.Get("/status", h.status)
	})

	return r
}

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	var alerts []model.Alert
	if symbol != "" {
		alerts = h.alerts.ListForKey(model.SubKey(symbol, r.URL.Query().Get("exchange")))
	} else {
		alerts = h.alerts.List()
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	WriteJSON(w, http.StatusOK, alerts)
}

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	var a model.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if a.Symbol == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "symbol is required"})
		return
	}
	if a.Type == model.AlertIndicator && a.Indicator == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "indicator is required for indicator alerts"})
		return
	}

	created, err := h.alerts.Add(a)
	if err != nil {
		h.log.Error("alert create failed", "err", err)
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "failed to store alert"})
		return
	}
	h.mon.Refresh()
	WriteJSON(w, http.StatusCreated, created)
}

func (h *Handler) deleteAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.alerts.Remove(id); err != nil {
		WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: "alert not found"})
		return
	}
	h.mon.Refresh()
	w.WriteHeader(http.StatusNoContent)
}

type ohlcRequest struct {
	Symbol   string      `json:"symbol"`
	Exchange string      `json:"exchange"`
	Interval string      `json:"interval"`
	Bars     []model.Bar `json:"bars"`
}

func (h *Handler) pushOHLC(w http.ResponseWriter, r *http.Request) {
	var req ohlcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Symbol == "" || req.Interval == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "symbol and interval are required"})
		return
	}
	h.mon.UpdateOHLC(req.Symbol, req.Exchange, req.Interval, req.Bars)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) recentTicks(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "symbol is required"})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	key := model.SubKey(symbol, r.URL.Query().Get("exchange"))
	ticks := h.ticks.Recent(key, limit)
	if ticks == nil {
		ticks = []model.Tick{}
	}
	WriteJSON(w, http.StatusOK, ticks)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	alerts := h.alerts.List()
	active := 0
	for _, a := range alerts {
		if a.Status == model.StatusActive {
			active++
		}
	}

	streamState := stream.StateDisconnected
	if h.state != nil {
		streamState = h.state()
	}
	now := time.Now()
	WriteJSON(w, http.StatusOK, map[string]any{
		"stream_state":    streamState.String(),
		"monitor_running": h.mon.Running(),
		"alerts_total":    len(alerts),
		"alerts_active":   active,
		"market_open":     markethours.IsMarketOpen(now),
		"market_status":   markethours.StatusString(now),
	})
}
