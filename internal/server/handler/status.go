package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
)

// BotStatus is the read-only view of the running bot the handler needs.
type BotStatus interface {
	Stats() bot.Stats
	RecentSignals(limit int) []domain.Signal
}

// StatusHandler serves bot statistics and recent signals.
type StatusHandler struct {
	bot        BotStatus
	strategies []string
	mode       string
	logger     *slog.Logger
}

// NewStatusHandler creates a StatusHandler. strategies is the list of
// registered strategy names for discovery.
func NewStatusHandler(b BotStatus, strategies []string, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		bot:        b,
		strategies: strategies,
		mode:       mode,
		logger:     logger,
	}
}

// GetStatus returns the current statistics snapshot.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":  h.mode,
		"stats": h.bot.Stats(),
	})
}

// ListSignals returns the most recent signals, newest first.
// GET /api/signals?limit=N
func (h *StatusHandler) ListSignals(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	signals := h.bot.RecentSignals(limit)
	out := make([]map[string]any, 0, len(signals))
	for _, sig := range signals {
		out = append(out, sig.ToMap())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(out),
		"signals": out,
	})
}

// ListStrategies returns the registered strategy names.
// GET /api/strategies
func (h *StatusHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"strategies": h.strategies,
	})
}
