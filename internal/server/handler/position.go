package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/openquant/botcore/internal/domain"
	"github.com/openquant/botcore/internal/portfolio"
)

// PositionHandler serves the live portfolio and, when a journal store is
// configured, the persisted close history.
type PositionHandler struct {
	portfolio *portfolio.Portfolio
	store     domain.PositionStore // optional
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler. store may be nil when no
// database journal is configured; closed positions then come from the
// in-memory portfolio history.
func NewPositionHandler(pf *portfolio.Portfolio, store domain.PositionStore, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		portfolio: pf,
		store:     store,
		logger:    logger,
	}
}

type positionView struct {
	ID         string   `json:"id"`
	Symbol     string   `json:"symbol"`
	Direction  string   `json:"direction"`
	EntryPrice float64  `json:"entry_price"`
	ExitPrice  *float64 `json:"exit_price,omitempty"`
	Quantity   float64  `json:"quantity"`
	PnL        float64  `json:"pnl"`
	Status     string   `json:"status"`
	Strategy   string   `json:"strategy"`
	OpenedAt   string   `json:"opened_at"`
	ClosedAt   *string  `json:"closed_at,omitempty"`
}

func toView(p domain.Position) positionView {
	v := positionView{
		ID:         p.ID,
		Symbol:     p.Symbol,
		Direction:  string(p.Direction),
		EntryPrice: p.EntryPrice,
		ExitPrice:  p.ExitPrice,
		Quantity:   p.Quantity,
		PnL:        p.PnL,
		Status:     string(p.Status),
		Strategy:   p.Strategy,
		OpenedAt:   p.OpenedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.ClosedAt != nil {
		s := p.ClosedAt.UTC().Format(time.RFC3339Nano)
		v.ClosedAt = &s
	}
	return v
}

// ListPositions returns positions filtered by ?status=open|closed (default
// open).
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = "open"
	}

	var positions []domain.Position
	switch status {
	case "open":
		positions = h.portfolio.Snapshot().Open
	case "closed":
		positions = h.closedPositions(r)
	default:
		writeError(w, http.StatusBadRequest, "status must be open or closed")
		return
	}

	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, toView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(out),
		"positions": out,
	})
}

func (h *PositionHandler) closedPositions(r *http.Request) []domain.Position {
	opts := parseListOpts(r)

	if h.store != nil {
		positions, err := h.store.ListClosed(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list closed positions failed",
				slog.String("error", err.Error()),
			)
			return nil
		}
		return positions
	}

	closed := h.portfolio.ClosedSince(time.Time{})
	if opts.Limit > 0 && len(closed) > opts.Limit {
		closed = closed[len(closed)-opts.Limit:]
	}
	return closed
}

// GetPosition returns a single position from the journal store.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "position journal not configured")
		return
	}

	id := r.PathValue("id")
	pos, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get position failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toView(pos))
}
