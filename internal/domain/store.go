package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// PositionStore persists the position journal.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice, pnl float64, closedAt time.Time) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of framework events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
