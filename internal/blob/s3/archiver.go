package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openquant/botcore/internal/bot"
	"github.com/openquant/botcore/internal/domain"
)

// StatsSource provides the statistics snapshot to archive.
type StatsSource interface {
	Stats() bot.Stats
}

// ClosedSource provides closed positions for incremental archival.
type ClosedSource interface {
	ClosedSince(cutoff time.Time) []domain.Position
}

// Archiver periodically uploads a statistics snapshot and the positions
// closed since the previous run as JSON/JSONL objects. Deletion from the
// primary store is intentionally not performed here.
type Archiver struct {
	writer domain.BlobWriter
	stats  StatsSource
	closed ClosedSource
	logger *slog.Logger

	lastFlush time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, stats StatsSource, closed ClosedSource, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		stats:  stats,
		closed: closed,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Run archives a snapshot every interval until the context is cancelled. A
// final snapshot is written on shutdown.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", interval))
	defer a.logger.Info("archiver stopped")

	a.lastFlush = time.Now().UTC()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Archive(flushCtx, time.Now().UTC()); err != nil {
				a.logger.Warn("final archive failed", slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()
		case now := <-ticker.C:
			if err := a.Archive(ctx, now.UTC()); err != nil {
				a.logger.WarnContext(ctx, "archive failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Archive uploads the current statistics snapshot and the positions closed
// since the last successful archive.
func (a *Archiver) Archive(ctx context.Context, now time.Time) error {
	stats := a.stats.Stats()
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("s3blob: marshal stats: %w", err)
	}

	statsPath := archivePath("stats", stats.Name, now) + ".json"
	if err := a.writer.Put(ctx, statsPath, bytes.NewReader(payload), "application/json"); err != nil {
		return err
	}

	closed := a.closed.ClosedSince(a.lastFlush)
	if len(closed) > 0 {
		buf, err := marshalJSONL(closed)
		if err != nil {
			return fmt.Errorf("s3blob: marshal closed positions: %w", err)
		}
		posPath := archivePath("positions", stats.Name, now) + ".jsonl"
		if err := a.writer.Put(ctx, posPath, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return err
		}
	}

	a.lastFlush = now
	a.logger.DebugContext(ctx, "snapshot archived",
		slog.String("path", statsPath),
		slog.Int("closed_positions", len(closed)),
	)
	return nil
}

// archivePath builds keys like archive/stats/botname/2026/08/25/143005.
func archivePath(kind, name string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s", kind, name, at.Format("2006/01/02/150405"))
}

// marshalJSONL serializes a slice as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
