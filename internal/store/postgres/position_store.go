package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openquant/botcore/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, symbol, direction, entry_price, exit_price,
	quantity, pnl, status, strategy_name, opened_at, closed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string

	err := row.Scan(
		&p.ID, &p.Symbol, &direction,
		&p.EntryPrice, &p.ExitPrice,
		&p.Quantity, &p.PnL,
		&status, &p.Strategy,
		&p.OpenedAt, &p.ClosedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.OrderSide(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Create inserts a new position row.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, direction, entry_price, exit_price,
			quantity, pnl, status, strategy_name, opened_at, closed_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11, NOW()
		)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Direction),
		p.EntryPrice, p.ExitPrice,
		p.Quantity, p.PnL,
		string(p.Status), p.Strategy,
		p.OpenedAt, p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// Close marks a position as closed, recording exit price, realized pnl, and
// close time.
func (s *PositionStore) Close(ctx context.Context, id string, exitPrice, pnl float64, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status     = 'closed',
			exit_price = $2,
			pnl        = $3,
			closed_at  = $4,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, exitPrice, pnl, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID fetches a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`

	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns all open positions, newest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions
		WHERE status = 'open' ORDER BY opened_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// ListClosed returns closed positions with pagination and optional time
// filtering, newest first.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE status = 'closed'`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND closed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY closed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}
