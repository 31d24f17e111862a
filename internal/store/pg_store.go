package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/leottami/mindull-sub001/internal/domain"
)

type pgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore returns a Store backed by PostgreSQL, for the hosted sync
// gateway mode where many devices share one server-side outbox.
func NewPgStore(pool *pgxpool.Pool) Store {
	return &pgStore{pool: pool}
}

const itemColumns = `id, op, domain, entity_id, owner_id, payload,
	attempt_count, attempt_limit, status, last_error, conflict_resolution,
	created_at, updated_at`

func (s *pgStore) Append(ctx context.Context, item *domain.Item) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO outbox_items
			(id, op, domain, entity_id, owner_id, payload,
			 attempt_count, attempt_limit, status, last_error, conflict_resolution,
			 created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		item.ID, item.Op, item.Domain, item.EntityID, item.OwnerID, item.Payload,
		item.AttemptCount, item.AttemptLimit, item.Status, item.LastError, item.ConflictResolution,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox item: %w", err)
	}
	return nil
}

func (s *pgStore) LoadPending(ctx context.Context) ([]*domain.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM outbox_items
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load pending items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *pgStore) Update(ctx context.Context, item *domain.Item) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_items
		SET op = $2, domain = $3, entity_id = $4, owner_id = $5, payload = $6,
		    attempt_count = $7, attempt_limit = $8, status = $9,
		    last_error = $10, conflict_resolution = $11,
		    created_at = $12, updated_at = $13
		WHERE id = $1`,
		item.ID, item.Op, item.Domain, item.EntityID, item.OwnerID, item.Payload,
		item.AttemptCount, item.AttemptLimit, item.Status,
		item.LastError, item.ConflictResolution,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update outbox item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *pgStore) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM outbox_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove outbox item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *pgStore) LoadAll(ctx context.Context) ([]*domain.Item, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM outbox_items
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("load all items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func (s *pgStore) ResetInFlight(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE outbox_items
		SET status = 'pending'
		WHERE status = 'in_flight'`)
	if err != nil {
		return 0, fmt.Errorf("reset in-flight items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *pgStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM outbox_items`); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

// ---- helpers ----

// scanItem reads a single outbox row from any pgx row type.
func scanItem(row pgx.Row) (*domain.Item, error) {
	var item domain.Item
	err := row.Scan(
		&item.ID, &item.Op, &item.Domain, &item.EntityID, &item.OwnerID, &item.Payload,
		&item.AttemptCount, &item.AttemptLimit, &item.Status,
		&item.LastError, &item.ConflictResolution,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanItems(rows pgx.Rows) ([]*domain.Item, error) {
	var result []*domain.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, item)
	}
	return result, rows.Err()
}
