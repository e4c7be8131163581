package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/arbwatch/internal/domain/schema"
)

const (
	notificationInsertSQL = `
INSERT INTO notifications (
    id,
    scope_id,
    order_id,
    provider,
    instrument,
    side,
    type,
    severity,
    description,
    filled_delta,
    price,
    occurred_at
)
VALUES (
    @id,
    @scope_id,
    @order_id,
    @provider,
    @instrument,
    @side,
    @type,
    @severity,
    @description,
    @filled_delta::numeric,
    @price::numeric,
    @occurred_at
)
ON CONFLICT (id) DO NOTHING;
`

	notificationSelectSQL = `
SELECT
    id,
    scope_id,
    order_id,
    provider,
    instrument,
    side,
    type,
    severity,
    description,
    filled_delta::text,
    price::text,
    occurred_at
FROM notifications
WHERE scope_id = @scope_id
ORDER BY occurred_at DESC, recorded_at DESC
LIMIT @limit;
`

	defaultNotificationLimit = 100
	maxNotificationLimit     = 1000
)

// NotificationStore persists forwarded notifications.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore constructs a NotificationStore backed by pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

func (s *NotificationStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("notification store: nil pool")
	}
	return s.pool, nil
}

// Insert stores n. Re-inserting the same id is a no-op.
func (s *NotificationStore) Insert(ctx context.Context, n schema.Notification) error {
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("notification store: id required")
	}
	if strings.TrimSpace(n.Scope) == "" {
		return fmt.Errorf("notification store: scope required")
	}
	occurred := n.At
	if occurred.IsZero() {
		occurred = time.Now()
	}
	args := pgx.NamedArgs{
		"id":           n.ID,
		"scope_id":     n.Scope,
		"order_id":     n.OrderID,
		"provider":     n.Provider,
		"instrument":   n.Instrument,
		"side":         n.Side,
		"type":         string(n.Type),
		"severity":     n.Severity,
		"description":  n.Description,
		"filled_delta": n.FilledDelta.String(),
		"price":        n.Price.String(),
		"occurred_at":  occurred.UTC(),
	}
	if _, err := pool.Exec(ctx, notificationInsertSQL, args); err != nil {
		return fmt.Errorf("notification store: insert: %w", err)
	}
	return nil
}

// Recent returns up to limit notifications for scope, newest first.
func (s *NotificationStore) Recent(ctx context.Context, scope string, limit int) ([]schema.Notification, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNotificationLimit
	}
	if limit > maxNotificationLimit {
		limit = maxNotificationLimit
	}
	rows, err := pool.Query(ctx, notificationSelectSQL, pgx.NamedArgs{"scope_id": scope, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("notification store: query: %w", err)
	}
	defer rows.Close()

	out := make([]schema.Notification, 0, limit)
	for rows.Next() {
		var n schema.Notification
		var typ, filled, price string
		if err := rows.Scan(&n.ID, &n.Scope, &n.OrderID, &n.Provider, &n.Instrument, &n.Side,
			&typ, &n.Severity, &n.Description, &filled, &price, &n.At); err != nil {
			return nil, fmt.Errorf("notification store: scan: %w", err)
		}
		n.Type = schema.NotificationType(typ)
		if n.FilledDelta, err = decimal.NewFromString(filled); err != nil {
			return nil, fmt.Errorf("notification store: parse filled_delta: %w", err)
		}
		if n.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("notification store: parse price: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notification store: rows: %w", err)
	}
	return out, nil
}
