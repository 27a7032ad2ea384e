package postgres

import (
	"context"
	"errors"
	"fmt"
)

// ErrSchemaMissing is reported when the server answers but the delivery
// tables have not been migrated.
var ErrSchemaMissing = errors.New("delivery_records table missing, run migrations")

const schemaCheckSQL = `SELECT to_regclass('delivery_records') IS NOT NULL`

// DeliveryStoreHealth reports on /health whether the delivery store can
// take records: the pool answers and the schema is in place.
type DeliveryStoreHealth struct {
	pool Pool
}

// NewHealthCheck wraps the delivery store pool for the health endpoint.
func NewHealthCheck(pool Pool) *DeliveryStoreHealth {
	return &DeliveryStoreHealth{pool: pool}
}

func (h *DeliveryStoreHealth) Ping(ctx context.Context) error {
	if err := h.pool.Ping(ctx); err != nil {
		return err
	}
	var present bool
	if err := h.pool.QueryRow(ctx, schemaCheckSQL).Scan(&present); err != nil {
		return fmt.Errorf("check delivery schema: %w", err)
	}
	if !present {
		return ErrSchemaMissing
	}
	return nil
}

func (h *DeliveryStoreHealth) Name() string {
	return "delivery_store"
}
