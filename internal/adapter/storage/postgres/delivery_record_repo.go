package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// recordColumns is the select list for delivery_records aliased as r.
const recordColumns = `r.id, r.event_id, r.event_type, r.direction, r.endpoint, r.target_url, r.target_method,
		r.payload, r.state, r.attempts, r.max_attempts, r.scheduled_at, r.next_attempt_at, r.delivered_at,
		r.claim_token, r.claimed_at, r.last_status_code, r.last_response, r.last_error, r.last_error_code,
		r.redelivery_of, r.correlation_id, r.created_at, r.updated_at`

// DeliveryRecordRepo implements ports.DeliveryRecordRepository.
type DeliveryRecordRepo struct {
	pool Pool
}

// NewDeliveryRecordRepo creates a new DeliveryRecordRepo.
func NewDeliveryRecordRepo(pool Pool) *DeliveryRecordRepo {
	return &DeliveryRecordRepo{pool: pool}
}

// Create inserts a record. A second original record for the same
// (direction, event_id, endpoint) fails with domain.ErrDuplicateEvent.
func (r *DeliveryRecordRepo) Create(ctx context.Context, rec *domain.DeliveryRecord) error {
	query := `INSERT INTO delivery_records (id, event_id, event_type, direction, endpoint, target_url, target_method,
		payload, state, attempts, max_attempts, scheduled_at, next_attempt_at, redelivery_of, correlation_id,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	url, method := targetColumns(rec.Target)
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.EventID, rec.EventType.String(), string(rec.Direction), rec.EndpointName(), url, method,
		[]byte(rec.Payload), string(rec.State), rec.Attempts, rec.MaxAttempts, rec.ScheduledAt, rec.NextAttemptAt,
		rec.RedeliveryOf, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// GetByID fetches a record by UUID. Returns nil, nil when absent.
func (r *DeliveryRecordRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.DeliveryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records r WHERE r.id = $1`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

// GetByEvent fetches the earliest original record of an event.
func (r *DeliveryRecordRepo) GetByEvent(ctx context.Context, direction domain.Direction, eventID string) (*domain.DeliveryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records r
		WHERE r.direction = $1 AND r.event_id = $2 AND r.redelivery_of IS NULL
		ORDER BY r.created_at LIMIT 1`
	return scanRecord(r.pool.QueryRow(ctx, query, string(direction), eventID))
}

// ClaimDue atomically moves up to limit due records to PROCESSING, each with
// a fresh claim token. Rows locked by a concurrent claimer are skipped.
func (r *DeliveryRecordRepo) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	query := `WITH due AS (
			SELECT id FROM delivery_records
			WHERE state IN ('PENDING', 'RETRYING') AND next_attempt_at <= $1
			ORDER BY next_attempt_at, created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_records r
		SET state = 'PROCESSING', claim_token = gen_random_uuid(), claimed_at = $1,
			next_attempt_at = NULL, updated_at = $1
		FROM due WHERE r.id = due.id
		RETURNING ` + recordColumns

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due records: %w", err)
	}
	return collectRecords(rows)
}

// Claim moves one claimable record to PROCESSING regardless of its due time.
func (r *DeliveryRecordRepo) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*domain.DeliveryRecord, error) {
	query := `UPDATE delivery_records r
		SET state = 'PROCESSING', claim_token = $2, claimed_at = $3, next_attempt_at = NULL, updated_at = $3
		WHERE r.id = $1 AND r.state IN ('PENDING', 'RETRYING')
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id, uuid.New(), now))
	if err != nil {
		return nil, fmt.Errorf("claim record: %w", err)
	}
	if rec != nil {
		return rec, nil
	}

	existing, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, domain.ErrNotFound
	}
	return nil, domain.ErrClaimConflict
}

// SaveAttempt persists the resolved attempt only while claimToken still
// holds the claim.
func (r *DeliveryRecordRepo) SaveAttempt(ctx context.Context, rec *domain.DeliveryRecord, claimToken uuid.UUID) error {
	query := `UPDATE delivery_records
		SET state = $1, attempts = $2, next_attempt_at = $3, delivered_at = $4,
			claim_token = $5, claimed_at = $6, last_status_code = $7, last_response = $8,
			last_error = $9, last_error_code = $10, updated_at = $11
		WHERE id = $12 AND state = 'PROCESSING' AND claim_token = $13`

	tag, err := r.pool.Exec(ctx, query,
		string(rec.State), rec.Attempts, rec.NextAttemptAt, rec.DeliveredAt,
		rec.ClaimToken, rec.ClaimedAt, rec.LastStatusCode, rec.LastResponse,
		rec.LastError, rec.LastErrorCode, rec.UpdatedAt,
		rec.ID, claimToken,
	)
	if err != nil {
		return fmt.Errorf("save attempt: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	existing, err := r.GetByID(ctx, rec.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	return domain.ErrClaimLost
}

// ListStaleClaims returns PROCESSING records claimed before cutoff, oldest first.
func (r *DeliveryRecordRepo) ListStaleClaims(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM delivery_records r
		WHERE r.state = 'PROCESSING' AND r.claimed_at < $1
		ORDER BY r.claimed_at LIMIT $2`

	rows, err := r.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale claims: %w", err)
	}
	return collectRecords(rows)
}

// ListByState returns a page of records in state, most recently updated first,
// with the total count.
func (r *DeliveryRecordRepo) ListByState(ctx context.Context, state domain.DeliveryState, limit, offset int) ([]*domain.DeliveryRecord, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM delivery_records WHERE state = $1`, string(state)).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM delivery_records r
		WHERE r.state = $1
		ORDER BY r.updated_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, string(state), limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	recs, err := collectRecords(rows)
	if err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// ListExpired returns terminal records in state last updated before cutoff.
func (r *DeliveryRecordRepo) ListExpired(ctx context.Context, state domain.DeliveryState, cutoff time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	if !state.IsTerminal() {
		return nil, nil
	}
	query := `SELECT ` + recordColumns + ` FROM delivery_records r
		WHERE r.state = $1 AND r.updated_at < $2
		ORDER BY r.updated_at LIMIT $3`

	rows, err := r.pool.Query(ctx, query, string(state), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired records: %w", err)
	}
	return collectRecords(rows)
}

// DeleteByIDs removes terminal records only.
func (r *DeliveryRecordRepo) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM delivery_records WHERE id = ANY($1) AND state IN ('DELIVERED', 'FAILED')`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountByState returns the number of records per state.
func (r *DeliveryRecordRepo) CountByState(ctx context.Context) (map[domain.DeliveryState]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT state, COUNT(*) FROM delivery_records GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.DeliveryState]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		counts[domain.DeliveryState(state)] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord returns nil, nil on pgx.ErrNoRows.
func scanRecord(row rowScanner) (*domain.DeliveryRecord, error) {
	var (
		rec                         domain.DeliveryRecord
		eventType, direction, state string
		endpoint                    string
		targetURL, targetMethod     *string
		payload                     []byte
	)
	err := row.Scan(
		&rec.ID, &rec.EventID, &eventType, &direction, &endpoint, &targetURL, &targetMethod,
		&payload, &state, &rec.Attempts, &rec.MaxAttempts, &rec.ScheduledAt, &rec.NextAttemptAt, &rec.DeliveredAt,
		&rec.ClaimToken, &rec.ClaimedAt, &rec.LastStatusCode, &rec.LastResponse, &rec.LastError, &rec.LastErrorCode,
		&rec.RedeliveryOf, &rec.CorrelationID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan delivery record: %w", err)
	}

	et, err := domain.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", rec.ID, err)
	}
	rec.EventType = et
	rec.Direction = domain.Direction(direction)
	rec.State = domain.DeliveryState(state)
	rec.Payload = payload
	if targetURL != nil {
		rec.Target = &domain.DeliveryTarget{URL: *targetURL, Endpoint: endpoint}
		if targetMethod != nil {
			rec.Target.Method = *targetMethod
		}
	}
	return &rec, nil
}

func collectRecords(rows pgx.Rows) ([]*domain.DeliveryRecord, error) {
	defer rows.Close()

	var recs []*domain.DeliveryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}
	return recs, nil
}

func targetColumns(t *domain.DeliveryTarget) (url, method *string) {
	if t == nil {
		return nil, nil
	}
	u, m := t.URL, t.Method
	return &u, &m
}
