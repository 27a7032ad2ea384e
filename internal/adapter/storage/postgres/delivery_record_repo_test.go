package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRecord() *domain.DeliveryRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := domain.NewDeliveryRecord(domain.DirectionOutbound, "evt-pg-1", domain.EventPaymentRefundCreated,
		[]byte(`{"refund":"r-1"}`), "corr-pg-1", 5, now)
	rec.Target = &domain.DeliveryTarget{URL: "https://merchant.example.com/hooks", Method: "POST", Endpoint: "orders"}
	return rec
}

func recordColumnNames() []string {
	return []string{"id", "event_id", "event_type", "direction", "endpoint", "target_url", "target_method",
		"payload", "state", "attempts", "max_attempts", "scheduled_at", "next_attempt_at", "delivered_at",
		"claim_token", "claimed_at", "last_status_code", "last_response", "last_error", "last_error_code",
		"redelivery_of", "correlation_id", "created_at", "updated_at"}
}

func addRecordRow(rows *pgxmock.Rows, rec *domain.DeliveryRecord) *pgxmock.Rows {
	var url, method *string
	if rec.Target != nil {
		url, method = &rec.Target.URL, &rec.Target.Method
	}
	return rows.AddRow(
		rec.ID, rec.EventID, rec.EventType.String(), string(rec.Direction), rec.EndpointName(), url, method,
		[]byte(rec.Payload), string(rec.State), rec.Attempts, rec.MaxAttempts, rec.ScheduledAt, rec.NextAttemptAt, rec.DeliveredAt,
		rec.ClaimToken, rec.ClaimedAt, rec.LastStatusCode, rec.LastResponse, rec.LastError, rec.LastErrorCode,
		rec.RedeliveryOf, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt,
	)
}

func recordRows(recs ...*domain.DeliveryRecord) *pgxmock.Rows {
	rows := pgxmock.NewRows(recordColumnNames())
	for _, rec := range recs {
		addRecordRow(rows, rec)
	}
	return rows
}

func TestDeliveryRecordRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	rec := newTestRecord()

	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs(rec.ID, rec.EventID, "payment.refund.created", "OUTBOUND", "orders",
			pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(rec.Payload), "PENDING", 0, 5,
			rec.ScheduledAt, rec.NextAttemptAt, rec.RedeliveryOf, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_Create_UniqueViolation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)

	mock.ExpectExec("INSERT INTO delivery_records").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_delivery_records_event"})

	err = repo.Create(context.Background(), newTestRecord())
	assert.ErrorIs(t, err, domain.ErrDuplicateEvent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_Create_OtherError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	mock.ExpectExec("INSERT INTO delivery_records").WillReturnError(errors.New("conn reset"))

	err = repo.Create(context.Background(), newTestRecord())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDuplicateEvent)
	assert.Contains(t, err.Error(), "insert delivery record")
}

func TestDeliveryRecordRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	rec := newTestRecord()

	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WithArgs(rec.ID).
		WillReturnRows(recordRows(rec))

	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, domain.EventPaymentRefundCreated, got.EventType)
	assert.Equal(t, domain.DirectionOutbound, got.Direction)
	assert.Equal(t, domain.DeliveryStatePending, got.State)
	require.NotNil(t, got.Target)
	assert.Equal(t, "orders", got.Target.Endpoint)
	assert.Equal(t, "https://merchant.example.com/hooks", got.Target.URL)
	assert.JSONEq(t, `{"refund":"r-1"}`, string(got.Payload))
	assert.NoError(t, got.CheckInvariants())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_PayloadBytesAreVerbatim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	rec := newTestRecord()
	raw := []byte("{ \"refund\": \"r-1\",\n  \"amount\": 45.00, \"refund\": \"r-2\" }")
	rec.Payload = raw

	mock.ExpectExec("INSERT INTO delivery_records").
		WithArgs(rec.ID, rec.EventID, "payment.refund.created", "OUTBOUND", "orders",
			pgxmock.AnyArg(), pgxmock.AnyArg(), raw, "PENDING", 0, 5,
			rec.ScheduledAt, rec.NextAttemptAt, rec.RedeliveryOf, rec.CorrelationID, rec.CreatedAt, rec.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WithArgs(rec.ID).
		WillReturnRows(recordRows(rec))

	require.NoError(t, repo.Create(context.Background(), rec))
	got, err := repo.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, string(raw), string(got.Payload), "whitespace, key order and repeated keys survive")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WillReturnRows(pgxmock.NewRows(recordColumnNames()))

	got, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_GetByEvent_InboundHasNoTarget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	rec := domain.NewDeliveryRecord(domain.DirectionInbound, "n-1", domain.EventCustomerCreated, []byte(`{}`), "c", 5, time.Now().UTC())

	mock.ExpectQuery("redelivery_of IS NULL").
		WithArgs("INBOUND", "n-1").
		WillReturnRows(recordRows(rec))

	got, err := repo.GetByEvent(context.Background(), domain.DirectionInbound, "n-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.Target)
	assert.Equal(t, "", got.EndpointName())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_ClaimDue(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	a, b := newTestRecord(), newTestRecord()
	for _, rec := range []*domain.DeliveryRecord{a, b} {
		require.NoError(t, rec.Claim(now, uuid.New()))
	}

	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(now, 10).
		WillReturnRows(recordRows(a, b))

	recs, err := repo.ClaimDue(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, domain.DeliveryStateProcessing, rec.State)
		assert.NotNil(t, rec.ClaimToken)
		assert.Nil(t, rec.NextAttemptAt)
	}
	assert.NotEqual(t, *recs[0].ClaimToken, *recs[1].ClaimToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_Claim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := newTestRecord()
	claimed := rec.Clone()
	require.NoError(t, claimed.Claim(now, uuid.New()))

	mock.ExpectQuery(`UPDATE delivery_records r\s+SET state = 'PROCESSING'`).
		WithArgs(rec.ID, pgxmock.AnyArg(), now).
		WillReturnRows(recordRows(claimed))

	got, err := repo.Claim(context.Background(), rec.ID, now)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateProcessing, got.State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_Claim_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	now := time.Now().UTC()
	rec := newTestRecord()
	require.NoError(t, rec.Claim(now, uuid.New()))

	mock.ExpectQuery(`UPDATE delivery_records r`).
		WillReturnRows(pgxmock.NewRows(recordColumnNames()))
	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WithArgs(rec.ID).
		WillReturnRows(recordRows(rec))

	_, err = repo.Claim(context.Background(), rec.ID, now)
	assert.ErrorIs(t, err, domain.ErrClaimConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_Claim_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)

	mock.ExpectQuery(`UPDATE delivery_records r`).
		WillReturnRows(pgxmock.NewRows(recordColumnNames()))
	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WillReturnRows(pgxmock.NewRows(recordColumnNames()))

	_, err = repo.Claim(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_SaveAttempt(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	now := time.Now().UTC().Truncate(time.Microsecond)
	rec := newTestRecord()
	token := uuid.New()
	require.NoError(t, rec.Claim(now, token))
	code := 200
	require.NoError(t, rec.MarkDelivered(now, domain.AttemptOutcome{StatusCode: &code, Response: "ok"}))

	mock.ExpectExec(`UPDATE delivery_records\s+SET state = \$1`).
		WithArgs("DELIVERED", 1, rec.NextAttemptAt, rec.DeliveredAt, rec.ClaimToken, rec.ClaimedAt,
			rec.LastStatusCode, rec.LastResponse, rec.LastError, rec.LastErrorCode, rec.UpdatedAt, rec.ID, token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.SaveAttempt(context.Background(), rec, token))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_SaveAttempt_ClaimLost(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	now := time.Now().UTC()
	rec := newTestRecord()
	require.NoError(t, rec.Claim(now, uuid.New()))
	stored := rec.Clone()
	require.NoError(t, rec.MarkFailed(now, domain.AttemptOutcome{Err: "boom"}))

	mock.ExpectExec(`UPDATE delivery_records`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT .+ FROM delivery_records r WHERE r.id").
		WillReturnRows(recordRows(stored))

	err = repo.SaveAttempt(context.Background(), rec, uuid.New())
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_ListByState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	rec := newTestRecord()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM delivery_records WHERE state`).
		WithArgs("FAILED").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))
	mock.ExpectQuery(`ORDER BY r.updated_at DESC LIMIT \$2 OFFSET \$3`).
		WithArgs("FAILED", 1, 2).
		WillReturnRows(recordRows(rec))

	recs, total, err := repo.ListByState(context.Background(), domain.DeliveryStateFailed, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)
	assert.Len(t, recs, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_ListExpired_SkipsNonTerminal(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)

	recs, err := repo.ListExpired(context.Background(), domain.DeliveryStateRetrying, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query for non-terminal states")
}

func TestDeliveryRecordRepo_DeleteByIDs(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)
	ids := []uuid.UUID{uuid.New(), uuid.New()}

	mock.ExpectExec(`DELETE FROM delivery_records WHERE id = ANY\(\$1\) AND state IN`).
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	n, err := repo.DeleteByIDs(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryRecordRepo_CountByState(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryRecordRepo(mock)

	mock.ExpectQuery(`GROUP BY state`).
		WillReturnRows(pgxmock.NewRows([]string{"state", "count"}).
			AddRow("PENDING", int64(3)).
			AddRow("FAILED", int64(1)))

	counts, err := repo.CountByState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.DeliveryStatePending])
	assert.Equal(t, int64(1), counts[domain.DeliveryStateFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
