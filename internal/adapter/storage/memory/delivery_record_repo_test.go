package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"payment-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newRec(eventID string, at time.Time) *domain.DeliveryRecord {
	return domain.NewDeliveryRecord(domain.DirectionInbound, eventID, domain.EventPaymentCaptureCreated,
		[]byte(`{}`), "corr-"+eventID, 3, at)
}

func TestDeliveryRecordRepo_CreateAndGet(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()
	rec := newRec("evt-1", t0)

	require.NoError(t, repo.Create(ctx, rec))

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	rec.State = domain.DeliveryStateFailed
	got, _ = repo.GetByID(ctx, rec.ID)
	assert.Equal(t, domain.DeliveryStatePending, got.State, "stored copy is isolated")

	missing, err := repo.GetByID(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDeliveryRecordRepo_UniquePerDirectionEventEndpoint(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, newRec("evt-1", t0)))
	assert.ErrorIs(t, repo.Create(ctx, newRec("evt-1", t0)), domain.ErrDuplicateEvent)

	out := domain.NewDeliveryRecord(domain.DirectionOutbound, "evt-1", domain.EventPaymentCaptureCreated, []byte(`{}`), "c", 3, t0)
	out.Target = &domain.DeliveryTarget{URL: "https://a.example", Endpoint: "a"}
	require.NoError(t, repo.Create(ctx, out), "other direction")

	other := out.Clone()
	other.ID = uuid.New()
	other.Target.Endpoint = "b"
	require.NoError(t, repo.Create(ctx, other), "other endpoint")

	again := out.Clone()
	again.ID = uuid.New()
	assert.ErrorIs(t, repo.Create(ctx, again), domain.ErrDuplicateEvent)

	redelivery := out.Clone()
	redelivery.ID = uuid.New()
	redelivery.RedeliveryOf = &out.ID
	require.NoError(t, repo.Create(ctx, redelivery), "redeliveries are exempt")

	got, err := repo.GetByEvent(ctx, domain.DirectionInbound, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.DirectionInbound, got.Direction)
}

func TestDeliveryRecordRepo_ClaimDueOrderAndLimit(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	late := newRec("late", t0.Add(2*time.Minute))
	early := newRec("early", t0)
	future := newRec("future", t0.Add(time.Hour))
	for _, r := range []*domain.DeliveryRecord{late, early, future} {
		require.NoError(t, repo.Create(ctx, r))
	}

	claimed, err := repo.ClaimDue(ctx, t0.Add(5*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, early.ID, claimed[0].ID, "oldest due first")
	assert.Equal(t, domain.DeliveryStateProcessing, claimed[0].State)
	assert.NotNil(t, claimed[0].ClaimToken)

	claimed, err = repo.ClaimDue(ctx, t0.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, late.ID, claimed[0].ID)

	claimed, err = repo.ClaimDue(ctx, t0.Add(5*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "future record not due, others already claimed")
}

func TestDeliveryRecordRepo_ConcurrentClaimsAreExclusive(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	const records = 50
	for i := 0; i < records; i++ {
		require.NoError(t, repo.Create(ctx, newRec(uuid.NewString(), t0)))
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		seen    = make(map[uuid.UUID]int)
		singles atomic.Int64
	)
	// not yet due, so only the explicit Claim below can take it
	target := newRec("single", t0.Add(time.Hour))
	require.NoError(t, repo.Create(ctx, target))

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Claim(ctx, target.ID, t0); err == nil {
				singles.Add(1)
			}
			for {
				claimed, err := repo.ClaimDue(ctx, t0, 3)
				if err != nil || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, c := range claimed {
					seen[c.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), singles.Load(), "exactly one Claim wins")
	assert.Len(t, seen, records)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s claimed more than once", id)
	}
}

func TestDeliveryRecordRepo_ClaimErrors(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	_, err := repo.Claim(ctx, uuid.New(), t0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec := newRec("evt-1", t0)
	require.NoError(t, repo.Create(ctx, rec))
	_, err = repo.Claim(ctx, rec.ID, t0)
	require.NoError(t, err)
	_, err = repo.Claim(ctx, rec.ID, t0)
	assert.ErrorIs(t, err, domain.ErrClaimConflict)
}

func TestDeliveryRecordRepo_SaveAttemptRequiresClaimToken(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()
	rec := newRec("evt-1", t0)
	require.NoError(t, repo.Create(ctx, rec))

	claimed, err := repo.Claim(ctx, rec.ID, t0)
	require.NoError(t, err)
	token := *claimed.ClaimToken

	stale := claimed.Clone()
	require.NoError(t, stale.MarkDelivered(t0, domain.AttemptOutcome{}))
	assert.ErrorIs(t, repo.SaveAttempt(ctx, stale, uuid.New()), domain.ErrClaimLost, "wrong token")

	require.NoError(t, claimed.MarkRetrying(t0, domain.AttemptOutcome{}, t0.Add(time.Minute)))
	require.NoError(t, repo.SaveAttempt(ctx, claimed, token))
	assert.ErrorIs(t, repo.SaveAttempt(ctx, stale, token), domain.ErrClaimLost, "claim already resolved")

	got, _ := repo.GetByID(ctx, rec.ID)
	assert.Equal(t, domain.DeliveryStateRetrying, got.State)
	assert.Equal(t, 1, got.Attempts)

	ghost := newRec("ghost", t0)
	assert.ErrorIs(t, repo.SaveAttempt(ctx, ghost, token), domain.ErrNotFound)
}

func TestDeliveryRecordRepo_ListStaleClaims(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()
	old := newRec("old", t0)
	fresh := newRec("fresh", t0)
	require.NoError(t, repo.Create(ctx, old))
	require.NoError(t, repo.Create(ctx, fresh))

	_, err := repo.Claim(ctx, old.ID, t0)
	require.NoError(t, err)
	_, err = repo.Claim(ctx, fresh.ID, t0.Add(2*time.Minute))
	require.NoError(t, err)

	stale, err := repo.ListStaleClaims(ctx, t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}

func terminal(t *testing.T, repo *DeliveryRecordRepo, eventID string, state domain.DeliveryState, at time.Time) *domain.DeliveryRecord {
	t.Helper()
	ctx := context.Background()
	rec := newRec(eventID, at)
	require.NoError(t, repo.Create(ctx, rec))
	claimed, err := repo.Claim(ctx, rec.ID, at)
	require.NoError(t, err)
	token := *claimed.ClaimToken
	if state == domain.DeliveryStateDelivered {
		require.NoError(t, claimed.MarkDelivered(at, domain.AttemptOutcome{}))
	} else {
		require.NoError(t, claimed.MarkFailed(at, domain.AttemptOutcome{}))
	}
	require.NoError(t, repo.SaveAttempt(ctx, claimed, token))
	return claimed
}

func TestDeliveryRecordRepo_ListExpiredAndDelete(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	oldDelivered := terminal(t, repo, "d-old", domain.DeliveryStateDelivered, t0.Add(-10*24*time.Hour))
	terminal(t, repo, "d-new", domain.DeliveryStateDelivered, t0.Add(-time.Hour))
	oldFailed := terminal(t, repo, "f-old", domain.DeliveryStateFailed, t0.Add(-40*24*time.Hour))
	pendingOld := newRec("p-old", t0.Add(-90*24*time.Hour))
	require.NoError(t, repo.Create(ctx, pendingOld))

	cutoff := t0.Add(-7 * 24 * time.Hour)
	expired, err := repo.ListExpired(ctx, domain.DeliveryStateDelivered, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, oldDelivered.ID, expired[0].ID)

	none, err := repo.ListExpired(ctx, domain.DeliveryStatePending, t0, 10)
	require.NoError(t, err)
	assert.Empty(t, none, "non-terminal states are never expired")

	n, err := repo.DeleteByIDs(ctx, []uuid.UUID{oldDelivered.ID, oldFailed.ID, pendingOld.ID, uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "pending record survives delete")

	counts, err := repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.DeliveryStateDelivered])
	assert.Equal(t, int64(1), counts[domain.DeliveryStatePending])
	assert.Zero(t, counts[domain.DeliveryStateFailed])
}

func TestDeliveryRecordRepo_ListByState(t *testing.T) {
	repo := NewDeliveryRecordRepo()
	ctx := context.Background()

	first := terminal(t, repo, "f1", domain.DeliveryStateFailed, t0)
	second := terminal(t, repo, "f2", domain.DeliveryStateFailed, t0.Add(time.Minute))
	terminal(t, repo, "d1", domain.DeliveryStateDelivered, t0)

	page, total, err := repo.ListByState(ctx, domain.DeliveryStateFailed, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 1)
	assert.Equal(t, second.ID, page[0].ID, "newest first")

	page, _, err = repo.ListByState(ctx, domain.DeliveryStateFailed, 10, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, first.ID, page[0].ID)

	page, total, err = repo.ListByState(ctx, domain.DeliveryStateFailed, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Empty(t, page)
}
