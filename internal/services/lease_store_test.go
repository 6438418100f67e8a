package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/database/testutil"
	"github.com/nosift/team-dh/internal/models"
)

func newTestStore(t *testing.T, clock func() time.Time) (*LeaseStore, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	opts := []LeaseOption{}
	if clock != nil {
		opts = append(opts, WithLeaseClock(clock))
	}
	store, err := NewLeaseStore(db, opts...)
	require.NoError(t, err)
	return store, db
}

func seedActiveLease(t *testing.T, store *LeaseStore, email, team string, joined, expires time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreatePending(ctx, email, team, "acct-"+team, expires))
	require.NoError(t, store.MarkJoined(ctx, email, joined, expires))
}

func TestCreatePendingResetsExistingCycle(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))

	require.NoError(t, store.CreatePending(ctx, "A@Example.com", "Beta", "acct-Beta", now.Add(2*time.Hour)))

	lease, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeasePending, lease.Status)
	require.Equal(t, "Beta", lease.TeamName)
	require.Nil(t, lease.JoinedAt)
	require.Zero(t, lease.Attempts)
}

func TestMarkTransferringIsExclusive(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now)

	first, err := store.MarkTransferring(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, first)

	second, err := store.MarkTransferring(ctx, "a@example.com")
	require.NoError(t, err)
	require.False(t, second, "second claim must lose the race")
}

func TestMarkTransferringAcceptsFailedRetry(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now)
	require.NoError(t, store.TransferFailure(ctx, "a@example.com", "no seats", now.Add(5*time.Minute)))

	claimed, err := store.MarkTransferring(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, claimed)
}

func TestTransferSuccessResetsCycle(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now)
	claimed, err := store.MarkTransferring(ctx, "a@example.com")
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.TransferSuccess(ctx, "a@example.com", "Beta", "acct-Beta", now.Add(time.Hour)))

	lease, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeasePending, lease.Status)
	require.Equal(t, "Beta", lease.TeamName)
	require.Equal(t, 1, lease.TransferCount)
	require.Nil(t, lease.JoinedAt)
	require.Zero(t, lease.Attempts)
}

func TestListDueHonorsGatesAndOrder(t *testing.T) {
	now := time.Now()
	store, _ := newTestStore(t, func() time.Time { return now })
	ctx := context.Background()

	// Overdue, no gate: due.
	seedActiveLease(t, store, "due-late@example.com", "Alpha", now.Add(-48*time.Hour), now.Add(-2*time.Hour))
	// Overdue but less so: due, sorts after the first.
	seedActiveLease(t, store, "due-soon@example.com", "Alpha", now.Add(-48*time.Hour), now.Add(-time.Hour))
	// Not yet expired.
	seedActiveLease(t, store, "fresh@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))
	// Overdue but backoff-gated.
	seedActiveLease(t, store, "gated@example.com", "Alpha", now.Add(-48*time.Hour), now.Add(-time.Hour))
	require.NoError(t, store.DeferJoinSync(ctx, "gated@example.com", now.Add(time.Hour), "wait"))
	// Failed past the attempt ceiling.
	seedActiveLease(t, store, "spent@example.com", "Alpha", now.Add(-48*time.Hour), now.Add(-time.Hour))
	for i := 0; i < 3; i++ {
		require.NoError(t, store.TransferFailure(ctx, "spent@example.com", "no seats", now.Add(-time.Minute)))
	}

	due, err := store.ListDue(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "due-late@example.com", due[0].Email)
	require.Equal(t, "due-soon@example.com", due[1].Email)
}

func TestForceExpireRequiresConfirmedLease(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreatePending(ctx, "pending@example.com", "Alpha", "acct", now.Add(time.Hour)))
	require.ErrorIs(t, store.ForceExpire(ctx, "pending@example.com"), ErrLeaseNotFound)

	seedActiveLease(t, store, "active@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, store.ForceExpire(ctx, "active@example.com"))

	due, err := store.ListDue(ctx, 10, 3)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "active@example.com", due[0].Email)
}

func TestCancelWritesEventAndIsIdempotentConflict(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))

	require.NoError(t, store.Cancel(ctx, "a@example.com", "user left"))
	require.ErrorIs(t, store.Cancel(ctx, "a@example.com", "again"), ErrLeaseConflict)

	lease, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeaseCancelled, lease.Status)

	events, err := store.ListEvents(ctx, "a@example.com", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.ActionCancelled, events[0].Action)
}

func TestDeleteCanPurgeEvents(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, store.AppendEvent(ctx, "a@example.com", models.ActionJoined, "Alpha", "", ""))

	require.NoError(t, store.Delete(ctx, "a@example.com", true))
	require.ErrorIs(t, store.Delete(ctx, "a@example.com", false), ErrLeaseNotFound)

	events, err := store.ListEvents(ctx, "a@example.com", 10)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestCountByStatus(t *testing.T) {
	store, _ := newTestStore(t, nil)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.CreatePending(ctx, "p@example.com", "Alpha", "acct", now.Add(time.Hour)))
	seedActiveLease(t, store, "a@example.com", "Alpha", now.Add(-time.Hour), now.Add(time.Hour))
	seedActiveLease(t, store, "b@example.com", "Beta", now.Add(-time.Hour), now.Add(time.Hour))

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[models.LeasePending])
	require.Equal(t, int64(2), counts[models.LeaseActive])
}
