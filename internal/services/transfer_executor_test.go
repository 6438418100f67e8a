package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/database/testutil"
	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
)

type executorEnv struct {
	store    *LeaseStore
	fake     *upstream.Fake
	executor *TransferExecutor
	db       *gorm.DB
	now      time.Time
}

func newExecutorEnv(t *testing.T, opts ...ExecutorOption) *executorEnv {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }

	store, err := NewLeaseStore(db, WithLeaseClock(clock))
	require.NoError(t, err)

	registry := testRegistry()
	picker, err := NewTeamPicker(db, registry, WithPickerClock(clock))
	require.NoError(t, err)

	fake := upstream.NewFake()
	opts = append([]ExecutorOption{WithExecutorClock(clock)}, opts...)
	executor, err := NewTransferExecutor(store, picker, registry, fake, opts...)
	require.NoError(t, err)

	return &executorEnv{store: store, fake: fake, executor: executor, db: db, now: now}
}

func (e *executorEnv) seedExpired(t *testing.T, email, team string) *models.MemberLease {
	t.Helper()
	ctx := context.Background()
	joined := e.now.Add(-31 * 24 * time.Hour)
	require.NoError(t, e.store.CreatePending(ctx, email, team, "acct-"+lcFirst(team), e.now))
	require.NoError(t, e.store.MarkJoined(ctx, email, joined, e.now.Add(-time.Hour)))

	lease, err := e.store.Get(ctx, email)
	require.NoError(t, err)
	return lease
}

func lcFirst(s string) string {
	switch s {
	case "Alpha":
		return "alpha"
	case "Beta":
		return "beta"
	}
	return s
}

func TestExecuteMovesExpiredLease(t *testing.T) {
	env := newExecutorEnv(t)
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 2}

	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.True(t, moved)

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeasePending, got.Status)
	require.Equal(t, "Beta", got.TeamName)
	require.Equal(t, 1, got.TransferCount)
	require.Nil(t, got.JoinedAt)

	require.Equal(t, []string{"Beta"}, env.fake.Invites)

	events, err := env.store.ListEvents(ctx, "a@example.com", 10)
	require.NoError(t, err)
	require.Equal(t, models.ActionTransferred, events[0].Action)
	require.Equal(t, "Alpha", events[0].FromTeam)
	require.Equal(t, "Beta", events[0].ToTeam)
}

func TestExecuteNoSeatsRecordsFailure(t *testing.T) {
	env := newExecutorEnv(t)
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 5}

	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.False(t, moved)

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeaseFailed, got.Status)
	require.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.NextAttemptAt)
	require.WithinDuration(t, env.now.Add(5*time.Minute), *got.NextAttemptAt, time.Second)
	require.Contains(t, got.LastError, "no free seats")
	require.Empty(t, env.fake.Invites)
}

func TestExecuteSkipsWhenNotDue(t *testing.T) {
	env := newExecutorEnv(t)
	ctx := context.Background()

	joined := env.now.Add(-time.Hour)
	require.NoError(t, env.store.CreatePending(ctx, "a@example.com", "Alpha", "acct-alpha", env.now.Add(time.Hour)))
	require.NoError(t, env.store.MarkJoined(ctx, "a@example.com", joined, env.now.Add(time.Hour)))
	lease, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)

	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.False(t, moved)

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeaseActive, got.Status, "a lease inside its term must not change")
}

func TestExecuteSkipsUnconfirmedLease(t *testing.T) {
	env := newExecutorEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.CreatePending(ctx, "a@example.com", "Alpha", "acct-alpha", env.now.Add(-time.Hour)))
	lease, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)

	moved, err := env.executor.Execute(ctx, lease, false)
	require.NoError(t, err)
	require.False(t, moved, "never transfer a lease that has not joined")
}

func TestExecuteStopsPastAttemptCeiling(t *testing.T) {
	env := newExecutorEnv(t, WithMaxTransferAttempts(2))
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 5}

	for i := 0; i < 2; i++ {
		lease, _ = env.store.Get(ctx, "a@example.com")
		moved, err := env.executor.Execute(ctx, lease, false)
		require.NoError(t, err)
		require.False(t, moved)
	}

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, 2, got.Attempts)
	require.Contains(t, got.LastError, "giving up")

	moved, err := env.executor.Execute(ctx, got, false)
	require.NoError(t, err)
	require.False(t, moved, "leases past the attempt ceiling are terminal")
}

func TestExecuteRetriesFailedLease(t *testing.T) {
	env := newExecutorEnv(t)
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 5}
	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.False(t, moved)

	// A seat frees up before the retry.
	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 2}

	lease, err = env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	moved, err = env.executor.Execute(ctx, lease, false)
	require.NoError(t, err)
	require.True(t, moved)

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "Beta", got.TeamName)
	require.Equal(t, 1, got.TransferCount)
}

func TestExecuteInviteErrorTriesNextCandidate(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }

	registry := teams.NewRegistry([]teams.Team{
		{Name: "Alpha", AccountID: "acct-a", Token: "t"},
		{Name: "Beta", AccountID: "acct-b", Token: "t"},
		{Name: "Gamma", AccountID: "acct-c", Token: "t"},
	})

	store, err := NewLeaseStore(db, WithLeaseClock(clock))
	require.NoError(t, err)
	picker, err := NewTeamPicker(db, registry, WithPickerClock(clock))
	require.NoError(t, err)

	fake := upstream.NewFake()
	fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 1}
	fake.Stats["Gamma"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 1}
	fake.InviteFunc = func(team teams.Team, emails []string) (upstream.InviteOutcome, error) {
		if team.Name == "Beta" {
			return upstream.InviteOutcome{}, errors.New("upstream 500")
		}
		return upstream.InviteOutcome{Accepted: emails}, nil
	}

	executor, err := NewTransferExecutor(store, picker, registry, fake, WithExecutorClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.CreatePending(ctx, "a@example.com", "Alpha", "acct-a", now))
	require.NoError(t, store.MarkJoined(ctx, "a@example.com", now.Add(-31*24*time.Hour), now.Add(-time.Hour)))
	lease, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)

	moved, err := executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.True(t, moved)

	got, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "Gamma", got.TeamName)
}

func TestExecuteEvictsOldTeamWhenEnabled(t *testing.T) {
	env := newExecutorEnv(t, WithEvictOldTeam(true))
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 2}

	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.True(t, moved)
	require.Equal(t, []string{"Alpha/a@example.com"}, env.fake.Removals)
}

func TestExecuteEvictFailureAbortsAttempt(t *testing.T) {
	env := newExecutorEnv(t, WithEvictOldTeam(true))
	ctx := context.Background()
	lease := env.seedExpired(t, "a@example.com", "Alpha")

	env.fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 2}
	env.fake.RemoveErr = errors.New("upstream down")

	moved, err := env.executor.Execute(ctx, lease, true)
	require.NoError(t, err)
	require.False(t, moved)

	got, err := env.store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, models.LeaseFailed, got.Status)
	require.Empty(t, env.fake.Invites, "no invite may go out when eviction fails")
}
