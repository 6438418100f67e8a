package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	testutil "github.com/nosift/team-dh/internal/database/testutil"
	"github.com/nosift/team-dh/internal/services"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
)

func newWorkerEnv(t *testing.T) (*Worker, *services.LeaseStore, *upstream.Fake, time.Time) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.Local)
	clock := func() time.Time { return now }

	registry := teams.NewRegistry([]teams.Team{
		{Name: "Alpha", AccountID: "acct-alpha", Token: "t"},
		{Name: "Beta", AccountID: "acct-beta", Token: "t"},
	})

	store, err := services.NewLeaseStore(db, services.WithLeaseClock(clock))
	require.NoError(t, err)
	picker, err := services.NewTeamPicker(db, registry, services.WithPickerClock(clock))
	require.NoError(t, err)

	fake := upstream.NewFake()
	executor, err := services.NewTransferExecutor(store, picker, registry, fake, services.WithExecutorClock(clock))
	require.NoError(t, err)
	joinSync, err := services.NewJoinSyncService(store, registry, fake, services.WithJoinSyncClock(clock))
	require.NoError(t, err)
	locks, err := services.NewLockService(db, services.WithLockClock(clock))
	require.NoError(t, err)
	transfers, err := services.NewTransferService(store, executor, joinSync, locks, services.WithTransferClock(clock))
	require.NoError(t, err)
	status, err := services.NewTeamStatusService(db, registry, fake, services.WithStatusClock(clock))
	require.NoError(t, err)
	abnormal, err := services.NewAbnormalChecker(db, store, executor, services.WithAbnormalClock(clock))
	require.NoError(t, err)

	worker := NewWorker(transfers, status, abnormal, WithNow(clock))
	return worker, store, fake, now
}

func TestGuardContainsPanickingJob(t *testing.T) {
	worker, _, _, _ := newWorkerEnv(t)

	fired := false
	require.NotPanics(t, func() {
		worker.guard("boom", func() { panic("tick blew up") })()
	})
	worker.guard("ok", func() { fired = true })()
	require.True(t, fired)
}

func TestRunOnceExecutesAllJobs(t *testing.T) {
	worker, store, fake, now := newWorkerEnv(t)
	ctx := context.Background()

	fake.Stats["Alpha"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 1}
	fake.Stats["Beta"] = upstream.SeatStats{SeatsEntitled: 5, SeatsInUse: 0}

	require.NoError(t, store.CreatePending(ctx, "a@example.com", "Alpha", "acct-alpha", now))
	require.NoError(t, store.MarkJoined(ctx, "a@example.com", now.Add(-31*24*time.Hour), now.Add(-time.Hour)))

	require.NoError(t, worker.RunOnce(ctx))

	lease, err := store.Get(ctx, "a@example.com")
	require.NoError(t, err)
	require.Equal(t, "Beta", lease.TeamName, "the sweep must move the expired lease")
}

func TestStartRegistersJobs(t *testing.T) {
	worker, _, _, _ := newWorkerEnv(t)

	c := cron.New(cron.WithLogger(cron.DiscardLogger))
	worker.cron = c

	require.NoError(t, worker.Start())
	require.Len(t, c.Entries(), 3)
	<-worker.Stop().Done()
}

func TestWorkerSkipsNilJobs(t *testing.T) {
	worker := NewWorker(nil, nil, nil)
	require.NoError(t, worker.Start())
	require.NoError(t, worker.RunOnce(context.Background()))
	<-worker.Stop().Done()
}
