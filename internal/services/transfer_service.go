package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/pkg/logger"
	"github.com/nosift/team-dh/pkg/metrics"
)

// transferLockName serializes the periodic sweep across worker processes.
const transferLockName = "auto_transfer_monthly"

const transferLockTTL = 90 * time.Second

// OpResult is the structured outcome of an admin-triggered single-email
// operation. It always renders a sentence instead of raising, so the caller
// can show what happened.
type OpResult struct {
	Success bool           `json:"success"`
	Moved   int            `json:"moved"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// TransferOption customises TransferService behaviour.
type TransferOption func(*TransferService)

// WithTransferClock injects a custom clock primarily for testing.
func WithTransferClock(clock func() time.Time) TransferOption {
	return func(s *TransferService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSyncBatchLimit bounds how many pending leases each sweep reconciles
// before looking for due leases.
func WithSyncBatchLimit(limit int) TransferOption {
	return func(s *TransferService) {
		if limit > 0 {
			s.syncLimit = limit
		}
	}
}

// TransferService orchestrates the periodic sweep: under the named lock it
// runs join-sync first, then discovers due leases and hands each to the
// executor. It also backs the admin-triggered operations.
type TransferService struct {
	store     *LeaseStore
	executor  *TransferExecutor
	joinSync  *JoinSyncService
	locks     *LockService
	syncLimit int
	now       func() time.Time
	log       *zap.Logger
}

// NewTransferService constructs a TransferService.
func NewTransferService(store *LeaseStore, executor *TransferExecutor, joinSync *JoinSyncService, locks *LockService, opts ...TransferOption) (*TransferService, error) {
	if store == nil || executor == nil || joinSync == nil || locks == nil {
		return nil, errors.New("transfer service: store, executor, join sync, and locks are required")
	}

	service := &TransferService{
		store:     store,
		executor:  executor,
		joinSync:  joinSync,
		locks:     locks,
		syncLimit: 50,
		now:       time.Now,
		log:       logger.WithModule("transfer"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RunOnce performs one sweep: acquire the shared lock, reconcile join times,
// then transfer up to limit due leases. Returns how many leases moved. A
// held lock means another process is sweeping and this tick no-ops.
func (s *TransferService) RunOnce(ctx context.Context, limit int) (int, error) {
	holder := uuid.NewString()
	acquired, err := s.locks.Acquire(ctx, transferLockName, holder, transferLockTTL)
	if err != nil {
		return 0, fmt.Errorf("acquire transfer lock: %w", err)
	}
	if !acquired {
		return 0, nil
	}
	defer func() {
		if err := s.locks.Release(ctx, transferLockName, holder); err != nil {
			s.log.Warn("release transfer lock failed", zap.Error(err))
		}
	}()

	// Join-sync runs first so a lease that became joinable this tick can be
	// transferred in the same tick if already overdue.
	if _, err := s.joinSync.SyncBatch(ctx, s.syncLimit, false, false); err != nil {
		s.log.Warn("join sync pass failed", zap.Error(err))
	}

	due, err := s.store.ListDue(ctx, limit, s.executor.MaxAttempts())
	if err != nil {
		return 0, fmt.Errorf("list due leases: %w", err)
	}

	moved := 0
	for i := range due {
		ok, err := s.executor.Execute(ctx, &due[i], true)
		if err != nil {
			s.log.Warn("transfer attempt errored",
				zap.String("email", due[i].Email),
				zap.Error(err))
			continue
		}
		if ok {
			moved++
		}
	}

	s.refreshLeaseGauges(ctx)
	return moved, nil
}

// RunForEmail manually triggers a transfer for one lease, syncing its join
// time first.
func (s *TransferService) RunForEmail(ctx context.Context, email string) OpResult {
	target := normalizeEmail(email)
	if target == "" {
		return OpResult{Success: false, Message: "email is required"}
	}

	if _, err := s.joinSync.SyncOne(ctx, target, false); err != nil {
		s.log.Warn("pre-transfer join sync failed", zap.String("email", target), zap.Error(err))
	}

	lease, err := s.store.Get(ctx, target)
	if errors.Is(err, ErrLeaseNotFound) {
		return OpResult{Success: false, Message: "lease not found"}
	}
	if err != nil {
		return OpResult{Success: false, Message: err.Error()}
	}

	if lease.Status == models.LeasePending {
		return OpResult{
			Success: true,
			Message: "joined_at not recorded yet (pending); sync the join time or enter it manually before the lease can transfer",
			Data:    map[string]any{"status": string(models.LeasePending)},
		}
	}

	ok, err := s.executor.Execute(ctx, lease, true)
	if err != nil {
		return OpResult{Success: false, Message: err.Error()}
	}
	if ok {
		return OpResult{Success: true, Moved: 1, Message: "invite sent to new team (see lease events)"}
	}

	if lease.ExpiresAt.After(s.now()) {
		return OpResult{
			Success: true,
			Message: fmt.Sprintf("not yet due: expires_at=%s", lease.ExpiresAt.Format("2006-01-02 15:04:05")),
			Data:    map[string]any{"expires_at": lease.ExpiresAt},
		}
	}
	return OpResult{Success: true, Message: "not transferred: lease may be claimed by another worker or the attempt failed (see events/last error)"}
}

// SyncJoinedForEmail manually triggers join-sync for one lease.
func (s *TransferService) SyncJoinedForEmail(ctx context.Context, email string) OpResult {
	result, err := s.joinSync.SyncOne(ctx, email, true)
	if err != nil {
		return OpResult{Success: false, Message: err.Error()}
	}
	if result.Synced > 0 {
		return OpResult{Success: true, Moved: result.Synced, Message: "join time synced, lease is active"}
	}
	return OpResult{
		Success: true,
		Message: fmt.Sprintf("not synced: %s", result.Reason),
		Data:    map[string]any{"reason": result.Reason},
	}
}

// SyncJoinedBatch manually triggers a batch join-sync ignoring the backoff
// gate and returns the per-reason counters.
func (s *TransferService) SyncJoinedBatch(ctx context.Context, limit int) (SyncCounters, error) {
	return s.joinSync.SyncBatch(ctx, limit, true, true)
}

func (s *TransferService) refreshLeaseGauges(ctx context.Context) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return
	}
	for _, status := range []models.LeaseStatus{
		models.LeasePending, models.LeaseActive, models.LeaseTransferring,
		models.LeaseFailed, models.LeaseCancelled,
	} {
		metrics.ActiveLeases.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
