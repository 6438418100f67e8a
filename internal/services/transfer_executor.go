package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
	"github.com/nosift/team-dh/pkg/dateutil"
	"github.com/nosift/team-dh/pkg/logger"
	"github.com/nosift/team-dh/pkg/metrics"
)

const defaultMaxTransferAttempts = 10

// ExecutorOption customises TransferExecutor behaviour.
type ExecutorOption func(*TransferExecutor)

// WithExecutorClock injects a custom clock primarily for testing.
func WithExecutorClock(clock func() time.Time) ExecutorOption {
	return func(e *TransferExecutor) {
		if clock != nil {
			e.now = clock
		}
	}
}

// WithEvictOldTeam removes the member from the old team before inviting to
// the new one. Off by default: eviction-first opens a window where the user
// holds no seat at all if the follow-up invite fails.
func WithEvictOldTeam(evict bool) ExecutorOption {
	return func(e *TransferExecutor) {
		e.evictOld = evict
	}
}

// WithMaxTransferAttempts sets the ceiling after which a lease is left in
// failed permanently and requires manual intervention.
func WithMaxTransferAttempts(max int) ExecutorOption {
	return func(e *TransferExecutor) {
		if max > 0 {
			e.maxAttempts = max
		}
	}
}

// WithExecutorTermMonths sets the provisional term used for the new invite
// cycle, clamped to 1..24 months.
func WithExecutorTermMonths(months int) ExecutorOption {
	return func(e *TransferExecutor) {
		e.termMonths = clampTermMonths(months)
	}
}

// TransferExecutor moves one due lease to a new team: mark transferring via
// CAS, pick candidates, verify live seat availability, and invite. The first
// successful invite wins and the lease starts a fresh pending cycle on the
// new team.
type TransferExecutor struct {
	store       *LeaseStore
	picker      *TeamPicker
	registry    *teams.Registry
	client      upstream.Client
	evictOld    bool
	maxAttempts int
	termMonths  int
	now         func() time.Time
	log         *zap.Logger
}

// NewTransferExecutor constructs a TransferExecutor.
func NewTransferExecutor(store *LeaseStore, picker *TeamPicker, registry *teams.Registry, client upstream.Client, opts ...ExecutorOption) (*TransferExecutor, error) {
	if store == nil || picker == nil || registry == nil || client == nil {
		return nil, errors.New("transfer executor: store, picker, registry, and client are required")
	}

	executor := &TransferExecutor{
		store:       store,
		picker:      picker,
		registry:    registry,
		client:      client,
		maxAttempts: defaultMaxTransferAttempts,
		termMonths:  1,
		now:         time.Now,
		log:         logger.WithModule("transfer"),
	}
	for _, opt := range opts {
		opt(executor)
	}
	return executor, nil
}

// MaxAttempts returns the configured retry ceiling.
func (e *TransferExecutor) MaxAttempts() int {
	return e.maxAttempts
}

// Execute attempts to transfer one lease. It returns true only when a new
// invite was sent and the lease moved onto its new team. A false return with
// a nil error means the lease did not qualify or another worker owns it.
func (e *TransferExecutor) Execute(ctx context.Context, lease *models.MemberLease, onlyIfDue bool) (bool, error) {
	if lease == nil {
		return false, errors.New("transfer executor: lease is required")
	}
	email := normalizeEmail(lease.Email)
	if email == "" {
		return false, nil
	}

	// Transfers never act on a lease still awaiting acceptance.
	if lease.JoinedAt == nil {
		return false, nil
	}
	switch lease.Status {
	case models.LeaseActive:
	case models.LeaseFailed:
		if lease.Attempts >= e.maxAttempts {
			return false, nil
		}
	default:
		return false, nil
	}

	now := e.now()
	if onlyIfDue && lease.ExpiresAt.After(now) {
		return false, nil
	}

	// Exclusive claim. Losing the race means another worker already owns
	// this lease; abort without side effects.
	claimed, err := e.store.MarkTransferring(ctx, email)
	if err != nil {
		return false, err
	}
	if !claimed {
		return false, nil
	}

	candidates, err := e.picker.Candidates(ctx, lease.TeamName, lease.TeamAccountID)
	if err != nil {
		return false, e.fail(ctx, lease, fmt.Sprintf("candidate selection failed: %v", err))
	}
	if len(candidates) == 0 {
		metrics.Transfers.WithLabelValues("skipped").Inc()
		return false, e.fail(ctx, lease, "no available new team (at least 2 teams must be configured)")
	}

	if e.evictOld {
		if err := e.evict(ctx, lease); err != nil {
			return false, e.fail(ctx, lease, err.Error())
		}
	}

	lastErr := ""
	for _, candidate := range candidates {
		// Seat counts are volatile under concurrent redemptions, so the
		// check is live per candidate rather than from the cached stats.
		stats, err := e.client.SeatStats(ctx, candidate)
		if err != nil {
			lastErr = fmt.Sprintf("seat check failed for %s: %v", candidate.Name, err)
			continue
		}
		if stats.Available() <= 0 {
			lastErr = fmt.Sprintf("no free seats on %s", candidate.Name)
			continue
		}

		outcome, err := e.client.Invite(ctx, candidate, []string{email})
		if err != nil {
			lastErr = fmt.Sprintf("invite to %s failed: %v", candidate.Name, err)
			continue
		}
		if len(outcome.Rejected) > 0 {
			lastErr = fmt.Sprintf("invite to %s rejected: %s", candidate.Name, outcome.Rejected[0].Reason)
			continue
		}

		expiresAt := dateutil.AddMonthsSameDay(now, e.termMonths)
		if err := e.store.TransferSuccess(ctx, email, candidate.Name, candidate.AccountID, expiresAt); err != nil {
			return false, fmt.Errorf("record transfer success: %w", err)
		}
		_ = e.store.AppendEvent(ctx, email, models.ActionTransferred, lease.TeamName, candidate.Name,
			"invite sent to new team, awaiting acceptance; term end will follow the actual join time")

		metrics.Transfers.WithLabelValues("moved").Inc()
		e.log.Info("lease transferred",
			zap.String("email", email),
			zap.String("from", lease.TeamName),
			zap.String("to", candidate.Name))
		return true, nil
	}

	if lastErr == "" {
		lastErr = "all candidates exhausted"
	}
	metrics.Transfers.WithLabelValues("failed").Inc()
	return false, e.fail(ctx, lease, lastErr)
}

// evict removes the member from the current team. Failure aborts the whole
// attempt so no seat is claimed while the old one could not be released.
func (e *TransferExecutor) evict(ctx context.Context, lease *models.MemberLease) error {
	oldTeam, ok := e.registry.Resolve(lease.TeamName)
	if !ok {
		return fmt.Errorf("old team configuration missing: %s", lease.TeamName)
	}

	if err := e.client.RemoveMember(ctx, oldTeam, lease.Email); err != nil {
		_ = e.store.AppendEvent(ctx, lease.Email, models.ActionLeaveOldFailed, lease.TeamName, "", err.Error())
		return fmt.Errorf("leaving old team failed: %v", err)
	}

	_ = e.store.AppendEvent(ctx, lease.Email, models.ActionLeftOldTeam, lease.TeamName, "", "removed from old team")
	return nil
}

// fail records a failed attempt with exponential backoff and the audit event.
func (e *TransferExecutor) fail(ctx context.Context, lease *models.MemberLease, message string) error {
	attempts := lease.Attempts + 1
	nextAttempt := dateutil.NextAttemptTime(e.now(), lease.Attempts)

	if attempts >= e.maxAttempts {
		message = fmt.Sprintf("%s (attempt %d/%d, giving up)", message, attempts, e.maxAttempts)
	}

	if err := e.store.TransferFailure(ctx, lease.Email, message, nextAttempt); err != nil {
		return fmt.Errorf("record transfer failure: %w", err)
	}
	_ = e.store.AppendEvent(ctx, lease.Email, models.ActionTransferFailed, lease.TeamName, "", message)

	e.log.Warn("transfer failed",
		zap.String("email", lease.Email),
		zap.String("team", lease.TeamName),
		zap.Int("attempts", attempts),
		zap.String("error", message))
	return nil
}
