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

// Sync outcome reasons. Batch counters are keyed by these.
const (
	SyncReasonSynced            = "synced"
	SyncReasonEmptyEmail        = "empty_email"
	SyncReasonLeaseNotFound     = "lease_not_found"
	SyncReasonNotPending        = "not_pending"
	SyncReasonTeamMissing       = "team_cfg_missing"
	SyncReasonInviteNotAccepted = "invite_not_accepted"
	SyncReasonInviteError       = "invite_error"
	SyncReasonMemberNoTime      = "member_no_time"
	SyncReasonMemberError       = "member_error"
	SyncReasonNotJoined         = "not_joined"
)

// deferDelays maps each retriable sync outcome to its re-check delay.
var deferDelays = map[string]time.Duration{
	SyncReasonInviteNotAccepted: 20 * time.Minute,
	SyncReasonInviteError:       time.Hour,
	SyncReasonMemberError:       time.Hour,
	SyncReasonMemberNoTime:      24 * time.Hour,
	SyncReasonNotJoined:         30 * time.Minute,
}

// invite statuses that count as an accepted seat.
var acceptedInviteStatuses = map[string]bool{
	"accepted": true, "completed": true, "done": true,
}

// SyncResult reports one join-sync pass over a single lease.
type SyncResult struct {
	Checked int    `json:"checked"`
	Synced  int    `json:"synced"`
	Reason  string `json:"reason"`
}

// SyncCounters aggregates a batch run for observability.
type SyncCounters struct {
	Checked           int `json:"checked"`
	Synced            int `json:"synced"`
	InviteErrors      int `json:"invite_errors"`
	InviteNotAccepted int `json:"invite_not_accepted"`
	MemberErrors      int `json:"member_errors"`
	MemberNoTime      int `json:"member_no_time"`
	NotJoined         int `json:"not_joined"`
	Skipped           int `json:"skipped"`
}

// JoinSyncOption customises JoinSyncService behaviour.
type JoinSyncOption func(*JoinSyncService)

// WithJoinSyncClock injects a custom clock primarily for testing.
func WithJoinSyncClock(clock func() time.Time) JoinSyncOption {
	return func(s *JoinSyncService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithTermMonths sets the lease term length, clamped to 1..24 months.
func WithTermMonths(months int) JoinSyncOption {
	return func(s *JoinSyncService) {
		s.termMonths = clampTermMonths(months)
	}
}

// WithApproxJoinTime allows using "now" as the join time when the member
// list confirms membership but carries no join-time field.
func WithApproxJoinTime(allow bool) JoinSyncOption {
	return func(s *JoinSyncService) {
		s.allowApprox = allow
	}
}

// JoinSyncService converts pending leases into active ones by discovering the
// real acceptance timestamp from the upstream invite and member lists. Every
// inconclusive outcome schedules a reason-specific re-check so polling does
// not hammer the upstream API.
type JoinSyncService struct {
	store       *LeaseStore
	registry    *teams.Registry
	client      upstream.Client
	termMonths  int
	allowApprox bool
	now         func() time.Time
	log         *zap.Logger
}

// NewJoinSyncService constructs a JoinSyncService.
func NewJoinSyncService(store *LeaseStore, registry *teams.Registry, client upstream.Client, opts ...JoinSyncOption) (*JoinSyncService, error) {
	if store == nil || registry == nil || client == nil {
		return nil, errors.New("join sync service: store, registry, and client are required")
	}

	service := &JoinSyncService{
		store:      store,
		registry:   registry,
		client:     client,
		termMonths: 1,
		now:        time.Now,
		log:        logger.WithModule("join-sync"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// SyncOne reconciles a single pending lease. recordEvents controls whether
// inconclusive outcomes are written to the audit trail (scheduler runs skip
// them to keep the trail readable).
func (s *JoinSyncService) SyncOne(ctx context.Context, email string, recordEvents bool) (SyncResult, error) {
	target := normalizeEmail(email)
	if target == "" {
		return SyncResult{Reason: SyncReasonEmptyEmail}, nil
	}

	lease, err := s.store.Get(ctx, target)
	if errors.Is(err, ErrLeaseNotFound) {
		return SyncResult{Reason: SyncReasonLeaseNotFound}, nil
	}
	if err != nil {
		return SyncResult{}, err
	}

	if lease.Status != models.LeasePending {
		return SyncResult{Reason: SyncReasonNotPending}, nil
	}

	team, ok := s.registry.Resolve(lease.TeamName)
	if !ok {
		// Configuration error: no retry is scheduled, the operator must
		// fix the team list and re-trigger.
		if recordEvents {
			_ = s.store.AppendEvent(ctx, target, models.ActionSyncSkip, lease.TeamName, "",
				"team configuration missing, cannot sync join time")
		}
		return SyncResult{Checked: 1, Reason: SyncReasonTeamMissing}, nil
	}

	joinedAt, reason := s.joinedAtFromInvites(ctx, team, lease, recordEvents)
	if joinedAt == nil && reason == "" {
		joinedAt, reason = s.joinedAtFromMembers(ctx, team, lease, recordEvents)
	}

	if joinedAt == nil {
		if reason == "" {
			reason = SyncReasonNotJoined
			message := "no evidence of membership in invites or member list"
			if recordEvents {
				_ = s.store.AppendEvent(ctx, target, models.ActionSyncNotJoined, lease.TeamName, "", message)
			}
			s.deferRecheck(ctx, target, reason, message)
		}
		metrics.JoinSyncResults.WithLabelValues("deferred").Inc()
		return SyncResult{Checked: 1, Reason: reason}, nil
	}

	expiresAt := dateutil.AddMonthsSameDay(*joinedAt, s.termMonths)
	if err := s.store.MarkJoined(ctx, target, *joinedAt, expiresAt); err != nil {
		return SyncResult{}, fmt.Errorf("mark joined: %w", err)
	}
	// The joined transition is always audited; recordEvents only thins out
	// the inconclusive outcomes.
	_ = s.store.AppendEvent(ctx, target, models.ActionJoined, lease.TeamName, "",
		fmt.Sprintf("join confirmed, term ends %s", expiresAt.Format("2006-01-02 15:04:05")))

	metrics.JoinSyncResults.WithLabelValues("joined").Inc()
	s.log.Info("lease promoted to active",
		zap.String("email", target),
		zap.String("team", lease.TeamName),
		zap.Time("joined_at", *joinedAt),
		zap.Time("expires_at", expiresAt))
	return SyncResult{Checked: 1, Synced: 1, Reason: SyncReasonSynced}, nil
}

// joinedAtFromInvites checks the invite list first. A non-empty reason means
// a deferral was scheduled and the member fallback must be skipped.
func (s *JoinSyncService) joinedAtFromInvites(ctx context.Context, team teams.Team, lease *models.MemberLease, recordEvents bool) (*time.Time, string) {
	email := lease.Email

	status, err := s.client.InviteStatusForEmail(ctx, team, email)
	if err != nil {
		message := fmt.Sprintf("invite list fetch failed: %v", err)
		if recordEvents {
			_ = s.store.AppendEvent(ctx, email, models.ActionSyncInviteError, lease.TeamName, "", message)
		}
		s.deferRecheck(ctx, email, SyncReasonInviteError, message)
		return nil, SyncReasonInviteError
	}

	if !status.Found {
		return nil, ""
	}

	if acceptedInviteStatuses[status.Status] {
		if status.Timestamp != "" {
			if ts, err := dateutil.ParseDatetimeLoose(status.Timestamp); err == nil {
				return &ts, ""
			}
		}
		// Accepted but no parsable timestamp: let the member list decide.
		return nil, ""
	}

	display := status.Status
	if display == "" {
		display = "unknown"
	}
	message := fmt.Sprintf("invite status=%s, not yet accepted", display)
	if recordEvents {
		_ = s.store.AppendEvent(ctx, email, models.ActionSyncInviteStatus, lease.TeamName, "", message)
	}
	s.deferRecheck(ctx, email, SyncReasonInviteNotAccepted, message)
	return nil, SyncReasonInviteNotAccepted
}

// joinedAtFromMembers is the fallback source when invites were inconclusive.
func (s *JoinSyncService) joinedAtFromMembers(ctx context.Context, team teams.Team, lease *models.MemberLease, recordEvents bool) (*time.Time, string) {
	email := lease.Email

	info, err := s.client.MemberInfoForEmail(ctx, team, email)
	if err != nil {
		message := fmt.Sprintf("member list fetch failed: %v", err)
		if recordEvents {
			_ = s.store.AppendEvent(ctx, email, models.ActionSyncMemberError, lease.TeamName, "", message)
		}
		s.deferRecheck(ctx, email, SyncReasonMemberError, message)
		return nil, SyncReasonMemberError
	}

	if !info.Found {
		return nil, ""
	}

	if info.JoinedAt != "" {
		if ts, err := dateutil.ParseDatetimeLoose(info.JoinedAt); err == nil {
			return &ts, ""
		}
	}

	if s.allowApprox {
		now := s.now()
		if recordEvents {
			_ = s.store.AppendEvent(ctx, email, models.ActionJoinedFallback, lease.TeamName, "",
				"member list has no join-time field, approximating with current time")
		}
		return &now, ""
	}

	message := "member list has no join-time field, lease stays pending"
	if recordEvents {
		_ = s.store.AppendEvent(ctx, email, models.ActionSyncMemberNoTime, lease.TeamName, "", message)
	}
	s.deferRecheck(ctx, email, SyncReasonMemberNoTime, message)
	return nil, SyncReasonMemberNoTime
}

func (s *JoinSyncService) deferRecheck(ctx context.Context, email, reason, message string) {
	delay, ok := deferDelays[reason]
	if !ok {
		delay = 30 * time.Minute
	}
	if err := s.store.DeferJoinSync(ctx, email, s.now().Add(delay), message); err != nil {
		s.log.Warn("defer join sync failed", zap.String("email", email), zap.Error(err))
	}
}

// SyncBatch reconciles pending leases awaiting join-sync, bounded by limit.
// includeNotDue bypasses the backoff gate for manually triggered runs. A
// failure on one lease never aborts the rest of the batch.
func (s *JoinSyncService) SyncBatch(ctx context.Context, limit int, includeNotDue, recordEvents bool) (SyncCounters, error) {
	leases, err := s.store.ListPendingJoin(ctx, limit, includeNotDue)
	if err != nil {
		return SyncCounters{}, fmt.Errorf("list pending leases: %w", err)
	}

	var counters SyncCounters
	for _, lease := range leases {
		result, err := s.SyncOne(ctx, lease.Email, recordEvents)
		if err != nil {
			s.log.Warn("join sync failed for lease",
				zap.String("email", lease.Email),
				zap.Error(err))
			metrics.JoinSyncResults.WithLabelValues("error").Inc()
			counters.Skipped++
			continue
		}

		counters.Checked += result.Checked
		counters.Synced += result.Synced

		switch result.Reason {
		case SyncReasonInviteError:
			counters.InviteErrors++
		case SyncReasonInviteNotAccepted:
			counters.InviteNotAccepted++
		case SyncReasonMemberError:
			counters.MemberErrors++
		case SyncReasonMemberNoTime:
			counters.MemberNoTime++
		case SyncReasonNotJoined:
			counters.NotJoined++
		case SyncReasonSynced, SyncReasonTeamMissing:
		default:
			counters.Skipped++
		}
	}
	return counters, nil
}

func clampTermMonths(months int) int {
	if months < 1 {
		return 1
	}
	if months > 24 {
		return 24
	}
	return months
}
