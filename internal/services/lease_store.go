package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
)

var (
	// ErrLeaseNotFound indicates no lease exists for the email.
	ErrLeaseNotFound = errors.New("lease: not found")
	// ErrLeaseConflict signals a lost CAS race; the caller must abort
	// without side effects.
	ErrLeaseConflict = errors.New("lease: concurrent update")
)

// LeaseOption customises LeaseStore behaviour.
type LeaseOption func(*LeaseStore)

// WithLeaseClock injects a custom clock primarily for testing.
func WithLeaseClock(clock func() time.Time) LeaseOption {
	return func(s *LeaseStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

// LeaseStore owns the member_leases and member_lease_events tables. All
// status transitions that race across processes are single conditional
// UPDATE statements whose affected-row count is the success signal.
type LeaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLeaseStore constructs a LeaseStore.
func NewLeaseStore(db *gorm.DB, opts ...LeaseOption) (*LeaseStore, error) {
	if db == nil {
		return nil, errors.New("lease store: db is required")
	}

	store := &LeaseStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Get fetches the lease for an email.
func (s *LeaseStore) Get(ctx context.Context, email string) (*models.MemberLease, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, ErrLeaseNotFound
	}

	var lease models.MemberLease
	err := s.db.WithContext(ctx).First(&lease, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLeaseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &lease, nil
}

// CreatePending inserts or resets the lease for a fresh invite cycle. Used by
// redemption; an existing row (any status) is taken over by the new cycle.
func (s *LeaseStore) CreatePending(ctx context.Context, email, teamName, accountID string, provisionalExpiry time.Time) error {
	email = normalizeEmail(email)
	if email == "" {
		return errors.New("lease store: email is required")
	}

	now := s.now()
	return s.db.WithContext(ctx).Exec(`
		INSERT INTO member_leases
			(email, team_name, team_account_id, created_at, invited_at, joined_at, expires_at,
			 status, transfer_count, attempts, next_attempt_at, last_error, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NULL, ?, 'pending', 0, 0, NULL, '', NULL, ?)
		ON CONFLICT(email) DO UPDATE SET
			team_name = excluded.team_name,
			team_account_id = excluded.team_account_id,
			invited_at = excluded.invited_at,
			joined_at = NULL,
			expires_at = excluded.expires_at,
			status = 'pending',
			attempts = 0,
			next_attempt_at = NULL,
			last_error = '',
			updated_at = excluded.updated_at`,
		email, teamName, accountID, now, now, provisionalExpiry, now).Error
}

// AdminUpsert writes operator-provided lease fields verbatim. joinedAt may be
// nil to record an invite that has not been accepted yet.
func (s *LeaseStore) AdminUpsert(ctx context.Context, lease *models.MemberLease) error {
	if lease == nil {
		return errors.New("lease store: lease is required")
	}
	lease.Email = normalizeEmail(lease.Email)
	if lease.Email == "" {
		return errors.New("lease store: email is required")
	}
	if !lease.Status.Valid() {
		return fmt.Errorf("lease store: invalid status %q", lease.Status)
	}

	now := s.now()
	lease.UpdatedAt = now
	if lease.CreatedAt.IsZero() {
		lease.CreatedAt = now
	}

	return s.db.WithContext(ctx).Exec(`
		INSERT INTO member_leases
			(email, team_name, team_account_id, created_at, invited_at, joined_at, expires_at,
			 status, transfer_count, attempts, next_attempt_at, last_error, last_synced_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, NULL, '', NULL, ?)
		ON CONFLICT(email) DO UPDATE SET
			team_name = excluded.team_name,
			team_account_id = excluded.team_account_id,
			invited_at = excluded.invited_at,
			joined_at = excluded.joined_at,
			expires_at = excluded.expires_at,
			status = excluded.status,
			attempts = 0,
			next_attempt_at = NULL,
			last_error = '',
			updated_at = excluded.updated_at`,
		lease.Email, lease.TeamName, lease.TeamAccountID, lease.CreatedAt, lease.InvitedAt,
		lease.JoinedAt, lease.ExpiresAt, lease.Status, now).Error
}

// MarkTransferring performs the exclusive transition into the transferring
// state. Only leases currently active, or failed awaiting a retry, qualify;
// a zero row count means another worker already owns the lease.
func (s *LeaseStore) MarkTransferring(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, errors.New("lease store: email is required")
	}

	result := s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET status = 'transferring', updated_at = ?
		WHERE email = ? AND status IN ('active', 'failed')`,
		s.now(), email)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TransferSuccess moves the lease onto its new team: back to pending with a
// fresh invite cycle and the transfer counter bumped.
func (s *LeaseStore) TransferSuccess(ctx context.Context, email, newTeam, newAccountID string, provisionalExpiry time.Time) error {
	email = normalizeEmail(email)
	now := s.now()
	return s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET team_name = ?,
			team_account_id = ?,
			invited_at = ?,
			joined_at = NULL,
			expires_at = ?,
			status = 'pending',
			transfer_count = transfer_count + 1,
			attempts = 0,
			next_attempt_at = NULL,
			last_error = '',
			updated_at = ?
		WHERE email = ?`,
		newTeam, newAccountID, now, provisionalExpiry, now, email).Error
}

// TransferFailure records a failed attempt: attempts increments, the backoff
// gate is set, and the lease lands in failed (retriable until the scheduler
// gives up past its attempt ceiling).
func (s *LeaseStore) TransferFailure(ctx context.Context, email, message string, nextAttempt time.Time) error {
	email = normalizeEmail(email)
	return s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET status = 'failed',
			attempts = attempts + 1,
			next_attempt_at = ?,
			last_error = ?,
			updated_at = ?
		WHERE email = ?`,
		nextAttempt, message, s.now(), email).Error
}

// MarkJoined promotes a pending lease to active with the discovered join
// time and the computed term end, resetting retry bookkeeping.
func (s *LeaseStore) MarkJoined(ctx context.Context, email string, joinedAt, expiresAt time.Time) error {
	email = normalizeEmail(email)
	now := s.now()
	return s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET joined_at = ?,
			expires_at = ?,
			status = 'active',
			attempts = 0,
			next_attempt_at = NULL,
			last_error = '',
			last_synced_at = ?,
			updated_at = ?
		WHERE email = ?`,
		joinedAt, expiresAt, now, now, email).Error
}

// DeferJoinSync schedules the next reconciliation attempt for a pending
// lease and records why this one yielded nothing.
func (s *LeaseStore) DeferJoinSync(ctx context.Context, email string, nextAttempt time.Time, lastError string) error {
	email = normalizeEmail(email)
	now := s.now()
	return s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET next_attempt_at = ?,
			last_error = ?,
			last_synced_at = ?,
			updated_at = ?
		WHERE email = ?`,
		nextAttempt, lastError, now, now, email).Error
}

// ListDue returns leases ready for transfer: confirmed leases whose term has
// elapsed, plus failed leases still under the attempt ceiling, both honoring
// the next_attempt_at gate. Ordered by term end so the longest-overdue lease
// goes first.
func (s *LeaseStore) ListDue(ctx context.Context, limit, maxAttempts int) ([]models.MemberLease, error) {
	if limit <= 0 {
		limit = 20
	}

	now := s.now()
	var leases []models.MemberLease
	err := s.db.WithContext(ctx).
		Where(`joined_at IS NOT NULL
			AND expires_at <= ?
			AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
			AND (status = 'active' OR (status = 'failed' AND attempts < ?))`,
			now, now, maxAttempts).
		Order("expires_at ASC").
		Limit(limit).
		Find(&leases).Error
	return leases, err
}

// ListPendingJoin returns pending leases awaiting join-sync. includeNotDue
// bypasses the next_attempt_at gate for manually triggered runs.
func (s *LeaseStore) ListPendingJoin(ctx context.Context, limit int, includeNotDue bool) ([]models.MemberLease, error) {
	if limit <= 0 {
		limit = 50
	}

	query := s.db.WithContext(ctx).
		Where("status = ? AND joined_at IS NULL", models.LeasePending)
	if !includeNotDue {
		query = query.Where("next_attempt_at IS NULL OR next_attempt_at <= ?", s.now())
	}

	var leases []models.MemberLease
	err := query.Order("updated_at DESC").Limit(limit).Find(&leases).Error
	return leases, err
}

// LeaseFilter narrows List results.
type LeaseFilter struct {
	Status   models.LeaseStatus
	TeamName string
	Limit    int
	Offset   int
}

// List returns leases for the admin surface, newest activity first.
func (s *LeaseStore) List(ctx context.Context, filter LeaseFilter) ([]models.MemberLease, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.MemberLease{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.TeamName != "" {
		query = query.Where("team_name = ?", filter.TeamName)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var leases []models.MemberLease
	err := query.Order("updated_at DESC").Limit(limit).Offset(filter.Offset).Find(&leases).Error
	return leases, total, err
}

// ForceExpire pulls a confirmed lease's term end to now so the next sweep
// transfers it. Debug/admin only.
func (s *LeaseStore) ForceExpire(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	now := s.now()
	result := s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET expires_at = ?, next_attempt_at = NULL, updated_at = ?
		WHERE email = ? AND status = 'active' AND joined_at IS NOT NULL`,
		now, now, email)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeaseNotFound
	}
	return nil
}

// Cancel marks the lease cancelled and records the reason.
func (s *LeaseStore) Cancel(ctx context.Context, email, message string) error {
	email = normalizeEmail(email)

	lease, err := s.Get(ctx, email)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).Exec(`
		UPDATE member_leases
		SET status = 'cancelled', next_attempt_at = NULL, updated_at = ?
		WHERE email = ? AND status != 'cancelled'`,
		s.now(), email)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrLeaseConflict
	}

	return s.AppendEvent(ctx, email, models.ActionCancelled, lease.TeamName, "", message)
}

// Delete removes the lease and, optionally, its event history.
func (s *LeaseStore) Delete(ctx context.Context, email string, purgeEvents bool) error {
	email = normalizeEmail(email)
	if email == "" {
		return ErrLeaseNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.MemberLease{}, "email = ?", email)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrLeaseNotFound
		}
		if purgeEvents {
			return tx.Delete(&models.LeaseEvent{}, "email = ?", email).Error
		}
		return nil
	})
}

// AppendEvent writes one audit record for the lease.
func (s *LeaseStore) AppendEvent(ctx context.Context, email string, action models.LeaseAction, fromTeam, toTeam, message string) error {
	event := models.LeaseEvent{
		Email:     normalizeEmail(email),
		Action:    action,
		FromTeam:  fromTeam,
		ToTeam:    toTeam,
		Message:   message,
		CreatedAt: s.now(),
	}
	return s.db.WithContext(ctx).Create(&event).Error
}

// ListEvents returns the newest events for an email.
func (s *LeaseStore) ListEvents(ctx context.Context, email string, limit int) ([]models.LeaseEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var events []models.LeaseEvent
	err := s.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// CountByStatus aggregates lease counts for the dashboard and metrics.
func (s *LeaseStore) CountByStatus(ctx context.Context) (map[models.LeaseStatus]int64, error) {
	type row struct {
		Status models.LeaseStatus
		Total  int64
	}

	var rows []row
	err := s.db.WithContext(ctx).Model(&models.MemberLease{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.LeaseStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Total
	}
	return counts, nil
}

// ListActiveOnTeams returns confirmed leases held on any of the given teams.
// Used by the abnormal-team check.
func (s *LeaseStore) ListActiveOnTeams(ctx context.Context, teamNames []string) ([]models.MemberLease, error) {
	if len(teamNames) == 0 {
		return nil, nil
	}

	var leases []models.MemberLease
	err := s.db.WithContext(ctx).
		Where("status = ? AND joined_at IS NOT NULL AND team_name IN ?", models.LeaseActive, teamNames).
		Find(&leases).Error
	return leases, err
}

// EarliestJoined returns the earliest joined_at ever recorded on a team, or
// nil when no lease has joined there.
func (s *LeaseStore) EarliestJoined(ctx context.Context, teamName string) (*time.Time, error) {
	var lease models.MemberLease
	err := s.db.WithContext(ctx).
		Where("team_name = ? AND joined_at IS NOT NULL", teamName).
		Order("joined_at ASC").
		First(&lease).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lease.JoinedAt, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
