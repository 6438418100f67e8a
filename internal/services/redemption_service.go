package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
	"github.com/nosift/team-dh/pkg/dateutil"
	"github.com/nosift/team-dh/pkg/logger"
	"github.com/nosift/team-dh/pkg/metrics"
)

const (
	defaultIPRateLimit  = 5
	ipRateLimitWindow   = time.Hour
	redeemReserveTTL    = 2 * time.Minute
)

var (
	// ErrInvalidEmail indicates the submitted address failed validation.
	ErrInvalidEmail = errors.New("redeem: invalid email address")
	// ErrAlreadyRedeemed indicates the email already holds a lease.
	ErrAlreadyRedeemed = errors.New("redeem: email has already redeemed a code")
	// ErrRateLimited indicates the client IP exceeded the hourly budget.
	ErrRateLimited = errors.New("redeem: too many redemptions from this address, try again later")
	// ErrNoSeats indicates the code's team has no free seats right now.
	ErrNoSeats = errors.New("redeem: no seats available on the team right now")
	// ErrUnknownTeam indicates the code points at an unconfigured team.
	ErrUnknownTeam = errors.New("redeem: code is bound to an unknown team")
)

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)

// RedemptionOption customises RedemptionService behaviour.
type RedemptionOption func(*RedemptionService)

// WithRedemptionClock injects a custom clock primarily for testing.
func WithRedemptionClock(clock func() time.Time) RedemptionOption {
	return func(s *RedemptionService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithIPRateLimit overrides the hourly per-IP redemption budget.
func WithIPRateLimit(limit int) RedemptionOption {
	return func(s *RedemptionService) {
		if limit > 0 {
			s.ipLimit = limit
		}
	}
}

// WithRedemptionTermMonths sets the lease term used for provisional expiry.
func WithRedemptionTermMonths(months int) RedemptionOption {
	return func(s *RedemptionService) {
		s.termMonths = clampTermMonths(months)
	}
}

// RedemptionService drives the public redeem flow: validate, reserve the
// code, confirm a free seat, send the invite, then burn the use and open a
// pending lease for the email.
type RedemptionService struct {
	db       *gorm.DB
	codes    *CodeService
	store    *LeaseStore
	registry *teams.Registry
	client     upstream.Client
	ipLimit    int
	termMonths int
	now        func() time.Time
	log      *zap.Logger
}

// NewRedemptionService constructs a RedemptionService.
func NewRedemptionService(db *gorm.DB, codes *CodeService, store *LeaseStore, registry *teams.Registry, client upstream.Client, opts ...RedemptionOption) (*RedemptionService, error) {
	if db == nil || codes == nil || store == nil || registry == nil || client == nil {
		return nil, errors.New("redemption service: db, codes, store, registry, and client are required")
	}

	service := &RedemptionService{
		db:         db,
		codes:      codes,
		store:      store,
		registry:   registry,
		client:     client,
		ipLimit:    defaultIPRateLimit,
		termMonths: 1,
		now:        time.Now,
		log:        logger.WithModule("redemption"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RedeemResult reports a successful redemption to the caller.
type RedeemResult struct {
	Email    string `json:"email"`
	TeamName string `json:"team_name"`
	Message  string `json:"message"`
}

// Redeem runs the full redemption flow for one email and code.
func (s *RedemptionService) Redeem(ctx context.Context, codeValue, email, clientIP string) (*RedeemResult, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		metrics.Redemptions.WithLabelValues("invalid_email").Inc()
		return nil, ErrInvalidEmail
	}

	if err := s.checkIPBudget(ctx, clientIP); err != nil {
		metrics.Redemptions.WithLabelValues("rate_limited").Inc()
		return nil, err
	}
	if err := s.checkEmailFresh(ctx, email); err != nil {
		metrics.Redemptions.WithLabelValues("duplicate").Inc()
		return nil, err
	}

	holder := uuid.NewString()
	code, err := s.codes.Reserve(ctx, codeValue, holder, redeemReserveTTL)
	if err != nil {
		metrics.Redemptions.WithLabelValues("code_rejected").Inc()
		return nil, err
	}

	team, ok := s.registry.Resolve(code.TeamName)
	if !ok || !team.Usable() {
		s.releaseQuietly(ctx, code.Code, holder)
		metrics.Redemptions.WithLabelValues("error").Inc()
		return nil, ErrUnknownTeam
	}

	// Confirm a seat is actually free before spending the code.
	stats, err := s.client.SeatStats(ctx, team)
	if err != nil {
		s.releaseQuietly(ctx, code.Code, holder)
		metrics.Redemptions.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("check seats: %w", err)
	}
	if stats.Available() <= 0 {
		s.releaseQuietly(ctx, code.Code, holder)
		metrics.Redemptions.WithLabelValues("no_seats").Inc()
		return nil, ErrNoSeats
	}

	outcome, err := s.client.Invite(ctx, team, []string{email})
	if err != nil {
		s.releaseQuietly(ctx, code.Code, holder)
		s.recordRedemption(ctx, code, email, clientIP, models.RedemptionFailed, err.Error())
		metrics.Redemptions.WithLabelValues("invite_failed").Inc()
		return nil, fmt.Errorf("send invite: %w", err)
	}
	if len(outcome.Rejected) > 0 {
		reason := outcome.Rejected[0].Reason
		s.releaseQuietly(ctx, code.Code, holder)
		s.recordRedemption(ctx, code, email, clientIP, models.RedemptionFailed, reason)
		metrics.Redemptions.WithLabelValues("invite_failed").Inc()
		return nil, fmt.Errorf("send invite: %s", reason)
	}

	consumed, err := s.codes.Consume(ctx, code.Code, holder)
	if err != nil || !consumed {
		// The invite is already out; log loudly but do not fail the user.
		s.log.Error("failed to consume reserved code after invite",
			zap.String("code", code.Code),
			zap.String("email", email),
			zap.Error(err))
	}

	provisional := dateutil.AddMonthsSameDay(s.now(), s.termMonths)
	if err := s.store.CreatePending(ctx, email, team.Name, team.AccountID, provisional); err != nil {
		s.log.Error("failed to create lease after invite",
			zap.String("email", email),
			zap.String("team", team.Name),
			zap.Error(err))
	} else {
		_ = s.store.AppendEvent(ctx, email, models.ActionCreated, "", team.Name, "redeemed code "+code.Code)
		_ = s.store.AppendEvent(ctx, email, models.ActionInvited, "", team.Name, "")
	}
	s.recordRedemption(ctx, code, email, clientIP, models.RedemptionSent, "")

	metrics.Redemptions.WithLabelValues("success").Inc()
	s.log.Info("redeemed code",
		zap.String("email", email),
		zap.String("team", team.Name),
		zap.String("code", code.Code))

	return &RedeemResult{
		Email:    email,
		TeamName: team.Name,
		Message:  "invite sent, check your inbox",
	}, nil
}

func (s *RedemptionService) checkIPBudget(ctx context.Context, clientIP string) error {
	clientIP = strings.TrimSpace(clientIP)
	if clientIP == "" {
		return nil
	}

	var count int64
	since := s.now().Add(-ipRateLimitWindow)
	err := s.db.WithContext(ctx).Model(&models.Redemption{}).
		Where("ip_address = ? AND redeemed_at > ?", clientIP, since).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count >= int64(s.ipLimit) {
		return ErrRateLimited
	}
	return nil
}

func (s *RedemptionService) checkEmailFresh(ctx context.Context, email string) error {
	if _, err := s.store.Get(ctx, email); err == nil {
		return ErrAlreadyRedeemed
	} else if !errors.Is(err, ErrLeaseNotFound) {
		return err
	}

	var count int64
	err := s.db.WithContext(ctx).Model(&models.Redemption{}).
		Where("email = ? AND invite_status = ?", email, models.RedemptionSent).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrAlreadyRedeemed
	}
	return nil
}

func (s *RedemptionService) recordRedemption(ctx context.Context, code *models.RedemptionCode, email, clientIP, status, errMsg string) {
	record := models.Redemption{
		CodeID:       code.ID,
		Email:        email,
		TeamName:     code.TeamName,
		RedeemedAt:   s.now(),
		InviteStatus: status,
		ErrorMessage: errMsg,
		IPAddress:    clientIP,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.log.Warn("failed to record redemption", zap.String("email", email), zap.Error(err))
	}
}

func (s *RedemptionService) releaseQuietly(ctx context.Context, codeValue, holder string) {
	if err := s.codes.Release(ctx, codeValue, holder); err != nil {
		s.log.Warn("failed to release reserved code", zap.String("code", codeValue), zap.Error(err))
	}
}

// ListRedemptions returns redemption records, newest first.
func (s *RedemptionService) ListRedemptions(ctx context.Context, email string, limit, offset int) ([]models.Redemption, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Redemption{})
	if email != "" {
		query = query.Where("email = ?", normalizeEmail(email))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 50
	}
	var records []models.Redemption
	err := query.Order("id DESC").Limit(limit).Offset(offset).Find(&records).Error
	return records, total, err
}

// DeleteRedemption removes one redemption record by id.
func (s *RedemptionService) DeleteRedemption(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Redemption{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
