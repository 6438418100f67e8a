package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/pkg/crypto"
)

const (
	defaultCodeLength     = 12
	defaultCodeReserveTTL = 2 * time.Minute
	codeGenerateRetries   = 5
)

var (
	// ErrCodeNotFound indicates no redemption code matches.
	ErrCodeNotFound = errors.New("code: not found")
	// ErrCodeBusy signals the code is reserved by a concurrent redemption.
	ErrCodeBusy = errors.New("code: reserved by another redemption, try again shortly")
	// ErrCodeUsedUp signals the code has no uses left.
	ErrCodeUsedUp = errors.New("code: no uses remaining")
	// ErrCodeExpired signals the code's validity window has passed.
	ErrCodeExpired = errors.New("code: expired")
	// ErrCodeDisabled signals the code was disabled or deleted.
	ErrCodeDisabled = errors.New("code: disabled")
)

// CodeOption customises CodeService behaviour.
type CodeOption func(*CodeService)

// WithCodeClock injects a custom clock primarily for testing.
func WithCodeClock(clock func() time.Time) CodeOption {
	return func(s *CodeService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// CodeService owns redemption codes: batch generation, verification, and the
// row-level reservation lock that keeps concurrent redemptions from double
// spending a code.
type CodeService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewCodeService constructs a CodeService.
func NewCodeService(db *gorm.DB, opts ...CodeOption) (*CodeService, error) {
	if db == nil {
		return nil, errors.New("code service: db is required")
	}

	service := &CodeService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CreateBatchParams controls batch code generation.
type CreateBatchParams struct {
	TeamName  string
	Count     int
	MaxUses   int
	ExpiresAt *time.Time
	Notes     string
	Prefix    string
}

// CreateBatch generates count random codes bound to a team.
func (s *CodeService) CreateBatch(ctx context.Context, params CreateBatchParams) ([]models.RedemptionCode, error) {
	if strings.TrimSpace(params.TeamName) == "" {
		return nil, errors.New("code service: team name is required")
	}
	if params.Count <= 0 {
		params.Count = 1
	}
	if params.MaxUses <= 0 {
		params.MaxUses = 1
	}

	codes := make([]models.RedemptionCode, 0, params.Count)
	for i := 0; i < params.Count; i++ {
		code, err := s.createOne(ctx, params)
		if err != nil {
			return codes, err
		}
		codes = append(codes, *code)
	}
	return codes, nil
}

func (s *CodeService) createOne(ctx context.Context, params CreateBatchParams) (*models.RedemptionCode, error) {
	var lastErr error
	for attempt := 0; attempt < codeGenerateRetries; attempt++ {
		value, err := crypto.GenerateCode(params.Prefix, defaultCodeLength)
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}

		code := models.RedemptionCode{
			Code:      value,
			TeamName:  params.TeamName,
			MaxUses:   params.MaxUses,
			ExpiresAt: params.ExpiresAt,
			CreatedAt: s.now(),
			Status:    models.CodeStatusActive,
			Notes:     params.Notes,
		}
		if err := s.db.WithContext(ctx).Create(&code).Error; err != nil {
			if isUniqueConstraintError(err) {
				// Collision over the random space, draw again.
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("create code: %w", err)
		}
		return &code, nil
	}
	return nil, fmt.Errorf("create code: %w", lastErr)
}

// Get fetches one code by its value.
func (s *CodeService) Get(ctx context.Context, value string) (*models.RedemptionCode, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, ErrCodeNotFound
	}

	var code models.RedemptionCode
	err := s.db.WithContext(ctx).First(&code, "code = ?", value).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// Verify checks whether the code can currently be redeemed, updating its
// display status (expired/used_up) along the way.
func (s *CodeService) Verify(ctx context.Context, value string) (*models.RedemptionCode, error) {
	code, err := s.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	return code, s.usabilityError(ctx, code)
}

func (s *CodeService) usabilityError(ctx context.Context, code *models.RedemptionCode) error {
	switch code.Status {
	case models.CodeStatusActive:
	case models.CodeStatusUsedUp:
		return ErrCodeUsedUp
	case models.CodeStatusExpired:
		return ErrCodeExpired
	default:
		return ErrCodeDisabled
	}

	now := s.now()
	if code.ExpiresAt != nil && !code.ExpiresAt.After(now) {
		_ = s.SetStatus(ctx, code.Code, models.CodeStatusExpired)
		return ErrCodeExpired
	}
	if code.UsedCount >= code.MaxUses {
		_ = s.SetStatus(ctx, code.Code, models.CodeStatusUsedUp)
		return ErrCodeUsedUp
	}
	return nil
}

// Reserve takes the short-lived reservation lock on a code so the redeem
// flow is serialized per code. The conditional UPDATE succeeds only for a
// usable, unreserved code; on failure the code is re-read to report why.
func (s *CodeService) Reserve(ctx context.Context, value, holder string, ttl time.Duration) (*models.RedemptionCode, error) {
	value = strings.TrimSpace(value)
	if value == "" || holder == "" {
		return nil, errors.New("code service: code and holder are required")
	}
	if ttl <= 0 {
		ttl = defaultCodeReserveTTL
	}

	now := s.now()
	result := s.db.WithContext(ctx).Exec(`
		UPDATE redemption_codes
		SET locked_by = ?, locked_until = ?
		WHERE code = ?
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > ?)
		  AND used_count < max_uses
		  AND (locked_until IS NULL OR locked_until <= ?)`,
		holder, now.Add(ttl), value, now, now)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 1 {
		return s.Get(ctx, value)
	}

	code, err := s.Get(ctx, value)
	if err != nil {
		return nil, err
	}
	if err := s.usabilityError(ctx, code); err != nil {
		return nil, err
	}
	if code.LockedUntil != nil && code.LockedUntil.After(now) {
		return nil, ErrCodeBusy
	}
	return nil, ErrCodeBusy
}

// Release frees the reservation lock, but only for its holder.
func (s *CodeService) Release(ctx context.Context, value, holder string) error {
	return s.db.WithContext(ctx).Exec(`
		UPDATE redemption_codes
		SET locked_by = NULL, locked_until = NULL
		WHERE code = ? AND locked_by = ?`,
		value, holder).Error
}

// Consume burns one use of a reserved code and releases the lock. Only the
// reservation holder may consume.
func (s *CodeService) Consume(ctx context.Context, value, holder string) (bool, error) {
	result := s.db.WithContext(ctx).Exec(`
		UPDATE redemption_codes
		SET used_count = used_count + 1,
			status = CASE WHEN (used_count + 1) >= max_uses THEN 'used_up' ELSE status END,
			locked_by = NULL,
			locked_until = NULL
		WHERE code = ? AND locked_by = ?`,
		value, holder)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetStatus updates the code's lifecycle status.
func (s *CodeService) SetStatus(ctx context.Context, value, status string) error {
	return s.db.WithContext(ctx).Model(&models.RedemptionCode{}).
		Where("code = ?", value).
		Update("status", status).Error
}

// CodeFilter narrows List results.
type CodeFilter struct {
	TeamName string
	Status   string
	Limit    int
	Offset   int
}

// List returns codes for the admin surface, newest first. Soft-deleted codes
// are hidden unless explicitly requested by status.
func (s *CodeService) List(ctx context.Context, filter CodeFilter) ([]models.RedemptionCode, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.RedemptionCode{})
	if filter.TeamName != "" {
		query = query.Where("team_name = ?", filter.TeamName)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	} else {
		query = query.Where("status != ?", models.CodeStatusDeleted)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var codes []models.RedemptionCode
	err := query.Order("id DESC").Limit(limit).Offset(filter.Offset).Find(&codes).Error
	return codes, total, err
}

// Delete removes a code. Soft deletion keeps the row for audit; hard
// deletion removes it outright.
func (s *CodeService) Delete(ctx context.Context, value string, hard bool) error {
	if hard {
		result := s.db.WithContext(ctx).Delete(&models.RedemptionCode{}, "code = ?", value)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrCodeNotFound
		}
		return nil
	}

	result := s.db.WithContext(ctx).Model(&models.RedemptionCode{}).
		Where("code = ?", value).
		Update("status", models.CodeStatusDeleted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrCodeNotFound
	}
	return nil
}
