package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/pkg/logger"
)

// AbnormalOption customises AbnormalChecker behaviour.
type AbnormalOption func(*AbnormalChecker)

// WithAbnormalClock injects a custom clock primarily for testing.
func WithAbnormalClock(clock func() time.Time) AbnormalOption {
	return func(c *AbnormalChecker) {
		if clock != nil {
			c.now = clock
		}
	}
}

// AbnormalChecker rescues members stranded on teams that went bad: when a
// team turns inactive, its active leases get transferred out immediately
// instead of waiting for their normal expiry.
type AbnormalChecker struct {
	db       *gorm.DB
	store    *LeaseStore
	executor *TransferExecutor
	now      func() time.Time
	log      *zap.Logger
}

// NewAbnormalChecker constructs an AbnormalChecker.
func NewAbnormalChecker(db *gorm.DB, store *LeaseStore, executor *TransferExecutor, opts ...AbnormalOption) (*AbnormalChecker, error) {
	if db == nil || store == nil || executor == nil {
		return nil, errors.New("abnormal checker: db, store, and executor are required")
	}

	checker := &AbnormalChecker{
		db:       db,
		store:    store,
		executor: executor,
		now:      time.Now,
		log:      logger.WithModule("abnormal"),
	}
	for _, opt := range opts {
		opt(checker)
	}
	return checker, nil
}

// CheckResult summarises one abnormal sweep.
type CheckResult struct {
	InactiveTeams []string `json:"inactive_teams"`
	Flagged       int      `json:"flagged"`
	Moved         int      `json:"moved"`
}

// Run scans for inactive teams and moves their active members out. Per-lease
// failures are logged and counted but never abort the sweep.
func (c *AbnormalChecker) Run(ctx context.Context) (*CheckResult, error) {
	var inactive []models.TeamStatus
	err := c.db.WithContext(ctx).
		Where("is_active = ?", false).
		Find(&inactive).Error
	if err != nil {
		return nil, err
	}

	result := &CheckResult{}
	if len(inactive) == 0 {
		return result, nil
	}

	names := make([]string, 0, len(inactive))
	for _, status := range inactive {
		names = append(names, status.TeamName)
	}
	result.InactiveTeams = names

	leases, err := c.store.ListActiveOnTeams(ctx, names)
	if err != nil {
		return result, err
	}

	for i := range leases {
		lease := &leases[i]
		result.Flagged++

		event := c.store.AppendEvent(ctx, lease.Email, models.ActionAbnormalDetected,
			lease.TeamName, "", "team is inactive, forcing transfer")
		if event != nil {
			c.log.Warn("failed to record abnormal event",
				zap.String("email", lease.Email), zap.Error(event))
		}

		moved, err := c.executor.Execute(ctx, lease, false)
		if err != nil {
			c.log.Warn("forced transfer failed",
				zap.String("email", lease.Email),
				zap.String("team", lease.TeamName),
				zap.Error(err))
			continue
		}
		if moved {
			result.Moved++
		}
	}

	c.log.Info("abnormal sweep finished",
		zap.Int("inactive_teams", len(names)),
		zap.Int("flagged", result.Flagged),
		zap.Int("moved", result.Moved))
	return result, nil
}
