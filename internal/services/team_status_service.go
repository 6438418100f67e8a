package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
	"github.com/nosift/team-dh/pkg/logger"
)

// Team age sources, most trusted first. The estimate only ever moves
// backwards in time as better evidence shows up.
const (
	CreatedSourceEarliestRedemption = "estimated_earliest_redemption"
	CreatedSourceEarliestJoin       = "estimated_earliest_join"
	CreatedSourceFirstSeen          = "first_seen"
)

// TeamStatusOption customises TeamStatusService behaviour.
type TeamStatusOption func(*TeamStatusService)

// WithStatusClock injects a custom clock primarily for testing.
func WithStatusClock(clock func() time.Time) TeamStatusOption {
	return func(s *TeamStatusService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// TeamStatusService maintains the cached per-team health and seat usage that
// the candidate picker and dashboard read. A team whose credentials stop
// working is marked inactive so no new members land on it.
type TeamStatusService struct {
	db       *gorm.DB
	registry *teams.Registry
	client   upstream.Client
	now      func() time.Time
	log      *zap.Logger
}

// NewTeamStatusService constructs a TeamStatusService.
func NewTeamStatusService(db *gorm.DB, registry *teams.Registry, client upstream.Client, opts ...TeamStatusOption) (*TeamStatusService, error) {
	if db == nil || registry == nil || client == nil {
		return nil, errors.New("team status service: db, registry, and client are required")
	}

	service := &TeamStatusService{
		db:       db,
		registry: registry,
		client:   client,
		now:      time.Now,
		log:      logger.WithModule("team_status"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// CheckAll probes every configured team and refreshes its cached status.
// Probe failures mark the team inactive rather than aborting the sweep.
func (s *TeamStatusService) CheckAll(ctx context.Context) error {
	var firstErr error
	for _, team := range s.registry.All() {
		if err := s.CheckOne(ctx, team); err != nil {
			s.log.Warn("team status check failed",
				zap.String("team", team.Name),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// CheckOne probes a single team's credentials and seat usage.
func (s *TeamStatusService) CheckOne(ctx context.Context, team teams.Team) error {
	now := s.now()
	status, err := s.loadOrCreate(ctx, team, now)
	if err != nil {
		return err
	}

	if !team.Usable() {
		status.IsActive = false
		status.StatusError = "missing credentials"
		status.LastCheckedAt = &now
		return s.save(ctx, status)
	}

	stats, err := s.client.SeatStats(ctx, team)
	if err != nil {
		status.IsActive = false
		status.StatusError = err.Error()
		status.LastCheckedAt = &now
		if saveErr := s.save(ctx, status); saveErr != nil {
			return saveErr
		}
		return err
	}

	status.IsActive = true
	status.StatusError = ""
	status.TotalSeats = stats.SeatsEntitled
	status.UsedSeats = stats.SeatsInUse
	status.PendingInvites = stats.PendingInvites
	status.LastCheckedAt = &now
	return s.save(ctx, status)
}

func (s *TeamStatusService) loadOrCreate(ctx context.Context, team teams.Team, now time.Time) (*models.TeamStatus, error) {
	var status models.TeamStatus
	err := s.db.WithContext(ctx).First(&status, "team_name = ?", team.Name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		status = models.TeamStatus{
			TeamName:    team.Name,
			AccountID:   team.AccountID,
			IsActive:    true,
			FirstSeenAt: &now,
		}
		if createErr := s.db.WithContext(ctx).Create(&status).Error; createErr != nil {
			return nil, createErr
		}
		return &status, nil
	}
	if err != nil {
		return nil, err
	}
	if status.AccountID != team.AccountID {
		status.AccountID = team.AccountID
	}
	return &status, nil
}

func (s *TeamStatusService) save(ctx context.Context, status *models.TeamStatus) error {
	status.UpdatedAt = s.now()
	return s.db.WithContext(ctx).Save(status).Error
}

// Get returns the cached status row for a team, if any.
func (s *TeamStatusService) Get(ctx context.Context, teamName string) (*models.TeamStatus, error) {
	var status models.TeamStatus
	err := s.db.WithContext(ctx).First(&status, "team_name = ?", teamName).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, gorm.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// ListAll returns cached statuses for every known team.
func (s *TeamStatusService) ListAll(ctx context.Context) ([]models.TeamStatus, error) {
	var statuses []models.TeamStatus
	err := s.db.WithContext(ctx).Order("team_name ASC").Find(&statuses).Error
	return statuses, err
}

// EstimateCreatedTime derives the best available creation-time estimate for a
// team from local evidence: the earliest redemption, the earliest member
// join, or failing both, when this process first saw the team.
func (s *TeamStatusService) EstimateCreatedTime(ctx context.Context, teamName string) (*time.Time, string, error) {
	var earliest *time.Time
	source := ""

	var redemption models.Redemption
	err := s.db.WithContext(ctx).
		Where("team_name = ?", teamName).
		Order("redeemed_at ASC").
		First(&redemption).Error
	if err == nil {
		t := redemption.RedeemedAt
		earliest = &t
		source = CreatedSourceEarliestRedemption
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	var lease models.MemberLease
	err = s.db.WithContext(ctx).
		Where("team_name = ? AND joined_at IS NOT NULL", teamName).
		Order("joined_at ASC").
		First(&lease).Error
	if err == nil && lease.JoinedAt != nil {
		if earliest == nil || lease.JoinedAt.Before(*earliest) {
			earliest = lease.JoinedAt
			source = CreatedSourceEarliestJoin
		}
	} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", err
	}

	if earliest == nil {
		var status models.TeamStatus
		err := s.db.WithContext(ctx).First(&status, "team_name = ?", teamName).Error
		if err == nil && status.FirstSeenAt != nil {
			earliest = status.FirstSeenAt
			source = CreatedSourceFirstSeen
		} else if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", err
		}
	}

	return earliest, source, nil
}

// SyncCreatedTime refreshes the cached age estimate for every team. An
// existing estimate only improves: it is replaced when the new evidence is
// strictly earlier.
func (s *TeamStatusService) SyncCreatedTime(ctx context.Context) (int, error) {
	updated := 0
	for _, team := range s.registry.All() {
		estimate, source, err := s.EstimateCreatedTime(ctx, team.Name)
		if err != nil {
			return updated, err
		}
		if estimate == nil {
			continue
		}

		now := s.now()
		status, err := s.loadOrCreate(ctx, team, now)
		if err != nil {
			return updated, err
		}
		if status.EstCreatedAt != nil && !estimate.Before(*status.EstCreatedAt) {
			continue
		}

		status.EstCreatedAt = estimate
		status.CreatedAtSource = source
		if err := s.save(ctx, status); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}
