package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
)

// PickerOption customises TeamPicker behaviour.
type PickerOption func(*TeamPicker)

// WithPickerClock injects a custom clock primarily for testing.
func WithPickerClock(clock func() time.Time) PickerOption {
	return func(p *TeamPicker) {
		if clock != nil {
			p.now = clock
		}
	}
}

// TeamPicker produces the ordered destination candidates for a transfer.
//
// Policy: the current team, teams without usable credentials, and teams
// flagged inactive by the status checker are excluded (a never-checked team
// counts as active). Eligible teams are ordered oldest inferred creation
// time first, so long-lived accounts are exhausted before newer ones;
// unknown-age teams sort last. No candidates are returned unless at least
// two usable teams exist system-wide.
type TeamPicker struct {
	db       *gorm.DB
	registry *teams.Registry
	now      func() time.Time
}

// NewTeamPicker constructs a TeamPicker.
func NewTeamPicker(db *gorm.DB, registry *teams.Registry, opts ...PickerOption) (*TeamPicker, error) {
	if db == nil || registry == nil {
		return nil, errors.New("team picker: db and registry are required")
	}

	picker := &TeamPicker{db: db, registry: registry, now: time.Now}
	for _, opt := range opts {
		opt(picker)
	}
	return picker, nil
}

// Candidates returns the ordered transfer destinations for a lease currently
// held on the given team. The result never contains the current team and is
// empty when no genuine alternative exists.
func (p *TeamPicker) Candidates(ctx context.Context, currentTeamName, currentAccountID string) ([]teams.Team, error) {
	usable := make([]teams.Team, 0, p.registry.Len())
	for _, t := range p.registry.All() {
		if t.Usable() {
			usable = append(usable, t)
		}
	}
	if len(usable) < 2 {
		return nil, nil
	}

	var statuses []models.TeamStatus
	if err := p.db.WithContext(ctx).Find(&statuses).Error; err != nil {
		return nil, err
	}
	statusByName := make(map[string]models.TeamStatus, len(statuses))
	for _, st := range statuses {
		statusByName[st.TeamName] = st
	}

	now := p.now()
	type ranked struct {
		team      teams.Team
		createdAt time.Time
		order     int
	}

	candidates := make([]ranked, 0, len(usable))
	for i, t := range usable {
		if currentAccountID != "" && t.AccountID == currentAccountID {
			continue
		}
		if currentTeamName != "" && t.Name == currentTeamName {
			continue
		}

		// Unknown creation time defaults to now so teams of unknown age
		// are tried last.
		createdAt := now
		if st, ok := statusByName[t.Name]; ok {
			if !st.IsActive {
				continue
			}
			if st.EstCreatedAt != nil {
				createdAt = *st.EstCreatedAt
			}
		}
		candidates = append(candidates, ranked{team: t, createdAt: createdAt, order: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].createdAt.Equal(candidates[j].createdAt) {
			return candidates[i].order < candidates[j].order
		}
		return candidates[i].createdAt.Before(candidates[j].createdAt)
	})

	out := make([]teams.Team, len(candidates))
	for i, c := range candidates {
		out[i] = c.team
	}
	return out, nil
}
