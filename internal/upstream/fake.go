package upstream

import (
	"context"
	"sync"

	"github.com/nosift/team-dh/internal/teams"
)

// Fake is an in-memory Client used by tests. Responses are keyed by team
// name; unset entries return zero values. Function hooks override the canned
// responses when present.
type Fake struct {
	mu sync.Mutex

	InviteStatuses map[string]InviteStatus
	Members        map[string]MemberInfo
	Stats          map[string]SeatStats
	InviteErr      error
	StatusErr      error
	MemberErr      error
	RemoveErr      error
	StatsErr       error

	InviteFunc func(team teams.Team, emails []string) (InviteOutcome, error)

	Invites  []string // team names that received an invite, in call order
	Removals []string // "team/email" pairs, in call order
}

// NewFake returns an empty fake client.
func NewFake() *Fake {
	return &Fake{
		InviteStatuses: make(map[string]InviteStatus),
		Members:        make(map[string]MemberInfo),
		Stats:          make(map[string]SeatStats),
	}
}

func (f *Fake) Invite(_ context.Context, team teams.Team, emails []string) (InviteOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Invites = append(f.Invites, team.Name)
	if f.InviteFunc != nil {
		return f.InviteFunc(team, emails)
	}
	if f.InviteErr != nil {
		return InviteOutcome{}, f.InviteErr
	}
	return InviteOutcome{Accepted: append([]string(nil), emails...)}, nil
}

func (f *Fake) InviteStatusForEmail(_ context.Context, team teams.Team, _ string) (InviteStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StatusErr != nil {
		return InviteStatus{}, f.StatusErr
	}
	return f.InviteStatuses[team.Name], nil
}

func (f *Fake) MemberInfoForEmail(_ context.Context, team teams.Team, _ string) (MemberInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.MemberErr != nil {
		return MemberInfo{}, f.MemberErr
	}
	return f.Members[team.Name], nil
}

func (f *Fake) RemoveMember(_ context.Context, team teams.Team, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Removals = append(f.Removals, team.Name+"/"+email)
	return f.RemoveErr
}

func (f *Fake) SeatStats(_ context.Context, team teams.Team) (SeatStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.StatsErr != nil {
		return SeatStats{}, f.StatsErr
	}
	return f.Stats[team.Name], nil
}

var _ Client = (*Fake)(nil)
