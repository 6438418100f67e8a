package upstream

import (
	"context"

	"github.com/nosift/team-dh/internal/teams"
)

// InviteOutcome reports the per-email result of an invite call.
type InviteOutcome struct {
	Accepted []string
	Rejected []InviteError
}

// InviteError carries the upstream rejection reason for one address.
type InviteError struct {
	Email  string
	Reason string
}

// InviteStatus is the normalized invite-list entry for one email.
// Timestamp is the raw upstream value; callers parse it leniently.
type InviteStatus struct {
	Found     bool
	Status    string
	Timestamp string
}

// MemberInfo is the normalized member-list entry for one email. JoinedAt may
// be empty even when the member is found; the upstream payload does not
// always carry a join-time field.
type MemberInfo struct {
	Found    bool
	JoinedAt string
}

// SeatStats is the live seat usage of one team.
type SeatStats struct {
	SeatsEntitled  int
	SeatsInUse     int
	PendingInvites int
	PlanType       string
}

// Available returns the free seat count implied by the stats, never negative.
func (s SeatStats) Available() int {
	free := s.SeatsEntitled - s.SeatsInUse - s.PendingInvites
	if free < 0 {
		return 0
	}
	return free
}

// Client is the upstream Team API surface the lease engine depends on. All
// methods may fail with transient network errors which callers must treat as
// retriable.
type Client interface {
	// Invite sends seat invites for the given addresses.
	Invite(ctx context.Context, team teams.Team, emails []string) (InviteOutcome, error)

	// InviteStatusForEmail looks the email up in the team's invite list.
	InviteStatusForEmail(ctx context.Context, team teams.Team, email string) (InviteStatus, error)

	// MemberInfoForEmail looks the email up in the team's member list.
	MemberInfoForEmail(ctx context.Context, team teams.Team, email string) (MemberInfo, error)

	// RemoveMember evicts the member holding the email from the team.
	RemoveMember(ctx context.Context, team teams.Team, email string) error

	// SeatStats returns live seat usage for the team.
	SeatStats(ctx context.Context, team teams.Team) (SeatStats, error)
}
