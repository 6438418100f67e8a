package models

import "time"

// LeaseStatus enumerates the lifecycle states of a member lease.
type LeaseStatus string

const (
	LeasePending      LeaseStatus = "pending"
	LeaseActive       LeaseStatus = "active"
	LeaseTransferring LeaseStatus = "transferring"
	LeaseFailed       LeaseStatus = "failed"
	LeaseCancelled    LeaseStatus = "cancelled"
)

// Valid reports whether s is a known lease status.
func (s LeaseStatus) Valid() bool {
	switch s {
	case LeasePending, LeaseActive, LeaseTransferring, LeaseFailed, LeaseCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Cancellation is reachable from every non-terminal state.
func (s LeaseStatus) CanTransitionTo(next LeaseStatus) bool {
	if next == LeaseCancelled {
		return s != LeaseCancelled
	}
	switch s {
	case LeasePending:
		return next == LeaseActive || next == LeaseFailed
	case LeaseActive:
		return next == LeaseTransferring
	case LeaseTransferring:
		return next == LeasePending || next == LeaseActive || next == LeaseFailed
	case LeaseFailed:
		return next == LeaseTransferring
	}
	return false
}

// MemberLease is the single current seat assignment for one user, keyed by
// normalized lowercase email.
type MemberLease struct {
	Email         string      `gorm:"primaryKey;size:255" json:"email"`
	TeamName      string      `gorm:"size:100;not null;index" json:"team_name"`
	TeamAccountID string      `gorm:"size:128" json:"team_account_id"`
	CreatedAt     time.Time   `json:"created_at"`
	InvitedAt     *time.Time  `json:"invited_at"`
	JoinedAt      *time.Time  `json:"joined_at"`
	ExpiresAt     time.Time   `gorm:"index" json:"expires_at"`
	Status        LeaseStatus `gorm:"size:32;default:pending;index" json:"status"`
	TransferCount int         `gorm:"default:0" json:"transfer_count"`
	Attempts      int         `gorm:"default:0" json:"attempts"`
	NextAttemptAt *time.Time  `json:"next_attempt_at"`
	LastError     string      `json:"last_error"`
	LastSyncedAt  *time.Time  `json:"last_synced_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

func (MemberLease) TableName() string {
	return "member_leases"
}

// AwaitingJoin reports whether the lease is still waiting for the user to
// accept the upstream invite.
func (l *MemberLease) AwaitingJoin() bool {
	return l.Status == LeasePending && l.JoinedAt == nil
}

// Confirmed reports whether the lease has a running term.
func (l *MemberLease) Confirmed() bool {
	return l.Status == LeaseActive && l.JoinedAt != nil
}

// Due reports whether the lease term has elapsed at the given instant.
func (l *MemberLease) Due(now time.Time) bool {
	return l.Confirmed() && !l.ExpiresAt.After(now)
}
