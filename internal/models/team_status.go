package models

import "time"

// TeamStatus caches locally observed facts about one upstream team: live seat
// counts, credential health, and the inferred account creation time used to
// order transfer candidates.
type TeamStatus struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	TeamName       string     `gorm:"size:100;uniqueIndex;not null" json:"team_name"`
	AccountID      string     `gorm:"size:128" json:"account_id"`
	TotalSeats     int        `gorm:"default:0" json:"total_seats"`
	UsedSeats      int        `gorm:"default:0" json:"used_seats"`
	PendingInvites int        `gorm:"default:0" json:"pending_invites"`
	IsActive       bool       `gorm:"default:true" json:"is_active"`
	StatusError    string     `json:"status_error"`
	LastCheckedAt  *time.Time `json:"last_checked_at"`
	FirstSeenAt    *time.Time `json:"first_seen_at"`
	// EstCreatedAt is the inferred account creation time; nil means unknown,
	// which sorts the team last among transfer candidates.
	EstCreatedAt    *time.Time `json:"est_created_at"`
	CreatedAtSource string     `gorm:"size:32" json:"created_at_source"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func (TeamStatus) TableName() string {
	return "team_status"
}

// AvailableSeats returns the number of free seats implied by the cached
// counters, never negative.
func (t *TeamStatus) AvailableSeats() int {
	free := t.TotalSeats - t.UsedSeats - t.PendingInvites
	if free < 0 {
		return 0
	}
	return free
}
