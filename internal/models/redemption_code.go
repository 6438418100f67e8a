package models

import "time"

// Redemption code statuses.
const (
	CodeStatusActive   = "active"
	CodeStatusUsedUp   = "used_up"
	CodeStatusExpired  = "expired"
	CodeStatusDisabled = "disabled"
	CodeStatusDeleted  = "deleted"
)

// RedemptionCode is a one-time (or limited-use) voucher bound to a team.
// LockedBy/LockedUntil form a short-lived reservation lock that prevents
// double-spend under concurrent redemption requests.
type RedemptionCode struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Code        string     `gorm:"size:32;uniqueIndex;not null" json:"code"`
	TeamName    string     `gorm:"size:100;not null;index" json:"team_name"`
	MaxUses     int        `gorm:"default:1" json:"max_uses"`
	UsedCount   int        `gorm:"default:0" json:"used_count"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
	Status      string     `gorm:"size:20;default:active" json:"status"`
	Notes       string     `json:"notes"`
	LockedBy    string     `json:"-"`
	LockedUntil *time.Time `json:"-"`
}

func (RedemptionCode) TableName() string {
	return "redemption_codes"
}

// Usable reports whether the code can still be redeemed at the given instant,
// ignoring any reservation lock.
func (c *RedemptionCode) Usable(now time.Time) bool {
	if c.Status != CodeStatusActive {
		return false
	}
	if c.UsedCount >= c.MaxUses {
		return false
	}
	if c.ExpiresAt != nil && !c.ExpiresAt.After(now) {
		return false
	}
	return true
}
