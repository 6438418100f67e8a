package models

import "time"

// Redemption invite statuses.
const (
	RedemptionPending = "pending"
	RedemptionSent    = "sent"
	RedemptionFailed  = "failed"
)

// Redemption records one consumption of a redemption code.
type Redemption struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	CodeID       uint      `gorm:"not null;index" json:"code_id"`
	Code         *RedemptionCode `gorm:"foreignKey:CodeID" json:"code,omitempty"`
	Email        string    `gorm:"size:255;not null;index" json:"email"`
	TeamName     string    `gorm:"size:100;not null" json:"team_name"`
	RedeemedAt   time.Time `json:"redeemed_at"`
	InviteStatus string    `gorm:"size:20;default:pending" json:"invite_status"`
	ErrorMessage string    `json:"error_message"`
	IPAddress    string    `gorm:"size:45" json:"ip_address"`
}

func (Redemption) TableName() string {
	return "redemptions"
}
