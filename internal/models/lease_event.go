package models

import "time"

// LeaseAction enumerates the audit-trail actions recorded for a lease.
type LeaseAction string

const (
	ActionCreated          LeaseAction = "created"
	ActionInvited          LeaseAction = "invited"
	ActionJoined           LeaseAction = "joined"
	ActionJoinedFallback   LeaseAction = "joined_fallback"
	ActionSyncSkip         LeaseAction = "sync_skip"
	ActionSyncInviteStatus LeaseAction = "sync_invite_status"
	ActionSyncInviteError  LeaseAction = "sync_invite_error"
	ActionSyncMemberNoTime LeaseAction = "sync_member_no_time"
	ActionSyncMemberError  LeaseAction = "sync_member_error"
	ActionSyncNotJoined    LeaseAction = "sync_not_joined"
	ActionLeftOldTeam      LeaseAction = "left_old_team"
	ActionLeaveOldFailed   LeaseAction = "leave_old_failed"
	ActionTransferred      LeaseAction = "transferred"
	ActionTransferFailed   LeaseAction = "transfer_failed"
	ActionCancelled        LeaseAction = "cancelled"
	ActionAbnormalDetected LeaseAction = "abnormal_detected"
)

// LeaseEvent is one append-only audit record. Rows are never updated; they are
// deleted only by explicit admin purge.
type LeaseEvent struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	Email     string      `gorm:"size:255;not null;index" json:"email"`
	FromTeam  string      `gorm:"size:100" json:"from_team"`
	ToTeam    string      `gorm:"size:100" json:"to_team"`
	Action    LeaseAction `gorm:"size:32;not null" json:"action"`
	Message   string      `json:"message"`
	CreatedAt time.Time   `gorm:"index" json:"created_at"`
}

func (LeaseEvent) TableName() string {
	return "member_lease_events"
}
