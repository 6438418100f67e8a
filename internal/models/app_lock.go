package models

import "time"

// AppLock is a TTL'd named mutual-exclusion record shared by all worker
// processes. A lock whose LockedUntil has passed counts as free.
type AppLock struct {
	Name        string     `gorm:"primaryKey;size:64" json:"name"`
	LockedBy    string     `json:"locked_by"`
	LockedUntil *time.Time `json:"locked_until"`
}

func (AppLock) TableName() string {
	return "app_locks"
}

// Expired reports whether the lock is held at the given instant.
func (l *AppLock) Expired(now time.Time) bool {
	return l.LockedUntil == nil || !l.LockedUntil.After(now)
}
