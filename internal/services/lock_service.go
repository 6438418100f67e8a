package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const minLockTTL = 5 * time.Second

// LockOption customises LockService behaviour.
type LockOption func(*LockService)

// WithLockClock injects a custom clock primarily for testing.
func WithLockClock(clock func() time.Time) LockOption {
	return func(s *LockService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// LockService implements TTL'd named locks shared by every worker process
// through the database. Acquisition is a single conditional upsert so two
// racing processes can never both hold the same name.
type LockService struct {
	db  *gorm.DB
	now func() time.Time
}

// NewLockService constructs a LockService.
func NewLockService(db *gorm.DB, opts ...LockOption) (*LockService, error) {
	if db == nil {
		return nil, errors.New("lock service: db is required")
	}

	service := &LockService{db: db, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Acquire attempts to take the named lock for ttl. It succeeds when no lock
// row exists, the existing lock has expired, or the same holder re-acquires.
// The affected-row count is the success signal.
func (s *LockService) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	if name == "" || holder == "" {
		return false, errors.New("lock service: name and holder are required")
	}
	if ttl < minLockTTL {
		ttl = minLockTTL
	}

	now := s.now()
	until := now.Add(ttl)

	result := s.db.WithContext(ctx).Exec(`
		INSERT INTO app_locks (name, locked_by, locked_until)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			locked_by = excluded.locked_by,
			locked_until = excluded.locked_until
		WHERE app_locks.locked_by = excluded.locked_by
		   OR app_locks.locked_until IS NULL
		   OR app_locks.locked_until <= ?`,
		name, holder, until, now)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// Release frees the named lock, but only when still held by holder.
func (s *LockService) Release(ctx context.Context, name, holder string) error {
	if name == "" || holder == "" {
		return errors.New("lock service: name and holder are required")
	}

	return s.db.WithContext(ctx).Exec(
		`UPDATE app_locks SET locked_by = NULL, locked_until = NULL WHERE name = ? AND locked_by = ?`,
		name, holder).Error
}
