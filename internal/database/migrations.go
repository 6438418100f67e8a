package database

import (
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.MemberLease{},
		&models.LeaseEvent{},
		&models.AppLock{},
		&models.RedemptionCode{},
		&models.Redemption{},
		&models.TeamStatus{},
	)
}
