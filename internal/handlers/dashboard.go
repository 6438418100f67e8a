package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/services"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// DashboardHandler aggregates the headline numbers for the admin UI.
type DashboardHandler struct {
	db    *gorm.DB
	store *services.LeaseStore
}

func NewDashboardHandler(db *gorm.DB, store *services.LeaseStore) *DashboardHandler {
	return &DashboardHandler{db: db, store: store}
}

// GET /api/dashboard
func (h *DashboardHandler) Summary(c *gin.Context) {
	ctx := requestContext(c)

	byStatus, err := h.store.CountByStatus(ctx)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	leaseCounts := make(map[string]int64, len(byStatus))
	var leaseTotal int64
	for status, n := range byStatus {
		leaseCounts[string(status)] = n
		leaseTotal += n
	}

	var codesActive, codesTotal, redemptions int64
	if err := h.db.WithContext(ctx).Model(&models.RedemptionCode{}).
		Where("status <> ?", models.CodeStatusDeleted).Count(&codesTotal).Error; err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	if err := h.db.WithContext(ctx).Model(&models.RedemptionCode{}).
		Where("status = ?", models.CodeStatusActive).Count(&codesActive).Error; err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	if err := h.db.WithContext(ctx).Model(&models.Redemption{}).Count(&redemptions).Error; err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	var inactiveTeams int64
	if err := h.db.WithContext(ctx).Model(&models.TeamStatus{}).
		Where("is_active = ?", false).Count(&inactiveTeams).Error; err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"leases": gin.H{
			"total":     leaseTotal,
			"by_status": leaseCounts,
		},
		"codes": gin.H{
			"total":  codesTotal,
			"active": codesActive,
		},
		"redemptions":    redemptions,
		"inactive_teams": inactiveTeams,
	})
}
