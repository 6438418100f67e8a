package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/services"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// RedemptionHandler is the admin surface for the redemption audit trail.
type RedemptionHandler struct {
	svc *services.RedemptionService
}

func NewRedemptionHandler(svc *services.RedemptionService) *RedemptionHandler {
	return &RedemptionHandler{svc: svc}
}

// GET /api/redemptions
func (h *RedemptionHandler) List(c *gin.Context) {
	page, per := pagination(c, 50, 200)

	records, total, err := h.svc.ListRedemptions(requestContext(c), c.Query("email"), per, (page-1)*per)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, records, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}

// DELETE /api/redemptions/:id
func (h *RedemptionHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.Error(c, appErrors.NewBadRequest("invalid redemption id"))
		return
	}

	if err := h.svc.DeleteRedemption(requestContext(c), uint(id)); err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "redemption deleted", nil)
}
