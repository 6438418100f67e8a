package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/services"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// RedeemHandler serves the public redemption surface. These are the only
// unauthenticated write endpoints, so every failure maps to a stable
// catalog error rather than leaking service internals.
type RedeemHandler struct {
	redemptions *services.RedemptionService
	codes       *services.CodeService
}

func NewRedeemHandler(redemptions *services.RedemptionService, codes *services.CodeService) *RedeemHandler {
	return &RedeemHandler{redemptions: redemptions, codes: codes}
}

type redeemRequest struct {
	Code  string `json:"code" validate:"required"`
	Email string `json:"email" validate:"required"`
}

// POST /api/redeem
func (h *RedeemHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.redemptions.Redeem(requestContext(c), strings.TrimSpace(req.Code), req.Email, c.ClientIP())
	if err != nil {
		response.Error(c, mapRedeemError(err))
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, result.Message, result)
}

// GET /api/verify/:code
func (h *RedeemHandler) Verify(c *gin.Context) {
	value := strings.TrimSpace(c.Param("code"))
	if value == "" {
		response.Error(c, appErrors.NewBadRequest("code is required"))
		return
	}

	code, err := h.codes.Verify(requestContext(c), value)
	if err != nil {
		response.Error(c, mapRedeemError(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"code":       code.Code,
		"team_name":  code.TeamName,
		"max_uses":   code.MaxUses,
		"used_count": code.UsedCount,
		"expires_at": code.ExpiresAt,
	})
}

func mapRedeemError(err error) error {
	switch {
	case errors.Is(err, services.ErrInvalidEmail):
		return appErrors.NewBadRequest(err.Error())
	case errors.Is(err, services.ErrAlreadyRedeemed):
		return appErrors.ErrEmailRedeemed
	case errors.Is(err, services.ErrRateLimited):
		return appErrors.ErrRateLimit
	case errors.Is(err, services.ErrNoSeats):
		return appErrors.ErrNoSeats
	case errors.Is(err, services.ErrCodeBusy):
		return appErrors.ErrCodeBusy
	case errors.Is(err, services.ErrCodeNotFound),
		errors.Is(err, services.ErrCodeUsedUp),
		errors.Is(err, services.ErrCodeExpired),
		errors.Is(err, services.ErrCodeDisabled),
		errors.Is(err, services.ErrUnknownTeam):
		return appErrors.ErrInvalidCode
	default:
		return err
	}
}
