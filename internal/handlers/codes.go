package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/services"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// CodeHandler is the admin surface for redemption codes.
type CodeHandler struct {
	codes *services.CodeService
}

func NewCodeHandler(codes *services.CodeService) *CodeHandler {
	return &CodeHandler{codes: codes}
}

type createCodesRequest struct {
	TeamName  string     `json:"team_name" validate:"required"`
	Count     int        `json:"count" validate:"required,min=1,max=1000"`
	MaxUses   int        `json:"max_uses" validate:"omitempty,min=1"`
	ExpiresAt *time.Time `json:"expires_at"`
	Notes     string     `json:"notes"`
	Prefix    string     `json:"prefix"`
}

// POST /api/codes
func (h *CodeHandler) Create(c *gin.Context) {
	var req createCodesRequest
	if !bindAndValidate(c, &req) {
		return
	}

	created, err := h.codes.CreateBatch(requestContext(c), services.CreateBatchParams{
		TeamName:  req.TeamName,
		Count:     req.Count,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
		Notes:     req.Notes,
		Prefix:    req.Prefix,
	})
	if err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	response.SuccessWithMessage(c, http.StatusCreated, "codes generated", created)
}

// GET /api/codes
func (h *CodeHandler) List(c *gin.Context) {
	page, per := pagination(c, 50, 500)

	codes, total, err := h.codes.List(requestContext(c), services.CodeFilter{
		TeamName: c.Query("team"),
		Status:   c.Query("status"),
		Limit:    per,
		Offset:   (page - 1) * per,
	})
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, codes, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}

type codeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active disabled expired used_up"`
}

// PUT /api/codes/:code/status
func (h *CodeHandler) SetStatus(c *gin.Context) {
	var req codeStatusRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.codes.SetStatus(requestContext(c), c.Param("code"), req.Status); err != nil {
		response.Error(c, mapCodeError(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "status updated", nil)
}

// DELETE /api/codes/:code
func (h *CodeHandler) Delete(c *gin.Context) {
	hard := c.Query("hard") == "true"
	if err := h.codes.Delete(requestContext(c), c.Param("code"), hard); err != nil {
		response.Error(c, mapCodeError(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "code deleted", nil)
}

func mapCodeError(err error) error {
	if errors.Is(err, services.ErrCodeNotFound) {
		return appErrors.ErrNotFound
	}
	return appErrors.ErrInternalServer.WithInternal(err)
}
