package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/services"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// LeaseHandler is the admin surface for member leases: inspection, manual
// upserts, and forcing the transfer and join-sync machinery for one email.
type LeaseHandler struct {
	store     *services.LeaseStore
	transfers *services.TransferService
}

func NewLeaseHandler(store *services.LeaseStore, transfers *services.TransferService) *LeaseHandler {
	return &LeaseHandler{store: store, transfers: transfers}
}

// GET /api/leases
func (h *LeaseHandler) List(c *gin.Context) {
	page, per := pagination(c, 50, 200)

	filter := services.LeaseFilter{
		Status:   models.LeaseStatus(c.Query("status")),
		TeamName: c.Query("team"),
		Limit:    per,
		Offset:   (page - 1) * per,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		response.Error(c, appErrors.NewBadRequest("unknown lease status"))
		return
	}

	leases, total, err := h.store.List(requestContext(c), filter)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, leases, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}

// GET /api/leases/:email
func (h *LeaseHandler) Get(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	lease, err := h.store.Get(requestContext(c), email)
	if err != nil {
		response.Error(c, mapLeaseError(err))
		return
	}
	response.Success(c, http.StatusOK, lease)
}

// GET /api/leases/:email/events
func (h *LeaseHandler) Events(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	limit := parseIntQuery(c, "limit", 100)
	events, err := h.store.ListEvents(requestContext(c), email, limit)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, events)
}

type upsertLeaseRequest struct {
	Email         string     `json:"email" validate:"required,email"`
	TeamName      string     `json:"team_name" validate:"required"`
	TeamAccountID string     `json:"team_account_id"`
	Status        string     `json:"status" validate:"required"`
	InvitedAt     *time.Time `json:"invited_at"`
	JoinedAt      *time.Time `json:"joined_at"`
	ExpiresAt     time.Time  `json:"expires_at" validate:"required"`
}

// PUT /api/leases
func (h *LeaseHandler) Upsert(c *gin.Context) {
	var req upsertLeaseRequest
	if !bindAndValidate(c, &req) {
		return
	}

	status := models.LeaseStatus(strings.TrimSpace(req.Status))
	if !status.Valid() {
		response.Error(c, appErrors.NewBadRequest("unknown lease status"))
		return
	}

	lease := &models.MemberLease{
		Email:         req.Email,
		TeamName:      strings.TrimSpace(req.TeamName),
		TeamAccountID: strings.TrimSpace(req.TeamAccountID),
		Status:        status,
		InvitedAt:     req.InvitedAt,
		JoinedAt:      req.JoinedAt,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := h.store.AdminUpsert(requestContext(c), lease); err != nil {
		response.Error(c, appErrors.NewBadRequest(err.Error()))
		return
	}

	response.SuccessWithMessage(c, http.StatusOK, "lease saved", lease)
}

// POST /api/leases/:email/sync-join
func (h *LeaseHandler) SyncJoin(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	result := h.transfers.SyncJoinedForEmail(requestContext(c), email)
	response.Success(c, http.StatusOK, result)
}

// POST /api/leases/sync-join
func (h *LeaseHandler) SyncJoinBatch(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 50)
	counters, err := h.transfers.SyncJoinedBatch(requestContext(c), limit)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, counters)
}

// POST /api/leases/:email/transfer
func (h *LeaseHandler) Transfer(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	result := h.transfers.RunForEmail(requestContext(c), email)
	response.Success(c, http.StatusOK, result)
}

// POST /api/leases/sweep
func (h *LeaseHandler) Sweep(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)
	moved, err := h.transfers.RunOnce(requestContext(c), limit)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"moved": moved})
}

// POST /api/leases/:email/expire
func (h *LeaseHandler) ForceExpire(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	if err := h.store.ForceExpire(requestContext(c), email); err != nil {
		response.Error(c, mapLeaseError(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "lease expired, next sweep will transfer it", nil)
}

type cancelLeaseRequest struct {
	Reason string `json:"reason"`
}

// POST /api/leases/:email/cancel
func (h *LeaseHandler) Cancel(c *gin.Context) {
	var req cancelLeaseRequest
	if c.Request.ContentLength > 0 && !bindAndValidate(c, &req) {
		return
	}
	email, ok := emailParam(c)
	if !ok {
		return
	}
	if err := h.store.Cancel(requestContext(c), email, req.Reason); err != nil {
		response.Error(c, mapLeaseError(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "lease cancelled", nil)
}

// DELETE /api/leases/:email
func (h *LeaseHandler) Delete(c *gin.Context) {
	email, ok := emailParam(c)
	if !ok {
		return
	}
	purge := c.Query("purge_events") == "true"
	if err := h.store.Delete(requestContext(c), email, purge); err != nil {
		response.Error(c, mapLeaseError(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "lease deleted", nil)
}

func mapLeaseError(err error) error {
	switch {
	case errors.Is(err, services.ErrLeaseNotFound):
		return appErrors.ErrLeaseNotFound
	case errors.Is(err, services.ErrLeaseConflict):
		return appErrors.NewBadRequest(err.Error())
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}
