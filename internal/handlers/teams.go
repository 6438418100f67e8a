package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nosift/team-dh/internal/services"
	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/internal/upstream"
	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// TeamHandler exposes the configured team pool and its cached health.
// Tokens never leave the process; the payload carries names, account ids
// and the status cache only.
type TeamHandler struct {
	registry *teams.Registry
	status   *services.TeamStatusService
	client   upstream.Client
}

func NewTeamHandler(registry *teams.Registry, status *services.TeamStatusService, client upstream.Client) *TeamHandler {
	return &TeamHandler{registry: registry, status: status, client: client}
}

type teamView struct {
	Name            string     `json:"name"`
	AccountID       string     `json:"account_id"`
	Usable          bool       `json:"usable"`
	IsActive        bool       `json:"is_active"`
	StatusError     string     `json:"status_error,omitempty"`
	TotalSeats      int        `json:"total_seats"`
	UsedSeats       int        `json:"used_seats"`
	PendingInvites  int        `json:"pending_invites"`
	AvailableSeats  int        `json:"available_seats"`
	EstCreatedAt    *time.Time `json:"est_created_at,omitempty"`
	CreatedAtSource string     `json:"created_at_source,omitempty"`
	LastCheckedAt   *time.Time `json:"last_checked_at,omitempty"`
	FirstSeenAt     *time.Time `json:"first_seen_at,omitempty"`
}

// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	cached, err := h.status.ListAll(requestContext(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	byName := make(map[string]int, len(cached))
	for i := range cached {
		byName[cached[i].TeamName] = i
	}

	views := make([]teamView, 0, h.registry.Len())
	for _, team := range h.registry.All() {
		view := teamView{
			Name:      team.Name,
			AccountID: team.AccountID,
			Usable:    team.Usable(),
			IsActive:  true, // unknown teams count as active until checked
		}
		if i, ok := byName[team.Name]; ok {
			status := cached[i]
			view.IsActive = status.IsActive
			view.StatusError = status.StatusError
			view.TotalSeats = status.TotalSeats
			view.UsedSeats = status.UsedSeats
			view.PendingInvites = status.PendingInvites
			view.AvailableSeats = status.AvailableSeats()
			view.EstCreatedAt = status.EstCreatedAt
			view.CreatedAtSource = status.CreatedAtSource
			view.LastCheckedAt = status.LastCheckedAt
			view.FirstSeenAt = status.FirstSeenAt
		}
		views = append(views, view)
	}

	response.Success(c, http.StatusOK, views)
}

// GET /api/teams/:name/seats queries the upstream live instead of the cache.
func (h *TeamHandler) Seats(c *gin.Context) {
	team, ok := h.registry.Resolve(c.Param("name"))
	if !ok {
		response.Error(c, appErrors.ErrTeamNotConfigured)
		return
	}
	if !team.Usable() {
		response.Error(c, appErrors.NewBadRequest("team has no credentials configured"))
		return
	}

	stats, err := h.client.SeatStats(requestContext(c), team)
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"team_name":       team.Name,
		"seats_entitled":  stats.SeatsEntitled,
		"seats_in_use":    stats.SeatsInUse,
		"pending_invites": stats.PendingInvites,
		"available":       stats.Available(),
		"plan_type":       stats.PlanType,
	})
}

// POST /api/teams/check runs the health check for every configured team now.
func (h *TeamHandler) Check(c *gin.Context) {
	if err := h.status.CheckAll(requestContext(c)); err != nil {
		// Partial results are already persisted; report the first failure.
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.SuccessWithMessage(c, http.StatusOK, "team status refreshed", nil)
}

type reloadTeamEntry struct {
	Name      string `json:"name" validate:"required"`
	AccountID string `json:"account_id"`
	Token     string `json:"token"`
}

type reloadTeamsRequest struct {
	Teams []reloadTeamEntry `json:"teams" validate:"required,min=1,dive"`
}

// POST /api/teams/reload swaps the credential snapshot without a restart.
// Tokens arrive in the request body and are never echoed back.
func (h *TeamHandler) Reload(c *gin.Context) {
	var req reloadTeamsRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pool := make([]teams.Team, 0, len(req.Teams))
	for _, entry := range req.Teams {
		pool = append(pool, teams.Team{
			Name:      entry.Name,
			AccountID: entry.AccountID,
			Token:     entry.Token,
		})
	}

	h.registry.Reload(pool)
	response.SuccessWithMessage(c, http.StatusOK, "team pool reloaded", gin.H{"count": h.registry.Len()})
}

// POST /api/teams/sync-created re-estimates team creation times from lease
// and redemption history.
func (h *TeamHandler) SyncCreated(c *gin.Context) {
	updated, err := h.status.SyncCreatedTime(requestContext(c))
	if err != nil {
		response.Error(c, appErrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}
