package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/nosift/team-dh/internal/auth"
	"github.com/nosift/team-dh/internal/middleware"
	"github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
)

// AuthHandler manages operator authentication (login/me).
type AuthHandler struct {
	admin *iauth.AdminService
}

func NewAuthHandler(admin *iauth.AdminService) *AuthHandler {
	return &AuthHandler{admin: admin}
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		response.Error(c, errors.NewBadRequest("username is required"))
		return
	}

	token, expiresAt, err := h.admin.Login(req.Username, req.Password)
	if err != nil {
		// Normalise auth errors to 401
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := c.Get(middleware.CtxClaimsKey)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}
	adminClaims, ok := claims.(*iauth.Claims)
	if !ok {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"username": adminClaims.Username,
		"role":     adminClaims.Role,
	})
}
