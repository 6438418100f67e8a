package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/nosift/team-dh/pkg/errors"
	"github.com/nosift/team-dh/pkg/response"
	appValidator "github.com/nosift/team-dh/pkg/validator"
)

// requestContext returns the request context, falling back to Background for
// handlers invoked without a request in tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil || c.Request == nil {
		return context.Background()
	}
	return c.Request.Context()
}

// emailParam reads and validates the :email route parameter. Lease lookups
// are keyed by normalized lowercase email, so the same folding happens here.
// On a malformed address a bad request response is written and ok is false.
func emailParam(c *gin.Context) (email string, ok bool) {
	email = strings.ToLower(strings.TrimSpace(c.Param("email")))
	if err := appValidator.ValidateVar(email, "required,email"); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid email parameter"))
		return "", false
	}
	return email, true
}
