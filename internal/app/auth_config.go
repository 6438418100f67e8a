package app

import (
	"github.com/nosift/team-dh/internal/auth"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}

	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// AdminServiceConfig converts AuthConfig into AdminService parameters.
func (c AuthConfig) AdminServiceConfig() auth.AdminConfig {
	return auth.AdminConfig{
		Username:     c.Admin.Username,
		Password:     c.Admin.Password,
		PasswordHash: c.Admin.PasswordHash,
	}
}
