package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nosift/team-dh/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.False(t, cfg.Server.Metrics)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, "ops", cfg.Auth.Admin.Username)
	require.Equal(t, "hunter2", cfg.Auth.Admin.Password)

	require.Equal(t, "https://upstream.example.com/backend-api", cfg.Upstream.BaseURL)
	require.Equal(t, 20*time.Second, cfg.Upstream.Timeout)
	require.Equal(t, 3, cfg.Upstream.RetryAttempts)

	require.False(t, cfg.Transfer.Enabled)
	require.Equal(t, 5*time.Minute, cfg.Transfer.PollInterval)
	require.Equal(t, 10, cfg.Transfer.BatchLimit)
	require.Equal(t, 2, cfg.Transfer.TermMonths)
	require.Equal(t, 6, cfg.Transfer.MaxAttempts)
	require.True(t, cfg.Transfer.AllowApproxJoin)
	require.True(t, cfg.Transfer.EvictOldTeam)

	require.Equal(t, 3, cfg.Redeem.IPRateLimit)

	require.Len(t, cfg.Teams.List, 2)
	require.Equal(t, "Alpha", cfg.Teams.List[0].Name)
	require.Equal(t, "acct-alpha", cfg.Teams.List[0].AccountID)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.True(t, cfg.Server.Metrics)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 12*time.Hour, cfg.Auth.JWT.TTL)
	require.True(t, cfg.Transfer.Enabled)
	require.Equal(t, 10*time.Minute, cfg.Transfer.PollInterval)
	require.Equal(t, 10, cfg.Transfer.MaxAttempts)
	require.Equal(t, 5, cfg.Redeem.IPRateLimit)
}

func TestTeamsConfigPool(t *testing.T) {
	cfg := TeamsConfig{
		List: []TeamEntry{
			{Name: " Alpha ", AccountID: "acct-a", Token: "tok-a"},
			{AccountID: "acct-b", Token: "tok-b"},
		},
	}

	pool, err := cfg.Pool()
	require.NoError(t, err)
	require.Len(t, pool, 2)
	require.Equal(t, "Alpha", pool[0].Name)
	require.Equal(t, "Team 2", pool[1].Name)
}

func TestTeamsConfigPoolJSONOverride(t *testing.T) {
	cfg := TeamsConfig{
		List: []TeamEntry{{Name: "Ignored", AccountID: "x", Token: "y"}},
		JSON: `[{"name":"Gamma","account_id":"acct-g","token":"tok-g"}]`,
	}

	pool, err := cfg.Pool()
	require.NoError(t, err)
	require.Len(t, pool, 1)
	require.Equal(t, "Gamma", pool[0].Name)

	cfg.JSON = "not json"
	_, err = cfg.Pool()
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Auth.JWT.Secret = "secret"
	require.Error(t, cfg.Validate())

	cfg.Auth.Admin.Username = "ops"
	require.Error(t, cfg.Validate())

	cfg.Auth.Admin.PasswordHash = "$2a$10$hash"
	require.NoError(t, cfg.Validate())
}

func TestAuthConfigAdapters(t *testing.T) {
	cfg := Config{
		Auth: AuthConfig{
			JWT: JWTSettings{
				Secret: "secret",
				Issuer: "issuer",
				TTL:    30 * time.Minute,
			},
			Admin: AdminSettings{
				Username: "ops",
				Password: "hunter2",
			},
		},
	}

	jwtCfg := cfg.Auth.JWTServiceConfig()
	require.Equal(t, auth.JWTConfig{
		Secret:         "secret",
		Issuer:         "issuer",
		AccessTokenTTL: 30 * time.Minute,
	}, jwtCfg)

	adminCfg := cfg.Auth.AdminServiceConfig()
	require.Equal(t, auth.AdminConfig{
		Username: "ops",
		Password: "hunter2",
	}, adminCfg)
}

func TestAuthConfigAdaptersFallback(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig()
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)
}
