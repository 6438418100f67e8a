package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nosift/team-dh/internal/app"
)

func TestConvertDatabaseConfigDefaultsToSQLite(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Path = " ./data/teamdh.sqlite "

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "sqlite", dbCfg.Driver)
	require.Equal(t, "./data/teamdh.sqlite", dbCfg.Path)
}

func TestConvertDatabaseConfigPostgres(t *testing.T) {
	cfg := &app.Config{}
	cfg.Database.Driver = "PostgreSQL"
	cfg.Database.Postgres = app.DBAuthConfig{
		Host:     "db.internal",
		Port:     5432,
		Database: "teamdh",
		Username: "teamdh",
		Password: "secret",
	}

	dbCfg := convertDatabaseConfig(cfg)
	require.Equal(t, "postgres", dbCfg.Driver)
	require.Equal(t, "db.internal", dbCfg.Host)
	require.Equal(t, 5432, dbCfg.Port)
	require.Equal(t, "teamdh", dbCfg.Name)
}

func TestLoadApplicationConfigRejectsMissingPath(t *testing.T) {
	_, err := loadApplicationConfig("/definitely/not/here")
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}

func TestCountUsable(t *testing.T) {
	cfg := &app.Config{}
	cfg.Teams.List = []app.TeamEntry{
		{Name: "Alpha", AccountID: "acct-a", Token: "tok"},
		{Name: "Beta"},
	}

	pool, err := cfg.Teams.Pool()
	require.NoError(t, err)
	require.Equal(t, 1, countUsable(pool))
}
