package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nosift/team-dh/internal/database/testutil"
	"github.com/nosift/team-dh/internal/models"
	"github.com/nosift/team-dh/internal/teams"
)

func newPickerEnv(t *testing.T, list []teams.Team) (*TeamPicker, *gorm.DB) {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	picker, err := NewTeamPicker(db, teams.NewRegistry(list))
	require.NoError(t, err)
	return picker, db
}

func TestCandidatesExcludesCurrentTeam(t *testing.T) {
	picker, _ := newPickerEnv(t, []teams.Team{
		{Name: "Alpha", AccountID: "acct-a", Token: "t"},
		{Name: "Beta", AccountID: "acct-b", Token: "t"},
		{Name: "Gamma", AccountID: "acct-c", Token: "t"},
	})

	got, err := picker.Candidates(context.Background(), "Alpha", "acct-a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, team := range got {
		require.NotEqual(t, "Alpha", team.Name)
	}
}

func TestCandidatesRequiresTwoUsableTeams(t *testing.T) {
	picker, _ := newPickerEnv(t, []teams.Team{
		{Name: "Alpha", AccountID: "acct-a", Token: "t"},
		{Name: "NoToken", AccountID: "acct-b"},
	})

	got, err := picker.Candidates(context.Background(), "Alpha", "acct-a")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCandidatesSkipsInactiveTeams(t *testing.T) {
	picker, db := newPickerEnv(t, []teams.Team{
		{Name: "Alpha", AccountID: "acct-a", Token: "t"},
		{Name: "Beta", AccountID: "acct-b", Token: "t"},
		{Name: "Gamma", AccountID: "acct-c", Token: "t"},
	})

	require.NoError(t, db.Create(&models.TeamStatus{
		TeamName: "Beta", AccountID: "acct-b", IsActive: false, StatusError: "credentials revoked",
	}).Error)

	got, err := picker.Candidates(context.Background(), "Alpha", "acct-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Gamma", got[0].Name)
}

func TestCandidatesOrderedOldestFirst(t *testing.T) {
	picker, db := newPickerEnv(t, []teams.Team{
		{Name: "Alpha", AccountID: "acct-a", Token: "t"},
		{Name: "Beta", AccountID: "acct-b", Token: "t"},
		{Name: "Gamma", AccountID: "acct-c", Token: "t"},
		{Name: "Delta", AccountID: "acct-d", Token: "t"},
	})

	old := time.Now().Add(-90 * 24 * time.Hour)
	newer := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, db.Create(&models.TeamStatus{
		TeamName: "Gamma", AccountID: "acct-c", IsActive: true, EstCreatedAt: &newer,
	}).Error)
	require.NoError(t, db.Create(&models.TeamStatus{
		TeamName: "Delta", AccountID: "acct-d", IsActive: true, EstCreatedAt: &old,
	}).Error)

	got, err := picker.Candidates(context.Background(), "Alpha", "acct-a")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "Delta", got[0].Name, "oldest estimated team goes first")
	require.Equal(t, "Gamma", got[1].Name)
	require.Equal(t, "Beta", got[2].Name, "unknown-age team sorts last")
}
