package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nosift/team-dh/internal/teams"
)

func testTeam() teams.Team {
	return teams.Team{Name: "Alpha", AccountID: "acct-1", Token: "tok"}
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(
		WithBaseURL(server.URL),
		WithRetry(3, time.Millisecond),
	)
}

func TestInviteParsesOutcome(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/accounts/acct-1/invites", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "acct-1", r.Header.Get("Chatgpt-Account-Id"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"account_invites": [{"email_address": "ok@example.com"}],
			"errored_emails": [{"email": "bad@example.com", "error": "already a member"}]
		}`))
	}))

	out, err := client.Invite(context.Background(), testTeam(), []string{"ok@example.com", "bad@example.com"})
	require.NoError(t, err)
	require.Equal(t, []string{"ok@example.com"}, out.Accepted)
	require.Len(t, out.Rejected, 1)
	require.Equal(t, "bad@example.com", out.Rejected[0].Email)
	require.Equal(t, "already a member", out.Rejected[0].Reason)
}

func TestInviteAssumesSuccessWithoutBreakdown(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	out, err := client.Invite(context.Background(), testTeam(), []string{"a@example.com"})
	require.NoError(t, err)
	require.Equal(t, []string{"a@example.com"}, out.Accepted)
	require.Empty(t, out.Rejected)
}

func TestInviteStatusForEmail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": [
			{"email_address": "Other@example.com", "status": "pending"},
			{"email_address": "User@Example.com", "status": "Accepted", "accepted_at": "2026-01-07T12:00:00Z"}
		]}`))
	}))

	status, err := client.InviteStatusForEmail(context.Background(), testTeam(), "user@example.com")
	require.NoError(t, err)
	require.True(t, status.Found)
	require.Equal(t, "accepted", status.Status)
	require.Equal(t, "2026-01-07T12:00:00Z", status.Timestamp)

	status, err = client.InviteStatusForEmail(context.Background(), testTeam(), "absent@example.com")
	require.NoError(t, err)
	require.False(t, status.Found)
}

func TestMemberInfoHandlesNestedEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"members": {"items": [
			{"user": {"email": "user@example.com"}, "created_at": "2026-02-01 08:00:00"}
		]}}`))
	}))

	info, err := client.MemberInfoForEmail(context.Background(), testTeam(), "user@example.com")
	require.NoError(t, err)
	require.True(t, info.Found)
	require.Equal(t, "2026-02-01 08:00:00", info.JoinedAt)
}

func TestSeatStatsCrossChecksPendingInvites(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/subscriptions":
			require.Equal(t, "acct-1", r.URL.Query().Get("account_id"))
			_, _ = w.Write([]byte(`{"seats_entitled": 10, "seats_in_use": 6, "pending_invites": 1, "plan_type": "team"}`))
		case "/accounts/acct-1/invites":
			_, _ = w.Write([]byte(`{"items": [
				{"email_address": "a@example.com", "status": "pending"},
				{"email_address": "b@example.com", "status": ""},
				{"email_address": "c@example.com", "status": "accepted"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))

	stats, err := client.SeatStats(context.Background(), testTeam())
	require.NoError(t, err)
	require.Equal(t, 10, stats.SeatsEntitled)
	require.Equal(t, 6, stats.SeatsInUse)
	require.Equal(t, 2, stats.PendingInvites, "invite list count must win when larger")
	require.Equal(t, 2, stats.Available())
}

func TestRemoveMemberFallsBackToPost(t *testing.T) {
	var deleteTried, postTried atomic.Bool
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/accounts/acct-1/members" && r.Method == http.MethodGet:
			_, _ = w.Write([]byte(`{"items": [{"id": "m-1", "email": "user@example.com"}]}`))
		case r.URL.Path == "/accounts/acct-1/members/m-1" && r.Method == http.MethodDelete:
			deleteTried.Store(true)
			http.Error(w, "not allowed", http.StatusNotFound)
		case r.URL.Path == "/accounts/acct-1/members/remove" && r.Method == http.MethodPost:
			postTried.Store(true)
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))

	err := client.RemoveMember(context.Background(), testTeam(), "user@example.com")
	require.NoError(t, err)
	require.True(t, deleteTried.Load())
	require.True(t, postTried.Load())
}

func TestRemoveMemberUnknownEmail(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items": []}`))
	}))

	err := client.RemoveMember(context.Background(), testTeam(), "ghost@example.com")
	require.Error(t, err)
}

func TestRetryOnTransientStatus(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"seats_entitled": 5, "seats_in_use": 1}`))
	}))

	stats, err := client.SeatStats(context.Background(), testTeam())
	require.NoError(t, err)
	require.Equal(t, 5, stats.SeatsEntitled)
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestInviteNeverRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "upstream hiccup", http.StatusBadGateway)
	}))

	// A replayed invite could double-send; the failure must surface after a
	// single attempt and leave the retry decision to the caller.
	_, err := client.Invite(context.Background(), testTeam(), []string{"a@example.com"})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := client.SeatStats(context.Background(), testTeam())
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}
