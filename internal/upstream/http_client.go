package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nosift/team-dh/internal/teams"
	"github.com/nosift/team-dh/pkg/logger"
)

const (
	defaultBaseURL  = "https://chatgpt.com/backend-api"
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 5
	defaultBackoff  = time.Second
	pageLimit       = 100
	maxListItems    = 500
)

// settledInviteStatuses are invite states that will never flip to accepted.
var settledInviteStatuses = map[string]bool{
	"accepted": true, "completed": true, "done": true,
	"revoked": true, "canceled": true, "cancelled": true,
	"declined": true, "expired": true,
}

// HTTPClient talks to the upstream Team API. Idempotent calls are retried on
// 429 and 5xx responses with exponential backoff; every request carries a
// fixed timeout.
type HTTPClient struct {
	base     string
	client   *http.Client
	log      *zap.Logger
	attempts int
	backoff  time.Duration
}

// HTTPOption customises the HTTPClient.
type HTTPOption func(*HTTPClient)

// WithBaseURL overrides the upstream API root, mainly for tests.
func WithBaseURL(base string) HTTPOption {
	return func(c *HTTPClient) {
		c.base = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient injects a custom http.Client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// WithRetry adjusts the retry attempt count and backoff base.
func WithRetry(attempts int, backoff time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// NewHTTPClient builds a client with sane defaults.
func NewHTTPClient(opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		base:     defaultBaseURL,
		client:   &http.Client{Timeout: defaultTimeout},
		log:      logger.WithModule("upstream"),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invite implements Client.
func (c *HTTPClient) Invite(ctx context.Context, team teams.Team, emails []string) (InviteOutcome, error) {
	payload := map[string]any{
		"email_addresses": emails,
		"role":            "standard-user",
		"resend_emails":   true,
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/invites", c.base, url.PathEscape(team.AccountID))
	body, err := c.do(ctx, http.MethodPost, endpoint, team, payload)
	if err != nil {
		return InviteOutcome{}, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return InviteOutcome{}, fmt.Errorf("decode invite response: %w", err)
	}

	var out InviteOutcome
	for _, item := range extractItems(parsed["account_invites"]) {
		if email := stringField(item, "email_address", "email"); email != "" {
			out.Accepted = append(out.Accepted, email)
		}
	}
	for _, item := range extractItems(parsed["errored_emails"]) {
		email := stringField(item, "email", "email_address")
		if email == "" {
			continue
		}
		reason := stringField(item, "error", "message")
		if reason == "" {
			reason = "unknown error"
		}
		out.Rejected = append(out.Rejected, InviteError{Email: email, Reason: reason})
	}

	// No explicit per-email breakdown means the batch went through.
	if len(out.Accepted) == 0 && len(out.Rejected) == 0 {
		out.Accepted = append(out.Accepted, emails...)
	}
	return out, nil
}

// InviteStatusForEmail implements Client.
func (c *HTTPClient) InviteStatusForEmail(ctx context.Context, team teams.Team, email string) (InviteStatus, error) {
	target := normalizeEmail(email)
	if target == "" {
		return InviteStatus{}, fmt.Errorf("empty email")
	}

	items, err := c.listPaginated(ctx, team, fmt.Sprintf("%s/accounts/%s/invites", c.base, url.PathEscape(team.AccountID)),
		"items", "account_invites", "invites", "data")
	if err != nil {
		return InviteStatus{}, err
	}

	for _, item := range items {
		if normalizeEmail(stringField(item, "email_address", "email", "emailAddress")) != target {
			continue
		}
		return InviteStatus{
			Found:     true,
			Status:    strings.ToLower(strings.TrimSpace(stringField(item, "status", "invite_status", "state"))),
			Timestamp: stringField(item, "accepted_at", "acceptedAt", "completed_at", "completedAt", "updated_at", "updatedAt", "created_at", "createdAt"),
		}, nil
	}
	return InviteStatus{}, nil
}

// MemberInfoForEmail implements Client.
func (c *HTTPClient) MemberInfoForEmail(ctx context.Context, team teams.Team, email string) (MemberInfo, error) {
	target := normalizeEmail(email)
	if target == "" {
		return MemberInfo{}, fmt.Errorf("empty email")
	}

	members, err := c.listMembers(ctx, team)
	if err != nil {
		return MemberInfo{}, err
	}

	for _, m := range members {
		if memberEmail(m) != target {
			continue
		}
		return MemberInfo{
			Found:    true,
			JoinedAt: stringField(m, "joined_at", "joinedAt", "created_at", "createdAt", "added_at", "addedAt", "updated_at", "updatedAt"),
		}, nil
	}
	return MemberInfo{}, nil
}

// RemoveMember implements Client.
func (c *HTTPClient) RemoveMember(ctx context.Context, team teams.Team, email string) error {
	target := normalizeEmail(email)
	if target == "" {
		return fmt.Errorf("empty email")
	}

	members, err := c.listMembers(ctx, team)
	if err != nil {
		return err
	}

	var memberID string
	for _, m := range members {
		if memberEmail(m) != target {
			continue
		}
		memberID = stringField(m, "id", "member_id", "memberId")
		if memberID == "" {
			if user, ok := m["user"].(map[string]any); ok {
				memberID = stringField(user, "id")
			}
		}
		break
	}
	if memberID == "" {
		return fmt.Errorf("member %s not found on team %s", target, team.Name)
	}

	endpoint := fmt.Sprintf("%s/accounts/%s/members/%s", c.base, url.PathEscape(team.AccountID), url.PathEscape(memberID))
	if _, err := c.do(ctx, http.MethodDelete, endpoint, team, nil); err == nil {
		return nil
	}

	// Some deployments only expose the remove action as a POST.
	alt := fmt.Sprintf("%s/accounts/%s/members/remove", c.base, url.PathEscape(team.AccountID))
	if _, err := c.do(ctx, http.MethodPost, alt, team, map[string]any{"member_id": memberID, "email": target}); err != nil {
		return fmt.Errorf("remove member %s: %w", target, err)
	}
	return nil
}

// SeatStats implements Client.
func (c *HTTPClient) SeatStats(ctx context.Context, team teams.Team) (SeatStats, error) {
	endpoint := fmt.Sprintf("%s/subscriptions?account_id=%s", c.base, url.QueryEscape(team.AccountID))
	body, err := c.do(ctx, http.MethodGet, endpoint, team, nil)
	if err != nil {
		return SeatStats{}, err
	}

	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return SeatStats{}, fmt.Errorf("decode subscription response: %w", err)
	}

	stats := SeatStats{
		SeatsEntitled:  intField(parsed, "seats_entitled"),
		SeatsInUse:     intField(parsed, "seats_in_use"),
		PendingInvites: intField(parsed, "pending_invites", "pending_invites_count", "pending_invite_count"),
		PlanType:       stringField(parsed, "plan_type"),
	}

	// The subscription counter under-reports pending invites at times, so
	// cross-check against the invite list and keep the larger value.
	if pending, err := c.countPendingInvites(ctx, team); err == nil && pending > stats.PendingInvites {
		stats.PendingInvites = pending
	}
	return stats, nil
}

func (c *HTTPClient) countPendingInvites(ctx context.Context, team teams.Team) (int, error) {
	items, err := c.listPaginated(ctx, team, fmt.Sprintf("%s/accounts/%s/invites", c.base, url.PathEscape(team.AccountID)),
		"items", "account_invites", "invites", "data")
	if err != nil {
		return 0, err
	}

	pending := 0
	for _, item := range items {
		status := strings.ToLower(strings.TrimSpace(stringField(item, "status", "invite_status", "state")))
		if status == "" || !settledInviteStatuses[status] {
			pending++
		}
	}
	return pending, nil
}

func (c *HTTPClient) listMembers(ctx context.Context, team teams.Team) ([]map[string]any, error) {
	// Endpoint naming differs across upstream deployments.
	paths := []string{"members", "account_users", "users"}

	var lastErr error
	for _, path := range paths {
		endpoint := fmt.Sprintf("%s/accounts/%s/%s", c.base, url.PathEscape(team.AccountID), path)
		items, err := c.listPaginated(ctx, team, endpoint, "items", "members", "data")
		if err == nil {
			return items, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *HTTPClient) listPaginated(ctx context.Context, team teams.Team, endpoint string, keys ...string) ([]map[string]any, error) {
	var all []map[string]any
	offset := 0

	for len(all) < maxListItems {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		pageURL := fmt.Sprintf("%s%soffset=%d&limit=%d", endpoint, sep, offset, pageLimit)

		body, err := c.do(ctx, http.MethodGet, pageURL, team, nil)
		if err != nil {
			return nil, err
		}

		var payload any
		if err := json.Unmarshal(body, &payload); err != nil {
			return nil, fmt.Errorf("decode list response: %w", err)
		}

		items := extractListPayload(payload, keys...)
		if len(items) == 0 {
			break
		}
		all = append(all, items...)

		offset += len(items)
		if len(items) < pageLimit {
			break
		}
	}

	if len(all) > maxListItems {
		all = all[:maxListItems]
	}
	return all, nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, team teams.Team, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		bodyBytes = encoded
	}

	attempts := c.attempts
	if !idempotentMethod(method) {
		// A timed-out POST may already have been applied upstream, so it
		// is never replayed automatically.
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := c.backoff << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reader io.Reader
		if bodyBytes != nil {
			reader = bytes.NewReader(bodyBytes)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, err
		}
		c.setHeaders(req, team)

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			c.log.Warn("upstream request failed",
				zap.String("method", method),
				zap.String("url", endpoint),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
			return body, nil
		}

		lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			c.log.Warn("upstream retriable status",
				zap.String("method", method),
				zap.String("url", endpoint),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt))
			continue
		}
		return nil, lastErr
	}
	return nil, lastErr
}

func idempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func (c *HTTPClient) setHeaders(req *http.Request, team teams.Team) {
	token := team.Token
	if token != "" && !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", token)
	req.Header.Set("Chatgpt-Account-Id", team.AccountID)
	req.Header.Set("Content-Type", "application/json")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func memberEmail(m map[string]any) string {
	email := stringField(m, "email")
	if email == "" {
		if user, ok := m["user"].(map[string]any); ok {
			email = stringField(user, "email")
		}
	}
	if email == "" {
		if au, ok := m["account_user"].(map[string]any); ok {
			email = stringField(au, "email")
		}
	}
	return normalizeEmail(email)
}

// extractListPayload pulls the item list out of a payload whose envelope
// varies: a bare array, {key: [...]}, or {key: {items: [...]}}.
func extractListPayload(payload any, keys ...string) []map[string]any {
	if items := extractItems(payload); len(items) > 0 {
		return items
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	for _, key := range keys {
		value := obj[key]
		if items := extractItems(value); len(items) > 0 {
			return items
		}
		if inner, ok := value.(map[string]any); ok {
			for _, innerKey := range keys {
				if items := extractItems(inner[innerKey]); len(items) > 0 {
					return items
				}
			}
		}
	}
	return nil
}

func extractItems(value any) []map[string]any {
	list, ok := value.([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(list))
	for _, entry := range list {
		if m, ok := entry.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func intField(m map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := m[key].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			if v != "" {
				var n int
				if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
