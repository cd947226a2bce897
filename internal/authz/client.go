// Package authz calls the main backend for per-discussion permission
// checks, role fetches, and best-effort presence notifications.
package authz

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

	"github.com/aferrand/changesd/internal/changes"
	"github.com/aferrand/changesd/internal/token"
)

const (
	permissionRead = "read"
	callTimeout    = 10 * time.Second
)

// Client is one stateless HTTP client shared by all sessions. Permission
// answers are authoritative per call and never cached: they may change
// between calls.
type Client struct {
	base string
	http *http.Client
	log  *zap.Logger
}

// New constructs a Client against the backend base URL.
func New(base string, log *zap.Logger) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: callTimeout},
		log:  log,
	}
}

// CanRead reports whether the user may read the discussion. Transport
// errors and non-OK statuses deny: permission checks fail closed.
func (c *Client) CanRead(ctx context.Context, userID, discussionID string) (bool, error) {
	u := fmt.Sprintf("%s/api/v1/discussion/%s/permissions/%s/u/%s",
		c.base, url.PathEscape(discussionID), permissionRead, url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
	if err != nil {
		return false, fmt.Errorf("permission check: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, nil
	}
	return strings.TrimSpace(string(body)) == "true", nil
}

// RolesFor fetches the user's roles in the discussion. The result always
// contains everyone, plus authenticated for non-anonymous users.
func (c *Client) RolesFor(ctx context.Context, userID, discussionID string) (changes.RoleSet, error) {
	u := fmt.Sprintf("%s/api/v1/discussion/%s/roles/allfor/%s",
		c.base, url.PathEscape(discussionID), url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("role fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("role fetch: backend returned %s", resp.Status)
	}
	var roles []string
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		return nil, fmt.Errorf("role fetch: %w", err)
	}
	rs := changes.NewRoleSet(roles...)
	rs.Add(changes.RoleEveryone)
	if userID != token.Anonymous {
		rs.Add(changes.RoleAuthenticated)
	}
	return rs, nil
}

// Connecting reports that the user's session in the discussion came up.
// Best-effort: failures are logged and never gate delivery.
func (c *Client) Connecting(ctx context.Context, discussionID, userID, rawToken string) {
	c.presence(ctx, discussionID, userID, rawToken, "connecting")
}

// Disconnecting reports that the user's session in the discussion went
// away. Best-effort, like Connecting.
func (c *Client) Disconnecting(ctx context.Context, discussionID, userID, rawToken string) {
	c.presence(ctx, discussionID, userID, rawToken, "disconnecting")
}

func (c *Client) presence(ctx context.Context, discussionID, userID, rawToken, event string) {
	u := fmt.Sprintf("%s/data/Discussion/%s/all_users/%s/%s",
		c.base, url.PathEscape(discussionID), url.PathEscape(userID), event)
	body, err := json.Marshal(map[string]string{"token": rawToken})
	if err != nil {
		c.log.Warn("presence payload", zap.String("event", event), zap.Error(err))
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		c.log.Warn("presence request", zap.String("event", event), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("presence notification failed",
			zap.String("event", event),
			zap.String("discussion", discussionID),
			zap.Error(err),
		)
		return
	}
	_ = resp.Body.Close()
}
