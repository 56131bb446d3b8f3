// Package upstream is the REST client for the handoff backend.
//
// It injects the persisted bearer token on every request and applies a
// uniform interceptor: a 401 clears all persisted credentials and fires the
// session-expired hook; 403/404/500 are logged and surfaced as typed errors,
// never as a global failure.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/internal/auth"
	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/pkg/logger"
	"github.com/chatdesk/handoff-console/pkg/metrics"
)

var (
	// ErrSessionExpired means the backend rejected our token; persisted
	// credentials have been cleared.
	ErrSessionExpired = errors.New("upstream session expired")
	// ErrForbidden means the backend denied the operation.
	ErrForbidden = errors.New("upstream forbidden")
	// ErrNotFound means the resource or endpoint does not exist.
	ErrNotFound = errors.New("upstream not found")
	// ErrConflict means another agent won the claim race.
	ErrConflict = errors.New("upstream conflict")
	// ErrUpstream is any other non-2xx backend response.
	ErrUpstream = errors.New("upstream error")
	// ErrDegraded wraps list-endpoint failures that degrade to an empty
	// list instead of an error state.
	ErrDegraded = errors.New("upstream degraded")
)

// Config holds upstream client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the handoff backend.
type Client struct {
	baseURL string
	http    *http.Client
	creds   auth.Store
	logger  *logger.Logger

	onSessionExpired func()
	expired          atomic.Bool
}

// New creates a new upstream client. onSessionExpired is invoked at most once
// per expiry, after credentials have been cleared; it may be nil.
func New(cfg Config, creds auth.Store, log *logger.Logger, onSessionExpired func()) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		creds:   creds,
		logger:  log,
		onSessionExpired: onSessionExpired,
	}
}

// Reauthenticated resets the expiry latch after credentials are replaced.
func (c *Client) Reauthenticated() {
	c.expired.Store(false)
}

// PendingSessions fetches all sessions awaiting a human agent. On a 404/5xx
// it degrades to an empty list wrapped in ErrDegraded.
func (c *Client) PendingSessions(ctx context.Context) ([]model.ConversationSession, error) {
	body, err := c.do(ctx, http.MethodGet, "/handoff/pending", nil)
	if err != nil {
		return nil, degradeList("pending", err)
	}
	sessions, err := decodeList[model.ConversationSession](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode pending sessions: %w", err)
	}
	return sessions, nil
}

// ActiveSessions fetches sessions assigned to the given admin. On a 404/5xx
// it degrades to an empty list wrapped in ErrDegraded.
func (c *Client) ActiveSessions(ctx context.Context, adminID int64) ([]model.ConversationSession, error) {
	path := "/handoff/active?admin_id=" + strconv.FormatInt(adminID, 10)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, degradeList("active", err)
	}
	sessions, err := decodeList[model.ConversationSession](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode active sessions: %w", err)
	}
	return sessions, nil
}

// History fetches the ordered message history for a session, bounded by limit.
func (c *Client) History(ctx context.Context, sessionID int64, limit int) ([]model.Message, error) {
	path := fmt.Sprintf("/chat/%d/history?limit=%d", sessionID, limit)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, degradeList("history", err)
	}
	messages, err := decodeList[model.Message](body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return messages, nil
}

// Accept claims a pending session for the given admin. The claim is exclusive
// server-side; losing the race surfaces as ErrConflict or as the session
// simply vanishing from pending on the next poll.
func (c *Client) Accept(ctx context.Context, sessionID, adminID int64) error {
	path := fmt.Sprintf("/handoff/%d/accept", sessionID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]int64{"admin_id": adminID})
	return err
}

// Close ends a human-active session, returning the customer to the bot.
func (c *Client) Close(ctx context.Context, sessionID, adminID int64) error {
	path := fmt.Sprintf("/handoff/%d/close", sessionID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]int64{"admin_id": adminID})
	return err
}

// SendMessage appends an agent message to a session.
func (c *Client) SendMessage(ctx context.Context, sessionID, adminID int64, text string) error {
	path := fmt.Sprintf("/handoff/%d/message", sessionID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"admin_id": adminID,
		"message":  text,
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	creds, err := c.creds.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.Empty() {
		return nil, ErrSessionExpired
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("X-Correlation-ID", uuid.New().String())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	endpoint := endpointLabel(req.URL)
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.handleSessionExpiry()
		return nil, ErrSessionExpired
	case http.StatusForbidden:
		c.logger.Warn("upstream denied request",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%s: %w", endpoint, ErrForbidden)
	case http.StatusNotFound:
		c.logger.Warn("upstream endpoint not found",
			zap.String("endpoint", endpoint))
		return nil, fmt.Errorf("%s: %w", endpoint, ErrNotFound)
	case http.StatusConflict:
		return nil, fmt.Errorf("%s: %w", endpoint, ErrConflict)
	default:
		c.logger.Warn("upstream request failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%s returned %d: %w", endpoint, resp.StatusCode, ErrUpstream)
	}
}

// handleSessionExpiry clears all persisted credentials and fires the expiry
// hook at most once until Reauthenticated is called.
func (c *Client) handleSessionExpiry() {
	if err := c.creds.Clear(); err != nil {
		c.logger.Error("failed to clear credentials", zap.Error(err))
	}
	metrics.SessionExpiriesTotal.Inc()
	if c.expired.CompareAndSwap(false, true) && c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}

// degradeList maps not-found and server failures on list endpoints to an
// empty-list degradation; auth and transport errors pass through.
func degradeList(endpoint string, err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUpstream) {
		return fmt.Errorf("%s list degraded: %w", endpoint, errors.Join(ErrDegraded, err))
	}
	return err
}

// endpointLabel collapses numeric path segments so metric labels stay bounded.
func endpointLabel(u *url.URL) string {
	parts := strings.Split(u.Path, "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		numeric := true
		for _, r := range p {
			if r < '0' || r > '9' {
				numeric = false
				break
			}
		}
		if numeric {
			parts[i] = "{id}"
		}
	}
	return strings.Join(parts, "/")
}
