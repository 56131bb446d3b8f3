// Package controller implements the conversation handoff controller: the
// agent-side state machine over the remote handoff backend. It keeps polled
// snapshots of the pending and active session lists plus the message buffer
// of the one open conversation, and performs the agent write operations
// (accept, reply, close), each followed by an immediate re-read.
package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatdesk/handoff-console/internal/model"
	"github.com/chatdesk/handoff-console/internal/upstream"
	"github.com/chatdesk/handoff-console/pkg/logger"
	"github.com/chatdesk/handoff-console/pkg/metrics"
)

var (
	// ErrEmptyMessage means the reply was empty after trimming; no request
	// is issued.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoOpenConversation means no conversation is selected.
	ErrNoOpenConversation = errors.New("no conversation selected")
	// ErrConversationNotOpen means the write named a session other than the
	// open one.
	ErrConversationNotOpen = errors.New("conversation is not open")
	// ErrBusy means a write for the same session is still in flight.
	ErrBusy = errors.New("operation already in flight")
	// ErrNotStarted means Start has not been called.
	ErrNotStarted = errors.New("controller not started")
)

// Intervals holds the fixed polling periods.
type Intervals struct {
	Pending  time.Duration
	Active   time.Duration
	Messages time.Duration
}

// PendingAlertFunc is invoked when the pending queue grows between polls.
// It never fires on the first successful poll.
type PendingAlertFunc func(added []model.ConversationSession, total int)

// Controller mediates between the handoff backend and agent-facing views.
type Controller struct {
	client       *upstream.Client
	adminID      int64
	intervals    Intervals
	historyLimit int
	onGrowth     PendingAlertFunc
	logger       *logger.Logger

	mu              sync.Mutex
	pending         []model.ConversationSession
	active          []model.ConversationSession
	pendingBaseline bool
	pendingSeq      uint64
	activeSeq       uint64
	open            *openConversation
	inFlight        map[int64]bool

	runCtx        context.Context
	runCancel     context.CancelFunc
	pendingPoller *poller
	activePoller  *poller
}

// openConversation is the one conversation the agent has on screen. Its
// poller is the only message poller alive; switching conversations stops it
// before a new one starts.
type openConversation struct {
	sessionID int64
	messages  []model.Message
	seq       uint64
	poller    *poller
}

// New creates a controller acting as the given admin. onGrowth may be nil.
func New(client *upstream.Client, adminID int64, intervals Intervals, historyLimit int, onGrowth PendingAlertFunc, log *logger.Logger) *Controller {
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &Controller{
		client:       client,
		adminID:      adminID,
		intervals:    intervals,
		historyLimit: historyLimit,
		onGrowth:     onGrowth,
		logger:       log,
		inFlight:     make(map[int64]bool),
	}
}

// AdminID returns the admin this controller acts as.
func (c *Controller) AdminID() int64 {
	return c.adminID
}

// Start launches the pending and active list pollers. It must be called
// before any other operation.
func (c *Controller) Start(ctx context.Context) {
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.pendingPoller = startPoller(c.runCtx, "pending", c.intervals.Pending, c.logger, c.refreshPending)
	c.activePoller = startPoller(c.runCtx, "active", c.intervals.Active, c.logger, c.refreshActive)
}

// Stop tears down all pollers. No poll request begins after Stop returns.
func (c *Controller) Stop() {
	if c.runCancel != nil {
		c.runCancel()
	}
	if c.pendingPoller != nil {
		c.pendingPoller.Stop()
	}
	if c.activePoller != nil {
		c.activePoller.Stop()
	}

	c.mu.Lock()
	open := c.open
	c.open = nil
	c.mu.Unlock()
	if open != nil {
		open.poller.Stop()
	}
}

// Pending returns a copy of the pending snapshot.
func (c *Controller) Pending() []model.ConversationSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ConversationSession(nil), c.pending...)
}

// Active returns a copy of the active snapshot.
func (c *Controller) Active() []model.ConversationSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ConversationSession(nil), c.active...)
}

// OpenSessionID returns the selected conversation, if any.
func (c *Controller) OpenSessionID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return 0, false
	}
	return c.open.sessionID, true
}

// Messages returns a copy of the open conversation's message buffer.
func (c *Controller) Messages() ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return nil, ErrNoOpenConversation
	}
	return append([]model.Message(nil), c.open.messages...), nil
}

// History fetches a bounded message history without selecting the session.
func (c *Controller) History(ctx context.Context, sessionID int64) ([]model.Message, error) {
	return c.client.History(ctx, sessionID, c.historyLimit)
}

// Accept claims a pending session for this agent. On success both lists are
// re-read immediately and the session becomes the open conversation. On
// failure the session stays in the pending snapshot untouched; a lost claim
// race surfaces as upstream.ErrConflict.
func (c *Controller) Accept(ctx context.Context, sessionID int64) error {
	if c.runCtx == nil {
		return ErrNotStarted
	}
	if !c.tryAcquire(sessionID) {
		return ErrBusy
	}
	defer c.release(sessionID)

	if err := c.client.Accept(ctx, sessionID, c.adminID); err != nil {
		return err
	}
	metrics.SessionsAccepted.Inc()

	// Write implies re-read; failures here only delay the snapshot until
	// the next poll tick.
	if err := c.refreshPending(ctx); err != nil {
		c.logger.Warn("pending re-read after accept failed", zap.Error(err))
	}
	if err := c.refreshActive(ctx); err != nil {
		c.logger.Warn("active re-read after accept failed", zap.Error(err))
	}

	return c.Open(sessionID)
}

// Open selects a conversation, stopping any previous message poller before
// the new one starts. At most one message poller is ever alive.
func (c *Controller) Open(sessionID int64) error {
	if c.runCtx == nil {
		return ErrNotStarted
	}

	c.mu.Lock()
	if c.open != nil && c.open.sessionID == sessionID {
		c.mu.Unlock()
		return nil
	}
	prev := c.open
	c.open = nil
	c.mu.Unlock()

	if prev != nil {
		prev.poller.Stop()
	}

	// The poller must be set before oc is published: CloseView and Stop read
	// open.poller as soon as they can see oc. Ticks that fire before the
	// publish are discarded by refreshMessages' c.open != oc guard.
	oc := &openConversation{sessionID: sessionID}
	oc.poller = startPoller(c.runCtx, "messages", c.intervals.Messages, c.logger.WithSession(sessionID, c.adminID), func(ctx context.Context) error {
		return c.refreshMessages(ctx, oc)
	})

	// Re-check under the lock: a racing Open may have published its own
	// conversation since we dropped the mutex. Whatever we displace gets
	// stopped, so every displaced poller is stopped exactly once.
	c.mu.Lock()
	displaced := c.open
	c.open = oc
	c.mu.Unlock()
	if displaced != nil {
		displaced.poller.Stop()
	}
	return nil
}

// CloseView deselects the open conversation and stops its poller.
func (c *Controller) CloseView() {
	c.mu.Lock()
	open := c.open
	c.open = nil
	c.mu.Unlock()
	if open != nil {
		open.poller.Stop()
	}
}

// SendMessage sends an agent reply to the given session, which must be the
// open conversation; the id is verified against the selection so a reply
// racing a conversation switch can never land in the wrong session. Empty or
// whitespace-only text is rejected before any request is issued. A successful
// send triggers an immediate history re-read instead of waiting for the next
// poll tick.
func (c *Controller) SendMessage(ctx context.Context, sessionID int64, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	oc := c.open
	c.mu.Unlock()
	if oc == nil {
		return ErrNoOpenConversation
	}
	if oc.sessionID != sessionID {
		return ErrConversationNotOpen
	}

	if !c.tryAcquire(oc.sessionID) {
		return ErrBusy
	}
	defer c.release(oc.sessionID)

	if err := c.client.SendMessage(ctx, oc.sessionID, c.adminID, trimmed); err != nil {
		return err
	}
	metrics.AgentMessagesTotal.Inc()

	if err := c.refreshMessages(ctx, oc); err != nil {
		c.logger.Warn("history re-read after send failed",
			zap.Int64("session_id", oc.sessionID), zap.Error(err))
	}
	return nil
}

// CloseSession ends the given session, returning the customer to the bot.
// Like SendMessage, the id must match the open conversation. On success the
// view is cleared and the session drops out of the active snapshot
// immediately.
func (c *Controller) CloseSession(ctx context.Context, sessionID int64) error {
	c.mu.Lock()
	oc := c.open
	c.mu.Unlock()
	if oc == nil {
		return ErrNoOpenConversation
	}
	if oc.sessionID != sessionID {
		return ErrConversationNotOpen
	}

	if !c.tryAcquire(oc.sessionID) {
		return ErrBusy
	}

	err := c.client.Close(ctx, oc.sessionID, c.adminID)
	c.release(oc.sessionID)
	if err != nil {
		return err
	}
	metrics.SessionsClosed.Inc()

	// Clear the view only if this conversation is still the selected one;
	// a switch that raced the close keeps its own selection.
	c.mu.Lock()
	var stop *poller
	if c.open == oc {
		c.open = nil
		stop = oc.poller
	}
	c.mu.Unlock()
	if stop != nil {
		stop.Stop()
	}

	c.mu.Lock()
	kept := c.active[:0]
	for _, s := range c.active {
		if s.SessionID != oc.sessionID {
			kept = append(kept, s)
		}
	}
	c.active = kept
	metrics.ActiveSessions.Set(float64(len(kept)))
	c.mu.Unlock()

	if err := c.refreshActive(ctx); err != nil {
		c.logger.Warn("active re-read after close failed",
			zap.Int64("session_id", oc.sessionID), zap.Error(err))
	}
	return nil
}

// refreshPending replaces the pending snapshot. A response whose request was
// superseded by a newer one is discarded, never applied; a failed poll
// replaces the snapshot with an empty list rather than leaving stale data.
func (c *Controller) refreshPending(ctx context.Context) error {
	c.mu.Lock()
	c.pendingSeq++
	seq := c.pendingSeq
	c.mu.Unlock()

	sessions, err := c.client.PendingSessions(ctx)

	var alertAdded []model.ConversationSession
	var alertTotal int

	c.mu.Lock()
	if seq != c.pendingSeq {
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		// The emptied snapshot is not a baseline; without this reset the
		// next successful poll would re-alert every session it already knew.
		c.pending = nil
		c.pendingBaseline = false
		metrics.PendingSessions.Set(0)
		c.mu.Unlock()
		return err
	}

	filtered := sessions[:0]
	for _, s := range sessions {
		if s.Status == model.StatusHumanPending {
			filtered = append(filtered, s)
		}
	}

	if c.pendingBaseline && len(filtered) > len(c.pending) && c.onGrowth != nil {
		known := make(map[int64]bool, len(c.pending))
		for _, s := range c.pending {
			known[s.SessionID] = true
		}
		for _, s := range filtered {
			if !known[s.SessionID] {
				alertAdded = append(alertAdded, s)
			}
		}
		alertTotal = len(filtered)
	}

	c.pending = filtered
	c.pendingBaseline = true
	metrics.PendingSessions.Set(float64(len(filtered)))
	c.mu.Unlock()

	if len(alertAdded) > 0 {
		metrics.PendingAlertsTotal.Inc()
		c.onGrowth(alertAdded, alertTotal)
	}
	return nil
}

// refreshActive replaces the active snapshot with this agent's sessions.
func (c *Controller) refreshActive(ctx context.Context) error {
	c.mu.Lock()
	c.activeSeq++
	seq := c.activeSeq
	c.mu.Unlock()

	sessions, err := c.client.ActiveSessions(ctx, c.adminID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.activeSeq {
		return nil
	}
	if err != nil {
		c.active = nil
		metrics.ActiveSessions.Set(0)
		return err
	}

	filtered := sessions[:0]
	for _, s := range sessions {
		if s.Status == model.StatusHumanActive && s.AssignedAdminID == c.adminID {
			filtered = append(filtered, s)
		}
	}
	c.active = filtered
	metrics.ActiveSessions.Set(float64(len(filtered)))
	return nil
}

// refreshMessages replaces the open conversation's buffer with the latest
// bounded history. The server owns message ordering; the buffer is replaced
// wholesale, never merged. Responses for a deselected conversation or a
// superseded request are discarded. Unlike the list polls, a failed fetch
// keeps the previous buffer; the next tick retries.
func (c *Controller) refreshMessages(ctx context.Context, oc *openConversation) error {
	c.mu.Lock()
	if c.open != oc {
		c.mu.Unlock()
		return nil
	}
	oc.seq++
	seq := oc.seq
	c.mu.Unlock()

	messages, err := c.client.History(ctx, oc.sessionID, c.historyLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open != oc || seq != oc.seq {
		return nil
	}
	if err != nil {
		return err
	}
	oc.messages = messages
	return nil
}

func (c *Controller) tryAcquire(sessionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[sessionID] {
		return false
	}
	c.inFlight[sessionID] = true
	return true
}

func (c *Controller) release(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, sessionID)
}
