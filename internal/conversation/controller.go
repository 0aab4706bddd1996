// Package conversation keeps the session list and the active session's
// message list synchronized with the server and mediates all message
// sending. Local caches are eventually-consistent mirrors of server state,
// refreshed via explicit full refetch after every mutation; the controller
// never patches partial results locally.
package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/qmuntal/stateless"

	"mmchat/internal/api"
	"mmchat/internal/logger"
	"mmchat/internal/upload"
)

// FSM States
type FSMState stateless.State

var (
	StateNoSession       FSMState = "NoSession"
	StateLoadingMessages FSMState = "LoadingMessages"
	StateReady           FSMState = "Ready"
	StateSending         FSMState = "Sending"
)

// FSM Triggers
type FSMTrigger stateless.Trigger

var (
	triggerSessionSelected  FSMTrigger = "SessionSelected"
	triggerMessagesLoaded   FSMTrigger = "MessagesLoaded"
	triggerSelectionCleared FSMTrigger = "SelectionCleared"
	triggerSendStarted      FSMTrigger = "SendStarted"
	triggerSendFinished     FSMTrigger = "SendFinished"
)

var (
	// ErrNoCurrentSession is returned by SendMessage when no session was
	// selected. The controller has created a fresh session by the time it
	// returns; the caller must resubmit the pending message.
	ErrNoCurrentSession = errors.New("no current session; a new one was created, resubmit the message")

	// ErrBusy is returned when a send or message fetch is already in
	// flight. The Sending state is the cooperative mutual-exclusion flag;
	// callers disable their send control while it is set.
	ErrBusy = errors.New("another operation is in flight")
)

// API is the subset of the api.Client surface the controller uses; it is
// easy to mock in tests.
type API interface {
	ListSessions(ctx context.Context) ([]api.ChatSession, error)
	CreateSession(ctx context.Context) (api.ChatSession, error)
	DeleteSession(ctx context.Context, id int64) error
	ListMessages(ctx context.Context, sessionID int64) ([]api.Message, error)
	SendMessage(ctx context.Context, sessionID int64, text, imagePath string) (api.Message, error)
}

// Controller mirrors the server's sessions and the current session's
// messages. Exactly one session may be current at a time, or none; the
// message cache always corresponds to the current session only and is
// discarded before a new selection loads.
type Controller struct {
	client API

	mu        sync.Mutex
	sessions  []api.ChatSession
	messages  []api.Message
	currentID int64 // 0 means no selection
	fsm       *stateless.StateMachine
}

// New creates a Controller. The caller must already hold an authenticated
// client; no session or message operation is valid without a credential.
func New(client API) *Controller {
	c := &Controller{client: client}

	fsm := stateless.NewStateMachine(StateNoSession)
	fsm.Configure(StateNoSession).
		Permit(triggerSessionSelected, StateLoadingMessages)
	fsm.Configure(StateLoadingMessages).
		PermitReentry(triggerSessionSelected).
		Permit(triggerMessagesLoaded, StateReady).
		Permit(triggerSelectionCleared, StateNoSession)
	fsm.Configure(StateReady).
		Permit(triggerSessionSelected, StateLoadingMessages).
		Permit(triggerSendStarted, StateSending).
		Permit(triggerSelectionCleared, StateNoSession)
	fsm.Configure(StateSending).
		Permit(triggerSendFinished, StateReady)
	c.fsm = fsm

	return c
}

// fire logs and tolerates rejected transitions, like a late MessagesLoaded
// for a selection that no longer exists.
func (c *Controller) fire(ctx context.Context, trigger FSMTrigger) {
	if err := c.fsm.FireCtx(ctx, trigger); err != nil {
		logger.L.Warn("FSM fire error", "trigger", trigger, "error", err)
	}
}

// State returns the controller's current FSM state.
func (c *Controller) State() FSMState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FSMState(c.fsm.MustState())
}

// Sessions returns a copy of the cached session list, in server order.
func (c *Controller) Sessions() []api.ChatSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.ChatSession, len(c.sessions))
	copy(out, c.sessions)
	return out
}

// Messages returns a copy of the cached messages of the current session.
func (c *Controller) Messages() []api.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]api.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Current returns the current session, or false when none is selected.
func (c *Controller) Current() (api.ChatSession, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *Controller) currentLocked() (api.ChatSession, bool) {
	if c.currentID == 0 {
		return api.ChatSession{}, false
	}
	for _, s := range c.sessions {
		if s.ID == c.currentID {
			return s, true
		}
	}
	return api.ChatSession{}, false
}

// RefreshSessions fetches the session list and replaces the local cache
// verbatim in server-returned order. If the cache was empty and the result
// is not, the first session is auto-selected and its messages fetched.
// Fetch failures are logged and leave the cache unchanged.
func (c *Controller) RefreshSessions(ctx context.Context) {
	sessions, err := c.client.ListSessions(ctx)
	if err != nil {
		logger.L.Error("failed to fetch sessions", "error", err)
		return
	}

	c.mu.Lock()
	wasEmpty := len(c.sessions) == 0
	c.sessions = sessions

	if wasEmpty && len(sessions) > 0 && c.currentID == 0 {
		id := sessions[0].ID
		c.selectLocked(ctx, id)
		c.mu.Unlock()
		c.loadMessages(ctx, id)
		return
	}
	c.mu.Unlock()
}

// selectLocked sets the current session and discards the previous message
// cache before the new one loads. Callers hold c.mu.
func (c *Controller) selectLocked(ctx context.Context, id int64) {
	c.currentID = id
	c.messages = nil
	c.fire(ctx, triggerSessionSelected)
}

// SelectSession makes the session with the given id current and fetches its
// messages. Selecting an id that is not in the cached list is a no-op.
func (c *Controller) SelectSession(ctx context.Context, id int64) {
	c.mu.Lock()
	if FSMState(c.fsm.MustState()) == StateSending {
		c.mu.Unlock()
		logger.L.Warn("ignoring session switch while a send is in flight", "session_id", id)
		return
	}
	known := false
	for _, s := range c.sessions {
		if s.ID == id {
			known = true
			break
		}
	}
	if !known {
		c.mu.Unlock()
		logger.L.Warn("ignoring selection of unknown session", "session_id", id)
		return
	}
	c.selectLocked(ctx, id)
	c.mu.Unlock()

	c.loadMessages(ctx, id)
}

// loadMessages fetches the messages of one session and installs them only
// if that session is still the current selection. In-flight fetches are not
// cancelled on a session switch, so a late response for a stale selection
// must not overwrite the newer one's cache.
func (c *Controller) loadMessages(ctx context.Context, id int64) {
	messages, err := c.client.ListMessages(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentID != id {
		logger.L.Debug("discarding message fetch for stale selection", "session_id", id, "current", c.currentID)
		return
	}
	if err != nil {
		logger.L.Error("failed to fetch messages", "session_id", id, "error", err)
		c.messages = nil
	} else {
		c.messages = messages
	}
	c.fire(ctx, triggerMessagesLoaded)
}

// CreateSession creates a session server-side, prepends it to the local
// list, and makes it current. Failures are logged and leave state unchanged.
func (c *Controller) CreateSession(ctx context.Context) {
	created, err := c.client.CreateSession(ctx)
	if err != nil {
		logger.L.Error("failed to create session", "error", err)
		return
	}

	c.mu.Lock()
	c.sessions = append([]api.ChatSession{created}, c.sessions...)
	c.selectLocked(ctx, created.ID)
	c.mu.Unlock()

	c.loadMessages(ctx, created.ID)
}

// DeleteSession deletes a session server-side and drops it from the cache.
// If the deleted session was current, the first remaining session becomes
// current, or none if the list is now empty.
func (c *Controller) DeleteSession(ctx context.Context, id int64) {
	if err := c.client.DeleteSession(ctx, id); err != nil {
		logger.L.Error("failed to delete session", "session_id", id, "error", err)
		return
	}

	c.mu.Lock()
	kept := c.sessions[:0]
	for _, s := range c.sessions {
		if s.ID != id {
			kept = append(kept, s)
		}
	}
	c.sessions = kept

	if c.currentID != id {
		c.mu.Unlock()
		return
	}
	if len(c.sessions) == 0 {
		c.currentID = 0
		c.messages = nil
		c.fire(ctx, triggerSelectionCleared)
		c.mu.Unlock()
		return
	}
	next := c.sessions[0].ID
	c.selectLocked(ctx, next)
	c.mu.Unlock()

	c.loadMessages(ctx, next)
}

// SendMessage submits text plus an optional image to the current session.
// With both empty it is a no-op. With no current session it creates one and
// returns ErrNoCurrentSession without sending; the caller resubmits.
// Attachment violations return an *upload.ValidationError before any
// network call. The send response payload itself is discarded: after the
// call resolves, success or failure, the controller refetches both the
// message list and the session list as the source of truth, so the client
// never guesses at server-assigned ids, timestamps, or assistant content.
func (c *Controller) SendMessage(ctx context.Context, text, imagePath string) error {
	if text == "" && imagePath == "" {
		return nil
	}

	c.mu.Lock()
	if c.currentID == 0 {
		c.mu.Unlock()
		c.CreateSession(ctx)
		return ErrNoCurrentSession
	}
	if imagePath != "" {
		if err := upload.CheckImage(imagePath); err != nil {
			c.mu.Unlock()
			return err
		}
	}
	if FSMState(c.fsm.MustState()) != StateReady {
		c.mu.Unlock()
		return ErrBusy
	}
	id := c.currentID
	c.fire(ctx, triggerSendStarted)
	c.mu.Unlock()

	if _, err := c.client.SendMessage(ctx, id, text, imagePath); err != nil {
		logger.L.Error("failed to send message", "session_id", id, "error", err)
	}

	// Unconditional refetches; the session list also picks up the updated
	// ordering and timestamps.
	messages, msgErr := c.client.ListMessages(ctx, id)
	sessions, sessErr := c.client.ListSessions(ctx)

	c.mu.Lock()
	if msgErr != nil {
		logger.L.Error("failed to refetch messages after send", "session_id", id, "error", msgErr)
	} else if c.currentID == id {
		c.messages = messages
	}
	if sessErr != nil {
		logger.L.Error("failed to refetch sessions after send", "error", sessErr)
	} else {
		c.sessions = sessions
	}
	c.fire(ctx, triggerSendFinished)
	c.mu.Unlock()

	return nil
}
