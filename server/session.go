/******************************************************************************
 *
 *  Description :
 *
 *  Handling of user sessions/connections. Each session is bound to exactly one
 *  (topic, user) pair and forwards the user's prompts to the topic's agent.
 *
 *****************************************************************************/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store/types"
	"github.com/gorilla/websocket"
	"github.com/rivo/uniseg"
)

// Session lifecycle states.
const (
	// Transport connected, authorization not started yet.
	statePending int32 = iota
	// Waiting for the authorization store.
	stateAuthorizing
	// Registered, serving messages.
	stateActive
	// Closed after being active. Terminal.
	stateClosed
	// Closed without ever becoming active. Terminal.
	stateRejected
)

var (
	errMalformed     = errors.New(malformedText)
	errPromptTooLong = errors.New("prompt is too long")
)

// ConnKey identifies a live connection: one user in one topic.
// The User is the normalized identity.
type ConnKey struct {
	Topic string
	User  string
}

func newConnKey(topic, user string) ConnKey {
	return ConnKey{Topic: topic, User: types.NormalizeIdentity(user)}
}

// String is used for logging only.
func (k ConnKey) String() string {
	return "'" + k.Topic + "':'" + k.User + "'"
}

// Session represents a single websocket connection.
type Session struct {
	// Websocket. Nil in tests.
	ws *websocket.Conn

	// IP address of the client.
	remoteAddr string

	// Session ID, for logging.
	sid string

	// Topic and user this session is bound to. Set before the session is registered.
	key ConnKey

	// One of state* constants. Changed by compare-and-swap only.
	state atomic.Int32

	// Outbound mesages, buffered.
	// The content must be serialized in format suitable for the session.
	send chan any

	// Channel for shutting down the session, buffer 1.
	// Carries *closeFrame or nil.
	stop chan any

	// Cancelled when the session is closed, aborts in-flight agent requests.
	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ws *websocket.Conn, sid string) *Session {
	s := &Session{
		ws:   ws,
		sid:  sid,
		send: make(chan any, globals.sendQueueLimit),
		stop: make(chan any, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

func (s *Session) isActive() bool {
	return s.state.Load() == stateActive
}

// queueOut attempts to send a ServerComMessage to a session; if the send buffer is full, timeout is 50 usec
func (s *Session) queueOut(msg *ServerComMessage) bool {
	if s == nil {
		return false
	}

	if !s.queueOutBytes(msg.serialize()) {
		return false
	}
	statsOutbound(msg.kind(), 1)
	return true
}

// queueOutBytes attempts to send a ServerComMessage already serialized to []byte.
// If the send buffer is full, timeout is 50 usec
func (s *Session) queueOutBytes(data []byte) bool {
	if s == nil || !s.isActive() {
		return false
	}

	select {
	case s.send <- data:
	case <-time.After(time.Microsecond * 50):
		logs.Warn.Println("s.queueOutBytes: timeout", s.sid, s.key)
		statsDropped()
		return false
	}
	return true
}

// stopSession asks the write loop to close the connection with the given frame.
// Does not block. Only the first request has effect.
func (s *Session) stopSession(frame *closeFrame) {
	select {
	case s.stop <- frame:
	default:
	}
}

// activate transitions the session from Authorizing to Active.
func (s *Session) activate(key ConnKey) bool {
	s.key = key
	return s.state.CompareAndSwap(stateAuthorizing, stateActive)
}

// cleanUp releases resources of an active session. Safe to call more than once:
// only the first call has effect.
func (s *Session) cleanUp() bool {
	if !s.state.CompareAndSwap(stateActive, stateClosed) {
		return false
	}

	globals.sessionStore.Deregister(s)
	s.cancel()
	logs.Info.Println("s.cleanUp: session closed", s.sid, s.key)
	return true
}

// Message received, convert bytes to ClientComMessage and dispatch
func (s *Session) dispatchRaw(raw []byte) {
	toLog := raw
	truncated := ""
	if len(raw) > 512 {
		toLog = raw[:512]
		truncated = "<...>"
	}
	logs.Info.Printf("in: '%s%s' sid='%s' key=%s", toLog, truncated, s.sid, s.key)

	prompt, err := parsePrompt(raw)
	if err != nil {
		logs.Warn.Println("s.dispatch", err, s.sid)
		if err == errMalformed {
			replyTo(s, ErrMalformed())
		} else {
			replyTo(s, ErrMessage(err.Error()))
		}
		return
	}

	s.dispatch(prompt)
}

// dispatch sends the prompt to the agent and relays the reply. Blocks until the reply
// is received, which keeps replies in the order of prompts.
func (s *Session) dispatch(prompt string) {
	reply, err := askOracle(s.ctx, s.key.Topic, prompt)
	if !s.isActive() {
		// The session was closed while the agent was working. Drop the reply.
		logs.Info.Println("s.dispatch: reply discarded", s.sid, s.key)
		return
	}

	if err != nil {
		logs.Warn.Println("s.dispatch: agent failed", s.sid, s.key, err)
		replyTo(s, ErrMessage(oracleErrorText(err)))
		return
	}

	replyTo(s, AgentReply(reply))
}

// parsePrompt extracts the prompt from the client message.
func parsePrompt(raw []byte) (string, error) {
	var msg ClientComMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", errMalformed
	}
	if msg.Prompt == nil || strings.TrimSpace(*msg.Prompt) == "" {
		return "", errMalformed
	}
	if globals.maxPromptLength > 0 && uniseg.GraphemeClusterCount(*msg.Prompt) > globals.maxPromptLength {
		return "", errPromptTooLong
	}
	return *msg.Prompt, nil
}
