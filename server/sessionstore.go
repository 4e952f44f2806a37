/******************************************************************************
 *
 *  Description :
 *
 *  Registry of live sessions indexed by (topic, user).
 *
 *****************************************************************************/

package main

import (
	"sync"

	"github.com/aigentx/gateway/server/logs"
)

// SessionStore holds live sessions. Each (topic, user) pair has at most one session.
// In addition sessions are indexed by topic for broadcasting.
type SessionStore struct {
	lock sync.RWMutex

	// All sessions indexed by connection key.
	sessCache map[ConnKey]*Session
	// Sessions of each topic.
	topics map[string]map[ConnKey]*Session
}

// NewSessionStore initializes a session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessCache: make(map[ConnKey]*Session),
		topics:    make(map[string]map[ConnKey]*Session),
	}
}

// Register saves the session under its key. If another session is already registered
// under the same key, it's evicted, told to close, and returned.
func (ss *SessionStore) Register(s *Session) *Session {
	ss.lock.Lock()
	old := ss.sessCache[s.key]
	ss.sessCache[s.key] = s
	byTopic := ss.topics[s.key.Topic]
	if byTopic == nil {
		byTopic = make(map[ConnKey]*Session)
		ss.topics[s.key.Topic] = byTopic
	}
	byTopic[s.key] = s
	count := len(ss.sessCache)
	ss.lock.Unlock()

	if old != nil && old != s {
		logs.Info.Println("sessionStore: evicted", old.sid, "by", s.sid, s.key)
		old.stopSession(closeFrameSuperseded)
	} else {
		old = nil
	}

	statsSessionsLive(count)
	return old
}

// remove deletes the key. Must be called under lock.
func (ss *SessionStore) remove(key ConnKey) {
	delete(ss.sessCache, key)
	if byTopic := ss.topics[key.Topic]; byTopic != nil {
		delete(byTopic, key)
		if len(byTopic) == 0 {
			delete(ss.topics, key.Topic)
		}
	}
}

// Deregister removes the session if it's still registered under its key.
// Returns false if the key is absent or belongs to another session.
func (ss *SessionStore) Deregister(s *Session) bool {
	ss.lock.Lock()
	if ss.sessCache[s.key] != s {
		ss.lock.Unlock()
		return false
	}
	ss.remove(s.key)
	count := len(ss.sessCache)
	ss.lock.Unlock()

	statsSessionsLive(count)
	return true
}

// DeregisterKey removes whatever session is registered under the key and returns it.
func (ss *SessionStore) DeregisterKey(key ConnKey) *Session {
	ss.lock.Lock()
	s := ss.sessCache[key]
	if s != nil {
		ss.remove(key)
	}
	count := len(ss.sessCache)
	ss.lock.Unlock()

	if s != nil {
		statsSessionsLive(count)
	}
	return s
}

// Get fetches a session from store by key.
func (ss *SessionStore) Get(key ConnKey) *Session {
	ss.lock.RLock()
	defer ss.lock.RUnlock()

	return ss.sessCache[key]
}

// Send delivers the message to the session registered under the key.
// Returns false if there is no such session or its queue is full.
func (ss *SessionStore) Send(key ConnKey, msg *ServerComMessage) bool {
	s := ss.Get(key)
	if s == nil {
		return false
	}
	return s.queueOut(msg)
}

// SendTo delivers the message to the session only if it's still registered under its key.
func (ss *SessionStore) SendTo(s *Session, msg *ServerComMessage) bool {
	if ss.Get(s.key) != s {
		return false
	}
	return s.queueOut(msg)
}

// Broadcast delivers the message to every session of the topic which is registered at the
// moment of the call. Returns the number of sessions which accepted the message.
func (ss *SessionStore) Broadcast(topic string, msg *ServerComMessage) int {
	ss.lock.RLock()
	byTopic := ss.topics[topic]
	snapshot := make([]*Session, 0, len(byTopic))
	for _, s := range byTopic {
		snapshot = append(snapshot, s)
	}
	ss.lock.RUnlock()

	if len(snapshot) == 0 {
		return 0
	}

	data := msg.serialize()
	delivered := 0
	for _, s := range snapshot {
		if s.queueOutBytes(data) {
			delivered++
		}
	}
	statsOutbound(msg.kind(), delivered)
	return delivered
}

// Count returns the number of live sessions.
func (ss *SessionStore) Count() int {
	ss.lock.RLock()
	defer ss.lock.RUnlock()

	return len(ss.sessCache)
}

// Shutdown terminates all sessions.
func (ss *SessionStore) Shutdown() {
	ss.lock.Lock()
	sessions := make([]*Session, 0, len(ss.sessCache))
	for _, s := range ss.sessCache {
		sessions = append(sessions, s)
	}
	ss.sessCache = make(map[ConnKey]*Session)
	ss.topics = make(map[string]map[ConnKey]*Session)
	ss.lock.Unlock()

	for _, s := range sessions {
		s.stopSession(closeFrameShutdown)
	}
	statsSessionsLive(0)

	logs.Info.Printf("SessionStore shut down, sessions terminated: %d", len(sessions))
}
