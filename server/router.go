/******************************************************************************
 *
 *  Description :
 *
 *  Delivery of replies and administrative messages to live sessions.
 *
 *****************************************************************************/

package main

import (
	"github.com/aigentx/gateway/server/logs"
)

// replyTo sends the message to the session which made the request, provided it's still
// registered under its key.
func replyTo(s *Session, msg *ServerComMessage) bool {
	if !globals.sessionStore.SendTo(s, msg) {
		logs.Info.Println("router: reply not delivered", s.sid, s.key)
		return false
	}
	return true
}

// sendSystemMessage sends a notice to one user of a topic. Returns false if the user
// is not connected.
func sendSystemMessage(topic, user, text string) bool {
	key := newConnKey(topic, user)
	if !globals.sessionStore.Send(key, SystemMessage(text)) {
		logs.Info.Println("router: system message recipient offline", key)
		return false
	}
	return true
}

// broadcastMessage sends a notice to all users connected to the topic.
// Returns the number of sessions which received the message.
func broadcastMessage(topic, text string) int {
	n := globals.sessionStore.Broadcast(topic, BroadcastMessage(text))
	logs.Info.Println("router: broadcast to", topic, "delivered", n)
	return n
}

// closeSession disconnects the user from the topic. Returns false if the user is not connected.
func closeSession(topic, user string) bool {
	key := newConnKey(topic, user)
	s := globals.sessionStore.DeregisterKey(key)
	if s == nil {
		return false
	}
	s.stopSession(closeFrameAdmin)
	logs.Info.Println("router: session closed by admin", s.sid, key)
	return true
}
