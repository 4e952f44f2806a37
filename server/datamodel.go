package main

/******************************************************************************
 *
 *  Description :
 *
 *    Wire protocol structures
 *
 *****************************************************************************/

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
)

// ClientComMessage is a wrapper for client messages.
type ClientComMessage struct {
	// Text sent to the agent. A pointer to tell a missing prompt from an empty one.
	Prompt *string `json:"prompt"`
}

// ServerComMessage is a wrapper for server-side messages. Exactly one field is set.
type ServerComMessage struct {
	// Agent reply, sent to the client verbatim.
	Reply json.RawMessage `json:"-"`

	Error     *string `json:"error,omitempty"`
	System    *string `json:"system_message,omitempty"`
	Broadcast *string `json:"broadcast_message,omitempty"`
}

// Message kinds, used as metric labels.
const (
	kindReply     = "reply"
	kindError     = "error"
	kindSystem    = "system"
	kindBroadcast = "broadcast"
)

func (msg *ServerComMessage) kind() string {
	switch {
	case msg.Error != nil:
		return kindError
	case msg.System != nil:
		return kindSystem
	case msg.Broadcast != nil:
		return kindBroadcast
	default:
		return kindReply
	}
}

// serialize converts the message to wire format.
func (msg *ServerComMessage) serialize() []byte {
	if msg.Reply != nil {
		return msg.Reply
	}
	out, _ := json.Marshal(msg)
	return out
}

// Text of the error returned for unparsable client messages.
const malformedText = "Invalid message format"

// AgentReply wraps the agent's reply.
func AgentReply(reply json.RawMessage) *ServerComMessage {
	return &ServerComMessage{Reply: reply}
}

// ErrMessage is a generic error envelope.
func ErrMessage(text string) *ServerComMessage {
	return &ServerComMessage{Error: &text}
}

// ErrMalformed is the error envelope for malformed client messages.
func ErrMalformed() *ServerComMessage {
	return ErrMessage(malformedText)
}

// SystemMessage is a notice from the administrator to one user.
func SystemMessage(text string) *ServerComMessage {
	return &ServerComMessage{System: &text}
}

// BroadcastMessage is a notice to every user connected to a topic.
func BroadcastMessage(text string) *ServerComMessage {
	return &ServerComMessage{Broadcast: &text}
}

// Websocket close codes.
const (
	// Topic does not exist.
	closeUnknownTopic = 4004
	// User is neither the creator nor a member of the topic.
	closeUnauthorized = 4003
	// Another connection with the same topic and user took over.
	closeSuperseded = 4009
)

// closeFrame is a request to close the websocket with the given code.
type closeFrame struct {
	code   int
	reason string
}

func (cf *closeFrame) bytes() []byte {
	if cf == nil {
		return websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "")
	}
	return websocket.FormatCloseMessage(cf.code, cf.reason)
}

var (
	closeFrameUnknownTopic = &closeFrame{closeUnknownTopic, "unknown topic"}
	closeFrameUnauthorized = &closeFrame{closeUnauthorized, "unauthorized user"}
	closeFrameSuperseded   = &closeFrame{closeSuperseded, "replaced by a newer connection"}
	closeFrameStoreFailure = &closeFrame{websocket.CloseInternalServerErr, "authorization unavailable"}
	closeFrameAdmin        = &closeFrame{websocket.CloseNormalClosure, "closed by administrator"}
	closeFrameShutdown     = &closeFrame{websocket.CloseGoingAway, "server shutdown"}
)

// Requests and responses of the HTTP endpoints.

// MsgCreateAgent is the body of the create-agent request.
type MsgCreateAgent struct {
	Prompt  string `json:"prompt"`
	NftHash string `json:"nftHash"`
}

// MsgInteractResponse is the reply to the synchronous interact request.
type MsgInteractResponse struct {
	Response   json.RawMessage `json:"response"`
	IsMetaMask bool            `json:"isMetaMask"`
	Responses  int             `json:"Responses"`
}

// MsgStatus is the reply to an add-member request.
type MsgStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MsgAdminText is the body of the admin message requests.
type MsgAdminText struct {
	Message string `json:"message"`
}

func (m *MsgAdminText) valid() bool {
	return strings.TrimSpace(m.Message) != ""
}
