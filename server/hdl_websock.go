/******************************************************************************
 *
 *  Description :
 *
 *    Handler of websocket connections.
 *
 *****************************************************************************/

package main

import (
	"net/http"
	"time"

	"github.com/aigentx/gateway/server/logs"
	"github.com/aigentx/gateway/server/store"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = idleSessionTimeout

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

func (s *Session) closeWS() {
	if s.ws != nil {
		s.ws.Close()
	}
}

func (s *Session) readLoop() {
	defer func() {
		s.closeWS()
		s.cleanUp()
	}()

	s.ws.SetReadLimit(globals.maxMessageSize)
	s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		// Read a ClientComMessage
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				logs.Err.Println("ws: readLoop", s.sid, err)
			}
			return
		}
		statsInbound()
		s.dispatchRaw(raw)
		s.ws.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (s *Session) sendMessage(msg any) bool {
	if err := wsWrite(s.ws, websocket.TextMessage, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			logs.Err.Println("ws: writeLoop", s.sid, err)
		}
		return false
	}
	return true
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		// Break readLoop.
		s.closeWS()
	}()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				// Channel closed.
				return
			}
			if !s.sendMessage(msg) {
				return
			}

		case msg := <-s.stop:
			// Shutdown requested, don't care if the close frame is delivered.
			if frame, ok := msg.(*closeFrame); ok && frame != nil {
				s.ws.WriteControl(websocket.CloseMessage, frame.bytes(), time.Now().Add(writeWait))
			}
			return

		case <-s.ctx.Done():
			return

		case <-ticker.C:
			if err := wsWrite(s.ws, websocket.PingMessage, nil); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
					websocket.CloseNormalClosure) {
					logs.Err.Println("ws: writeLoop ping", s.sid, err)
				}
				return
			}
		}
	}
}

// Writes a message with the given message type (mt) and payload.
func wsWrite(ws *websocket.Conn, mt int, msg any) error {
	var bits []byte
	if msg != nil {
		bits = msg.([]byte)
	} else {
		bits = []byte{}
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(mt, bits)
}

// Handles websocket requests from peers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow connections from any Origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// reject closes the connection of a session which failed authorization.
func (s *Session) reject(frame *closeFrame) {
	if !s.state.CompareAndSwap(stateAuthorizing, stateRejected) {
		return
	}
	s.cancel()
	s.ws.WriteControl(websocket.CloseMessage, frame.bytes(), time.Now().Add(writeWait))
	s.closeWS()
}

func serveWebSocket(wrt http.ResponseWriter, req *http.Request) {
	topic := chi.URLParam(req, "nft_hash")
	user := chi.URLParam(req, "user_id")

	ws, err := upgrader.Upgrade(wrt, req, nil)
	if _, ok := err.(websocket.HandshakeError); ok {
		logs.Err.Println("ws: Not a websocket handshake")
		return
	} else if err != nil {
		logs.Err.Println("ws: failed to Upgrade ", err)
		return
	}

	sess := newSession(ws, store.Store.GetUidString())
	sess.remoteAddr = req.RemoteAddr

	// Handshake is complete, participation is not authorized yet.
	sess.state.Store(stateAuthorizing)
	key, err := authorize(topic, user)
	if err != nil {
		_, frame, _ := decodeStoreError(err)
		logs.Info.Println("ws: session rejected", sess.sid, sess.remoteAddr, key, err)
		statsRejected(frame)
		sess.reject(frame)
		return
	}

	if !sess.activate(key) {
		sess.closeWS()
		return
	}
	globals.sessionStore.Register(sess)
	statsSessionStarted()

	logs.Info.Println("ws: session started", sess.sid, sess.remoteAddr, key)

	// Do work in goroutines to return from serveWebSocket() to release file pointers.
	// Otherwise "too many open files" will happen.
	go sess.writeLoop()
	go sess.readLoop()
}
