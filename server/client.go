package server

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 64 * 1024
)

var presenceColors = []string{
	"#e74c3c", "#3498db", "#2ecc71", "#f39c12", "#9b59b6",
	"#1abc9c", "#e67e22", "#00bcd4", "#ff5722", "#8bc34a",
}

// Client represents a single WebSocket connection bound to one user
// identity. The author of every operation is taken from this binding, never
// from message payloads.
type Client struct {
	ID       string // connection id, unique per socket
	UserID   string
	Username string
	Color    string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	// mu guards session binding and the closed flag. Messages may be sent
	// from the session goroutine and from save/suggestion goroutines, so
	// sends and the close must not race.
	mu      sync.Mutex
	session *Session
	closed  bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID, username string) *Client {
	if userID == "" {
		userID = uuid.NewString()
	}
	if username == "" {
		username = "Anonymous"
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		Color:    presenceColors[rand.Intn(len(presenceColors))],
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, 256),
	}
}

// currentSession returns the session this client has joined, or nil.
func (c *Client) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) bindSession(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

// Open reports whether the connection still accepts outbound messages.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

// detach marks the client closed and releases its send channel. Called from
// the session goroutine when presence is removed; after this no message is
// ever buffered for the connection.
func (c *Client) detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = nil
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump reads messages from the WebSocket and routes them. A dropped
// connection always ends in leave cleanup, which synchronously removes the
// presence record.
func (c *Client) ReadPump() {
	defer func() {
		if s := c.currentSession(); s != nil {
			s.leave <- c
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("client %s read error: %v", c.ID, err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message format")
			continue
		}
		c.route(msg)
	}
}

// route dispatches one inbound message. Errors local to this connection are
// reported back without closing it.
func (c *Client) route(msg ClientMessage) {
	if msg.Type == MsgJoin {
		if msg.DocID == "" {
			c.sendError("join_document requires documentId")
			return
		}
		// A connection is bound to at most one document for its lifetime.
		// Allowing a switch here would strand the old session with a live
		// presence record the reaper can never collect. A repeated join of
		// the same document rehydrates the client instead.
		if s := c.currentSession(); s != nil {
			if msg.DocID != s.id {
				c.sendError("connection already joined a document")
				return
			}
			s.join <- c
			return
		}
		// Identity supplied in the join message overrides the connection
		// defaults. Only honored before the first join: afterwards the
		// session goroutine reads these fields concurrently.
		if msg.UserID != "" {
			c.UserID = msg.UserID
		}
		if msg.Username != "" {
			c.Username = msg.Username
		}
		c.hub.joinDoc <- joinRequest{client: c, docID: msg.DocID}
		return
	}

	s := c.currentSession()
	if s == nil {
		c.sendError("not joined to a document")
		return
	}
	if msg.DocID != "" && msg.DocID != s.id {
		c.sendError("message references a document this connection did not join")
		return
	}

	switch msg.Type {
	case MsgOp, MsgChange:
		if msg.Op == nil {
			c.sendError("operation message without operation")
			return
		}
		s.incoming <- opMessage{client: c, op: *msg.Op, version: msg.Version}
	case MsgCursor:
		s.presence <- presenceUpdate{client: c, cursor: msg.Cursor}
	case MsgSelection:
		s.presence <- presenceUpdate{client: c, selection: msg.Selection}
	case MsgSave:
		s.control <- controlRequest{client: c, kind: reqSave}
	case MsgSuggest:
		s.control <- controlRequest{client: c, kind: reqSuggest}
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMsg(msg ServerMessage) {
	c.sendRaw(msg.Encode())
}

func (c *Client) sendRaw(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message.
	}
}

func (c *Client) sendError(message string) {
	c.sendMsg(ServerMessage{Type: MsgError, Message: message})
}

func (c *Client) Info() UserInfo {
	return UserInfo{UserID: c.UserID, Username: c.Username, Color: c.Color}
}
