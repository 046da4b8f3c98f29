package server

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnidraft/collab-core/analysis"
	"github.com/omnidraft/collab-core/ot"
	"github.com/omnidraft/collab-core/store"
)

func setupTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := NewHub(store.NewMemoryStore(), &ot.LocalResolver{}, analysis.NewAnalyzer())
	h.ReapInterval = time.Hour
	go h.Run()
	srv := httptest.NewServer(NewHandler(h))
	t.Cleanup(func() {
		srv.Close()
		h.Stop()
	})
	return srv
}

func wsConnect(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWsMsg(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHandler_QueryParamAutoJoin(t *testing.T) {
	srv := setupTestServer(t)

	conn := wsConnect(t, srv, "session=doc1&user=u1&name=Alice")
	msg := readWsMsg(t, conn)
	if msg.Type != MsgJoined {
		t.Fatalf("expected %q, got %q", MsgJoined, msg.Type)
	}
	if msg.DocID != "doc1" {
		t.Errorf("documentId = %q", msg.DocID)
	}
	if len(msg.Users) != 1 || msg.Users[0].UserID != "u1" || msg.Users[0].Username != "Alice" {
		t.Errorf("users = %+v", msg.Users)
	}
}

func TestHandler_JoinViaMessage(t *testing.T) {
	srv := setupTestServer(t)

	conn := wsConnect(t, srv, "")
	join := ClientMessage{Type: MsgJoin, DocID: "doc1", UserID: "u9", Username: "Bob"}
	if err := conn.WriteJSON(join); err != nil {
		t.Fatal(err)
	}
	msg := readWsMsg(t, conn)
	if msg.Type != MsgJoined {
		t.Fatalf("expected %q, got %q", MsgJoined, msg.Type)
	}
	if len(msg.Users) != 1 || msg.Users[0].UserID != "u9" || msg.Users[0].Username != "Bob" {
		t.Errorf("users = %+v", msg.Users)
	}
}

func TestHandler_TwoClientCollaboration(t *testing.T) {
	srv := setupTestServer(t)

	c1 := wsConnect(t, srv, "session=doc1&user=u1&name=Alice")
	readWsMsg(t, c1) // joined

	c2 := wsConnect(t, srv, "session=doc1&user=u2&name=Bob")
	readWsMsg(t, c2) // joined

	if msg := readWsMsg(t, c1); msg.Type != MsgUserJoined || msg.User == nil || msg.User.UserID != "u2" {
		t.Fatalf("expected user_joined for u2, got %+v", msg)
	}

	op := ot.NewInsert("", 0, "hello")
	if err := c1.WriteJSON(ClientMessage{Type: MsgOp, DocID: "doc1", Version: 0, Op: &op}); err != nil {
		t.Fatal(err)
	}

	ack := readWsMsg(t, c1)
	if ack.Type != MsgAck || ack.Version != 1 {
		t.Fatalf("ack = %+v", ack)
	}

	applied := readWsMsg(t, c2)
	if applied.Type != MsgApplied {
		t.Fatalf("expected %q, got %+v", MsgApplied, applied)
	}
	if applied.Op == nil || applied.Op.Content != "hello" || applied.Op.AuthorID != "u1" {
		t.Errorf("applied op = %+v", applied.Op)
	}

	// Cursor movement from c2 reaches c1 only.
	if err := c2.WriteJSON(ClientMessage{Type: MsgCursor, Cursor: &Cursor{Line: 1, Column: 2}}); err != nil {
		t.Fatal(err)
	}
	moved := readWsMsg(t, c1)
	if moved.Type != MsgCursorUpdated || moved.UserID != "u2" {
		t.Errorf("cursor broadcast = %+v", moved)
	}
}

func TestHandler_DisconnectBroadcastsUserLeft(t *testing.T) {
	srv := setupTestServer(t)

	c1 := wsConnect(t, srv, "session=doc1&user=u1")
	readWsMsg(t, c1)

	c2 := wsConnect(t, srv, "session=doc1&user=u2")
	readWsMsg(t, c2)
	readWsMsg(t, c1) // user_joined

	c2.Close()
	msg := readWsMsg(t, c1)
	if msg.Type != MsgUserLeft || msg.UserID != "u2" {
		t.Errorf("expected user_left for u2, got %+v", msg)
	}
}

func TestHandler_MalformedMessageReportsError(t *testing.T) {
	srv := setupTestServer(t)

	conn := wsConnect(t, srv, "session=doc1&user=u1")
	readWsMsg(t, conn)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	msg := readWsMsg(t, conn)
	if msg.Type != MsgError {
		t.Fatalf("expected error, got %+v", msg)
	}
}

func TestHandler_MessageBeforeJoinRejected(t *testing.T) {
	srv := setupTestServer(t)

	conn := wsConnect(t, srv, "")
	if err := conn.WriteJSON(ClientMessage{Type: MsgCursor, Cursor: &Cursor{}}); err != nil {
		t.Fatal(err)
	}
	msg := readWsMsg(t, conn)
	if msg.Type != MsgError {
		t.Fatalf("expected error, got %+v", msg)
	}
	if !strings.Contains(msg.Message, "not joined") {
		t.Errorf("message = %q", msg.Message)
	}
}

func TestHandler_WrongDocumentIDRejected(t *testing.T) {
	srv := setupTestServer(t)

	conn := wsConnect(t, srv, "session=doc1&user=u1")
	readWsMsg(t, conn)

	op := ot.NewInsert("", 0, "x")
	if err := conn.WriteJSON(ClientMessage{Type: MsgOp, DocID: "other-doc", Version: 0, Op: &op}); err != nil {
		t.Fatal(err)
	}
	msg := readWsMsg(t, conn)
	if msg.Type != MsgError {
		t.Fatalf("expected error, got %+v", msg)
	}
}
