package server

import (
	"encoding/json"
	"time"

	"github.com/omnidraft/collab-core/analysis"
	"github.com/omnidraft/collab-core/ot"
)

// Message types exchanged over the WebSocket.
const (
	// Client → server.
	MsgJoin      = "join_document"
	MsgOp        = "operation"
	MsgChange    = "document_change" // accepted alias for MsgOp
	MsgCursor    = "cursor_update"
	MsgSelection = "selection_update"
	MsgSave      = "save_document"
	MsgSuggest   = "request_suggestions"

	// Server → client.
	MsgJoined           = "document_joined"
	MsgApplied          = "operation_applied"
	MsgAck              = "change_applied"
	MsgUserJoined       = "user_joined"
	MsgUserLeft         = "user_left"
	MsgCursorUpdated    = "cursor_updated"
	MsgSelectionUpdated = "selection_updated"
	MsgSaved            = "document_saved"
	MsgReloaded         = "document_reloaded"
	MsgSuggestions      = "suggestions"
	MsgError            = "error"
)

// Cursor is a caret position as the client tracks it.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a flat byte-offset range.
type Selection struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// UserInfo is the client-visible slice of a participant's presence.
type UserInfo struct {
	UserID    string     `json:"userId"`
	Username  string     `json:"username"`
	Color     string     `json:"color,omitempty"`
	Cursor    *Cursor    `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// ClientMessage is a message from client to server.
type ClientMessage struct {
	Type      string        `json:"type"`
	DocID     string        `json:"documentId,omitempty"`
	UserID    string        `json:"userId,omitempty"`
	Username  string        `json:"username,omitempty"`
	Version   int           `json:"version"`
	Op        *ot.Operation `json:"operation,omitempty"`
	Cursor    *Cursor       `json:"cursor,omitempty"`
	Selection *Selection    `json:"selection,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type        string                `json:"type"`
	DocID       string                `json:"documentId,omitempty"`
	Content     string                `json:"content,omitempty"`
	Version     int                   `json:"version"`
	Op          *ot.Operation         `json:"operation,omitempty"`
	ChangeID    string                `json:"changeId,omitempty"`
	UserID      string                `json:"userId,omitempty"`
	User        *UserInfo             `json:"user,omitempty"`
	Users       []UserInfo            `json:"users,omitempty"`
	Recent      []ot.Operation        `json:"recentChanges,omitempty"`
	Cursor      *Cursor               `json:"cursor,omitempty"`
	Selection   *Selection            `json:"selection,omitempty"`
	Timestamp   *time.Time            `json:"timestamp,omitempty"`
	Suggestions []analysis.Suggestion `json:"suggestions,omitempty"`
	Message     string                `json:"message,omitempty"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
