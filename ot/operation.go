package ot

import (
	"fmt"
	"time"
)

// Kind discriminates the two edit primitives.
type Kind string

const (
	Insert Kind = "insert"
	Delete Kind = "delete"
)

// Operation is a single positional edit generated against a specific
// document version. Position is a zero-based byte offset into the document
// as the author saw it; the resolver adjusts it before application.
type Operation struct {
	ID        string    `json:"id,omitempty"` // assigned at resolution time
	AuthorID  string    `json:"authorId,omitempty"`
	Kind      Kind      `json:"kind"`
	Position  int       `json:"position"`
	Content   string    `json:"content,omitempty"` // Insert only
	Length    int       `json:"length,omitempty"`  // Delete only
	Timestamp time.Time `json:"timestamp,omitempty"`
	Applied   bool      `json:"applied,omitempty"`
}

// NewInsert creates an insert of text at pos.
func NewInsert(author string, pos int, text string) Operation {
	return Operation{AuthorID: author, Kind: Insert, Position: pos, Content: text}
}

// NewDelete creates a delete of count chars starting at pos.
func NewDelete(author string, pos, count int) Operation {
	return Operation{AuthorID: author, Kind: Delete, Position: pos, Length: count}
}

// End returns the exclusive end of the range a delete removes.
// For inserts it equals Position.
func (op Operation) End() int {
	if op.Kind == Delete {
		return op.Position + op.Length
	}
	return op.Position
}

// ValidationError reports an operation or message rejected before touching
// document state. It is client-visible and never fatal to the session.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid operation: " + e.Reason }

// Validate checks an operation as submitted, against the length of the
// document it was generated for. Invalid operations are rejected outright,
// never clamped. A negative docLen skips the range checks: the caller does
// not know the length of the version the op targets and the transformed
// result is bounds-checked at apply time instead.
func (op Operation) Validate(docLen int) error {
	if op.Position < 0 {
		return &ValidationError{Reason: fmt.Sprintf("negative position %d", op.Position)}
	}
	switch op.Kind {
	case Insert:
		if op.Content == "" {
			return &ValidationError{Reason: "insert without content"}
		}
		if docLen >= 0 && op.Position > docLen {
			return &ValidationError{
				Reason: fmt.Sprintf("insert at %d past document length %d", op.Position, docLen),
			}
		}
	case Delete:
		if op.Length <= 0 {
			return &ValidationError{Reason: "delete without length"}
		}
		if docLen >= 0 && op.End() > docLen {
			return &ValidationError{
				Reason: fmt.Sprintf("delete [%d,%d) past document length %d", op.Position, op.End(), docLen),
			}
		}
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown kind %q", op.Kind)}
	}
	return nil
}
