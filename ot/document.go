package ot

import (
	"errors"
	"fmt"
	"time"
)

// DefaultCheckpointInterval is the number of applied operations between
// checkpoints when none is configured.
const DefaultCheckpointInterval = 50

// ErrOutOfRange reports a resolved operation that does not fit the current
// content. It indicates a resolver bug or corrupt log, never a client error.
var ErrOutOfRange = errors.New("operation out of range")

// Checkpoint is an immutable snapshot of document content at a version,
// together with the operations applied since the previous checkpoint.
type Checkpoint struct {
	Version int         `json:"version"`
	Content string      `json:"content"`
	Ops     []Operation `json:"ops"`
	TakenAt time.Time   `json:"takenAt"`
}

// Document is the authoritative text buffer for one session. Version starts
// at 0 and increments exactly once per applied operation, so Version always
// equals len(Log) and totally orders all mutations.
type Document struct {
	Content            string
	Version            int
	Log                []Operation
	Checkpoints        []Checkpoint
	CheckpointInterval int
}

// NewDocument creates a document with the given initial content.
func NewDocument(content string) *Document {
	return &Document{Content: content, CheckpointInterval: DefaultCheckpointInterval}
}

// Apply splices a resolved operation into the content, bumps the version and
// appends to the log. An operation already marked applied is a no-op: the
// same operation is never applied twice. Out-of-range positions return
// ErrOutOfRange without mutating anything.
func (d *Document) Apply(op Operation) error {
	if op.Applied {
		return nil
	}
	switch op.Kind {
	case Insert:
		if op.Position < 0 || op.Position > len(d.Content) {
			return fmt.Errorf("%w: insert at %d, content length %d", ErrOutOfRange, op.Position, len(d.Content))
		}
		d.Content = d.Content[:op.Position] + op.Content + d.Content[op.Position:]
	case Delete:
		if op.Position < 0 || op.End() > len(d.Content) {
			return fmt.Errorf("%w: delete [%d,%d), content length %d", ErrOutOfRange, op.Position, op.End(), len(d.Content))
		}
		d.Content = d.Content[:op.Position] + d.Content[op.End():]
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrOutOfRange, op.Kind)
	}

	op.Applied = true
	d.Version++
	d.Log = append(d.Log, op)

	if d.CheckpointInterval > 0 && len(d.Log)%d.CheckpointInterval == 0 {
		d.checkpoint()
	}
	return nil
}

func (d *Document) checkpoint() {
	since := 0
	if n := len(d.Checkpoints); n > 0 {
		since = d.Checkpoints[n-1].Version
	}
	ops := make([]Operation, len(d.Log)-since)
	copy(ops, d.Log[since:])
	d.Checkpoints = append(d.Checkpoints, Checkpoint{
		Version: d.Version,
		Content: d.Content,
		Ops:     ops,
		TakenAt: time.Now(),
	})
}

// Recent returns up to n operations from the tail of the log, newest last.
func (d *Document) Recent(n int) []Operation {
	if n > len(d.Log) {
		n = len(d.Log)
	}
	ops := make([]Operation, n)
	copy(ops, d.Log[len(d.Log)-n:])
	return ops
}

// Replay rebuilds the content from the empty string over the full log and
// verifies it against every checkpoint and the live content. A mismatch
// means the log is corrupt and the document should be rolled back.
func (d *Document) Replay() error {
	replica := Document{}
	next := 0
	for i, op := range d.Log {
		op.Applied = false
		if err := replica.Apply(op); err != nil {
			return fmt.Errorf("replay log[%d]: %w", i, err)
		}
		if next < len(d.Checkpoints) && d.Checkpoints[next].Version == replica.Version {
			if d.Checkpoints[next].Content != replica.Content {
				return fmt.Errorf("replay diverged at checkpoint v%d", replica.Version)
			}
			next++
		}
	}
	if replica.Content != d.Content {
		return fmt.Errorf("replay produced %d bytes, live content has %d", len(replica.Content), len(d.Content))
	}
	return nil
}

// Rollback restores the most recent checkpoint and discards everything after
// it, returning the version rolled back to. With no checkpoints the document
// resets to empty at version 0.
func (d *Document) Rollback() int {
	if len(d.Checkpoints) == 0 {
		d.Content = ""
		d.Version = 0
		d.Log = nil
		return 0
	}
	cp := d.Checkpoints[len(d.Checkpoints)-1]
	d.Content = cp.Content
	d.Version = cp.Version
	d.Log = d.Log[:cp.Version]
	return cp.Version
}
