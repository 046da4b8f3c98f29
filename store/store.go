package store

import (
	"context"
	"errors"
	"time"

	"github.com/omnidraft/collab-core/ot"
)

// ErrNotFound reports a document id with no stored state. The gateway maps
// it to a recoverable client error; the connection stays open.
var ErrNotFound = errors.New("document not found")

// ErrExists reports a create for a document id already present.
var ErrExists = errors.New("document already exists")

// DocumentInfo holds document metadata and content.
type DocumentInfo struct {
	ID        string
	Content   string
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore abstracts document persistence. The session loop treats it
// as the external persistence collaborator: saves go through it and its
// failures never roll back in-memory state.
//
// Implementations: MemoryStore, BoltStore, FirestoreStore, and CachedStore
// wrapping any of them with write-behind flushing.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error)
}
