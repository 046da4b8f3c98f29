package ot

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Resolver turns a client-submitted operation into one applicable to the
// current document state. Implementations must not retain or mutate log.
type Resolver interface {
	// Resolve transforms op, generated at sinceVersion, against every
	// operation applied after that version, and stamps it with a fresh
	// identity. The returned operation is ready for Document.Apply.
	Resolve(op Operation, sinceVersion int, log []Operation) (Operation, error)
}

// LocalResolver resolves conflicts with the built-in transform rules.
// It is always available and is the configured default.
type LocalResolver struct{}

func (r *LocalResolver) Resolve(op Operation, sinceVersion int, log []Operation) (Operation, error) {
	if sinceVersion < 0 || sinceVersion > len(log) {
		return Operation{}, fmt.Errorf("resolve: version %d out of range (log length %d)", sinceVersion, len(log))
	}
	resolved := op
	for _, prior := range log[sinceVersion:] {
		resolved = Transform(resolved, prior)
	}
	resolved.ID = uuid.NewString()
	resolved.Timestamp = time.Now()
	resolved.Applied = false
	return resolved, nil
}

// FallbackResolver delegates resolution to an external engine and falls back
// to the local rules when the delegate fails, so editing never has a hard
// runtime dependency on the external service.
type FallbackResolver struct {
	Delegate Resolver
	local    LocalResolver
}

func (r *FallbackResolver) Resolve(op Operation, sinceVersion int, log []Operation) (Operation, error) {
	if r.Delegate != nil {
		if resolved, err := r.Delegate.Resolve(op, sinceVersion, log); err == nil {
			return resolved, nil
		}
	}
	return r.local.Resolve(op, sinceVersion, log)
}
