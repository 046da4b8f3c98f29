package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/omnidraft/collab-core/analysis"
	"github.com/omnidraft/collab-core/ot"
	"github.com/omnidraft/collab-core/store"
)

const (
	// DefaultReapInterval is how often the reaper sweeps for dead sessions.
	DefaultReapInterval = 10 * time.Minute
	// DefaultIdleAfter is how long an empty session survives before the
	// reaper removes it. A user refreshing within this window keeps the
	// session state.
	DefaultIdleAfter = 30 * time.Minute
)

type joinRequest struct {
	client *Client
	docID  string
}

// Hub is the session registry: it maps document ids to live sessions,
// creates sessions on first join and reaps sessions with no participants
// past the idle threshold. It is the only structure mutated from multiple
// connection contexts; the map is mutex-guarded while each session
// serializes its own state.
type Hub struct {
	store     store.DocumentStore
	resolver  ot.Resolver
	suggester analysis.Suggester

	// Tunables; set before Run.
	ReapInterval       time.Duration
	IdleAfter          time.Duration
	CheckpointInterval int

	mu       sync.RWMutex
	sessions map[string]*Session

	joinDoc chan joinRequest
	stop    chan struct{}
}

func NewHub(st store.DocumentStore, resolver ot.Resolver, suggester analysis.Suggester) *Hub {
	return &Hub{
		store:        st,
		resolver:     resolver,
		suggester:    suggester,
		ReapInterval: DefaultReapInterval,
		IdleAfter:    DefaultIdleAfter,
		sessions:     make(map[string]*Session),
		joinDoc:      make(chan joinRequest, 64),
		stop:         make(chan struct{}),
	}
}

// Run is the hub's main loop: it routes joins and drives the reaper.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-h.joinDoc:
			h.handleJoinDoc(req)
		case <-ticker.C:
			h.reap(time.Now())
		case <-h.stop:
			return
		}
	}
}

// Stop shuts down the hub loop and every session.
func (h *Hub) Stop() {
	close(h.stop)
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sessions {
		close(s.stop)
		delete(h.sessions, id)
	}
}

func (h *Hub) handleJoinDoc(req joinRequest) {
	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if ok && stopped(s) {
		// Reaped between lookup and join; rebuild from the store.
		ok = false
	}
	if !ok {
		var err error
		s, err = h.openSession(req.docID)
		if err != nil {
			h.mu.Unlock()
			log.Printf("hub: open session %q: %v", req.docID, err)
			req.client.sendError("failed to open document")
			return
		}
		h.sessions[req.docID] = s
		go s.Run()
	}
	h.mu.Unlock()

	s.join <- req.client
}

// openSession loads (or creates) the document and builds its session.
func (h *Hub) openSession(docID string) (*Session, error) {
	ctx := context.Background()

	info, err := h.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		if err := h.store.Create(ctx, docID, ""); err != nil && !errors.Is(err, store.ErrExists) {
			return nil, err
		}
		info, err = h.store.Get(ctx, docID)
	}
	if err != nil {
		return nil, err
	}

	history, err := h.store.GetOperations(ctx, docID, 0)
	if err != nil {
		return nil, err
	}

	return newSession(docID, info.Content, info.Version, history, h.resolver, h.store, h.suggester, h.CheckpointInterval), nil
}

// GetSession returns the live session for a document, if any.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}

// reap removes every session that has had no participants for longer than
// the idle threshold. Best-effort: a session that survives a sweep is only
// memory, never a correctness problem.
func (h *Hub) reap(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, s := range h.sessions {
		// A join already queued for the session counts as activity.
		if len(s.join) > 0 {
			continue
		}
		if s.reapable(now, h.IdleAfter) {
			close(s.stop)
			delete(h.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Printf("hub: reaped %d idle session(s)", removed)
	}
	return removed
}

func stopped(s *Session) bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
