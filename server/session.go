package server

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/omnidraft/collab-core/analysis"
	"github.com/omnidraft/collab-core/ot"
	"github.com/omnidraft/collab-core/store"
)

// recentChangeLimit bounds how much history a joining client is hydrated
// with.
const recentChangeLimit = 20

type opMessage struct {
	client  *Client
	op      ot.Operation
	version int // document version the client generated the op against
}

type presenceUpdate struct {
	client    *Client
	cursor    *Cursor
	selection *Selection
}

type requestKind int

const (
	reqSave requestKind = iota
	reqSuggest
)

type controlRequest struct {
	client *Client
	kind   requestKind
}

// presenceRecord is the live state of one participant. The client reference
// is non-owning: removing the record is what ends the association, and a
// connection close always removes it synchronously via leave.
type presenceRecord struct {
	client       *Client
	cursor       *Cursor
	selection    *Selection
	lastActivity time.Time
}

func (p *presenceRecord) info() UserInfo {
	ui := p.client.Info()
	ui.Cursor = p.cursor
	ui.Selection = p.selection
	return ui
}

// Session manages collaboration for a single document. All state that
// belongs to the session — the document, participants, presence — is touched
// only by the Run goroutine, so no locks are needed on the editing path.
// Only the idle statistics the reaper reads cross goroutines.
type Session struct {
	id        string
	doc       *ot.Document
	resolver  ot.Resolver
	store     store.DocumentStore
	suggester analysis.Suggester

	participants map[string]*presenceRecord // keyed by userID

	join     chan *Client
	leave    chan *Client
	incoming chan opMessage
	presence chan presenceUpdate
	control  chan controlRequest
	stop     chan struct{}

	stats sessionStats
}

func newSession(id, content string, version int, history []ot.Operation, resolver ot.Resolver, st store.DocumentStore, suggester analysis.Suggester, checkpointInterval int) *Session {
	doc := ot.NewDocument(content)
	doc.Version = version
	doc.Log = history
	if checkpointInterval > 0 {
		doc.CheckpointInterval = checkpointInterval
	}
	s := &Session{
		id:           id,
		doc:          doc,
		resolver:     resolver,
		store:        st,
		suggester:    suggester,
		participants: make(map[string]*presenceRecord),
		join:         make(chan *Client, 16),
		leave:        make(chan *Client, 16),
		incoming:     make(chan opMessage, 64),
		presence:     make(chan presenceUpdate, 64),
		control:      make(chan controlRequest, 16),
		stop:         make(chan struct{}),
	}
	s.stats.touch(time.Now())
	return s
}

// Run is the session's main loop. It serializes all mutations.
func (s *Session) Run() {
	for {
		// Stop wins over buffered work, so a join that raced the reaper is
		// redirected instead of being processed by a dead session.
		select {
		case <-s.stop:
			s.redirectPendingJoins()
			return
		default:
		}

		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case om := <-s.incoming:
			s.handleOp(om)
		case pu := <-s.presence:
			s.handlePresence(pu)
		case cr := <-s.control:
			s.handleControl(cr)
		case <-s.stop:
			s.redirectPendingJoins()
			return
		}
	}
}

// redirectPendingJoins hands joins that raced the reaper back to the hub.
// The hub sees the session is stopped and rebuilds it from the store, so a
// client arriving during the sweep still gets hydrated.
func (s *Session) redirectPendingJoins() {
	for {
		select {
		case c := <-s.join:
			c.hub.joinDoc <- joinRequest{client: c, docID: s.id}
		default:
			return
		}
	}
}

func (s *Session) handleJoin(c *Client) {
	// A reconnecting user replaces their old presence entry; the superseded
	// connection stops receiving session traffic. The same connection
	// joining again is a rehydrate, not a membership change.
	rejoin := false
	if old, ok := s.participants[c.UserID]; ok {
		if old.client == c {
			rejoin = true
		} else {
			old.client.detach()
		}
	}
	rec := &presenceRecord{client: c, lastActivity: time.Now()}
	s.participants[c.UserID] = rec
	c.bindSession(s)
	s.stats.set(time.Now(), len(s.participants))

	c.sendMsg(ServerMessage{
		Type:    MsgJoined,
		DocID:   s.id,
		Content: s.doc.Content,
		Version: s.doc.Version,
		Users:   s.userInfos(),
		Recent:  s.doc.Recent(recentChangeLimit),
	})

	if rejoin {
		return
	}
	info := rec.info()
	s.broadcast(ServerMessage{Type: MsgUserJoined, User: &info}, mapset.NewSet(c.UserID))
}

func (s *Session) handleLeave(c *Client) {
	rec, ok := s.participants[c.UserID]
	if !ok || rec.client != c {
		// Stale leave from a connection already replaced by a reconnect.
		c.detach()
		return
	}
	delete(s.participants, c.UserID)
	c.detach()
	s.stats.set(time.Now(), len(s.participants))

	s.broadcast(ServerMessage{Type: MsgUserLeft, UserID: c.UserID}, nil)
}

func (s *Session) handleOp(om opMessage) {
	rec, ok := s.participants[om.client.UserID]
	if !ok || rec.client != om.client {
		om.client.sendError("not joined to this document")
		return
	}

	op := om.op
	op.AuthorID = om.client.UserID

	// Range checks only make sense against the version the op was generated
	// for; for stale versions the transform result is bounds-checked at
	// apply time instead.
	docLen := len(s.doc.Content)
	if om.version < s.doc.Version {
		docLen = -1
	}
	if err := op.Validate(docLen); err != nil {
		om.client.sendError(err.Error())
		return
	}

	resolved, err := s.resolver.Resolve(op, om.version, s.doc.Log)
	if err != nil {
		log.Printf("session %s: resolve error: %v", s.id, err)
		om.client.sendError("resolve error: " + err.Error())
		return
	}

	if err := s.doc.Apply(resolved); err != nil {
		if errors.Is(err, ot.ErrOutOfRange) {
			// The transform produced an impossible operation: treat the log
			// as corrupt and fall back to the last known-good checkpoint.
			log.Printf("session %s: apply produced out-of-range op, rolling back: %v", s.id, err)
			s.reload()
			return
		}
		log.Printf("session %s: apply error: %v", s.id, err)
		om.client.sendError("apply error: " + err.Error())
		return
	}

	// Mark applied before persisting or relaying, so a redelivered copy is a
	// no-op rather than a double splice.
	resolved.Applied = true

	ctx := context.Background()
	if err := s.store.AppendOperation(ctx, s.id, resolved, s.doc.Version); err != nil {
		log.Printf("session %s: persist op: %v", s.id, err)
	}
	if err := s.store.UpdateContent(ctx, s.id, s.doc.Content, s.doc.Version); err != nil {
		log.Printf("session %s: persist content: %v", s.id, err)
	}

	rec.lastActivity = time.Now()
	s.stats.touch(rec.lastActivity)

	// Ack the submitter with the resolved form — its position may differ
	// from what was submitted.
	om.client.sendMsg(ServerMessage{
		Type:     MsgAck,
		ChangeID: resolved.ID,
		Version:  s.doc.Version,
		Op:       &resolved,
	})

	s.broadcast(ServerMessage{
		Type:    MsgApplied,
		DocID:   s.id,
		Version: s.doc.Version,
		Op:      &resolved,
		UserID:  resolved.AuthorID,
	}, mapset.NewSet(om.client.UserID))

	s.verifyCheckpoint()
}

// verifyCheckpoint replays the log whenever a checkpoint was just taken and
// rolls the session back if the replay invariant no longer holds.
func (s *Session) verifyCheckpoint() {
	n := len(s.doc.Checkpoints)
	if n == 0 || s.doc.Checkpoints[n-1].Version != s.doc.Version {
		return
	}
	if err := s.doc.Replay(); err != nil {
		log.Printf("session %s: replay invariant violated: %v", s.id, err)
		s.reload()
	}
}

// reload rolls the document back to its last checkpoint and tells every
// participant to rehydrate.
func (s *Session) reload() {
	v := s.doc.Rollback()
	log.Printf("session %s: rolled back to v%d", s.id, v)
	s.broadcast(ServerMessage{
		Type:    MsgReloaded,
		DocID:   s.id,
		Content: s.doc.Content,
		Version: s.doc.Version,
	}, nil)
}

func (s *Session) handlePresence(pu presenceUpdate) {
	rec, ok := s.participants[pu.client.UserID]
	if !ok || rec.client != pu.client {
		pu.client.sendError("not joined to this document")
		return
	}

	rec.lastActivity = time.Now()
	s.stats.touch(rec.lastActivity)

	exclude := mapset.NewSet(pu.client.UserID)
	switch {
	case pu.cursor != nil:
		rec.cursor = pu.cursor
		s.broadcast(ServerMessage{Type: MsgCursorUpdated, UserID: pu.client.UserID, Cursor: pu.cursor}, exclude)
	case pu.selection != nil:
		rec.selection = pu.selection
		s.broadcast(ServerMessage{Type: MsgSelectionUpdated, UserID: pu.client.UserID, Selection: pu.selection}, exclude)
	}
}

func (s *Session) handleControl(cr controlRequest) {
	rec, ok := s.participants[cr.client.UserID]
	if !ok || rec.client != cr.client {
		cr.client.sendError("not joined to this document")
		return
	}
	rec.lastActivity = time.Now()
	s.stats.touch(rec.lastActivity)

	// Snapshot under the session goroutine; the store call happens off it
	// so a slow backend never stalls editing.
	content := s.doc.Content
	version := s.doc.Version

	switch cr.kind {
	case reqSave:
		go s.saveDocument(cr.client, content, version)
	case reqSuggest:
		go s.fetchSuggestions(cr.client, content)
	}
}

func (s *Session) saveDocument(c *Client, content string, version int) {
	if err := s.store.UpdateContent(context.Background(), s.id, content, version); err != nil {
		log.Printf("session %s: save: %v", s.id, err)
		c.sendError("save failed: " + err.Error())
		return
	}
	now := time.Now()
	c.sendMsg(ServerMessage{Type: MsgSaved, Version: version, Timestamp: &now})
}

func (s *Session) fetchSuggestions(c *Client, content string) {
	suggestions, err := s.suggester.Suggest(context.Background(), content)
	if err != nil {
		// Degrade to no suggestions; editing is never blocked on this.
		log.Printf("session %s: suggestions: %v", s.id, err)
		suggestions = nil
	}
	c.sendMsg(ServerMessage{Type: MsgSuggestions, Suggestions: suggestions})
}

// broadcast fans a message out to every open participant connection except
// those in exclude.
func (s *Session) broadcast(msg ServerMessage, exclude mapset.Set[string]) {
	fanOut(s.participants, exclude, msg)
}

func (s *Session) userInfos() []UserInfo {
	infos := make([]UserInfo, 0, len(s.participants))
	for _, rec := range s.participants {
		infos = append(infos, rec.info())
	}
	return infos
}

// reapable reports whether the session has been empty for longer than
// idleAfter. Called from the hub goroutine.
func (s *Session) reapable(now time.Time, idleAfter time.Duration) bool {
	return s.stats.idle(now, idleAfter)
}

// sessionStats is the slice of session state the reaper reads from outside
// the session goroutine.
type sessionStats struct {
	mu           sync.Mutex
	lastActivity time.Time
	population   int
}

func (st *sessionStats) touch(now time.Time) {
	st.mu.Lock()
	st.lastActivity = now
	st.mu.Unlock()
}

func (st *sessionStats) set(now time.Time, population int) {
	st.mu.Lock()
	st.lastActivity = now
	st.population = population
	st.mu.Unlock()
}

func (st *sessionStats) idle(now time.Time, idleAfter time.Duration) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.population == 0 && now.Sub(st.lastActivity) > idleAfter
}
