package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/omnidraft/collab-core/ot"
)

// dirtyState tracks what a single document still owes the backing store.
type dirtyState struct {
	contentDirty bool // content/version needs writing
	flushedOps   int  // ops already flushed (index into history)
	created      bool // created locally, not yet in the backing store
}

// CachedStore serves all reads and writes from an in-memory MemoryStore and
// flushes dirty documents to a backing DocumentStore on an interval, so the
// session loop never waits on slow persistence.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	flushInterval time.Duration

	mu    sync.Mutex
	dirty map[string]*dirtyState

	stop chan struct{}
	done chan struct{}
}

// NewCachedStore wraps backing with a write-behind cache flushing every
// flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration) *CachedStore {
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		flushInterval: flushInterval,
		dirty:         make(map[string]*dirtyState),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

// Close performs a final flush and waits for the flush loop to exit.
func (cs *CachedStore) Close() {
	close(cs.stop)
	<-cs.done
}

func (cs *CachedStore) Create(ctx context.Context, id, content string) error {
	if err := cs.cache.Create(ctx, id, content); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{contentDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	if err := cs.loadFromBacking(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	return cs.backing.List(ctx)
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, content, version); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.mark(id).contentDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendOperation(ctx context.Context, id string, op ot.Operation, version int) error {
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot the history length before appending so a previously clean
	// document records how much is already flushed.
	cs.cache.mu.RLock()
	prevLen := len(cs.cache.docs[id].history)
	cs.cache.mu.RUnlock()

	if err := cs.cache.AppendOperation(ctx, id, op, version); err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.Operation, error) {
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetOperations(ctx, id, fromVersion)
}

// mark returns the dirty entry for id, creating a clean one if absent.
// Callers must hold cs.mu.
func (cs *CachedStore) mark(id string) *dirtyState {
	ds := cs.dirty[id]
	if ds == nil {
		cs.cache.mu.RLock()
		flushed := len(cs.cache.docs[id].history)
		cs.cache.mu.RUnlock()
		ds = &dirtyState{flushedOps: flushed}
		cs.dirty[id] = ds
	}
	return ds
}

// loadFromBacking populates the cache from the backing store on a miss,
// recording that everything loaded is already persisted.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	ops, err := cs.backing.GetOperations(ctx, id, 0)
	if err != nil {
		return err
	}

	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{info: *info, history: ops}
	}
	cs.cache.mu.Unlock()

	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: len(ops)}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all dirty documents to the backing store. Failures are logged
// and retried on the next cycle; in-memory state is never rolled back.
func (cs *CachedStore) flush() {
	cs.mu.Lock()
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	ctx := context.Background()
	for id, ds := range snapshot {
		cs.flushDoc(ctx, id, ds)
	}
}

func (cs *CachedStore) flushDoc(ctx context.Context, id string, ds *dirtyState) {
	cs.cache.mu.RLock()
	rec, ok := cs.cache.docs[id]
	if !ok {
		cs.cache.mu.RUnlock()
		return
	}
	info := rec.info
	totalOps := len(rec.history)
	var newOps []ot.Operation
	if ds.flushedOps < totalOps {
		newOps = make([]ot.Operation, totalOps-ds.flushedOps)
		copy(newOps, rec.history[ds.flushedOps:])
	}
	cs.cache.mu.RUnlock()

	if ds.created {
		if err := cs.backing.Create(ctx, id, ""); err != nil {
			log.Printf("cached store: create %q in backing store: %v", id, err)
			return
		}
		ds.created = false
	}

	// Ops before content, so crash recovery can replay.
	for i, op := range newOps {
		version := ds.flushedOps + i + 1
		if err := cs.backing.AppendOperation(ctx, id, op, version); err != nil {
			log.Printf("cached store: flush op %d for %q: %v", version, id, err)
			break
		}
		ds.flushedOps++
	}

	if ds.contentDirty {
		if err := cs.backing.UpdateContent(ctx, id, info.Content, info.Version); err != nil {
			log.Printf("cached store: flush content for %q: %v", id, err)
		} else {
			ds.contentDirty = false
		}
	}

	// Fold the progress back into the authoritative dirty map, dropping the
	// entry only if nothing new arrived since the snapshot.
	cs.mu.Lock()
	cur := cs.dirty[id]
	if cur != nil {
		cur.flushedOps = ds.flushedOps
		cur.created = ds.created
		if !ds.contentDirty {
			cur.contentDirty = false
		}
		if !cur.contentDirty && !cur.created {
			cs.cache.mu.RLock()
			if r, ok := cs.cache.docs[id]; ok && cur.flushedOps >= len(r.history) {
				delete(cs.dirty, id)
			}
			cs.cache.mu.RUnlock()
		}
	}
	cs.mu.Unlock()
}
