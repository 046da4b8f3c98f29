package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/omnidraft/collab-core/analysis"
	"github.com/omnidraft/collab-core/ot"
	"github.com/omnidraft/collab-core/server"
	"github.com/omnidraft/collab-core/store"
)

func main() {
	var (
		addr             = flag.String("addr", ":8080", "HTTP listen address")
		storeKind        = flag.String("store", "memory", "document store backend: memory, bolt or firestore")
		boltPath         = flag.String("bolt-path", "collab.db", "database file for the bolt store")
		firestoreProject = flag.String("firestore-project", "", "GCP project for the firestore store")
		flushInterval    = flag.Duration("flush-interval", 5*time.Second, "write-behind flush interval for persistent stores")
		checkpointEvery  = flag.Int("checkpoint-interval", ot.DefaultCheckpointInterval, "applied operations between document checkpoints")
		reapInterval     = flag.Duration("reap-interval", server.DefaultReapInterval, "how often idle sessions are swept")
		idleAfter        = flag.Duration("idle-after", server.DefaultIdleAfter, "how long an empty session is kept")
		suggestURL       = flag.String("suggest-url", "", "external suggestion service URL (local analyzer when empty)")
	)
	flag.Parse()

	st, cleanup, err := buildStore(*storeKind, *boltPath, *firestoreProject, *flushInterval)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer cleanup()

	hub := server.NewHub(st, &ot.LocalResolver{}, analysis.NewSuggester(*suggestURL))
	hub.ReapInterval = *reapInterval
	hub.IdleAfter = *idleAfter
	hub.CheckpointInterval = *checkpointEvery
	go hub.Run()

	handler := server.NewHandler(hub)

	log.Printf("Starting server on %s (store=%s)", *addr, *storeKind)
	if err := http.ListenAndServe(*addr, handler); err != nil {
		log.Fatal(err)
	}
}

// buildStore wires the configured backend, wrapping persistent ones in the
// write-behind cache so the session loop never waits on them.
func buildStore(kind, boltPath, project string, flushInterval time.Duration) (store.DocumentStore, func(), error) {
	switch kind {
	case "memory":
		return store.NewMemoryStore(), func() {}, nil
	case "bolt":
		bs, err := store.NewBoltStore(boltPath)
		if err != nil {
			return nil, nil, err
		}
		cs := store.NewCachedStore(bs, flushInterval)
		return cs, func() {
			cs.Close()
			bs.Close()
		}, nil
	case "firestore":
		client, err := firestore.NewClient(context.Background(), project)
		if err != nil {
			return nil, nil, err
		}
		cs := store.NewCachedStore(store.NewFirestoreStore(client), flushInterval)
		return cs, func() {
			cs.Close()
			client.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", kind)
	}
}
