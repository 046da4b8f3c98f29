package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/omnidraft/collab-core/ot"
)

func testFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()
	projectID := os.Getenv("FIRESTORE_PROJECT")
	if projectID == "" {
		t.Skip("FIRESTORE_PROJECT not set, skipping Firestore tests")
	}
	client, err := firestore.NewClient(context.Background(), projectID)
	if err != nil {
		t.Fatalf("failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

// uniqueDocID returns a unique document ID for test isolation.
func uniqueDocID(t *testing.T) string {
	return fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano())
}

// cleanupDoc deletes a document and its operations subcollection.
func cleanupDoc(t *testing.T, s *FirestoreStore, docID string) {
	t.Helper()
	c := context.Background()

	ops := s.opsCollection(docID).Documents(c)
	for {
		snap, err := ops.Next()
		if err != nil {
			break
		}
		snap.Ref.Delete(c)
	}
	s.docRef(docID).Delete(c)
}

func TestFirestoreStore_CreateAndGet(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client)
	c := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	if err := s.Create(c, docID, "hello"); err != nil {
		t.Fatal(err)
	}
	info, err := s.Get(c, docID)
	if err != nil {
		t.Fatal(err)
	}
	if info.Content != "hello" || info.Version != 0 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestFirestoreStore_OperationsRoundTrip(t *testing.T) {
	client := testFirestoreClient(t)
	s := NewFirestoreStore(client)
	c := context.Background()
	docID := uniqueDocID(t)
	t.Cleanup(func() { cleanupDoc(t, s, docID) })

	if err := s.Create(c, docID, ""); err != nil {
		t.Fatal(err)
	}

	ops := []ot.Operation{
		ot.NewInsert("u1", 0, "hello"),
		ot.NewDelete("u2", 0, 1),
	}
	for i, op := range ops {
		op.ID = fmt.Sprintf("op-%d", i)
		op.Applied = true
		if err := s.AppendOperation(c, docID, op, i+1); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetOperations(c, docID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d ops, want 2", len(got))
	}
	if got[0].Kind != ot.Insert || got[0].Content != "hello" || got[0].AuthorID != "u1" {
		t.Errorf("ops[0] = %+v", got[0])
	}
	if got[1].Kind != ot.Delete || got[1].Length != 1 || !got[1].Applied {
		t.Errorf("ops[1] = %+v", got[1])
	}

	tail, err := s.GetOperations(c, docID, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 1 {
		t.Errorf("got %d tail ops, want 1", len(tail))
	}
}
