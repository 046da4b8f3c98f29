package ot

import (
	"errors"
	"fmt"
	"testing"
)

func TestDocument_ApplyInsertDelete(t *testing.T) {
	d := NewDocument("Hello world")
	if err := d.Apply(NewInsert("a", 11, "!")); err != nil {
		t.Fatal(err)
	}
	if d.Content != "Hello world!" || d.Version != 1 {
		t.Fatalf("after insert: content=%q version=%d", d.Content, d.Version)
	}
	if err := d.Apply(NewDelete("b", 5, 6)); err != nil {
		t.Fatal(err)
	}
	if d.Content != "Hello!" || d.Version != 2 {
		t.Fatalf("after delete: content=%q version=%d", d.Content, d.Version)
	}
	if len(d.Log) != 2 {
		t.Errorf("log length = %d, want 2", len(d.Log))
	}
	for i, op := range d.Log {
		if !op.Applied {
			t.Errorf("log[%d] not marked applied", i)
		}
	}
}

func TestDocument_ApplyIdempotence(t *testing.T) {
	d := NewDocument("abc")
	op := NewInsert("a", 0, "X")
	op.Applied = true
	if err := d.Apply(op); err != nil {
		t.Fatal(err)
	}
	if d.Version != 0 || d.Content != "abc" || len(d.Log) != 0 {
		t.Errorf("already-applied op mutated state: content=%q version=%d", d.Content, d.Version)
	}
}

func TestDocument_ApplyOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		op   Operation
	}{
		{"insert past end", NewInsert("a", 4, "X")},
		{"insert negative", NewInsert("a", -1, "X")},
		{"delete past end", NewDelete("a", 2, 5)},
		{"unknown kind", Operation{Kind: "retain", Position: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDocument("abc")
			err := d.Apply(tt.op)
			if !errors.Is(err, ErrOutOfRange) {
				t.Fatalf("err = %v, want ErrOutOfRange", err)
			}
			if d.Content != "abc" || d.Version != 0 || len(d.Log) != 0 {
				t.Errorf("failed apply mutated state: content=%q version=%d", d.Content, d.Version)
			}
		})
	}
}

func TestDocument_MonotonicVersion(t *testing.T) {
	d := NewDocument("")
	for i := 0; i < 10; i++ {
		before := d.Version
		if err := d.Apply(NewInsert("a", 0, "x")); err != nil {
			t.Fatal(err)
		}
		if d.Version != before+1 {
			t.Fatalf("version went %d -> %d", before, d.Version)
		}
	}
}

func TestDocument_Checkpoints(t *testing.T) {
	d := NewDocument("")
	d.CheckpointInterval = 3

	for i := 0; i < 7; i++ {
		if err := d.Apply(NewInsert("a", i, fmt.Sprintf("%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	if len(d.Checkpoints) != 2 {
		t.Fatalf("checkpoints = %d, want 2", len(d.Checkpoints))
	}
	if d.Checkpoints[0].Version != 3 || d.Checkpoints[0].Content != "012" {
		t.Errorf("checkpoint 0 = v%d %q", d.Checkpoints[0].Version, d.Checkpoints[0].Content)
	}
	if d.Checkpoints[1].Version != 6 || d.Checkpoints[1].Content != "012345" {
		t.Errorf("checkpoint 1 = v%d %q", d.Checkpoints[1].Version, d.Checkpoints[1].Content)
	}
	if got := len(d.Checkpoints[1].Ops); got != 3 {
		t.Errorf("checkpoint 1 carries %d ops, want 3", got)
	}
}

func TestDocument_Replay(t *testing.T) {
	d := NewDocument("")
	d.CheckpointInterval = 2
	ops := []Operation{
		NewInsert("a", 0, "hello"),
		NewInsert("b", 5, " world"),
		NewDelete("a", 0, 1),
		NewInsert("b", 0, "H"),
	}
	for _, op := range ops {
		if err := d.Apply(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := d.Replay(); err != nil {
		t.Fatalf("Replay: %v", err)
	}

	// Corrupt the live content; replay must notice.
	d.Content = "Hello worlds"
	if err := d.Replay(); err == nil {
		t.Error("Replay accepted corrupt content")
	}
}

func TestDocument_ReplayDetectsCorruptCheckpoint(t *testing.T) {
	d := NewDocument("")
	d.CheckpointInterval = 2
	for i := 0; i < 4; i++ {
		if err := d.Apply(NewInsert("a", 0, "x")); err != nil {
			t.Fatal(err)
		}
	}
	d.Checkpoints[0].Content = "corrupt"
	if err := d.Replay(); err == nil {
		t.Error("Replay accepted corrupt checkpoint")
	}
}

func TestDocument_Rollback(t *testing.T) {
	d := NewDocument("")
	d.CheckpointInterval = 2
	for i := 0; i < 5; i++ {
		if err := d.Apply(NewInsert("a", i, fmt.Sprintf("%d", i))); err != nil {
			t.Fatal(err)
		}
	}

	v := d.Rollback()
	if v != 4 {
		t.Fatalf("rolled back to v%d, want 4", v)
	}
	if d.Content != "0123" || d.Version != 4 || len(d.Log) != 4 {
		t.Errorf("after rollback: content=%q version=%d log=%d", d.Content, d.Version, len(d.Log))
	}
	if err := d.Replay(); err != nil {
		t.Errorf("replay after rollback: %v", err)
	}
}

func TestDocument_RollbackWithoutCheckpoints(t *testing.T) {
	d := NewDocument("")
	d.CheckpointInterval = 0
	d.Apply(NewInsert("a", 0, "abc"))

	if v := d.Rollback(); v != 0 {
		t.Fatalf("rolled back to v%d, want 0", v)
	}
	if d.Content != "" || d.Version != 0 || len(d.Log) != 0 {
		t.Errorf("after rollback: content=%q version=%d", d.Content, d.Version)
	}
}

func TestDocument_Recent(t *testing.T) {
	d := NewDocument("")
	for i := 0; i < 5; i++ {
		d.Apply(NewInsert("a", 0, "x"))
	}
	if got := len(d.Recent(3)); got != 3 {
		t.Errorf("Recent(3) = %d ops", got)
	}
	if got := len(d.Recent(10)); got != 5 {
		t.Errorf("Recent(10) = %d ops", got)
	}
}
