package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/tveshas/quizagent/internal/solver"
)

func TestSaveGetRoundTrip(t *testing.T) {
	store := NewStore()
	sess := &solver.QuizSession{
		ID:        "s1",
		StartURL:  "https://q.example/1",
		Outcome:   solver.OutcomeRunning,
		UpdatedAt: time.Now(),
	}
	if err := store.Save(context.Background(), sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the original must not change the stored snapshot.
	sess.Outcome = solver.OutcomeSolved
	got, err := store.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Outcome != solver.OutcomeRunning {
		t.Fatalf("stored snapshot aliased the caller's session")
	}
}

func TestGetUnknown(t *testing.T) {
	store := NewStore()
	if _, err := store.Get(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestListOrdersByRecency(t *testing.T) {
	store := NewStore()
	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		err := store.Save(context.Background(), &solver.QuizSession{
			ID:        id,
			UpdatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	out, err := store.List(context.Background(), 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(out) != 2 || out[0].ID != "c" || out[1].ID != "b" {
		t.Fatalf("unexpected order: %v, %v", out[0].ID, out[1].ID)
	}
}
