package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tveshas/quizagent/internal/solver"
)

// Runs only against a real database, e.g.
// QUIZAGENT_TEST_DATABASE_URL=postgres://localhost/quizagent_test?sslmode=disable
func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("QUIZAGENT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("QUIZAGENT_TEST_DATABASE_URL not set")
	}
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveGetList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	answer := solver.NumberAnswer(4)
	sess := &solver.QuizSession{
		ID:         uuid.New().String(),
		Email:      "solver@example.com",
		StartURL:   "https://q.example/1",
		CurrentURL: "https://q.example/1",
		Outcome:    solver.OutcomeRunning,
		Rounds: []solver.Round{{
			URL:         "https://q.example/1",
			Answer:      &answer,
			Verdict:     &solver.Verdict{Correct: true},
			SubmittedAt: time.Now(),
		}},
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sess.Outcome = solver.OutcomeSolved
	sess.UpdatedAt = time.Now()
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Outcome != solver.OutcomeSolved {
		t.Fatalf("outcome = %s", got.Outcome)
	}
	if len(got.Rounds) != 1 || got.Rounds[0].Verdict == nil || !got.Rounds[0].Verdict.Correct {
		t.Fatalf("rounds did not round-trip: %+v", got.Rounds)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, item := range list {
		if item.ID == sess.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("saved session missing from list")
	}
}
