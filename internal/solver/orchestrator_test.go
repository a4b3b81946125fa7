package solver

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/deadline"
)

func quizHTML(question, submitURL string) string {
	return fmt.Sprintf(`<html><body><div id="result"><p>%s</p><p>Post your answer to %s</p></div></body></html>`, question, submitURL)
}

type stubRenderer struct {
	pages map[string]string
	delay time.Duration
	err   error
	failN int // fail this many renders before serving pages
	seen  []string
}

func (r *stubRenderer) Render(ctx context.Context, url string) (RenderedPage, error) {
	r.seen = append(r.seen, url)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.failN > 0 {
		r.failN--
		return RenderedPage{}, fmt.Errorf("connection reset")
	}
	if r.err != nil {
		return RenderedPage{}, r.err
	}
	html, ok := r.pages[url]
	if !ok {
		return RenderedPage{}, fmt.Errorf("no page for %s", url)
	}
	return RenderedPage{URL: url, HTML: html, CapturedAt: time.Now()}, nil
}

type scriptedReasoner struct {
	replies  []Reply
	delay    time.Duration
	err      error
	errN     int // fail this many calls before following the script
	requests []ReasoningRequest
}

func (s *scriptedReasoner) Reason(ctx context.Context, req ReasoningRequest) (Reply, error) {
	s.requests = append(s.requests, req)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.errN > 0 {
		s.errN--
		return Reply{}, fmt.Errorf("transport glitch")
	}
	if s.err != nil {
		return Reply{}, s.err
	}
	if len(s.replies) == 0 {
		return Reply{}, fmt.Errorf("reasoner script exhausted")
	}
	reply := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return reply, nil
}

type scriptedSubmitter struct {
	verdicts    []Verdict
	err         error
	submissions []Submission
	urls        []string
}

func (s *scriptedSubmitter) Submit(ctx context.Context, submitURL string, sub Submission) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	s.submissions = append(s.submissions, sub)
	s.urls = append(s.urls, submitURL)
	if s.err != nil {
		return Verdict{}, s.err
	}
	if len(s.verdicts) == 0 {
		return Verdict{}, fmt.Errorf("submitter script exhausted")
	}
	v := s.verdicts[0]
	if len(s.verdicts) > 1 {
		s.verdicts = s.verdicts[1:]
	}
	return v, nil
}

type memStore struct {
	mu       sync.Mutex
	sessions map[string]QuizSession
	saves    int
}

func newMemStore() *memStore { return &memStore{sessions: make(map[string]QuizSession)} }

func (s *memStore) Save(ctx context.Context, sess *QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = *sess
	s.saves++
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &sess, nil
}

func (s *memStore) List(ctx context.Context, limit int) ([]*QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*QuizSession
	for id := range s.sessions {
		sess := s.sessions[id]
		out = append(out, &sess)
	}
	return out, nil
}

func answerReply(a Answer) Reply { return Reply{Answer: &a, Model: "test"} }

func newTestOrchestrator(t *testing.T, renderer Renderer, reasoner ReasoningClient, submitter SubmissionClient, tools ...capability.Tool) (*Orchestrator, *memStore) {
	t.Helper()
	reg, err := capability.NewRegistry(tools, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	store := newMemStore()
	o, err := NewOrchestrator(
		Params{Email: "solver@example.com", Secret: "s3cret", MaxAttempts: 3},
		deadline.Config{Budget: 3 * time.Second, StepTimeout: time.Second},
		renderer, reasoner, submitter, reg, store, nil,
		log.New(io.Discard, "", 0),
	)
	if err != nil {
		t.Fatalf("NewOrchestrator: %v", err)
	}
	return o, store
}

func TestRunSolvesSingleQuiz(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("What is 2+2?", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{answerReply(NumberAnswer(4))}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	o, store := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s, want solved", sess.Outcome)
	}
	if len(sess.Rounds) != 1 {
		t.Fatalf("rounds = %d, want 1", len(sess.Rounds))
	}
	if got := submitter.urls[0]; got != "https://q.example/submit" {
		t.Fatalf("submitted to %s", got)
	}
	sub := submitter.submissions[0]
	if sub.Email != "solver@example.com" || sub.Secret != "s3cret" || sub.QuizURL != "https://q.example/1" {
		t.Fatalf("submission identity wrong: %+v", sub)
	}
	saved, err := store.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("store.Get: %v", err)
	}
	if saved.Outcome != OutcomeSolved {
		t.Fatalf("store holds outcome %s", saved.Outcome)
	}
}

func TestRunFollowsChain(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("First question", "https://q.example/submit"),
		"https://q.example/2": quizHTML("Second question", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{
		answerReply(StringAnswer("alpha")),
		answerReply(StringAnswer("beta")),
	}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{
		{Correct: true, NextURL: "https://q.example/2"},
		{Correct: true},
	}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
	if len(sess.Rounds) != 2 {
		t.Fatalf("rounds = %d, want 2", len(sess.Rounds))
	}
	if len(renderer.seen) != 2 || renderer.seen[1] != "https://q.example/2" {
		t.Fatalf("renderer saw %v", renderer.seen)
	}
	if sub := submitter.submissions[1]; sub.QuizURL != "https://q.example/2" {
		t.Fatalf("second submission targets %s", sub.QuizURL)
	}
}

func TestRunRetriesAfterRejectionWithFeedback(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Pick a color", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{
		answerReply(StringAnswer("red")),
		answerReply(StringAnswer("blue")),
	}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{
		{Correct: false, Reason: "wrong shade"},
		{Correct: true},
	}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
	if len(submitter.submissions) != 2 {
		t.Fatalf("submissions = %d, want 2", len(submitter.submissions))
	}

	// The rejection reason reaches the second reasoning request as a
	// conversation turn, not as control flow.
	second := reasoner.requests[1]
	var sawFeedback bool
	for _, turn := range second.History {
		if turn.Role == "user" && strings.Contains(turn.Content, "wrong shade") {
			sawFeedback = true
		}
	}
	if !sawFeedback {
		t.Fatalf("rejection feedback missing from history: %+v", second.History)
	}
}

func TestRunNeverResubmitsRejectedAnswer(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Pick a number", "https://q.example/submit"),
	}}
	// The model stubbornly repeats the same answer.
	reasoner := &scriptedReasoner{replies: []Reply{answerReply(NumberAnswer(7))}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: false, Reason: "nope"}}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err == nil {
		t.Fatalf("expected failure when every attempt repeats a rejected answer")
	}
	if sess.Outcome != OutcomeFailed {
		t.Fatalf("outcome = %s, want failed", sess.Outcome)
	}
	if len(submitter.submissions) != 1 {
		t.Fatalf("rejected answer was resubmitted: %d submissions", len(submitter.submissions))
	}
}

func TestRunSkipsAheadOnRejectedWithNextURL(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Hard one", "https://q.example/submit"),
		"https://q.example/2": quizHTML("Easy one", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{
		answerReply(StringAnswer("guess")),
		answerReply(BoolAnswer(true)),
	}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{
		{Correct: false, Reason: "wrong", NextURL: "https://q.example/2"},
		{Correct: true},
	}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
	if len(renderer.seen) != 2 {
		t.Fatalf("expected skip to second quiz, renderer saw %v", renderer.seen)
	}
}

func TestRunDispatchesToolCalls(t *testing.T) {
	tool := &countingTool{name: "scrape_url"}
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Scrape something", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{
		{ToolCalls: []capability.Call{{ID: "c1", Name: "scrape_url", Args: map[string]interface{}{"url": "https://data.example"}}}},
		answerReply(StringAnswer("found it")),
	}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter, tool)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
	if tool.invoked != 1 {
		t.Fatalf("tool invoked %d times, want 1", tool.invoked)
	}

	// The tool result must appear as a tool turn in the follow-up request.
	second := reasoner.requests[1]
	var sawToolTurn bool
	for _, turn := range second.History {
		if turn.Role == "tool" && turn.ToolCallID == "c1" {
			sawToolTurn = true
		}
	}
	if !sawToolTurn {
		t.Fatalf("tool turn missing from history: %+v", second.History)
	}
}

func TestRunFoldsToolFailureIntoHistory(t *testing.T) {
	tool := &countingTool{name: "scrape_url", fail: true}
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Scrape something", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{replies: []Reply{
		{ToolCalls: []capability.Call{{ID: "c1", Name: "scrape_url", Args: map[string]interface{}{"url": "https://data.example"}}}},
		answerReply(StringAnswer("answered anyway")),
	}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter, tool)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("tool failure must not fail the session: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
}

func TestRunTimesOutAgainstBudget(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("Slow one", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{
		replies: []Reply{answerReply(NumberAnswer(1))},
		delay:   80 * time.Millisecond,
	}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	reg, err := capability.NewRegistry(nil, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	o, _ := func() (*Orchestrator, *memStore) {
		store := newMemStore()
		o, err := NewOrchestrator(
			Params{Email: "e@example.com", Secret: "x"},
			deadline.Config{Budget: 50 * time.Millisecond, StepTimeout: 40 * time.Millisecond},
			renderer, reasoner, submitter, reg, store, nil,
			log.New(io.Discard, "", 0),
		)
		if err != nil {
			t.Fatalf("NewOrchestrator: %v", err)
		}
		return o, store
	}()

	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("timeout is a terminal outcome, not an error: %v", err)
	}
	if sess.Outcome != OutcomeTimedOut {
		t.Fatalf("outcome = %s, want timed_out", sess.Outcome)
	}
	if len(submitter.submissions) != 0 {
		t.Fatalf("no submission should happen past the budget")
	}
}

func TestRunRetriesRenderFailures(t *testing.T) {
	renderer := &stubRenderer{
		pages: map[string]string{
			"https://q.example/1": quizHTML("What is 2+2?", "https://q.example/submit"),
		},
		failN: 1,
	}
	reasoner := &scriptedReasoner{replies: []Reply{answerReply(NumberAnswer(4))}}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("a transient render failure must not fail the session: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s, want solved", sess.Outcome)
	}
	if len(renderer.seen) != 2 {
		t.Fatalf("renderer called %d times, want a retry after the failure", len(renderer.seen))
	}
}

func TestRunNotesFailedReasoningAttemptInHistory(t *testing.T) {
	renderer := &stubRenderer{pages: map[string]string{
		"https://q.example/1": quizHTML("What is 2+2?", "https://q.example/submit"),
	}}
	reasoner := &scriptedReasoner{
		replies: []Reply{answerReply(NumberAnswer(4))},
		errN:    1,
	}
	submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

	o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
	sess, err := o.Run(context.Background(), "https://q.example/1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sess.Outcome != OutcomeSolved {
		t.Fatalf("outcome = %s", sess.Outcome)
	}
	if len(reasoner.requests) != 2 {
		t.Fatalf("reasoning calls = %d, want a retry after the glitch", len(reasoner.requests))
	}

	// The retry turn must see a note about the failed attempt.
	second := reasoner.requests[1]
	var sawNote bool
	for _, turn := range second.History {
		if turn.Role == "user" && strings.Contains(turn.Content, "reasoning attempt failed") {
			sawNote = true
		}
	}
	if !sawNote {
		t.Fatalf("diagnostic note missing from history: %+v", second.History)
	}
}

func TestRunRepeatedRunsYieldSameAnswer(t *testing.T) {
	run := func() Answer {
		renderer := &stubRenderer{pages: map[string]string{
			"https://q.example/1": quizHTML("What is 2+2?", "https://q.example/submit"),
		}}
		reasoner := &scriptedReasoner{replies: []Reply{answerReply(NumberAnswer(4))}}
		submitter := &scriptedSubmitter{verdicts: []Verdict{{Correct: true}}}

		o, _ := newTestOrchestrator(t, renderer, reasoner, submitter)
		sess, err := o.Run(context.Background(), "https://q.example/1")
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(sess.Rounds) != 1 || sess.Rounds[0].Answer == nil {
			t.Fatalf("rounds = %+v", sess.Rounds)
		}
		return *sess.Rounds[0].Answer
	}

	first := run()
	second := run()
	if first.Kind != second.Kind || !first.Equal(second) {
		t.Fatalf("repeated runs diverged: %+v vs %+v", first, second)
	}
}

type countingTool struct {
	name    string
	fail    bool
	invoked int
}

func (c *countingTool) Spec() capability.Spec {
	return capability.Spec{
		Name:        c.name,
		Description: "test tool",
		Fields: []capability.Field{
			{Name: "url", Type: capability.TypeString, Description: "target", Required: true},
		},
	}
}

func (c *countingTool) Invoke(ctx context.Context, args map[string]interface{}) capability.Result {
	c.invoked++
	if c.fail {
		return capability.Failure("boom")
	}
	return capability.OK(map[string]interface{}{"text": "scraped"})
}
