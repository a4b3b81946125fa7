package solver

import (
	"context"
	"time"

	"github.com/tveshas/quizagent/internal/capability"
)

// Outcome tags the terminal state of a quiz session.
type Outcome string

const (
	OutcomeRunning  Outcome = "running"
	OutcomeSolved   Outcome = "solved"
	OutcomeTimedOut Outcome = "timed_out"
	OutcomeFailed   Outcome = "failed"
)

// RenderedPage is an immutable content snapshot of a quiz URL.
type RenderedPage struct {
	URL        string    `json:"url"`
	HTML       string    `json:"-"`
	Text       string    `json:"text"`
	Links      []string  `json:"links,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	RenderMS   int       `json:"render_ms"`
}

// Verdict is the grading endpoint's response to a submitted answer.
type Verdict struct {
	Correct bool   `json:"correct"`
	NextURL string `json:"url,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Accepted reports whether the answer was graded correct.
func (v Verdict) Accepted() bool { return v.Correct }

// HasNext reports whether the verdict chains to a follow-up quiz.
func (v Verdict) HasNext() bool { return v.NextURL != "" }

// Round records one submission attempt within a session.
type Round struct {
	URL         string    `json:"url"`
	ContentHint string    `json:"content_hint,omitempty"`
	Answer      *Answer   `json:"answer,omitempty"`
	Verdict     *Verdict  `json:"verdict,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// QuizSession identifies one chain-run: a single end-to-end attempt starting
// at StartURL, following accepted-with-next hops until a terminal outcome.
// Owned exclusively by the orchestrator; stores only see snapshots.
type QuizSession struct {
	ID         string        `json:"id"`
	Email      string        `json:"email"`
	StartURL   string        `json:"start_url"`
	CurrentURL string        `json:"current_url"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Rounds     []Round       `json:"rounds"`
	Outcome    Outcome       `json:"outcome"`
	Error      string        `json:"error,omitempty"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Terminal reports whether the session reached a terminal outcome.
func (s *QuizSession) Terminal() bool {
	return s.Outcome == OutcomeSolved || s.Outcome == OutcomeTimedOut || s.Outcome == OutcomeFailed
}

// Turn is one entry of the reasoning conversation history.
type Turn struct {
	Role       string           `json:"role"` // user, assistant, tool
	Content    string           `json:"content,omitempty"`
	ToolCall   *capability.Call `json:"tool_call,omitempty"`    // assistant turns requesting a tool
	ToolCallID string           `json:"tool_call_id,omitempty"` // tool turns answering a request
	ToolName   string           `json:"tool_name,omitempty"`
}

// ReasoningRequest carries everything one reasoning turn needs: the rendered
// quiz content, the tool catalog, and the conversation so far.
type ReasoningRequest struct {
	QuizURL      string
	Instructions string
	CatalogDoc   string
	Tools        []capability.Spec
	History      []Turn
}

// Reply is the reasoning client's polymorphic response: either one or more
// tool-call requests, or a final answer. Exactly one of the two is set.
type Reply struct {
	ToolCalls []capability.Call
	Answer    *Answer
	Raw       string
	Model     string
	Tokens    int64
	Cost      float64
}

// IsToolCall reports whether the reply requests tool execution.
func (r Reply) IsToolCall() bool { return len(r.ToolCalls) > 0 }

// Renderer renders a URL into page content, tolerating JavaScript-heavy
// pages. Implementations own their browser-context pooling.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
}

// ReasoningClient wraps one call to the language model. The same request is
// not guaranteed to yield the same reply, so callers must not assume
// idempotence across retries.
type ReasoningClient interface {
	Reason(ctx context.Context, req ReasoningRequest) (Reply, error)
}

// Submission is the payload posted to a quiz's grading endpoint.
type Submission struct {
	Email   string `json:"email"`
	Secret  string `json:"secret"`
	QuizURL string `json:"url"`
	Answer  Answer `json:"answer"`
}

// SubmissionClient posts a candidate answer and reports the verdict.
type SubmissionClient interface {
	Submit(ctx context.Context, submitURL string, sub Submission) (Verdict, error)
}

// SessionStore is the side channel through which session progress and
// terminal outcomes are observable. Implementations must be safe for
// concurrent sessions.
type SessionStore interface {
	Save(ctx context.Context, sess *QuizSession) error
	Get(ctx context.Context, id string) (*QuizSession, error)
	List(ctx context.Context, limit int) ([]*QuizSession, error)
}
