package solver

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tveshas/quizagent/internal/capability"
	"github.com/tveshas/quizagent/internal/deadline"
	"github.com/tveshas/quizagent/internal/telemetry"
)

// Params bound a session's effort. Zero values fall back to defaults.
type Params struct {
	Email             string
	Secret            string
	MaxReasoningTurns int // tool-call round trips per attempt
	MaxAttempts       int // submissions per quiz page
	MaxChainLength    int // accepted-with-next hops per session
}

const (
	defaultMaxReasoningTurns = 10
	defaultMaxAttempts       = 3
	defaultMaxChainLength    = 50
)

func (p Params) withDefaults() Params {
	if p.MaxReasoningTurns <= 0 {
		p.MaxReasoningTurns = defaultMaxReasoningTurns
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.MaxChainLength <= 0 {
		p.MaxChainLength = defaultMaxChainLength
	}
	return p
}

// Orchestrator drives quiz sessions end to end: render, reason with tools,
// submit, then chain or retry, all under one wall-clock budget. It owns no
// I/O itself; every external effect goes through an injected collaborator.
type Orchestrator struct {
	params      Params
	deadlineCfg deadline.Config
	renderer    Renderer
	reasoner    ReasoningClient
	submitter   SubmissionClient
	registry    *capability.Registry
	store       SessionStore
	telemetry   *telemetry.Telemetry
	logger      *log.Logger
}

// NewOrchestrator wires the session state machine.
func NewOrchestrator(
	params Params,
	dcfg deadline.Config,
	renderer Renderer,
	reasoner ReasoningClient,
	submitter SubmissionClient,
	registry *capability.Registry,
	store SessionStore,
	tel *telemetry.Telemetry,
	logger *log.Logger,
) (*Orchestrator, error) {
	if err := dcfg.Validate(); err != nil {
		return nil, fmt.Errorf("deadline config: %w", err)
	}
	if renderer == nil || reasoner == nil || submitter == nil || registry == nil || store == nil {
		return nil, fmt.Errorf("orchestrator requires renderer, reasoner, submitter, registry and store")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		params:      params.withDefaults(),
		deadlineCfg: dcfg,
		renderer:    renderer,
		reasoner:    reasoner,
		submitter:   submitter,
		registry:    registry,
		store:       store,
		telemetry:   tel,
		logger:      logger,
	}, nil
}

// Run executes one quiz session from startURL to a terminal outcome. The
// returned session always carries a terminal Outcome; the error mirrors
// OutcomeFailed causes for callers that want to propagate.
func (o *Orchestrator) Run(ctx context.Context, startURL string) (*QuizSession, error) {
	monitor := deadline.NewMonitor(o.deadlineCfg)
	sess := &QuizSession{
		ID:         uuid.New().String(),
		Email:      o.params.Email,
		StartURL:   startURL,
		CurrentURL: startURL,
		StartedAt:  time.Now(),
		Outcome:    OutcomeRunning,
	}
	if o.telemetry != nil {
		o.telemetry.RecordSessionStart(sess.ID, startURL)
	}
	o.persist(ctx, sess, monitor)

	var runErr error
	hops := 0
	for sess.CurrentURL != "" {
		if hops >= o.params.MaxChainLength {
			runErr = fmt.Errorf("chain exceeded %d hops", o.params.MaxChainLength)
			o.terminate(ctx, sess, monitor, OutcomeFailed, runErr)
			return sess, runErr
		}
		hops++

		next, err := o.solveQuiz(ctx, sess, monitor)
		if err != nil {
			var exceeded deadline.ErrExceeded
			if errors.As(err, &exceeded) || ctx.Err() != nil {
				o.terminate(ctx, sess, monitor, OutcomeTimedOut, err)
				return sess, nil
			}
			runErr = err
			o.terminate(ctx, sess, monitor, OutcomeFailed, err)
			return sess, runErr
		}
		if next == "" {
			o.terminate(ctx, sess, monitor, OutcomeSolved, nil)
			return sess, nil
		}
		o.logger.Printf("session %s chaining to %s", sess.ID, next)
		sess.CurrentURL = next
		o.persist(ctx, sess, monitor)
	}

	o.terminate(ctx, sess, monitor, OutcomeSolved, nil)
	return sess, nil
}

// solveQuiz handles one quiz page: render it, reason to an answer, submit,
// and retry on rejection. It returns the next URL to chain to, or "" when
// the chain ends with an accepted answer.
func (o *Orchestrator) solveQuiz(ctx context.Context, sess *QuizSession, monitor *deadline.Monitor) (string, error) {
	if err := monitor.Check(); err != nil {
		return "", err
	}
	quizURL := sess.CurrentURL
	o.logger.Printf("session %s solving %s (elapsed %s)", sess.ID, quizURL, monitor.Elapsed().Round(time.Millisecond))

	page, err := o.renderWithRetry(ctx, sess, monitor, quizURL)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", quizURL, err)
	}

	instructions, err := ExtractInstructions(page)
	if err != nil {
		return "", fmt.Errorf("extract instructions: %w", err)
	}
	submitURL, err := ExtractSubmitURL(instructions)
	if err != nil {
		return "", fmt.Errorf("locate grading endpoint for %s: %w", quizURL, err)
	}

	history := []Turn{{Role: "user", Content: instructions}}
	var rejected []Answer

	for attempt := 0; attempt < o.params.MaxAttempts; attempt++ {
		if err := monitor.Check(); err != nil {
			return "", err
		}

		answer, newHistory, err := o.reason(ctx, monitor, quizURL, instructions, history)
		history = newHistory
		if err != nil {
			var exceeded deadline.ErrExceeded
			if errors.As(err, &exceeded) || ctx.Err() != nil {
				return "", err
			}
			o.logger.Printf("session %s reasoning attempt %d failed: %v", sess.ID, attempt+1, err)
			// The next turn needs to know the previous one went nowhere.
			history = append(history, Turn{
				Role:    "user",
				Content: fmt.Sprintf("The previous reasoning attempt failed (%v). Work out the answer again.", err),
			})
			continue
		}

		if prior := matchRejected(rejected, answer); prior {
			// A rejected answer is never posted twice; steer the model away.
			o.logger.Printf("session %s model repeated a rejected answer, steering", sess.ID)
			history = append(history, Turn{
				Role:    "user",
				Content: fmt.Sprintf("The answer %s was already rejected. Produce a different answer.", answer.String()),
			})
			continue
		}

		verdict, err := o.submit(ctx, monitor, submitURL, quizURL, answer)
		if err != nil {
			var exceeded deadline.ErrExceeded
			if errors.As(err, &exceeded) || ctx.Err() != nil {
				return "", err
			}
			o.logger.Printf("session %s submission failed: %v", sess.ID, err)
			continue
		}

		sess.Rounds = append(sess.Rounds, Round{
			URL:         quizURL,
			ContentHint: truncate(instructions, 200),
			Answer:      &answer,
			Verdict:     &verdict,
			SubmittedAt: time.Now(),
		})
		o.persist(ctx, sess, monitor)
		if o.telemetry != nil {
			o.telemetry.RecordSubmission(verdict.Correct)
		}

		if verdict.Accepted() {
			return verdict.NextURL, nil
		}
		if verdict.HasNext() {
			// Rejected but the grader offered the next quiz: take it.
			o.logger.Printf("session %s answer rejected, skipping ahead to %s", sess.ID, verdict.NextURL)
			return verdict.NextURL, nil
		}

		rejected = append(rejected, answer)
		feedback := verdict.Reason
		if feedback == "" {
			feedback = "no reason given"
		}
		// Feedback is opaque free text; it only ever feeds back into the
		// conversation, never into control flow.
		history = append(history, Turn{
			Role:    "user",
			Content: fmt.Sprintf("Your answer was rejected: %s. Try again with a different answer.", feedback),
		})
		o.logger.Printf("session %s answer rejected (%s), attempt %d/%d", sess.ID, feedback, attempt+1, o.params.MaxAttempts)
	}

	return "", fmt.Errorf("quiz %s unsolved after %d attempts", quizURL, o.params.MaxAttempts)
}

// reason runs the tool-calling loop until the model commits to a final
// answer. Tool failures are folded into the history as data; only transport
// or budget problems surface as errors.
func (o *Orchestrator) reason(ctx context.Context, monitor *deadline.Monitor, quizURL, instructions string, history []Turn) (Answer, []Turn, error) {
	for turn := 0; turn < o.params.MaxReasoningTurns; turn++ {
		stepCtx, cancel, err := monitor.StepContext(ctx)
		if err != nil {
			return Answer{}, history, err
		}
		reply, err := o.reasoner.Reason(stepCtx, ReasoningRequest{
			QuizURL:      quizURL,
			Instructions: instructions,
			CatalogDoc:   o.registry.CatalogDoc(),
			Tools:        o.registry.Specs(),
			History:      history,
		})
		cancel()
		if err != nil {
			return Answer{}, history, fmt.Errorf("reasoning call: %w", err)
		}
		if o.telemetry != nil {
			o.telemetry.RecordReasoning(reply.Model, reply.Tokens, reply.Cost)
		}

		if !reply.IsToolCall() {
			if reply.Answer != nil {
				return *reply.Answer, history, nil
			}
			return ParseAnswer(reply.Raw), history, nil
		}

		for i := range reply.ToolCalls {
			call := reply.ToolCalls[i]
			history = append(history, Turn{Role: "assistant", ToolCall: &call})

			stepCtx, cancel, err := monitor.StepContext(ctx)
			if err != nil {
				return Answer{}, history, err
			}
			result := o.registry.Dispatch(stepCtx, call)
			cancel()

			if o.telemetry != nil {
				o.telemetry.RecordToolCall(call.Name, result.Failed())
			}
			if result.Failed() {
				o.logger.Printf("tool %s failed: %s", call.Name, result.Error)
			}
			history = append(history, Turn{
				Role:       "tool",
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Content:    result.Payload(),
			})
		}
	}
	return Answer{}, history, fmt.Errorf("no final answer after %d reasoning turns", o.params.MaxReasoningTurns)
}

// renderRetryDelay spaces out render attempts so a flapping page does not
// burn the budget in a hot loop.
const renderRetryDelay = 250 * time.Millisecond

// renderWithRetry re-attempts a failed render for as long as budget remains.
// Only deadline exhaustion or context cancellation surfaces as an error.
func (o *Orchestrator) renderWithRetry(ctx context.Context, sess *QuizSession, monitor *deadline.Monitor, url string) (RenderedPage, error) {
	for {
		page, err := o.render(ctx, monitor, url)
		if err == nil {
			return page, nil
		}
		var exceeded deadline.ErrExceeded
		if errors.As(err, &exceeded) || ctx.Err() != nil {
			return RenderedPage{}, err
		}
		o.logger.Printf("session %s render of %s failed, retrying: %v", sess.ID, url, err)
		select {
		case <-ctx.Done():
			return RenderedPage{}, ctx.Err()
		case <-time.After(renderRetryDelay):
		}
		if err := monitor.Check(); err != nil {
			return RenderedPage{}, err
		}
	}
}

func (o *Orchestrator) render(ctx context.Context, monitor *deadline.Monitor, url string) (RenderedPage, error) {
	stepCtx, cancel, err := monitor.StepContext(ctx)
	if err != nil {
		return RenderedPage{}, err
	}
	defer cancel()

	started := time.Now()
	page, err := o.renderer.Render(stepCtx, url)
	if err != nil {
		return RenderedPage{}, err
	}
	if o.telemetry != nil {
		o.telemetry.RecordRender(url, time.Since(started))
	}
	return page, nil
}

func (o *Orchestrator) submit(ctx context.Context, monitor *deadline.Monitor, submitURL, quizURL string, answer Answer) (Verdict, error) {
	stepCtx, cancel, err := monitor.StepContext(ctx)
	if err != nil {
		return Verdict{}, err
	}
	defer cancel()

	return o.submitter.Submit(stepCtx, submitURL, Submission{
		Email:   o.params.Email,
		Secret:  o.params.Secret,
		QuizURL: quizURL,
		Answer:  answer,
	})
}

func (o *Orchestrator) terminate(ctx context.Context, sess *QuizSession, monitor *deadline.Monitor, outcome Outcome, cause error) {
	sess.Outcome = outcome
	if cause != nil {
		sess.Error = cause.Error()
	}
	o.persist(ctx, sess, monitor)
	if o.telemetry != nil {
		o.telemetry.RecordSessionEnd(sess.ID, string(outcome), monitor.Elapsed())
	}
	o.logger.Printf("session %s terminated outcome=%s rounds=%d elapsed=%s",
		sess.ID, outcome, len(sess.Rounds), monitor.Elapsed().Round(time.Millisecond))
}

// persist snapshots session progress. Store failures are logged, never
// fatal: observability must not kill a running session.
func (o *Orchestrator) persist(ctx context.Context, sess *QuizSession, monitor *deadline.Monitor) {
	sess.Elapsed = monitor.Elapsed()
	sess.UpdatedAt = time.Now()
	if err := o.store.Save(ctx, sess); err != nil {
		o.logger.Printf("warn: saving session %s failed: %v", sess.ID, err)
	}
}

func matchRejected(rejected []Answer, candidate Answer) bool {
	for _, r := range rejected {
		if r.Equal(candidate) {
			return true
		}
	}
	return false
}
