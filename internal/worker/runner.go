package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tveshas/quizagent/internal/queue/streams"
	"github.com/tveshas/quizagent/internal/solver"
)

const (
	defaultBlock     = 5 * time.Second
	defaultClaimIdle = 2 * time.Minute
	defaultBatchSize = 8
)

// SessionRunner runs one quiz session to a terminal outcome.
type SessionRunner interface {
	Run(ctx context.Context, startURL string) (*solver.QuizSession, error)
}

// Queue is the slice of the streams consumer the runner needs.
type Queue interface {
	Read(ctx context.Context, stream string, opts ...streams.ConsumerOption) ([]streams.Message, error)
	Ack(ctx context.Context, stream string, ids ...string) error
	AutoClaim(ctx context.Context, stream string, minIdle time.Duration, start string, count int64) ([]streams.Message, string, error)
}

// Runner drains session start requests from the queue and solves them one at
// a time. Quiz sessions are wall-clock bound, so a worker never runs more
// than one session concurrently; scale out with more worker processes.
type Runner struct {
	queue        Queue
	runner       SessionRunner
	stream       string
	block        time.Duration
	claimIdle    time.Duration
	solveTimeout time.Duration
	logger       *log.Logger
}

// Option tunes runner behaviour.
type Option func(*Runner)

// WithBlock sets how long a read blocks waiting for new messages.
func WithBlock(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.block = d
		}
	}
}

// WithClaimIdle sets the pending age after which another worker's messages
// are reclaimed.
func WithClaimIdle(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.claimIdle = d
		}
	}
}

// WithSolveTimeout caps one session run including persistence overhead.
func WithSolveTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.solveTimeout = d
		}
	}
}

// NewRunner builds a worker loop over the session stream.
func NewRunner(queue Queue, runner SessionRunner, logger *log.Logger, opts ...Option) (*Runner, error) {
	if queue == nil || runner == nil {
		return nil, fmt.Errorf("worker requires a queue and a session runner")
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	r := &Runner{
		queue:     queue,
		runner:    runner,
		stream:    streams.SessionStream,
		block:     defaultBlock,
		claimIdle: defaultClaimIdle,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run blocks consuming the stream until ctx is cancelled. Stale pending
// messages abandoned by dead workers are reclaimed before each read.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Printf("consuming %s", r.stream)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, _, err := r.queue.AutoClaim(ctx, r.stream, r.claimIdle, "0-0", defaultBatchSize)
		if err != nil {
			r.logger.Printf("autoclaim: %v", err)
		}
		for _, msg := range claimed {
			r.handle(ctx, msg)
		}

		msgs, err := r.queue.Read(ctx, r.stream, streams.WithBlock(r.block), streams.WithCount(defaultBatchSize))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Printf("read: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			r.handle(ctx, msg)
		}
	}
}

// handle solves one start request. The message is always acked: a failed or
// timed-out session is recorded by the orchestrator in the session store and
// must not be replayed against the quiz endpoint.
func (r *Runner) handle(ctx context.Context, msg streams.Message) {
	req, err := msg.Envelope.DecodeStartRequest()
	if err != nil {
		r.logger.Printf("dropping %s: %v", msg.ID, err)
		r.ack(ctx, msg.ID)
		return
	}

	runCtx := ctx
	if r.solveTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.solveTimeout)
		defer cancel()
	}

	sess, err := r.runner.Run(runCtx, req.StartURL)
	if err != nil {
		r.logger.Printf("session failed for %s: %v", req.StartURL, err)
	} else {
		r.logger.Printf("session %s finished: %s after %s", sess.ID, sess.Outcome, sess.Elapsed)
	}
	r.ack(ctx, msg.ID)
}

func (r *Runner) ack(ctx context.Context, id string) {
	if err := r.queue.Ack(ctx, r.stream, id); err != nil {
		r.logger.Printf("ack %s: %v", id, err)
	}
}
