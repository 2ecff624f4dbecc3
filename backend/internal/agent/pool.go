package agent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"vega-agent/backend/internal/state"
	apperrors "vega-agent/backend/pkg/errors"
)

// Runner runs a single turn. *Controller implements it.
type Runner interface {
	Run(ctx context.Context, prompt, sessionID string) (*state.Turn, error)
}

// Pool runs turns concurrently across sessions while keeping each session sequential
type Pool struct {
	runner Runner
	sem    chan struct{}

	mu       sync.Mutex
	sessions map[string]*sessionLock
}

type sessionLock struct {
	ch   chan struct{}
	refs int
}

// NewPool bounds concurrent turns to workers
func NewPool(runner Runner, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		runner:   runner,
		sem:      make(chan struct{}, workers),
		sessions: make(map[string]*sessionLock),
	}
}

// Run waits for the session to be free and for a worker slot, then runs the turn
func (p *Pool) Run(ctx context.Context, sessionID, prompt string) (*state.Turn, error) {
	lock := p.acquireSession(sessionID)
	defer p.releaseSession(sessionID, lock)

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.NewCancelled("waiting for session", ctx.Err())
	}
	defer func() { <-lock.ch }()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, apperrors.NewCancelled("waiting for worker", ctx.Err())
	}
	defer func() { <-p.sem }()

	return p.runner.Run(ctx, prompt, sessionID)
}

func (p *Pool) acquireSession(sessionID string) *sessionLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.sessions[sessionID]
	if !ok {
		lock = &sessionLock{ch: make(chan struct{}, 1)}
		p.sessions[sessionID] = lock
	}
	lock.refs++
	return lock
}

func (p *Pool) releaseSession(sessionID string, lock *sessionLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(p.sessions, sessionID)
	}
}

// Request is one turn of a batch
type Request struct {
	SessionID string
	Prompt    string
}

// Result pairs a batch request with its outcome
type Result struct {
	Request Request
	Turn    *state.Turn
	Err     error
}

// RunBatch runs every request through the pool. Per-turn failures are
// reported in the results; only ctx cancellation stops the batch early.
func (p *Pool) RunBatch(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cap(p.sem))

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			turn, err := p.Run(gctx, req.SessionID, req.Prompt)
			results[i] = Result{Request: req, Turn: turn, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}
