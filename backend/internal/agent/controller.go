package agent

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/constants"
	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/progress"
	"vega-agent/backend/internal/state"
	"vega-agent/backend/internal/tools"
	apperrors "vega-agent/backend/pkg/errors"
	"vega-agent/backend/pkg/logger"
)

// Reporter receives the phase events of running turns.
// *progress.Broadcaster implements it.
type Reporter interface {
	BeginTurn()
	EndTurn()
	UpdatePhase(phase progress.Phase, label string)
}

type noopReporter struct{}

type reporterKey struct{}

// ContextWithReporter routes the phases of turns run with ctx to r instead of
// the controller's own reporter. Servers use it to give each request its own.
// When r can pause, confirmations in those turns pause r as well.
func ContextWithReporter(ctx context.Context, r Reporter) context.Context {
	if p, ok := r.(tools.Pauser); ok {
		ctx = tools.ContextWithPauser(ctx, p)
	}
	return context.WithValue(ctx, reporterKey{}, r)
}

func reporterFromContext(ctx context.Context, fallback Reporter) Reporter {
	if r, ok := ctx.Value(reporterKey{}).(Reporter); ok && r != nil {
		return r
	}
	return fallback
}

func (noopReporter) BeginTurn()                         {}
func (noopReporter) EndTurn()                           {}
func (noopReporter) UpdatePhase(progress.Phase, string) {}

// Controller drives one conversational turn from prompt to persisted response
type Controller struct {
	backend        adapter.Backend
	gateway        *tools.Gateway
	store          memory.Store
	embedder       embedding.Embedder
	reporter       Reporter
	prompts        *PromptBuilder
	retry          RetryPolicy
	maxRounds      int
	retrievalLimit int
	model          string
	logger         *zap.Logger
}

// Option configures a Controller
type Option func(*Controller)

// WithReporter sets where phase events go
func WithReporter(r Reporter) Option {
	return func(c *Controller) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithRetryPolicy sets the backend retry policy
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Controller) { c.retry = p }
}

// WithMaxToolRounds bounds the tool-call rounds of one turn
func WithMaxToolRounds(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.maxRounds = n
		}
	}
}

// WithRetrievalLimit sets how many memory entries are pulled into the prompt
func WithRetrievalLimit(k int) Option {
	return func(c *Controller) {
		if k >= 0 {
			c.retrievalLimit = k
		}
	}
}

// WithPromptBuilder replaces the default prompt builder
func WithPromptBuilder(b *PromptBuilder) Option {
	return func(c *Controller) {
		if b != nil {
			c.prompts = b
		}
	}
}

// WithModelName names the model in errors and logs
func WithModelName(model string) Option {
	return func(c *Controller) { c.model = model }
}

// WithLogger sets the controller logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a turn controller
func NewController(backend adapter.Backend, gateway *tools.Gateway, store memory.Store, embedder embedding.Embedder, opts ...Option) *Controller {
	c := &Controller{
		backend:        backend,
		gateway:        gateway,
		store:          store,
		embedder:       embedder,
		reporter:       noopReporter{},
		prompts:        NewPromptBuilder(""),
		retry:          DefaultRetryPolicy(),
		maxRounds:      constants.DefaultMaxToolRounds,
		retrievalLimit: constants.DefaultRetrievalLimit,
		logger:         logger.Get(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Gateway returns the tool gateway used for tool calls
func (c *Controller) Gateway() *tools.Gateway {
	return c.gateway
}

// Store returns the memory store turns are persisted to
func (c *Controller) Store() memory.Store {
	return c.store
}

// Run processes one turn. On success exactly one Turn is persisted and returned.
// Tool failures are fed back to the model; backend, storage and embedding
// failures abort the turn. A cancelled turn persists nothing.
func (c *Controller) Run(ctx context.Context, prompt, sessionID string) (*state.Turn, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperrors.NewInvalidInput("prompt", "cannot be empty")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.NewInvalidInput("session_id", "cannot be empty")
	}

	turn := state.NewTurn(sessionID, prompt)
	log := logger.ForSession(c.logger, sessionID).With(zap.String("turn_id", turn.ID))

	reporter := reporterFromContext(ctx, c.reporter)
	reporter.BeginTurn()
	defer reporter.EndTurn()
	phases := newPhaseEmitter(reporter, log)

	log.Info("Starting turn", zap.Int("prompt_chars", len(prompt)))

	// 1. Prepare
	phases.emit(progress.PhasePreparing, "")
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelled("preparing", err)
	}

	// 2. Embed the prompt
	phases.emit(progress.PhaseEmbedding, "")
	queryVec, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelled("embedding", ctx.Err())
		}
		log.Error("Failed to embed prompt", zap.Error(err))
		if apperrors.IsErrorType(err, apperrors.ErrorTypeEmbedding) {
			return nil, err
		}
		return nil, apperrors.NewEmbeddingFailed(c.embedder.Name(), err)
	}

	// 3. Retrieve session context
	phases.emit(progress.PhaseContextRetrieval, "")
	var related []memory.Entry
	if c.retrievalLimit > 0 {
		related, err = c.store.Retrieve(ctx, sessionID, queryVec, c.retrievalLimit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, apperrors.NewCancelled("context retrieval", ctx.Err())
			}
			log.Error("Failed to retrieve context", zap.Error(err))
			return nil, err
		}
	}
	log.Debug("Retrieved context", zap.Int("entries", len(related)))

	// 4. Think, then act on tool calls until the model answers
	phases.emit(progress.PhaseThinking, "")
	history := c.prompts.Messages(related, prompt)
	defs := c.gateway.Registry().Definitions()
	processor := newToolResultProcessor()

	var response *adapter.Response
	for round := 0; ; round++ {
		response, err = c.complete(ctx, history, defs, log)
		if err != nil {
			return nil, err
		}
		if len(response.ToolCalls) == 0 {
			break
		}
		if round == c.maxRounds {
			log.Warn("Tool-call loop exceeded", zap.Int("rounds", c.maxRounds))
			return nil, apperrors.NewToolLoopExceeded(c.maxRounds)
		}

		history = append(history, adapter.Message{
			Role:      adapter.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, call := range response.ToolCalls {
			phases.emit(progress.PhaseToolExecution, fmt.Sprintf("Using %s", call.Name))

			result := c.gateway.Invoke(ctx, c.gateway.Prepare(call))
			if ctx.Err() != nil {
				return nil, apperrors.NewCancelled("tool execution", ctx.Err())
			}
			processor.add(result)
			log.Info("Tool call finished",
				zap.String("tool", call.Name),
				zap.String("status", string(result.Status)),
				zap.Int("round", round+1),
			)

			history = append(history, adapter.Message{
				Role:       adapter.RoleTool,
				Content:    result.ForModel(),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
	}

	// 5. Finalize and persist
	phases.emit(progress.PhaseFinalizing, "")
	turn.Response = strings.TrimSpace(response.Content)
	if turn.Response == "" {
		turn.Response = processor.fallbackResponse()
	}

	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewCancelled("finalizing", err)
	}
	if err := c.store.RecordTurn(ctx, turn, queryVec); err != nil {
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelled("persisting turn", ctx.Err())
		}
		log.Error("Failed to persist turn", zap.Error(err))
		return nil, err
	}

	log.Info("Turn completed",
		zap.Int("tool_calls", processor.count()),
		zap.Int("response_chars", len(turn.Response)),
	)
	return turn, nil
}
