package tools

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/constants"
	"vega-agent/backend/pkg/logger"
)

// DefaultTimeout bounds a single tool execution
const DefaultTimeout = 30 * time.Second

// Pauser suspends progress rendering while a confirmation prompt owns the terminal
type Pauser interface {
	Pause()
	Resume()
}

type noopPauser struct{}

func (noopPauser) Pause()  {}
func (noopPauser) Resume() {}

type pauserKey struct{}

// ContextWithPauser makes confirmations for calls made with ctx pause p
// instead of the gateway's own pauser
func ContextWithPauser(ctx context.Context, p Pauser) context.Context {
	return context.WithValue(ctx, pauserKey{}, p)
}

func (g *Gateway) pauserFor(ctx context.Context) Pauser {
	if p, ok := ctx.Value(pauserKey{}).(Pauser); ok && p != nil {
		return p
	}
	return g.pauser
}

// Gateway validates, confirms and executes tool invocations
type Gateway struct {
	registry    *Registry
	confirmer   Confirmer
	pauser      Pauser
	autoApprove bool
	timeout     time.Duration
	maxOutput   int
	logger      *zap.Logger
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithPauser sets the progress surface paused around confirmation prompts
func WithPauser(p Pauser) GatewayOption {
	return func(g *Gateway) {
		if p != nil {
			g.pauser = p
		}
	}
}

// WithAutoApprove skips confirmation for every tool
func WithAutoApprove(on bool) GatewayOption {
	return func(g *Gateway) { g.autoApprove = on }
}

// WithTimeout sets the per-invocation execution bound
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithMaxOutput caps the characters of output returned to the model
func WithMaxOutput(n int) GatewayOption {
	return func(g *Gateway) { g.maxOutput = n }
}

// WithLogger sets the gateway logger
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway creates a gateway over registry. A nil confirmer denies every confirmable call.
func NewGateway(registry *Registry, confirmer Confirmer, opts ...GatewayOption) *Gateway {
	if confirmer == nil {
		confirmer = DenyConfirmer{}
	}
	g := &Gateway{
		registry:  registry,
		confirmer: confirmer,
		pauser:    noopPauser{},
		timeout:   DefaultTimeout,
		maxOutput: constants.MaxToolOutputChars,
		logger:    logger.Get(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Registry returns the gateway's tool registry
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// AutoApprove reports whether confirmation is skipped
func (g *Gateway) AutoApprove() bool {
	return g.autoApprove
}

// Prepare turns a model tool call into an invocation.
// The confirmation requirement comes from the tool declaration, never from the model.
func (g *Gateway) Prepare(call adapter.ToolCall) ToolInvocation {
	inv := ToolInvocation{
		CallID:     call.ID,
		ToolName:   call.Name,
		Parameters: call.Arguments,
	}
	if inv.Parameters == nil {
		inv.Parameters = map[string]interface{}{}
	}
	if t, ok := g.registry.Get(call.Name); ok {
		inv.RequiresConfirmation = t.RequiresConfirmation()
	}
	return inv
}

// Invoke runs one invocation to completion. It never returns an error:
// every failure is folded into the result so the model can react to it.
func (g *Gateway) Invoke(ctx context.Context, inv ToolInvocation) ToolResult {
	result := ToolResult{CallID: inv.CallID, ToolName: inv.ToolName}
	log := g.logger.With(zap.String("tool", inv.ToolName), zap.String("call_id", inv.CallID))

	// 1. Look up the tool
	tool, ok := g.registry.Get(inv.ToolName)
	if !ok {
		log.Warn("Unknown tool requested")
		result.Status = StatusError
		result.ErrorDetail = DetailUnknownTool
		result.Output = "unknown tool: " + inv.ToolName
		return result
	}

	// 2. Validate parameters
	if err := g.registry.Validate(inv.ToolName, inv.Parameters); err != nil {
		log.Debug("Invalid tool parameters", zap.Error(err))
		result.Status = StatusError
		result.ErrorDetail = DetailInvalidParameters
		result.Kind = KindInvalidInput
		result.Output = err.Error()
		return result
	}

	// 3. Confirm
	if inv.RequiresConfirmation && !g.autoApprove {
		approved, err := g.confirm(ctx, tool, inv)
		if err != nil && ctx.Err() != nil {
			result.Status = StatusError
			result.ErrorDetail = DetailCancelled
			return result
		}
		if err != nil {
			log.Warn("Confirmation failed, treating as denial", zap.Error(err))
		}
		if !approved {
			log.Info("Tool call denied by user")
			result.Status = StatusDenied
			result.Kind = KindDenied
			return result
		}
	}

	// 4. Execute under a timeout
	output, err := g.execute(ctx, tool, inv.Parameters)
	if err != nil {
		result.Status = StatusError
		switch {
		case errors.Is(err, errTimeout):
			log.Warn("Tool execution timed out")
			result.ErrorDetail = DetailTimeout
			result.Kind = KindTimeout
		case errors.Is(err, errCancelled):
			result.ErrorDetail = DetailCancelled
		default:
			var toolErr *ToolError
			if errors.As(err, &toolErr) {
				result.Kind = toolErr.Kind
			} else {
				result.Kind = KindIO
			}
			result.ErrorDetail = err.Error()
			if result.Kind == KindTimeout {
				result.ErrorDetail = DetailTimeout
			}
			log.Info("Tool execution failed", zap.String("kind", string(result.Kind)), zap.Error(err))
		}
		// tools may return partial output alongside an error
		result.Output = truncateOutput(output, g.maxOutput)
		return result
	}

	// 5. Success
	result.Status = StatusSuccess
	result.Output = truncateOutput(output, g.maxOutput)
	log.Debug("Tool executed", zap.Int("output_chars", len(output)))
	return result
}

// confirm pauses rendering for exactly the duration of the prompt
func (g *Gateway) confirm(ctx context.Context, tool Tool, inv ToolInvocation) (bool, error) {
	pauser := g.pauserFor(ctx)
	pauser.Pause()
	defer pauser.Resume()

	return g.confirmer.Confirm(ctx, ConfirmationRequest{
		ToolName:    inv.ToolName,
		Description: tool.Describe(inv.Parameters),
	})
}

var (
	errTimeout   = errors.New("tool execution timed out")
	errCancelled = errors.New("tool execution cancelled")
)

type execOutcome struct {
	output string
	err    error
}

// execute runs the tool on its own goroutine so a tool that ignores
// cancellation cannot hold the turn past the deadline
func (g *Gateway) execute(ctx context.Context, tool Tool, params map[string]interface{}) (string, error) {
	timeout := g.timeout
	if h, ok := tool.(timeoutHinter); ok {
		if secs, ok := h.Timeout(params); ok && time.Duration(secs)*time.Second > timeout {
			timeout = time.Duration(secs) * time.Second
		}
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan execOutcome, 1)
	go func() {
		out, err := tool.Execute(execCtx, params)
		done <- execOutcome{output: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && execCtx.Err() != nil {
			return o.output, g.deadlineError(ctx)
		}
		return o.output, o.err
	case <-execCtx.Done():
		return "", g.deadlineError(ctx)
	}
}

func (g *Gateway) deadlineError(parent context.Context) error {
	if parent.Err() != nil {
		return errCancelled
	}
	return errTimeout
}
