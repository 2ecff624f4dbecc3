package agent

import (
	"go.uber.org/zap"

	"vega-agent/backend/internal/progress"
)

// phaseEmitter forwards a turn's phases and enforces their order:
// non-decreasing, with only ToolExecution allowed to repeat
type phaseEmitter struct {
	reporter Reporter
	last     progress.Phase
	logger   *zap.Logger
}

func newPhaseEmitter(r Reporter, log *zap.Logger) *phaseEmitter {
	return &phaseEmitter{reporter: r, last: progress.PhaseNone, logger: log}
}

func (e *phaseEmitter) emit(phase progress.Phase, label string) bool {
	if phase < e.last || (phase == e.last && phase != progress.PhaseToolExecution) {
		e.logger.DPanic("Out-of-order phase",
			zap.Stringer("phase", phase),
			zap.Stringer("after", e.last),
		)
		return false
	}
	e.last = phase
	e.reporter.UpdatePhase(phase, label)
	return true
}
