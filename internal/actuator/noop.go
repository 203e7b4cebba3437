// internal/actuator/noop.go
package actuator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// NoopActuator logs every action instead of executing it, for dry runs and
// plan inspection. Waits still elapse so cycle timing stays realistic.
type NoopActuator struct {
	logger *zap.Logger
	width  int
	height int
}

var _ schemas.Actuator = (*NoopActuator)(nil)

// NewNoopActuator builds a dry-run actuator reporting the given bounds.
func NewNoopActuator(width, height int, logger *zap.Logger) *NoopActuator {
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	return &NoopActuator{
		logger: logger.Named("actuator.noop"),
		width:  width,
		height: height,
	}
}

// Execute logs the action and reports success.
func (n *NoopActuator) Execute(ctx context.Context, action schemas.Action) (schemas.ExecResult, error) {
	start := time.Now()
	n.logger.Info("DRY RUN", zap.String("action", action.String()))
	if action.Kind == schemas.ActionWait && action.DurationMs > 0 {
		timer := time.NewTimer(time.Duration(action.DurationMs) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	return schemas.ExecResult{RawSuccess: true, Latency: time.Since(start)}, nil
}

// Bounds reports the configured synthetic display size.
func (n *NoopActuator) Bounds() (int, int) { return n.width, n.height }

// SyntheticCapturer fabricates a distinct observation per call so dry runs do
// not trip the no-change verification rule.
type SyntheticCapturer struct {
	counter atomic.Int64
	width   int
	height  int
}

var _ schemas.Capturer = (*SyntheticCapturer)(nil)

// NewSyntheticCapturer builds a capturer reporting the given bounds.
func NewSyntheticCapturer(width, height int) *SyntheticCapturer {
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	return &SyntheticCapturer{width: width, height: height}
}

// Capture returns a fresh synthetic frame.
func (s *SyntheticCapturer) Capture(_ context.Context) (schemas.Observation, error) {
	frame := fmt.Sprintf("synthetic frame %d", s.counter.Add(1))
	return schemas.NewObservation([]byte(frame), s.width, s.height), nil
}
