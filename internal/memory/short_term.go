// internal/memory/short_term.go
package memory

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// ShortTermMemory is the bounded recent-action window consulted for loop
// detection and prompt context. It is a FIFO ring: the oldest outcome is
// evicted when capacity is exceeded, and size never exceeds capacity.
//
// Writes come from the step executor only; concurrent batched sub-steps
// funnel through the same mutex so appends stay serialized and FIFO order
// holds.
type ShortTermMemory struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	capacity int
	entries  []schemas.ActionOutcome

	task      string
	startedAt time.Time
}

const defaultShortTermCapacity = 20

// NewShortTermMemory creates a window with the given capacity; non-positive
// values fall back to the default.
func NewShortTermMemory(capacity int, logger *zap.Logger) *ShortTermMemory {
	if capacity <= 0 {
		capacity = defaultShortTermCapacity
	}
	return &ShortTermMemory{
		logger:   logger.Named("short_term_memory"),
		capacity: capacity,
		entries:  make([]schemas.ActionOutcome, 0, capacity),
	}
}

// StartTask clears the window for a new task.
func (m *ShortTermMemory) StartTask(task string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.task = task
	m.startedAt = time.Now().UTC()
	m.entries = m.entries[:0]
	m.logger.Debug("Short-term memory reset for new task", zap.String("task", task))
}

// Record appends an outcome, evicting the oldest entry beyond capacity.
// Every attempted cycle is recorded, success or not.
func (m *ShortTermMemory) Record(outcome schemas.ActionOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.capacity {
		// Drop the oldest; shift in place to keep the backing array.
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, outcome)
}

// RecentWindow returns up to n outcomes, oldest first, newest last. n <= 0
// returns the whole buffer.
func (m *ShortTermMemory) RecentWindow(n int) []schemas.ActionOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	window := make([]schemas.ActionOutcome, n)
	copy(window, m.entries[len(m.entries)-n:])
	return window
}

// SuccessRate is the fraction of outcomes in the full buffer that both
// executed and verified. An empty buffer rates 0.
func (m *ShortTermMemory) SuccessRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return 0
	}
	var verified int
	for _, e := range m.entries {
		if e.Succeeded() {
			verified++
		}
	}
	return float64(verified) / float64(len(m.entries))
}

// Len returns the current number of buffered outcomes.
func (m *ShortTermMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Capacity returns the fixed window size.
func (m *ShortTermMemory) Capacity() int { return m.capacity }

// TaskDuration reports how long the current task has been running.
func (m *ShortTermMemory) TaskDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.startedAt.IsZero() {
		return 0
	}
	return time.Since(m.startedAt)
}
