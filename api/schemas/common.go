// api/schemas/common.go
package schemas

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Observation is a snapshot of the display at a point in time. Image holds
// the raw encoded frame; Text is the optional structured-UI/OCR enrichment
// an analysis layer may attach before the observation reaches the planner.
type Observation struct {
	Image   []byte    `json:"-"`
	Text    string    `json:"text,omitempty"`
	Hash    string    `json:"hash"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	TakenAt time.Time `json:"taken_at"`
}

// NewObservation builds an observation from a captured frame, computing the
// content hash used for cheap state-delta comparisons.
func NewObservation(image []byte, width, height int) Observation {
	sum := sha256.Sum256(image)
	return Observation{
		Image:   image,
		Hash:    hex.EncodeToString(sum[:]),
		Width:   width,
		Height:  height,
		TakenAt: time.Now().UTC(),
	}
}

// SameAs reports whether two observations show byte-identical display
// content. Empty observations are never considered identical.
func (o Observation) SameAs(other Observation) bool {
	return o.Hash != "" && o.Hash == other.Hash
}

// IsZero reports whether the observation carries no captured frame.
func (o Observation) IsZero() bool {
	return o.Hash == "" && len(o.Image) == 0
}

// ActionOutcome records one completed OODA cycle: the action the oracle
// proposed, what the actuator reported, and the before/after observations
// the verifier judged. Outcomes are append-only; memory keeps them verbatim.
type ActionOutcome struct {
	Action     Action        `json:"action"`
	RawSuccess bool          `json:"raw_success"`
	Verified   bool          `json:"verified"`
	// Unverified is set when the settle window expired before a usable
	// after-observation arrived; the cycle proceeded optimistically.
	Unverified bool          `json:"unverified,omitempty"`
	Issue      string        `json:"issue,omitempty"`
	// Correction carries the verifier's suggested corrective action when
	// verification failed; the controller applies it on the next retry.
	Correction *Action       `json:"correction,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	Latency    time.Duration `json:"latency"`
	Before     Observation   `json:"before,omitempty"`
	After      Observation   `json:"after,omitempty"`
}

// Succeeded reports whether the cycle both executed and verified.
func (o ActionOutcome) Succeeded() bool {
	return o.RawSuccess && o.Verified
}

// VerificationResult is the verifier's judgment of a before/after pair.
// When Verified is false the verifier always proposes a concrete
// SuggestedCorrection; a bare failure flag is never returned.
type VerificationResult struct {
	Verified            bool    `json:"verified"`
	Issue               string  `json:"issue,omitempty"`
	SuggestedCorrection *Action `json:"suggested_correction,omitempty"`
}

// ReflectionResult is the periodic stagnation analysis over the recent
// outcome window.
type ReflectionResult struct {
	IsStuck           bool    `json:"is_stuck"`
	RootCause         string  `json:"root_cause,omitempty"`
	SuggestedStrategy *Action `json:"suggested_strategy,omitempty"`
	ForceReplan       bool    `json:"force_replan"`
}

// TaskResult is the structured, user-visible outcome of a task run. Budget
// exhaustion and stuck steps surface here as Success=false with a
// human-readable Error, never as a panic or raw fault.
type TaskResult struct {
	Success         bool    `json:"success"`
	Task            string  `json:"task"`
	ActionsTaken    int     `json:"actions_taken"`
	DurationSeconds float64 `json:"duration_seconds"`
	Error           string  `json:"error,omitempty"`
}

// AgentStats aggregates run-time counters exposed to callers.
type AgentStats struct {
	ShortTermSuccessRate float64 `json:"short_term_success_rate"`
	LongTermEntryCount   int     `json:"long_term_entry_count"`
	AvgOracleLatencyMs   float64 `json:"avg_oracle_latency_ms"`
	AvgActuatorLatencyMs float64 `json:"avg_actuator_latency_ms"`
	Reflections          int     `json:"reflections"`
	Replans              int     `json:"replans"`
	ParallelBatches      int     `json:"parallel_batches"`
}
