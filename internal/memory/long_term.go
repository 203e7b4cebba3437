// internal/memory/long_term.go
package memory

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

// WorkflowRecord is one remembered task: a normalized signature mapped to the
// action sequence that completed it, with usage stats for trust weighting.
type WorkflowRecord struct {
	Task               string           `json:"task"`
	Sequence           []schemas.Action `json:"sequence"`
	SuccessCount       int              `json:"success_count"`
	AvgDurationSeconds float64          `json:"avg_duration_seconds"`
	LastUsed           time.Time        `json:"last_used"`
}

// UIPattern is a remembered on-screen element location within an application.
// Confidence grows a little with every sighting; hints older than the
// freshness window are never served.
type UIPattern struct {
	X          int       `json:"x"`
	Y          int       `json:"y"`
	Confidence float64   `json:"confidence"`
	LastSeen   time.Time `json:"last_seen"`
}

// ElementHint is a UIPattern paired with the element name it belongs to,
// returned by AppHints for prompt building.
type ElementHint struct {
	Element string
	UIPattern
}

// uiPatternMaxAge is the freshness window: element layouts drift, so stale
// sightings are worse than no hint at all.
const uiPatternMaxAge = 7 * 24 * time.Hour

// Store is the persistence backend for long-term memory. The file store is
// the default; the postgres store serves multi-host deployments.
type Store interface {
	// Load returns all records keyed by task signature.
	Load(ctx context.Context) (map[string]WorkflowRecord, error)
	// Save upserts a single record under its signature.
	Save(ctx context.Context, signature string, rec WorkflowRecord) error
	// LoadUIPatterns returns all remembered element locations, app -> element.
	LoadUIPatterns(ctx context.Context) (map[string]map[string]UIPattern, error)
	// SaveUIPattern upserts one element location.
	SaveUIPattern(ctx context.Context, app, element string, pat UIPattern) error
	// Close releases backend resources.
	Close(ctx context.Context) error
}

// LongTermMemory remembers successful task -> action-sequence mappings across
// runs and serves them back as fast-path candidates for familiar tasks.
//
// All records are held in memory; the store is written through on Promote and
// read once at construction. Failed runs are never promoted.
type LongTermMemory struct {
	logger  *zap.Logger
	store   Store
	mu      sync.RWMutex
	records map[string]WorkflowRecord
	// patterns maps app -> element signature -> remembered location.
	patterns map[string]map[string]UIPattern
}

// NewLongTermMemory loads all records from the store. A load failure is not
// fatal: the agent starts with an empty memory and logs the cause.
func NewLongTermMemory(ctx context.Context, store Store, logger *zap.Logger) *LongTermMemory {
	ltm := &LongTermMemory{
		logger:   logger.Named("long_term_memory"),
		store:    store,
		records:  make(map[string]WorkflowRecord),
		patterns: make(map[string]map[string]UIPattern),
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		ltm.logger.Warn("Failed to load long-term memory, starting empty", zap.Error(err))
		return ltm
	}
	ltm.records = loaded

	patterns, err := store.LoadUIPatterns(ctx)
	if err != nil || patterns == nil {
		if err != nil {
			ltm.logger.Warn("Failed to load UI patterns, starting empty", zap.Error(err))
		}
		patterns = make(map[string]map[string]UIPattern)
	}
	ltm.patterns = patterns
	ltm.logger.Info("Long-term memory loaded",
		zap.Int("entries", len(loaded)),
		zap.Int("apps_with_patterns", len(patterns)))
	return ltm
}

var signatureStripRe = regexp.MustCompile(`[^a-z0-9\s]+`)

// Signature normalizes a task description into a lookup key: lowercase,
// punctuation stripped, whitespace collapsed.
func Signature(task string) string {
	s := strings.ToLower(strings.TrimSpace(task))
	s = signatureStripRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

// Lookup finds a remembered sequence for the task. Exact signature match wins;
// otherwise the best fuzzy candidate sharing at least two words with the query
// is returned, ties broken by success count then by most recent use. Returns
// false when nothing qualifies.
func (l *LongTermMemory) Lookup(task string) (WorkflowRecord, bool) {
	sig := Signature(task)
	if sig == "" {
		return WorkflowRecord{}, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if rec, ok := l.records[sig]; ok {
		return rec, true
	}

	queryWords := wordSet(sig)
	var (
		best      WorkflowRecord
		bestScore int
		found     bool
	)
	for candSig, rec := range l.records {
		overlap := overlapCount(queryWords, wordSet(candSig))
		if overlap < 2 {
			continue
		}
		if !found || overlap > bestScore || (overlap == bestScore && betterRecord(rec, best)) {
			best, bestScore, found = rec, overlap, true
		}
	}
	if found {
		l.logger.Debug("Fuzzy long-term match",
			zap.String("query", sig),
			zap.String("matched", Signature(best.Task)),
			zap.Int("overlap", bestScore))
	}
	return best, found
}

// Promote records a successful task run, write-through to the store. Repeat
// promotions replace the sequence with the latest one and fold the duration
// into a running average.
func (l *LongTermMemory) Promote(ctx context.Context, task string, sequence []schemas.Action, duration time.Duration) error {
	sig := Signature(task)
	if sig == "" || len(sequence) == 0 {
		return nil
	}

	l.mu.Lock()
	rec, exists := l.records[sig]
	if exists {
		n := float64(rec.SuccessCount)
		rec.AvgDurationSeconds = (rec.AvgDurationSeconds*n + duration.Seconds()) / (n + 1)
		rec.SuccessCount++
	} else {
		rec = WorkflowRecord{
			Task:               task,
			SuccessCount:       1,
			AvgDurationSeconds: duration.Seconds(),
		}
	}
	rec.Sequence = append([]schemas.Action(nil), sequence...)
	rec.LastUsed = time.Now().UTC()
	l.records[sig] = rec
	l.mu.Unlock()

	if err := l.store.Save(ctx, sig, rec); err != nil {
		l.logger.Error("Failed to persist long-term record", zap.String("signature", sig), zap.Error(err))
		return err
	}
	l.logger.Info("Task promoted to long-term memory",
		zap.String("signature", sig),
		zap.Int("actions", len(sequence)),
		zap.Int("success_count", rec.SuccessCount))
	return nil
}

// Touch updates LastUsed for a signature after a successful replay.
func (l *LongTermMemory) Touch(ctx context.Context, task string) {
	sig := Signature(task)
	l.mu.Lock()
	rec, ok := l.records[sig]
	if ok {
		rec.LastUsed = time.Now().UTC()
		l.records[sig] = rec
	}
	l.mu.Unlock()
	if ok {
		if err := l.store.Save(ctx, sig, rec); err != nil {
			l.logger.Warn("Failed to persist last-used update", zap.Error(err))
		}
	}
}

// RecordUIPattern remembers where an on-screen element was successfully hit,
// write-through to the store. Repeat sightings bump confidence by 0.1.
func (l *LongTermMemory) RecordUIPattern(ctx context.Context, app, element string, x, y int) error {
	app = Signature(app)
	element = Signature(element)
	if app == "" || element == "" {
		return nil
	}

	l.mu.Lock()
	byElement, ok := l.patterns[app]
	if !ok {
		byElement = make(map[string]UIPattern)
		l.patterns[app] = byElement
	}
	pat := UIPattern{
		X:          x,
		Y:          y,
		Confidence: byElement[element].Confidence + 0.1,
		LastSeen:   time.Now().UTC(),
	}
	byElement[element] = pat
	l.mu.Unlock()

	if err := l.store.SaveUIPattern(ctx, app, element, pat); err != nil {
		l.logger.Warn("Failed to persist UI pattern",
			zap.String("app", app), zap.String("element", element), zap.Error(err))
		return err
	}
	l.logger.Debug("UI pattern recorded",
		zap.String("app", app),
		zap.String("element", element),
		zap.Int("x", x), zap.Int("y", y),
		zap.Float64("confidence", pat.Confidence))
	return nil
}

// UIHint returns the remembered location of an element within an app, if one
// was seen recently enough to still trust.
func (l *LongTermMemory) UIHint(app, element string) (UIPattern, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pat, ok := l.patterns[Signature(app)][Signature(element)]
	if !ok || time.Since(pat.LastSeen) > uiPatternMaxAge {
		return UIPattern{}, false
	}
	return pat, true
}

// AppHints returns up to max fresh element hints for an app, highest
// confidence first.
func (l *LongTermMemory) AppHints(app string, max int) []ElementHint {
	l.mu.RLock()
	var hints []ElementHint
	for element, pat := range l.patterns[Signature(app)] {
		if time.Since(pat.LastSeen) > uiPatternMaxAge {
			continue
		}
		hints = append(hints, ElementHint{Element: element, UIPattern: pat})
	}
	l.mu.RUnlock()

	sort.Slice(hints, func(i, j int) bool {
		if hints[i].Confidence != hints[j].Confidence {
			return hints[i].Confidence > hints[j].Confidence
		}
		return hints[i].Element < hints[j].Element
	})
	if max > 0 && len(hints) > max {
		hints = hints[:max]
	}
	return hints
}

// Len returns the number of remembered tasks.
func (l *LongTermMemory) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Close flushes nothing (writes are through) and closes the backing store.
func (l *LongTermMemory) Close(ctx context.Context) error {
	return l.store.Close(ctx)
}

// betterRecord orders equal-overlap candidates: more proven sequences first,
// recency as the final tie-break.
func betterRecord(a, b WorkflowRecord) bool {
	if a.SuccessCount != b.SuccessCount {
		return a.SuccessCount > b.SuccessCount
	}
	return a.LastUsed.After(b.LastUsed)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

func overlapCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	var n int
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
