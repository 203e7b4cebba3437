// internal/memory/memory_test.go
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tarvos-labs/deskpilot/api/schemas"
)

func outcome(kind schemas.ActionKind, ok bool) schemas.ActionOutcome {
	return schemas.ActionOutcome{
		Action:     schemas.Action{Kind: kind, Timestamp: time.Now().UTC()},
		RawSuccess: ok,
		Verified:   ok,
		Timestamp:  time.Now().UTC(),
	}
}

func TestShortTermMemoryBoundedFIFO(t *testing.T) {
	logger := zaptest.NewLogger(t)
	stm := NewShortTermMemory(5, logger)
	stm.StartTask("bounded test")

	for i := 0; i < 12; i++ {
		o := outcome(schemas.ActionClick, true)
		o.Action.X = i
		stm.Record(o)
	}

	assert.Equal(t, 5, stm.Len(), "size must never exceed capacity")
	window := stm.RecentWindow(0)
	require.Len(t, window, 5)
	// Oldest seven evicted: entries 7..11 remain, oldest first.
	assert.Equal(t, 7, window[0].Action.X)
	assert.Equal(t, 11, window[4].Action.X)
}

func TestShortTermMemorySuccessRate(t *testing.T) {
	logger := zaptest.NewLogger(t)
	stm := NewShortTermMemory(10, logger)
	stm.StartTask("rate test")

	assert.Zero(t, stm.SuccessRate())

	stm.Record(outcome(schemas.ActionClick, true))
	stm.Record(outcome(schemas.ActionTypeText, true))
	stm.Record(outcome(schemas.ActionClick, false))
	stm.Record(outcome(schemas.ActionWait, true))

	assert.InDelta(t, 0.75, stm.SuccessRate(), 1e-9)

	// Executed but unverified counts as failure.
	partial := outcome(schemas.ActionClick, true)
	partial.Verified = false
	stm.Record(partial)
	assert.InDelta(t, 0.6, stm.SuccessRate(), 1e-9)
}

func TestShortTermMemoryResetOnNewTask(t *testing.T) {
	logger := zaptest.NewLogger(t)
	stm := NewShortTermMemory(10, logger)
	stm.StartTask("first")
	stm.Record(outcome(schemas.ActionClick, true))
	require.Equal(t, 1, stm.Len())

	stm.StartTask("second")
	assert.Zero(t, stm.Len())
	assert.Zero(t, stm.SuccessRate())
}

func TestSignatureNormalization(t *testing.T) {
	cases := map[string]string{
		"Open Firefox!":              "open firefox",
		"  open   FIREFOX ":          "open firefox",
		"Open Firefox, please (now)": "open firefox please now",
		"":                           "",
	}
	for input, want := range cases {
		assert.Equal(t, want, Signature(input), "input %q", input)
	}
}

func TestLongTermMemoryPromoteAndExactLookup(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	seq := []schemas.Action{
		{Kind: schemas.ActionOpenApp, App: "firefox"},
		{Kind: schemas.ActionWait, DurationMs: 1000},
	}
	require.NoError(t, ltm.Promote(ctx, "Open Firefox", seq, 4*time.Second))

	rec, ok := ltm.Lookup("open firefox")
	require.True(t, ok)
	assert.Equal(t, "Open Firefox", rec.Task)
	assert.Len(t, rec.Sequence, 2)
	assert.Equal(t, 1, rec.SuccessCount)
	assert.InDelta(t, 4.0, rec.AvgDurationSeconds, 1e-9)
}

func TestLongTermMemoryRepeatPromotionAveragesDuration(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	seq := []schemas.Action{{Kind: schemas.ActionOpenApp, App: "firefox"}}
	require.NoError(t, ltm.Promote(ctx, "open firefox", seq, 2*time.Second))
	require.NoError(t, ltm.Promote(ctx, "open firefox", seq, 6*time.Second))

	rec, ok := ltm.Lookup("open firefox")
	require.True(t, ok)
	assert.Equal(t, 2, rec.SuccessCount)
	assert.InDelta(t, 4.0, rec.AvgDurationSeconds, 1e-9)
}

func TestLongTermMemoryFuzzyLookup(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	seq := []schemas.Action{{Kind: schemas.ActionOpenApp, App: "firefox"}}
	require.NoError(t, ltm.Promote(ctx, "open the firefox browser", seq, time.Second))

	// Shares "open" and "firefox": qualifies.
	rec, ok := ltm.Lookup("please open firefox now")
	require.True(t, ok)
	assert.Equal(t, "open the firefox browser", rec.Task)

	// Shares only "open": below the two-word floor.
	_, ok = ltm.Lookup("open notepad")
	assert.False(t, ok)

	// No overlap at all.
	_, ok = ltm.Lookup("compose an email")
	assert.False(t, ok)
}

func TestLongTermMemoryFuzzyLookupPrefersProvenRecord(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	seq := []schemas.Action{{Kind: schemas.ActionOpenApp, App: "firefox"}}
	for i := 0; i < 5; i++ {
		require.NoError(t, ltm.Promote(ctx, "open firefox now", seq, time.Second))
	}
	// Promoted later, so it is the more recently used record.
	require.NoError(t, ltm.Promote(ctx, "open firefox quickly", seq, time.Second))

	// Both candidates share two words with the query; the five-time record
	// must win over the more recent one-time record.
	rec, ok := ltm.Lookup("please open firefox")
	require.True(t, ok)
	assert.Equal(t, "open firefox now", rec.Task)
	assert.Equal(t, 5, rec.SuccessCount)
}

func TestLongTermMemorySurvivesReload(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "mem.json")

	first := NewLongTermMemory(ctx, NewFileStore(path, logger), logger)
	seq := []schemas.Action{{Kind: schemas.ActionClick, X: 80, Y: 40}}
	require.NoError(t, first.Promote(ctx, "click the save button", seq, time.Second))

	second := NewLongTermMemory(ctx, NewFileStore(path, logger), logger)
	require.Equal(t, 1, second.Len())
	rec, ok := second.Lookup("click the save button")
	require.True(t, ok)
	assert.Equal(t, 80, rec.Sequence[0].X)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "absent", "mem.json"), logger)
	records, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	patterns, err := store.LoadUIPatterns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestUIPatternRecordAndHint(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	require.NoError(t, ltm.RecordUIPattern(ctx, "Firefox", "Save Button!", 812, 44))
	require.NoError(t, ltm.RecordUIPattern(ctx, "firefox", "save button", 815, 44))

	// Names normalize to the same key; the second sighting wins the location
	// and accumulates confidence.
	pat, ok := ltm.UIHint("firefox", "save button")
	require.True(t, ok)
	assert.Equal(t, 815, pat.X)
	assert.Equal(t, 44, pat.Y)
	assert.InDelta(t, 0.2, pat.Confidence, 1e-9)

	_, ok = ltm.UIHint("firefox", "cancel button")
	assert.False(t, ok)
	_, ok = ltm.UIHint("gimp", "save button")
	assert.False(t, ok)
}

func TestUIPatternsSurviveReload(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	path := filepath.Join(t.TempDir(), "mem.json")

	first := NewLongTermMemory(ctx, NewFileStore(path, logger), logger)
	require.NoError(t, first.RecordUIPattern(ctx, "firefox", "address bar", 500, 60))

	second := NewLongTermMemory(ctx, NewFileStore(path, logger), logger)
	pat, ok := second.UIHint("firefox", "address bar")
	require.True(t, ok)
	assert.Equal(t, 500, pat.X)
}

func TestUIPatternStaleHintNotServed(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)

	stale := UIPattern{X: 10, Y: 20, Confidence: 0.5, LastSeen: time.Now().UTC().Add(-8 * 24 * time.Hour)}
	require.NoError(t, store.SaveUIPattern(ctx, "firefox", "old menu", stale))

	ltm := NewLongTermMemory(ctx, store, logger)
	_, ok := ltm.UIHint("firefox", "old menu")
	assert.False(t, ok)
	assert.Empty(t, ltm.AppHints("firefox", 5))
}

func TestAppHintsOrderedByConfidence(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	store := NewFileStore(filepath.Join(t.TempDir(), "mem.json"), logger)
	ltm := NewLongTermMemory(ctx, store, logger)

	require.NoError(t, ltm.RecordUIPattern(ctx, "firefox", "address bar", 500, 60))
	for i := 0; i < 3; i++ {
		require.NoError(t, ltm.RecordUIPattern(ctx, "firefox", "save button", 812, 44))
	}

	hints := ltm.AppHints("firefox", 5)
	require.Len(t, hints, 2)
	assert.Equal(t, "save button", hints[0].Element)
	assert.Equal(t, "address bar", hints[1].Element)

	assert.Len(t, ltm.AppHints("firefox", 1), 1)
	assert.Empty(t, ltm.AppHints("gimp", 5))
}

func TestPostgresStoreSaveUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := zaptest.NewLogger(t)
	store := NewPostgresStoreWithPool(mock, logger)

	rec := WorkflowRecord{
		Task:               "open firefox",
		Sequence:           []schemas.Action{{Kind: schemas.ActionOpenApp, App: "firefox"}},
		SuccessCount:       1,
		AvgDurationSeconds: 3.5,
		LastUsed:           time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO workflow_memory").
		WithArgs("open firefox", rec.Task, pgxmock.AnyArg(), rec.SuccessCount, rec.AvgDurationSeconds, rec.LastUsed).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), "open firefox", rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	logger := zaptest.NewLogger(t)
	store := NewPostgresStoreWithPool(mock, logger)

	seqRaw, err := json.Marshal([]schemas.Action{{Kind: schemas.ActionClick, X: 10, Y: 20}})
	require.NoError(t, err)
	lastUsed := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"signature", "task", "sequence", "success_count", "avg_duration_seconds", "last_used"}).
		AddRow("open firefox", "Open Firefox", seqRaw, 3, 2.5, lastUsed)
	mock.ExpectQuery("SELECT signature, task, sequence").WillReturnRows(rows)

	records, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records["open firefox"]
	assert.Equal(t, 3, rec.SuccessCount)
	assert.Equal(t, schemas.ActionClick, rec.Sequence[0].Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreSaveUIPatternUpserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock, zaptest.NewLogger(t))
	pat := UIPattern{X: 812, Y: 44, Confidence: 0.3, LastSeen: time.Now().UTC()}

	mock.ExpectExec("INSERT INTO ui_patterns").
		WithArgs("firefox", "save button", pat.X, pat.Y, pat.Confidence, pat.LastSeen).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveUIPattern(context.Background(), "firefox", "save button", pat))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadUIPatternsScansRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock, zaptest.NewLogger(t))
	lastSeen := time.Now().UTC()

	rows := pgxmock.NewRows([]string{"app", "element", "x", "y", "confidence", "last_seen"}).
		AddRow("firefox", "save button", 812, 44, 0.4, lastSeen).
		AddRow("firefox", "address bar", 500, 60, 0.1, lastSeen)
	mock.ExpectQuery("SELECT app, element").WillReturnRows(rows)

	patterns, err := store.LoadUIPatterns(context.Background())
	require.NoError(t, err)
	require.Len(t, patterns["firefox"], 2)
	assert.Equal(t, 812, patterns["firefox"]["save button"].X)
	assert.InDelta(t, 0.1, patterns["firefox"]["address bar"].Confidence, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreLoadQueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithPool(mock, zaptest.NewLogger(t))
	mock.ExpectQuery("SELECT signature").WillReturnError(fmt.Errorf("connection refused"))

	_, err = store.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load workflow memory")
}
