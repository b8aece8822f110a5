package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir())
}

func sampleState(runID string) WorkflowState {
	return WorkflowState{
		RunID:       runID,
		GitHubIssue: "42",
		Issue:       &IssueRecord{Text: "fix discount", Source: SourceNumber, Number: 42, Labels: []string{"bug"}},
		Plan: &Plan{
			SourceFiles: []string{"price_utils.py"},
			TestFiles:   []string{"tests/test_price_utils.py"},
		},
		CodeChanges: &CodeChangeSet{Files: map[string]string{"price_utils.py": "x = 1\n"}},
		Phase:       "plan",
		StartedAt:   time.Now().UTC(),
	}
}

func TestNewRunIDSortable(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	assert.Len(t, a, 26)
	assert.Less(t, a, b)
}

func TestCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("r1"))
	assert.DirExists(t, filepath.Join(s.RunDir("r1"), "phases"))
	assert.DirExists(t, filepath.Join(s.RunDir("r1"), "gate"))
	assert.Error(t, s.Create("r1"))
}

func TestSavePhaseWritesSnapshotAndState(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("r1"))

	st := sampleState("r1")
	require.NoError(t, s.SavePhase(1, "ingest", st))
	st.Phase = "probe"
	require.NoError(t, s.SavePhase(2, "probe", st))

	names, err := s.PhaseFiles("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"01-ingest.json", "02-probe.json"}, names)

	got, err := s.LoadState("r1")
	require.NoError(t, err)
	assert.Equal(t, "probe", got.Phase)
	assert.Equal(t, "x = 1\n", got.CodeChanges.Files["price_utils.py"])
}

func TestLoadStateMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.LoadState("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSaveGateAttempt(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("r1"))
	q := &QualityResult{Attempt: 2, Lint: &CheckResult{Name: "lint", Passed: false}}
	require.NoError(t, s.SaveGateAttempt("r1", q))
	assert.FileExists(t, filepath.Join(s.RunDir("r1"), "gate", "attempt-2.json"))
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("r%d", i)
		require.NoError(t, s.Create(id))
		require.NoError(t, s.SaveState(sampleState(id)))
	}
	// A run directory without a snapshot is skipped.
	require.NoError(t, s.Create("r9"))

	runs, err := s.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].RunID)

	runs, err = s.List(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestListMissingBaseDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent"))
	runs, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestWriteAtomicNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	require.NoError(t, WriteAtomic(path, []byte("hello")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCloneIsDeep(t *testing.T) {
	orig := sampleState("r1")
	cp := orig.Clone()

	cp.Plan.SourceFiles[0] = "other.py"
	cp.CodeChanges.Files["price_utils.py"] = "changed"
	cp.Issue.Labels[0] = "feature"

	assert.Equal(t, "price_utils.py", orig.Plan.SourceFiles[0])
	assert.Equal(t, "x = 1\n", orig.CodeChanges.Files["price_utils.py"])
	assert.Equal(t, "bug", orig.Issue.Labels[0])
}

func TestPlanFilesAndCategory(t *testing.T) {
	p := &Plan{
		SourceFiles:   []string{"a.py", "b.py"},
		RelevantFiles: []string{"c.py"},
		TestFiles:     []string{"tests/test_a.py", "a.py"},
	}
	assert.Equal(t, []string{"a.py", "b.py", "tests/test_a.py"}, p.Files())
	assert.Equal(t, CategorySource, p.Category("a.py"))
	assert.Equal(t, CategoryTest, p.Category("tests/test_a.py"))
	assert.Equal(t, CategoryRelevant, p.Category("c.py"))
	assert.Equal(t, "", p.Category("d.py"))
}

func TestOutcomeExitCodes(t *testing.T) {
	cases := map[Outcome]int{
		OutcomeSuccess:          0,
		OutcomeIngestionFailed:  2,
		OutcomePlanningFailed:   3,
		OutcomeGenerationFailed: 4,
		OutcomeQualityFailed:    5,
		OutcomePublishFailed:    6,
		OutcomeCheckoutFailed:   7,
		OutcomeCancelled:        8,
		Outcome("bogus"):        1,
	}
	for o, want := range cases {
		assert.Equal(t, want, o.ExitCode(), string(o))
	}
}

func TestErrorTaxonomy(t *testing.T) {
	err := fmt.Errorf("phase: %w", NoActionableFiles("no candidates"))
	var pe *PlanningError
	require.True(t, errors.As(err, &pe))
	assert.True(t, errors.Is(err, ErrNoActionableFiles))

	ing := &IngestionError{Kind: IngestNotFound, Ref: "9999"}
	assert.True(t, IsIssueNotFound(fmt.Errorf("wrap: %w", ing)))
	assert.False(t, IsIssueNotFound(&IngestionError{Kind: IngestRead}))
}

func TestRunLoggerTees(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create("r1"))

	var console bytes.Buffer
	logger, closer, err := s.RunLogger("r1", &console, 0)
	require.NoError(t, err)
	logger.Info("phase start", "phase", "ingest")
	logger.Debug("hidden from console")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(s.Path("r1", LogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"run_id":"r1"`)
	assert.Contains(t, console.String(), "phase start")
	assert.NotContains(t, console.String(), "hidden")
}
