package pipeline

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Artifact file names inside a run directory.
const (
	IssueFile          = "issue.json"
	ProjectContextFile = "project_context.json"
	PlanFile           = "plan.json"
	StateFile          = "state.json"
	SummaryFile        = "summary.json"
	LogFile            = "run.log"
	MetricsFile        = "metrics.prom"
)

// Summary is the final record written when a run terminates.
type Summary struct {
	RunID       string   `json:"run_id"`
	IssueRef    string   `json:"issue_ref"`
	Outcome     Outcome  `json:"outcome"`
	ExitCode    int      `json:"exit_code"`
	RetryCount  int      `json:"retry_count"`
	Degraded    bool     `json:"degraded,omitempty"`
	Files       []string `json:"files,omitempty"`
	CommitSHA   string   `json:"commit_sha,omitempty"`
	PRURL       string   `json:"pr_url,omitempty"`
	Error       string   `json:"error,omitempty"`
	StartedAt   string   `json:"started_at"`
	FinishedAt  string   `json:"finished_at"`
	DurationSec float64  `json:"duration_sec"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewRunID returns a new lexically sortable run identifier.
func NewRunID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Store manages run artifacts on disk.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// DefaultStore returns a Store at ~/.factory/runs, creating the directory if needed.
func DefaultStore() (*Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".factory", "runs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &Store{baseDir: dir}, nil
}

// BaseDir returns the store's root directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// RunDir returns the directory holding every artifact of a run.
func (s *Store) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// Path returns the path of a named artifact inside a run directory.
func (s *Store) Path(runID, name string) string {
	return filepath.Join(s.RunDir(runID), name)
}

// Create initialises an empty run directory. It fails if the run exists.
func (s *Store) Create(runID string) error {
	dir := s.RunDir(runID)
	if _, err := os.Stat(dir); err == nil {
		return fmt.Errorf("run %s already exists", runID)
	}
	for _, sub := range []string{"phases", "gate"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", sub, err)
		}
	}
	return nil
}

// SaveArtifact writes v as JSON under name in the run directory.
func (s *Store) SaveArtifact(runID, name string, v any) error {
	return WriteJSON(s.Path(runID, name), v)
}

// SaveState writes the latest snapshot to state.json.
func (s *Store) SaveState(st WorkflowState) error {
	return WriteJSON(s.Path(st.RunID, StateFile), st)
}

// SavePhase records the snapshot taken after phase seq completed, and
// refreshes state.json.
func (s *Store) SavePhase(seq int, phase string, st WorkflowState) error {
	name := filepath.Join("phases", fmt.Sprintf("%02d-%s.json", seq, phase))
	if err := WriteJSON(s.Path(st.RunID, name), st); err != nil {
		return fmt.Errorf("write phase %s: %w", phase, err)
	}
	return s.SaveState(st)
}

// SaveGateAttempt records one lint+test attempt.
func (s *Store) SaveGateAttempt(runID string, q *QualityResult) error {
	name := filepath.Join("gate", fmt.Sprintf("attempt-%d.json", q.Attempt))
	return WriteJSON(s.Path(runID, name), q)
}

// SaveSummary writes summary.json.
func (s *Store) SaveSummary(sum *Summary) error {
	return WriteJSON(s.Path(sum.RunID, SummaryFile), sum)
}

// LoadState reads the latest snapshot of a run.
func (s *Store) LoadState(runID string) (*WorkflowState, error) {
	var st WorkflowState
	if err := ReadJSON(s.Path(runID, StateFile), &st); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, err
	}
	return &st, nil
}

// LoadSummary reads summary.json of a finished run.
func (s *Store) LoadSummary(runID string) (*Summary, error) {
	var sum Summary
	if err := ReadJSON(s.Path(runID, SummaryFile), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// PhaseFiles lists the per-phase snapshot files of a run in order.
func (s *Store) PhaseFiles(runID string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.RunDir(runID), "phases"))
	if err != nil {
		return nil, fmt.Errorf("read phases: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// List returns the latest snapshot of every run, newest first.
// Pass limit <= 0 for all runs.
func (s *Store) List(limit int) ([]WorkflowState, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dir %s: %w", s.baseDir, err)
	}

	var runs []WorkflowState
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		st, err := s.LoadState(entry.Name())
		if err != nil {
			continue // skip runs that never persisted a snapshot
		}
		runs = append(runs, *st)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunID > runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
