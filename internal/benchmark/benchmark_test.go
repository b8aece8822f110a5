package benchmark

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/workflow"
)

const jsonl = `{"instance_id": "acme__shop-1", "repo": "acme/shop", "problem_statement": "Discount applied twice", "base_commit": "abc"}

{"instance_id": "acme__shop-2", "repo": "https://github.com/acme/shop.git", "problem_statement": "Totals off by one", "base_commit": "def"}
`

const yamlDataset = `
- instance_id: acme__shop-1
  repo: acme/shop
  problem_statement: |
    Discount applied twice
  base_commit: abc
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// fakeRunner succeeds unless the issue mentions "fail"; it records the
// peak number of concurrent runs.
type fakeRunner struct {
	mu       sync.Mutex
	requests []workflow.Request
	active   atomic.Int32
	peak     atomic.Int32
}

func (f *fakeRunner) Run(ctx context.Context, req workflow.Request) (*workflow.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	text, err := os.ReadFile(req.IssueRef)
	if err != nil {
		return nil, err
	}
	if strings.Contains(string(text), "explode") {
		return nil, errors.New("store unavailable")
	}
	res := &workflow.Result{RunID: "run-" + filepath.Base(filepath.Dir(req.IssueRef)), Outcome: pipeline.OutcomeSuccess}
	if strings.Contains(string(text), "fail") {
		res.Outcome = pipeline.OutcomeQualityFailed
		res.State.RetryCount = 3
		res.Err = &pipeline.QualityGateExhausted{Attempts: 3, Check: "test"}
	}
	res.State.CodeChanges = pipeline.NewCodeChangeSet()
	res.State.CodeChanges.Set("price_utils.py", "x\n", false)
	return res, nil
}

func TestLoadDataset_JSONL(t *testing.T) {
	insts, err := LoadDataset(writeFile(t, "dev.jsonl", jsonl))
	require.NoError(t, err)
	require.Len(t, insts, 2)
	assert.Equal(t, "acme__shop-1", insts[0].InstanceID)
	assert.Equal(t, "def", insts[1].BaseCommit)
}

func TestLoadDataset_YAML(t *testing.T) {
	insts, err := LoadDataset(writeFile(t, "dev.yaml", yamlDataset))
	require.NoError(t, err)
	require.Len(t, insts, 1)
	assert.Equal(t, "Discount applied twice\n", insts[0].ProblemStatement)
}

func TestLoadDataset_JSONArray(t *testing.T) {
	insts, err := LoadDataset(writeFile(t, "dev.json", `[{"instance_id": "a", "repo": "r", "problem_statement": "p", "base_commit": "c"}]`))
	require.NoError(t, err)
	require.Len(t, insts, 1)
}

func TestLoadDataset_BadLine(t *testing.T) {
	_, err := LoadDataset(writeFile(t, "dev.jsonl", "{\"instance_id\": \"a\"}\nnot json\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRepoURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/shop.git", RepoURL("acme/shop"))
	assert.Equal(t, "https://github.com/acme/shop.git", RepoURL("acme/shop.git"))
	assert.Equal(t, "https://example.com/x.git", RepoURL("https://example.com/x.git"))
	assert.Equal(t, "/srv/repos/shop", RepoURL("/srv/repos/shop"))
}

func TestRun_IsolatesInstances(t *testing.T) {
	insts := []Instance{
		{InstanceID: "i-1", Repo: "acme/shop", ProblemStatement: "Discount applied twice", BaseCommit: "abc"},
		{InstanceID: "i-2", Repo: "acme/shop", ProblemStatement: "tests fail", BaseCommit: "abc"},
		{InstanceID: "i-3", Repo: "acme/shop", ProblemStatement: "explode", BaseCommit: "abc"},
		{InstanceID: "i-4", Repo: "acme/shop", BaseCommit: "abc"},
	}
	runner := &fakeRunner{}
	work := t.TempDir()
	rep := New(runner, Config{Concurrency: 2, WorkDir: work}, pipeline.DiscardLogger()).Run(context.Background(), insts)

	require.Len(t, rep.Results, 4)
	assert.Equal(t, pipeline.OutcomeSuccess, rep.Results[0].Outcome)
	assert.Equal(t, []string{"price_utils.py"}, rep.Results[0].Files)
	assert.Equal(t, pipeline.OutcomeQualityFailed, rep.Results[1].Outcome)
	assert.Equal(t, 3, rep.Results[1].RetryCount)
	assert.Equal(t, 5, rep.Results[1].ExitCode)
	assert.Equal(t, OutcomeError, rep.Results[2].Outcome)
	assert.Equal(t, "store unavailable", rep.Results[2].Error)
	assert.Equal(t, "missing problem_statement", rep.Results[3].Error)

	assert.Equal(t, 1, rep.Passed())
	assert.Equal(t, []string{"ERROR", "INGESTION_FAILED", "QUALITY_FAILED", "SUCCESS"}, rep.Outcomes())
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))

	require.Len(t, runner.requests, 3)
	for _, req := range runner.requests {
		assert.Equal(t, "https://github.com/acme/shop.git", req.Repo)
		assert.Equal(t, "abc", req.BaseRef)
		assert.True(t, strings.HasPrefix(req.Dest, work))
		assert.True(t, strings.HasPrefix(req.Branch, "factory/bench-i-"))
	}
}

func TestRun_Samples(t *testing.T) {
	insts := []Instance{
		{InstanceID: "a", Repo: "r", ProblemStatement: "p", BaseCommit: "c"},
		{InstanceID: "b", Repo: "r", ProblemStatement: "p", BaseCommit: "c"},
		{InstanceID: "c", Repo: "r", ProblemStatement: "p", BaseCommit: "c"},
	}
	runner := &fakeRunner{}
	rep := New(runner, Config{Samples: 2, WorkDir: t.TempDir()}, pipeline.DiscardLogger()).Run(context.Background(), insts)
	assert.Equal(t, 2, rep.Total)
	assert.Len(t, runner.requests, 2)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	insts := []Instance{{InstanceID: "a", Repo: "r", ProblemStatement: "p", BaseCommit: "c"}}
	runner := &fakeRunner{}
	rep := New(runner, Config{WorkDir: t.TempDir()}, pipeline.DiscardLogger()).Run(ctx, insts)
	assert.Equal(t, pipeline.OutcomeCancelled, rep.Results[0].Outcome)
	assert.Empty(t, runner.requests)
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	rep := &Report{Total: 1, Counts: map[string]int{"SUCCESS": 1}, Results: []Result{{InstanceID: "a", Outcome: pipeline.OutcomeSuccess}}}
	path, err := WriteReport(dir, rep)
	require.NoError(t, err)

	var got Report
	require.NoError(t, pipeline.ReadJSON(path, &got))
	assert.Equal(t, 1, got.Passed())
}
