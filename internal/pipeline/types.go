package pipeline

import (
	"sort"
	"time"
)

// SourceKind records how an issue reference was resolved.
type SourceKind string

const (
	SourceNumber SourceKind = "number"
	SourceFile   SourceKind = "file"
	SourceText   SourceKind = "text"
)

// IssueRecord is the canonical issue produced by ingestion. It is never
// modified after the ingest phase.
type IssueRecord struct {
	Text     string     `json:"text"`
	Source   SourceKind `json:"source"`
	RepoLink string     `json:"repo_link,omitempty"`
	Number   int        `json:"number,omitempty"`
	Title    string     `json:"title,omitempty"`
	Labels   []string   `json:"labels,omitempty"`
	Path     string     `json:"path,omitempty"`
}

// ProjectContext describes the checked-out repository. Empty command
// strings mean the command was not discovered.
type ProjectContext struct {
	Root           string            `json:"root"`
	RepoLink       string            `json:"repo_link,omitempty"`
	Language       string            `json:"language,omitempty"`
	Framework      string            `json:"framework,omitempty"`
	Description    string            `json:"description,omitempty"`
	InstallCommand string            `json:"install_command,omitempty"`
	LintCommand    string            `json:"lint_command,omitempty"`
	TestCommand    string            `json:"test_command,omitempty"`
	RunCommand     string            `json:"run_command,omitempty"`
	Manifests      []string          `json:"manifests,omitempty"`
	Signals        map[string]string `json:"signals,omitempty"`
}

// Plan categories.
const (
	CategorySource   = "source_files"
	CategoryRelevant = "relevant_files"
	CategoryTest     = "test_files"
)

// Plan classifies repository files for one issue.
type Plan struct {
	SourceFiles    []string `json:"source_files"`
	RelevantFiles  []string `json:"relevant_files"`
	TestFiles      []string `json:"test_files"`
	NewTestFiles   []string `json:"new_test_files,omitempty"`
	Rationale      string   `json:"rationale,omitempty"`
	TestGeneration bool     `json:"is_test_generation_issue"`
	Keywords       []string `json:"keywords,omitempty"`
	Candidates     []string `json:"candidates,omitempty"`
}

// Files returns source files followed by test files, without duplicates.
func (p *Plan) Files() []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range append(append([]string{}, p.SourceFiles...), p.TestFiles...) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Category returns the plan category a path is edited under, or "".
func (p *Plan) Category(path string) string {
	for _, f := range p.SourceFiles {
		if f == path {
			return CategorySource
		}
	}
	for _, f := range p.TestFiles {
		if f == path {
			return CategoryTest
		}
	}
	for _, f := range p.RelevantFiles {
		if f == path {
			return CategoryRelevant
		}
	}
	return ""
}

// IsNewTest reports whether path is a test file the plan allows to be created.
func (p *Plan) IsNewTest(path string) bool {
	for _, f := range p.NewTestFiles {
		if f == path {
			return true
		}
	}
	return false
}

// CodeChangeSet maps repository-relative paths to their full new content.
type CodeChangeSet struct {
	Files   map[string]string `json:"files"`
	Created map[string]bool   `json:"created,omitempty"`
}

// NewCodeChangeSet returns an empty change set.
func NewCodeChangeSet() *CodeChangeSet {
	return &CodeChangeSet{
		Files:   make(map[string]string),
		Created: make(map[string]bool),
	}
}

// Set stores content for path, overwriting any earlier content.
func (c *CodeChangeSet) Set(path, content string, created bool) {
	if c.Files == nil {
		c.Files = make(map[string]string)
	}
	if c.Created == nil {
		c.Created = make(map[string]bool)
	}
	c.Files[path] = content
	if created {
		c.Created[path] = true
	}
}

// Paths returns the changed paths in sorted order.
func (c *CodeChangeSet) Paths() []string {
	if c == nil {
		return nil
	}
	paths := make([]string, 0, len(c.Files))
	for p := range c.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Clone returns a deep copy.
func (c *CodeChangeSet) Clone() *CodeChangeSet {
	if c == nil {
		return nil
	}
	out := NewCodeChangeSet()
	for k, v := range c.Files {
		out.Files[k] = v
	}
	for k, v := range c.Created {
		out.Created[k] = v
	}
	return out
}

// CheckResult is the outcome of one lint or test command.
type CheckResult struct {
	Name       string   `json:"name"`
	Command    string   `json:"command,omitempty"`
	Passed     bool     `json:"passed"`
	Skipped    bool     `json:"skipped,omitempty"`
	TimedOut   bool     `json:"timed_out,omitempty"`
	ExitCode   int      `json:"exit_code"`
	DurationMs int      `json:"duration_ms"`
	Summary    string   `json:"summary,omitempty"`
	Stdout     string   `json:"stdout,omitempty"`
	Stderr     string   `json:"stderr,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// QualityResult is the outcome of one lint+test attempt.
type QualityResult struct {
	Attempt  int          `json:"attempt"`
	Passed   bool         `json:"passed"`
	Degraded bool         `json:"degraded,omitempty"`
	Lint     *CheckResult `json:"lint,omitempty"`
	Test     *CheckResult `json:"test,omitempty"`
	Errors   []string     `json:"errors,omitempty"`
}

// Failed returns the check that failed, if any.
func (q *QualityResult) Failed() *CheckResult {
	if q == nil {
		return nil
	}
	if q.Lint != nil && !q.Lint.Passed {
		return q.Lint
	}
	if q.Test != nil && !q.Test.Passed {
		return q.Test
	}
	return nil
}

// PublishInfo records what the finalizer produced.
type PublishInfo struct {
	Branch    string   `json:"branch,omitempty"`
	CommitSHA string   `json:"commit_sha,omitempty"`
	Message   string   `json:"message,omitempty"`
	PRURL     string   `json:"pr_url,omitempty"`
	Files     []string `json:"files,omitempty"`
	Skipped   bool     `json:"skipped,omitempty"`
}

// Outcome is a terminal run outcome.
type Outcome string

const (
	OutcomeSuccess          Outcome = "SUCCESS"
	OutcomeIngestionFailed  Outcome = "INGESTION_FAILED"
	OutcomeCheckoutFailed   Outcome = "CHECKOUT_FAILED"
	OutcomePlanningFailed   Outcome = "PLANNING_FAILED"
	OutcomeGenerationFailed Outcome = "GENERATION_FAILED"
	OutcomeQualityFailed    Outcome = "QUALITY_FAILED"
	OutcomePublishFailed    Outcome = "PUBLISH_FAILED"
	OutcomeCancelled        Outcome = "CANCELLED"
)

// ExitCode maps an outcome to the process exit code.
func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeIngestionFailed:
		return 2
	case OutcomePlanningFailed:
		return 3
	case OutcomeGenerationFailed:
		return 4
	case OutcomeQualityFailed:
		return 5
	case OutcomePublishFailed:
		return 6
	case OutcomeCheckoutFailed:
		return 7
	case OutcomeCancelled:
		return 8
	default:
		return 1
	}
}

// WorkflowState is the aggregate record threaded through a run. Only the
// workflow controller holds it; phases get a Clone and return a new value.
type WorkflowState struct {
	RunID          string          `json:"run_id"`
	GitHubIssue    string          `json:"github_issue"`
	WorkDir        string          `json:"work_dir,omitempty"`
	Branch         string          `json:"branch,omitempty"`
	Issue          *IssueRecord    `json:"issue,omitempty"`
	ProjectContext *ProjectContext `json:"project_context,omitempty"`
	Plan           *Plan           `json:"plan,omitempty"`
	CodeChanges    *CodeChangeSet  `json:"code_changes,omitempty"`
	TestResults    *QualityResult  `json:"test_results,omitempty"`
	RetryCount     int             `json:"retry_count"`
	Publish        *PublishInfo    `json:"publish,omitempty"`
	Phase          string          `json:"phase"`
	Outcome        Outcome         `json:"outcome,omitempty"`
	Error          string          `json:"error,omitempty"`
	StartedAt      time.Time       `json:"started_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so a phase can never alias controller state.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	if s.Issue != nil {
		is := *s.Issue
		is.Labels = append([]string(nil), s.Issue.Labels...)
		out.Issue = &is
	}
	if s.ProjectContext != nil {
		pc := *s.ProjectContext
		pc.Manifests = append([]string(nil), s.ProjectContext.Manifests...)
		if s.ProjectContext.Signals != nil {
			pc.Signals = make(map[string]string, len(s.ProjectContext.Signals))
			for k, v := range s.ProjectContext.Signals {
				pc.Signals[k] = v
			}
		}
		out.ProjectContext = &pc
	}
	if s.Plan != nil {
		p := *s.Plan
		p.SourceFiles = append([]string(nil), s.Plan.SourceFiles...)
		p.RelevantFiles = append([]string(nil), s.Plan.RelevantFiles...)
		p.TestFiles = append([]string(nil), s.Plan.TestFiles...)
		p.NewTestFiles = append([]string(nil), s.Plan.NewTestFiles...)
		p.Keywords = append([]string(nil), s.Plan.Keywords...)
		p.Candidates = append([]string(nil), s.Plan.Candidates...)
		out.Plan = &p
	}
	out.CodeChanges = s.CodeChanges.Clone()
	if s.TestResults != nil {
		q := *s.TestResults
		q.Errors = append([]string(nil), s.TestResults.Errors...)
		if s.TestResults.Lint != nil {
			l := *s.TestResults.Lint
			q.Lint = &l
		}
		if s.TestResults.Test != nil {
			t := *s.TestResults.Test
			q.Test = &t
		}
		out.TestResults = &q
	}
	if s.Publish != nil {
		p := *s.Publish
		p.Files = append([]string(nil), s.Publish.Files...)
		out.Publish = &p
	}
	return out
}
