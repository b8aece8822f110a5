package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// CmdRunner provides gh command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// GitRunner provides git command execution. Interface for testing.
type GitRunner interface {
	RunGit(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner runs gh and git via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// RunGit implements GitRunner using exec.Command.
func (r *ExecRunner) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ErrorKind classifies a host failure.
type ErrorKind string

const (
	KindNotFound ErrorKind = "not_found"
	KindAuth     ErrorKind = "auth"
	KindConflict ErrorKind = "conflict"
	KindNetwork  ErrorKind = "network"
	KindUnknown  ErrorKind = "unknown"
)

// HostError is a classified gh or git failure.
type HostError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *HostError) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var he *HostError
	if errors.As(err, &he) {
		return he.Kind
	}
	return KindUnknown
}

// Classify inspects gh/git output for well-known failure text.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	kind := KindUnknown
	switch {
	case containsAny(msg, "could not resolve to an issue", "not found", "no such issue", "repository not found", "does not exist"):
		kind = KindNotFound
	case containsAny(msg, "authentication", "permission denied", "gh auth login", "http 401", "http 403", "bad credentials", "could not read username"):
		kind = KindAuth
	case containsAny(msg, "already exists", "non-fast-forward", "rejected", "conflict", "fetch first"):
		kind = KindConflict
	case containsAny(msg, "could not resolve host", "connection refused", "timed out", "timeout", "network is unreachable", "tls handshake", "connection reset"):
		kind = KindNetwork
	}
	return &HostError{Kind: kind, Op: op, Err: err}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Client provides GitHub operations.
type Client struct {
	cmd  CmdRunner
	git  GitRunner
	repo string // owner/name passed as --repo; empty uses gh's default
}

// NewClient creates a GitHub client. If cmd also implements GitRunner,
// it will be used for git operations (e.g., PushBranch).
func NewClient(cmd CmdRunner) *Client {
	c := &Client{cmd: cmd}
	if git, ok := cmd.(GitRunner); ok {
		c.git = git
	}
	return c
}

// NewClientWithGit creates a GitHub client with a separate git runner.
func NewClientWithGit(cmd CmdRunner, git GitRunner) *Client {
	return &Client{cmd: cmd, git: git}
}

// ForRepo returns a copy of the client scoped to the repository at link.
func (c *Client) ForRepo(link string) *Client {
	cp := *c
	cp.repo = RepoSlug(link)
	return &cp
}

var slugRe = regexp.MustCompile(`github\.com[:/]([^/]+)/([^/]+?)(?:\.git)?/?$`)

// RepoSlug turns a GitHub clone URL into owner/name. Other strings are
// returned unchanged.
func RepoSlug(link string) string {
	if m := slugRe.FindStringSubmatch(strings.TrimSpace(link)); m != nil {
		return m[1] + "/" + m[2]
	}
	return link
}

func (c *Client) withRepo(args []string) []string {
	if c.repo != "" {
		args = append(args, "--repo", c.repo)
	}
	return args
}

// Issue represents a GitHub issue.
type Issue struct {
	Number             int     `json:"number"`
	Title              string  `json:"title"`
	Body               string  `json:"body"`
	State              string  `json:"state"`
	Labels             []Label `json:"labels"`
	URL                string  `json:"url,omitempty"`
	AcceptanceCriteria string  `json:"acceptance_criteria,omitempty"`
}

// Label represents a GitHub label.
type Label struct {
	Name string `json:"name"`
}

// LabelNames returns the label names of an issue.
func (i *Issue) LabelNames() []string {
	var names []string
	for _, l := range i.Labels {
		names = append(names, l.Name)
	}
	return names
}

// ValidateIssueNumber checks that an issue number is positive.
func ValidateIssueNumber(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid issue number %d: must be positive", n)
	}
	return nil
}

// GetIssue fetches a GitHub issue by number. Failures are *HostError.
func (c *Client) GetIssue(ctx context.Context, number int) (*Issue, error) {
	if err := ValidateIssueNumber(number); err != nil {
		return nil, err
	}

	args := c.withRepo([]string{"issue", "view", fmt.Sprintf("%d", number), "--json", "number,title,body,state,labels,url"})
	out, err := c.cmd.Run(ctx, args...)
	if err != nil {
		return nil, Classify(fmt.Sprintf("get issue %d", number), err)
	}

	var issue Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		return nil, fmt.Errorf("parse issue JSON: %w", err)
	}

	issue.AcceptanceCriteria = extractAcceptanceCriteria(issue.Body)
	return &issue, nil
}

// PRCreateOpts holds options for creating a PR.
type PRCreateOpts struct {
	Title  string
	Body   string
	Branch string
	Base   string
}

// PRCreateResult holds the result of creating a PR.
type PRCreateResult struct {
	URL string
}

// CreatePR creates a pull request. An existing PR for the branch is
// returned instead of failing.
func (c *Client) CreatePR(ctx context.Context, opts PRCreateOpts) (*PRCreateResult, error) {
	if existing, err := c.FindPRByBranch(ctx, opts.Branch); err == nil && existing != nil {
		return existing, nil
	}

	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--head", opts.Branch}
	if opts.Base != "" {
		args = append(args, "--base", opts.Base)
	}

	out, err := c.cmd.Run(ctx, c.withRepo(args)...)
	if err != nil {
		return nil, Classify("create PR", err)
	}
	return &PRCreateResult{URL: lastLine(out)}, nil
}

// FindPRByBranch checks if a PR already exists for a given branch.
// Returns the PR result if found, nil if none exist.
func (c *Client) FindPRByBranch(ctx context.Context, branch string) (*PRCreateResult, error) {
	args := c.withRepo([]string{"pr", "list", "--head", branch, "--json", "url", "--limit", "1"})
	out, err := c.cmd.Run(ctx, args...)
	if err != nil {
		return nil, Classify("find PR by branch", err)
	}

	var prs []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(out), &prs); err != nil {
		return nil, fmt.Errorf("parse PR list JSON: %w", err)
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return &PRCreateResult{URL: prs[0].URL}, nil
}

// PushBranch pushes a branch to the remote.
func (c *Client) PushBranch(ctx context.Context, dir string, branch string) error {
	if c.git == nil {
		return fmt.Errorf("git runner not configured")
	}
	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("invalid branch name %q: must not start with -", branch)
	}
	if _, err := c.git.RunGit(ctx, dir, "push", "-u", "origin", branch); err != nil {
		return Classify("push branch", err)
	}
	return nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

var acHeaderRe = regexp.MustCompile(`(?mi)^##\s+acceptance\s+criteria`)
var checkboxRe = regexp.MustCompile(`(?m)^\s*[-*]\s+\[[ xX]\]\s+(.+)$`)
var nextHeaderRe = regexp.MustCompile(`(?m)^##\s+`)

// extractAcceptanceCriteria parses acceptance criteria from an issue body.
// It looks for "## Acceptance Criteria" header or checkbox lists.
func extractAcceptanceCriteria(body string) string {
	loc := acHeaderRe.FindStringIndex(body)
	if loc != nil {
		section := body[loc[1]:]
		nextLoc := nextHeaderRe.FindStringIndex(section)
		if nextLoc != nil {
			section = section[:nextLoc[0]]
		}
		return strings.TrimSpace(section)
	}

	matches := checkboxRe.FindAllStringSubmatch(body, -1)
	if len(matches) > 0 {
		var criteria []string
		for _, m := range matches {
			criteria = append(criteria, "- "+m[1])
		}
		return strings.Join(criteria, "\n")
	}

	return ""
}
