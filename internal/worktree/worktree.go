package worktree

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

// GitRunner provides git commands. Interface for testing.
type GitRunner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecGit implements GitRunner using exec.CommandContext.
type ExecGit struct{}

func (g *ExecGit) Run(ctx context.Context, dir string, args ...string) (string, error) {
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

// ErrNothingToCommit is returned by Commit when the staged tree matches HEAD.
var ErrNothingToCommit = errors.New("nothing to commit")

// Manager clones target repositories into run-scoped directories and
// handles branch and commit operations on them.
type Manager struct {
	git     GitRunner
	baseDir string // parent directory for checkouts
}

// NewManager creates a checkout manager rooted at baseDir.
func NewManager(git GitRunner, baseDir string) *Manager {
	return &Manager{git: git, baseDir: baseDir}
}

// CheckoutOpts holds options for preparing a working tree.
type CheckoutOpts struct {
	Repo    string // clone URL or local path
	Dest    string // overrides the default destination
	RunID   string // when set, the default destination is <baseDir>/<RunID>/<repo name>
	BaseRef string // commit or branch to start from; empty keeps the default branch
	Issue   int
	Title   string
	Branch  string // override auto-generated branch name
}

// CheckoutResult holds the result of a checkout.
type CheckoutResult struct {
	Path   string
	Branch string
	Reused bool
}

// Checkout clones opts.Repo (or reuses an existing clone at the
// destination), optionally moves to BaseRef and switches to a work branch.
//
// A reused clone of opts.Repo is fetched and reset first, so the branch
// starts from the remote default branch (or BaseRef) with no leftovers from
// an earlier run. A Dest used in place without a Repo is left as it is.
func (m *Manager) Checkout(ctx context.Context, opts CheckoutOpts) (*CheckoutResult, error) {
	// Without a link, Dest must already be a checkout; it is used in place.
	if strings.TrimSpace(opts.Repo) == "" && (opts.Dest == "" || !isGitDir(opts.Dest)) {
		return nil, fmt.Errorf("checkout: repository link is required")
	}
	if strings.HasPrefix(opts.Repo, "-") {
		return nil, fmt.Errorf("checkout: invalid repository %q", opts.Repo)
	}

	dest := opts.Dest
	if dest == "" {
		dest = filepath.Join(m.baseDir, opts.RunID, RepoName(opts.Repo))
	}

	res := &CheckoutResult{Path: dest}
	startPoint := ""
	if isGitDir(dest) {
		res.Reused = true
		if opts.Repo != "" {
			if err := m.refresh(ctx, dest); err != nil {
				return nil, err
			}
			startPoint = "origin/HEAD"
		}
	} else {
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, fmt.Errorf("checkout: %w", err)
		}
		if _, err := m.git.Run(ctx, "", "clone", opts.Repo, dest); err != nil {
			return nil, fmt.Errorf("clone %s: %w", opts.Repo, err)
		}
	}

	if opts.BaseRef != "" {
		if _, err := m.git.Run(ctx, dest, "checkout", "--quiet", opts.BaseRef); err != nil {
			return nil, fmt.Errorf("checkout %s: %w", opts.BaseRef, err)
		}
		startPoint = ""
	}

	branch := opts.Branch
	if branch == "" {
		branch = BranchName(opts.Issue, opts.Title)
	} else {
		branch = sanitizeBranch(branch)
	}
	// -B resets a branch left over from an earlier run on a reused clone.
	args := []string{"checkout", "-B", branch}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	if _, err := m.git.Run(ctx, dest, args...); err != nil {
		return nil, fmt.Errorf("create branch %s: %w", branch, err)
	}
	res.Branch = branch
	return res, nil
}

// refresh brings a reused clone up to date with its remote and discards
// tracked edits and untracked files left in it.
func (m *Manager) refresh(ctx context.Context, dir string) error {
	steps := [][]string{
		{"fetch", "--quiet", "origin"},
		{"reset", "--hard", "--quiet"},
		{"clean", "-fdq"},
	}
	for _, args := range steps {
		if _, err := m.git.Run(ctx, dir, args...); err != nil {
			return fmt.Errorf("refresh %s: %w", dir, err)
		}
	}
	return nil
}

// CommitOpts holds options for Commit.
type CommitOpts struct {
	Message     string
	Paths       []string
	AuthorName  string
	AuthorEmail string
}

// Commit stages opts.Paths in dir, commits them and returns the new HEAD sha.
func (m *Manager) Commit(ctx context.Context, dir string, opts CommitOpts) (string, error) {
	if len(opts.Paths) == 0 {
		return "", ErrNothingToCommit
	}
	add := append([]string{"add", "--"}, opts.Paths...)
	if _, err := m.git.Run(ctx, dir, add...); err != nil {
		return "", fmt.Errorf("stage changes: %w", err)
	}

	var args []string
	if opts.AuthorName != "" {
		args = append(args, "-c", "user.name="+opts.AuthorName)
	}
	if opts.AuthorEmail != "" {
		args = append(args, "-c", "user.email="+opts.AuthorEmail)
	}
	args = append(args, "commit", "-m", opts.Message)
	if out, err := m.git.Run(ctx, dir, args...); err != nil {
		if strings.Contains(out, "nothing to commit") || strings.Contains(err.Error(), "nothing to commit") {
			return "", ErrNothingToCommit
		}
		return "", fmt.Errorf("commit: %w", err)
	}

	sha, err := m.git.Run(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return sha, nil
}

func isGitDir(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// RepoName derives a directory name from a clone URL or path.
func RepoName(repo string) string {
	s := strings.TrimRight(strings.TrimSpace(repo), "/")
	s = strings.TrimSuffix(s, ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	if s == "" || s == "." || s == ".." {
		return "repo"
	}
	return s
}

// BranchName builds the work branch for an issue, e.g.
// factory/issue-42-discount-applied-twice.
func BranchName(issue int, title string) string {
	slug := strings.ToLower(nonAlphaNum.ReplaceAllString(title, "-"))
	slug = strings.ReplaceAll(strings.Trim(slug, "-/_"), "/", "-")
	if len(slug) > 40 {
		slug = strings.TrimRight(slug[:40], "-_")
	}
	name := "factory/"
	switch {
	case issue > 0 && slug != "":
		name += fmt.Sprintf("issue-%d-%s", issue, slug)
	case issue > 0:
		name += fmt.Sprintf("issue-%d", issue)
	case slug != "":
		name += slug
	default:
		name += "change"
	}
	return sanitizeBranch(name)
}

var nonAlphaNum = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

// sanitizeBranch cleans up a branch name.
func sanitizeBranch(name string) string {
	s := nonAlphaNum.ReplaceAllString(name, "-")
	s = strings.Trim(s, "-")
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
