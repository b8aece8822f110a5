// Package finalize writes the accepted change set, commits it and
// optionally pushes the branch and opens a pull request.
package finalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/github"
	"github.com/lucasnoah/issuefactory/internal/pipeline"
	"github.com/lucasnoah/issuefactory/internal/worktree"
)

// Committer stages and commits paths in a checkout.
type Committer interface {
	Commit(ctx context.Context, dir string, opts worktree.CommitOpts) (string, error)
}

// Host pushes branches and opens pull requests.
type Host interface {
	PushBranch(ctx context.Context, dir, branch string) error
	CreatePR(ctx context.Context, opts github.PRCreateOpts) (*github.PRCreateResult, error)
}

// Config controls how far publishing goes.
type Config struct {
	// Commit disables everything after writing the tree when false.
	Commit      bool
	Push        bool
	PR          bool
	Base        string
	AuthorName  string
	AuthorEmail string
}

// Finalizer publishes a change set.
type Finalizer struct {
	git    Committer
	host   Host
	cfg    Config
	logger *slog.Logger
}

// New creates a Finalizer. host may be nil when Push and PR are off.
func New(git Committer, host Host, cfg Config, logger *slog.Logger) *Finalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{git: git, host: host, cfg: cfg, logger: logger}
}

// Input is what Finalize needs from the run.
type Input struct {
	Issue   *pipeline.IssueRecord
	Plan    *pipeline.Plan
	Changes *pipeline.CodeChangeSet
	Tree    *worktree.Tree
	Branch  string
}

// Finalize writes every change to the tree and publishes it. Failures are
// *pipeline.PublishError; the tree keeps what was written.
func (f *Finalizer) Finalize(ctx context.Context, in Input) (*pipeline.PublishInfo, error) {
	info := &pipeline.PublishInfo{
		Branch:  in.Branch,
		Message: CommitMessage(in.Issue, in.Plan),
		Files:   in.Changes.Paths(),
	}
	if err := in.Tree.Apply(in.Changes); err != nil {
		return info, &pipeline.PublishError{Kind: pipeline.PublishUnknown, Op: "write", Err: err}
	}
	f.logger.Info("change set written", "files", info.Files)

	if !f.cfg.Commit {
		info.Skipped = true
		f.logger.Info("publishing disabled, leaving changes uncommitted")
		return info, nil
	}

	sha, err := f.git.Commit(ctx, in.Tree.Root, worktree.CommitOpts{
		Message:     info.Message,
		Paths:       info.Files,
		AuthorName:  f.cfg.AuthorName,
		AuthorEmail: f.cfg.AuthorEmail,
	})
	if err != nil {
		if errors.Is(err, worktree.ErrNothingToCommit) {
			return info, &pipeline.PublishError{Kind: pipeline.PublishUnknown, Op: "commit", Err: err}
		}
		return info, publishError("commit", github.Classify("commit", err))
	}
	info.CommitSHA = sha
	f.logger.Info("committed", "sha", sha, "branch", in.Branch, "message", firstLine(info.Message))

	if !f.cfg.Push && !f.cfg.PR {
		return info, nil
	}
	if f.host == nil {
		return info, &pipeline.PublishError{Kind: pipeline.PublishUnknown, Op: "push", Err: fmt.Errorf("no host configured")}
	}
	if err := f.host.PushBranch(ctx, in.Tree.Root, in.Branch); err != nil {
		return info, publishError("push", err)
	}
	f.logger.Info("branch pushed", "branch", in.Branch)

	if !f.cfg.PR {
		return info, nil
	}
	pr, err := f.host.CreatePR(ctx, github.PRCreateOpts{
		Title:  firstLine(info.Message),
		Body:   PRBody(in.Issue, in.Plan, in.Changes),
		Branch: in.Branch,
		Base:   f.cfg.Base,
	})
	if err != nil {
		return info, publishError("create PR", err)
	}
	info.PRURL = pr.URL
	f.logger.Info("pull request ready", "url", pr.URL)
	return info, nil
}

// PRBody describes the change for reviewers.
func PRBody(is *pipeline.IssueRecord, plan *pipeline.Plan, changes *pipeline.CodeChangeSet) string {
	var sb strings.Builder
	if is.Number > 0 {
		fmt.Fprintf(&sb, "Closes #%d\n\n", is.Number)
	}
	if plan != nil && plan.Rationale != "" {
		sb.WriteString("## Plan\n")
		sb.WriteString(plan.Rationale)
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Files\n")
	for _, p := range changes.Paths() {
		marker := "modified"
		if changes.Created[p] {
			marker = "added"
		}
		fmt.Fprintf(&sb, "- `%s` (%s)\n", p, marker)
	}
	return sb.String()
}

func publishError(op string, err error) *pipeline.PublishError {
	kind := pipeline.PublishUnknown
	switch github.KindOf(err) {
	case github.KindNotFound:
		kind = pipeline.PublishNotFound
	case github.KindAuth:
		kind = pipeline.PublishAuth
	case github.KindConflict:
		kind = pipeline.PublishConflict
	case github.KindNetwork:
		kind = pipeline.PublishNetwork
	}
	return &pipeline.PublishError{Kind: kind, Op: op, Err: err}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
