package github

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type mockCmd struct {
	calls   [][]string
	results []mockResult
	idx     int
}

type mockResult struct {
	output string
	err    error
}

func (m *mockCmd) Run(ctx context.Context, args ...string) (string, error) {
	m.calls = append(m.calls, args)
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

type mockGitRunner struct {
	calls   []gitCall
	results []mockResult
	idx     int
}

type gitCall struct {
	Dir  string
	Args []string
}

func (m *mockGitRunner) RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	m.calls = append(m.calls, gitCall{Dir: dir, Args: args})
	if m.idx >= len(m.results) {
		return "", nil
	}
	r := m.results[m.idx]
	m.idx++
	return r.output, r.err
}

var ctx = context.Background()

func TestGetIssue(t *testing.T) {
	issueJSON := `{
		"number": 42,
		"title": "Discount applied twice",
		"body": "apply_discount adds instead of subtracting.\n\n## Acceptance Criteria\n- [ ] 20% off 100 is 80",
		"state": "OPEN",
		"labels": [{"name": "bug"}]
	}`

	mock := &mockCmd{
		results: []mockResult{{output: issueJSON}},
	}

	client := NewClient(mock).ForRepo("https://github.com/acme/shop.git")
	issue, err := client.GetIssue(ctx, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if issue.Number != 42 {
		t.Errorf("expected number 42, got %d", issue.Number)
	}
	if issue.State != "OPEN" {
		t.Errorf("expected OPEN, got %q", issue.State)
	}
	if names := issue.LabelNames(); len(names) != 1 || names[0] != "bug" {
		t.Errorf("expected bug label, got %v", names)
	}
	if !strings.Contains(issue.AcceptanceCriteria, "20% off 100 is 80") {
		t.Errorf("expected AC to be parsed, got %q", issue.AcceptanceCriteria)
	}
	args := strings.Join(mock.calls[0], " ")
	if !strings.Contains(args, "--repo acme/shop") {
		t.Errorf("expected --repo acme/shop, got %s", args)
	}
}

func TestGetIssue_InvalidNumber(t *testing.T) {
	mock := &mockCmd{}
	client := NewClient(mock)

	if _, err := client.GetIssue(ctx, 0); err == nil {
		t.Fatal("expected error for issue 0")
	}
	if _, err := client.GetIssue(ctx, -1); err == nil {
		t.Fatal("expected error for negative issue")
	}
	if len(mock.calls) != 0 {
		t.Errorf("expected 0 calls for invalid issue numbers, got %d", len(mock.calls))
	}
}

func TestGetIssue_NotFoundClassified(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{err: fmt.Errorf("gh issue view 9999: GraphQL: Could not resolve to an issue or pull request with the number of 9999.")}},
	}
	_, err := NewClient(mock).GetIssue(ctx, 9999)
	if KindOf(err) != KindNotFound {
		t.Errorf("expected not_found, got %s (%v)", KindOf(err), err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"remote: Repository not found.", KindNotFound},
		{"To get started with GitHub CLI, please run:  gh auth login", KindAuth},
		{"! [rejected] main -> main (fetch first)", KindConflict},
		{"ssh: Could not resolve host: github.com", KindNetwork},
		{"something odd", KindUnknown},
	}
	for _, tc := range cases {
		err := Classify("op", errors.New(tc.msg))
		if got := KindOf(err); got != tc.want {
			t.Errorf("Classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
	if Classify("op", nil) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestRepoSlug(t *testing.T) {
	cases := map[string]string{
		"https://github.com/SDT-DeveloperTwin/SDT-Testing-Project.git": "SDT-DeveloperTwin/SDT-Testing-Project",
		"git@github.com:acme/shop.git":                                 "acme/shop",
		"https://github.com/acme/shop":                                 "acme/shop",
		"/local/path/repo":                                             "/local/path/repo",
	}
	for in, want := range cases {
		if got := RepoSlug(in); got != want {
			t.Errorf("RepoSlug(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCreatePR(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{
			{output: "[]"},
			{output: "Creating pull request...\nhttps://github.com/org/repo/pull/1"},
		},
	}

	client := NewClient(mock)
	result, err := client.CreatePR(ctx, PRCreateOpts{
		Title:  "fix(price_utils): subtract discount",
		Body:   "Fixes #42",
		Branch: "factory/issue-42",
		Base:   "main",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.URL != "https://github.com/org/repo/pull/1" {
		t.Errorf("expected URL, got %q", result.URL)
	}

	if len(mock.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(mock.calls))
	}
	args := strings.Join(mock.calls[1], " ")
	if !strings.Contains(args, "--title") || !strings.Contains(args, "--base main") {
		t.Errorf("unexpected args: %s", args)
	}
}

func TestCreatePR_ReusesExisting(t *testing.T) {
	mock := &mockCmd{
		results: []mockResult{{output: `[{"url":"https://github.com/org/repo/pull/7"}]`}},
	}
	result, err := NewClient(mock).CreatePR(ctx, PRCreateOpts{Branch: "factory/issue-42"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.URL != "https://github.com/org/repo/pull/7" {
		t.Errorf("expected existing PR, got %q", result.URL)
	}
	if len(mock.calls) != 1 {
		t.Errorf("expected no create call, got %d calls", len(mock.calls))
	}
}

func TestPushBranch(t *testing.T) {
	gitMock := &mockGitRunner{
		results: []mockResult{{output: ""}},
	}

	client := NewClientWithGit(&mockCmd{}, gitMock)
	if err := client.PushBranch(ctx, "/tmp/worktree", "factory/issue-42"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gitMock.calls) != 1 {
		t.Fatalf("expected 1 git call, got %d", len(gitMock.calls))
	}
	call := gitMock.calls[0]
	if call.Dir != "/tmp/worktree" {
		t.Errorf("expected dir /tmp/worktree, got %q", call.Dir)
	}
	expectedArgs := []string{"push", "-u", "origin", "factory/issue-42"}
	if strings.Join(call.Args, " ") != strings.Join(expectedArgs, " ") {
		t.Errorf("expected args %v, got %v", expectedArgs, call.Args)
	}
}

func TestPushBranch_AuthFailure(t *testing.T) {
	gitMock := &mockGitRunner{
		results: []mockResult{{err: errors.New("fatal: could not read Username for 'https://github.com'")}},
	}
	err := NewClientWithGit(&mockCmd{}, gitMock).PushBranch(ctx, "/tmp", "factory/issue-42")
	if KindOf(err) != KindAuth {
		t.Errorf("expected auth, got %s", KindOf(err))
	}
}

func TestPushBranch_RejectsDashPrefix(t *testing.T) {
	client := NewClientWithGit(&mockCmd{}, &mockGitRunner{})
	err := client.PushBranch(ctx, "/tmp", "--delete")
	if err == nil {
		t.Fatal("expected error for branch starting with -")
	}
	if !strings.Contains(err.Error(), "must not start with -") {
		t.Errorf("expected rejection message, got %q", err.Error())
	}
}

func TestPushBranch_NoGitRunner(t *testing.T) {
	client := NewClient(&mockCmd{}) // mockCmd doesn't implement GitRunner
	err := client.PushBranch(ctx, "/tmp", "factory/issue-42")
	if err == nil {
		t.Fatal("expected error when git runner not configured")
	}
	if !strings.Contains(err.Error(), "git runner not configured") {
		t.Errorf("expected 'git runner not configured', got %q", err.Error())
	}
}

func TestExtractAcceptanceCriteria_Header(t *testing.T) {
	body := `## Overview
Some intro.

## Acceptance Criteria
- [ ] Login works
- [ ] Logout works

## Dependencies
Some deps.`

	ac := extractAcceptanceCriteria(body)
	if !strings.Contains(ac, "Logout works") {
		t.Errorf("expected Logout works in AC, got %q", ac)
	}
	if strings.Contains(ac, "Dependencies") {
		t.Errorf("AC should not include Dependencies section, got %q", ac)
	}
}

func TestExtractAcceptanceCriteria_CheckboxFallback(t *testing.T) {
	body := `Do these things:
  - [ ] First thing
  - [X] Second thing`

	ac := extractAcceptanceCriteria(body)
	if !strings.Contains(ac, "First thing") || !strings.Contains(ac, "Second thing") {
		t.Errorf("expected both checkboxes in AC, got %q", ac)
	}
}

func TestExtractAcceptanceCriteria_NoAC(t *testing.T) {
	if ac := extractAcceptanceCriteria("Just a plain description."); ac != "" {
		t.Errorf("expected empty AC, got %q", ac)
	}
}
