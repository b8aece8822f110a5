package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// gitRepo creates a repository with one commit holding a.py.
func gitRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.py"), []byte("base\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	git := &ExecGit{}
	for _, args := range [][]string{
		{"init", "--quiet"},
		{"add", "a.py"},
		{"-c", "user.name=factory", "-c", "user.email=factory@localhost", "commit", "--quiet", "-m", "init"},
	} {
		if _, err := git.Run(ctx, dir, args...); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestCheckout_ReusedCloneStartsClean(t *testing.T) {
	origin := gitRepo(t)
	git := &ExecGit{}
	mgr := NewManager(git, t.TempDir())

	first, err := mgr.Checkout(ctx, CheckoutOpts{Repo: origin, Issue: 1, Title: "first"})
	if err != nil {
		t.Fatalf("first checkout: %v", err)
	}
	// Leave a commit, a dirty tracked file and an untracked file behind.
	if err := os.WriteFile(filepath.Join(first.Path, "a.py"), []byte("run1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Commit(ctx, first.Path, CommitOpts{Message: "run1", Paths: []string{"a.py"}, AuthorName: "factory", AuthorEmail: "factory@localhost"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := os.WriteFile(filepath.Join(first.Path, "a.py"), []byte("dirty\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(first.Path, "b.py"), []byte("stray\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	second, err := mgr.Checkout(ctx, CheckoutOpts{Repo: origin, Issue: 2, Title: "second"})
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	if !second.Reused || second.Path != first.Path {
		t.Fatalf("expected reuse of %s, got %+v", first.Path, second)
	}
	if got := readFile(t, filepath.Join(second.Path, "a.py")); got != "base\n" {
		t.Errorf("a.py = %q, want the origin content", got)
	}
	if _, err := os.Stat(filepath.Join(second.Path, "b.py")); !os.IsNotExist(err) {
		t.Error("untracked file from the earlier run survived")
	}
	want, err := git.Run(ctx, origin, "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	head, err := git.Run(ctx, second.Path, "rev-parse", "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if head != want {
		t.Errorf("HEAD = %s, want origin HEAD %s", head, want)
	}
}

func TestCheckout_RunIDsGetSeparateClones(t *testing.T) {
	origin := gitRepo(t)
	mgr := NewManager(&ExecGit{}, t.TempDir())

	a, err := mgr.Checkout(ctx, CheckoutOpts{Repo: origin, RunID: "run-a", Issue: 1})
	if err != nil {
		t.Fatalf("checkout a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(a.Path, "a.py"), []byte("run-a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, err := mgr.Checkout(ctx, CheckoutOpts{Repo: origin, RunID: "run-b", Issue: 2})
	if err != nil {
		t.Fatalf("checkout b: %v", err)
	}
	if b.Reused || b.Path == a.Path {
		t.Fatalf("expected a fresh clone, got %+v", b)
	}
	if got := readFile(t, filepath.Join(b.Path, "a.py")); got != "base\n" {
		t.Errorf("a.py = %q, want the origin content", got)
	}
}
