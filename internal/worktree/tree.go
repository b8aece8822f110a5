package worktree

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// skipDirs are never listed or searched.
var skipDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"vendor":        true,
	"venv":          true,
	".venv":         true,
	"env":           true,
	"__pycache__":   true,
	".pytest_cache": true,
	".ruff_cache":   true,
	".mypy_cache":   true,
	".tox":          true,
	"dist":          true,
	"build":         true,
	"target":        true,
	".next":         true,
	".idea":         true,
	".vscode":       true,
}

// Tree is file access to a checked-out working tree. Paths are slash
// separated and relative to Root.
type Tree struct {
	Root string
}

// Open returns a Tree for root.
func Open(root string) *Tree {
	return &Tree{Root: root}
}

// Clean normalizes a repository-relative path and rejects anything that
// would leave the tree.
func Clean(rel string) (string, error) {
	p := strings.TrimSpace(filepath.ToSlash(rel))
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q is absolute", rel)
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q escapes the repository", rel)
	}
	return p, nil
}

// Abs resolves rel inside the tree.
func (t *Tree) Abs(rel string) (string, error) {
	p, err := Clean(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(t.Root, filepath.FromSlash(p)), nil
}

// Exists reports whether rel names a regular file in the tree.
func (t *Tree) Exists(rel string) bool {
	abs, err := t.Abs(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the content of rel.
func (t *Tree) Read(rel string) (string, error) {
	abs, err := t.Abs(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// Write replaces rel with content exactly, creating parent directories.
// An existing file keeps its permission bits.
func (t *Tree) Write(rel, content string) error {
	abs, err := t.Abs(rel)
	if err != nil {
		return err
	}
	info, statErr := os.Stat(abs)
	if err := pipeline.WriteAtomic(abs, []byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if statErr == nil && info.Mode().Perm() != 0o644 {
		if err := os.Chmod(abs, info.Mode().Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", rel, err)
		}
	}
	return nil
}

// Apply writes every entry of the change set. It stops at the first failure.
func (t *Tree) Apply(changes *pipeline.CodeChangeSet) error {
	for _, p := range changes.Paths() {
		if err := t.Write(p, changes.Files[p]); err != nil {
			return err
		}
	}
	return nil
}

// ListFiles returns every regular file under the tree, sorted, skipping
// VCS metadata, dependency and cache directories.
func (t *Tree) ListFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(t.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != t.Root && (skipDirs[d.Name()] || strings.HasSuffix(d.Name(), ".egg-info")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(t.Root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.Root, err)
	}
	sort.Strings(files)
	return files, nil
}
