package benchmark

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instance is one benchmark task: an issue against a repository pinned to
// a commit.
type Instance struct {
	InstanceID       string `json:"instance_id" yaml:"instance_id"`
	Repo             string `json:"repo" yaml:"repo"`
	ProblemStatement string `json:"problem_statement" yaml:"problem_statement"`
	BaseCommit       string `json:"base_commit" yaml:"base_commit"`
}

// Missing names the first required field that is empty, or "".
func (in Instance) Missing() string {
	switch {
	case strings.TrimSpace(in.InstanceID) == "":
		return "instance_id"
	case strings.TrimSpace(in.Repo) == "":
		return "repo"
	case strings.TrimSpace(in.ProblemStatement) == "":
		return "problem_statement"
	case strings.TrimSpace(in.BaseCommit) == "":
		return "base_commit"
	}
	return ""
}

// LoadDataset reads instances from a YAML list (.yaml, .yml), a JSON
// array, or JSON lines.
func LoadDataset(path string) ([]Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	var out []Instance
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case ext == ".yaml" || ext == ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing dataset YAML: %w", err)
		}
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")):
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("parsing dataset JSON: %w", err)
		}
	default:
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		line := 0
		for sc.Scan() {
			line++
			text := strings.TrimSpace(sc.Text())
			if text == "" {
				continue
			}
			var in Instance
			if err := json.Unmarshal([]byte(text), &in); err != nil {
				return nil, fmt.Errorf("parsing dataset line %d: %w", line, err)
			}
			out = append(out, in)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading dataset: %w", err)
		}
	}
	return out, nil
}

// RepoURL turns an "owner/name" slug into a GitHub clone URL. Full URLs
// and local paths pass through.
func RepoURL(repo string) string {
	repo = strings.TrimSpace(repo)
	if strings.Contains(repo, "://") || strings.HasPrefix(repo, "git@") || filepath.IsAbs(repo) || strings.HasPrefix(repo, ".") {
		return repo
	}
	return "https://github.com/" + strings.TrimSuffix(repo, ".git") + ".git"
}
