package probe

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// Commands are the four project commands. Empty means unknown.
type Commands struct {
	Install string `yaml:"install,omitempty" mapstructure:"install" json:"install,omitempty"`
	Lint    string `yaml:"lint,omitempty" mapstructure:"lint" json:"lint,omitempty"`
	Test    string `yaml:"test,omitempty" mapstructure:"test" json:"test,omitempty"`
	Run     string `yaml:"run,omitempty" mapstructure:"run" json:"run,omitempty"`
}

// detection is what one manifest contributes.
type detection struct {
	language    string
	framework   string
	description string
	cmds        Commands
}

// manifest maps a well-known file to a detector. Detectors return false
// when the file does not apply.
type manifest struct {
	file   string
	detect func(root string, data []byte) (detection, bool)
}

// manifests is the fixed priority list. The first recognized manifest sets
// the language; later manifests of the same language (and Makefiles) only
// fill commands that are still unset.
var manifests = []manifest{
	{"go.mod", detectGoMod},
	{"package.json", detectPackageJSON},
	{"pyproject.toml", detectPyproject},
	{"requirements.txt", detectRequirements},
	{"setup.py", detectSetupPy},
	{"setup.cfg", detectSetupCfg},
	{"Pipfile", detectPipfile},
	{"Cargo.toml", detectCargo},
	{"pom.xml", detectMaven},
	{"build.gradle", detectGradle},
	{"build.gradle.kts", detectGradle},
	{"Gemfile", detectGemfile},
	{"Makefile", detectMakefile},
}

// Prober scans a checkout for manifests. It never fails.
type Prober struct {
	overrides Commands
	logger    *slog.Logger
}

// New creates a Prober. Non-empty overrides replace probed commands.
func New(overrides Commands, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{overrides: overrides, logger: logger}
}

// Probe inspects root and returns the project context.
func (p *Prober) Probe(root, repoLink string) *pipeline.ProjectContext {
	pc := &pipeline.ProjectContext{
		Root:     root,
		RepoLink: repoLink,
		Signals:  map[string]string{},
	}

	for _, m := range manifests {
		data, err := os.ReadFile(filepath.Join(root, m.file))
		if err != nil {
			continue
		}
		d, ok := m.detect(root, data)
		if !ok {
			continue
		}
		pc.Manifests = append(pc.Manifests, m.file)
		if pc.Language == "" {
			pc.Language = d.language
		}
		if d.language != "" && d.language != pc.Language {
			continue
		}
		if pc.Framework == "" {
			pc.Framework = d.framework
		}
		if pc.Description == "" {
			pc.Description = d.description
		}
		fill(pc, d.cmds, m.file)
	}

	if pc.Language == "" || pc.TestCommand == "" {
		if f := findPythonTest(root); f != "" && (pc.Language == "" || pc.Language == "python") {
			pc.Language = "python"
			fill(pc, pythonCommands(root, ""), "pattern:"+f)
		}
	}

	if pc.Description == "" {
		pc.Description = readmeDescription(root)
	}

	applyOverrides(pc, p.overrides)

	p.logger.Info("project probed",
		"root", root,
		"language", pc.Language,
		"framework", pc.Framework,
		"manifests", pc.Manifests,
		"install", pc.InstallCommand,
		"lint", pc.LintCommand,
		"test", pc.TestCommand)
	if pc.LintCommand == "" {
		p.logger.Warn("no lint command discovered; lint will be skipped")
	}
	if pc.TestCommand == "" {
		p.logger.Warn("no test command discovered; tests will be skipped")
	}
	return pc
}

func fill(pc *pipeline.ProjectContext, c Commands, source string) {
	set := func(dst *string, key, v string) {
		if *dst == "" && v != "" {
			*dst = v
			pc.Signals[key] = source
		}
	}
	set(&pc.InstallCommand, "install", c.Install)
	set(&pc.LintCommand, "lint", c.Lint)
	set(&pc.TestCommand, "test", c.Test)
	set(&pc.RunCommand, "run", c.Run)
}

func applyOverrides(pc *pipeline.ProjectContext, c Commands) {
	over := func(dst *string, key, v string) {
		if v != "" {
			*dst = v
			pc.Signals[key] = "config"
		}
	}
	over(&pc.InstallCommand, "install", c.Install)
	over(&pc.LintCommand, "lint", c.Lint)
	over(&pc.TestCommand, "test", c.Test)
	over(&pc.RunCommand, "run", c.Run)
}

// findPythonTest returns the first test_*.py at the root or under tests/.
func findPythonTest(root string) string {
	for _, pattern := range []string{"test_*.py", "tests/test_*.py", "test/test_*.py"} {
		matches, _ := filepath.Glob(filepath.Join(root, filepath.FromSlash(pattern)))
		if len(matches) > 0 {
			sort.Strings(matches)
			rel, err := filepath.Rel(root, matches[0])
			if err != nil {
				return ""
			}
			return filepath.ToSlash(rel)
		}
	}
	return ""
}

func exists(root, name string) bool {
	_, err := os.Stat(filepath.Join(root, name))
	return err == nil
}

// readmeDescription returns the first prose paragraph of the README.
func readmeDescription(root string) string {
	for _, name := range []string{"README.md", "README.rst", "README.txt", "README"} {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		var para []string
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			skip := strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[![") ||
				strings.HasPrefix(line, "![") || strings.HasPrefix(line, "===") || strings.HasPrefix(line, "---")
			if line == "" || skip {
				if len(para) > 0 {
					break
				}
				continue
			}
			para = append(para, line)
		}
		desc := strings.Join(para, " ")
		if r := []rune(desc); len(r) > 300 {
			desc = string(r[:300])
		}
		return desc
	}
	return ""
}
