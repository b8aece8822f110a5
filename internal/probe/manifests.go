package probe

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

func detectGoMod(root string, data []byte) (detection, bool) {
	d := detection{
		language: "go",
		cmds: Commands{
			Install: "go mod download",
			Lint:    "go vet ./...",
			Test:    "go test ./...",
			Run:     "go run .",
		},
	}
	switch {
	case bytes.Contains(data, []byte("github.com/gin-gonic/gin")):
		d.framework = "gin"
	case bytes.Contains(data, []byte("github.com/labstack/echo")):
		d.framework = "echo"
	case bytes.Contains(data, []byte("github.com/go-chi/chi")):
		d.framework = "chi"
	case bytes.Contains(data, []byte("github.com/spf13/cobra")):
		d.framework = "cobra"
	}
	return d, true
}

type packageJSON struct {
	Description     string            `json:"description"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// npmDefaultTest is what `npm init` writes into scripts.test.
const npmDefaultTest = `echo "Error: no test specified" && exit 1`

func detectPackageJSON(root string, data []byte) (detection, bool) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return detection{}, false
	}
	has := func(name string) bool {
		_, a := pkg.Dependencies[name]
		_, b := pkg.DevDependencies[name]
		return a || b
	}

	d := detection{language: "javascript", description: pkg.Description}
	if has("typescript") || exists(root, "tsconfig.json") {
		d.language = "typescript"
	}
	for _, fw := range []string{"next", "react", "vue", "svelte", "express", "fastify"} {
		if has(fw) {
			d.framework = fw
			break
		}
	}

	runner := "npm"
	switch {
	case exists(root, "pnpm-lock.yaml"):
		runner = "pnpm"
		d.cmds.Install = "pnpm install"
	case exists(root, "yarn.lock"):
		runner = "yarn"
		d.cmds.Install = "yarn install"
	case exists(root, "package-lock.json"):
		d.cmds.Install = "npm ci"
	default:
		d.cmds.Install = "npm install"
	}
	script := func(name string) string {
		if runner == "npm" && name != "test" && name != "start" {
			return "npm run " + name
		}
		return runner + " " + name
	}
	bin := map[string]string{"npm": "npx", "yarn": "yarn", "pnpm": "pnpm exec"}[runner]

	if _, ok := pkg.Scripts["lint"]; ok {
		d.cmds.Lint = script("lint")
	} else if has("eslint") {
		d.cmds.Lint = bin + " eslint --format json ."
	}
	if t, ok := pkg.Scripts["test"]; ok && strings.TrimSpace(t) != npmDefaultTest {
		d.cmds.Test = script("test")
		if cmd := jsonReporter(bin, t); cmd != "" {
			d.cmds.Test = cmd
		}
	}
	if _, ok := pkg.Scripts["start"]; ok {
		d.cmds.Run = script("start")
	} else if _, ok := pkg.Scripts["dev"]; ok {
		d.cmds.Run = script("dev")
	}
	return d, true
}

// jsonReporter rewrites a test script that is a bare vitest or jest call
// into the same call with a JSON reporter. Other scripts yield "".
func jsonReporter(bin, script string) string {
	f := strings.Fields(script)
	if len(f) == 0 || strings.ContainsAny(script, "&|;") {
		return ""
	}
	switch f[0] {
	case "vitest":
		args := f[1:]
		if len(args) > 0 && (args[0] == "run" || args[0] == "watch") {
			args = args[1:]
		}
		return strings.Join(append([]string{bin, "vitest", "run"}, append(args, "--reporter=json")...), " ")
	case "jest":
		return strings.Join(append([]string{bin}, append(f, "--json")...), " ")
	}
	return ""
}

type pyproject struct {
	Project struct {
		Description  string   `toml:"description"`
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry *struct {
			Description  string         `toml:"description"`
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
		Ruff   map[string]any `toml:"ruff"`
		Flake8 map[string]any `toml:"flake8"`
		Pytest map[string]any `toml:"pytest"`
	} `toml:"tool"`
}

func detectPyproject(root string, data []byte) (detection, bool) {
	var py pyproject
	if err := toml.Unmarshal(data, &py); err != nil {
		// Still a Python project even if we cannot read the details.
		return detection{language: "python", cmds: pythonCommands(root, "pip install -e .")}, true
	}

	d := detection{language: "python", description: py.Project.Description}
	deps := strings.ToLower(strings.Join(py.Project.Dependencies, " "))
	install := "pip install -e ."
	if py.Tool.Poetry != nil {
		install = "poetry install"
		if d.description == "" {
			d.description = py.Tool.Poetry.Description
		}
		for name := range py.Tool.Poetry.Dependencies {
			deps += " " + strings.ToLower(name)
		}
	}
	d.framework = pythonFramework(deps)
	d.cmds = pythonCommands(root, install)
	if py.Tool.Ruff == nil && py.Tool.Flake8 != nil {
		d.cmds.Lint = "flake8 ."
	}
	return d, true
}

func detectRequirements(root string, data []byte) (detection, bool) {
	return detection{
		language:  "python",
		framework: pythonFramework(strings.ToLower(string(data))),
		cmds:      pythonCommands(root, "pip install -r requirements.txt"),
	}, true
}

func detectSetupPy(root string, data []byte) (detection, bool) {
	return detection{language: "python", cmds: pythonCommands(root, "pip install -e .")}, true
}

func detectSetupCfg(root string, data []byte) (detection, bool) {
	d := detection{language: "python", cmds: pythonCommands(root, "pip install -e .")}
	if bytes.Contains(data, []byte("[flake8]")) && !exists(root, "ruff.toml") {
		d.cmds.Lint = "flake8 ."
	}
	return d, true
}

func detectPipfile(root string, data []byte) (detection, bool) {
	return detection{
		language:  "python",
		framework: pythonFramework(strings.ToLower(string(data))),
		cmds:      pythonCommands(root, "pipenv install --dev"),
	}, true
}

// pythonCommands is the Python row of the lookup table.
func pythonCommands(root, install string) Commands {
	c := Commands{Install: install, Lint: "ruff check .", Test: "python -m pytest -q"}
	switch {
	case exists(root, "manage.py"):
		c.Run = "python manage.py runserver"
	case exists(root, "main.py"):
		c.Run = "python main.py"
	case exists(root, "app.py"):
		c.Run = "python app.py"
	}
	return c
}

func pythonFramework(deps string) string {
	for _, fw := range []string{"django", "fastapi", "flask"} {
		if strings.Contains(deps, fw) {
			return fw
		}
	}
	return ""
}

type cargoManifest struct {
	Package struct {
		Description string `toml:"description"`
	} `toml:"package"`
	Dependencies map[string]any `toml:"dependencies"`
}

func detectCargo(root string, data []byte) (detection, bool) {
	d := detection{
		language: "rust",
		cmds: Commands{
			Install: "cargo fetch",
			Lint:    "cargo clippy -- -D warnings",
			Test:    "cargo test",
			Run:     "cargo run",
		},
	}
	var cm cargoManifest
	if err := toml.Unmarshal(data, &cm); err == nil {
		d.description = cm.Package.Description
		for _, fw := range []string{"actix-web", "axum", "rocket"} {
			if _, ok := cm.Dependencies[fw]; ok {
				d.framework = fw
				break
			}
		}
	}
	return d, true
}

func detectMaven(root string, data []byte) (detection, bool) {
	d := detection{
		language: "java",
		cmds: Commands{
			Install: "mvn -q -DskipTests install",
			Test:    "mvn -q test",
		},
	}
	if bytes.Contains(data, []byte("spring-boot")) {
		d.framework = "spring"
		d.cmds.Run = "mvn spring-boot:run"
	}
	if bytes.Contains(data, []byte("maven-checkstyle-plugin")) {
		d.cmds.Lint = "mvn -q checkstyle:check"
	}
	return d, true
}

func detectGradle(root string, data []byte) (detection, bool) {
	gradle := "gradle"
	if exists(root, "gradlew") {
		gradle = "./gradlew"
	}
	d := detection{
		language: "java",
		cmds: Commands{
			Install: gradle + " assemble",
			Lint:    gradle + " check -x test",
			Test:    gradle + " test",
		},
	}
	if bytes.Contains(data, []byte("kotlin")) {
		d.language = "kotlin"
	}
	if bytes.Contains(data, []byte("org.springframework.boot")) {
		d.framework = "spring"
		d.cmds.Run = gradle + " bootRun"
	}
	return d, true
}

func detectGemfile(root string, data []byte) (detection, bool) {
	d := detection{
		language: "ruby",
		cmds:     Commands{Install: "bundle install", Test: "bundle exec rake test"},
	}
	if bytes.Contains(data, []byte("rubocop")) {
		d.cmds.Lint = "bundle exec rubocop"
	}
	if bytes.Contains(data, []byte("rspec")) || exists(root, "spec") {
		d.cmds.Test = "bundle exec rspec"
	}
	if bytes.Contains(data, []byte("rails")) {
		d.framework = "rails"
		d.cmds.Run = "bin/rails server"
	}
	return d, true
}

var makeTargetRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_-]*)\s*:([^=]|$)`)

// detectMakefile contributes only targets, never a language.
func detectMakefile(root string, data []byte) (detection, bool) {
	targets := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if m := makeTargetRe.FindStringSubmatch(sc.Text()); m != nil {
			targets[m[1]] = true
		}
	}
	var d detection
	if targets["install"] {
		d.cmds.Install = "make install"
	} else if targets["deps"] {
		d.cmds.Install = "make deps"
	}
	if targets["lint"] {
		d.cmds.Lint = "make lint"
	}
	if targets["test"] {
		d.cmds.Test = "make test"
	}
	if targets["run"] {
		d.cmds.Run = "make run"
	}
	return d, d.cmds != Commands{}
}
