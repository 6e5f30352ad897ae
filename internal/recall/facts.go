// Package recall answers multi-question "what is this project / how do
// I work in it" requests under tight character budgets: a bounded
// project-facts probe, a per-question answer loop mixing file
// references, structural intent rules, grep, and semantic search, with
// pagination and cross-call snippet dedupe.
package recall

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Probe bounds.
const (
	maxProbeDepth    = 2
	maxEcosystems    = 8
	maxKeyConfigs    = 20
	maxEntrypoints   = 10
	maxWorkspaceMods = 16
)

// Facts is the project-facts enumeration served with recall output.
type Facts struct {
	Ecosystems       []string `json:"ecosystems,omitempty"`
	BuildTools       []string `json:"build_tools,omitempty"`
	CI               []string `json:"ci,omitempty"`
	Contracts        []string `json:"contracts,omitempty"`
	Entrypoints      []string `json:"entrypoints,omitempty"`
	WorkspaceModules []string `json:"workspace_modules,omitempty"`
	KeyConfigs       []string `json:"key_configs,omitempty"`
}

// Categories returns the facts as category -> values, for packers.
func (f *Facts) Categories() map[string][]string {
	out := map[string][]string{}
	put := func(k string, v []string) {
		if len(v) > 0 {
			out[k] = v
		}
	}
	put("ecosystems", f.Ecosystems)
	put("build_tools", f.BuildTools)
	put("ci", f.CI)
	put("contracts", f.Contracts)
	put("entrypoints", f.Entrypoints)
	put("workspace_modules", f.WorkspaceModules)
	put("key_configs", f.KeyConfigs)
	return out
}

var ecosystemMarkers = map[string]string{
	"go.mod":           "go",
	"Cargo.toml":       "rust",
	"package.json":     "nodejs",
	"pyproject.toml":   "python",
	"setup.py":         "python",
	"requirements.txt": "python",
	"pom.xml":          "java",
	"build.gradle":     "java",
	"Gemfile":          "ruby",
	"composer.json":    "php",
}

var buildToolMarkers = map[string]string{
	"Makefile":       "make",
	"justfile":       "just",
	"Taskfile.yml":   "task",
	"CMakeLists.txt": "cmake",
	"BUILD.bazel":    "bazel",
}

var keyConfigNames = map[string]bool{
	"Dockerfile":         true,
	"docker-compose.yml": true,
	"Makefile":           true,
	"pyproject.toml":     true,
	"go.mod":             true,
	"package.json":       true,
	"Cargo.toml":         true,
	".golangci.yml":      true,
	"tsconfig.json":      true,
	".env.example":       true,
}

var entrypointNames = map[string]bool{
	"main.go":  true,
	"main.rs":  true,
	"main.py":  true,
	"index.ts": true,
	"index.js": true,
	"app.py":   true,
}

// ProbeFacts walks root at most maxProbeDepth levels deep (workspace
// containers like cmd/ or packages/ count as one level) and enumerates
// project facts. No globbing; every check is a literal name or
// extension test. Caps keep the output bounded on monorepos.
func ProbeFacts(root string) *Facts {
	f := &Facts{}
	seen := map[string]map[string]bool{}
	add := func(category string, list *[]string, value string, cap int) {
		if value == "" || len(*list) >= cap {
			return
		}
		if seen[category] == nil {
			seen[category] = map[string]bool{}
		}
		if seen[category][value] {
			return
		}
		seen[category][value] = true
		*list = append(*list, value)
	}

	var walk func(dir, rel string, depth int)
	walk = func(dir, rel string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			name := e.Name()
			relPath := name
			if rel != "" {
				relPath = rel + "/" + name
			}
			if e.IsDir() {
				if strings.HasPrefix(name, ".") && name != ".github" {
					continue
				}
				if name == ".github" {
					if hasEntries(filepath.Join(dir, name, "workflows")) {
						add("ci", &f.CI, "github-actions", 4)
					}
					continue
				}
				if name == "node_modules" || name == "vendor" || name == "target" {
					continue
				}
				if depth < maxProbeDepth {
					walk(filepath.Join(dir, name), relPath, depth+1)
				}
				continue
			}

			if eco, ok := ecosystemMarkers[name]; ok {
				add("eco", &f.Ecosystems, eco, maxEcosystems)
				if depth > 0 {
					add("mods", &f.WorkspaceModules, rel, maxWorkspaceMods)
				}
			}
			if tool, ok := buildToolMarkers[name]; ok {
				add("build", &f.BuildTools, tool, 8)
			}
			if keyConfigNames[name] {
				add("cfg", &f.KeyConfigs, relPath, maxKeyConfigs)
			}
			if entrypointNames[name] {
				add("entry", &f.Entrypoints, relPath, maxEntrypoints)
			}
			switch {
			case name == ".gitlab-ci.yml":
				add("ci", &f.CI, "gitlab-ci", 4)
			case name == "Jenkinsfile":
				add("ci", &f.CI, "jenkins", 4)
			case strings.HasSuffix(name, ".proto"):
				add("contracts", &f.Contracts, relPath, 12)
			case name == "openapi.yaml" || name == "openapi.json" || name == "swagger.yaml":
				add("contracts", &f.Contracts, relPath, 12)
			}
		}
	}
	walk(root, "", 0)
	return f
}

func hasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
