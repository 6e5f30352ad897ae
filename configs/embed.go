// Package configs provides embedded configuration templates for contextfinder.
//
// How Configuration Templates Work:
//
// Templates are embedded at build time using Go's //go:embed directive.
// This ensures they are available in ALL distributions:
//   - Source builds (go install)
//   - Binary releases
//   - Homebrew installations
//
// The templates are used by:
//   - cmd/contextfinder/cmd/config.go → `config init --project` creates .contextfinder.yaml
//   - cmd/contextfinder/cmd/config.go → `config init` creates the user config
//
// Template files:
//   - project-config.example.yaml: Project-specific settings (paths, search)
//   - user-config.example.yaml: Machine-specific settings (timeouts, Ollama host)
//
// Configuration Hierarchy (see internal/config/config.go Load()):
//   1. Hardcoded defaults (internal/config/config.go NewConfig())
//   2. User config (~/.config/contextfinder/config.yaml)
//   3. Project config (.contextfinder.yaml)
//   4. Environment variables (CONTEXTFINDER_*)
//
// To modify templates, edit the .yaml files in this directory and rebuild.
// Changes will be embedded in the next build.
package configs

import _ "embed"

// UserConfigTemplate is the template for user/machine-level configuration.
// Created by: `contextfinder config init`
// Contains: Machine-specific settings like embedding timeouts and the Ollama host.
// Use case: Settings that apply to all projects on this machine.
//
//go:embed user-config.example.yaml
var UserConfigTemplate string

// ProjectConfigTemplate is the template for project-level configuration.
// Created by: `contextfinder config init --project` at .contextfinder.yaml
// Contains: Project-specific settings like paths.exclude and search weights.
// Use case: Settings that are version-controlled with the project.
//
// Important: The template includes commented examples showing how to exclude
// project management directories (like .project-pm/) to prevent search pollution.
// See: configs/project-config.example.yaml for the full template.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string
