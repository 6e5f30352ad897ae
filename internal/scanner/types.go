package scanner

import (
	"path/filepath"
	"strings"
	"time"
)

// ContentType is the coarse class a file is chunked as.
type ContentType string

const (
	ContentTypeCode     ContentType = "code"
	ContentTypeMarkdown ContentType = "markdown"
	ContentTypeText     ContentType = "text"
	ContentTypeConfig   ContentType = "config"
)

// FileInfo describes one discovered file.
type FileInfo struct {
	Path        string      // repo-relative, forward slashes
	AbsPath     string      // absolute path
	Size        int64       // bytes
	ModTime     time.Time   // last modification
	ContentType ContentType // code, markdown, text, config
	Language    string      // go, typescript, python, ...
	IsGenerated bool        // detected as generated output
}

// ScanOptions configures one scan.
type ScanOptions struct {
	// RootDir is the project root to scan.
	RootDir string

	// IncludePatterns keeps only matching paths (empty = all).
	IncludePatterns []string

	// ExcludePatterns drops matching paths on top of the defaults.
	ExcludePatterns []string

	// RespectGitignore applies the root's .gitignore rules.
	RespectGitignore bool

	// MaxFileSize drops files above this many bytes (0 = 10MB).
	MaxFileSize int64
}

// ScanResult is one channel item: a file or a non-fatal error.
type ScanResult struct {
	File  *FileInfo
	Error error
}

// DefaultMaxFileSize bounds files the scanner will hand to chunking.
const DefaultMaxFileSize = 10 * 1024 * 1024

// languageMap maps file extensions to languages the chunkers and graph
// builders understand.
var languageMap = map[string]string{
	".go":    "go",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".py":    "python",
	".pyi":   "python",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".php":   "php",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "rst",
	".txt":   "text",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".ini":   "ini",
	".html":  "html",
	".css":   "css",
}

// byBasename covers well-known extensionless files.
var byBasename = map[string]string{
	"Makefile":   "make",
	"Dockerfile": "dockerfile",
	"justfile":   "just",
	"Gemfile":    "ruby",
}

// languageFor resolves a path's language, "" when unknown.
func languageFor(path string) string {
	if lang, ok := byBasename[filepath.Base(path)]; ok {
		return lang
	}
	return languageMap[strings.ToLower(filepath.Ext(path))]
}

// contentTypeFor classifies a path for chunking.
func contentTypeFor(path string) ContentType {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".mdx", ".markdown", ".rst":
		return ContentTypeMarkdown
	case ".txt":
		return ContentTypeText
	case ".json", ".yaml", ".yml", ".toml", ".ini", ".conf":
		return ContentTypeConfig
	}
	switch filepath.Base(path) {
	case "Makefile", "Dockerfile", "justfile":
		return ContentTypeConfig
	}
	return ContentTypeCode
}
