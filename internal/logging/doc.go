// Package logging provides file-based logging with rotation for ContextFinder.
// Logs are written as JSON to ~/.contextfinder/logs/server.log, at info level
// by default and at debug level when the --debug flag is set.
//
// A copy goes to stderr only when stderr is a terminal; MCP mode
// (SetupMCPMode) logs to the file alone.
package logging
