package logging

import "log/slog"

// SetupMCPMode initializes logging for stdio MCP serving: file-only
// JSON logs at debug level. Stdout carries the JSON-RPC stream and
// stderr may be piped into the client's transport, so neither may ever
// receive a log line — one stray write corrupts the protocol.
func SetupMCPMode() (func(), error) {
	return setupMCPMode("debug")
}

// SetupMCPModeWithLevel is SetupMCPMode with an explicit level.
func SetupMCPModeWithLevel(level string) (func(), error) {
	return setupMCPMode(level)
}

func setupMCPMode(level string) (func(), error) {
	cfg := Config{
		Level:         level,
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: false,
	}
	logger, cleanup, err := Setup(cfg)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	slog.Info("MCP mode logging initialized",
		slog.String("log_file", cfg.FilePath),
		slog.String("level", cfg.Level))
	return cleanup, nil
}
