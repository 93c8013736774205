package commands

import (
	"log/slog"
	"os"

	loanmaster "github.com/dahovitech/loanmaster-sub001"
)

// slogLogger adapts log/slog to the loanmaster Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

func (l *slogLogger) Debug(msg string, args ...interface{}) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...interface{})  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...interface{})  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...interface{}) { l.logger.Error(msg, args...) }

// cliLogger returns the logger for long-running commands: slog to stderr
// when --verbose is set, otherwise a no-op.
func cliLogger() loanmaster.Logger {
	if !verbose {
		return loanmaster.NoopLogger()
	}
	return &slogLogger{
		logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})),
	}
}
