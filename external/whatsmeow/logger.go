package whatsmeow

import (
	"context"
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger routes whatsmeow logs into slog.
type slogLogger struct {
	logger *slog.Logger
	module string
}

func NewLogger(module string) waLog.Logger {
	return slogLogger{logger: slog.Default(), module: module}
}

func (l slogLogger) log(level slog.Level, msg string, args []any) {
	l.logger.Log(context.Background(), level, fmt.Sprintf(msg, args...), "module", l.module)
}

func (l slogLogger) Errorf(msg string, args ...any) { l.log(slog.LevelError, msg, args) }
func (l slogLogger) Warnf(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l slogLogger) Infof(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l slogLogger) Debugf(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{logger: l.logger, module: l.module + "/" + module}
}
