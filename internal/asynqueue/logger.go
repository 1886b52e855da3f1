package asynqueue

import (
	"fmt"
	"log/slog"
	"os"
)

// logAdapter routes asynq's printf-style logger into slog.
type logAdapter struct {
	logger *slog.Logger
}

func newLogAdapter(l *slog.Logger) *logAdapter {
	if l == nil {
		l = slog.Default()
	}
	return &logAdapter{logger: l.With("component", "asynq")}
}

func (a *logAdapter) Debug(args ...any) { a.logger.Debug(fmt.Sprint(args...)) }
func (a *logAdapter) Info(args ...any)  { a.logger.Info(fmt.Sprint(args...)) }
func (a *logAdapter) Warn(args ...any)  { a.logger.Warn(fmt.Sprint(args...)) }
func (a *logAdapter) Error(args ...any) { a.logger.Error(fmt.Sprint(args...)) }

func (a *logAdapter) Fatal(args ...any) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
