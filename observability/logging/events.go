package logging

import (
	"log/slog"
	"sort"

	"stakeledger/core/events"
)

// EventLogger writes every emitted ledger event as one structured log line.
type EventLogger struct {
	logger *slog.Logger
}

func NewEventLogger(logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{logger: logger.With(slog.String("component", "events"))}
}

// Emit implements events.Emitter.
func (l *EventLogger) Emit(evt events.Event) {
	if l == nil || evt == nil {
		return
	}
	rendered := evt.Event()
	if rendered == nil {
		return
	}
	keys := make([]string, 0, len(rendered.Attributes))
	for k := range rendered.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, rendered.Attributes[k]))
	}
	l.logger.Info(rendered.Type, slog.Group("attributes", attrs...))
}
