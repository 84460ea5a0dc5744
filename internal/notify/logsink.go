package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/logfields"
)

// LogSink writes every event to the structured log. It is always enabled,
// also under dry-run.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: zap.L().Named(loggerName)}
}

func (s *LogSink) Notify(_ context.Context, event *Event) error {
	s.logger.Info(
		"progression event",
		logfields.RunID(event.RunID),
		zap.String("label", event.Label),
		zap.String("phase", event.Phase),
		logfields.Repository(event.Repository),
		logfields.Edge(event.Edge),
		logfields.Environment(event.Environment),
		zap.String("status", event.Status),
		logfields.Reason(event.Reason),
		zap.Strings("links", event.Links),
		logfields.Event("progression_event"),
	)

	return nil
}
