package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/logfields"
)

const loggerName = "notify"

// Multi fans an event out to all sinks. Sink failures are logged and never
// fail the run.
type Multi struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{
		sinks:  sinks,
		logger: zap.L().Named(loggerName),
	}
}

func (m *Multi) Notify(ctx context.Context, event *Event) {
	for _, sink := range m.sinks {
		if err := sink.Notify(ctx, event); err != nil {
			m.logger.Warn(
				"delivering notification failed",
				logfields.RunID(event.RunID),
				logfields.Repository(event.Repository),
				zap.String("notification_status", event.Status),
				zap.Error(err),
				logfields.Event("notification_delivery_failed"),
			)
		}
	}
}
