package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// LogSink writes each notification as a structured log line. Critical
// notifications log at error level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each notification in the batch.
func (s *LogSink) Consume(_ context.Context, batch []crawler.Notification) error {
	for _, n := range batch {
		fields := []zap.Field{
			zap.String("kind", string(n.Kind)),
			zap.Time("at", n.At),
			zap.String("adapter", n.Adapter),
		}
		if n.URL != "" {
			fields = append(fields, zap.String("url", n.URL))
		}
		for k, v := range n.Fields {
			fields = append(fields, zap.Any(k, v))
		}
		switch n.Kind {
		case crawler.NotifyCritical:
			s.logger.Error(n.Message, fields...)
		case crawler.NotifyError, crawler.NotifyChallengeDetected:
			s.logger.Warn(n.Message, fields...)
		default:
			s.logger.Info(n.Message, fields...)
		}
	}
	return nil
}

// Close implements notify.Sink; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
