package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"boardportal/resolution"
)

// Log writes notifications to the structured log. It is the sink used when
// no broker is configured.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(_ context.Context, n resolution.Notification) error {
	l.log.Info("notification",
		zap.String("kind", string(n.Kind)),
		zap.String("resolution_id", n.ResolutionID),
		zap.Bool("urgent", n.Urgent),
		zap.Strings("recipients", n.Recipients),
		zap.String("message", n.Message),
	)
	return nil
}

// Fanout delivers to every sink and joins their errors.
type Fanout []resolution.NotificationSink

func (f Fanout) Notify(ctx context.Context, n resolution.Notification) error {
	var errs []error
	for _, s := range f {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
