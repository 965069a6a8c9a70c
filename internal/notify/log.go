// Package notify contains alert sink implementations.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/quillfeed/quillwatch/internal/watch"
)

// LogSink writes each alert decision as a structured log line. It is
// the default sink and doubles as the delivery of last resort.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Deliver logs the alert. It never fails.
func (s *LogSink) Deliver(_ context.Context, alert watch.AlertDecision) error {
	fields := []zap.Field{
		zap.String("alert_id", alert.ID),
		zap.String("reason", string(alert.Reason)),
		zap.String("query", alert.QueryKey),
		zap.String("post_id", alert.Post.ID),
		zap.String("url", alert.Post.URL),
		zap.String("handle", alert.Post.Handle),
	}
	if alert.Reason == watch.ReasonGrowth && alert.Post.Likes != nil {
		fields = append(fields,
			zap.Int("prev_likes", alert.PrevLikes),
			zap.Int("likes", *alert.Post.Likes),
		)
	}
	if alert.Author != nil {
		fields = append(fields, zap.Int("author_followers", alert.Author.Followers))
	}
	if alert.VIP != nil {
		fields = append(fields,
			zap.String("vip_handle", alert.VIP.Handle),
			zap.String("vip_target", alert.VIP.Target),
		)
	}
	s.logger.Info("alert", fields...)
	return nil
}
