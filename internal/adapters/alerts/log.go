package alerts

import (
	"context"

	"github.com/okian/txguard/internal/domain/model"
	"github.com/okian/txguard/pkg/logger"
)

// LogRecorder writes alerts to the structured log. It is the fallback when no
// durable sink is configured.
type LogRecorder struct {
	log logger.Logger
}

// NewLogRecorder creates a recorder writing to log.
func NewLogRecorder(log logger.Logger) *LogRecorder {
	if log == nil {
		log = logger.Nop()
	}
	return &LogRecorder{log: log}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, a model.FraudAlert) error { //nolint:gocritic // hugeParam
	r.log.Warn(ctx, "fraud alert",
		logger.String("alert_id", a.ID),
		logger.String("user_id", a.UserID),
		logger.String("alert_type", string(a.AlertType)),
		logger.String("severity", string(a.Severity)),
		logger.String("transaction_id", a.TransactionID),
		logger.Any("details", a.Details),
	)
	return nil
}
