package alerts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/okian/txguard/internal/domain/model"
)

const insertAlert = `INSERT INTO fraud_alerts
	(id, user_id, alert_type, severity, details, transaction_id, status, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
ON CONFLICT (id) DO NOTHING`

// PostgresRecorder inserts alerts into the fraud_alerts table. Retried writes
// of the same alert are ignored by id.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder creates a recorder over db.
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// Record implements Recorder.
func (r *PostgresRecorder) Record(ctx context.Context, a model.FraudAlert) error { //nolint:gocritic // hugeParam
	details, err := json.Marshal(a.Details)
	if err != nil {
		return fmt.Errorf("encode alert details: %w", err)
	}
	_, err = r.db.ExecContext(ctx, insertAlert,
		a.ID, a.UserID, string(a.AlertType), string(a.Severity), details, a.TransactionID, a.Status, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fraud alert %s: %w", a.ID, err)
	}
	return nil
}
