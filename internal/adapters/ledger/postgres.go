package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// PostgresLedger reads aggregates from the users and token_transactions tables.
// The schema and the write path are owned by the ledger service.
type PostgresLedger struct {
	db      *sql.DB
	clock   clock.Clock
	maxOpen int
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, opts ...PostgresOption) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	l := NewPostgresLedger(db, opts...)
	db.SetMaxOpenConns(l.maxOpen)
	db.SetMaxIdleConns(min(5, l.maxOpen))
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	return l, nil
}

// NewPostgresLedger wraps an open database handle.
func NewPostgresLedger(db *sql.DB, opts ...PostgresOption) *PostgresLedger {
	l := &PostgresLedger{db: db, clock: clock.Real{}, maxOpen: 20}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SumSpend implements the velocity ledger.
func (l *PostgresLedger) SumSpend(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error) {
	var total int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_tokens), 0)
		FROM token_transactions
		WHERE user_id = $1 AND status = 'completed' AND created_at >= $2 AND type = ANY($3)
	`, identity, since, pq.Array(actionStrings(categories))).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum spend: %w", err)
	}
	return total, nil
}

// CountActions implements the velocity ledger.
func (l *PostgresLedger) CountActions(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM token_transactions
		WHERE user_id = $1 AND status <> 'failed' AND created_at >= $2 AND type = ANY($3)
	`, identity, since, pq.Array(actionStrings(categories))).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count actions: %w", err)
	}
	return n, nil
}

// CountFailedPurchases implements the anomaly ledger.
func (l *PostgresLedger) CountFailedPurchases(ctx context.Context, identity string, since time.Time) (int64, error) {
	var n int64
	err := l.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM token_transactions
		WHERE user_id = $1 AND type = 'purchase' AND status = 'failed' AND created_at >= $2
	`, identity, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count failed purchases: %w", err)
	}
	return n, nil
}

// SumTransfers implements the anomaly ledger.
func (l *PostgresLedger) SumTransfers(ctx context.Context, sender, recipient string, since time.Time) (int64, *time.Time, error) {
	var total int64
	var first sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_tokens), 0), MIN(created_at)
		FROM token_transactions
		WHERE user_id = $1 AND counterparty_id = $2 AND status = 'completed'
		  AND created_at >= $3 AND type = ANY($4)
	`, sender, recipient, since, pq.Array(actionStrings(transferTypes))).Scan(&total, &first)
	if err != nil {
		return 0, nil, fmt.Errorf("sum transfers: %w", err)
	}
	return total, nullTime(first), nil
}

// SumCashouts implements the anomaly ledger.
func (l *PostgresLedger) SumCashouts(ctx context.Context, identity string, since time.Time) (int64, *time.Time, error) {
	var total int64
	var first sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_tokens), 0), MIN(created_at)
		FROM token_transactions
		WHERE user_id = $1 AND type = 'payout' AND status IN ('completed', 'pending') AND created_at >= $2
	`, identity, since).Scan(&total, &first)
	if err != nil {
		return 0, nil, fmt.Errorf("sum cashouts: %w", err)
	}
	return total, nullTime(first), nil
}

// FirstEarningTimestamp implements the payout ledger.
func (l *PostgresLedger) FirstEarningTimestamp(ctx context.Context, identity string) (*time.Time, error) {
	var first sql.NullTime
	err := l.db.QueryRowContext(ctx, `
		SELECT MIN(created_at)
		FROM token_transactions
		WHERE counterparty_id = $1 AND status = 'completed' AND amount_tokens > 0 AND type = ANY($2)
	`, identity, pq.Array(actionStrings(earningTypes))).Scan(&first)
	if err != nil {
		return nil, fmt.Errorf("first earning: %w", err)
	}
	return nullTime(first), nil
}

// TopSender implements the payout ledger.
func (l *PostgresLedger) TopSender(ctx context.Context, recipient string, since time.Time) (string, int64, int64, error) {
	var sender string
	var amount, total int64
	err := l.db.QueryRowContext(ctx, `
		SELECT user_id, SUM(amount_tokens) AS amount, SUM(SUM(amount_tokens)) OVER () AS total
		FROM token_transactions
		WHERE counterparty_id = $1 AND status = 'completed' AND created_at >= $2 AND type = ANY($3)
		GROUP BY user_id
		ORDER BY amount DESC, user_id
		LIMIT 1
	`, recipient, since, pq.Array(actionStrings(transferTypes))).Scan(&sender, &amount, &total)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, 0, nil
	}
	if err != nil {
		return "", 0, 0, fmt.Errorf("top sender: %w", err)
	}
	return sender, amount, total, nil
}

// Profile builds the account profile snapshot for actorID.
func (l *PostgresLedger) Profile(ctx context.Context, actorID string) (model.AccountProfile, error) {
	var acct Account
	err := l.db.QueryRowContext(ctx, `
		SELECT created_at, email_verified, kyc_verified, phone_verified
		FROM users WHERE id = $1
	`, actorID).Scan(&acct.CreatedAt, &acct.EmailVerified, &acct.KYCVerified, &acct.PhoneVerified)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AccountProfile{}, model.ErrAccountNotFound
	}
	if err != nil {
		return model.AccountProfile{}, fmt.Errorf("load account: %w", err)
	}

	p := model.AccountProfile{
		ActorID:       actorID,
		AccountAge:    l.clock.Now().Sub(acct.CreatedAt),
		EmailVerified: acct.EmailVerified,
		KYCVerified:   acct.KYCVerified,
		PhoneVerified: acct.PhoneVerified,
	}
	var spend decimal.Decimal
	var lastPurchase sql.NullTime
	err = l.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(amount_usd) FILTER (WHERE type <> 'payout'), 0),
		       COUNT(DISTINCT (created_at AT TIME ZONE 'UTC')::date),
		       MAX(created_at) FILTER (WHERE type = 'purchase')
		FROM token_transactions
		WHERE user_id = $1 AND status = 'completed'
	`, actorID).Scan(&p.LifetimeTransactionCount, &spend, &p.ActiveDaysCount, &lastPurchase)
	if err != nil {
		return model.AccountProfile{}, fmt.Errorf("load account history: %w", err)
	}
	p.LifetimeSpendUSD = spend
	p.LastPurchaseAt = nullTime(lastPurchase)
	return p, nil
}

// Ping checks the database connection.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// DB returns the underlying handle so other writers can share the pool.
func (l *PostgresLedger) DB() *sql.DB { return l.db }

// Close closes the database handle.
func (l *PostgresLedger) Close() error {
	return l.db.Close()
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
