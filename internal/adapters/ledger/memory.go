package ledger

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/txguard/internal/domain/clock"
	"github.com/okian/txguard/internal/domain/model"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process ledger used for development and tests.
type MemoryLedger struct {
	mu       sync.RWMutex
	accounts map[string]Account
	txs      []Transaction
	clock    clock.Clock
	closed   atomic.Bool
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		accounts: make(map[string]Account),
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AddAccount inserts or replaces an account.
func (l *MemoryLedger) AddAccount(a Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[a.ID] = a
}

// Record appends a transaction.
func (l *MemoryLedger) Record(tx Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.txs = append(l.txs, tx)
}

// each calls fn for every transaction matching pred, under the read lock.
func (l *MemoryLedger) each(pred func(Transaction) bool, fn func(Transaction)) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, tx := range l.txs {
		if pred(tx) {
			fn(tx)
		}
	}
}

// SumSpend returns completed outgoing tokens of the given categories since since.
func (l *MemoryLedger) SumSpend(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var total int64
	l.each(func(tx Transaction) bool {
		return tx.UserID == identity && tx.Status == StatusCompleted &&
			!tx.CreatedAt.Before(since) && slices.Contains(categories, tx.Type)
	}, func(tx Transaction) { total += tx.AmountTokens })
	return total, nil
}

// CountActions returns non-failed outgoing transactions of the given categories since since.
func (l *MemoryLedger) CountActions(ctx context.Context, identity string, since time.Time, categories []model.ActionType) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	l.each(func(tx Transaction) bool {
		return tx.UserID == identity && tx.Status != StatusFailed &&
			!tx.CreatedAt.Before(since) && slices.Contains(categories, tx.Type)
	}, func(Transaction) { n++ })
	return n, nil
}

// CountFailedPurchases returns failed purchase attempts since since.
func (l *MemoryLedger) CountFailedPurchases(ctx context.Context, identity string, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int64
	l.each(func(tx Transaction) bool {
		return tx.UserID == identity && tx.Type == model.ActionPurchase &&
			tx.Status == StatusFailed && !tx.CreatedAt.Before(since)
	}, func(Transaction) { n++ })
	return n, nil
}

// SumTransfers returns tokens tipped or gifted by sender to recipient since since,
// and the time of the first such transfer.
func (l *MemoryLedger) SumTransfers(ctx context.Context, sender, recipient string, since time.Time) (int64, *time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	var total int64
	var first *time.Time
	l.each(func(tx Transaction) bool {
		return tx.UserID == sender && tx.CounterpartyID == recipient && tx.Status == StatusCompleted &&
			!tx.CreatedAt.Before(since) && slices.Contains(transferTypes, tx.Type)
	}, func(tx Transaction) {
		total += tx.AmountTokens
		first = earliest(first, tx.CreatedAt)
	})
	return total, first, nil
}

// SumCashouts returns completed or pending payout tokens since since, and the
// time of the first such payout.
func (l *MemoryLedger) SumCashouts(ctx context.Context, identity string, since time.Time) (int64, *time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, err
	}
	var total int64
	var first *time.Time
	l.each(func(tx Transaction) bool {
		return tx.UserID == identity && tx.Type == model.ActionPayout &&
			tx.Status != StatusFailed && !tx.CreatedAt.Before(since)
	}, func(tx Transaction) {
		total += tx.AmountTokens
		first = earliest(first, tx.CreatedAt)
	})
	return total, first, nil
}

// FirstEarningTimestamp returns the earliest completed positive earning received
// by identity, or nil when there is none.
func (l *MemoryLedger) FirstEarningTimestamp(ctx context.Context, identity string) (*time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var first *time.Time
	l.each(func(tx Transaction) bool {
		return tx.CounterpartyID == identity && tx.Status == StatusCompleted &&
			tx.AmountTokens > 0 && slices.Contains(earningTypes, tx.Type)
	}, func(tx Transaction) { first = earliest(first, tx.CreatedAt) })
	return first, nil
}

// TopSender returns the sender that transferred the most tokens to recipient
// since since, with that sender's amount and the total received from everyone.
func (l *MemoryLedger) TopSender(ctx context.Context, recipient string, since time.Time) (string, int64, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	bySender := map[string]int64{}
	var total int64
	l.each(func(tx Transaction) bool {
		return tx.CounterpartyID == recipient && tx.Status == StatusCompleted &&
			!tx.CreatedAt.Before(since) && slices.Contains(transferTypes, tx.Type)
	}, func(tx Transaction) {
		bySender[tx.UserID] += tx.AmountTokens
		total += tx.AmountTokens
	})

	var top string
	var topAmount int64
	for sender, amt := range bySender {
		if amt > topAmount || (amt == topAmount && sender < top) {
			top, topAmount = sender, amt
		}
	}
	return top, topAmount, total, nil
}

// Profile builds the account profile snapshot for actorID.
func (l *MemoryLedger) Profile(ctx context.Context, actorID string) (model.AccountProfile, error) {
	if err := ctx.Err(); err != nil {
		return model.AccountProfile{}, err
	}
	l.mu.RLock()
	acct, ok := l.accounts[actorID]
	l.mu.RUnlock()
	if !ok {
		return model.AccountProfile{}, model.ErrAccountNotFound
	}

	p := model.AccountProfile{
		ActorID:          actorID,
		AccountAge:       l.clock.Now().Sub(acct.CreatedAt),
		EmailVerified:    acct.EmailVerified,
		KYCVerified:      acct.KYCVerified,
		PhoneVerified:    acct.PhoneVerified,
		LifetimeSpendUSD: decimal.Zero,
	}
	days := map[string]struct{}{}
	l.each(func(tx Transaction) bool {
		return tx.UserID == actorID && tx.Status == StatusCompleted
	}, func(tx Transaction) {
		p.LifetimeTransactionCount++
		if tx.Type.IsSpend() {
			p.LifetimeSpendUSD = p.LifetimeSpendUSD.Add(tx.AmountUSD)
		}
		days[tx.CreatedAt.UTC().Format(time.DateOnly)] = struct{}{}
		if tx.Type == model.ActionPurchase {
			p.LastPurchaseAt = latest(p.LastPurchaseAt, tx.CreatedAt)
		}
	})
	p.ActiveDaysCount = int64(len(days))
	return p, nil
}

// Ping reports readiness until the ledger is closed.
func (l *MemoryLedger) Ping(ctx context.Context) error {
	if l.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// Close marks the ledger closed. Reads keep working for in-flight checks.
func (l *MemoryLedger) Close() error {
	l.closed.Store(true)
	return nil
}

func earliest(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.Before(*cur) {
		return &t
	}
	return cur
}

func latest(cur *time.Time, t time.Time) *time.Time {
	if cur == nil || t.After(*cur) {
		return &t
	}
	return cur
}
