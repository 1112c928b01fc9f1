// Package treasury keeps the book of value the reserve has sent out. It is the
// reference domain.Treasury: it records withdrawals and exits as paid, records
// profit-share allocations, and can freeze identities whose transfers must be
// refused.
package treasury

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"example.com/reserve/internal/domain"
)

// ErrFrozen is returned when a batch contains a payout to a frozen identity.
var ErrFrozen = errors.New("treasury: identity frozen")

// Entry is one line of the book.
type Entry struct {
	Identity  string
	Amount    uint64
	Kind      domain.PayoutKind
	Reference string
	At        time.Time
}

// Balance is what the book knows about one identity.
type Balance struct {
	// Paid is value actually transferred to the identity.
	Paid uint64
	// Allocated is profit credited to the identity inside the reserve.
	Allocated uint64
}

// Book is a concurrency-safe, all-or-nothing payout ledger.
type Book struct {
	mu       sync.Mutex
	balances map[string]Balance
	frozen   map[string]struct{}
	entries  []Entry
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures a Book.
type Option func(*Book)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Book) { b.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.now = now }
}

// NewBook returns an empty book.
func NewBook(opts ...Option) *Book {
	b := &Book{
		balances: make(map[string]Balance),
		frozen:   make(map[string]struct{}),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Freeze makes every later batch that pays identity fail.
func (b *Book) Freeze(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frozen[identity] = struct{}{}
}

// Unfreeze lifts a freeze.
func (b *Book) Unfreeze(identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.frozen, identity)
}

// Disburse records the whole batch, or nothing when any payout is refused.
func (b *Book) Disburse(ctx context.Context, payouts []domain.Payout) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next := make(map[string]Balance, len(payouts))
	for _, p := range payouts {
		if _, ok := b.frozen[p.Identity]; ok {
			return fmt.Errorf("%w: %s", ErrFrozen, p.Identity)
		}
		bal, ok := next[p.Identity]
		if !ok {
			bal = b.balances[p.Identity]
		}
		var overflow bool
		switch p.Kind {
		case domain.PayoutProfitShare:
			bal.Allocated, overflow = add(bal.Allocated, p.Amount)
		case domain.PayoutWithdrawal, domain.PayoutExit:
			bal.Paid, overflow = add(bal.Paid, p.Amount)
		default:
			return fmt.Errorf("treasury: unknown payout kind %q", p.Kind)
		}
		if overflow {
			return fmt.Errorf("treasury: balance overflow for %s", p.Identity)
		}
		next[p.Identity] = bal
	}

	at := b.now()
	for id, bal := range next {
		b.balances[id] = bal
	}
	for _, p := range payouts {
		b.entries = append(b.entries, Entry{
			Identity:  p.Identity,
			Amount:    p.Amount,
			Kind:      p.Kind,
			Reference: p.Reference,
			At:        at,
		})
	}
	b.logger.DebugContext(ctx, "treasury batch recorded", "payouts", len(payouts))
	return nil
}

// Balance returns what the book holds for identity.
func (b *Book) Balance(identity string) Balance {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[identity]
}

// Entries returns the book lines in recording order.
func (b *Book) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.entries...)
}

func add(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}
