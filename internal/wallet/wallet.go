// Package wallet provides the Ledger Store: the stateful owner of the active
// identity's balance and positions. It applies the pure transitions from
// package ledger, persists them through a store.Store, and only then commits
// them in memory, so a failed write never leaves memory ahead of storage.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polypredict/ledger-engine/internal/ledger"
	"github.com/polypredict/ledger-engine/internal/metrics"
	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/store"
)

// ErrPersistence is returned when the durable store rejects a read or write.
var ErrPersistence = errors.New("wallet: persistence failure")

// ChangeKind identifies which operation produced a Change.
type ChangeKind string

const (
	ChangeInitialized ChangeKind = "wallet_initialized"
	ChangeBought      ChangeKind = "position_bought"
	ChangeRepriced    ChangeKind = "positions_repriced"
	ChangeReset       ChangeKind = "wallet_reset"
)

// Change describes a committed state transition.
type Change struct {
	Kind     ChangeKind
	State    model.WalletState
	Position *model.Position // set for ChangeBought
}

// Option configures a Wallet.
type Option func(*Wallet)

// WithInitialBalance overrides ledger.InitialBalance.
func WithInitialBalance(b decimal.Decimal) Option {
	return func(w *Wallet) { w.initial = b }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) { w.now = now }
}

// WithIDGenerator overrides position id generation.
func WithIDGenerator(newID func() string) Option {
	return func(w *Wallet) { w.newID = newID }
}

// WithListener registers a callback invoked after every committed change.
// It runs outside the wallet lock.
func WithListener(fn func(Change)) Option {
	return func(w *Wallet) { w.listeners = append(w.listeners, fn) }
}

// Wallet is the Ledger Store. All operations are serialized by one mutex.
// Other processes writing the same durable records are not coordinated;
// the last writer wins.
type Wallet struct {
	store     store.Store
	initial   decimal.Decimal
	now       func() time.Time
	newID     func() string
	listeners []func(Change)

	mu    sync.RWMutex
	scope model.Scope
	state ledger.Snapshot
}

// New creates a wallet on st. Until Initialize is called it holds a default
// guest wallet that has not been read from storage.
func New(st store.Store, opts ...Option) *Wallet {
	w := &Wallet{
		store:   st,
		initial: ledger.InitialBalance,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return "pos_" + uuid.New().String() },
	}
	for _, opt := range opts {
		opt(w)
	}
	w.state = ledger.Default(w.initial)
	return w
}

// Initialize makes scope the active identity and loads its balance and
// positions, replacing the in-memory state wholesale. Missing or malformed
// records fall back to defaults. Calling it twice with the same scope
// re-reads the same snapshot. On a store error the previous state is kept.
func (w *Wallet) Initialize(ctx context.Context, scope model.Scope) error {
	w.mu.Lock()
	snap, err := w.load(ctx, scope)
	if err != nil {
		w.mu.Unlock()
		metrics.PersistenceFailures.WithLabelValues("load").Inc()
		return fmt.Errorf("%w: load %s: %w", ErrPersistence, scope, err)
	}
	prev := w.scope
	w.scope = scope
	w.commit(snap)
	change := Change{Kind: ChangeInitialized, State: w.stateLocked()}
	w.mu.Unlock()

	slog.Info("wallet initialized",
		"scope", scope.String(),
		"previous_scope", prev.String(),
		"balance", snap.Balance.String(),
		"positions", len(snap.Positions),
	)
	w.notify(change)
	return nil
}

// BuyPosition spends amount on side of market at price. Preconditions are
// checked before any mutation; see ledger.BuyIntent.Validate. The returned
// error is a ledger error for a rejected buy or wraps ErrPersistence when
// the write failed, in which case nothing changed.
func (w *Wallet) BuyPosition(ctx context.Context, event model.Event, market model.Market,
	side model.Side, price, amount decimal.Decimal) (model.Position, error) {

	w.mu.Lock()
	next, pos, err := ledger.Buy(w.state, ledger.BuyIntent{
		Event:  event,
		Market: market,
		Side:   side,
		Price:  price,
		Amount: amount,
	}, w.now(), w.newID)
	if err != nil {
		w.mu.Unlock()
		metrics.BuyRejections.WithLabelValues(ledger.Message(err)).Inc()
		slog.Info("buy rejected",
			"scope", w.Scope().String(),
			"market", market.ID,
			"side", string(side),
			"amount", amount.String(),
			"reason", ledger.Message(err),
		)
		return model.Position{}, err
	}

	if err := w.persist(ctx, next, store.FieldBalance, store.FieldPositions); err != nil {
		w.mu.Unlock()
		metrics.PersistenceFailures.WithLabelValues("buy").Inc()
		metrics.BuyRejections.WithLabelValues("Persistence failure").Inc()
		slog.Error("buy not persisted", "scope", w.scope.String(), "err", err)
		return model.Position{}, err
	}

	w.commit(next)
	change := Change{Kind: ChangeBought, State: w.stateLocked(), Position: &pos}
	scope := w.scope
	w.mu.Unlock()

	metrics.BuysTotal.WithLabelValues(string(side)).Inc()
	metrics.AmountSpent.WithLabelValues(string(side)).Add(amount.InexactFloat64())
	slog.Info("position bought",
		"scope", scope.String(),
		"position", pos.ID,
		"market", market.ID,
		"side", string(side),
		"price", price.String(),
		"amount", amount.String(),
		"quantity", pos.Quantity.String(),
		"avg_price", pos.AvgPrice.String(),
		"balance", next.Balance.String(),
	)
	w.notify(change)
	return pos, nil
}

// UpdatePositionPrices applies live quotes to every held position and
// persists the result. Quotes for markets without a position are ignored.
func (w *Wallet) UpdatePositionPrices(ctx context.Context, quotes model.MarketPrices) error {
	w.mu.Lock()
	next := ledger.Snapshot{
		Balance:   w.state.Balance,
		Positions: ledger.Reprice(w.state.Positions, quotes, w.now()),
	}
	if err := w.persist(ctx, next, store.FieldPositions); err != nil {
		w.mu.Unlock()
		metrics.PersistenceFailures.WithLabelValues("reprice").Inc()
		return err
	}
	w.commit(next)
	change := Change{Kind: ChangeRepriced, State: w.stateLocked()}
	w.mu.Unlock()

	metrics.RepricesTotal.Inc()
	slog.Debug("positions repriced", "quotes", len(quotes), "positions", len(next.Positions))
	w.notify(change)
	return nil
}

// ResetWallet clears the active scope's durable records and restores the
// initial balance with no positions. It is irreversible.
func (w *Wallet) ResetWallet(ctx context.Context) error {
	w.mu.Lock()
	if err := w.store.Delete(ctx, w.scope, store.Fields...); err != nil {
		w.mu.Unlock()
		metrics.PersistenceFailures.WithLabelValues("reset").Inc()
		return fmt.Errorf("%w: reset %s: %w", ErrPersistence, w.scope, err)
	}
	w.commit(ledger.Default(w.initial))
	change := Change{Kind: ChangeReset, State: w.stateLocked()}
	scope := w.scope
	w.mu.Unlock()

	slog.Info("wallet reset", "scope", scope.String())
	w.notify(change)
	return nil
}

// CalculatePnL returns the unrealized PnL of p.
func (w *Wallet) CalculatePnL(p model.Position) model.PnL {
	return ledger.CalculatePnL(p)
}

// Scope returns the active identity scope.
func (w *Wallet) Scope() model.Scope {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.scope
}

// Balance returns the current balance.
func (w *Wallet) Balance() decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Balance
}

// Positions returns a copy of the held positions in acquisition order.
func (w *Wallet) Positions() []model.Position {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Clone().Positions
}

// State returns a snapshot of the active wallet.
func (w *Wallet) State() model.WalletState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stateLocked()
}

// Portfolio returns positions grouped by event, with PnL and totals.
func (w *Wallet) Portfolio() model.Portfolio {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return model.Portfolio{
		UserID:  userID(w.scope),
		Balance: w.state.Balance,
		Groups:  ledger.GroupByEvent(w.state.Positions),
		Summary: ledger.Summarize(w.state.Positions),
	}
}

// --- internals (callers hold w.mu) ---

func (w *Wallet) load(ctx context.Context, scope model.Scope) (ledger.Snapshot, error) {
	snap := ledger.Default(w.initial)

	raw, err := w.store.Get(ctx, scope, store.FieldBalance)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return snap, err
	default:
		if b, err := decodeBalance(raw); err != nil {
			slog.Warn("ignoring malformed balance record", "scope", scope.String(), "err", err)
		} else {
			snap.Balance = b
		}
	}

	raw, err = w.store.Get(ctx, scope, store.FieldPositions)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return snap, err
	default:
		if ps, err := decodePositions(raw); err != nil {
			slog.Warn("ignoring malformed positions record", "scope", scope.String(), "err", err)
		} else {
			snap.Positions = ps
		}
	}
	return snap, nil
}

func (w *Wallet) persist(ctx context.Context, s ledger.Snapshot, fields ...store.Field) error {
	recs, err := records(s, fields...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := w.store.Put(ctx, w.scope, recs); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, w.scope, err)
	}
	return nil
}

func (w *Wallet) commit(s ledger.Snapshot) {
	w.state = s
	metrics.WalletBalance.Set(s.Balance.InexactFloat64())
	metrics.OpenPositions.Set(float64(len(s.Positions)))
}

func (w *Wallet) stateLocked() model.WalletState {
	return model.WalletState{
		UserID:    userID(w.scope),
		Balance:   w.state.Balance,
		Positions: w.state.Clone().Positions,
	}
}

func (w *Wallet) notify(c Change) {
	for _, fn := range w.listeners {
		fn(c)
	}
}

func userID(scope model.Scope) *string {
	if scope.IsGuest() {
		return nil
	}
	id := scope.UserID
	return &id
}
