package wallet

import (
	"context"
	"errors"
	"sync"

	"github.com/polypredict/ledger-engine/internal/model"
	"github.com/polypredict/ledger-engine/internal/store"
)

// Registry holds one Wallet per identity scope. Each wallet is bound to its
// scope for its whole life, so concurrent callers acting for different
// identities never share state.
type Registry struct {
	store store.Store
	opts  []Option

	mu      sync.Mutex
	wallets map[model.Scope]*Wallet
}

// NewRegistry creates a registry whose wallets share st and opts.
func NewRegistry(st store.Store, opts ...Option) *Registry {
	return &Registry{
		store:   st,
		opts:    opts,
		wallets: make(map[model.Scope]*Wallet),
	}
}

// Open returns the wallet of scope, loading it from storage on first use.
func (r *Registry) Open(ctx context.Context, scope model.Scope) (*Wallet, error) {
	r.mu.Lock()
	w, ok := r.wallets[scope]
	r.mu.Unlock()
	if ok {
		return w, nil
	}

	// Load outside the lock; a concurrent first open of the same scope
	// keeps whichever wallet was stored first.
	fresh := New(r.store, r.opts...)
	if err := fresh.Initialize(ctx, scope); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[scope]; ok {
		return w, nil
	}
	r.wallets[scope] = fresh
	return fresh, nil
}

// Reload re-reads scope's records into its wallet, opening it if needed.
func (r *Registry) Reload(ctx context.Context, scope model.Scope) (*Wallet, error) {
	r.mu.Lock()
	w, ok := r.wallets[scope]
	r.mu.Unlock()
	if !ok {
		return r.Open(ctx, scope)
	}
	if err := w.Initialize(ctx, scope); err != nil {
		return nil, err
	}
	return w, nil
}

// UpdatePositionPrices reprices every open wallet. A failure in one wallet
// does not stop the others; all errors are returned joined.
func (r *Registry) UpdatePositionPrices(ctx context.Context, quotes model.MarketPrices) error {
	r.mu.Lock()
	open := make([]*Wallet, 0, len(r.wallets))
	for _, w := range r.wallets {
		open = append(open, w)
	}
	r.mu.Unlock()

	var errs []error
	for _, w := range open {
		if err := w.UpdatePositionPrices(ctx, quotes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Scopes lists the scopes with an open wallet.
func (r *Registry) Scopes() []model.Scope {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Scope, 0, len(r.wallets))
	for s := range r.wallets {
		out = append(out, s)
	}
	return out
}
