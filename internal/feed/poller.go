package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polypredict/ledger-engine/internal/metrics"
	"github.com/polypredict/ledger-engine/internal/model"
)

// DefaultInterval matches the dashboard's refresh cadence.
const DefaultInterval = 30 * time.Second

// EventSource supplies the current events.
type EventSource interface {
	FetchEvents(ctx context.Context) ([]model.Event, error)
}

// PriceUpdater consumes quotes. *wallet.Wallet and *wallet.Registry
// satisfy it.
type PriceUpdater interface {
	UpdatePositionPrices(ctx context.Context, quotes model.MarketPrices) error
}

// Poller periodically pulls events and hands their quotes to the wallet.
// It keeps the last successful event list for read-only consumers.
type Poller struct {
	source   EventSource
	updater  PriceUpdater
	interval time.Duration

	mu       sync.RWMutex
	events   []model.Event
	lastPoll time.Time
}

// NewPoller creates a poller. A non-positive interval uses DefaultInterval.
func NewPoller(source EventSource, updater PriceUpdater, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		source:   source,
		updater:  updater,
		interval: interval,
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("quote poller started", "interval", p.interval.String())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("quote poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("quote poller stopped")
			return
		case <-ticker.C:
		}
	}
}

// Poll performs a single fetch-and-reprice cycle.
func (p *Poller) Poll(ctx context.Context) error {
	start := time.Now()
	events, err := p.source.FetchEvents(ctx)
	metrics.QuoteFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QuoteFetches.WithLabelValues("error").Inc()
		return err
	}
	metrics.QuoteFetches.WithLabelValues("ok").Inc()

	p.mu.Lock()
	p.events = events
	p.lastPoll = time.Now().UTC()
	p.mu.Unlock()

	quotes := ExtractMarketPrices(events)
	return p.updater.UpdatePositionPrices(ctx, quotes)
}

// Events returns the events from the last successful poll, and when it ran.
func (p *Poller) Events() ([]model.Event, time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]model.Event, len(p.events))
	copy(out, p.events)
	return out, p.lastPoll
}
