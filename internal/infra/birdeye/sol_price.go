package birdeye

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// WrappedSOL is the wrapped SOL mint used for SOL/USD quotes
const WrappedSOL = "So11111111111111111111111111111111111111112"

// PriceSource fetches a spot price
type PriceSource interface {
	TokenPrice(ctx context.Context, address string) (Price, error)
}

// SolPriceTracker polls the SOL/USD price so SOL volumes can be shown in USD.
type SolPriceTracker struct {
	source       PriceSource
	onUpdate     func(decimal.Decimal)
	price        decimal.Decimal
	mu           sync.RWMutex
	pollInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	logger       *slog.Logger
}

// NewSolPriceTracker creates a tracker; onUpdate may be nil
func NewSolPriceTracker(source PriceSource, pollInterval time.Duration, onUpdate func(decimal.Decimal)) *SolPriceTracker {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second // Default: 1 minute
	}
	return &SolPriceTracker{
		source:       source,
		onUpdate:     onUpdate,
		price:        decimal.Zero,
		pollInterval: pollInterval,
		logger:       slog.Default().With("module", "sol_price"),
	}
}

// Start fetches once and then polls until Stop or ctx is done
func (t *SolPriceTracker) Start(ctx context.Context) {
	// Create a cancellable context
	ctx, t.cancel = context.WithCancel(ctx)

	// Fetch immediately on start
	if err := t.refresh(ctx); err != nil {
		t.logger.Warn("Initial SOL price fetch failed", slog.Any("error", err))
		// Continue anyway - will retry on next tick
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("SOL price polling panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(t.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.refresh(ctx); err != nil {
					t.logger.Warn("SOL price fetch failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// refresh relies on the client's retry policy and cache
func (t *SolPriceTracker) refresh(ctx context.Context) error {
	p, err := t.source.TokenPrice(ctx, WrappedSOL)
	if err != nil {
		return err
	}
	if !p.Value.IsPositive() {
		return nil
	}

	t.mu.Lock()
	old := t.price
	t.price = p.Value
	t.mu.Unlock()

	// Notify if price changed
	if !old.Equal(p.Value) && t.onUpdate != nil {
		t.logger.Debug("SOL price updated",
			slog.String("price", p.Value.String()),
			slog.String("old_price", old.String()),
		)
		t.onUpdate(p.Value)
	}
	return nil
}

// Stop stops the polling
func (t *SolPriceTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
}

// Price returns the last known SOL/USD price, zero until the first success
func (t *SolPriceTracker) Price() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.price
}

// ToUSD converts a SOL amount with the last known price.
// ok is false while no price is known.
func (t *SolPriceTracker) ToUSD(sol decimal.Decimal) (decimal.Decimal, bool) {
	p := t.Price()
	if p.IsZero() {
		return decimal.Zero, false
	}
	return sol.Mul(p).Round(2), true
}
