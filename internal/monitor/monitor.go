package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/event"
	"solscope/internal/infra"
)

// Config controls history sizes and fetch concurrency
type Config struct {
	ProgramID            string
	MaxHistory           int // trade history cap
	MaxLaunches          int // launch map cap, oldest first-seen evicted
	MaxConcurrentFetches int
	FetchTimeout         time.Duration
	StatsWindow          time.Duration
}

// DefaultConfig returns the pump.fun program with a 1000 trade history
func DefaultConfig() Config {
	return Config{
		ProgramID:            infra.PumpFunProgramID,
		MaxHistory:           1000,
		MaxLaunches:          10000,
		MaxConcurrentFetches: 16,
		FetchTimeout:         15 * time.Second,
		StatsWindow:          time.Hour,
	}
}

// Observer is notified after each successful state update, outside the lock.
type Observer interface {
	OnLaunch(domain.TokenLaunch)
	OnTrade(domain.TradeActivity)
}

// EnrichmentObserver is optionally implemented by observers that want
// metadata updates of launches already recorded.
type EnrichmentObserver interface {
	OnLaunchEnriched(domain.TokenLaunch)
}

// State is a read-only view of the lifecycle
type State struct {
	Monitoring bool   `json:"monitoring"`
	LastError  string `json:"lastError,omitempty"`
}

// Monitor aggregates pump.fun launches and trades from the program log feed.
// It starts Stopped; Start and Stop are idempotent.
type Monitor struct {
	cfg     Config
	feed    domain.LogFeed
	ledger  domain.LedgerReader
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// lifecycle
	lifeMu     sync.Mutex
	sub        domain.Subscription
	runCtx     context.Context
	gen        atomic.Uint64
	monitoring atomic.Bool
	lastErr    error

	// rolling state
	mu          sync.RWMutex
	launches    map[string]domain.TokenLaunch
	launchOrder []string
	trades      []domain.TradeActivity
	totalTrades uint64

	obsMu     sync.RWMutex
	observers []Observer

	sem      chan struct{}
	inflight sync.WaitGroup
}

// New creates a stopped monitor
func New(cfg Config, feed domain.LogFeed, ledger domain.LedgerReader, metrics *infra.Metrics) *Monitor {
	def := DefaultConfig()
	if cfg.ProgramID == "" {
		cfg.ProgramID = def.ProgramID
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = def.MaxHistory
	}
	if cfg.MaxLaunches <= 0 {
		cfg.MaxLaunches = def.MaxLaunches
	}
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.StatsWindow <= 0 {
		cfg.StatsWindow = def.StatsWindow
	}

	return &Monitor{
		cfg:      cfg,
		feed:     feed,
		ledger:   ledger,
		metrics:  metrics,
		logger:   slog.Default().With("module", "pumpfun_monitor"),
		now:      time.Now,
		launches: make(map[string]domain.TokenLaunch),
		trades:   make([]domain.TradeActivity, 0, cfg.MaxHistory),
		sem:      make(chan struct{}, cfg.MaxConcurrentFetches),
	}
}

// WithClock replaces the time source (tests)
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// AddObserver registers an observer for launches and trades
func (m *Monitor) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// =====================================================
// Lifecycle
// =====================================================

// Start subscribes to the program log feed. No-op while monitoring.
// ctx bounds the subscription handshake only.
func (m *Monitor) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.monitoring.Load() {
		return nil
	}

	gen := m.gen.Add(1)
	sub, err := m.feed.Subscribe(ctx, m.cfg.ProgramID, func(ev domain.LogEvent) {
		m.handleLog(gen, ev)
	})
	if err != nil {
		m.lastErr = err
		return fmt.Errorf("subscribe %s: %w", m.cfg.ProgramID, err)
	}

	m.sub = sub
	m.runCtx = context.WithoutCancel(ctx)
	m.lastErr = nil
	m.monitoring.Store(true)
	m.metrics.SetMonitoring(true)

	go m.watch(gen, sub)

	m.logger.Info("🚀 Monitoring started", slog.String("program", m.cfg.ProgramID))
	return nil
}

// Stop tears down the subscription. No-op while stopped.
// In-flight fetches are allowed to finish.
func (m *Monitor) Stop() {
	m.lifeMu.Lock()
	if !m.monitoring.Load() {
		m.lifeMu.Unlock()
		return
	}
	m.monitoring.Store(false)
	m.metrics.SetMonitoring(false)
	sub := m.sub
	m.sub = nil
	m.lifeMu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	m.logger.Info("🛑 Monitoring stopped")
}

// watch stops monitoring when the feed reports a terminal error.
// A new Start is required afterwards.
func (m *Monitor) watch(gen uint64, sub domain.Subscription) {
	err, ok := <-sub.Err()
	if !ok {
		return
	}

	m.lifeMu.Lock()
	current := m.gen.Load() == gen && m.monitoring.Load()
	if current {
		m.monitoring.Store(false)
		m.metrics.SetMonitoring(false)
		m.sub = nil
		m.lastErr = err
	}
	m.lifeMu.Unlock()

	m.logger.Error("❌ Log feed failed, monitoring stopped", slog.Any("error", err))
	sub.Unsubscribe()
}

// IsMonitoring reports the lifecycle state
func (m *Monitor) IsMonitoring() bool {
	return m.monitoring.Load()
}

// State returns the lifecycle state and the last feed error
func (m *Monitor) State() State {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	s := State{Monitoring: m.monitoring.Load()}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Wait blocks until in-flight event processing completes
func (m *Monitor) Wait() {
	m.inflight.Wait()
}

// Shutdown stops monitoring and waits for in-flight work or ctx.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.Stop()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor shutdown: %w", ctx.Err())
	}
}

// =====================================================
// Event path
// =====================================================

// handleLog runs on the feed's delivery goroutine and must not block.
func (m *Monitor) handleLog(gen uint64, ev domain.LogEvent) {
	if !m.monitoring.Load() || m.gen.Load() != gen {
		return
	}

	receivedAt := m.now()
	events := Events(ev, receivedAt)

	qualifying := events[:0:0]
	for _, e := range events {
		switch e := e.(type) {
		case *event.LaunchEvent, *event.TradeEvent:
			qualifying = append(qualifying, e)
		case *event.IgnoredEvent:
			m.logger.Debug("Ignored log event",
				slog.String("signature", e.GetSignature()),
				slog.String("kind", e.GetKind().String()),
				slog.String("reason", e.Reason),
			)
		}
	}
	if len(qualifying) == 0 {
		return
	}

	select {
	case m.sem <- struct{}{}:
	default:
		m.metrics.RecordDropped()
		m.logger.Warn("Fetch pool saturated, dropping event", slog.String("signature", ev.Signature))
		return
	}

	m.lifeMu.Lock()
	runCtx := m.runCtx
	m.lifeMu.Unlock()

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		defer func() { <-m.sem }()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Event processing panic recovered",
					slog.String("signature", ev.Signature),
					slog.Any("panic", r),
				)
			}
		}()
		m.process(runCtx, ev.Signature, qualifying)
	}()
}

// process fetches the transaction once and parses every qualifying event
func (m *Monitor) process(parent context.Context, signature string, events []event.Event) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, m.cfg.FetchTimeout)
	defer cancel()

	tx, err := m.ledger.GetTransaction(ctx, signature)
	if err != nil {
		m.metrics.RecordFetchError()
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrTransactionNotFound) {
			level = slog.LevelDebug
		}
		m.logger.Log(ctx, level, "Transaction fetch failed",
			slog.String("signature", signature),
			slog.Any("error", err),
		)
		return
	}

	for _, e := range events {
		m.logger.Debug("Parsing event", slog.String("signature", e.GetSignature()), slog.String("kind", e.GetKind().String()))
		switch e := e.(type) {
		case *event.LaunchEvent:
			launch, err := ParseLaunch(tx, e.ReceivedAt)
			if err != nil {
				m.skip(err)
				continue
			}
			m.RecordLaunch(launch)
		case *event.TradeEvent:
			trade, err := ParseTrade(tx, e.ReceivedAt)
			if err != nil {
				m.skip(err)
				continue
			}
			m.RecordTrade(trade)
		}
	}
}

func (m *Monitor) skip(err error) {
	m.metrics.RecordParseError()
	m.logger.Debug("Skipping unparseable transaction", slog.Any("error", err))
}

// =====================================================
// State updates
// =====================================================

// RecordLaunch upserts a launch by mint (last write wins) and notifies observers
func (m *Monitor) RecordLaunch(l domain.TokenLaunch) {
	m.mu.Lock()
	m.upsertLaunch(l)
	m.mu.Unlock()

	m.metrics.RecordLaunch()
	m.logger.Info("🆕 Token launch",
		slog.String("mint", l.TokenMint),
		slog.String("creator", l.Creator),
		slog.String("signature", l.Signature),
	)

	for _, o := range m.snapshotObservers() {
		m.notify(func() { o.OnLaunch(l) })
	}
}

// EnrichLaunch sets name, symbol and uri of a stored launch in place.
// It is a no-op returning false when the mint is gone or was re-detected
// under another signature since the lookup started.
func (m *Monitor) EnrichLaunch(mint, signature, name, symbol, uri string) (domain.TokenLaunch, bool) {
	m.mu.Lock()
	l, ok := m.launches[mint]
	if !ok || l.Signature != signature {
		m.mu.Unlock()
		return domain.TokenLaunch{}, false
	}
	l.Name = name
	l.Symbol = symbol
	l.URI = uri
	m.launches[mint] = l
	m.mu.Unlock()

	for _, o := range m.snapshotObservers() {
		if eo, ok := o.(EnrichmentObserver); ok {
			m.notify(func() { eo.OnLaunchEnriched(l) })
		}
	}
	return l, true
}

// upsertLaunch must be called with mu held
func (m *Monitor) upsertLaunch(l domain.TokenLaunch) {
	if _, exists := m.launches[l.TokenMint]; !exists {
		m.launchOrder = append(m.launchOrder, l.TokenMint)
		if over := len(m.launchOrder) - m.cfg.MaxLaunches; over > 0 {
			for _, mint := range m.launchOrder[:over] {
				delete(m.launches, mint)
			}
			m.launchOrder = append(m.launchOrder[:0], m.launchOrder[over:]...)
		}
	}
	m.launches[l.TokenMint] = l
}

// RecordTrade appends to the bounded history and notifies observers.
// After every insert len(history) <= MaxHistory; the oldest entry is evicted first.
func (m *Monitor) RecordTrade(t domain.TradeActivity) {
	m.mu.Lock()
	m.appendTrade(t)
	m.totalTrades++
	m.mu.Unlock()

	m.metrics.RecordTrade()
	m.logger.Debug("💱 Trade",
		slog.String("mint", t.TokenMint),
		slog.String("side", t.Side()),
		slog.String("sol", t.SolAmount.String()),
		slog.String("price", t.Price.String()),
	)

	for _, o := range m.snapshotObservers() {
		m.notify(func() { o.OnTrade(t) })
	}
}

// appendTrade must be called with mu held
func (m *Monitor) appendTrade(t domain.TradeActivity) {
	if len(m.trades) >= m.cfg.MaxHistory {
		over := len(m.trades) - m.cfg.MaxHistory + 1
		n := copy(m.trades, m.trades[over:])
		m.trades = m.trades[:n]
	}
	m.trades = append(m.trades, t)
}

// Seed loads persisted history without notifying observers.
// trades must be oldest first.
func (m *Monitor) Seed(launches []domain.TokenLaunch, trades []domain.TradeActivity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range launches {
		m.upsertLaunch(l)
	}
	for _, t := range trades {
		m.appendTrade(t)
	}
	m.totalTrades += uint64(len(trades))
}

func (m *Monitor) snapshotObservers() []Observer {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return append([]Observer(nil), m.observers...)
}

// notify isolates observer panics from the event path
func (m *Monitor) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Observer panic recovered", slog.Any("panic", r))
		}
	}()
	fn()
}

// =====================================================
// Accessors
// =====================================================

// Stats derives aggregates over the trailing window
func (m *Monitor) Stats() domain.MonitorStats {
	cutoff := m.now().Add(-m.cfg.StatsWindow)

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := domain.MonitorStats{
		TotalTokensLaunched: len(m.launches),
		TotalTrades:         m.totalTrades,
		HourlyBuyVolume:     decimal.Zero,
		HourlySellVolume:    decimal.Zero,
	}
	for i := range m.trades {
		t := &m.trades[i]
		// a trade exactly one window old is already out
		if !t.Timestamp.After(cutoff) {
			continue
		}
		stats.RecentTrades++
		if t.IsBuy {
			stats.HourlyBuyVolume = stats.HourlyBuyVolume.Add(t.SolAmount)
		} else {
			stats.HourlySellVolume = stats.HourlySellVolume.Add(t.SolAmount)
		}
	}
	stats.TotalHourlyVolume = stats.HourlyBuyVolume.Add(stats.HourlySellVolume)
	return stats
}

// Launch returns the stored launch of a mint
func (m *Monitor) Launch(mint string) (domain.TokenLaunch, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.launches[mint]
	return l, ok
}

// RecentLaunches returns up to n launches, newest timestamp first
func (m *Monitor) RecentLaunches(n int) []domain.TokenLaunch {
	m.mu.RLock()
	out := make([]domain.TokenLaunch, 0, len(m.launches))
	for _, l := range m.launches {
		out = append(out, l)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].TokenMint < out[j].TokenMint
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RecentTrades returns up to n trades, most recently recorded first
func (m *Monitor) RecentTrades(n int) []domain.TradeActivity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n < 0 || n > len(m.trades) {
		n = len(m.trades)
	}
	out := make([]domain.TradeActivity, 0, n)
	for i := len(m.trades) - 1; i >= len(m.trades)-n; i-- {
		out = append(out, m.trades[i])
	}
	return out
}

// AllRecentTrades returns a copy of the history, oldest first
func (m *Monitor) AllRecentTrades() []domain.TradeActivity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.TradeActivity(nil), m.trades...)
}

// TokenTrades returns up to n trades of one mint, newest timestamp first.
// Trades with equal timestamps keep recorded-later-first order.
func (m *Monitor) TokenTrades(mint string, n int) []domain.TradeActivity {
	m.mu.RLock()
	var out []domain.TradeActivity
	for i := len(m.trades) - 1; i >= 0; i-- {
		if m.trades[i].TokenMint == mint {
			out = append(out, m.trades[i])
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
