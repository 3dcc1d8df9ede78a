package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/infra"
)

// fakeFeed hands the registered handler back to the test
type fakeFeed struct {
	mu         sync.Mutex
	subscribes atomic.Int32
	handler    domain.LogHandler
	sub        *fakeSub
	err        error
}

func (f *fakeFeed) Subscribe(ctx context.Context, programID string, handler domain.LogHandler) (domain.Subscription, error) {
	f.subscribes.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.sub = &fakeSub{errCh: make(chan error, 1)}
	return f.sub, nil
}

func (f *fakeFeed) deliver(ev domain.LogEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

type fakeSub struct {
	once         sync.Once
	errCh        chan error
	unsubscribed atomic.Int32
}

func (s *fakeSub) Unsubscribe() {
	s.unsubscribed.Add(1)
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

type fakeLedger struct {
	mu  sync.Mutex
	txs map[string]*domain.ConfirmedTransaction
}

func (l *fakeLedger) GetTransaction(ctx context.Context, sig string) (*domain.ConfirmedTransaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, ok := l.txs[sig]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return tx, nil
}

// countingLedger counts fetches; release, when set, holds every fetch
type countingLedger struct {
	fakeLedger
	calls   atomic.Int32
	release chan struct{}
}

func (l *countingLedger) GetTransaction(ctx context.Context, sig string) (*domain.ConfirmedTransaction, error) {
	l.calls.Add(1)
	if l.release != nil {
		<-l.release
	}
	return l.fakeLedger.GetTransaction(ctx, sig)
}

type recordingObserver struct {
	mu       sync.Mutex
	launches []domain.TokenLaunch
	trades   []domain.TradeActivity
}

func (o *recordingObserver) OnLaunch(l domain.TokenLaunch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.launches = append(o.launches, l)
}

func (o *recordingObserver) OnTrade(t domain.TradeActivity) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.trades = append(o.trades, t)
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestMonitor(cfg Config, feed domain.LogFeed, ledger domain.LedgerReader) *Monitor {
	return New(cfg, feed, ledger, infra.NewMetrics()).WithClock(func() time.Time { return testNow })
}

func trade(sig, mint string, at time.Time, buy bool, sol string) domain.TradeActivity {
	return domain.TradeActivity{
		Signature:   sig,
		TokenMint:   mint,
		Trader:      traderAddr,
		IsBuy:       buy,
		SolAmount:   dec(sol),
		TokenAmount: dec("1000"),
		Price:       dec(sol).Div(dec("1000")),
		Timestamp:   at,
	}
}

func TestMonitor_TradeHistoryCap(t *testing.T) {
	m := newTestMonitor(Config{MaxHistory: 1000}, &fakeFeed{}, &fakeLedger{})

	for i := 0; i < 1001; i++ {
		m.RecordTrade(trade(fmt.Sprintf("sig-%d", i), mintAddr, testNow, true, "0.01"))
	}

	all := m.AllRecentTrades()
	if len(all) != 1000 {
		t.Fatalf("Expected 1000 trades, got %d", len(all))
	}
	if all[0].Signature != "sig-1" {
		t.Errorf("Expected oldest entry evicted, first = %s", all[0].Signature)
	}
	if all[999].Signature != "sig-1000" {
		t.Errorf("Expected newest last, got %s", all[999].Signature)
	}
	if got := m.Stats().TotalTrades; got != 1001 {
		t.Errorf("TotalTrades = %d, want 1001", got)
	}

	recent := m.RecentTrades(2)
	if len(recent) != 2 || recent[0].Signature != "sig-1000" || recent[1].Signature != "sig-999" {
		t.Errorf("RecentTrades should be newest first, got %v", recent)
	}
}

func TestMonitor_LaunchUpsert(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})

	m.RecordLaunch(domain.TokenLaunch{TokenMint: mintAddr, Creator: traderAddr, Timestamp: testNow})
	m.RecordLaunch(domain.TokenLaunch{TokenMint: mintAddr, Creator: traderAddr, Name: "Dog", Timestamp: testNow})
	m.RecordLaunch(domain.TokenLaunch{TokenMint: otherMint, Creator: traderAddr, Timestamp: testNow.Add(time.Second)})

	if got := m.Stats().TotalTokensLaunched; got != 2 {
		t.Errorf("TotalTokensLaunched = %d, want 2", got)
	}

	launches := m.RecentLaunches(10)
	if len(launches) != 2 || launches[0].TokenMint != otherMint {
		t.Fatalf("Expected newest launch first, got %+v", launches)
	}
	if launches[1].Name != "Dog" {
		t.Errorf("Expected last write to win, got %+v", launches[1])
	}
}

func TestMonitor_LaunchCap(t *testing.T) {
	m := newTestMonitor(Config{MaxLaunches: 2}, &fakeFeed{}, &fakeLedger{})

	for i, mint := range []string{"a", "b", "c"} {
		m.RecordLaunch(domain.TokenLaunch{TokenMint: mint, Timestamp: testNow.Add(time.Duration(i) * time.Second)})
	}

	launches := m.RecentLaunches(-1)
	if len(launches) != 2 || launches[0].TokenMint != "c" || launches[1].TokenMint != "b" {
		t.Errorf("Expected the oldest launch evicted, got %+v", launches)
	}
}

func TestMonitor_Lifecycle(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestMonitor(Config{}, feed, &fakeLedger{})

	// Stop while stopped is a no-op
	m.Stop()
	if m.IsMonitoring() {
		t.Fatal("Monitor should start stopped")
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if got := feed.subscribes.Load(); got != 1 {
		t.Errorf("Expected one subscription, got %d", got)
	}
	if !m.IsMonitoring() {
		t.Error("Expected monitoring after Start")
	}

	m.Stop()
	m.Stop()
	if m.IsMonitoring() {
		t.Error("Expected stopped after Stop")
	}
	if got := feed.sub.unsubscribed.Load(); got != 1 {
		t.Errorf("Expected one Unsubscribe, got %d", got)
	}

	if err := m.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if got := feed.subscribes.Load(); got != 2 {
		t.Errorf("Expected a fresh subscription on restart, got %d", got)
	}
	m.Stop()
}

func TestMonitor_StartFailure(t *testing.T) {
	feed := &fakeFeed{err: errors.New("dial refused")}
	m := newTestMonitor(Config{}, feed, &fakeLedger{})

	if err := m.Start(context.Background()); err == nil {
		t.Fatal("Expected Start to fail")
	}
	if m.IsMonitoring() {
		t.Error("Expected stopped after failed Start")
	}
	if m.State().LastError == "" {
		t.Error("Expected last error to be recorded")
	}
}

func TestMonitor_FeedErrorStopsMonitoring(t *testing.T) {
	feed := &fakeFeed{}
	m := newTestMonitor(Config{}, feed, &fakeLedger{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	feed.sub.errCh <- domain.ErrSubscriptionClosed

	deadline := time.Now().Add(time.Second)
	for m.IsMonitoring() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.IsMonitoring() {
		t.Fatal("Expected monitoring to stop after a feed error")
	}
	if m.State().LastError == "" {
		t.Error("Expected feed error in state")
	}
}

func TestMonitor_EndToEndBuy(t *testing.T) {
	feed := &fakeFeed{}
	ledger := &fakeLedger{txs: map[string]*domain.ConfirmedTransaction{
		"buy-sig": tradeTx("buy-sig", -20_000_000, "0", "1000"),
	}}
	m := newTestMonitor(Config{}, feed, ledger)
	obs := &recordingObserver{}
	m.AddObserver(obs)

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	feed.deliver(domain.LogEvent{Signature: "buy-sig", Slot: 1, Logs: []string{"Program log: Instruction: Buy"}})
	feed.deliver(domain.LogEvent{Signature: "noise", Slot: 2, Logs: []string{"Program log: Instruction: Transfer"}})
	m.Wait()

	trades := m.RecentTrades(10)
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}
	tr := trades[0]
	if !tr.IsBuy || !tr.SolAmount.Equal(dec("0.02")) || !tr.TokenAmount.Equal(dec("1000")) {
		t.Errorf("Unexpected trade %+v", tr)
	}
	if !tr.Price.Equal(dec("0.00002")) {
		t.Errorf("Price = %s, want 0.00002", tr.Price)
	}

	stats := m.Stats()
	if !stats.HourlyBuyVolume.Equal(dec("0.02")) {
		t.Errorf("HourlyBuyVolume = %s, want 0.02", stats.HourlyBuyVolume)
	}
	if !stats.HourlySellVolume.IsZero() || !stats.TotalHourlyVolume.Equal(dec("0.02")) {
		t.Errorf("Unexpected volumes %+v", stats)
	}
	if stats.RecentTrades != 1 || stats.TotalTrades != 1 {
		t.Errorf("Unexpected counts %+v", stats)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.trades) != 1 {
		t.Errorf("Expected observer notified once, got %d", len(obs.trades))
	}
}

func TestMonitor_EventsIgnoredWhileStopped(t *testing.T) {
	feed := &fakeFeed{}
	ledger := &fakeLedger{txs: map[string]*domain.ConfirmedTransaction{
		"buy-sig": tradeTx("buy-sig", -20_000_000, "0", "1000"),
	}}
	m := newTestMonitor(Config{}, feed, ledger)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	m.Stop()

	feed.deliver(domain.LogEvent{Signature: "buy-sig", Logs: []string{"Program log: Instruction: Buy"}})
	m.Wait()

	if n := len(m.AllRecentTrades()); n != 0 {
		t.Errorf("Expected no trades after Stop, got %d", n)
	}
}

func TestMonitor_StatsWindow(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})

	m.RecordTrade(trade("old", mintAddr, testNow.Add(-2*time.Hour), true, "5"))
	m.RecordTrade(trade("edge", mintAddr, testNow.Add(-time.Hour), true, "7"))
	m.RecordTrade(trade("buy", mintAddr, testNow.Add(-10*time.Minute), true, "1.5"))
	m.RecordTrade(trade("sell", mintAddr, testNow.Add(-time.Minute), false, "0.5"))

	stats := m.Stats()
	if stats.RecentTrades != 2 {
		t.Errorf("RecentTrades = %d, want 2", stats.RecentTrades)
	}
	if !stats.HourlyBuyVolume.Equal(dec("1.5")) || !stats.HourlySellVolume.Equal(dec("0.5")) {
		t.Errorf("Unexpected volumes buy=%s sell=%s", stats.HourlyBuyVolume, stats.HourlySellVolume)
	}
	if !stats.TotalHourlyVolume.Equal(decimal.NewFromInt(2)) {
		t.Errorf("TotalHourlyVolume = %s, want 2", stats.TotalHourlyVolume)
	}
}

func TestMonitor_TokenTrades(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})

	m.RecordTrade(trade("a1", mintAddr, testNow.Add(-3*time.Minute), true, "1"))
	m.RecordTrade(trade("b1", otherMint, testNow.Add(-2*time.Minute), true, "1"))
	m.RecordTrade(trade("a2", mintAddr, testNow.Add(-time.Minute), false, "1"))

	got := m.TokenTrades(mintAddr, 10)
	if len(got) != 2 || got[0].Signature != "a2" || got[1].Signature != "a1" {
		t.Errorf("Unexpected token trades %+v", got)
	}
	if got := m.TokenTrades(mintAddr, 1); len(got) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(got))
	}
}

func TestMonitor_SeedDoesNotNotify(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})
	obs := &recordingObserver{}
	m.AddObserver(obs)

	m.Seed(
		[]domain.TokenLaunch{{TokenMint: mintAddr, Timestamp: testNow}},
		[]domain.TradeActivity{trade("s1", mintAddr, testNow, true, "1"), trade("s2", mintAddr, testNow, true, "1")},
	)

	stats := m.Stats()
	if stats.TotalTokensLaunched != 1 || stats.TotalTrades != 2 {
		t.Errorf("Unexpected stats after seed %+v", stats)
	}
	if len(obs.launches)+len(obs.trades) != 0 {
		t.Error("Seed must not notify observers")
	}
}

func TestMonitor_LaunchAndTradeShareOneFetch(t *testing.T) {
	feed := &fakeFeed{}
	ledger := &countingLedger{fakeLedger: fakeLedger{txs: map[string]*domain.ConfirmedTransaction{
		"create-buy": tradeTx("create-buy", -20_000_000, "", "1000"),
	}}}
	m := newTestMonitor(Config{}, feed, ledger)
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	feed.deliver(domain.LogEvent{Signature: "create-buy", Logs: []string{
		"Program log: Instruction: Create",
		"Program log: Instruction: Buy",
	}})
	m.Wait()

	if got := ledger.calls.Load(); got != 1 {
		t.Errorf("Expected one fetch, got %d", got)
	}
	launches := m.RecentLaunches(-1)
	if len(launches) != 1 || launches[0].TokenMint != mintAddr || launches[0].Signature != "create-buy" {
		t.Errorf("Expected the launch to be recorded, got %+v", launches)
	}
	trades := m.AllRecentTrades()
	if len(trades) != 1 || !trades[0].IsBuy || trades[0].Signature != "create-buy" {
		t.Errorf("Expected the buy to be recorded, got %+v", trades)
	}
}

func TestMonitor_SaturatedPoolDropsEvents(t *testing.T) {
	feed := &fakeFeed{}
	ledger := &countingLedger{
		fakeLedger: fakeLedger{txs: map[string]*domain.ConfirmedTransaction{
			"first":  tradeTx("first", -20_000_000, "0", "1000"),
			"second": tradeTx("second", -20_000_000, "0", "1000"),
		}},
		release: make(chan struct{}),
	}
	metrics := infra.NewMetrics()
	m := New(Config{MaxConcurrentFetches: 1}, feed, ledger, metrics).WithClock(func() time.Time { return testNow })
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer m.Stop()

	buy := []string{"Program log: Instruction: Buy"}
	feed.deliver(domain.LogEvent{Signature: "first", Logs: buy})
	feed.deliver(domain.LogEvent{Signature: "second", Logs: buy})

	close(ledger.release)
	m.Wait()

	if got := metrics.Snapshot().DroppedEvents; got != 1 {
		t.Errorf("droppedEvents = %d, want 1", got)
	}
	if got := ledger.calls.Load(); got != 1 {
		t.Errorf("Expected only the first event fetched, got %d", got)
	}
	trades := m.AllRecentTrades()
	if len(trades) != 1 || trades[0].Signature != "first" {
		t.Errorf("Expected only the first trade, got %+v", trades)
	}
}

// enrichObserver records metadata updates
type enrichObserver struct {
	recordingObserver
	enriched []domain.TokenLaunch
}

func (o *enrichObserver) OnLaunchEnriched(l domain.TokenLaunch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enriched = append(o.enriched, l)
}

func TestMonitor_EnrichLaunch(t *testing.T) {
	metrics := infra.NewMetrics()
	m := New(Config{}, &fakeFeed{}, &fakeLedger{}, metrics)
	obs := &enrichObserver{}
	m.AddObserver(obs)

	m.RecordLaunch(domain.TokenLaunch{TokenMint: mintAddr, Creator: traderAddr, Signature: "first", Timestamp: testNow})

	t.Run("stale signature is ignored", func(t *testing.T) {
		if _, ok := m.EnrichLaunch(mintAddr, "other", "Dog", "DOG", ""); ok {
			t.Error("Expected a mismatched signature to be rejected")
		}
		if _, ok := m.EnrichLaunch(otherMint, "first", "Dog", "DOG", ""); ok {
			t.Error("Expected an unknown mint to be rejected")
		}
	})

	t.Run("matching signature updates in place", func(t *testing.T) {
		l, ok := m.EnrichLaunch(mintAddr, "first", "Dog", "DOG", "https://x/logo.png")
		if !ok || l.Name != "Dog" || l.Creator != traderAddr || !l.Timestamp.Equal(testNow) {
			t.Fatalf("Unexpected enrichment %+v %v", l, ok)
		}
		if got := m.RecentLaunches(1)[0]; got.Symbol != "DOG" || got.URI != "https://x/logo.png" {
			t.Errorf("Expected stored launch updated, got %+v", got)
		}
	})

	if got := metrics.Snapshot().Launches; got != 1 {
		t.Errorf("launch metric = %d, want 1", got)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.launches) != 1 || len(obs.enriched) != 1 || obs.enriched[0].Name != "Dog" {
		t.Errorf("Expected one launch and one enrichment notification, got %d/%d", len(obs.launches), len(obs.enriched))
	}
}

type panickingObserver struct{}

func (panickingObserver) OnLaunch(domain.TokenLaunch)  { panic("boom") }
func (panickingObserver) OnTrade(domain.TradeActivity) { panic("boom") }

func TestMonitor_ObserverPanicIsContained(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})
	obs := &recordingObserver{}
	m.AddObserver(panickingObserver{})
	m.AddObserver(obs)

	m.RecordTrade(trade("sig", mintAddr, testNow, true, "1"))

	if len(obs.trades) != 1 {
		t.Error("Expected later observers to still be notified")
	}
}

func TestMonitor_Shutdown(t *testing.T) {
	m := newTestMonitor(Config{}, &fakeFeed{}, &fakeLedger{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if m.IsMonitoring() {
		t.Error("Expected stopped after Shutdown")
	}
}
