package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/birdeye"
	"solscope/internal/monitor"
)

type fakeSource struct {
	calls atomic.Int32
	meta  birdeye.TokenMetadata
	err   error
}

func (f *fakeSource) TokenMetadata(ctx context.Context, address string) (birdeye.TokenMetadata, error) {
	f.calls.Add(1)
	return f.meta, f.err
}

type fakeRecorder struct {
	mu       sync.Mutex
	launches []domain.TokenLaunch
}

func (r *fakeRecorder) EnrichLaunch(mint, signature, name, symbol, uri string) (domain.TokenLaunch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := domain.TokenLaunch{TokenMint: mint, Signature: signature, Name: name, Symbol: symbol, URI: uri}
	r.launches = append(r.launches, l)
	return l, true
}

// blockingSource holds every lookup until release is closed
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	meta    birdeye.TokenMetadata
}

func (b *blockingSource) TokenMetadata(ctx context.Context, address string) (birdeye.TokenMetadata, error) {
	b.started <- struct{}{}
	<-b.release
	return b.meta, nil
}

func TestEnricher(t *testing.T) {
	tests := []struct {
		name     string
		launch   domain.TokenLaunch
		source   *fakeSource
		calls    int32
		recorded int
	}{
		{
			name:     "fills metadata",
			launch:   domain.TokenLaunch{TokenMint: "MINT"},
			source:   &fakeSource{meta: birdeye.TokenMetadata{Name: "Dog", Symbol: "DOG", LogoURI: "https://x/logo.png"}},
			calls:    1,
			recorded: 1,
		},
		{
			name:   "already enriched",
			launch: domain.TokenLaunch{TokenMint: "MINT", Name: "Dog"},
			source: &fakeSource{},
		},
		{
			name:   "lookup error",
			launch: domain.TokenLaunch{TokenMint: "MINT"},
			source: &fakeSource{err: errors.New("not indexed")},
			calls:  1,
		},
		{
			name:   "empty metadata",
			launch: domain.TokenLaunch{TokenMint: "MINT"},
			source: &fakeSource{},
			calls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			e := NewEnricher(context.Background(), tt.source, rec, nil)

			e.OnLaunch(tt.launch)
			e.Wait()

			if got := tt.source.calls.Load(); got != tt.calls {
				t.Errorf("metadata calls = %d, want %d", got, tt.calls)
			}
			if len(rec.launches) != tt.recorded {
				t.Fatalf("recorded = %d, want %d", len(rec.launches), tt.recorded)
			}
			if tt.recorded > 0 {
				l := rec.launches[0]
				if l.Name != "Dog" || l.Symbol != "DOG" || l.URI != "https://x/logo.png" || l.TokenMint != "MINT" {
					t.Errorf("unexpected enriched launch %+v", l)
				}
			}
		})
	}
}

func TestEnricher_RedetectionDuringLookup(t *testing.T) {
	metrics := infra.NewMetrics()
	mon := monitor.New(monitor.Config{}, nil, nil, metrics)
	src := &blockingSource{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		meta:    birdeye.TokenMetadata{Name: "Old", Symbol: "OLD"},
	}
	e := NewEnricher(context.Background(), src, mon, nil)
	mon.AddObserver(e)

	now := time.Now()
	mon.RecordLaunch(domain.TokenLaunch{TokenMint: "MINT", Creator: "C1", Signature: "first", Timestamp: now})
	<-src.started

	// second detection while the first lookup is blocked
	mon.RecordLaunch(domain.TokenLaunch{TokenMint: "MINT", Creator: "C2", Signature: "second", Timestamp: now.Add(time.Second)})

	close(src.release)
	<-src.started // the second detection's lookup
	e.Wait()

	if got := metrics.Snapshot().Launches; got != 2 {
		t.Errorf("launch metric = %d, want 2", got)
	}
	launches := mon.RecentLaunches(-1)
	if len(launches) != 1 {
		t.Fatalf("expected one launch, got %d", len(launches))
	}
	l := launches[0]
	if l.Signature != "second" || l.Creator != "C2" {
		t.Errorf("expected the second detection to stay, got %+v", l)
	}
	if l.Name != "Old" || l.Symbol != "OLD" {
		t.Errorf("expected the second detection to be enriched, got %+v", l)
	}
}
