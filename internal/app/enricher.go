package app

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/birdeye"
)

const enrichTimeout = 10 * time.Second

// MetadataSource resolves token metadata
type MetadataSource interface {
	TokenMetadata(ctx context.Context, address string) (birdeye.TokenMetadata, error)
}

// LaunchEnricher stores metadata on a launch still held under signature
type LaunchEnricher interface {
	EnrichLaunch(mint, signature, name, symbol, uri string) (domain.TokenLaunch, bool)
}

// Enricher fills in name, symbol and logo of new launches from Birdeye.
// Lookups run in the background, at most 5 at a time; a full pool skips the launch.
type Enricher struct {
	source   MetadataSource
	recorder LaunchEnricher
	logos    *infra.LogoDownloader
	sem      chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	logger   *slog.Logger
}

// NewEnricher creates an enricher. logos may be nil.
func NewEnricher(ctx context.Context, source MetadataSource, recorder LaunchEnricher, logos *infra.LogoDownloader) *Enricher {
	return &Enricher{
		source:   source,
		recorder: recorder,
		logos:    logos,
		sem:      make(chan struct{}, 5), // Limit concurrent lookups
		ctx:      ctx,
		logger:   slog.Default().With("module", "enricher"),
	}
}

func (e *Enricher) OnTrade(domain.TradeActivity) {}

func (e *Enricher) OnLaunch(l domain.TokenLaunch) {
	if l.Name != "" || l.Symbol != "" {
		return // already enriched
	}

	select {
	case e.sem <- struct{}{}: // Acquire
	default:
		e.logger.Debug("Enrichment pool busy, skipping", slog.String("mint", l.TokenMint))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() { <-e.sem }() // Release
		e.enrich(l)
	}()
}

func (e *Enricher) enrich(l domain.TokenLaunch) {
	ctx, cancel := context.WithTimeout(e.ctx, enrichTimeout)
	defer cancel()

	meta, err := e.source.TokenMetadata(ctx, l.TokenMint)
	if err != nil {
		// brand-new mints are often unknown to the indexer yet
		e.logger.Debug("Metadata lookup failed", slog.String("mint", l.TokenMint), slog.Any("error", err))
		return
	}
	if meta.Name == "" && meta.Symbol == "" {
		return
	}

	if _, ok := e.recorder.EnrichLaunch(l.TokenMint, l.Signature, meta.Name, meta.Symbol, meta.LogoURI); !ok {
		e.logger.Debug("Launch superseded during lookup", slog.String("mint", l.TokenMint))
	}

	if e.logos != nil && meta.LogoURI != "" {
		if _, err := e.logos.Thumbnail(ctx, l.TokenMint, meta.LogoURI); err != nil {
			e.logger.Warn("Failed to download logo", slog.String("mint", l.TokenMint), slog.Any("error", err))
		}
	}
}

// Wait blocks until pending lookups finish
func (e *Enricher) Wait() {
	e.wg.Wait()
}
