package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"solscope/internal/domain"
)

const (
	dashboardLaunches  = 10
	dashboardTrades    = 20
	ohlcvLookback      = 24 * time.Hour
	detailTrades       = 20
	defaultTokenTrades = 50
	maxTokenTrades     = 500
)

// =====================================================
// pump.fun monitor
// =====================================================

type pumpFunResponse struct {
	Stats          domain.MonitorStats    `json:"stats"`
	RecentLaunches []domain.TokenLaunch   `json:"recentLaunches"`
	RecentTrades   []domain.TradeActivity `json:"recentTrades"`
	IsMonitoring   bool                   `json:"isMonitoring"`
	Success        bool                   `json:"success"`
	Error          string                 `json:"error,omitempty"`

	// present once a SOL/USD price is known
	SolPriceUSD     *decimal.Decimal `json:"solPriceUsd,omitempty"`
	HourlyVolumeUSD *decimal.Decimal `json:"hourlyVolumeUsd,omitempty"`
}

func (s *Server) getPumpFun(c *gin.Context) {
	resp, err := s.dashboard()
	if err != nil {
		s.logger.Error("PumpFun dashboard failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, pumpFunResponse{
			Stats: domain.MonitorStats{
				HourlyBuyVolume:   decimal.Zero,
				HourlySellVolume:  decimal.Zero,
				TotalHourlyVolume: decimal.Zero,
			},
			RecentLaunches: []domain.TokenLaunch{},
			RecentTrades:   []domain.TradeActivity{},
			Error:          "Failed to fetch PumpFun data",
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// dashboard converts a panic in the accessors into an error response
func (s *Server) dashboard() (resp pumpFunResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dashboard panic: %v", r)
		}
	}()

	trades := s.monitor.AllRecentTrades()
	if len(trades) > dashboardTrades {
		trades = trades[len(trades)-dashboardTrades:]
	}
	launches := s.monitor.RecentLaunches(dashboardLaunches)
	if launches == nil {
		launches = []domain.TokenLaunch{}
	}
	if trades == nil {
		trades = []domain.TradeActivity{}
	}

	resp = pumpFunResponse{
		Stats:          s.monitor.Stats(),
		RecentLaunches: launches,
		RecentTrades:   trades,
		IsMonitoring:   s.monitor.IsMonitoring(),
		Success:        true,
	}
	if s.solPrice != nil {
		if usd, ok := s.solPrice.ToUSD(resp.Stats.TotalHourlyVolume); ok {
			price := s.solPrice.Price()
			resp.SolPriceUSD = &price
			resp.HourlyVolumeUSD = &usd
		}
	}
	return resp, nil
}

type controlRequest struct {
	Action string `json:"action"`
}

func (s *Server) controlPumpFun(c *gin.Context) {
	var req controlRequest
	if err := c.ShouldBindJSON(&req); err != nil || (req.Action != "start" && req.Action != "stop") {
		c.JSON(http.StatusBadRequest, gin.H{"error": `Invalid action. Use "start" or "stop"`})
		return
	}

	if req.Action == "start" {
		if err := s.monitor.Start(c.Request.Context()); err != nil {
			s.logger.Error("Failed to start monitor", slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to control PumpFun monitor"})
			return
		}
	} else {
		s.monitor.Stop()
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"isMonitoring": s.monitor.IsMonitoring(),
		"message":      fmt.Sprintf("Monitor %sed successfully", req.Action),
	})
}

// =====================================================
// Birdeye proxy
// =====================================================

type birdeyeRequest struct {
	Endpoint string `json:"endpoint" form:"endpoint"`
	Address  string `json:"address" form:"address"`
	Type     string `json:"type" form:"type"`
}

func (s *Server) getBirdeye(c *gin.Context) {
	var req birdeyeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query"})
		return
	}
	s.serveBirdeye(c, req)
}

func (s *Server) postBirdeye(c *gin.Context) {
	var req birdeyeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
		return
	}
	s.serveBirdeye(c, req)
}

// addressRequired lists endpoints that need an address
var addressRequired = map[string]string{
	"overview": "overview",
	"metadata": "metadata",
	"ohlcv":    "OHLCV data",
	"trades":   "trades",
	"wallet":   "wallet analysis",
}

func (s *Server) serveBirdeye(c *gin.Context, req birdeyeRequest) {
	if req.Endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing endpoint parameter"})
		return
	}
	if what, ok := addressRequired[req.Endpoint]; ok && strings.TrimSpace(req.Address) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing address parameter for " + what})
		return
	}

	data, err := s.queryBirdeye(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, errUnknownEndpoint) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid endpoint parameter"})
			return
		}
		status := statusFor(err)
		s.logger.Warn("Birdeye API error",
			slog.String("endpoint", req.Endpoint),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		msg := "Failed to fetch data from Birdeye API"
		if status != http.StatusInternalServerError {
			msg = err.Error()
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, data)
}

var errUnknownEndpoint = errors.New("unknown endpoint")

func (s *Server) queryBirdeye(ctx context.Context, req birdeyeRequest) (any, error) {
	switch req.Endpoint {
	case "trending":
		return s.birdeye.TrendingTokens(ctx, 0)
	case "meme":
		return s.birdeye.TrendingMemeTokens(ctx, 0)
	case "overview":
		return s.birdeye.TokenOverview(ctx, req.Address)
	case "metadata":
		return s.birdeye.TokenMetadata(ctx, req.Address)
	case "ohlcv":
		interval := req.Type
		if interval == "" {
			interval = "1h"
		}
		// minute granularity keeps the cache key stable
		to := time.Now().Truncate(time.Minute)
		return s.birdeye.OHLCV(ctx, req.Address, to.Add(-ohlcvLookback), to, interval, "")
	case "trades":
		return s.birdeye.TokenTrades(ctx, req.Address, 0)
	case "wallet":
		return s.birdeye.WalletPortfolio(ctx, req.Address)
	default:
		return nil, errUnknownEndpoint
	}
}

// =====================================================
// Per-token views
// =====================================================

type tokenDetailResponse struct {
	Address      string                 `json:"address"`
	Launch       *domain.TokenLaunch    `json:"launch,omitempty"`
	LastPrice    *decimal.Decimal       `json:"lastPrice,omitempty"` // SOL per token
	RecentTrades []domain.TradeActivity `json:"recentTrades"`
	Success      bool                   `json:"success"`
}

func (s *Server) tokenDetail(c *gin.Context) {
	address := c.Param("address")
	resp := tokenDetailResponse{
		Address:      address,
		Launch:       s.launchOf(address),
		RecentTrades: s.mintTrades(address, detailTrades),
		Success:      true,
	}
	resp.LastPrice = s.lastPrice(c.Request.Context(), address, resp.RecentTrades)

	if resp.Launch == nil && resp.LastPrice == nil && len(resp.RecentTrades) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Token not seen by the monitor"})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) tokenTrades(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"), defaultTokenTrades, maxTokenTrades)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	address := c.Param("address")
	c.JSON(http.StatusOK, gin.H{
		"address": address,
		"trades":  s.mintTrades(address, limit),
		"success": true,
	})
}

func parseLimit(raw string, def, max int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidArgument)
	}
	return min(n, max), nil
}

// launchOf prefers the live launch map and falls back to the journal
func (s *Server) launchOf(mint string) *domain.TokenLaunch {
	if l, ok := s.monitor.Launch(mint); ok {
		return &l
	}
	if s.journal == nil {
		return nil
	}
	l, err := s.journal.GetLaunch(mint)
	if err != nil {
		s.logger.Warn("Failed to read journaled launch", slog.String("mint", mint), slog.Any("error", err))
		return nil
	}
	return l
}

// mintTrades returns up to limit trades of mint, newest first. In-memory
// history is topped up from the journal, which keeps evicted trades.
func (s *Server) mintTrades(mint string, limit int) []domain.TradeActivity {
	trades := s.monitor.TokenTrades(mint, limit)
	if s.journal != nil && len(trades) < limit {
		stored, err := s.journal.TradesByMint(mint, limit)
		if err != nil {
			s.logger.Warn("Failed to read journaled trades", slog.String("mint", mint), slog.Any("error", err))
		}
		seen := make(map[string]struct{}, len(trades))
		for _, t := range trades {
			seen[t.Signature] = struct{}{}
		}
		for _, t := range stored {
			if _, dup := seen[t.Signature]; !dup {
				seen[t.Signature] = struct{}{}
				trades = append(trades, t)
			}
		}
		sort.SliceStable(trades, func(i, j int) bool {
			return trades[i].Timestamp.After(trades[j].Timestamp)
		})
		if len(trades) > limit {
			trades = trades[:limit]
		}
	}
	if trades == nil {
		trades = []domain.TradeActivity{}
	}
	return trades
}

// lastPrice reads the shared price key, else the newest known trade
func (s *Server) lastPrice(ctx context.Context, mint string, newestFirst []domain.TradeActivity) *decimal.Decimal {
	if s.prices != nil {
		raw, err := s.prices.LastPrice(ctx, mint)
		if err != nil {
			s.logger.Warn("Failed to read last price", slog.String("mint", mint), slog.Any("error", err))
		} else if raw != "" {
			if p, err := decimal.NewFromString(raw); err == nil {
				return &p
			}
		}
	}
	if len(newestFirst) > 0 {
		p := newestFirst[0].Price
		return &p
	}
	return nil
}

// =====================================================
// Token logos
// =====================================================

func (s *Server) tokenLogo(c *gin.Context) {
	if s.logos == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "logos disabled"})
		return
	}
	address := c.Param("address")

	if path, ok := s.logos.Cached(address); ok {
		c.File(path)
		return
	}

	meta, err := s.birdeye.TokenMetadata(c.Request.Context(), address)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "Failed to resolve token metadata"})
		return
	}
	if meta.LogoURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "token has no logo"})
		return
	}

	path, err := s.logos.Thumbnail(c.Request.Context(), address, meta.LogoURI)
	if err != nil {
		s.logger.Warn("Failed to fetch logo", slog.String("address", address), slog.Any("error", err))
		status := statusFor(err)
		if status != http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": "Failed to fetch logo"})
		return
	}
	c.File(path)
}
