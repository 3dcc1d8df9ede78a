package birdeye

import (
	"context"
	"fmt"
	"strings"
	"time"

	"solscope/internal/domain"
)

const (
	pathTrending       = "/defi/token_trending"
	pathMemeList       = "/defi/v3/token/meme/list"
	pathMemeDetail     = "/defi/v3/token/meme/detail/single"
	pathMetadata       = "/defi/v3/token/meta-data/single"
	pathMarketData     = "/defi/v3/token/market-data"
	pathOverview       = "/defi/token_overview"
	pathTokenTrades    = "/defi/txs/token"
	pathPrice          = "/defi/price"
	pathMultiPrice     = "/defi/multi_price"
	pathSearch         = "/defi/v3/search"
	pathOHLCV          = "/defi/v3/ohlcv"
	pathNetWorth       = "/wallet/v2/current-net-worth"
	pathNetWorthSeries = "/wallet/v2/net-worth"
	pathPnL            = "/wallet/v2/pnl"
	pathTokenBalance   = "/v1/wallet/token_balance"
	pathPortfolio      = "/v1/wallet/token_list"

	uiAmountMode = "scaled"
	defaultLimit = 20
)

// Candle intervals accepted by the OHLCV endpoint
var intervals = map[string]bool{
	"1s": true, "15s": true, "30s": true, "1m": true, "3m": true, "5m": true,
	"15m": true, "30m": true, "1H": true, "2H": true, "4H": true, "6H": true,
	"8H": true, "12H": true, "1D": true, "3D": true, "1W": true, "1M": true,
}

// Meme list sources
const (
	SourcePumpFun  = "pump.fun"
	SourceMoonshot = "moonshot"
	SourceJupiter  = "jupiter"
)

// NormalizeInterval accepts lowercase hour/day/week forms ("1h" -> "1H").
// Minute ("1m") and month ("1M") are distinct and kept as given.
func NormalizeInterval(s string) (string, error) {
	if s == "" {
		return "1H", nil
	}
	if intervals[s] {
		return s, nil
	}
	if n := len(s); n > 1 {
		switch s[n-1] {
		case 'h', 'd', 'w':
			up := s[:n-1] + strings.ToUpper(s[n-1:])
			if intervals[up] {
				return up, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unsupported interval %q", domain.ErrInvalidArgument, s)
}

func normalizeCurrency(s string) (string, error) {
	switch s {
	case "":
		return "usd", nil
	case "usd", "native":
		return s, nil
	}
	return "", fmt.Errorf("%w: unsupported currency %q", domain.ErrInvalidArgument, s)
}

func requireAddress(name, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, name)
	}
	return nil
}

func limitOr(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

// TrendingTokens lists trending tokens by rank
func (c *Client) TrendingTokens(ctx context.Context, limit int) (TrendingTokens, error) {
	return get[TrendingTokens](ctx, c, pathTrending, Params{
		"sort_by":        "rank",
		"sort_type":      "asc",
		"offset":         0,
		"limit":          limitOr(limit, defaultLimit),
		"ui_amount_mode": uiAmountMode,
	})
}

// MemeListOptions filters the meme token list
type MemeListOptions struct {
	Limit        int
	Offset       int
	SortBy       string // default "volume_24h_usd"
	SortType     string // "asc" | "desc", default "desc"
	Source       string // optional: pump.fun, moonshot, jupiter
	MinMarketCap float64
	MaxMarketCap float64
}

// MemeTokens lists meme tokens with optional source and market-cap filters
func (c *Client) MemeTokens(ctx context.Context, opts MemeListOptions) (MemeTokenList, error) {
	if opts.SortBy == "" {
		opts.SortBy = "volume_24h_usd"
	}
	if opts.SortType == "" {
		opts.SortType = "desc"
	}
	if opts.SortType != "asc" && opts.SortType != "desc" {
		return MemeTokenList{}, fmt.Errorf("%w: sort_type %q", domain.ErrInvalidArgument, opts.SortType)
	}

	params := Params{
		"limit":          limitOr(opts.Limit, defaultLimit),
		"offset":         opts.Offset,
		"sort_by":        opts.SortBy,
		"sort_type":      opts.SortType,
		"source":         opts.Source,
		"ui_amount_mode": uiAmountMode,
	}
	if opts.MinMarketCap > 0 {
		params["min_market_cap"] = opts.MinMarketCap
	}
	if opts.MaxMarketCap > 0 {
		params["max_market_cap"] = opts.MaxMarketCap
	}
	return get[MemeTokenList](ctx, c, pathMemeList, params)
}

// TrendingMemeTokens: meme tokens by 24h volume
func (c *Client) TrendingMemeTokens(ctx context.Context, limit int) (MemeTokenList, error) {
	return c.MemeTokens(ctx, MemeListOptions{Limit: limit, SortBy: "volume_24h_usd", SortType: "desc"})
}

// NewMemeTokens: newest meme tokens first
func (c *Client) NewMemeTokens(ctx context.Context, limit int) (MemeTokenList, error) {
	return c.MemeTokens(ctx, MemeListOptions{Limit: limit, SortBy: "creation_time", SortType: "desc"})
}

// PumpFunTokens: newest pump.fun tokens
func (c *Client) PumpFunTokens(ctx context.Context, limit int) (MemeTokenList, error) {
	return c.MemeTokens(ctx, MemeListOptions{Limit: limit, SortBy: "creation_time", SortType: "desc", Source: SourcePumpFun})
}

// MoonshotTokens: newest moonshot tokens
func (c *Client) MoonshotTokens(ctx context.Context, limit int) (MemeTokenList, error) {
	return c.MemeTokens(ctx, MemeListOptions{Limit: limit, SortBy: "creation_time", SortType: "desc", Source: SourceMoonshot})
}

// MemeTokenDetail returns launchpad detail for a single meme token
func (c *Client) MemeTokenDetail(ctx context.Context, address string) (MemeTokenDetail, error) {
	if err := requireAddress("address", address); err != nil {
		return MemeTokenDetail{}, err
	}
	return get[MemeTokenDetail](ctx, c, pathMemeDetail, Params{"address": address, "ui_amount_mode": uiAmountMode})
}

// TokenMetadata returns name, symbol, decimals and links
func (c *Client) TokenMetadata(ctx context.Context, address string) (TokenMetadata, error) {
	if err := requireAddress("address", address); err != nil {
		return TokenMetadata{}, err
	}
	return get[TokenMetadata](ctx, c, pathMetadata, Params{"address": address})
}

// TokenMarketData returns price, liquidity and supply figures
func (c *Client) TokenMarketData(ctx context.Context, address string) (TokenMarketData, error) {
	if err := requireAddress("address", address); err != nil {
		return TokenMarketData{}, err
	}
	return get[TokenMarketData](ctx, c, pathMarketData, Params{"address": address, "ui_amount_mode": uiAmountMode})
}

// TokenOverview returns the combined overview of a token
func (c *Client) TokenOverview(ctx context.Context, address string) (TokenOverview, error) {
	if err := requireAddress("address", address); err != nil {
		return TokenOverview{}, err
	}
	return get[TokenOverview](ctx, c, pathOverview, Params{"address": address, "ui_amount_mode": uiAmountMode})
}

// TokenTrades returns the most recent swaps of a token, newest first
func (c *Client) TokenTrades(ctx context.Context, address string, limit int) (TokenTrades, error) {
	if err := requireAddress("address", address); err != nil {
		return TokenTrades{}, err
	}
	return get[TokenTrades](ctx, c, pathTokenTrades, Params{
		"address":        address,
		"offset":         0,
		"limit":          limitOr(limit, 50),
		"tx_type":        "swap",
		"sort_type":      "desc",
		"ui_amount_mode": uiAmountMode,
	})
}

// TokenPrice returns the spot price of a token
func (c *Client) TokenPrice(ctx context.Context, address string) (Price, error) {
	if err := requireAddress("address", address); err != nil {
		return Price{}, err
	}
	return get[Price](ctx, c, pathPrice, Params{
		"address":           address,
		"include_liquidity": true,
		"ui_amount_mode":    uiAmountMode,
	})
}

// MultiTokenPrices returns spot prices keyed by address
func (c *Client) MultiTokenPrices(ctx context.Context, addresses []string) (map[string]Price, error) {
	clean := make([]string, 0, len(addresses))
	for _, a := range addresses {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: at least one address is required", domain.ErrInvalidArgument)
	}
	return get[map[string]Price](ctx, c, pathMultiPrice, Params{
		"list_address":      strings.Join(clean, ","),
		"include_liquidity": true,
		"ui_amount_mode":    uiAmountMode,
	})
}

// SearchTokens runs a fuzzy token search ordered by 24h volume
func (c *Client) SearchTokens(ctx context.Context, keyword string, limit int) (SearchResult, error) {
	if strings.TrimSpace(keyword) == "" {
		return SearchResult{}, fmt.Errorf("%w: keyword is required", domain.ErrInvalidArgument)
	}
	return get[SearchResult](ctx, c, pathSearch, Params{
		"keyword":        keyword,
		"target":         "token",
		"search_mode":    "fuzzy",
		"search_by":      "combination",
		"sort_by":        "volume_24h_usd",
		"sort_type":      "desc",
		"offset":         0,
		"limit":          limitOr(limit, defaultLimit),
		"ui_amount_mode": uiAmountMode,
	})
}

// OHLCV returns candles between from and to
func (c *Client) OHLCV(ctx context.Context, address string, from, to time.Time, interval, currency string) (OHLCV, error) {
	if err := requireAddress("address", address); err != nil {
		return OHLCV{}, err
	}
	if !to.After(from) {
		return OHLCV{}, fmt.Errorf("%w: time_to must be after time_from", domain.ErrInvalidArgument)
	}
	iv, err := NormalizeInterval(interval)
	if err != nil {
		return OHLCV{}, err
	}
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return OHLCV{}, err
	}
	return get[OHLCV](ctx, c, pathOHLCV, Params{
		"address":        address,
		"type":           iv,
		"currency":       cur,
		"time_from":      from.Unix(),
		"time_to":        to.Unix(),
		"ui_amount_mode": uiAmountMode,
	})
}

// OHLCVByCount returns the trailing count candles
func (c *Client) OHLCVByCount(ctx context.Context, address string, count int, interval, currency string) (OHLCV, error) {
	if err := requireAddress("address", address); err != nil {
		return OHLCV{}, err
	}
	iv, err := NormalizeInterval(interval)
	if err != nil {
		return OHLCV{}, err
	}
	cur, err := normalizeCurrency(currency)
	if err != nil {
		return OHLCV{}, err
	}
	return get[OHLCV](ctx, c, pathOHLCV, Params{
		"address":        address,
		"type":           iv,
		"currency":       cur,
		"mode":           "count",
		"count_limit":    limitOr(count, 100),
		"ui_amount_mode": uiAmountMode,
	})
}

// WalletNetWorth returns the current holdings of a wallet by value
func (c *Client) WalletNetWorth(ctx context.Context, wallet string) (WalletNetWorth, error) {
	if err := requireAddress("wallet", wallet); err != nil {
		return WalletNetWorth{}, err
	}
	return get[WalletNetWorth](ctx, c, pathNetWorth, Params{
		"wallet":    wallet,
		"sort_by":   "value",
		"sort_type": "desc",
		"limit":     100,
		"offset":    0,
	})
}

// WalletNetWorthHistory returns count net-worth points at 1h or 1d spacing
func (c *Client) WalletNetWorthHistory(ctx context.Context, wallet string, count int, interval, direction string) (WalletNetWorthHistory, error) {
	if err := requireAddress("wallet", wallet); err != nil {
		return WalletNetWorthHistory{}, err
	}
	if interval == "" {
		interval = "1d"
	}
	if interval != "1h" && interval != "1d" {
		return WalletNetWorthHistory{}, fmt.Errorf("%w: net worth interval %q", domain.ErrInvalidArgument, interval)
	}
	if direction == "" {
		direction = "back"
	}
	if direction != "back" && direction != "forward" {
		return WalletNetWorthHistory{}, fmt.Errorf("%w: direction %q", domain.ErrInvalidArgument, direction)
	}
	return get[WalletNetWorthHistory](ctx, c, pathNetWorthSeries, Params{
		"wallet":    wallet,
		"count":     limitOr(count, 7),
		"direction": direction,
		"type":      interval,
		"sort_type": "desc",
	})
}

// WalletPnL returns profit and loss for a set of tokens held by wallet
func (c *Client) WalletPnL(ctx context.Context, wallet string, tokens []string) (WalletPnL, error) {
	if err := requireAddress("wallet", wallet); err != nil {
		return WalletPnL{}, err
	}
	if len(tokens) == 0 {
		return WalletPnL{}, fmt.Errorf("%w: at least one token address is required", domain.ErrInvalidArgument)
	}
	return get[WalletPnL](ctx, c, pathPnL, Params{
		"wallet":          wallet,
		"token_addresses": strings.Join(tokens, ","),
	})
}

// WalletTokenBalance returns a single token holding of a wallet
func (c *Client) WalletTokenBalance(ctx context.Context, wallet, token string) (WalletToken, error) {
	if err := requireAddress("wallet", wallet); err != nil {
		return WalletToken{}, err
	}
	if err := requireAddress("token_address", token); err != nil {
		return WalletToken{}, err
	}
	return get[WalletToken](ctx, c, pathTokenBalance, Params{
		"wallet":         wallet,
		"token_address":  token,
		"ui_amount_mode": uiAmountMode,
	})
}

// WalletPortfolio lists every token held by a wallet
func (c *Client) WalletPortfolio(ctx context.Context, wallet string) (WalletPortfolio, error) {
	if err := requireAddress("wallet", wallet); err != nil {
		return WalletPortfolio{}, err
	}
	return get[WalletPortfolio](ctx, c, pathPortfolio, Params{"wallet": wallet, "ui_amount_mode": uiAmountMode})
}
