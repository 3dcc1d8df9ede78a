package birdeye

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// envelope is the wrapper around every Birdeye response body
type envelope struct {
	Success *bool           `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// TrendingToken is one entry of /defi/token_trending
type TrendingToken struct {
	Address                string          `json:"address"`
	Decimals               int             `json:"decimals"`
	Liquidity              decimal.Decimal `json:"liquidity"`
	LogoURI                string          `json:"logoURI"`
	Name                   string          `json:"name"`
	Symbol                 string          `json:"symbol"`
	Volume24hUSD           decimal.Decimal `json:"volume24hUSD"`
	Volume24hChangePercent decimal.Decimal `json:"volume24hChangePercent"`
	Rank                   int             `json:"rank"`
	Price                  decimal.Decimal `json:"price"`
	Price24hChangePercent  decimal.Decimal `json:"price24hChangePercent"`
	FDV                    decimal.Decimal `json:"fdv"`
	MarketCap              decimal.Decimal `json:"marketcap"`
}

type TrendingTokens struct {
	UpdateUnixTime int64           `json:"updateUnixTime"`
	Tokens         []TrendingToken `json:"tokens"`
	Total          int             `json:"total"`
}

// TokenMetadata is /defi/v3/token/meta-data/single
type TokenMetadata struct {
	Address    string `json:"address"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Decimals   int    `json:"decimals"`
	LogoURI    string `json:"logo_uri,omitempty"`
	Extensions *struct {
		Website     string `json:"website,omitempty"`
		Twitter     string `json:"twitter,omitempty"`
		Telegram    string `json:"telegram,omitempty"`
		Discord     string `json:"discord,omitempty"`
		Description string `json:"description,omitempty"`
	} `json:"extensions,omitempty"`
}

// TokenMarketData is /defi/v3/token/market-data
type TokenMarketData struct {
	Address           string          `json:"address"`
	Price             decimal.Decimal `json:"price"`
	Liquidity         decimal.Decimal `json:"liquidity"`
	TotalSupply       decimal.Decimal `json:"total_supply"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	FDV               decimal.Decimal `json:"fdv"`
	MarketCap         decimal.Decimal `json:"market_cap"`
}

// TokenOverview is /defi/token_overview
type TokenOverview struct {
	Address                string          `json:"address"`
	Decimals               int             `json:"decimals"`
	Symbol                 string          `json:"symbol"`
	Name                   string          `json:"name"`
	MarketCap              decimal.Decimal `json:"marketCap"`
	FDV                    decimal.Decimal `json:"fdv"`
	LogoURI                string          `json:"logoURI"`
	Liquidity              decimal.Decimal `json:"liquidity"`
	LastTradeUnixTime      int64           `json:"lastTradeUnixTime"`
	Price                  decimal.Decimal `json:"price"`
	PriceChange1hPercent   decimal.Decimal `json:"priceChange1hPercent"`
	PriceChange24hPercent  decimal.Decimal `json:"priceChange24hPercent"`
	Volume24hUSD           decimal.Decimal `json:"v24hUSD"`
	Volume24hChangePercent decimal.Decimal `json:"v24hChangePercent"`
}

// TradeLeg is one side of a swap
type TradeLeg struct {
	Symbol   string          `json:"symbol"`
	Decimals int             `json:"decimals"`
	Address  string          `json:"address"`
	Amount   string          `json:"amount"`
	UIAmount decimal.Decimal `json:"uiAmount"`
	Price    decimal.Decimal `json:"price"`
}

// Trade is one entry of /defi/txs/token
type Trade struct {
	TxHash        string          `json:"txHash"`
	BlockUnixTime int64           `json:"blockUnixTime"`
	Source        string          `json:"source"`
	TxType        string          `json:"txType"`
	Side          string          `json:"side"`
	Owner         string          `json:"owner"`
	From          TradeLeg        `json:"from"`
	To            TradeLeg        `json:"to"`
	VolumeUSD     decimal.Decimal `json:"volumeUSD"`
}

type TokenTrades struct {
	Items   []Trade `json:"items"`
	HasNext bool    `json:"hasNext"`
}

// Price is /defi/price and each value of /defi/multi_price
type Price struct {
	Value           decimal.Decimal `json:"value"`
	UpdateUnixTime  int64           `json:"updateUnixTime"`
	UpdateHumanTime string          `json:"updateHumanTime"`
	PriceChange24h  decimal.Decimal `json:"priceChange24h"`
	Liquidity       decimal.Decimal `json:"liquidity"`
}

// MemeToken is one entry of the meme token list
type MemeToken struct {
	Address        string          `json:"address"`
	Symbol         string          `json:"symbol"`
	Name           string          `json:"name"`
	LogoURI        string          `json:"logo_uri"`
	Decimals       int             `json:"decimals"`
	Price          decimal.Decimal `json:"price"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	Volume24hUSD   decimal.Decimal `json:"volume_24h_usd"`
	PriceChange24h decimal.Decimal `json:"price_change_24h_percent"`
	MemeInfo       *MemeInfo       `json:"meme_info,omitempty"`
}

// MemeInfo carries launchpad details of a meme token
type MemeInfo struct {
	Source          string          `json:"source"`
	Platform        string          `json:"platform"`
	CreatedAt       json.RawMessage `json:"created_at,omitempty"`
	Creator         string          `json:"creator"`
	Graduated       bool            `json:"graduated"`
	ProgressPercent decimal.Decimal `json:"progress_percent"`
}

type MemeTokenList struct {
	Items   []MemeToken `json:"items"`
	HasNext bool        `json:"has_next"`
}

// MemeTokenDetail is /defi/v3/token/meme/detail/single
type MemeTokenDetail struct {
	MemeToken
	TotalSupply       decimal.Decimal `json:"total_supply"`
	CirculatingSupply decimal.Decimal `json:"circulating_supply"`
	FDV               decimal.Decimal `json:"fdv"`
	Holder            int64           `json:"holder"`
}

// SearchResult groups search hits by type
type SearchResult struct {
	Items []struct {
		Type   string          `json:"type"`
		Result []SearchedToken `json:"result"`
	} `json:"items"`
}

type SearchedToken struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Address        string          `json:"address"`
	LogoURI        string          `json:"logo_uri"`
	Price          decimal.Decimal `json:"price"`
	MarketCap      decimal.Decimal `json:"market_cap"`
	Liquidity      decimal.Decimal `json:"liquidity"`
	Volume24hUSD   decimal.Decimal `json:"volume_24h_usd"`
	PriceChange24h decimal.Decimal `json:"price_change_24h_percent"`
	Verified       bool            `json:"verified"`
}

// Candle is one OHLCV bar
type Candle struct {
	Open     decimal.Decimal `json:"o"`
	High     decimal.Decimal `json:"h"`
	Low      decimal.Decimal `json:"l"`
	Close    decimal.Decimal `json:"c"`
	Volume   decimal.Decimal `json:"v"`
	VolumeUS decimal.Decimal `json:"v_usd"`
	UnixTime int64           `json:"unix_time"`
	Address  string          `json:"address"`
	Type     string          `json:"type"`
	Currency string          `json:"currency"`
}

type OHLCV struct {
	IsScaledUIToken bool     `json:"is_scaled_ui_token"`
	Items           []Candle `json:"items"`
}

// WalletToken is a holding inside a wallet snapshot or portfolio
type WalletToken struct {
	Address  string          `json:"address"`
	Decimals int             `json:"decimals"`
	Price    decimal.Decimal `json:"price"`
	Balance  string          `json:"balance"`
	Amount   decimal.Decimal `json:"amount"`
	UIAmount decimal.Decimal `json:"uiAmount"`
	Network  string          `json:"network"`
	Name     string          `json:"name"`
	Symbol   string          `json:"symbol"`
	LogoURI  string          `json:"logo_uri"`
	Value    decimal.Decimal `json:"value"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

type WalletNetWorth struct {
	WalletAddress    string          `json:"wallet_address"`
	Currency         string          `json:"currency"`
	TotalValue       decimal.Decimal `json:"total_value"`
	CurrentTimestamp string          `json:"current_timestamp"`
	Items            []WalletToken   `json:"items"`
}

type NetWorthPoint struct {
	Timestamp             string          `json:"timestamp"`
	NetWorth              decimal.Decimal `json:"net_worth"`
	NetWorthChange        decimal.Decimal `json:"net_worth_change"`
	NetWorthChangePercent decimal.Decimal `json:"net_worth_change_percent"`
}

type WalletNetWorthHistory struct {
	WalletAddress    string          `json:"wallet_address"`
	Currency         string          `json:"currency"`
	CurrentTimestamp string          `json:"current_timestamp"`
	PastTimestamp    string          `json:"past_timestamp"`
	History          []NetWorthPoint `json:"history"`
}

// TokenPnL is the per-token section of /wallet/v2/pnl
type TokenPnL struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
	Counts   struct {
		TotalBuy   int `json:"total_buy"`
		TotalSell  int `json:"total_sell"`
		TotalTrade int `json:"total_trade"`
	} `json:"counts"`
	Quantity struct {
		TotalBoughtAmount decimal.Decimal `json:"total_bought_amount"`
		TotalSoldAmount   decimal.Decimal `json:"total_sold_amount"`
		Holding           decimal.Decimal `json:"holding"`
	} `json:"quantity"`
	CashflowUSD struct {
		CostOfQuantitySold decimal.Decimal `json:"cost_of_quantity_sold"`
		TotalInvested      decimal.Decimal `json:"total_invested"`
		TotalSold          decimal.Decimal `json:"total_sold"`
		CurrentValue       decimal.Decimal `json:"current_value"`
	} `json:"cashflow_usd"`
	PnL struct {
		RealizedProfitUSD     decimal.Decimal `json:"realized_profit_usd"`
		RealizedProfitPercent decimal.Decimal `json:"realized_profit_percent"`
		UnrealizedUSD         decimal.Decimal `json:"unrealized_usd"`
		UnrealizedPercent     decimal.Decimal `json:"unrealized_percent"`
		TotalUSD              decimal.Decimal `json:"total_usd"`
		TotalPercent          decimal.Decimal `json:"total_percent"`
		AvgProfitPerTradeUSD  decimal.Decimal `json:"avg_profit_per_trade_usd"`
	} `json:"pnl"`
	Pricing struct {
		CurrentPrice decimal.Decimal `json:"current_price"`
		AvgBuyCost   decimal.Decimal `json:"avg_buy_cost"`
		AvgSellCost  decimal.Decimal `json:"avg_sell_cost"`
	} `json:"pricing"`
}

type WalletPnL struct {
	Meta struct {
		Address      string `json:"address"`
		Currency     string `json:"currency"`
		HoldingCheck bool   `json:"holding_check"`
		Time         string `json:"time"`
	} `json:"meta"`
	Tokens map[string]TokenPnL `json:"tokens"`
}

type WalletPortfolio struct {
	Wallet   string          `json:"wallet"`
	TotalUSD decimal.Decimal `json:"totalUsd"`
	Items    []WalletToken   `json:"items"`
}
