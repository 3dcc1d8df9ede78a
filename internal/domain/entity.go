package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenLaunch is a detected mint-initialization transaction.
// Keyed by TokenMint; a later detection of the same mint replaces the earlier one.
type TokenLaunch struct {
	TokenMint string    `gorm:"primaryKey" json:"tokenMint"`
	Creator   string    `gorm:"index" json:"creator"`
	Name      string    `json:"name,omitempty"`
	Symbol    string    `json:"symbol,omitempty"`
	URI       string    `json:"uri,omitempty"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Signature string    `json:"signature"`
}

// TradeActivity is a single buy or sell against a token, priced in SOL.
type TradeActivity struct {
	Signature   string          `gorm:"primaryKey" json:"signature"`
	TokenMint   string          `gorm:"index" json:"tokenMint"`
	Trader      string          `gorm:"index" json:"trader"`
	IsBuy       bool            `json:"isBuy"`
	SolAmount   decimal.Decimal `gorm:"type:text" json:"solAmount"`
	TokenAmount decimal.Decimal `gorm:"type:text" json:"tokenAmount"`
	Price       decimal.Decimal `gorm:"type:text" json:"price"` // SOL per token
	Timestamp   time.Time       `gorm:"index" json:"timestamp"`
}

// Side returns "BUY" or "SELL"
func (t *TradeActivity) Side() string {
	if t.IsBuy {
		return "BUY"
	}
	return "SELL"
}

// MonitorStats is derived from the current trade history over the trailing hour.
type MonitorStats struct {
	TotalTokensLaunched int             `json:"totalTokensLaunched"`
	TotalTrades         uint64          `json:"totalTrades"`  // every trade recorded, including evicted ones
	RecentTrades        int             `json:"recentTrades"` // trades inside the window
	HourlyBuyVolume     decimal.Decimal `json:"hourlyBuyVolume"`
	HourlySellVolume    decimal.Decimal `json:"hourlySellVolume"`
	TotalHourlyVolume   decimal.Decimal `json:"totalHourlyVolume"`
}
