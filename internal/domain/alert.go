package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertKind identifies why a trade alert fired
type AlertKind string

const (
	AlertHighVolume AlertKind = "HIGH_VOLUME"
	AlertPriceUp    AlertKind = "PRICE_UP"
	AlertPriceDown  AlertKind = "PRICE_DOWN"
)

// TradeAlert is emitted when a trade crosses one of the configured thresholds.
type TradeAlert struct {
	Kind      AlertKind       `json:"kind"`
	TokenMint string          `json:"tokenMint"`
	Signature string          `json:"signature"`
	SolAmount decimal.Decimal `json:"solAmount"`
	Price     decimal.Decimal `json:"price"`
	ChangePct decimal.Decimal `json:"changePct,omitempty"` // signed, percent
	Timestamp time.Time       `json:"timestamp"`
}

var hundred = decimal.NewFromInt(100)

// AlertRules holds the thresholds for trade alerts.
// PriceChangeThreshold is a fraction: 0.2 fires on a move of 20% or more.
type AlertRules struct {
	VolumeThreshold      decimal.Decimal `json:"volume_threshold"`
	PriceChangeThreshold decimal.Decimal `json:"price_change_threshold"`
}

// DefaultAlertRules returns 2 SOL volume and 20% price movement.
func DefaultAlertRules() AlertRules {
	return AlertRules{
		VolumeThreshold:      decimal.NewFromInt(2),
		PriceChangeThreshold: decimal.NewFromFloat(0.2),
	}
}

// IsHighVolume returns true when solAmount >= VolumeThreshold.
// A zero threshold disables the check.
func (r AlertRules) IsHighVolume(solAmount decimal.Decimal) bool {
	if !r.VolumeThreshold.IsPositive() {
		return false
	}
	return solAmount.GreaterThanOrEqual(r.VolumeThreshold)
}

// PriceMove returns the signed percent change from previous to current and
// whether its magnitude reaches the threshold.
func (r AlertRules) PriceMove(previous, current decimal.Decimal) (decimal.Decimal, bool) {
	if previous.IsZero() || !r.PriceChangeThreshold.IsPositive() {
		return decimal.Zero, false
	}
	change := current.Sub(previous).Div(previous).Mul(hundred)
	return change, change.Abs().GreaterThanOrEqual(r.PriceChangeThreshold.Mul(hundred))
}
