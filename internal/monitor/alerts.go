package monitor

import (
	"log/slog"

	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/infra"
)

// AlertSink receives fired trade alerts
type AlertSink interface {
	PublishAlert(domain.TradeAlert)
}

// AlertSinkFunc adapts a function to AlertSink
type AlertSinkFunc func(domain.TradeAlert)

func (f AlertSinkFunc) PublishAlert(a domain.TradeAlert) { f(a) }

// AlertObserver checks every trade against AlertRules.
// The previous price is the next older trade of the same mint in the monitor's history.
type AlertObserver struct {
	rules   domain.AlertRules
	history *Monitor
	sinks   []AlertSink
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewAlertObserver creates an alert observer over the monitor's trade history
func NewAlertObserver(rules domain.AlertRules, history *Monitor, metrics *infra.Metrics, sinks ...AlertSink) *AlertObserver {
	return &AlertObserver{
		rules:   rules,
		history: history,
		sinks:   sinks,
		metrics: metrics,
		logger:  slog.Default().With("module", "alerts"),
	}
}

func (a *AlertObserver) OnLaunch(domain.TokenLaunch) {}

func (a *AlertObserver) OnTrade(t domain.TradeActivity) {
	if a.rules.IsHighVolume(t.SolAmount) {
		a.fire(domain.TradeAlert{
			Kind:      domain.AlertHighVolume,
			TokenMint: t.TokenMint,
			Signature: t.Signature,
			SolAmount: t.SolAmount,
			Price:     t.Price,
			Timestamp: t.Timestamp,
		})
	}

	prev, ok := a.previousPrice(t)
	if !ok {
		return
	}
	change, moved := a.rules.PriceMove(prev, t.Price)
	if !moved {
		return
	}
	kind := domain.AlertPriceUp
	if change.IsNegative() {
		kind = domain.AlertPriceDown
	}
	a.fire(domain.TradeAlert{
		Kind:      kind,
		TokenMint: t.TokenMint,
		Signature: t.Signature,
		SolAmount: t.SolAmount,
		Price:     t.Price,
		ChangePct: change.Round(2),
		Timestamp: t.Timestamp,
	})
}

func (a *AlertObserver) previousPrice(t domain.TradeActivity) (decimal.Decimal, bool) {
	if a.history == nil {
		return decimal.Zero, false
	}
	recent := a.history.TokenTrades(t.TokenMint, 10)
	for i, r := range recent {
		if r.Signature != t.Signature {
			continue
		}
		for _, older := range recent[i+1:] {
			if older.Price.IsPositive() {
				return older.Price, true
			}
		}
		return decimal.Zero, false
	}
	return decimal.Zero, false
}

func (a *AlertObserver) fire(alert domain.TradeAlert) {
	a.metrics.RecordAlert()
	a.logger.Warn("🚨 Trade alert",
		slog.String("kind", string(alert.Kind)),
		slog.String("mint", alert.TokenMint),
		slog.String("sol", alert.SolAmount.String()),
		slog.String("price", alert.Price.String()),
		slog.String("change_pct", alert.ChangePct.String()),
	)
	for _, s := range a.sinks {
		s.PublishAlert(alert)
	}
}
