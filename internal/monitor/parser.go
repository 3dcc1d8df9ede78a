package monitor

import (
	"fmt"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/event"
)

// mintAddressLength is the base58 length of a typical 32-byte mint address
const mintAddressLength = 44

// ParseError explains why a transaction yielded no launch or trade.
// It never leaves the monitor; the event is logged and skipped.
type ParseError struct {
	Signature string
	Kind      event.Kind
	Reason    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s: %s", e.Kind, e.Signature, e.Reason)
}

func parseErr(tx *domain.ConfirmedTransaction, kind event.Kind, reason string) *ParseError {
	return &ParseError{Signature: tx.Signature, Kind: kind, Reason: reason}
}

// eventTime is the block time when known, else when the event was observed
func eventTime(tx *domain.ConfirmedTransaction, observedAt time.Time) time.Time {
	if tx.BlockTime != nil && !tx.BlockTime.IsZero() {
		return *tx.BlockTime
	}
	return observedAt
}

// ParseLaunch extracts a token launch.
// creator = first signer; mint = first post token balance mint, else the first
// non-signer account that looks like a mint address.
func ParseLaunch(tx *domain.ConfirmedTransaction, observedAt time.Time) (domain.TokenLaunch, error) {
	signer, ok := tx.FirstSigner()
	if !ok {
		return domain.TokenLaunch{}, parseErr(tx, event.KindLaunch, "no signer")
	}

	mint := ""
	for _, b := range tx.PostTokenBalances {
		if b.Mint != "" {
			mint = b.Mint
			break
		}
	}
	if mint == "" {
		mint = fallbackMint(tx.AccountKeys)
	}
	if mint == "" {
		return domain.TokenLaunch{}, parseErr(tx, event.KindLaunch, "no token mint")
	}

	return domain.TokenLaunch{
		TokenMint: mint,
		Creator:   tx.AccountKeys[signer].Address,
		Timestamp: eventTime(tx, observedAt),
		Signature: tx.Signature,
	}, nil
}

// fallbackMint scans non-signer accounts for a canonical-length valid public key
func fallbackMint(keys []domain.AccountKey) string {
	for _, k := range keys {
		if k.Signer || len(k.Address) != mintAddressLength {
			continue
		}
		if _, err := sol.PublicKeyFromBase58(k.Address); err == nil {
			return k.Address
		}
	}
	return ""
}

// ParseTrade extracts a buy or sell.
// The trader is the first signer; a falling SOL balance means a buy.
// The token leg is the first post token balance whose amount moved (a missing
// pre entry counts as zero).
func ParseTrade(tx *domain.ConfirmedTransaction, observedAt time.Time) (domain.TradeActivity, error) {
	signer, ok := tx.FirstSigner()
	if !ok {
		return domain.TradeActivity{}, parseErr(tx, event.KindTrade, "no signer")
	}

	delta, ok := tx.LamportDelta(signer)
	if !ok {
		return domain.TradeActivity{}, parseErr(tx, event.KindTrade, "missing native balances")
	}
	if delta == 0 {
		return domain.TradeActivity{}, parseErr(tx, event.KindTrade, "no SOL movement")
	}
	solAmount := decimal.NewFromInt(delta).Abs().Shift(-9)

	var mint string
	var tokenAmount decimal.Decimal
	for _, post := range tx.PostTokenBalances {
		if post.Mint == "" {
			continue
		}
		pre := decimal.Zero
		if b, found := tx.PreTokenBalance(post.AccountIndex); found {
			pre = b.UIAmount
		}
		change := post.UIAmount.Sub(pre)
		if !change.IsZero() {
			mint = post.Mint
			tokenAmount = change.Abs()
			break
		}
	}
	if mint == "" {
		return domain.TradeActivity{}, parseErr(tx, event.KindTrade, "no token balance change")
	}

	price := decimal.Zero
	if !tokenAmount.IsZero() {
		price = solAmount.DivRound(tokenAmount, 18)
	}

	return domain.TradeActivity{
		TokenMint:   mint,
		Trader:      tx.AccountKeys[signer].Address,
		IsBuy:       delta < 0,
		SolAmount:   solAmount,
		TokenAmount: tokenAmount,
		Price:       price,
		Timestamp:   eventTime(tx, observedAt),
		Signature:   tx.Signature,
	}, nil
}
