package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/shopspring/decimal"

	"solscope/internal/domain"
	"solscope/internal/infra/retry"
)

// Ledger reads confirmed transactions through the Solana JSON-RPC API.
type Ledger struct {
	client *rpc.Client
	policy *retry.Policy
	logger *slog.Logger
}

// DefaultLedgerRetry: a transaction seen on the log feed may take a moment to
// become visible at confirmed commitment.
func DefaultLedgerRetry() retry.Config {
	return retry.Config{
		MaxRetries:        3,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          4 * time.Second,
		BackoffMultiplier: 2,
	}
}

// NewLedger creates a new ledger reader for the given RPC endpoint
func NewLedger(rpcURL string, policy *retry.Policy) *Ledger {
	if policy == nil {
		policy = retry.NewPolicy(DefaultLedgerRetry())
	}
	return &Ledger{
		client: rpc.New(rpcURL),
		policy: policy,
		logger: slog.Default().With("module", "solana_ledger"),
	}
}

// GetTransaction fetches and flattens a confirmed transaction
func (l *Ledger) GetTransaction(ctx context.Context, signature string) (*domain.ConfirmedTransaction, error) {
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("%w: signature %q: %v", domain.ErrInvalidArgument, signature, err)
	}

	return retry.Do(ctx, l.policy, func(ctx context.Context) (*domain.ConfirmedTransaction, error) {
		return l.fetch(ctx, sig)
	})
}

func (l *Ledger) fetch(ctx context.Context, sig sol.Signature) (*domain.ConfirmedTransaction, error) {
	maxVersion := uint64(0)
	out, err := l.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       sol.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, classifyRPCError(ctx, err)
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return nil, domain.NewNetworkError("getTransaction", domain.ErrTransactionNotFound)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}

	var blockTime *time.Time
	if out.BlockTime != nil {
		t := out.BlockTime.Time()
		blockTime = &t
	}

	return buildConfirmed(sig.String(), out.Slot, blockTime, tx.Message.AccountKeys,
		int(tx.Message.Header.NumRequiredSignatures), out.Meta), nil
}

// classifyRPCError maps RPC failures onto the retry taxonomy
func classifyRPCError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, rpc.ErrNotFound) {
		return domain.NewNetworkError("getTransaction", domain.ErrTransactionNotFound)
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		// -32602 invalid params, -32601 method not found: retrying cannot help
		if rpcErr.Code == -32602 || rpcErr.Code == -32601 {
			return domain.NewFatalNetworkError("getTransaction", err)
		}
	}
	return domain.NewNetworkError("getTransaction", err)
}

// buildConfirmed flattens RPC types into the domain record.
// Keys loaded from lookup tables follow the static keys, writable first.
func buildConfirmed(sig string, slot uint64, blockTime *time.Time, keys sol.PublicKeySlice, numSigners int, meta *rpc.TransactionMeta) *domain.ConfirmedTransaction {
	tx := &domain.ConfirmedTransaction{
		Signature:    sig,
		Slot:         slot,
		BlockTime:    blockTime,
		PreBalances:  meta.PreBalances,
		PostBalances: meta.PostBalances,
	}

	all := make(sol.PublicKeySlice, 0, len(keys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	all = append(all, keys...)
	all = append(all, meta.LoadedAddresses.Writable...)
	all = append(all, meta.LoadedAddresses.ReadOnly...)

	tx.AccountKeys = make([]domain.AccountKey, len(all))
	for i, k := range all {
		tx.AccountKeys[i] = domain.AccountKey{Address: k.String(), Signer: i < numSigners}
	}

	tx.PreTokenBalances = convertTokenBalances(meta.PreTokenBalances)
	tx.PostTokenBalances = convertTokenBalances(meta.PostTokenBalances)
	return tx
}

func convertTokenBalances(in []rpc.TokenBalance) []domain.TokenBalance {
	out := make([]domain.TokenBalance, 0, len(in))
	for _, b := range in {
		tb := domain.TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint.String(),
			UIAmount:     uiAmount(b.UiTokenAmount),
		}
		if b.Owner != nil {
			tb.Owner = b.Owner.String()
		}
		out = append(out, tb)
	}
	return out
}

// uiAmount prefers the exact raw amount scaled by decimals
func uiAmount(a *rpc.UiTokenAmount) decimal.Decimal {
	if a == nil {
		return decimal.Zero
	}
	if raw, err := decimal.NewFromString(a.Amount); err == nil {
		return raw.Shift(-int32(a.Decimals))
	}
	if d, err := decimal.NewFromString(a.UiAmountString); err == nil {
		return d
	}
	if a.UiAmount != nil {
		return decimal.NewFromFloat(*a.UiAmount)
	}
	return decimal.Zero
}
