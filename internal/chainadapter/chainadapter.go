// Package chainadapter defines the uniform interface the engine uses to
// talk to a chain regardless of its transaction model (UTXO vs account).
// internal/chainadapter/utxo and internal/chainadapter/account implement
// it; internal/chainadapter/mock is a hand-written test double.
package chainadapter

import (
	"context"
	"time"
)

// Party identifies which side of a deal an escrow is generated for, so
// the same (dealId, side) pair always derives the same address (HD
// derivation must be a pure function of its inputs).
type Party string

const (
	PartyA Party = "A"
	PartyB Party = "B"
)

// Escrow is a generated escrow account: its address and the HD path used
// to derive it, so the coordinator's operator can independently verify
// the address belongs to the deal.
type Escrow struct {
	Address string
	HDPath  string
}

// Deposit is one confirmed (or confirming) incoming payment observed at
// an escrow address.
type Deposit struct {
	TxID          string
	OutputIndex   *uint32 // UTXO chains only; nil for account chains
	Amount        string  // decimal string, asset scale
	BlockHeight   int64
	BlockTime     time.Time
	Confirmations uint32
}

// ListConfirmedDepositsResult is the return value of
// Adapter.ListConfirmedDeposits.
type ListConfirmedDepositsResult struct {
	Deposits []Deposit
}

// SendResult is the return value of Adapter.Send.
type SendResult struct {
	TxID          string
	SubmittedAt   time.Time
	NonceOrInputs string // nonce for account chains, comma-joined outpoints for UTXO
}

// PriceQuote is the oracle snapshot backing a quoteNativeForUSD call.
type PriceQuote struct {
	Pair  string
	Price string
	AsOf  time.Time
	Source string
}

// QuoteResult is the return value of Adapter.QuoteNativeForUSD.
type QuoteResult struct {
	NativeAmount string
	Quote        PriceQuote
}

// FeeIntent tells EnsureFeeBudget what kind of spend it needs to cover
// gas for. The account adapter does not use it: it tops the escrow up to
// minNative with a transfer signed by the operator key (wallet index 0);
// no separate gas-tank wallet funds the top-up.
type FeeIntent string

const (
	FeeIntentSingleTransfer FeeIntent = "single_transfer"
	FeeIntentERC20Transfer  FeeIntent = "erc20_transfer"
)

// Adapter is the chain adapter contract (spec §4.4). The engine never
// branches on chain family directly; it calls through this interface
// and lets the utxo/account implementations carry the family-specific
// behavior.
type Adapter interface {
	// Init performs one-time adapter setup (RPC client construction,
	// HD master key load). Called once at process start.
	Init(ctx context.Context) error

	// ValidateAddress reports whether address is well-formed for this
	// chain's address encoding. Does not check on-chain existence.
	ValidateAddress(address string) bool

	// GenerateEscrow deterministically derives the escrow address for
	// (dealID, side) on this chain. Calling it twice with the same
	// inputs always yields the same Escrow.
	GenerateEscrow(ctx context.Context, assetCode, dealID string, party Party) (Escrow, error)

	// ListConfirmedDeposits returns deposits at address with at least
	// minConf confirmations. since, if non-nil, excludes deposits
	// observed strictly before it (adapter-defined monotonic cursor,
	// e.g. block height); a nil since means "all history".
	ListConfirmedDeposits(ctx context.Context, assetCode, address string, minConf uint32, since *int64) (ListConfirmedDepositsResult, error)

	// Send broadcasts a transfer of amount (decimal string, asset
	// scale) of assetCode from fromEscrow to toAddress. The caller is
	// responsible for serializing calls per source address on account
	// chains (spec §4.4, §5); Send itself does not serialize.
	Send(ctx context.Context, assetCode, fromEscrow, toAddress, amount string) (SendResult, error)

	// GetTxConfirmations returns the confirmation count for a
	// previously submitted txid, or an *Error of kind KindUnknownTxid if
	// the adapter has no record of it (e.g. dropped from mempool, chain
	// reorg).
	GetTxConfirmations(ctx context.Context, txid string) (uint32, error)

	// EnsureFeeBudget tops fromEscrow up with native gas currency if it
	// does not already hold at least minNative, so a subsequent Send of
	// intent can be submitted. May no-op on UTXO chains where fees are
	// deducted from the UTXO set itself rather than a separate gas
	// balance.
	EnsureFeeBudget(ctx context.Context, fromEscrow, assetCode string, intent FeeIntent, minNative string) error

	// QuoteNativeForUSD converts a USD amount into this chain's native
	// currency using the configured oracle price feed.
	QuoteNativeForUSD(ctx context.Context, usd string) (QuoteResult, error)

	// OperatorAddress returns the address commission payouts and
	// surplus sweeps are ultimately controlled by.
	OperatorAddress() string

	// CollectConfirms returns the finality margin (chain.Params.CollectConfirms)
	// a deposit must clear before it counts toward a side's lock.
	CollectConfirms() uint32

	// RequiredConfirms returns the confirmation count
	// (chain.Params.RequiredConfirms) an outgoing queue item must clear
	// before the queue processor marks it COMPLETED.
	RequiredConfirms() uint32
}
