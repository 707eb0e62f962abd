package chainadapter

import "fmt"

// ErrorKind is a closed set of adapter failure classes the engine maps to
// retry/fail decisions (spec §7). A strong sum type rather than bare
// sentinel errors or string comparisons, per the design guidance to
// prefer strong typing over string enums at adapter boundaries.
type ErrorKind int

const (
	// KindTransientNetwork covers timeouts, connection resets, and rate
	// limiting: retry with backoff.
	KindTransientNetwork ErrorKind = iota
	// KindInsufficientFunds means the source address does not hold
	// enough of the asset (or native gas) to cover the requested send.
	KindInsufficientFunds
	// KindAddressFormatIncompatible means toAddress does not parse as a
	// valid address for this chain.
	KindAddressFormatIncompatible
	// KindNoUTXOsAvailable means a UTXO-chain send found no spendable
	// outputs at the source address.
	KindNoUTXOsAvailable
	// KindBroadcastRejected means the node/RPC rejected the signed
	// transaction outright (e.g. fee too low, nonce gap, double spend).
	KindBroadcastRejected
	// KindUnknownTxid means GetTxConfirmations was asked about a txid
	// the adapter has no record of.
	KindUnknownTxid
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient_network"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindAddressFormatIncompatible:
		return "address_format_incompatible"
	case KindNoUTXOsAvailable:
		return "no_utxos_available"
	case KindBroadcastRejected:
		return "broadcast_rejected"
	case KindUnknownTxid:
		return "unknown_txid"
	default:
		return "unknown"
	}
}

// Error wraps an ErrorKind with adapter-specific context. Adapters return
// this (or a value satisfying errors.As against it) instead of bare
// sentinel errors, so callers branch on Kind rather than string-matching
// error messages.
type Error struct {
	Kind ErrorKind
	Chain string
	Op    string // which contract method failed, e.g. "send"
	Err   error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chainadapter: %s %s: %s: %v", e.Chain, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("chainadapter: %s %s: %s", e.Chain, e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the engine should retry the operation that
// produced this error rather than fail the queue item permanently.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransientNetwork, KindUnknownTxid:
		return true
	default:
		return false
	}
}

// NewError constructs an *Error for the given chain/operation.
func NewError(chain, op string, kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Chain: chain, Op: op, Err: cause}
}
