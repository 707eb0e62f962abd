package account

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
)

// escrowIndex maps (dealID, party) to a non-hardened BIP32 address index the
// same way the UTXO adapter does: a pure function of the deal and side, so
// the same escrow address comes back out on every call with no persisted
// counter. EVM accounts don't have UTXO's change/external split, so account
// is fixed at 0 and change is always 0.
func escrowIndex(dealID string, party chainadapter.Party) uint32 {
	h := sha256.Sum256([]byte("account|" + dealID + "|" + string(party)))
	return binary.BigEndian.Uint32(h[:4]) & 0x7fffffff
}
