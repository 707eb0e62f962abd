package utxo

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/klingon-exchange/escrow-coordinator/internal/chainadapter"
)

// escrowIndex maps (dealID, party) to a non-hardened BIP32 address index,
// deterministically and collision-resistantly. Account is fixed at 0;
// change is fixed at 0 (external). This gives generateEscrow the purity
// the spec requires: the same (dealID, party) always derives the same
// index, and therefore the same address, with no persisted counter.
func escrowIndex(dealID string, party chainadapter.Party) uint32 {
	h := sha256.Sum256([]byte(dealID + "|" + string(party)))
	// Non-hardened indices are < 2^31; mask off the top bit.
	return binary.BigEndian.Uint32(h[:4]) & 0x7fffffff
}
