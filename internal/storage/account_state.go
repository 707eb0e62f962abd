package storage

import (
	"database/sql"
	"errors"
	"time"
)

// AccountStateRecord mirrors account_state: per-(chain, address) nonce
// bookkeeping for account-model chains (§3). UTXO chains don't consume
// last_used_nonce; the queue processor's phase scheduler reads queue_items
// directly for them instead.
type AccountStateRecord struct {
	Chain         string
	Address       string
	LastUsedNonce int64
	UpdatedAt     time.Time
}

// GetAccountState returns the current nonce bookkeeping for an address, or
// nil if none has been recorded yet (lastUsedNonce defaults to -1, so the
// first assigned nonce is 0).
func (s *Storage) GetAccountState(chain, address string) (*AccountStateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r AccountStateRecord
	r.Chain, r.Address = chain, address
	var updatedAt int64
	row := s.db.QueryRow("SELECT last_used_nonce, updated_at FROM account_state WHERE chain = ? AND address = ?", chain, address)
	if err := row.Scan(&r.LastUsedNonce, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.UpdatedAt = time.Unix(updatedAt, 0)
	return &r, nil
}
