package storage

import (
	"database/sql"
	"time"
)

// DepositRecord mirrors an escrow_deposits row: an observed, possibly
// still-confirming, deposit to one side's escrow address.
type DepositRecord struct {
	ID             int64
	DealID         string
	Side           DealSide
	Chain          string
	EscrowAddress  string
	Asset          string
	Amount         string
	TxID           string
	OutputIndex    uint32
	BlockHeight    int64
	BlockTime      time.Time
	Confirmations  uint32
	MissedPolls    int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertDeposit inserts a newly observed deposit or updates the
// confirmation count and block height/time (and resets missed-poll count
// to 0) of an existing one, keyed by (dealId, txid, outputIndex) as §3
// requires. The stored confirmation count is replaced by the new value,
// whether higher or lower; a deposit that leaves chain history is removed
// with DeleteDeposit instead.
func (s *Storage) UpsertDeposit(d *DepositRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO escrow_deposits (
			deal_id, side, chain, escrow_address, asset, amount,
			txid, output_index, block_height, block_time, confirmations, missed_polls,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(deal_id, txid, output_index) DO UPDATE SET
			confirmations = excluded.confirmations,
			block_height = excluded.block_height,
			block_time = excluded.block_time,
			missed_polls = 0,
			updated_at = excluded.updated_at
	`,
		d.DealID, string(d.Side), d.Chain, d.EscrowAddress, d.Asset, d.Amount,
		d.TxID, d.OutputIndex, d.BlockHeight, timeToUnixOrZeroPtr(d.BlockTime), d.Confirmations,
		d.CreatedAt.Unix(), d.UpdatedAt.Unix(),
	)
	return err
}

// ListDeposits returns every deposit recorded for a deal's side.
func (s *Storage) ListDeposits(dealID string, side DealSide) ([]*DepositRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, deal_id, side, chain, escrow_address, asset, amount,
			txid, output_index, block_height, block_time, confirmations, missed_polls,
			created_at, updated_at
		FROM escrow_deposits WHERE deal_id = ? AND side = ?
		ORDER BY created_at ASC
	`, dealID, string(side))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []*DepositRecord
	for rows.Next() {
		d, err := scanDepositRow(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

// MarkDepositMissed increments the missed-poll counter for deposits that
// were not present in the adapter's latest listing. Two consecutive misses
// below finality depth is the reorg-disappearance signal (§4.2); the
// deposit tracker calls DeleteDeposit once its own threshold is reached.
func (s *Storage) MarkDepositMissed(dealID string, side DealSide, stillPresentTxids map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, txid FROM escrow_deposits WHERE deal_id = ? AND side = ?", dealID, string(side))
	if err != nil {
		return err
	}
	type idTxid struct {
		id   int64
		txid string
	}
	var toMark []idTxid
	for rows.Next() {
		var it idTxid
		if err := rows.Scan(&it.id, &it.txid); err != nil {
			rows.Close()
			return err
		}
		if !stillPresentTxids[it.txid] {
			toMark = append(toMark, it)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, it := range toMark {
		if _, err := s.db.Exec("UPDATE escrow_deposits SET missed_polls = missed_polls + 1, updated_at = ? WHERE id = ?",
			time.Now().Unix(), it.id); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDeposit removes a deposit row that fell out of chain history.
func (s *Storage) DeleteDeposit(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM escrow_deposits WHERE id = ?", id)
	return err
}

func scanDepositRow(rows *sql.Rows) (*DepositRecord, error) {
	var d DepositRecord
	var side string
	var blockTime sql.NullInt64
	var createdAt, updatedAt int64

	err := rows.Scan(
		&d.ID, &d.DealID, &side, &d.Chain, &d.EscrowAddress, &d.Asset, &d.Amount,
		&d.TxID, &d.OutputIndex, &d.BlockHeight, &blockTime, &d.Confirmations, &d.MissedPolls,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Side = DealSide(side)
	if blockTime.Valid && blockTime.Int64 > 0 {
		d.BlockTime = time.Unix(blockTime.Int64, 0)
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	return &d, nil
}
