package storage

import (
	"database/sql"
	"errors"
	"strconv"
	"time"
)

// QueuePurpose is the reason a queue item is moving funds.
type QueuePurpose string

const (
	PurposeSwapPayout     QueuePurpose = "SWAP_PAYOUT"
	PurposeOpCommission   QueuePurpose = "OP_COMMISSION"
	PurposeSurplusRefund  QueuePurpose = "SURPLUS_REFUND"
	PurposeTimeoutRefund  QueuePurpose = "TIMEOUT_REFUND"
	PurposeGasRefundToTank QueuePurpose = "GAS_REFUND_TO_TANK"
	PurposeBrokerSwap     QueuePurpose = "BROKER_SWAP"
	PurposeBrokerRevert   QueuePurpose = "BROKER_REVERT"
	PurposeBrokerRefund   QueuePurpose = "BROKER_REFUND"
)

// QueuePhase orders UTXO-chain settlement into three barriers (§4.3). Only
// meaningful for UTXO sources; account chains serialize by nonce instead.
type QueuePhase int

const (
	PhaseNone       QueuePhase = 0
	PhaseSwap       QueuePhase = 1
	PhaseCommission QueuePhase = 2
	PhaseRefund     QueuePhase = 3
)

// QueueStatus is a queue item's lifecycle state.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"
	QueueStatusSubmitting QueueStatus = "SUBMITTING"
	QueueStatusSubmitted  QueueStatus = "SUBMITTED"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
	QueueStatusFailed     QueueStatus = "FAILED"
)

// ErrRefundConflict is returned when an enqueue would violate I6: a
// TIMEOUT_REFUND may not be enqueued alongside a non-terminal payout or
// commission item from the same source.
var ErrRefundConflict = errors.New("non-terminal payout/commission item exists for this source")

// QueueItemRecord is a planned or in-flight outgoing transfer (§3).
type QueueItemRecord struct {
	ID                 string
	DealID             string
	Chain              string
	SourceAddress      string
	DestinationAddress string
	Asset              string
	Amount             string
	Purpose            QueuePurpose
	Phase              QueuePhase
	Seq                int64
	Status             QueueStatus

	TxID             string
	SubmittedAt      time.Time
	NonceOrInputs    string
	Confirmations    uint32
	RequiredConfirms uint32

	AttemptCount  int
	LastGasPrice  string
	OriginalNonce string
	LastAttemptAt time.Time
	FailureReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

const queueItemColumns = `
	id, deal_id, chain, source_address, destination_address, asset, amount,
	purpose, phase, seq, status,
	txid, submitted_at, nonce_or_inputs, confirmations, required_confirms,
	attempt_count, last_gas_price, original_nonce, last_attempt_at, failure_reason,
	created_at, updated_at
`

// EnqueueItems inserts a batch of plan items for one (deal, source) unit
// atomically, with the seq values the caller set on each item (callers
// take the first one from NextSeq). Used by the transfer-plan builder, where
// every item of a side's plan must land together or not at all.
func (s *Storage) EnqueueItems(items []*QueueItemRecord) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now()
	for _, item := range items {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		item.UpdatedAt = now
		if item.Status == "" {
			item.Status = QueueStatusPending
		}

		if _, err := tx.Exec(
			`INSERT INTO queue_items (`+queueItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.DealID, item.Chain, item.SourceAddress, item.DestinationAddress, item.Asset, item.Amount,
			string(item.Purpose), queuePhaseOrNull(item.Phase), item.Seq, string(item.Status),
			nullIfEmpty(item.TxID), timeToUnixOrZeroPtr(item.SubmittedAt), nullIfEmpty(item.NonceOrInputs),
			item.Confirmations, item.RequiredConfirms,
			item.AttemptCount, nullIfEmpty(item.LastGasPrice), nullIfEmpty(item.OriginalNonce),
			timeToUnixOrZeroPtr(item.LastAttemptAt), nullIfEmpty(item.FailureReason),
			item.CreatedAt.Unix(), item.UpdatedAt.Unix(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// EnqueueTimeoutRefund enqueues a single TIMEOUT_REFUND item, asserting I6
// inside the same transaction: no non-terminal SWAP_PAYOUT/OP_COMMISSION/
// broker item may exist for the same source address.
func (s *Storage) EnqueueTimeoutRefund(item *QueueItemRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var conflicting int
	row := tx.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE deal_id = ? AND source_address = ?
		AND purpose IN (?, ?, ?, ?)
		AND status NOT IN (?, ?)
	`, item.DealID, item.SourceAddress,
		string(PurposeSwapPayout), string(PurposeOpCommission), string(PurposeBrokerSwap), string(PurposeBrokerRevert),
		string(QueueStatusCompleted), string(QueueStatusFailed),
	)
	if err := row.Scan(&conflicting); err != nil {
		return err
	}
	if conflicting > 0 {
		return ErrRefundConflict
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = QueueStatusPending
	}

	if _, err := tx.Exec(
		`INSERT INTO queue_items (`+queueItemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.DealID, item.Chain, item.SourceAddress, item.DestinationAddress, item.Asset, item.Amount,
		string(item.Purpose), queuePhaseOrNull(item.Phase), item.Seq, string(item.Status),
		nullIfEmpty(item.TxID), timeToUnixOrZeroPtr(item.SubmittedAt), nullIfEmpty(item.NonceOrInputs),
		item.Confirmations, item.RequiredConfirms,
		item.AttemptCount, nullIfEmpty(item.LastGasPrice), nullIfEmpty(item.OriginalNonce),
		timeToUnixOrZeroPtr(item.LastAttemptAt), nullIfEmpty(item.FailureReason),
		item.CreatedAt.Unix(), item.UpdatedAt.Unix(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// NextSeq returns the next free seq value for a (dealId, sourceAddress) pair.
func (s *Storage) NextSeq(dealID, sourceAddress string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var next int64
	row := s.db.QueryRow(
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM queue_items WHERE deal_id = ? AND source_address = ?",
		dealID, sourceAddress,
	)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// ListQueueItems returns every queue item for a deal, ordered by source then
// seq — the order both the account-nonce and UTXO-phase schedulers consume.
func (s *Storage) ListQueueItems(dealID string) ([]*QueueItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+queueItemColumns+" FROM queue_items WHERE deal_id = ? ORDER BY source_address ASC, seq ASC",
		dealID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*QueueItemRecord
	for rows.Next() {
		item, err := scanQueueItemRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SubmitAccountItem atomically: reads the current lastUsedNonce for
// (chain, sourceAddress), assigns nonce+1, bumps account_state, and
// transitions the queue item PENDING -> SUBMITTING with that nonce
// recorded as original_nonce, all inside one transaction (I4, §9's
// nonce-race-must-be-same-transaction rule). Returns the assigned nonce.
// The caller submits to the adapter *after* this commits, then calls
// MarkSubmitted with the resulting txid (the idempotency write described
// in §4.3 happens there).
func (s *Storage) SubmitAccountItem(itemID, chain, sourceAddress string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var lastUsed int64 = -1
	row := tx.QueryRow("SELECT last_used_nonce FROM account_state WHERE chain = ? AND address = ?", chain, sourceAddress)
	err = row.Scan(&lastUsed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	nonce := uint64(lastUsed + 1)
	now := time.Now().Unix()

	if _, err := tx.Exec(`
		INSERT INTO account_state (chain, address, last_used_nonce, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(chain, address) DO UPDATE SET last_used_nonce = excluded.last_used_nonce, updated_at = excluded.updated_at
	`, chain, sourceAddress, nonce, now); err != nil {
		return 0, err
	}

	result, err := tx.Exec(
		`UPDATE queue_items SET status = ?, original_nonce = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(QueueStatusSubmitting), strconv.FormatInt(int64(nonce), 10), now, itemID, string(QueueStatusPending),
	)
	if err != nil {
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, ErrDealNotFound
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return nonce, nil
}

// MarkSubmitted writes the submitted-tx record and flips the item to
// SUBMITTED. Per §4.3 this must land before the adapter-send call returns
// success to whatever triggered it — the caller is expected to call this
// synchronously right after a successful adapter.Send.
func (s *Storage) MarkSubmitted(itemID, txid, nonceOrInputs string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, txid = ?, submitted_at = ?, nonce_or_inputs = ?, updated_at = ? WHERE id = ?`,
		string(QueueStatusSubmitted), txid, time.Now().Unix(), nonceOrInputs, time.Now().Unix(), itemID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDealNotFound
	}
	return nil
}

// UpdateConfirmations sets a SUBMITTED item's confirmation count, flipping
// it to COMPLETED once requiredConfirms is reached.
func (s *Storage) UpdateConfirmations(itemID string, confirmations uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE queue_items SET confirmations = ?, updated_at = ?,
			status = CASE WHEN ? >= required_confirms AND status = ? THEN ? ELSE status END
		WHERE id = ?
	`, confirmations, time.Now().Unix(), confirmations, string(QueueStatusSubmitted), string(QueueStatusCompleted), itemID)
	return err
}

// RevertToPending walks a SUBMITTED item whose transaction disappeared
// from chain history back to PENDING, and — only if no successor on the
// same source has already been submitted — rolls back the account-state
// nonce so the slot can be reused.
func (s *Storage) RevertToPending(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var dealID, chain, sourceAddress, originalNonce string
	var seq int64
	row := tx.QueryRow("SELECT deal_id, chain, source_address, seq, COALESCE(original_nonce, '') FROM queue_items WHERE id = ?", itemID)
	if err := row.Scan(&dealID, &chain, &sourceAddress, &seq, &originalNonce); err != nil {
		return err
	}

	var successorSubmitted int
	row = tx.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE deal_id = ? AND source_address = ? AND seq > ?
		AND status IN (?, ?, ?)
	`, dealID, sourceAddress, seq, string(QueueStatusSubmitting), string(QueueStatusSubmitted), string(QueueStatusCompleted))
	if err := row.Scan(&successorSubmitted); err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE queue_items SET status = ?, txid = NULL, submitted_at = NULL, updated_at = ? WHERE id = ?`,
		string(QueueStatusPending), time.Now().Unix(), itemID,
	); err != nil {
		return err
	}

	if successorSubmitted == 0 && originalNonce != "" {
		if _, err := tx.Exec(
			`UPDATE account_state SET last_used_nonce = last_used_nonce - 1, updated_at = ? WHERE chain = ? AND address = ?`,
			time.Now().Unix(), chain, sourceAddress,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordRecoveryAttempt increments the attempt counter and records the
// bumped fee/gas price used, for stuck-transaction recovery (§4.3). Marks
// the item FAILED once maxAttempts is exceeded.
func (s *Storage) RecordRecoveryAttempt(itemID, lastGasPrice string, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attempts int
	row := s.db.QueryRow("SELECT attempt_count FROM queue_items WHERE id = ?", itemID)
	if err := row.Scan(&attempts); err != nil {
		return err
	}
	attempts++

	status := string(QueueStatusSubmitted)
	if attempts > maxAttempts {
		status = string(QueueStatusFailed)
	}

	_, err := s.db.Exec(
		`UPDATE queue_items SET attempt_count = ?, last_gas_price = ?, last_attempt_at = ?, status = ?, updated_at = ? WHERE id = ?`,
		attempts, lastGasPrice, time.Now().Unix(), status, time.Now().Unix(), itemID,
	)
	return err
}

// MarkSubmitting transitions a UTXO-chain item PENDING -> SUBMITTING.
// Unlike SubmitAccountItem, there is no nonce to assign: UTXO
// serialization comes from the phase barrier (§4.3), not a per-source
// counter, so a plain guarded status flip is enough.
func (s *Storage) MarkSubmitting(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(QueueStatusSubmitting), time.Now().Unix(), itemID, string(QueueStatusPending),
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDealNotFound
	}
	return nil
}

// MarkFailed marks a queue item terminally failed with a reason.
func (s *Storage) MarkFailed(itemID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE queue_items SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?",
		string(QueueStatusFailed), reason, time.Now().Unix(), itemID,
	)
	return err
}

func queuePhaseOrNull(p QueuePhase) interface{} {
	if p == PhaseNone {
		return nil
	}
	return int(p)
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanQueueItemRow(rows *sql.Rows) (*QueueItemRecord, error) {
	var item QueueItemRecord
	var purpose, status string
	var phase sql.NullInt64
	var txid, nonceOrInputs, lastGasPrice, originalNonce, failureReason sql.NullString
	var submittedAt, lastAttemptAt sql.NullInt64
	var createdAt, updatedAt int64

	err := rows.Scan(
		&item.ID, &item.DealID, &item.Chain, &item.SourceAddress, &item.DestinationAddress, &item.Asset, &item.Amount,
		&purpose, &phase, &item.Seq, &status,
		&txid, &submittedAt, &nonceOrInputs, &item.Confirmations, &item.RequiredConfirms,
		&item.AttemptCount, &lastGasPrice, &originalNonce, &lastAttemptAt, &failureReason,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Purpose = QueuePurpose(purpose)
	item.Status = QueueStatus(status)
	if phase.Valid {
		item.Phase = QueuePhase(phase.Int64)
	}
	if txid.Valid {
		item.TxID = txid.String
	}
	if nonceOrInputs.Valid {
		item.NonceOrInputs = nonceOrInputs.String
	}
	if lastGasPrice.Valid {
		item.LastGasPrice = lastGasPrice.String
	}
	if originalNonce.Valid {
		item.OriginalNonce = originalNonce.String
	}
	if failureReason.Valid {
		item.FailureReason = failureReason.String
	}
	if submittedAt.Valid && submittedAt.Int64 > 0 {
		item.SubmittedAt = time.Unix(submittedAt.Int64, 0)
	}
	if lastAttemptAt.Valid && lastAttemptAt.Int64 > 0 {
		item.LastAttemptAt = time.Unix(lastAttemptAt.Int64, 0)
	}
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)
	return &item, nil
}
