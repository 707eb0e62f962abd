// Package storage - Deal persistence for the escrow coordinator.
// Mirrors the UPSERT/scan conventions swaps.go uses for active_swaps.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// Deal persistence errors.
var (
	ErrDealNotFound  = errors.New("deal not found")
	ErrDealExists    = errors.New("deal already exists")
	ErrInvalidStage  = errors.New("invalid deal stage")
	ErrLinkTokenUsed = errors.New("link token already in use")
)

// DealStage is the deal's position in the state machine (§4.1).
type DealStage string

const (
	DealStageCreated    DealStage = "CREATED"
	DealStageCollection DealStage = "COLLECTION"
	DealStageWaiting    DealStage = "WAITING"
	DealStageSwap       DealStage = "SWAP"
	DealStageClosed     DealStage = "CLOSED"
	DealStageReverted   DealStage = "REVERTED"
)

// DealSide identifies one of the two parties to a deal.
type DealSide string

const (
	SideA DealSide = "A"
	SideB DealSide = "B"
)

// DealSideRecord is the persisted shape of one side of a deal: the trade
// terms, the party's addresses, the generated escrow, and the frozen
// commission plan (stored as a JSON blob, same treatment swaps.go gives
// MuSig2 method_data).
type DealSideRecord struct {
	Chain             string `json:"chain"`
	Asset             string `json:"asset"`
	Amount            string `json:"amount"`
	PaybackAddress    string `json:"payback_address"`
	RecipientAddress  string `json:"recipient_address"`
	Email             string `json:"email,omitempty"`
	EscrowChain       string `json:"escrow_chain,omitempty"`
	EscrowAddress     string `json:"escrow_address,omitempty"`
	EscrowHDPath      string `json:"escrow_hd_path,omitempty"`
	CommissionPlan    json.RawMessage `json:"commission_plan,omitempty"`
	LinkToken         string    `json:"link_token,omitempty"`
	TradeLockedAt     time.Time `json:"trade_locked_at,omitempty"`
	CommissionLockedAt time.Time `json:"commission_locked_at,omitempty"`
}

// DealRecord is a persisted deal: the root entity of §3.
type DealRecord struct {
	ID string `json:"id"`

	A DealSideRecord `json:"a"`
	B DealSideRecord `json:"b"`

	Stage          DealStage `json:"stage"`
	TimeoutSeconds int64     `json:"timeout_seconds"`
	ExpiresAt      time.Time `json:"expires_at,omitempty"`
	SurfacedError  string    `json:"surfaced_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}

// Side returns the DealSideRecord for the given side.
func (d *DealRecord) Side(side DealSide) *DealSideRecord {
	if side == SideA {
		return &d.A
	}
	return &d.B
}

// CreateDeal inserts a brand new deal in stage CREATED.
func (s *Storage) CreateDeal(deal *DealRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if deal.CreatedAt.IsZero() {
		deal.CreatedAt = now
	}
	deal.UpdatedAt = now
	if deal.Stage == "" {
		deal.Stage = DealStageCreated
	}

	query := `
		INSERT INTO deals (
			id,
			a_chain, a_asset, a_amount, a_payback_address, a_recipient_address, a_email,
			a_escrow_chain, a_escrow_address, a_escrow_hd_path, a_commission_plan, a_link_token,
			b_chain, b_asset, b_amount, b_payback_address, b_recipient_address, b_email,
			b_escrow_chain, b_escrow_address, b_escrow_hd_path, b_commission_plan, b_link_token,
			stage, timeout_seconds, expires_at,
			a_trade_locked_at, a_commission_locked_at, b_trade_locked_at, b_commission_locked_at,
			surfaced_error, created_at, updated_at, closed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		deal.ID,
		deal.A.Chain, deal.A.Asset, deal.A.Amount, deal.A.PaybackAddress, deal.A.RecipientAddress, deal.A.Email,
		deal.A.EscrowChain, deal.A.EscrowAddress, deal.A.EscrowHDPath, string(deal.A.CommissionPlan), nullIfEmpty(deal.A.LinkToken),
		deal.B.Chain, deal.B.Asset, deal.B.Amount, deal.B.PaybackAddress, deal.B.RecipientAddress, deal.B.Email,
		deal.B.EscrowChain, deal.B.EscrowAddress, deal.B.EscrowHDPath, string(deal.B.CommissionPlan), nullIfEmpty(deal.B.LinkToken),
		string(deal.Stage), deal.TimeoutSeconds, timeToUnixOrZeroPtr(deal.ExpiresAt),
		timeToUnixOrZeroPtr(deal.A.TradeLockedAt), timeToUnixOrZeroPtr(deal.A.CommissionLockedAt),
		timeToUnixOrZeroPtr(deal.B.TradeLockedAt), timeToUnixOrZeroPtr(deal.B.CommissionLockedAt),
		deal.SurfacedError, deal.CreatedAt.Unix(), deal.UpdatedAt.Unix(), timeToUnixOrZeroPtr(deal.ClosedAt),
	)
	if err != nil {
		return err
	}
	return s.appendDealEventLocked(deal.ID, "DEAL_CREATED", nil)
}

const dealColumns = `
	id,
	a_chain, a_asset, a_amount, a_payback_address, a_recipient_address, a_email,
	a_escrow_chain, a_escrow_address, a_escrow_hd_path, a_commission_plan, a_link_token,
	b_chain, b_asset, b_amount, b_payback_address, b_recipient_address, b_email,
	b_escrow_chain, b_escrow_address, b_escrow_hd_path, b_commission_plan, b_link_token,
	stage, timeout_seconds, expires_at,
	a_trade_locked_at, a_commission_locked_at, b_trade_locked_at, b_commission_locked_at,
	surfaced_error, created_at, updated_at, closed_at
`

// GetDeal retrieves a deal by id.
func (s *Storage) GetDeal(id string) (*DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+dealColumns+" FROM deals WHERE id = ?", id)
	return scanDealRecord(row)
}

// GetDealByLinkToken looks a deal up by either side's personal-link token.
func (s *Storage) GetDealByLinkToken(token string) (*DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow("SELECT "+dealColumns+" FROM deals WHERE a_link_token = ? OR b_link_token = ?", token, token)
	return scanDealRecord(row)
}

// GetDealsInStages returns every deal whose stage is in the given set, for
// engine tick processing.
func (s *Storage) GetDealsInStages(stages ...DealStage) ([]*DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(stages) == 0 {
		return nil, nil
	}
	placeholders := make([]interface{}, len(stages))
	q := "SELECT " + dealColumns + " FROM deals WHERE stage IN ("
	for i, st := range stages {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders[i] = string(st)
	}
	q += ") ORDER BY created_at ASC"

	rows, err := s.db.Query(q, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*DealRecord
	for rows.Next() {
		deal, err := scanDealRecordRows(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

// GetDealsClosedSince returns deals closed at or after the given time, for
// the 7-day late-deposit watcher.
func (s *Storage) GetDealsClosedSince(since time.Time) ([]*DealRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT "+dealColumns+" FROM deals WHERE stage = ? AND closed_at >= ? ORDER BY closed_at ASC",
		string(DealStageClosed), since.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []*DealRecord
	for rows.Next() {
		deal, err := scanDealRecordRows(rows)
		if err != nil {
			return nil, err
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

// UpdateDealStage transitions a deal to a new stage, optionally adjusting
// expiresAt and closedAt in the same statement (I1/I2). Appends a
// deal_events row recording the transition.
func (s *Storage) UpdateDealStage(id string, stage DealStage, expiresAt time.Time, closed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var closedAt int64
	if closed {
		closedAt = now.Unix()
	}

	result, err := s.db.Exec(
		`UPDATE deals SET stage = ?, expires_at = ?, updated_at = ?,
		 closed_at = CASE WHEN ? > 0 THEN ? ELSE closed_at END
		 WHERE id = ?`,
		string(stage), timeToUnixOrZeroPtr(expiresAt), now.Unix(), closedAt, closedAt, id,
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

	payload, _ := json.Marshal(map[string]string{"stage": string(stage)})
	return s.appendDealEventLocked(id, "STAGE_TRANSITION", payload)
}

// SetEscrow records the generated escrow address/HD path for one side.
func (s *Storage) SetEscrow(id string, side DealSide, chain, address, hdPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "a"
	if side == SideB {
		col = "b"
	}
	query := "UPDATE deals SET " + col + "_escrow_chain = ?, " + col + "_escrow_address = ?, " +
		col + "_escrow_hd_path = ?, updated_at = ? WHERE id = ?"
	result, err := s.db.Exec(query, chain, address, hdPath, time.Now().Unix(), id)
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

// SetPartyDetails records one side's payback/recipient addresses and
// optional email, the data `fillDetails` collects in CREATED (§6).
func (s *Storage) SetPartyDetails(id string, side DealSide, payback, recipient, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "a"
	if side == SideB {
		col = "b"
	}
	query := "UPDATE deals SET " + col + "_payback_address = ?, " + col + "_recipient_address = ?, " +
		col + "_email = ?, updated_at = ? WHERE id = ?"
	result, err := s.db.Exec(query, payback, recipient, email, time.Now().Unix(), id)
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

// FreezeCommissionPlan persists the commission plan for one side (I3: set
// once, at COLLECTION entry, never again).
func (s *Storage) FreezeCommissionPlan(id string, side DealSide, plan json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "a_commission_plan"
	if side == SideB {
		col = "b_commission_plan"
	}
	result, err := s.db.Exec("UPDATE deals SET "+col+" = ?, updated_at = ? WHERE id = ?", string(plan), time.Now().Unix(), id)
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

// SetLock records the lock timestamp for a side's trade or commission
// requirement. Clearing is done by ClearLocks, which the engine calls on
// WAITING -> COLLECTION reversion, not here (locks are set-once within a
// WAITING span).
func (s *Storage) SetLock(id string, side DealSide, trade bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var col string
	switch {
	case side == SideA && trade:
		col = "a_trade_locked_at"
	case side == SideA && !trade:
		col = "a_commission_locked_at"
	case side == SideB && trade:
		col = "b_trade_locked_at"
	default:
		col = "b_commission_locked_at"
	}
	result, err := s.db.Exec("UPDATE deals SET "+col+" = ?, updated_at = ? WHERE id = ?", at.Unix(), time.Now().Unix(), id)
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

// ClearLocks resets all four lock timestamps, on WAITING->COLLECTION
// reversion.
func (s *Storage) ClearLocks(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE deals SET a_trade_locked_at = NULL, a_commission_locked_at = NULL,
		 b_trade_locked_at = NULL, b_commission_locked_at = NULL, updated_at = ?
		 WHERE id = ?`,
		time.Now().Unix(), id,
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

// SetSurfacedError records an operator-visible error on a deal stuck in
// SWAP (the state machine never silently reverts a SWAP deal).
func (s *Storage) SetSurfacedError(id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("UPDATE deals SET surfaced_error = ?, updated_at = ? WHERE id = ?", message, time.Now().Unix(), id)
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

func timeToUnixOrZeroPtr(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}

func scanDealRecord(row *sql.Row) (*DealRecord, error) {
	var d DealRecord
	var aEmail, aEscrowChain, aEscrowAddress, aEscrowHDPath, aCommissionPlan, aLinkToken sql.NullString
	var bEmail, bEscrowChain, bEscrowAddress, bEscrowHDPath, bCommissionPlan, bLinkToken sql.NullString
	var surfacedError sql.NullString
	var expiresAt, aTradeLockedAt, aCommissionLockedAt, bTradeLockedAt, bCommissionLockedAt, closedAt sql.NullInt64
	var stage string
	var createdAt, updatedAt int64

	err := row.Scan(
		&d.ID,
		&d.A.Chain, &d.A.Asset, &d.A.Amount, &d.A.PaybackAddress, &d.A.RecipientAddress, &aEmail,
		&aEscrowChain, &aEscrowAddress, &aEscrowHDPath, &aCommissionPlan, &aLinkToken,
		&d.B.Chain, &d.B.Asset, &d.B.Amount, &d.B.PaybackAddress, &d.B.RecipientAddress, &bEmail,
		&bEscrowChain, &bEscrowAddress, &bEscrowHDPath, &bCommissionPlan, &bLinkToken,
		&stage, &d.TimeoutSeconds, &expiresAt,
		&aTradeLockedAt, &aCommissionLockedAt, &bTradeLockedAt, &bCommissionLockedAt,
		&surfacedError, &createdAt, &updatedAt, &closedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrDealNotFound
		}
		return nil, err
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	applyDealScanExtras(&d, stage, aEmail, aEscrowChain, aEscrowAddress, aEscrowHDPath, aCommissionPlan, aLinkToken,
		bEmail, bEscrowChain, bEscrowAddress, bEscrowHDPath, bCommissionPlan, bLinkToken,
		surfacedError, expiresAt, aTradeLockedAt, aCommissionLockedAt, bTradeLockedAt, bCommissionLockedAt, closedAt)
	return &d, nil
}

func scanDealRecordRows(rows *sql.Rows) (*DealRecord, error) {
	var d DealRecord
	var aEmail, aEscrowChain, aEscrowAddress, aEscrowHDPath, aCommissionPlan, aLinkToken sql.NullString
	var bEmail, bEscrowChain, bEscrowAddress, bEscrowHDPath, bCommissionPlan, bLinkToken sql.NullString
	var surfacedError sql.NullString
	var expiresAt, aTradeLockedAt, aCommissionLockedAt, bTradeLockedAt, bCommissionLockedAt, closedAt sql.NullInt64
	var stage string
	var createdAt, updatedAt int64

	err := rows.Scan(
		&d.ID,
		&d.A.Chain, &d.A.Asset, &d.A.Amount, &d.A.PaybackAddress, &d.A.RecipientAddress, &aEmail,
		&aEscrowChain, &aEscrowAddress, &aEscrowHDPath, &aCommissionPlan, &aLinkToken,
		&d.B.Chain, &d.B.Asset, &d.B.Amount, &d.B.PaybackAddress, &d.B.RecipientAddress, &bEmail,
		&bEscrowChain, &bEscrowAddress, &bEscrowHDPath, &bCommissionPlan, &bLinkToken,
		&stage, &d.TimeoutSeconds, &expiresAt,
		&aTradeLockedAt, &aCommissionLockedAt, &bTradeLockedAt, &bCommissionLockedAt,
		&surfacedError, &createdAt, &updatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.Unix(createdAt, 0)
	d.UpdatedAt = time.Unix(updatedAt, 0)
	applyDealScanExtras(&d, stage, aEmail, aEscrowChain, aEscrowAddress, aEscrowHDPath, aCommissionPlan, aLinkToken,
		bEmail, bEscrowChain, bEscrowAddress, bEscrowHDPath, bCommissionPlan, bLinkToken,
		surfacedError, expiresAt, aTradeLockedAt, aCommissionLockedAt, bTradeLockedAt, bCommissionLockedAt, closedAt)
	return &d, nil
}

func applyDealScanExtras(
	d *DealRecord, stage string,
	aEmail, aEscrowChain, aEscrowAddress, aEscrowHDPath, aCommissionPlan, aLinkToken sql.NullString,
	bEmail, bEscrowChain, bEscrowAddress, bEscrowHDPath, bCommissionPlan, bLinkToken sql.NullString,
	surfacedError sql.NullString,
	expiresAt, aTradeLockedAt, aCommissionLockedAt, bTradeLockedAt, bCommissionLockedAt, closedAt sql.NullInt64,
) {
	d.Stage = DealStage(stage)
	if aEmail.Valid {
		d.A.Email = aEmail.String
	}
	if aEscrowChain.Valid {
		d.A.EscrowChain = aEscrowChain.String
	}
	if aEscrowAddress.Valid {
		d.A.EscrowAddress = aEscrowAddress.String
	}
	if aEscrowHDPath.Valid {
		d.A.EscrowHDPath = aEscrowHDPath.String
	}
	if aCommissionPlan.Valid {
		d.A.CommissionPlan = json.RawMessage(aCommissionPlan.String)
	}
	if aLinkToken.Valid {
		d.A.LinkToken = aLinkToken.String
	}
	if bEmail.Valid {
		d.B.Email = bEmail.String
	}
	if bEscrowChain.Valid {
		d.B.EscrowChain = bEscrowChain.String
	}
	if bEscrowAddress.Valid {
		d.B.EscrowAddress = bEscrowAddress.String
	}
	if bEscrowHDPath.Valid {
		d.B.EscrowHDPath = bEscrowHDPath.String
	}
	if bCommissionPlan.Valid {
		d.B.CommissionPlan = json.RawMessage(bCommissionPlan.String)
	}
	if bLinkToken.Valid {
		d.B.LinkToken = bLinkToken.String
	}
	if surfacedError.Valid {
		d.SurfacedError = surfacedError.String
	}
	if expiresAt.Valid && expiresAt.Int64 > 0 {
		d.ExpiresAt = time.Unix(expiresAt.Int64, 0)
	}
	if aTradeLockedAt.Valid && aTradeLockedAt.Int64 > 0 {
		d.A.TradeLockedAt = time.Unix(aTradeLockedAt.Int64, 0)
	}
	if aCommissionLockedAt.Valid && aCommissionLockedAt.Int64 > 0 {
		d.A.CommissionLockedAt = time.Unix(aCommissionLockedAt.Int64, 0)
	}
	if bTradeLockedAt.Valid && bTradeLockedAt.Int64 > 0 {
		d.B.TradeLockedAt = time.Unix(bTradeLockedAt.Int64, 0)
	}
	if bCommissionLockedAt.Valid && bCommissionLockedAt.Int64 > 0 {
		d.B.CommissionLockedAt = time.Unix(bCommissionLockedAt.Int64, 0)
	}
	if closedAt.Valid && closedAt.Int64 > 0 {
		d.ClosedAt = time.Unix(closedAt.Int64, 0)
	}
}
