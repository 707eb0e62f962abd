package storage

import (
	"database/sql"
	"errors"
	"time"
)

// ErrLeaseHeld is returned when a different owner already holds a deal's
// lease and it has not yet expired.
var ErrLeaseHeld = errors.New("lease held by another owner")

// AcquireLease attempts to become (or renew as) the sole writer for a deal.
// It succeeds if no lease row exists, the existing lease has expired, or
// the existing lease is already held by ownerID (renewal). The whole
// read-then-write runs inside one transaction so two workers racing for
// the same deal never both believe they hold it (I4's "exactly one writer"
// requirement, extended across process instances rather than just goroutines).
func (s *Storage) AcquireLease(dealID, ownerID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var existingOwner string
	var leaseUntil int64
	row := tx.QueryRow("SELECT owner_id, lease_until FROM leases WHERE deal_id = ?", dealID)
	err = row.Scan(&existingOwner, &leaseUntil)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.Exec(
			"INSERT INTO leases (deal_id, owner_id, lease_until) VALUES (?, ?, ?)",
			dealID, ownerID, until.Unix(),
		); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		now := time.Now().Unix()
		if existingOwner != ownerID && leaseUntil > now {
			return ErrLeaseHeld
		}
		if _, err := tx.Exec(
			"UPDATE leases SET owner_id = ?, lease_until = ? WHERE deal_id = ?",
			ownerID, until.Unix(), dealID,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ReleaseLease drops a lease early (e.g. on graceful worker shutdown), only
// if still held by ownerID.
func (s *Storage) ReleaseLease(dealID, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec("DELETE FROM leases WHERE deal_id = ? AND owner_id = ?", dealID, ownerID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLeaseHeld
	}
	return nil
}

// LeaseRecord mirrors the leases table for callers that want to inspect
// current ownership (e.g. health/metrics surface).
type LeaseRecord struct {
	DealID     string
	OwnerID    string
	LeaseUntil time.Time
}

// GetLease returns the current lease for a deal, if any.
func (s *Storage) GetLease(dealID string) (*LeaseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l LeaseRecord
	var leaseUntil int64
	l.DealID = dealID
	row := s.db.QueryRow("SELECT owner_id, lease_until FROM leases WHERE deal_id = ?", dealID)
	if err := row.Scan(&l.OwnerID, &leaseUntil); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	l.LeaseUntil = time.Unix(leaseUntil, 0)
	return &l, nil
}
