package storage

import (
	"database/sql"
	"encoding/json"
	"time"
)

// DealEvent is one row of a deal's append-only audit log (§3).
type DealEvent struct {
	DealID    string          `json:"deal_id"`
	Seq       int64           `json:"seq"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AppendDealEvent appends a new event to a deal's log, assigning the next
// sequence number itself.
func (s *Storage) AppendDealEvent(dealID, eventType string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendDealEventLocked(dealID, eventType, payload)
}

// appendDealEventLocked is the same operation for callers that already hold
// s.mu (CreateDeal, UpdateDealStage) so a single statement stays atomic
// with the state change it is recording.
func (s *Storage) appendDealEventLocked(dealID, eventType string, payload json.RawMessage) error {
	var nextSeq int64
	row := s.db.QueryRow("SELECT COALESCE(MAX(seq), 0) + 1 FROM deal_events WHERE deal_id = ?", dealID)
	if err := row.Scan(&nextSeq); err != nil {
		return err
	}

	_, err := s.db.Exec(
		"INSERT INTO deal_events (deal_id, seq, event_type, payload, created_at) VALUES (?, ?, ?, ?, ?)",
		dealID, nextSeq, eventType, string(payload), time.Now().Unix(),
	)
	return err
}

// GetDealEvents returns a deal's full event log in seq order.
func (s *Storage) GetDealEvents(dealID string) ([]*DealEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		"SELECT deal_id, seq, event_type, payload, created_at FROM deal_events WHERE deal_id = ? ORDER BY seq ASC",
		dealID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*DealEvent
	for rows.Next() {
		var e DealEvent
		var payload sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.DealID, &e.Seq, &e.EventType, &payload, &createdAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}
