package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// maxIdempotencyEntries bounds the processed-event log; the oldest rows
// are trimmed past the cap.
const maxIdempotencyEntries = 10000

// LoadCounters reads the lifecycle counters blob. A missing row means a
// fresh shard, returned as zero counters.
func (s *Store) LoadCounters() (*pattern.Counters, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM counters WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return &pattern.Counters{}, nil
	}
	if err != nil {
		return nil, err
	}
	var c pattern.Counters
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return &pattern.Counters{}, nil
	}
	return &c, nil
}

// SaveCounters persists the lifecycle counters blob.
func (s *Store) SaveCounters(c *pattern.Counters) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(`INSERT INTO counters (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`, string(payload))
	return err
}

// MarkEventProcessed records a federation event id. The first call for an
// id returns true; replays return false. The log is trimmed to the newest
// entries when it grows past the cap.
func (s *Store) MarkEventProcessed(eventID, eventType string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`INSERT INTO idempotency (event_id, event_type, processed_at)
		VALUES (?, ?, ?) ON CONFLICT(event_id) DO NOTHING`,
		eventID, eventType, time.Now().UTC().Unix())
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	_, err = s.db.Exec(`DELETE FROM idempotency WHERE event_id IN (
		SELECT event_id FROM idempotency ORDER BY processed_at DESC, event_id
		LIMIT -1 OFFSET ?)`, maxIdempotencyEntries)
	return true, err
}

// SeenEvent reports whether an event id was already processed.
func (s *Store) SeenEvent(eventID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM idempotency WHERE event_id = ?`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
