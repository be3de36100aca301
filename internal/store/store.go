// Package store persists proven patterns, candidates, votes, voters,
// lifecycle counters, and the federation idempotency log in a sqlite
// database. Writes serialize behind a single writer mutex; reads query
// directly and see consistent snapshots.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// DBFileName is the database file inside each shard directory.
const DBFileName = "oracle.db"

// Store is one shard's durable collection set (local, personal, or
// community — each shard directory holds an independent Store).
type Store struct {
	db     *sql.DB
	mu     sync.Mutex // single logical writer
	logger *zap.Logger

	openedAt time.Time
}

// Open creates or opens the shard database under dir and migrates the
// schema. Pre-existing uniqueness violations are deduplicated on startup.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("cannot open store database: %w", err)
	}

	// WAL keeps readers unblocked while the single writer commits.
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot configure database: %w", err)
	}

	s := &Store{db: db, logger: logger, openedAt: time.Now()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot migrate store: %w", err)
	}

	if report, err := s.Deduplicate(); err != nil {
		logger.Warn("startup dedup failed", zap.Error(err))
	} else if report.Removed > 0 {
		logger.Info("startup dedup merged pre-existing duplicates",
			zap.Int("removed", report.Removed))
	}

	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const patternColumns = `
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		language TEXT NOT NULL,
		code TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		test_code TEXT NOT NULL DEFAULT '',
		pattern_type TEXT NOT NULL DEFAULT 'other',
		complexity TEXT NOT NULL DEFAULT 'low',
		coherency TEXT NOT NULL DEFAULT '{}',
		coherency_total REAL NOT NULL DEFAULT 0,
		covenant_sealed INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		bug_reports INTEGER NOT NULL DEFAULT 0,
		healing_rate REAL NOT NULL DEFAULT 0,
		upvotes INTEGER NOT NULL DEFAULT 0,
		downvotes INTEGER NOT NULL DEFAULT 0,
		vote_score REAL NOT NULL DEFAULT 0,
		parent_pattern TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL DEFAULT 'submit',
		author TEXT NOT NULL DEFAULT '',
		merged_into TEXT NOT NULL DEFAULT '',
		healing_history TEXT NOT NULL DEFAULT '[]',
		signature TEXT NOT NULL DEFAULT '[]',
		extensions TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_used_at INTEGER`

	schema := `
	CREATE TABLE IF NOT EXISTS patterns (` + patternColumns + `);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_patterns_name_lang ON patterns(name_key, language);
	CREATE INDEX IF NOT EXISTS idx_patterns_language ON patterns(language);
	CREATE INDEX IF NOT EXISTS idx_patterns_updated ON patterns(updated_at);
	CREATE INDEX IF NOT EXISTS idx_patterns_coherency ON patterns(coherency_total);

	CREATE TABLE IF NOT EXISTS candidates (` + patternColumns + `);
	CREATE INDEX IF NOT EXISTS idx_candidates_language ON candidates(language);
	CREATE INDEX IF NOT EXISTS idx_candidates_coherency ON candidates(coherency_total);

	CREATE TABLE IF NOT EXISTS votes (
		pattern_id TEXT NOT NULL,
		voter_id TEXT NOT NULL,
		direction INTEGER NOT NULL,
		weight REAL NOT NULL,
		accurate INTEGER NOT NULL DEFAULT 0,
		cast_at INTEGER NOT NULL,
		PRIMARY KEY (pattern_id, voter_id)
	);
	CREATE INDEX IF NOT EXISTS idx_votes_pattern ON votes(pattern_id);

	CREATE TABLE IF NOT EXISTS voters (
		id TEXT PRIMARY KEY,
		reputation REAL NOT NULL DEFAULT 1.0,
		total_votes INTEGER NOT NULL DEFAULT 0,
		accurate_votes INTEGER NOT NULL DEFAULT 0,
		contributions INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS counters (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS idempotency (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		processed_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS debug_patterns (
		id TEXT PRIMARY KEY,
		error_class TEXT NOT NULL,
		error_category TEXT NOT NULL DEFAULT '',
		fix_code TEXT NOT NULL,
		language TEXT NOT NULL DEFAULT 'unknown',
		times_applied INTEGER NOT NULL DEFAULT 0,
		times_resolved INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0.5
	);
	CREATE INDEX IF NOT EXISTS idx_debug_class ON debug_patterns(error_class);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Stats summarizes the shard's contents.
type Stats struct {
	Patterns     int            `json:"patterns"`
	Candidates   int            `json:"candidates"`
	AvgCoherency float64        `json:"avg_coherency"`
	ByLanguage   map[string]int `json:"by_language"`
	ByType       map[string]int `json:"by_type"`
	Votes        int            `json:"votes"`
	Voters       int            `json:"voters"`
}

// ComputeStats aggregates totals and histograms for the shard.
func (s *Store) ComputeStats() (*Stats, error) {
	st := &Stats{ByLanguage: make(map[string]int), ByType: make(map[string]int)}

	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(AVG(coherency_total), 0) FROM patterns WHERE merged_into = ''`)
	if err := row.Scan(&st.Patterns, &st.AvgCoherency); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM candidates`).Scan(&st.Candidates); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM votes`).Scan(&st.Votes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM voters`).Scan(&st.Voters); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(`SELECT language, COUNT(*) FROM patterns WHERE merged_into = '' GROUP BY language`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		st.ByLanguage[lang] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	typeRows, err := s.db.Query(`SELECT pattern_type, COUNT(*) FROM patterns WHERE merged_into = '' GROUP BY pattern_type`)
	if err != nil {
		return nil, err
	}
	defer typeRows.Close()
	for typeRows.Next() {
		var pt string
		var n int
		if err := typeRows.Scan(&pt, &n); err != nil {
			return nil, err
		}
		st.ByType[pt] = n
	}
	return st, typeRows.Err()
}

// Health reports the shard's health for the federation health endpoint.
type Health struct {
	Status    string `json:"status"`
	Patterns  int    `json:"patterns"`
	Entries   int    `json:"entries"`
	UptimeSec int64  `json:"uptime_sec"`
}

// CheckHealth runs a cheap integrity probe and reports counts.
func (s *Store) CheckHealth() Health {
	h := Health{Status: "ok", UptimeSec: int64(time.Since(s.openedAt).Seconds())}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM patterns WHERE merged_into = ''`).Scan(&h.Patterns); err != nil {
		h.Status = "degraded"
		return h
	}
	var candidates, votes int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM candidates`).Scan(&candidates); err != nil {
		h.Status = "degraded"
		return h
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM votes`).Scan(&votes); err != nil {
		h.Status = "degraded"
		return h
	}
	h.Entries = h.Patterns + candidates + votes
	return h
}
