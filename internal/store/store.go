// Package store provides SQLite persistence for curiosity runs.
//
// The store is the source of truth for run history: questions, clusters and
// signals are written per run, and completed runs feed the velocity and
// novelty lookups of later runs.
//
// # Thread Safety
//
// Store is safe for concurrent use. Every method holds an internal mutex;
// multi-row writes run inside a transaction.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

var (
	// ErrNotFound is returned when a run does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrRunLimit is returned by BeginRun when the tenant already has the
	// maximum number of non-failed runs for the week.
	ErrRunLimit = errors.New("store: run limit reached for week")
	// ErrRunFinalized is returned by FinishRun for a run that is no
	// longer running.
	ErrRunFinalized = errors.New("store: run already finalized")
)

// DefaultRunLimit is the number of non-failed runs allowed per tenant-week.
const DefaultRunLimit = 1

// Store handles SQLite persistence. NOT an interface - concrete type.
type Store struct {
	db       *sql.DB
	mu       sync.RWMutex // Protects all database operations
	runLimit int
}

// Open creates a new Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so every pooled connection sees the same database.
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db, runLimit: DefaultRunLimit}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// SetRunLimit sets the per tenant-week run limit. Zero or less disables it.
func (s *Store) SetRunLimit(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runLimit = n
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		tenant TEXT NOT NULL,
		week TEXT NOT NULL,
		status TEXT NOT NULL,
		questions_ingested INTEGER DEFAULT 0,
		clusters_created INTEGER DEFAULT 0,
		signals_detected INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		error_message TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_tenant_week ON runs(tenant, week);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS questions (
		run_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		external_id TEXT NOT NULL,
		url TEXT,
		raw_text TEXT NOT NULL,
		normalized_text TEXT,
		upvotes INTEGER DEFAULT 0,
		comments INTEGER DEFAULT 0,
		views INTEGER DEFAULT 0,
		created_at DATETIME,
		ingested_at DATETIME,
		status TEXT NOT NULL,
		cluster_index INTEGER,
		PRIMARY KEY (run_id, platform, external_id),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_questions_status ON questions(run_id, status);

	CREATE TABLE IF NOT EXISTS clusters (
		run_id TEXT NOT NULL,
		cluster_index INTEGER NOT NULL,
		canonical_question TEXT NOT NULL,
		centroid BLOB,
		question_count INTEGER NOT NULL,
		platform_counts TEXT,
		total_engagement INTEGER DEFAULT 0,
		earliest_seen DATETIME,
		latest_seen DATETIME,
		PRIMARY KEY (run_id, cluster_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE TABLE IF NOT EXISTS signals (
		run_id TEXT NOT NULL,
		cluster_index INTEGER NOT NULL,
		canonical_question TEXT NOT NULL,
		velocity_score REAL NOT NULL,
		cross_platform_score REAL NOT NULL,
		engagement_score REAL NOT NULL,
		novelty_score REAL NOT NULL,
		weirdness_bonus REAL NOT NULL,
		final_score REAL NOT NULL,
		tier TEXT NOT NULL,
		is_signal INTEGER NOT NULL,
		velocity_pct REAL,
		platforms TEXT,
		platform_count INTEGER,
		question_count INTEGER,
		total_engagement INTEGER,
		sample_questions TEXT,
		news_trigger TEXT,
		PRIMARY KEY (run_id, cluster_index),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_signals_score ON signals(run_id, final_score DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// serializeEmbedding converts a float32 slice to bytes for storage.
// Uses little-endian IEEE 754 format (4 bytes per float).
func serializeEmbedding(embedding []float32) []byte {
	if embedding == nil {
		return nil
	}
	blob := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		bits := math.Float32bits(v)
		blob[i*4] = byte(bits)
		blob[i*4+1] = byte(bits >> 8)
		blob[i*4+2] = byte(bits >> 16)
		blob[i*4+3] = byte(bits >> 24)
	}
	return blob
}

// deserializeEmbedding converts bytes back to a float32 slice.
func deserializeEmbedding(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(blob)/4)
	for i := range embedding {
		bits := uint32(blob[i*4]) |
			uint32(blob[i*4+1])<<8 |
			uint32(blob[i*4+2])<<16 |
			uint32(blob[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}
