package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the catalog and run reports across builds.
// Lifecycle is load-at-run-start, save-at-run-end; the in-memory Catalog is
// the working copy in between.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (or creates) the catalog database.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS units (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		identifier TEXT NOT NULL UNIQUE,
		discovered_at TEXT NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT '',
		stage_marks TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		regenerated INTEGER NOT NULL,
		reused INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		failures TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_units_identifier ON units(identifier);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the persisted catalog into memory, preserving registration order.
func (s *SQLiteStore) Load(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT identifier, discovered_at, source_path, content_hash, stage_marks FROM units ORDER BY seq",
	)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	cat := New()
	for rows.Next() {
		var identifier, discoveredAt, sourcePath, contentHash, marksJSON string
		if err := rows.Scan(&identifier, &discoveredAt, &sourcePath, &contentHash, &marksJSON); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		var marks []string
		if err := json.Unmarshal([]byte(marksJSON), &marks); err != nil {
			return nil, fmt.Errorf("unmarshal stage marks for %s: %w", identifier, err)
		}
		cat.Register(identifier, discoveredAt)
		if sourcePath != "" {
			if err := cat.WithSource(identifier, sourcePath); err != nil {
				return nil, err
			}
		}
		if contentHash != "" {
			if err := cat.WithHash(identifier, contentHash); err != nil {
				return nil, err
			}
		}
		for _, stage := range marks {
			if err := cat.MarkStage(identifier, stage); err != nil {
				return nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate units: %w", err)
	}
	return cat, nil
}

// Save writes the catalog back, replacing previous rows while keeping
// registration order via the sequence column.
func (s *SQLiteStore) Save(ctx context.Context, cat *Catalog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM units"); err != nil {
		return fmt.Errorf("clear units: %w", err)
	}
	for entry := range cat.All() {
		marksJSON, err := json.Marshal(entry.Stages())
		if err != nil {
			return fmt.Errorf("marshal stage marks for %s: %w", entry.Identifier, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO units (identifier, discovered_at, source_path, content_hash, stage_marks) VALUES (?, ?, ?, ?, ?)",
			entry.Identifier, entry.DiscoveredAt, entry.SourcePath, entry.ContentHash, string(marksJSON),
		); err != nil {
			return fmt.Errorf("insert unit %s: %w", entry.Identifier, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit units: %w", err)
	}
	return nil
}

// RunReport is the persisted record of one pipeline run.
type RunReport struct {
	ID          string
	Started     time.Time
	Finished    time.Time
	Regenerated int
	Reused      int
	Skipped     int
	Failed      int
	Failures    []string
}

// SaveRun appends a run report.
func (s *SQLiteStore) SaveRun(ctx context.Context, report RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	failuresJSON, err := json.Marshal(report.Failures)
	if err != nil {
		return fmt.Errorf("marshal failures: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO runs (id, started, finished, regenerated, reused, skipped, failed, failures) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		report.ID, report.Started.Unix(), report.Finished.Unix(),
		report.Regenerated, report.Reused, report.Skipped, report.Failed, string(failuresJSON),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit most recent run reports, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]RunReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, started, finished, regenerated, reused, skipped, failed, failures FROM runs ORDER BY started DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var reports []RunReport
	for rows.Next() {
		var r RunReport
		var started, finished int64
		var failuresJSON string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Regenerated, &r.Reused, &r.Skipped, &r.Failed, &failuresJSON); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started = time.Unix(started, 0)
		r.Finished = time.Unix(finished, 0)
		if err := json.Unmarshal([]byte(failuresJSON), &r.Failures); err != nil {
			return nil, fmt.Errorf("unmarshal failures: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return reports, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
