package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
)

const weightsSchema = `
CREATE TABLE IF NOT EXISTS weight_versions (
    skill         TEXT NOT NULL,
    version       INTEGER NOT NULL,
    weights_json  TEXT NOT NULL,
    updated_at    TEXT NOT NULL,
    PRIMARY KEY (skill, version)
);
`

// SQLiteWeights keeps every accepted weight mapping as a versioned row.
// The empty skill holds the global default.
type SQLiteWeights struct {
	db *sql.DB
}

var _ weights.Persister = (*SQLiteWeights)(nil)

// OpenSQLiteWeights opens (or creates) the database at path and migrates it.
func OpenSQLiteWeights(path string) (*SQLiteWeights, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(weightsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteWeights{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteWeights) Close() error {
	return s.db.Close()
}

// Save implements weights.Persister.
func (s *SQLiteWeights) Save(ctx context.Context, rec weights.Record) error {
	raw, err := json.Marshal(rec.Weights)
	if err != nil {
		return fmt.Errorf("marshal weights: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO weight_versions (skill, version, weights_json, updated_at) VALUES (?, ?, ?, ?)`,
		string(rec.Skill), rec.Version, string(raw), rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert weights: %w", err)
	}
	return nil
}

// Load implements weights.Persister. It returns the latest row per skill,
// ordered by version.
func (s *SQLiteWeights) Load(ctx context.Context) ([]weights.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.skill, w.version, w.weights_json, w.updated_at
		FROM weight_versions w
		JOIN (SELECT skill, MAX(version) AS version FROM weight_versions GROUP BY skill) latest
		  ON w.skill = latest.skill AND w.version = latest.version
		ORDER BY w.version`)
	if err != nil {
		return nil, fmt.Errorf("query weights: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// History returns every stored version for skill, newest first. The empty
// skill selects the global default.
func (s *SQLiteWeights) History(ctx context.Context, skill model.Skill, limit int) ([]weights.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT skill, version, weights_json, updated_at
		FROM weight_versions
		WHERE skill = ?
		ORDER BY version DESC
		LIMIT ?`, string(skill), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: weights for %q", ErrNotFound, skill)
	}
	return out, nil
}

func scanRecords(rows *sql.Rows) ([]weights.Record, error) {
	var out []weights.Record
	for rows.Next() {
		var skill, raw, updated string
		var version int64
		if err := rows.Scan(&skill, &version, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan weights: %w", err)
		}
		var m weights.Mapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode weights %s@%d: %w", skill, version, err)
		}
		at, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("decode time %s@%d: %w", skill, version, err)
		}
		out = append(out, weights.Record{Skill: model.Skill(skill), Weights: m, Version: version, UpdatedAt: at})
	}
	return out, rows.Err()
}
