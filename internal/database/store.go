// Package database persists finished scans in PostgreSQL through sqlx.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/nexus-scanner/nexus/internal/config"
	"github.com/nexus-scanner/nexus/internal/core"
	"github.com/nexus-scanner/nexus/internal/logger"
	"github.com/nexus-scanner/nexus/pkg/types"
)

type sqlStore struct {
	db     *sqlx.DB
	logger *logger.Logger
}

// NewStore connects, configures the pool and runs migrations.
func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (core.ScanStore, error) {
	log = log.WithComponent("database")

	start := time.Now()
	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.LogDuration(context.Background(), "database.Connect", start, "driver", cfg.Driver)

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	store := &sqlStore{db: db, logger: log}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Infow("Database store initialized", "driver", cfg.Driver)
	return store, nil
}

func (s *sqlStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		discovered INTEGER NOT NULL DEFAULT 0,
		completed INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS findings (
		id TEXT PRIMARY KEY,
		scan_id TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
		detector TEXT NOT NULL,
		detector_version TEXT NOT NULL,
		resource TEXT NOT NULL,
		depth INTEGER NOT NULL DEFAULT 0,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		evidence TEXT,
		metadata TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_findings_scan_id ON findings(scan_id);
	CREATE INDEX IF NOT EXISTS idx_findings_severity ON findings(severity);
	CREATE INDEX IF NOT EXISTS idx_scans_target ON scans(target);
	CREATE INDEX IF NOT EXISTS idx_scans_started_at ON scans(started_at);
	`

	start := time.Now()
	if _, err := s.db.Exec(schema); err != nil {
		s.logger.LogError(context.Background(), err, "database.migrate")
		return err
	}
	s.logger.LogDuration(context.Background(), "database.migrate", start)
	return nil
}

// SaveScan upserts the scan row and rewrites its findings in one transaction,
// so re-saving a scan never duplicates findings.
func (s *sqlStore) SaveScan(ctx context.Context, state *types.ScanState) error {
	start := time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	scanQuery := `
		INSERT INTO scans (id, target, status, discovered, completed, started_at, ended_at, error_message)
		VALUES (:id, :target, :status, :discovered, :completed, :started_at, :ended_at, :error_message)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			discovered = EXCLUDED.discovered,
			completed = EXCLUDED.completed,
			ended_at = EXCLUDED.ended_at,
			error_message = EXCLUDED.error_message
	`

	_, err = tx.NamedExecContext(ctx, scanQuery, map[string]interface{}{
		"id":            state.ID,
		"target":        state.Target.String(),
		"status":        state.Status,
		"discovered":    state.Discovered,
		"completed":     state.Completed,
		"started_at":    state.StartedAt,
		"ended_at":      state.EndedAt,
		"error_message": state.Error,
	})
	if err != nil {
		s.logger.LogError(ctx, err, "database.SaveScan.upsert", "scan_id", state.ID)
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE scan_id = $1`, state.ID); err != nil {
		return fmt.Errorf("failed to clear findings for scan %s: %w", state.ID, err)
	}

	findingQuery := `
		INSERT INTO findings (id, scan_id, detector, detector_version, resource, depth,
			severity, title, description, evidence, metadata, created_at)
		VALUES (:id, :scan_id, :detector, :detector_version, :resource, :depth,
			:severity, :title, :description, :evidence, :metadata, :created_at)
	`

	for _, f := range state.Findings {
		metaJSON, err := json.Marshal(f.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for finding %s: %w", f.ID, err)
		}

		_, err = tx.NamedExecContext(ctx, findingQuery, map[string]interface{}{
			"id":               f.ID,
			"scan_id":          f.ScanID,
			"detector":         f.Detector,
			"detector_version": f.DetectorVersion,
			"resource":         f.Resource,
			"depth":            f.Depth,
			"severity":         f.Severity,
			"title":            f.Title,
			"description":      f.Description,
			"evidence":         f.Evidence,
			"metadata":         string(metaJSON),
			"created_at":       f.CreatedAt,
		})
		if err != nil {
			s.logger.LogError(ctx, err, "database.SaveScan.finding",
				"scan_id", state.ID,
				"finding_id", f.ID,
			)
			return fmt.Errorf("failed to insert finding %s: %w", f.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.LogDuration(ctx, "database.SaveScan", start,
		"scan_id", state.ID,
		"findings_count", len(state.Findings),
	)
	return nil
}

func (s *sqlStore) GetScan(ctx context.Context, scanID string) (*types.ScanState, error) {
	row := s.db.QueryRowxContext(ctx, `
		SELECT id, target, status, discovered, completed, started_at, ended_at, error_message
		FROM scans WHERE id = $1
	`, scanID)

	state, err := scanScanRow(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("scan %s not found", scanID)
		}
		return nil, err
	}

	findings, err := s.GetFindings(ctx, scanID)
	if err != nil {
		return nil, err
	}
	state.Findings = findings
	return state, nil
}

func (s *sqlStore) ListScans(ctx context.Context, limit int) ([]types.ScanState, error) {
	query := `
		SELECT id, target, status, discovered, completed, started_at, ended_at, error_message
		FROM scans ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scans := []types.ScanState{}
	for rows.Next() {
		state, err := scanScanRow(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *state)
	}
	return scans, rows.Err()
}

func (s *sqlStore) GetFindings(ctx context.Context, scanID string) ([]types.Finding, error) {
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, scan_id, detector, detector_version, resource, depth,
			   severity, title, description, evidence, metadata, created_at
		FROM findings WHERE scan_id = $1
		ORDER BY created_at
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectFindings(ctx, rows)
}

func (s *sqlStore) FindingsBySeverity(ctx context.Context, severity types.Severity, limit int) ([]types.Finding, error) {
	query := `
		SELECT id, scan_id, detector, detector_version, resource, depth,
			   severity, title, description, evidence, metadata, created_at
		FROM findings WHERE severity = $1
		ORDER BY created_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryxContext(ctx, query, severity)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectFindings(ctx, rows)
}

func (s *sqlStore) collectFindings(ctx context.Context, rows *sqlx.Rows) ([]types.Finding, error) {
	findings := []types.Finding{}
	for rows.Next() {
		var f types.Finding
		var metaJSON sql.NullString

		err := rows.Scan(
			&f.ID, &f.ScanID, &f.Detector, &f.DetectorVersion, &f.Resource, &f.Depth,
			&f.Severity, &f.Title, &f.Description, &f.Evidence, &metaJSON, &f.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
			if err := json.Unmarshal([]byte(metaJSON.String), &f.Metadata); err != nil {
				s.logger.Warnw("Failed to unmarshal finding metadata",
					"finding_id", f.ID,
					"error", err,
				)
			}
		}

		findings = append(findings, f)
	}
	return findings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScanRow(row rowScanner) (*types.ScanState, error) {
	var state types.ScanState
	var target string
	var endedAt sql.NullTime
	var errMsg sql.NullString

	err := row.Scan(
		&state.ID, &target, &state.Status, &state.Discovered, &state.Completed,
		&state.StartedAt, &endedAt, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	if parsed, perr := types.ParseTarget(target); perr == nil {
		state.Target = parsed
	}
	if endedAt.Valid {
		state.EndedAt = &endedAt.Time
	}
	if errMsg.Valid {
		state.Error = errMsg.String
	}
	return &state, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
