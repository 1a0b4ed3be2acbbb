// Package archive keeps finished audit reports in sqlite so they can be
// fetched again by request id.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vigilant-go/internal/types"
)

var ErrNotFound = errors.New("report not found")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS audit_reports (
			request_id TEXT PRIMARY KEY,
			call_timestamp TEXT,
			violations INTEGER,
			clause_ids TEXT,
			risk_score REAL,
			final_status TEXT,
			report_json TEXT NOT NULL,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_reports_created ON audit_reports(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate archive: %w", err)
		}
	}
	return nil
}

// Summary is the row-level view of an archived report.
type Summary struct {
	RequestID     string    `json:"request_id"`
	CallTimestamp string    `json:"call_timestamp"`
	Violations    int       `json:"violations"`
	ClauseIDs     []string  `json:"violated_clause_ids"`
	RiskScore     float64   `json:"risk_score"`
	FinalStatus   string    `json:"final_status"`
	CreatedAt     time.Time `json:"created_at"`
}

// Save stores rep under its request id. Saving the same id twice keeps the
// latest report.
func (s *Store) Save(ctx context.Context, rep *types.AuditReport) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	ids := make([]string, 0, len(rep.ComplianceAudit.PolicyViolations))
	for _, v := range rep.ComplianceAudit.PolicyViolations {
		ids = append(ids, v.ClauseID)
	}
	idsJSON, _ := json.Marshal(ids)
	// summary column only; report_json keeps the score as the model sent it
	score, _ := rep.ComplianceAudit.RiskScores.RiskEscalationScore.Float()
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_reports(request_id, call_timestamp, violations, clause_ids, risk_score, final_status, report_json, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(request_id) DO UPDATE SET call_timestamp=excluded.call_timestamp, violations=excluded.violations,
			clause_ids=excluded.clause_ids, risk_score=excluded.risk_score, final_status=excluded.final_status,
			report_json=excluded.report_json`,
		rep.RequestID,
		rep.Metadata.Timestamp,
		len(ids),
		string(idsJSON),
		score,
		rep.PerformanceAndOutcomes.FinalStatus.String(),
		string(raw),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save report %s: %w", rep.RequestID, err)
	}
	return nil
}

// Get returns the archived report JSON exactly as it was stored.
func (s *Store) Get(ctx context.Context, requestID string) (json.RawMessage, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT report_json FROM audit_reports WHERE request_id = ?`, requestID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report %s: %w", requestID, err)
	}
	return json.RawMessage(raw), nil
}

// Recent lists the newest reports first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT request_id, call_timestamp, violations, clause_ids, risk_score, final_status, created_at
		FROM audit_reports ORDER BY created_at DESC, request_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var (
			sm  Summary
			ids string
		)
		if err := rows.Scan(&sm.RequestID, &sm.CallTimestamp, &sm.Violations, &ids, &sm.RiskScore, &sm.FinalStatus, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &sm.ClauseIDs); err != nil || sm.ClauseIDs == nil {
			sm.ClauseIDs = []string{}
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}
