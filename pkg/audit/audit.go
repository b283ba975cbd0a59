// Package audit appends processed queries to the relational analytics log.
package audit

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.scholarhub.net/triage/pkg/types"
)

// Mode decides how an audit-write failure affects message processing.
type Mode string

const (
	// ModeBestEffort logs audit failures and lets the sequence continue.
	// Lost audit rows are an accepted trade-off in this mode.
	ModeBestEffort Mode = "best_effort"
	// ModeStrict aborts the sequence on audit failure, leaving the inbound
	// message unacknowledged for redelivery.
	ModeStrict Mode = "strict"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeBestEffort || m == ModeStrict
}

// Recorder accepts audit records.
type Recorder interface {
	Insert(ctx context.Context, record *types.AuditRecord) error
}

// Store is the MySQL-backed audit log.
type Store struct {
	DB        *sqlx.DB
	TableName string
}

var _ Recorder = (*Store)(nil)

// CreateTable creates the audit table.
func (s *Store) CreateTable(ctx context.Context) error {
	// language=MariaDB
	const template = `CREATE TABLE IF NOT EXISTS %s (
	id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
	ts DATETIME NOT NULL,
	platform VARCHAR(32) NOT NULL,
	sender_id VARCHAR(255) NOT NULL,
	question TEXT NOT NULL,
	category VARCHAR(32) NOT NULL,
	sentiment_score DOUBLE NOT NULL,
	attributed_referrer VARCHAR(255) NOT NULL DEFAULT '',
	referrer_registered BOOL NOT NULL DEFAULT FALSE
);`
	_, err := s.DB.ExecContext(ctx, fmt.Sprintf(template, s.TableName))
	return err
}

// Insert appends one record. Duplicate rows from queue redelivery are
// independent appends, not an error.
func (s *Store) Insert(ctx context.Context, record *types.AuditRecord) error {
	// language=MariaDB
	const stmt = `INSERT INTO %s
(ts, platform, sender_id, question, category, sentiment_score, attributed_referrer, referrer_registered)
VALUES (:ts, :platform, :sender_id, :question, :category, :sentiment_score, :attributed_referrer, :referrer_registered);`
	_, err := s.DB.NamedExecContext(ctx, fmt.Sprintf(stmt, s.TableName), record)
	return err
}

// Recent returns the newest records for analytics readers.
func (s *Store) Recent(ctx context.Context, limit uint) ([]types.AuditRecord, error) {
	// language=MariaDB
	const stmt = `SELECT ts, platform, sender_id, question, category, sentiment_score, attributed_referrer, referrer_registered
FROM %s ORDER BY id DESC LIMIT ?;`
	var records []types.AuditRecord
	if err := s.DB.SelectContext(ctx, &records, fmt.Sprintf(stmt, s.TableName), limit); err != nil {
		return nil, fmt.Errorf("failed to read audit records: %w", err)
	}
	return records, nil
}
