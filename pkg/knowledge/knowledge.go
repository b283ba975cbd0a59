// Package knowledge stores the registered referrers and official FAQ answers.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.scholarhub.net/triage/pkg/types"
)

// ErrNotFound gets raised when a referrer or FAQ does not exist.
var ErrNotFound = errors.New("not found")

// Referrer is a registered student influencer queries can be attributed to.
type Referrer struct {
	Username      string         `db:"username" json:"username"`
	Platform      types.Platform `db:"platform" json:"platform"`
	FollowerCount int64          `db:"follower_count" json:"follower_count"`
	Scholar       bool           `db:"scholar" json:"scholar"`
}

// FAQ is an official program answer.
type FAQ struct {
	ID       int64  `db:"id" json:"id"`
	Question string `db:"question" json:"question"`
	Answer   string `db:"answer" json:"answer"`
}

// Store is the MySQL-backed knowledge base.
type Store struct {
	DB *sqlx.DB
}

// CreateTables creates the referrers and faqs tables.
func (s *Store) CreateTables(ctx context.Context) error {
	// language=MariaDB
	const referrers = `CREATE TABLE IF NOT EXISTS referrers (
	username VARCHAR(255) NOT NULL PRIMARY KEY,
	platform VARCHAR(32) NOT NULL,
	follower_count BIGINT NOT NULL DEFAULT 0,
	scholar BOOL NOT NULL DEFAULT TRUE
);`
	// language=MariaDB
	const faqs = `CREATE TABLE IF NOT EXISTS faqs (
	id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
	question TEXT NOT NULL,
	answer TEXT NOT NULL
);`
	if _, err := s.DB.ExecContext(ctx, referrers); err != nil {
		return err
	}
	_, err := s.DB.ExecContext(ctx, faqs)
	return err
}

// PutReferrer registers a referrer, overwriting any previous registration.
func (s *Store) PutReferrer(ctx context.Context, ref *Referrer) error {
	// language=MariaDB
	const stmt = `INSERT INTO referrers (username, platform, follower_count, scholar)
VALUES (:username, :platform, :follower_count, :scholar)
ON DUPLICATE KEY UPDATE platform = VALUES(platform),
	follower_count = VALUES(follower_count), scholar = VALUES(scholar);`
	_, err := s.DB.NamedExecContext(ctx, stmt, ref)
	return err
}

// GetReferrer looks up a referrer by username.
func (s *Store) GetReferrer(ctx context.Context, username string) (*Referrer, error) {
	// language=MariaDB
	const stmt = `SELECT username, platform, follower_count, scholar
FROM referrers WHERE username = ?;`
	ref := new(Referrer)
	err := s.DB.GetContext(ctx, ref, stmt, username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up referrer: %w", err)
	}
	return ref, nil
}

// AddFAQ appends an official answer.
func (s *Store) AddFAQ(ctx context.Context, faq *FAQ) error {
	// language=MariaDB
	const stmt = `INSERT INTO faqs (question, answer) VALUES (:question, :answer);`
	res, err := s.DB.NamedExecContext(ctx, stmt, faq)
	if err != nil {
		return err
	}
	faq.ID, err = res.LastInsertId()
	return err
}

// ListFAQs returns all official answers.
func (s *Store) ListFAQs(ctx context.Context) ([]FAQ, error) {
	// language=MariaDB
	const stmt = `SELECT id, question, answer FROM faqs ORDER BY id;`
	var faqs []FAQ
	if err := s.DB.SelectContext(ctx, &faqs, stmt); err != nil {
		return nil, fmt.Errorf("failed to list FAQs: %w", err)
	}
	return faqs, nil
}
