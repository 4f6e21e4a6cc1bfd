package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gestaobankrio-code/maracana-purple-glow/internal/logger"
	"github.com/gestaobankrio-code/maracana-purple-glow/internal/models"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS lead_submissions (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	email             TEXT NOT NULL,
	phone             TEXT NOT NULL,
	investment_amount TEXT NOT NULL,
	status            TEXT NOT NULL,
	error             TEXT NOT NULL DEFAULT '',
	remote_addr       TEXT NOT NULL DEFAULT '',
	received_at       BIGINT NOT NULL
)`

const indexReceivedAt = `CREATE INDEX IF NOT EXISTS lead_submissions_received_at ON lead_submissions (received_at)`

const insertSubmission = `
	INSERT INTO lead_submissions (id, name, email, phone, investment_amount,
	                              status, error, remote_addr, received_at)
	VALUES (:id, :name, :email, :phone, :investment_amount,
	        :status, :error, :remote_addr, :received_at)`

// Store is the submission ledger: a local record of every accepted lead and
// whether it reached the spreadsheet.
type Store struct {
	db *sqlx.DB
}

// Open connects to the ledger database. driver is "postgres" or "sqlite".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// Single writer; also keeps ":memory:" databases alive across calls.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	logger.Info("database connection established", map[string]interface{}{
		"driver": driver,
	})
	return &Store{db: db}, nil
}

// Migrate creates the ledger table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range []string{schema, indexReceivedAt} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate ledger: %w", err)
		}
	}
	return nil
}

// Record stores one submission outcome.
func (s *Store) Record(ctx context.Context, sub models.Submission) error {
	if _, err := s.db.NamedExecContext(ctx, insertSubmission, sub); err != nil {
		return fmt.Errorf("failed to insert submission: %w", err)
	}
	return nil
}

// List returns submissions newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, limit int, status string) ([]models.Submission, error) {
	query := `
		SELECT id, name, email, phone, investment_amount,
		       status, error, remote_addr, received_at
		FROM lead_submissions`

	var args []interface{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY received_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	subs := []models.Submission{}
	if err := s.db.SelectContext(ctx, &subs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	return subs, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
