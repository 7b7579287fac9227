package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kol-signals/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS recent_projects (
    position INTEGER PRIMARY KEY,
    project_id TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS auth_tokens (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    token TEXT NOT NULL,
    address TEXT NOT NULL,
    handle TEXT,
    expires_at TIMESTAMP NOT NULL,
    saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS saved_signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_id TEXT,
    permalink TEXT NOT NULL UNIQUE,
    author_handle TEXT NOT NULL,
    project_handle TEXT NOT NULL,
    sentiment TEXT NOT NULL,
    noted_at TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_saved_author ON saved_signals(author_handle);
`

type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ---- Recent Projects ----

// RecentProjects returns project ids, most recently used first.
func (s *Store) RecentProjects(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT project_id FROM recent_projects ORDER BY position ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetRecentProjects replaces the whole list in one transaction.
func (s *Store) SetRecentProjects(ctx context.Context, ids []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM recent_projects"); err != nil {
		return fmt.Errorf("clear recent projects: %w", err)
	}
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, "INSERT INTO recent_projects (position, project_id) VALUES (?, ?)", i, id); err != nil {
			return fmt.Errorf("insert recent project %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ---- Auth Tokens ----

type AuthToken struct {
	Token     string    `json:"token"`
	Address   string    `json:"address"`
	Handle    string    `json:"handle"`
	ExpiresAt time.Time `json:"expiry"`
}

func (s *Store) SaveAuthToken(ctx context.Context, t AuthToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (id, token, address, handle, expires_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token=excluded.token, address=excluded.address, handle=excluded.handle,
			expires_at=excluded.expires_at, saved_at=CURRENT_TIMESTAMP`,
		t.Token, t.Address, t.Handle, t.ExpiresAt.UTC())
	return err
}

// AuthToken returns the stored token if it has not expired at now.
func (s *Store) AuthToken(ctx context.Context, now time.Time) (*AuthToken, error) {
	var t AuthToken
	err := s.db.QueryRowContext(ctx,
		"SELECT token, address, COALESCE(handle,''), expires_at FROM auth_tokens WHERE id=1").
		Scan(&t.Token, &t.Address, &t.Handle, &t.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !t.ExpiresAt.After(now) {
		return nil, nil
	}
	return &t, nil
}

// PurgeExpiredTokens deletes tokens that expired before now.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM auth_tokens WHERE expires_at <= ?", now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---- Saved Signals ----

// JournalSignal records a signal this client saved. Re-saving a permalink is ignored.
func (s *Store) JournalSignal(ctx context.Context, sig models.Signal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO saved_signals (signal_id, permalink, author_handle, project_handle, sentiment, noted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Permalink, models.NormalizeHandle(sig.AuthorHandle), sig.ProjectHandle, string(sig.Sentiment), sig.NotedDate)
	return err
}

func (s *Store) JournaledSignals(ctx context.Context, author string, limit int) ([]models.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(signal_id,''), permalink, author_handle, project_handle, sentiment, noted_at
		FROM saved_signals WHERE author_handle=? ORDER BY created_at DESC, id DESC LIMIT ?`,
		models.NormalizeHandle(author), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Signal
	for rows.Next() {
		var sig models.Signal
		var sentiment string
		if err := rows.Scan(&sig.ID, &sig.Permalink, &sig.AuthorHandle, &sig.ProjectHandle, &sentiment, &sig.NotedDate); err != nil {
			continue
		}
		sig.Sentiment = models.Sentiment(sentiment)
		out = append(out, sig)
	}
	return out, rows.Err()
}

// ---- Stats ----

func (s *Store) GetStats(ctx context.Context) (map[string]int64, error) {
	stats := map[string]int64{}
	for _, t := range []string{"recent_projects", "auth_tokens", "saved_signals"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", t)).Scan(&count); err == nil {
			stats[t] = count
		}
	}
	return stats, nil
}
