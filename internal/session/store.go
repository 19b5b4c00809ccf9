package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store persists at most one session in a SQLite database so a restart
// does not force a fresh login.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the session database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("session store: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS session (
			id         INTEGER PRIMARY KEY CHECK (id = 1),
			user_id    INTEGER NOT NULL,
			email      TEXT    NOT NULL,
			token      TEXT    NOT NULL,
			balance    REAL    NOT NULL,
			holdings   TEXT    NOT NULL,
			expires_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("session store: schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Load returns the persisted session, or (nil, nil) when none exists.
func (s *Store) Load() (*Session, error) {
	row := s.db.QueryRow(`
		SELECT user_id, email, token, balance, holdings, expires_at
		FROM session WHERE id = 1`)

	var (
		sess        Session
		holdingsRaw string
		expiresAt   int64
	)
	err := row.Scan(&sess.UserID, &sess.Email, &sess.Token, &sess.Balance, &holdingsRaw, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session store: scan: %w", err)
	}

	if err := json.Unmarshal([]byte(holdingsRaw), &sess.Holdings); err != nil {
		return nil, fmt.Errorf("session store: decode holdings: %w", err)
	}
	if expiresAt > 0 {
		sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	}
	return &sess, nil
}

// Save upserts the single session row.
func (s *Store) Save(sess *Session) error {
	holdings, err := json.Marshal(sess.Holdings)
	if err != nil {
		return fmt.Errorf("session store: encode holdings: %w", err)
	}

	var expiresAt int64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sess.ExpiresAt.Unix()
	}

	_, err = s.db.Exec(`
		INSERT INTO session (id, user_id, email, token, balance, holdings, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id    = excluded.user_id,
			email      = excluded.email,
			token      = excluded.token,
			balance    = excluded.balance,
			holdings   = excluded.holdings,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.Email, sess.Token, sess.Balance, string(holdings),
		expiresAt, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	return nil
}

// Clear removes the persisted session, if any.
func (s *Store) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM session WHERE id = 1`); err != nil {
		return fmt.Errorf("session store: clear: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
