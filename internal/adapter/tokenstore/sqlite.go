// Package tokenstore persists OAuth2 credentials per application id.
package tokenstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"discord-rpc/internal/domain"
)

// Store implements domain.CredentialStore using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time // for testing
}

// Open opens (or creates) the database at dbPath and runs the schema
// migration. The parent directory is created with owner-only permissions.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create credential dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open credential db: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate credential db: %w", err)
	}
	if err := os.Chmod(dbPath, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("restrict credential db: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			client_id     TEXT PRIMARY KEY,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_type    TEXT NOT NULL,
			scopes        TEXT NOT NULL DEFAULT '[]',
			expires_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL
		)
	`)
	return err
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the credential stored for clientID, or
// domain.ErrCredentialNotFound.
func (s *Store) Load(ctx context.Context, clientID string) (*domain.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT access_token, refresh_token, token_type, scopes, expires_at FROM credentials WHERE client_id = ?",
		clientID,
	)

	var c domain.Credential
	var scopes, expires string
	if err := row.Scan(&c.AccessToken, &c.RefreshToken, &c.TokenType, &scopes, &expires); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if err := json.Unmarshal([]byte(scopes), &c.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	c.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
	return &c, nil
}

// Save inserts or replaces the credential for clientID.
func (s *Store) Save(ctx context.Context, clientID string, c domain.Credential) error {
	scopes := c.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	scopesJSON, err := json.Marshal(scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (client_id, access_token, refresh_token, token_type, scopes, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scopes = excluded.scopes,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		clientID, c.AccessToken, c.RefreshToken, c.TokenType, string(scopesJSON),
		c.ExpiresAt.UTC().Format(time.RFC3339Nano), s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// Delete removes the credential for clientID. It returns
// domain.ErrCredentialNotFound when nothing was stored.
func (s *Store) Delete(ctx context.Context, clientID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE client_id = ?", clientID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

// Entry summarizes one stored credential without its secrets.
type Entry struct {
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// List returns every stored entry ordered by client id.
func (s *Store) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT client_id, scopes, expires_at, updated_at FROM credentials ORDER BY client_id")
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var scopes, expires, updated string
		if err := rows.Scan(&e.ClientID, &scopes, &expires, &updated); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(scopes), &e.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
		e.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expires)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var _ domain.CredentialStore = (*Store)(nil)
