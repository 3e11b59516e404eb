// Package voices stores the cloned-voice profiles that sessions resolve from
// a user identity.
package voices

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Profile statuses. Only ready profiles are used for synthesis.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Profile links a user to a cloned voice at a synthesis provider.
type Profile struct {
	UserID    string
	VoiceID   string
	Provider  string
	Status    string
	UpdatedAt time.Time
}

// Ready reports whether the profile can be used for synthesis.
func (p Profile) Ready() bool {
	return p.Status == StatusReady && p.VoiceID != ""
}

// Store is a SQLite-backed profile table.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("voice store path is empty")
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "voices")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS voice_profiles (
    user_id TEXT PRIMARY KEY,
    voice_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    status TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init voice schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts or replaces the profile for p.UserID.
func (s *Store) Upsert(ctx context.Context, p Profile) error {
	p.UserID = strings.TrimSpace(p.UserID)
	if p.UserID == "" {
		return errors.New("user id is required")
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.Provider == "" {
		p.Provider = "elevenlabs"
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = s.clock()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voice_profiles(user_id, voice_id, provider, status, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET voice_id=excluded.voice_id, provider=excluded.provider,
		   status=excluded.status, updated_at=excluded.updated_at`,
		p.UserID, p.VoiceID, p.Provider, p.Status, p.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert voice profile: %w", err)
	}
	return nil
}

// Lookup returns the profile for userID. The boolean is false when none exists.
func (s *Store) Lookup(ctx context.Context, userID string) (Profile, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, voice_id, provider, status, updated_at FROM voice_profiles WHERE user_id = ?`,
		strings.TrimSpace(userID))
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("lookup voice profile: %w", err)
	}
	return p, true, nil
}

// List returns every profile ordered by user id.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, voice_id, provider, status, updated_at FROM voice_profiles ORDER BY user_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list voice profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Delete removes the profile for userID and reports whether one existed.
func (s *Store) Delete(ctx context.Context, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM voice_profiles WHERE user_id = ?`, strings.TrimSpace(userID))
	if err != nil {
		return false, fmt.Errorf("delete voice profile: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProfile(row scanner) (Profile, error) {
	var p Profile
	var updated int64
	if err := row.Scan(&p.UserID, &p.VoiceID, &p.Provider, &p.Status, &updated); err != nil {
		return Profile{}, err
	}
	p.UpdatedAt = time.UnixMilli(updated)
	return p, nil
}
