package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS link_tokens (
	token        TEXT PRIMARY KEY,
	discord_uid  TEXT NOT NULL,
	discord_nick TEXT NOT NULL,
	avatar_url   TEXT NOT NULL DEFAULT '',
	valid_until  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_link_tokens_uid ON link_tokens (discord_uid);

CREATE TABLE IF NOT EXISTS spotify_accounts (
	discord_uid     TEXT PRIMARY KEY,
	spotify_user_id TEXT NOT NULL DEFAULT '',
	token_info      BLOB
);
`

// LinkToken is a one-shot token a user follows to tie their Spotify account
// to their Discord identity. Tokens expire and are removed once consumed.
type LinkToken struct {
	Token      string
	UID        domain.UserID
	Nick       string
	AvatarURL  string
	ValidUntil time.Time
}

func (t LinkToken) Expired(now time.Time) bool {
	return now.After(t.ValidUntil)
}

// Store persists account links and OAuth credentials in sqlite. Token blobs
// are encrypted before they touch the database.
type Store struct {
	db     *sql.DB
	cipher *Cipher
	logger zerolog.Logger
}

func Open(path string, cipher *Cipher) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{
		db:     db,
		cipher: cipher,
		logger: log.With().Str("module", "store").Logger(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) AddLinkToken(ctx context.Context, t LinkToken) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO link_tokens (token, discord_uid, discord_nick, avatar_url, valid_until)
		 VALUES (?, ?, ?, ?, ?)`,
		t.Token, string(t.UID), t.Nick, t.AvatarURL, t.ValidUntil.Unix())
	return err
}

func (s *Store) LinkToken(ctx context.Context, token string) (LinkToken, bool, error) {
	var (
		t     LinkToken
		uid   string
		until int64
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT token, discord_uid, discord_nick, avatar_url, valid_until
		 FROM link_tokens WHERE token = ?`, token)
	if err := row.Scan(&t.Token, &uid, &t.Nick, &t.AvatarURL, &until); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LinkToken{}, false, nil
		}
		return LinkToken{}, false, err
	}
	t.UID = domain.UserID(uid)
	t.ValidUntil = time.Unix(until, 0)
	return t, true, nil
}

func (s *Store) RemoveLinkToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM link_tokens WHERE token = ?`, token)
	return err
}

// RemoveLinkTokens drops every outstanding token for a user, for when a new
// one is issued or the account is unlinked.
func (s *Store) RemoveLinkTokens(ctx context.Context, uid domain.UserID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM link_tokens WHERE discord_uid = ?`, string(uid))
	return err
}

// IsLinked reports whether a user has usable Spotify credentials on file.
func (s *Store) IsLinked(ctx context.Context, uid domain.UserID) (bool, error) {
	var n int
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spotify_accounts WHERE discord_uid = ? AND token_info IS NOT NULL`,
		string(uid))
	if err := row.Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetSpotifyUser(ctx context.Context, uid domain.UserID, spotifyUserID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spotify_accounts (discord_uid, spotify_user_id) VALUES (?, ?)
		 ON CONFLICT (discord_uid) DO UPDATE SET spotify_user_id = excluded.spotify_user_id`,
		string(uid), spotifyUserID)
	return err
}

func (s *Store) SpotifyUser(ctx context.Context, uid domain.UserID) (string, bool, error) {
	var id string
	row := s.db.QueryRowContext(ctx,
		`SELECT spotify_user_id FROM spotify_accounts WHERE discord_uid = ?`, string(uid))
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, id != "", nil
}

func (s *Store) SetTokenInfo(ctx context.Context, uid domain.UserID, tokenJSON []byte) error {
	sealed, err := s.cipher.Seal(tokenJSON)
	if err != nil {
		return fmt.Errorf("seal token: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spotify_accounts (discord_uid, token_info) VALUES (?, ?)
		 ON CONFLICT (discord_uid) DO UPDATE SET token_info = excluded.token_info`,
		string(uid), sealed)
	return err
}

func (s *Store) TokenInfo(ctx context.Context, uid domain.UserID) ([]byte, bool, error) {
	var sealed []byte
	row := s.db.QueryRowContext(ctx,
		`SELECT token_info FROM spotify_accounts WHERE discord_uid = ?`, string(uid))
	if err := row.Scan(&sealed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(sealed) == 0 {
		return nil, false, nil
	}
	plain, err := s.cipher.Open(sealed)
	if err != nil {
		s.logger.Error().Str("uid", string(uid)).Err(err).Msg("stored token cannot be decrypted")
		return nil, false, fmt.Errorf("open token: %w", err)
	}
	return plain, true, nil
}

// Setting reads a runtime setting, with ok=false on an unset key.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// RemoveAccount forgets a user's Spotify link entirely, credentials included.
func (s *Store) RemoveAccount(ctx context.Context, uid domain.UserID) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM spotify_accounts WHERE discord_uid = ?`, string(uid)); err != nil {
		return err
	}
	return s.RemoveLinkTokens(ctx, uid)
}
