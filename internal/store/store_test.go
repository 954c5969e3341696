package store

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cipher, err := NewCipher("test-passphrase")
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	s, err := Open(filepath.Join(t.TempDir(), "spoofy.db"), cipher)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLinkTokenLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tok := LinkToken{
		Token:      "abc123",
		UID:        domain.UserID("42"),
		Nick:       "listener",
		AvatarURL:  "https://cdn.example/a.png",
		ValidUntil: time.Now().Add(24 * time.Hour).Truncate(time.Second),
	}
	if err := s.AddLinkToken(ctx, tok); err != nil {
		t.Fatalf("AddLinkToken: %v", err)
	}

	got, ok, err := s.LinkToken(ctx, "abc123")
	if err != nil || !ok {
		t.Fatalf("LinkToken: ok=%v err=%v", ok, err)
	}
	if got.UID != tok.UID || got.Nick != tok.Nick || !got.ValidUntil.Equal(tok.ValidUntil) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Expired(time.Now()) {
		t.Fatal("fresh token reported expired")
	}
	if !got.Expired(tok.ValidUntil.Add(time.Second)) {
		t.Fatal("stale token not reported expired")
	}

	if err := s.RemoveLinkToken(ctx, "abc123"); err != nil {
		t.Fatalf("RemoveLinkToken: %v", err)
	}
	if _, ok, _ := s.LinkToken(ctx, "abc123"); ok {
		t.Fatal("token survived removal")
	}
}

func TestRemoveLinkTokensByUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, token := range []string{"t1", "t2"} {
		err := s.AddLinkToken(ctx, LinkToken{
			Token: token, UID: domain.UserID("7"), Nick: "n",
			ValidUntil: time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("AddLinkToken(%s): %v", token, err)
		}
	}
	if err := s.RemoveLinkTokens(ctx, domain.UserID("7")); err != nil {
		t.Fatalf("RemoveLinkTokens: %v", err)
	}
	for _, token := range []string{"t1", "t2"} {
		if _, ok, _ := s.LinkToken(ctx, token); ok {
			t.Fatalf("token %s survived user-wide removal", token)
		}
	}
}

func TestTokenInfoEncryptedRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	uid := domain.UserID("99")
	payload := []byte(`{"access_token":"aa","refresh_token":"rr"}`)

	if linked, _ := s.IsLinked(ctx, uid); linked {
		t.Fatal("unknown user reported linked")
	}
	if err := s.SetTokenInfo(ctx, uid, payload); err != nil {
		t.Fatalf("SetTokenInfo: %v", err)
	}

	got, ok, err := s.TokenInfo(ctx, uid)
	if err != nil || !ok {
		t.Fatalf("TokenInfo: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
	if linked, _ := s.IsLinked(ctx, uid); !linked {
		t.Fatal("user with credentials not reported linked")
	}

	// The blob at rest must not be the plaintext.
	var sealed []byte
	row := s.db.QueryRow(`SELECT token_info FROM spotify_accounts WHERE discord_uid = ?`, string(uid))
	if err := row.Scan(&sealed); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if bytes.Contains(sealed, []byte("refresh_token")) {
		t.Fatal("token stored in plaintext")
	}
}

func TestSpotifyUserUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	uid := domain.UserID("5")

	if _, ok, _ := s.SpotifyUser(ctx, uid); ok {
		t.Fatal("unknown user has a spotify id")
	}
	if err := s.SetSpotifyUser(ctx, uid, "alice"); err != nil {
		t.Fatalf("SetSpotifyUser: %v", err)
	}
	if err := s.SetSpotifyUser(ctx, uid, "alice2"); err != nil {
		t.Fatalf("SetSpotifyUser update: %v", err)
	}
	id, ok, err := s.SpotifyUser(ctx, uid)
	if err != nil || !ok || id != "alice2" {
		t.Fatalf("SpotifyUser = %q ok=%v err=%v", id, ok, err)
	}

	// Upserting the id must not clobber stored credentials.
	if err := s.SetTokenInfo(ctx, uid, []byte("{}")); err != nil {
		t.Fatalf("SetTokenInfo: %v", err)
	}
	if err := s.SetSpotifyUser(ctx, uid, "alice3"); err != nil {
		t.Fatalf("SetSpotifyUser after token: %v", err)
	}
	if linked, _ := s.IsLinked(ctx, uid); !linked {
		t.Fatal("upsert dropped credentials")
	}
}

func TestSettings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, ok, _ := s.Setting(ctx, "volume"); ok {
		t.Fatal("unset key reported present")
	}
	if err := s.SetSetting(ctx, "volume", "80"); err != nil {
		t.Fatalf("SetSetting: %v", err)
	}
	if err := s.SetSetting(ctx, "volume", "90"); err != nil {
		t.Fatalf("SetSetting update: %v", err)
	}
	v, ok, err := s.Setting(ctx, "volume")
	if err != nil || !ok || v != "90" {
		t.Fatalf("Setting = %q ok=%v err=%v", v, ok, err)
	}
}

func TestRemoveAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	uid := domain.UserID("11")

	if err := s.SetTokenInfo(ctx, uid, []byte("{}")); err != nil {
		t.Fatalf("SetTokenInfo: %v", err)
	}
	err := s.AddLinkToken(ctx, LinkToken{Token: "x", UID: uid, ValidUntil: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("AddLinkToken: %v", err)
	}
	if err := s.RemoveAccount(ctx, uid); err != nil {
		t.Fatalf("RemoveAccount: %v", err)
	}
	if linked, _ := s.IsLinked(ctx, uid); linked {
		t.Fatal("account survived removal")
	}
	if _, ok, _ := s.LinkToken(ctx, "x"); ok {
		t.Fatal("link token survived account removal")
	}
}
