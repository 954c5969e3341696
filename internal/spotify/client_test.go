package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"golang.org/x/oauth2"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

type memTokenStore struct {
	blobs  map[domain.UserID][]byte
	setErr error
	sets   int
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{blobs: map[domain.UserID][]byte{}}
}

func (m *memTokenStore) TokenInfo(_ context.Context, uid domain.UserID) ([]byte, bool, error) {
	b, ok := m.blobs[uid]
	return b, ok, nil
}

func (m *memTokenStore) SetTokenInfo(_ context.Context, uid domain.UserID, tokenJSON []byte) error {
	m.sets++
	if m.setErr != nil {
		return m.setErr
	}
	m.blobs[uid] = tokenJSON
	return nil
}

type staticSource struct {
	tok *oauth2.Token
	err error
}

func (s *staticSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestPersistingSourceStoresRefreshedTokens(t *testing.T) {
	st := newMemTokenStore()
	src := &persistingSource{
		src:   &staticSource{tok: &oauth2.Token{AccessToken: "new", RefreshToken: "r2"}},
		store: st,
		uid:   "u1",
		last:  "old",
	}

	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok.AccessToken != "new" {
		t.Fatalf("access token = %q", tok.AccessToken)
	}
	if st.sets != 1 {
		t.Fatalf("persist calls = %d", st.sets)
	}
	var stored oauth2.Token
	if err := json.Unmarshal(st.blobs["u1"], &stored); err != nil {
		t.Fatalf("decode stored blob: %v", err)
	}
	if stored.RefreshToken != "r2" {
		t.Fatalf("stored refresh token = %q", stored.RefreshToken)
	}
}

func TestPersistingSourceSkipsUnchangedTokens(t *testing.T) {
	st := newMemTokenStore()
	src := &persistingSource{
		src:   &staticSource{tok: &oauth2.Token{AccessToken: "same"}},
		store: st,
		uid:   "u1",
		last:  "same",
	}

	for i := 0; i < 3; i++ {
		if _, err := src.Token(); err != nil {
			t.Fatalf("Token: %v", err)
		}
	}
	if st.sets != 0 {
		t.Fatalf("persist calls = %d, want 0", st.sets)
	}
}

func TestPersistingSourceSurvivesStoreFailure(t *testing.T) {
	st := newMemTokenStore()
	st.setErr = errors.New("disk gone")
	src := &persistingSource{
		src:   &staticSource{tok: &oauth2.Token{AccessToken: "new"}},
		store: st,
		uid:   "u1",
		last:  "old",
	}

	// The refreshed token must still be usable even when persisting fails,
	// and the next call must retry the persist.
	if tok, err := src.Token(); err != nil || tok.AccessToken != "new" {
		t.Fatalf("Token = %v, %v", tok, err)
	}
	if _, err := src.Token(); err != nil {
		t.Fatalf("second Token: %v", err)
	}
	if st.sets != 2 {
		t.Fatalf("persist attempts = %d, want 2", st.sets)
	}
}

func TestClientForRequiresStoredToken(t *testing.T) {
	st := newMemTokenStore()
	auth := NewAuth(AuthConfig{ClientID: "id", ClientSecret: "sec"}, st)

	if _, err := auth.ClientFor(context.Background(), "nobody"); !errors.Is(err, ErrNotLinked) {
		t.Fatalf("err = %v, want ErrNotLinked", err)
	}

	st.blobs["u1"] = []byte(`{"access_token":"at","refresh_token":"rt"}`)
	if _, err := auth.ClientFor(context.Background(), "u1"); err != nil {
		t.Fatalf("ClientFor with stored token: %v", err)
	}
}

func TestAuthURLCarriesState(t *testing.T) {
	auth := NewAuth(AuthConfig{
		ClientID:    "id",
		RedirectURI: "https://bot.example/callback",
		Scopes:      []string{"user-read-playback-state"},
	}, newMemTokenStore())

	u := auth.AuthURL("tok123")
	if !strings.Contains(u, "state=tok123") || !strings.Contains(u, "client_id=id") {
		t.Fatalf("auth url = %q", u)
	}
}
