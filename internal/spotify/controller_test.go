package spotify

import (
	"errors"
	"testing"

	"github.com/zmb3/spotify/v2"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

func TestParseLink(t *testing.T) {
	cases := []struct {
		in   string
		kind LinkKind
		id   spotify.ID
	}{
		{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", LinkTrack, "4uLU6hMCjMI75M1A2tKUQC"},
		{"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=xyz", LinkTrack, "4uLU6hMCjMI75M1A2tKUQC"},
		{"https://open.spotify.com/album/2up3OPMp9Tb4dAKM2erWXQ", LinkAlbum, "2up3OPMp9Tb4dAKM2erWXQ"},
		{"https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M/", LinkPlaylist, "37i9dQZF1DXcBWIGoYBM5M"},
		{"spotify:track:4uLU6hMCjMI75M1A2tKUQC", LinkTrack, "4uLU6hMCjMI75M1A2tKUQC"},
		{"  spotify:album:2up3OPMp9Tb4dAKM2erWXQ ", LinkAlbum, "2up3OPMp9Tb4dAKM2erWXQ"},
	}
	for _, tc := range cases {
		kind, id, err := ParseLink(tc.in)
		if err != nil {
			t.Errorf("ParseLink(%q): %v", tc.in, err)
			continue
		}
		if kind != tc.kind || id != tc.id {
			t.Errorf("ParseLink(%q) = %s %s, want %s %s", tc.in, kind, id, tc.kind, tc.id)
		}
	}
}

func TestParseLinkRejectsGarbage(t *testing.T) {
	for _, in := range []string{
		"",
		"hello",
		"https://example.com/track/abc",
		"spotify:track",
		"spotify:artist:123",
		"https://open.spotify.com/show/abc",
		"https://open.spotify.com/",
	} {
		if _, _, err := ParseLink(in); !errors.Is(err, ErrBadLink) {
			t.Errorf("ParseLink(%q) err = %v, want ErrBadLink", in, err)
		}
	}
}

func TestPlaybackFrom(t *testing.T) {
	if playbackFrom(nil) != nil {
		t.Fatal("nil state should map to nil playback")
	}

	ps := &spotify.PlayerState{}
	ps.Playing = true
	ps.Progress = 5000
	ps.Device.Name = "Spoofy"
	ps.Item = &spotify.FullTrack{}
	ps.Item.ID = "abc"

	pb := playbackFrom(ps)
	if !pb.Playing || pb.DeviceName != "Spoofy" || pb.TrackID != domain.TrackID("abc") || pb.ProgressMS != 5000 {
		t.Fatalf("mapped playback = %+v", pb)
	}

	ps.Item = nil
	if pb := playbackFrom(ps); pb.TrackID != "" {
		t.Fatalf("nil item should leave track id empty, got %q", pb.TrackID)
	}
}

func TestTrackFromFull(t *testing.T) {
	full := &spotify.FullTrack{}
	full.ID = "id1"
	full.Name = "Song"
	full.Duration = 123456
	full.Artists = []spotify.SimpleArtist{{Name: "A"}, {Name: "B"}}
	full.ExternalURLs = map[string]string{"spotify": "https://open.spotify.com/track/id1"}

	tr := trackFromFull(full)
	if tr.ID != "id1" || tr.Title != "Song" || tr.DurationMS != 123456 {
		t.Fatalf("mapped track = %+v", tr)
	}
	if tr.FullTitle() != "A,B - Song" {
		t.Fatalf("FullTitle = %q", tr.FullTitle())
	}
	if tr.URL != "https://open.spotify.com/track/id1" {
		t.Fatalf("URL = %q", tr.URL)
	}
}
