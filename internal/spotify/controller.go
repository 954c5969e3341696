package spotify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

// The clear trick plays a long track at its final seconds so the player's
// "currently playing" context detaches from the channel playlist.
const (
	clearTrackURI        = spotify.URI("spotify:track:4uLU6hMCjMI75M1A2tKUQC")
	clearTrackPositionMS = 213573 - 2000

	playlistNamePrefix = "Spoofy Bot "
	addBlockSize       = 50
)

var (
	// ErrDeviceNotFound means the configured Connect device is not visible
	// to the user's account, usually because the relay receiver is not up.
	ErrDeviceNotFound = errors.New("spotify connect device not found")

	// ErrBadLink means a pasted Spotify link could not be parsed.
	ErrBadLink = errors.New("unrecognized spotify link")

	// ErrPlayingElsewhere means the account is playing on an unmanaged
	// device, so playback-touching operations were skipped.
	ErrPlayingElsewhere = errors.New("playback active on an unmanaged device")
)

// Controller drives one channel's playlist and the playback of the user
// whose account owns the session. The user client controls the player; the
// library client acts as the shared account that owns channel playlists.
type Controller struct {
	user     *spotify.Client
	library  *spotify.Client
	playlist spotify.ID
	device   string
	logger   zerolog.Logger
}

func NewController(user, library *spotify.Client, playlist spotify.ID, deviceName string) *Controller {
	return &Controller{
		user:     user,
		library:  library,
		playlist: playlist,
		device:   deviceName,
		logger:   log.With().Str("module", "spotify").Str("playlist", string(playlist)).Logger(),
	}
}

func (c *Controller) PlaylistID() spotify.ID { return c.playlist }

// Queue reads the channel playlist and the user's player state and folds
// them into a single snapshot.
func (c *Controller) Queue(ctx context.Context) (domain.QueueSnapshot, error) {
	items, err := c.PlaylistTracks(ctx)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	obs, err := c.playback(ctx)
	if err != nil {
		return domain.QueueSnapshot{}, err
	}
	return Reconcile(items, obs, c.device), nil
}

// PlaylistTracks pages through the whole channel playlist.
func (c *Controller) PlaylistTracks(ctx context.Context) ([]domain.Track, error) {
	page, err := c.library.GetPlaylistItems(ctx, c.playlist)
	if err != nil {
		return nil, fmt.Errorf("get playlist items: %w", err)
	}
	var tracks []domain.Track
	for {
		for _, item := range page.Items {
			if item.Track.Track == nil {
				continue
			}
			tracks = append(tracks, trackFromFull(item.Track.Track))
		}
		err = c.library.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			return tracks, nil
		}
		if err != nil {
			return nil, fmt.Errorf("page playlist items: %w", err)
		}
	}
}

// UpdatePlayback re-anchors a running player after the playlist changed
// underneath it, so Spotify's stale queue is replaced without an audible
// gap beyond the resume lead.
func (c *Controller) UpdatePlayback(ctx context.Context) error {
	items, err := c.PlaylistTracks(ctx)
	if err != nil {
		return err
	}
	obs, err := c.playback(ctx)
	if err != nil {
		return err
	}
	snap := Reconcile(items, obs, c.device)
	switch snap.State {
	case domain.PlayStateElsewhere:
		// Something is playing, but not through us; re-anchoring would yank
		// the user's own playback onto the managed device.
		return ErrPlayingElsewhere
	case domain.PlayStateManaged:
	default:
		return nil
	}
	index, position, err := ResumeTarget(items, obs.TrackID, obs.ProgressMS)
	if err != nil {
		return err
	}
	return c.play(ctx, index, position, "")
}

// StartPlayback points the user's player at the channel playlist on the
// configured Connect device, from the top.
func (c *Controller) StartPlayback(ctx context.Context) error {
	deviceID, err := c.managedDevice(ctx)
	if err != nil {
		return err
	}
	if err := c.user.Repeat(ctx, "off"); err != nil {
		c.logger.Warn().Err(err).Msg("disable repeat failed")
	}
	if err := c.user.Shuffle(ctx, false); err != nil {
		c.logger.Warn().Err(err).Msg("disable shuffle failed")
	}
	return c.play(ctx, 0, 0, deviceID)
}

// StopPlaylistPlayback pauses the player and detaches it from the playlist,
// but only when the managed device is actually playing our queue. Anything
// the user plays elsewhere is left alone.
func (c *Controller) StopPlaylistPlayback(ctx context.Context) error {
	snap, err := c.Queue(ctx)
	if err != nil {
		return err
	}
	if snap.State != domain.PlayStateManaged || snap.CurrentIndex == domain.NoIndex {
		return nil
	}
	if err := c.user.Pause(ctx); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	return c.ClearCurrentTrack(ctx)
}

// ClearCurrentTrack plays an unrelated track at its final seconds on the
// managed device. It runs out almost immediately, leaving the player idle
// with no playlist context.
func (c *Controller) ClearCurrentTrack(ctx context.Context) error {
	deviceID, err := c.managedDevice(ctx)
	if err != nil {
		return err
	}
	if err := c.user.Repeat(ctx, "off"); err != nil {
		c.logger.Warn().Err(err).Msg("disable repeat failed")
	}
	if err := c.user.Shuffle(ctx, false); err != nil {
		c.logger.Warn().Err(err).Msg("disable shuffle failed")
	}
	err = c.user.PlayOpt(ctx, &spotify.PlayOptions{
		DeviceID:   &deviceID,
		URIs:       []spotify.URI{clearTrackURI},
		PositionMs: clearTrackPositionMS,
	})
	if err != nil {
		return fmt.Errorf("clear current track: %w", err)
	}
	return nil
}

// managedDevice resolves the Connect device this controller may drive.
func (c *Controller) managedDevice(ctx context.Context) (spotify.ID, error) {
	devices, err := c.user.PlayerDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == c.device {
			return d.ID, nil
		}
	}
	return "", ErrDeviceNotFound
}

func (c *Controller) Pause(ctx context.Context) error {
	return c.user.Pause(ctx)
}

func (c *Controller) Resume(ctx context.Context) error {
	return c.user.Play(ctx)
}

// AddTracks appends tracks to the channel playlist in API-sized blocks.
func (c *Controller) AddTracks(ctx context.Context, ids ...spotify.ID) error {
	for len(ids) > 0 {
		block := ids
		if len(block) > addBlockSize {
			block = block[:addBlockSize]
		}
		if _, err := c.library.AddTracksToPlaylist(ctx, c.playlist, block...); err != nil {
			return fmt.Errorf("add tracks: %w", err)
		}
		ids = ids[len(block):]
	}
	return nil
}

// ClearPlaylist removes every track from the channel playlist.
func (c *Controller) ClearPlaylist(ctx context.Context) error {
	tracks, err := c.PlaylistTracks(ctx)
	if err != nil {
		return err
	}
	ids := make([]spotify.ID, 0, len(tracks))
	for _, t := range tracks {
		ids = append(ids, spotify.ID(t.ID))
	}
	for len(ids) > 0 {
		block := ids
		if len(block) > addBlockSize {
			block = block[:addBlockSize]
		}
		if _, err := c.library.RemoveTracksFromPlaylist(ctx, c.playlist, block...); err != nil {
			return fmt.Errorf("remove tracks: %w", err)
		}
		ids = ids[len(block):]
	}
	return nil
}

// Track resolves a single track by id.
func (c *Controller) Track(ctx context.Context, id spotify.ID) (domain.Track, error) {
	full, err := c.library.GetTrack(ctx, id)
	if err != nil {
		return domain.Track{}, fmt.Errorf("get track: %w", err)
	}
	return trackFromFull(full), nil
}

// AlbumTrackIDs pages through an album and returns its track ids in order.
func (c *Controller) AlbumTrackIDs(ctx context.Context, id spotify.ID) ([]spotify.ID, error) {
	page, err := c.library.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get album tracks: %w", err)
	}
	var ids []spotify.ID
	for {
		for _, t := range page.Tracks {
			ids = append(ids, t.ID)
		}
		err = c.library.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("page album tracks: %w", err)
		}
	}
}

// SourceTrackIDs pages through another playlist and returns its track ids.
func (c *Controller) SourceTrackIDs(ctx context.Context, id spotify.ID) ([]spotify.ID, error) {
	page, err := c.library.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get playlist items: %w", err)
	}
	var ids []spotify.ID
	for {
		for _, item := range page.Items {
			if item.Track.Track == nil {
				continue
			}
			ids = append(ids, item.Track.Track.ID)
		}
		err = c.library.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			return ids, nil
		}
		if err != nil {
			return nil, fmt.Errorf("page playlist items: %w", err)
		}
	}
}

func (c *Controller) play(ctx context.Context, index, positionMS int, deviceID spotify.ID) error {
	uri := spotify.URI("spotify:playlist:" + string(c.playlist))
	opts := &spotify.PlayOptions{
		PlaybackContext: &uri,
		PlaybackOffset:  &spotify.PlaybackOffset{Position: &index},
		PositionMs:      spotify.Numeric(positionMS),
	}
	if deviceID != "" {
		opts.DeviceID = &deviceID
	}
	if err := c.user.PlayOpt(ctx, opts); err != nil {
		return fmt.Errorf("play at %d+%dms: %w", index, positionMS, err)
	}
	return nil
}

func (c *Controller) playback(ctx context.Context) (*domain.Playback, error) {
	ps, err := c.user.PlayerState(ctx)
	if err != nil {
		return nil, fmt.Errorf("player state: %w", err)
	}
	return playbackFrom(ps), nil
}

func playbackFrom(ps *spotify.PlayerState) *domain.Playback {
	if ps == nil {
		return nil
	}
	pb := &domain.Playback{
		Playing:    ps.Playing,
		DeviceName: ps.Device.Name,
		ProgressMS: int(ps.Progress),
	}
	if ps.Item != nil {
		pb.TrackID = domain.TrackID(ps.Item.ID)
	}
	return pb
}

func trackFromFull(t *spotify.FullTrack) domain.Track {
	artists := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		artists = append(artists, a.Name)
	}
	return domain.Track{
		ID:         domain.TrackID(t.ID),
		Title:      t.Name,
		Artists:    artists,
		DurationMS: int(t.Duration),
		URL:        t.ExternalURLs["spotify"],
	}
}

// EnsurePlaylist finds the channel's playlist on the shared account, creating
// it when missing. Playlists are public so members can follow them.
func EnsurePlaylist(ctx context.Context, library *spotify.Client, owner string, channelID domain.ChannelID) (spotify.ID, error) {
	name := playlistNamePrefix + string(channelID)
	page, err := library.GetPlaylistsForUser(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("list playlists: %w", err)
	}
	for {
		for _, p := range page.Playlists {
			if p.Name == name {
				return p.ID, nil
			}
		}
		err = library.NextPage(ctx, page)
		if errors.Is(err, spotify.ErrNoMorePages) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("page playlists: %w", err)
		}
	}
	pl, err := library.CreatePlaylistForUser(ctx, owner, name, "", true, false)
	if err != nil {
		return "", fmt.Errorf("create playlist %q: %w", name, err)
	}
	return pl.ID, nil
}

// LinkKind classifies a pasted Spotify link.
type LinkKind string

const (
	LinkTrack    LinkKind = "track"
	LinkAlbum    LinkKind = "album"
	LinkPlaylist LinkKind = "playlist"
)

// ParseLink accepts open.spotify.com URLs and spotify: URIs for tracks,
// albums and playlists.
func ParseLink(s string) (LinkKind, spotify.ID, error) {
	s = strings.TrimSpace(s)
	var kind, id string
	switch {
	case strings.HasPrefix(s, "spotify:"):
		parts := strings.Split(s, ":")
		if len(parts) != 3 {
			return "", "", ErrBadLink
		}
		kind, id = parts[1], parts[2]
	case strings.Contains(s, "open.spotify.com/"):
		rest := s[strings.Index(s, "open.spotify.com/")+len("open.spotify.com/"):]
		if i := strings.IndexByte(rest, '?'); i >= 0 {
			rest = rest[:i]
		}
		parts := strings.Split(strings.Trim(rest, "/"), "/")
		if len(parts) != 2 {
			return "", "", ErrBadLink
		}
		kind, id = parts[0], parts[1]
	default:
		return "", "", ErrBadLink
	}
	if id == "" {
		return "", "", ErrBadLink
	}
	switch LinkKind(kind) {
	case LinkTrack, LinkAlbum, LinkPlaylist:
		return LinkKind(kind), spotify.ID(id), nil
	}
	return "", "", ErrBadLink
}
