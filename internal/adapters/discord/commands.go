package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/spoofy-bot/spoofy/internal/app"
	"github.com/spoofy-bot/spoofy/internal/domain"
	spotifyx "github.com/spoofy-bot/spoofy/internal/spotify"
	"github.com/spoofy-bot/spoofy/internal/store"
)

const linkTokenTTL = 24 * time.Hour

func (b *Bot) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, b.cfg.Prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(m.Content, b.cfg.Prefix))
	if len(fields) == 0 {
		return
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	ctx := context.Background()

	switch cmd {
	case "ping":
		b.reply(m, "pong")
	case "link":
		b.cmdLink(ctx, m)
	case "unlink":
		b.cmdUnlink(ctx, m)
	case "join":
		b.cmdJoin(ctx, m)
	case "leave":
		b.cmdLeave(ctx, m)
	case "start":
		b.cmdStart(ctx, m)
	case "add":
		b.cmdAdd(ctx, m, args)
	case "clear":
		b.cmdClear(ctx, m)
	case "queue":
		b.cmdQueue(ctx, m)
	case "np":
		b.cmdNowPlaying(ctx, m)
	case "pause":
		b.cmdPause(ctx, m)
	case "resume":
		b.cmdResume(ctx, m)
	case "info":
		b.cmdInfo(ctx, m)
	}
}

func (b *Bot) reply(m *discordgo.MessageCreate, text string) {
	if _, err := b.session.ChannelMessageSend(m.ChannelID, text); err != nil {
		b.logger.Error().Err(err).Str("channel", m.ChannelID).Msg("reply failed")
	}
}

func (b *Bot) react(m *discordgo.MessageCreate, emoji string) {
	if err := b.session.MessageReactionAdd(m.ChannelID, m.ID, emoji); err != nil {
		b.logger.Warn().Err(err).Msg("reaction failed")
	}
}

func (b *Bot) dm(userID, text string) error {
	ch, err := b.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = b.session.ChannelMessageSend(ch.ID, text)
	return err
}

// requireLinked replies with instructions when the invoker has no Spotify
// link yet.
func (b *Bot) requireLinked(ctx context.Context, m *discordgo.MessageCreate) bool {
	linked, err := b.links.IsLinked(ctx, domain.UserID(m.Author.ID))
	if err != nil {
		b.logger.Error().Err(err).Msg("link lookup failed")
		b.reply(m, "Something went wrong, try again.")
		return false
	}
	if !linked {
		b.reply(m, fmt.Sprintf("Link your Spotify account first with `%slink`.", b.cfg.Prefix))
		return false
	}
	return true
}

// voiceChannelOf resolves the voice channel the user currently sits in.
func (b *Bot) voiceChannelOf(guildID, userID string) (domain.ChannelID, bool) {
	vs, err := b.session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return domain.ChannelID(vs.ChannelID), true
}

// requireSession resolves the live session of the invoker's voice channel.
func (b *Bot) requireSession(m *discordgo.MessageCreate) (*app.Session, bool) {
	channel, ok := b.voiceChannelOf(m.GuildID, m.Author.ID)
	if !ok {
		b.reply(m, "Join a voice channel first.")
		return nil, false
	}
	s, ok := b.manager.ByChannel(channel)
	if !ok {
		b.reply(m, fmt.Sprintf("No session in your voice channel. Start one with `%sjoin`.", b.cfg.Prefix))
		return nil, false
	}
	return s, true
}

// controllerFor builds the invoker's controller for their session's channel.
func (b *Bot) controllerFor(ctx context.Context, m *discordgo.MessageCreate, s *app.Session) (*spotifyx.Controller, bool) {
	ctrl, err := b.music.ControllerFor(ctx, domain.UserID(m.Author.ID), s.ChannelID)
	if err != nil {
		switch {
		case errors.Is(err, spotifyx.ErrNotLinked):
			b.reply(m, fmt.Sprintf("Link your Spotify account first with `%slink`.", b.cfg.Prefix))
		case errors.Is(err, spotifyx.ErrLibraryNotLinked):
			b.reply(m, "The bot's playlist account is not set up yet. Poke the operator.")
		default:
			b.logger.Error().Err(err).Msg("controller setup failed")
			b.reply(m, "Spotify is not answering, try again.")
		}
		return nil, false
	}
	return ctrl, true
}

func (b *Bot) cmdLink(ctx context.Context, m *discordgo.MessageCreate) {
	uid := domain.UserID(m.Author.ID)
	if linked, err := b.links.IsLinked(ctx, uid); err == nil && linked {
		b.reply(m, fmt.Sprintf("You are already linked. Use `%sunlink` first to relink.", b.cfg.Prefix))
		return
	}
	token := uuid.NewString()
	err := b.links.AddLinkToken(ctx, store.LinkToken{
		Token:      token,
		UID:        uid,
		Nick:       m.Author.Username,
		AvatarURL:  m.Author.AvatarURL(""),
		ValidUntil: time.Now().Add(linkTokenTTL),
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("store link token failed")
		b.reply(m, "Something went wrong, try again.")
		return
	}
	url := fmt.Sprintf("%s/link/%s", strings.TrimRight(b.cfg.BaseURL, "/"), token)
	if err := b.dm(m.Author.ID, "Link your Spotify account here (valid for 24h): "+url); err != nil {
		b.reply(m, "I could not DM you. Allow direct messages from server members and retry.")
		return
	}
	b.react(m, "📬")
}

func (b *Bot) cmdUnlink(ctx context.Context, m *discordgo.MessageCreate) {
	if err := b.links.RemoveAccount(ctx, domain.UserID(m.Author.ID)); err != nil {
		b.logger.Error().Err(err).Msg("unlink failed")
		b.reply(m, "Something went wrong, try again.")
		return
	}
	b.react(m, "✅")
}

func (b *Bot) cmdJoin(ctx context.Context, m *discordgo.MessageCreate) {
	if !b.requireLinked(ctx, m) {
		return
	}
	channel, ok := b.voiceChannelOf(m.GuildID, m.Author.ID)
	if !ok {
		b.reply(m, "Join a voice channel first.")
		return
	}

	bitrate := defaultBitrate
	if ch, err := b.session.State.Channel(string(channel)); err == nil && ch.Bitrate > 0 {
		bitrate = ch.Bitrate
	}

	s, err := b.manager.Create(domain.GuildID(m.GuildID), channel, bitrate, domain.UserID(m.Author.ID))
	switch {
	case errors.Is(err, app.ErrSessionExists):
		b.reply(m, "This voice channel already has a session.")
		return
	case errors.Is(err, app.ErrNoFreePorts):
		b.reply(m, "All relay ports are busy right now, try again later.")
		return
	case err != nil:
		b.logger.Error().Err(err).Msg("session create failed")
		b.reply(m, "Could not start a session, try again.")
		return
	}

	if err := b.dm(m.Author.ID, "Your connection code: `"+s.Code+"`\nEnter it in the streaming client to claim this session."); err != nil {
		// Without the code the session is unusable, so roll it back.
		_ = b.manager.Stop(channel)
		b.reply(m, "I could not DM you the connection code. Allow direct messages and retry.")
		return
	}
	b.reply(m, "Session created, check your DMs for the connection code.")
}

func (b *Bot) cmdLeave(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	if ctrl, err := b.music.ControllerFor(ctx, s.DiscordUID, s.ChannelID); err == nil {
		if err := ctrl.StopPlaylistPlayback(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("playback stop failed during leave")
		}
	}
	b.player.Detach(s.GuildID)
	if err := b.manager.Stop(s.ChannelID); err != nil {
		b.logger.Error().Err(err).Msg("session stop failed")
		b.reply(m, "The session did not shut down cleanly. It has been removed, but a worker may linger.")
		return
	}
	b.react(m, "👋")
}

func (b *Bot) cmdStart(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	if err := ctrl.StartPlayback(ctx); err != nil {
		if errors.Is(err, spotifyx.ErrDeviceNotFound) {
			b.reply(m, "The streaming device is not visible yet. Connect the client first, then retry.")
			return
		}
		b.logger.Error().Err(err).Msg("start playback failed")
		b.reply(m, "Could not start playback, try again.")
		return
	}
	b.react(m, "▶️")
}

func (b *Bot) cmdAdd(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	if len(args) == 0 {
		b.reply(m, fmt.Sprintf("Usage: `%sadd <spotify link>`", b.cfg.Prefix))
		return
	}
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}

	kind, id, err := spotifyx.ParseLink(args[0])
	if err != nil {
		b.reply(m, "That does not look like a Spotify track, album or playlist link.")
		return
	}

	var trackIDs []spotifyx.ID
	switch kind {
	case spotifyx.LinkTrack:
		trackIDs = []spotifyx.ID{id}
	case spotifyx.LinkAlbum:
		trackIDs, err = ctrl.AlbumTrackIDs(ctx, id)
	case spotifyx.LinkPlaylist:
		trackIDs, err = ctrl.SourceTrackIDs(ctx, id)
	}
	if err != nil {
		b.logger.Error().Err(err).Msg("track resolution failed")
		b.reply(m, "Spotify did not return that item, check the link.")
		return
	}
	if len(trackIDs) == 0 {
		b.reply(m, "Nothing to add, that item is empty.")
		return
	}

	if err := ctrl.AddTracks(ctx, trackIDs...); err != nil {
		b.logger.Error().Err(err).Msg("add tracks failed")
		b.reply(m, "Could not add the tracks, try again.")
		return
	}
	if err := ctrl.UpdatePlayback(ctx); err != nil {
		switch {
		case errors.Is(err, spotifyx.ErrPlaybackInconsistent):
			b.reply(m, "Added, but the playing track vanished from the queue and playback could not be re-anchored.")
			return
		case errors.Is(err, spotifyx.ErrPlayingElsewhere):
			b.reply(m, fmt.Sprintf("Added %d track(s). Playback is running on another device, so it was left untouched.", len(trackIDs)))
			return
		default:
			b.logger.Warn().Err(err).Msg("playback update failed after add")
		}
	}
	b.reply(m, fmt.Sprintf("Added %d track(s) to the queue.", len(trackIDs)))
}

func (b *Bot) cmdClear(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	if err := ctrl.ClearPlaylist(ctx); err != nil {
		b.logger.Error().Err(err).Msg("clear playlist failed")
		b.reply(m, "Could not clear the queue, try again.")
		return
	}
	b.react(m, "🗑️")
}

func (b *Bot) cmdQueue(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	snap, err := ctrl.Queue(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("queue fetch failed")
		b.reply(m, "Could not fetch the queue, try again.")
		return
	}
	b.reply(m, renderQueue(snap))
}

func (b *Bot) cmdNowPlaying(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	snap, err := ctrl.Queue(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("queue fetch failed")
		b.reply(m, "Could not fetch playback state, try again.")
		return
	}
	b.reply(m, renderNowPlaying(snap))
}

func (b *Bot) cmdPause(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	if err := ctrl.Pause(ctx); err != nil {
		b.reply(m, "Could not pause, is anything playing?")
		return
	}
	b.react(m, "⏸️")
}

func (b *Bot) cmdResume(ctx context.Context, m *discordgo.MessageCreate) {
	s, ok := b.requireSession(m)
	if !ok {
		return
	}
	ctrl, ok := b.controllerFor(ctx, m, s)
	if !ok {
		return
	}
	if err := ctrl.Resume(ctx); err != nil {
		b.reply(m, "Could not resume playback.")
		return
	}
	b.react(m, "▶️")
}

func (b *Bot) cmdInfo(ctx context.Context, m *discordgo.MessageCreate) {
	linked, _ := b.links.IsLinked(ctx, domain.UserID(m.Author.ID))
	lines := []string{
		fmt.Sprintf("Linked: %v", linked),
	}
	if channel, ok := b.voiceChannelOf(m.GuildID, m.Author.ID); ok {
		if s, live := b.manager.ByChannel(channel); live {
			client := s.Username()
			if client == "" {
				client = "not claimed yet"
			}
			lines = append(lines,
				fmt.Sprintf("Session: live on port %d", s.Port),
				fmt.Sprintf("Streaming client: %s", client))
		} else {
			lines = append(lines, "Session: none in your voice channel")
		}
	} else {
		lines = append(lines, "Session: you are not in a voice channel")
	}
	b.reply(m, strings.Join(lines, "\n"))
}
