package discord

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/hraban/opus.v2"

	"github.com/spoofy-bot/spoofy/internal/app"
	"github.com/spoofy-bot/spoofy/internal/audio"
	"github.com/spoofy-bot/spoofy/internal/domain"
)

const defaultBitrate = 64000

// Player feeds transcoded session audio into guild voice connections. One
// stream per guild; a second session has to wait for the first to detach.
type Player struct {
	session *discordgo.Session
	ffmpeg  string
	logger  zerolog.Logger

	mu      sync.Mutex
	streams map[domain.GuildID]*stream
}

type stream struct {
	code   string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPlayer(session *discordgo.Session, ffmpegPath string) *Player {
	return &Player{
		session: session,
		ffmpeg:  ffmpegPath,
		logger:  log.With().Str("module", "adapters.discord").Logger(),
		streams: make(map[domain.GuildID]*stream),
	}
}

// Attach joins the session's voice channel, spawns the transcoder on the
// session's pipe and starts the send loop. A repeat call for the same
// session is a no-op; a call while another session streams in the guild
// fails with ErrVoiceBusy.
func (p *Player) Attach(ctx context.Context, s *app.Session) (app.AttachStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st, ok := p.streams[s.GuildID]; ok {
		if st.code == s.Code {
			return app.AttachedAlready, nil
		}
		return 0, app.ErrVoiceBusy
	}

	vc, err := p.session.ChannelVoiceJoin(string(s.GuildID), string(s.ChannelID), false, true)
	if err != nil {
		return 0, fmt.Errorf("join voice channel %s: %w", s.ChannelID, err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	tc, err := audio.NewTranscoder(streamCtx, p.ffmpeg, s.PipeR, s.Code)
	if err != nil {
		cancel()
		_ = vc.Disconnect()
		return 0, fmt.Errorf("start transcoder: %w", err)
	}

	bitrate := s.Bitrate
	if bitrate <= 0 {
		bitrate = defaultBitrate
	}
	enc, err := opus.NewEncoder(audio.OutputSampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		cancel()
		tc.Close()
		_ = vc.Disconnect()
		return 0, fmt.Errorf("create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		p.logger.Warn().Int("bitrate", bitrate).Err(err).Msg("set bitrate failed, using encoder default")
	}

	st := &stream{code: s.Code, cancel: cancel, done: make(chan struct{})}
	p.streams[s.GuildID] = st

	go p.sendLoop(streamCtx, st, vc, tc, enc, s.GuildID)

	p.logger.Info().Str("guild", string(s.GuildID)).Str("channel", string(s.ChannelID)).
		Int("bitrate", bitrate).Msg("voice stream attached")
	return app.AttachedFresh, nil
}

// Detach stops the guild's stream, if any, and leaves the voice channel.
func (p *Player) Detach(guildID domain.GuildID) {
	p.mu.Lock()
	st, ok := p.streams[guildID]
	p.mu.Unlock()
	if !ok {
		return
	}
	st.cancel()
	<-st.done
}

func (p *Player) sendLoop(ctx context.Context, st *stream, vc *discordgo.VoiceConnection, tc *audio.Transcoder, enc *opus.Encoder, guildID domain.GuildID) {
	defer func() {
		tc.Close()
		_ = vc.Speaking(false)
		_ = vc.Disconnect()
		p.mu.Lock()
		if cur, ok := p.streams[guildID]; ok && cur == st {
			delete(p.streams, guildID)
		}
		p.mu.Unlock()
		close(st.done)
		p.logger.Info().Str("guild", string(guildID)).Msg("voice stream detached")
	}()

	if err := vc.Speaking(true); err != nil {
		p.logger.Error().Err(err).Msg("speaking flag not accepted")
		return
	}

	frame := make([]byte, audio.FrameSize)
	pcm := make([]int16, audio.FrameSize/2)
	packet := make([]byte, 4000)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !tc.ReadFrame(frame) {
			// End of stream: the session's pipe closed and the transcoder
			// flushed its last full frame.
			return
		}
		for i := range pcm {
			pcm[i] = int16(binary.LittleEndian.Uint16(frame[2*i:]))
		}
		n, err := enc.Encode(pcm, packet)
		if err != nil {
			p.logger.Warn().Err(err).Msg("opus encode failed, frame dropped")
			continue
		}
		out := make([]byte, n)
		copy(out, packet[:n])
		select {
		case vc.OpusSend <- out:
		case <-ctx.Done():
			return
		}
	}
}
