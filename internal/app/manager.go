package app

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/spoofy-bot/spoofy/internal/app/relay"
	"github.com/spoofy-bot/spoofy/internal/domain"
)

// stopTimeout bounds the wait for a relay worker to exit during teardown.
const stopTimeout = time.Second

// Manager creates, looks up and tears down sessions.
type Manager struct {
	registry *Registry
	ports    *PortAllocator
}

func NewManager(reg *Registry, ports *PortAllocator) *Manager {
	return &Manager{registry: reg, ports: ports}
}

// Create allocates a port, builds the transcode pipe, starts the relay worker
// and registers the session. Fails with ErrSessionExists when the channel
// already has a live session, and with ErrNoFreePorts when the pool is empty.
func (m *Manager) Create(guildID domain.GuildID, channelID domain.ChannelID, bitrate int, uid domain.UserID) (*Session, error) {
	port, err := m.ports.Allocate()
	if err != nil {
		return nil, err
	}
	pr, pw, err := os.Pipe()
	if err != nil {
		m.ports.Release(port)
		return nil, fmt.Errorf("create transcode pipe: %w", err)
	}

	s := &Session{
		ChannelID:  channelID,
		GuildID:    guildID,
		DiscordUID: uid,
		Bitrate:    bitrate,
		Port:       port,
		Code:       uuid.NewString(),
		PipeR:      pr,
		PipeW:      pw,
		Relay:      relay.NewServer(port, pw),
	}

	// Register before starting the worker: of two concurrent Create calls
	// for the same channel, exactly one wins here.
	if err := m.registry.Add(s); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		m.ports.Release(port)
		return nil, err
	}
	if err := s.Relay.Start(); err != nil {
		m.registry.Remove(channelID)
		_ = pr.Close()
		_ = pw.Close()
		m.ports.Release(port)
		return nil, fmt.Errorf("start relay on port %d: %w", port, err)
	}

	log.Info().Str("module", "app.manager").
		Str("channel", string(channelID)).
		Int("port", port).
		Int("bitrate", bitrate).
		Msg("session created")
	return s, nil
}

// ByChannel returns the live session for a voice channel, if any.
func (m *Manager) ByChannel(id domain.ChannelID) (*Session, bool) {
	return m.registry.ByChannel(id)
}

// ByCode returns the live session for a connection code, if any.
func (m *Manager) ByCode(code string) (*Session, bool) {
	return m.registry.ByCode(code)
}

// Stop tears a session down: unregister, stop the relay worker (unblocking a
// parked Accept/Read by closing its sockets), then release the port and close
// the pipe. Stopping an already-stopped or unknown session is a no-op.
//
// Stopping a session does not touch playback on the external music device;
// callers wanting both must issue the playback stop themselves.
func (m *Manager) Stop(channelID domain.ChannelID) error {
	s, ok := m.registry.Remove(channelID)
	if !ok {
		return nil
	}
	if err := s.Relay.Stop(stopTimeout); err != nil {
		// The worker is stuck in a blocking call that did not unblock. Leak
		// the port and pipe rather than risk a use-after-close; the operator
		// is informed through the returned error.
		log.Error().Err(err).Str("module", "app.manager").
			Str("channel", string(channelID)).
			Msg("relay worker leaked during teardown")
		return fmt.Errorf("stop session for channel %s: %w", channelID, err)
	}
	_ = s.PipeW.Close()
	_ = s.PipeR.Close()
	m.ports.Release(s.Port)
	log.Info().Str("module", "app.manager").Str("channel", string(channelID)).Msg("session stopped")
	return nil
}
