package app

import (
	"os"
	"sync"

	"github.com/spoofy-bot/spoofy/internal/app/relay"
	"github.com/spoofy-bot/spoofy/internal/domain"
)

// Session is the live binding between one voice channel and one remote audio
// producer: its relay server, transcode pipe, and lifecycle state. Session
// state is purely in-memory and does not survive a restart.
type Session struct {
	ChannelID  domain.ChannelID
	GuildID    domain.GuildID
	DiscordUID domain.UserID
	Bitrate    int
	Port       int

	// Code is the single-use token the remote client presents to claim the
	// session's address and port.
	Code string

	// PipeR is read by the transcoder; PipeW is written by the relay worker.
	// The session owns both ends; closing either is terminal.
	PipeR *os.File
	PipeW *os.File

	Relay *relay.Server

	mu       sync.Mutex
	username string
}

// SetUsername records how the remote client identified itself over the web
// boundary. Not required for relay operation.
func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}
