package app

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/spoofy-bot/spoofy/internal/domain"
)

// ErrSessionExists is returned when a session for the channel is already
// registered.
var ErrSessionExists = errors.New("a session for this channel already exists")

// Registry is the in-memory set of live sessions, indexed by voice channel
// and by connection code. Both indexes are updated together under one mutex
// so lookups stay consistent for the whole life of a session.
type Registry struct {
	mu        sync.RWMutex
	byChannel map[domain.ChannelID]*Session
	byCode    map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byChannel: make(map[domain.ChannelID]*Session),
		byCode:    make(map[string]*Session),
	}
}

// Add registers a session. At most one session per channel may be live.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byChannel[s.ChannelID]; ok {
		return ErrSessionExists
	}
	r.byChannel[s.ChannelID] = s
	r.byCode[s.Code] = s
	log.Info().Str("module", "app.registry").Str("channel", string(s.ChannelID)).Int("port", s.Port).Msg("registered session")
	return nil
}

// ByChannel returns the live session for a channel. A miss is a normal
// outcome, not an error.
func (r *Registry) ByChannel(id domain.ChannelID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byChannel[id]
	return s, ok
}

// ByCode returns the live session claimed by a connection code.
func (r *Registry) ByCode(code string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byCode[code]
	return s, ok
}

// Remove invalidates both indexes together and reports whether the session
// was still registered.
func (r *Registry) Remove(id domain.ChannelID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byChannel[id]
	if !ok {
		return nil, false
	}
	delete(r.byChannel, id)
	delete(r.byCode, s.Code)
	log.Info().Str("module", "app.registry").Str("channel", string(id)).Msg("removed session")
	return s, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byChannel)
}
