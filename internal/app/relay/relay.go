// Package relay runs the per-session accept-and-forward loop that moves raw
// PCM from a remote audio producer into the transcode pipe.
package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	SampleRate = 44100
	SampleBits = 16
	Channels   = 2

	// ChunkSize is a quarter of the one-second sample budget: each loop
	// iteration relays 0.25s of 44.1kHz s16le stereo audio.
	ChunkSize = SampleRate * SampleBits * Channels / 8 / 4

	// drainEvery is measured in relayed chunks; at the quarter-second chunk
	// cadence the buffers get cleared roughly every 15 seconds.
	drainEvery = 60
)

// ErrStuck is reported when the worker does not exit within the stop timeout.
var ErrStuck = errors.New("relay worker did not stop in time")

var errPeerClosed = errors.New("peer closed connection")

// Server owns one listening socket and relays a single producer connection at
// a time into the sink. Connections are accepted serially.
type Server struct {
	port int
	sink io.Writer

	ln        *net.TCPListener
	listening atomic.Bool
	started   atomic.Bool
	done      chan struct{}

	mu   sync.Mutex
	conn *net.TCPConn

	logger zerolog.Logger
}

func NewServer(port int, sink io.Writer) *Server {
	return &Server{
		port:   port,
		sink:   sink,
		done:   make(chan struct{}),
		logger: log.With().Str("module", "relay").Int("port", port).Logger(),
	}
}

func (s *Server) Port() int { return s.port }

// Start binds the listening socket and spawns the worker goroutine.
func (s *Server) Start() error {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{Port: s.port})
	if err != nil {
		return err
	}
	s.ln = ln
	s.listening.Store(true)
	s.started.Store(true)
	go s.loop()
	return nil
}

// Stop requests shutdown and waits for the worker with a bounded timeout.
// Closing the listener (and any in-flight connection) unblocks a worker that
// is parked in Accept or Read, so no asynchronous interruption is needed.
// Stopping an already-stopped server is a no-op.
func (s *Server) Stop(timeout time.Duration) error {
	if !s.started.Load() {
		return nil
	}
	s.listening.Store(false)
	_ = s.ln.Close()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return ErrStuck
	}
}

func (s *Server) loop() {
	defer close(s.done)
	for s.listening.Load() {
		conn, err := s.ln.AcceptTCP()
		if err != nil {
			if s.listening.Load() {
				s.logger.Error().Err(err).Msg("accept failed, relay stopping")
			}
			return
		}
		s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("incoming audio connection")
		s.serve(conn)
	}
}

func (s *Server) setConn(conn *net.TCPConn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// serve relays fixed-size chunks from one producer connection into the sink
// until the producer disconnects, the sink breaks, or the server stops.
func (s *Server) serve(conn *net.TCPConn) {
	defer conn.Close()
	s.setConn(conn)
	defer s.setConn(nil)

	// Relayed audio is real-time; the transport must not coalesce writes.
	if err := conn.SetNoDelay(true); err != nil {
		s.logger.Warn().Err(err).Msg("could not disable nagle")
	}

	buf := make([]byte, ChunkSize)
	for chunks := 0; ; chunks++ {
		if chunks != 0 && chunks%drainEvery == 0 {
			if err := drain(conn); err != nil {
				s.logger.Info().Err(err).Msg("client disconnected during drain")
				return
			}
		}
		if _, err := io.ReadFull(conn, buf); err != nil {
			if s.listening.Load() && !errors.Is(err, io.EOF) {
				s.logger.Info().Err(err).Msg("relay read ended")
			}
			return
		}
		if _, err := s.sink.Write(buf); err != nil {
			// The transcoder exited or closed its read end. Not fatal to the
			// server: drop this connection and accept the next one.
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
				s.logger.Warn().Msg("transcode pipe closed, dropping connection")
				return
			}
			s.logger.Error().Err(err).Msg("pipe write failed")
			return
		}
	}
}

// drain discards everything currently buffered on the connection without
// blocking, to bound end-to-end latency when the producer runs ahead of
// real-time consumption. A zero-byte read means the peer has closed.
func drain(conn *net.TCPConn) error {
	// The deadline must lie in the future: an already-expired deadline fails
	// reads before they ever reach the socket, so nothing would be discarded.
	if err := conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return nil
	}
	defer conn.SetReadDeadline(time.Time{})

	scrap := make([]byte, 256)
	for {
		_, err := conn.Read(scrap)
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil // buffer is empty
		}
		if errors.Is(err, io.EOF) {
			return errPeerClosed
		}
		return err
	}
}
