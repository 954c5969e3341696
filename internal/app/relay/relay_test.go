package relay

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"
)

// freePort grabs a port from the kernel and releases it again. The tiny race
// between closing and rebinding has not been a problem in practice.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func startServer(t *testing.T) (*Server, *os.File) {
	t.Helper()
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	srv := NewServer(freePort(t), pw)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		_ = srv.Stop(time.Second)
		_ = pw.Close()
		_ = pr.Close()
	})
	return srv, pr
}

func dialRelay(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", srv.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func chunk(fill byte) []byte {
	b := make([]byte, ChunkSize)
	for i := range b {
		b[i] = fill
	}
	return b
}

func TestRelayPacingExactChunks(t *testing.T) {
	srv, pr := startServer(t)
	conn := dialRelay(t, srv)
	defer conn.Close()

	const n = 10
	go func() {
		for i := 0; i < n; i++ {
			if _, err := conn.Write(chunk(byte(i))); err != nil {
				return
			}
		}
	}()

	got := make([]byte, ChunkSize)
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(pr, got); err != nil {
			t.Fatalf("read chunk %d: %v", i, err)
		}
		if !bytes.Equal(got, chunk(byte(i))) {
			t.Fatalf("chunk %d relayed out of order or corrupted", i)
		}
	}
}

func TestRelayDrainDiscardsBacklog(t *testing.T) {
	srv, pr := startServer(t)
	conn := dialRelay(t, srv)
	defer conn.Close()

	consumed := make(chan struct{})
	go func() {
		buf := make([]byte, ChunkSize)
		for i := 0; i < drainEvery; i++ {
			if _, err := io.ReadFull(pr, buf); err != nil {
				return
			}
		}
		close(consumed)
	}()

	for i := 0; i < drainEvery-1; i++ {
		if _, err := conn.Write(chunk(0x11)); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}
	}
	// Let the relay park inside the final chunk's read, then deliver that
	// chunk together with the stale backlog in one write so the backlog is
	// already buffered when the drain fires.
	time.Sleep(100 * time.Millisecond)
	backlog := append(chunk(0x22), bytes.Repeat([]byte{0xEE}, 999)...)
	if _, err := conn.Write(backlog); err != nil {
		t.Fatalf("write backlog: %v", err)
	}

	select {
	case <-consumed:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not deliver the first 60 chunks")
	}

	// Give the drain a moment to run before sending the post-drain chunk;
	// bytes sent during the drain itself would be discarded too.
	time.Sleep(200 * time.Millisecond)
	sentinel := chunk(0xAB)
	if _, err := conn.Write(sentinel); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	got := make([]byte, ChunkSize)
	if err := pr.SetReadDeadline(time.Now().Add(5 * time.Second)); err == nil {
		defer pr.SetReadDeadline(time.Time{})
	}
	if _, err := io.ReadFull(pr, got); err != nil {
		t.Fatalf("read post-drain chunk: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Fatal("stale backlog was relayed instead of being drained")
	}
}

func TestRelaySurvivesBrokenPipe(t *testing.T) {
	srv, pr := startServer(t)
	conn := dialRelay(t, srv)
	defer conn.Close()

	if _, err := conn.Write(chunk(0x01)); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, ChunkSize)
	if _, err := io.ReadFull(pr, buf); err != nil {
		t.Fatalf("read: %v", err)
	}

	// Kill the downstream transcoder.
	_ = pr.Close()
	if _, err := conn.Write(chunk(0x02)); err != nil {
		t.Fatalf("write after pipe close: %v", err)
	}

	// The relay must drop the connection but keep accepting.
	next := dialRelay(t, srv)
	defer next.Close()
	if _, err := next.Write(chunk(0x03)); err != nil {
		t.Fatalf("write on new connection: %v", err)
	}
	// Serving the new connection also hits the broken pipe and closes it;
	// observing that close proves the accept loop is still alive.
	_ = next.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := next.Read(buf); err == nil {
		t.Fatal("expected the relay to close the second connection")
	} else if ne, ok := err.(net.Error); ok && ne.Timeout() {
		t.Fatal("relay never served the second connection")
	}
}

func TestRelayStopUnblocksAccept(t *testing.T) {
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()
	defer pw.Close()

	srv := NewServer(freePort(t), pw)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Stop(time.Second) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop hung on a worker parked in accept")
	}

	// A second stop is a no-op.
	if err := srv.Stop(time.Second); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestRelayStopUnblocksRead(t *testing.T) {
	srv, _ := startServer(t)
	conn := dialRelay(t, srv)
	defer conn.Close()

	// Half a chunk leaves the worker parked in the blocking read.
	if _, err := conn.Write(make([]byte, ChunkSize/2)); err != nil {
		t.Fatalf("write: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := srv.Stop(time.Second); err != nil {
		t.Fatalf("stop with parked reader: %v", err)
	}
}
