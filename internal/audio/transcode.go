// Package audio wraps the external ffmpeg process that resamples the relayed
// 44.1kHz stream into the fixed-size frames the voice sink consumes.
package audio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	InputSampleRate  = 44100
	OutputSampleRate = 48000
	Channels         = 2

	frameSamples = 960 // 20ms at 48kHz

	// FrameSize is the exact number of bytes the voice sink reads per call:
	// one 20ms frame of 48kHz s16le stereo.
	FrameSize = frameSamples * Channels * 2
)

// Transcoder runs one ffmpeg child per attached session, reading raw PCM from
// the session's pipe and emitting voice-sink-rate PCM on stdout. It carries
// the connection code of the session it was started for, so a reconnecting
// client can be told apart from a conflicting one.
type Transcoder struct {
	code   string
	cmd    *exec.Cmd
	stdout io.ReadCloser
	logger zerolog.Logger
}

// NewTranscoder starts ffmpeg with src as its stdin. The caller keeps
// ownership of src.
func NewTranscoder(ctx context.Context, ffmpegPath string, src *os.File, code string) (*Transcoder, error) {
	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-hide_banner",
		"-loglevel", "warning",
		"-f", "s16le", "-ar", "44100", "-ac", "2",
		"-i", "pipe:0",
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"pipe:1",
	)
	cmd.Stdin = src

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	t := &Transcoder{
		code:   code,
		cmd:    cmd,
		stdout: stdout,
		logger: log.With().Str("module", "audio.transcode").Str("code", code).Logger(),
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	go t.logStderr(stderr)
	t.logger.Info().Int("pid", cmd.Process.Pid).Msg("transcoder started")
	return t, nil
}

func (t *Transcoder) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		t.logger.Warn().Str("ffmpeg", sc.Text()).Msg("transcoder output")
	}
}

// Code returns the connection code this transcoder was attached for.
func (t *Transcoder) Code() string { return t.code }

// ReadFrame fills buf with exactly one frame. len(buf) must be FrameSize.
// A short read (underrun, end of stream) reports false — never a padded or
// partial frame; the voice sink treats false as "nothing to say right now".
func (t *Transcoder) ReadFrame(buf []byte) bool {
	return readFrame(t.stdout, buf)
}

func readFrame(r io.Reader, buf []byte) bool {
	n, err := io.ReadFull(r, buf)
	return err == nil && n == len(buf)
}

// Close kills the ffmpeg child and reaps it.
func (t *Transcoder) Close() {
	_ = t.stdout.Close()
	if t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	_ = t.cmd.Wait()
	t.logger.Info().Msg("transcoder stopped")
}
