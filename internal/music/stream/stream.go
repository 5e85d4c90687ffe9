// /internal/music/stream/stream.go
package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz

	frameBytes = FrameSize * Channels * 2
)

// ErrDecode means the audio file could not be opened or decoded.
var ErrDecode = errors.New("audio could not be decoded")

// Decoder turns an audio file into a PCM stream.
type Decoder interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// FFmpegDecoder decodes files with an ffmpeg subprocess.
type FFmpegDecoder struct {
	// Binary is the ffmpeg executable, "ffmpeg" when empty.
	Binary string
}

// Open starts ffmpeg on path and waits until the first PCM frame is available, so
// broken or unsupported files fail here instead of mid-playback.
func (d *FFmpegDecoder) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDecode, path)
	}

	bin := d.Binary
	if bin == "" {
		bin = "ffmpeg"
	}

	// Not bound to ctx: the process must outlive the request that started playback.
	cmd := exec.Command(bin,
		"-i", path,
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", fmt.Sprintf("%d", Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrDecode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrDecode, err)
	}

	src := &pcmSource{
		cmd:    cmd,
		reader: bufio.NewReaderSize(stdout, frameBytes*4),
	}

	peeked := make(chan error, 1)
	go func() {
		_, err := src.reader.Peek(frameBytes)
		peeked <- err
	}()

	select {
	case err := <-peeked:
		if err != nil && !(errors.Is(err, io.EOF) && src.reader.Buffered() > 0) {
			_ = src.Close()
			return nil, fmt.Errorf("%w: %s: %s", ErrDecode, path, firstLine(stderr.String(), err))
		}
	case <-ctx.Done():
		_ = src.Close()
		return nil, ctx.Err()
	}

	log.Debug().Str("module", "stream").Str("path", path).Msg("pcm stream opened")
	return src, nil
}

type pcmSource struct {
	cmd       *exec.Cmd
	reader    *bufio.Reader
	closeOnce sync.Once
}

func (s *pcmSource) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

// Close kills ffmpeg and reaps it.
func (s *pcmSource) Close() error {
	s.closeOnce.Do(func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	})
	return nil
}

func firstLine(stderr string, fallback error) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fallback.Error()
	}
	if i := strings.IndexByte(stderr, '\n'); i >= 0 {
		return stderr[:i]
	}
	return stderr
}
