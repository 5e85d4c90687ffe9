package stream

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes an executable shell script standing in for ffmpeg.
func fakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a unix shell")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func audioFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3"), 0o644))
	return path
}

func TestOpenMissingFile(t *testing.T) {
	d := &FFmpegDecoder{}
	_, err := d.Open(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	require.ErrorIs(t, err, ErrDecode)
}

func TestOpenDirectory(t *testing.T) {
	d := &FFmpegDecoder{}
	_, err := d.Open(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrDecode)
}

func TestOpenMissingBinary(t *testing.T) {
	d := &FFmpegDecoder{Binary: filepath.Join(t.TempDir(), "no-ffmpeg")}
	_, err := d.Open(context.Background(), audioFile(t))
	require.ErrorIs(t, err, ErrDecode)
}

func TestOpenReportsDecoderFailure(t *testing.T) {
	bin := fakeFFmpeg(t, `echo "Invalid data found when processing input" >&2; exit 1`)
	d := &FFmpegDecoder{Binary: bin}

	_, err := d.Open(context.Background(), audioFile(t))
	require.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "Invalid data found")
}

func TestOpenStreamsPCM(t *testing.T) {
	bin := fakeFFmpeg(t, `head -c 7680 /dev/zero`)
	d := &FFmpegDecoder{Binary: bin}

	src, err := d.Open(context.Background(), audioFile(t))
	require.NoError(t, err)
	defer src.Close()

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Len(t, data, 2*frameBytes)
	assert.NoError(t, src.Close())
}

func TestOpenAcceptsClipShorterThanOneFrame(t *testing.T) {
	bin := fakeFFmpeg(t, `head -c 100 /dev/zero`)
	d := &FFmpegDecoder{Binary: bin}

	src, err := d.Open(context.Background(), audioFile(t))
	require.NoError(t, err)
	defer src.Close()

	data, err := io.ReadAll(src)
	require.NoError(t, err)
	assert.Len(t, data, 100)
}
