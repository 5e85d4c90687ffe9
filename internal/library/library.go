// Package library imports audio files into the sound store and the audio directory.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
)

// ErrUnsupported is returned for files whose extension is not a known audio format.
var ErrUnsupported = errors.New("unsupported audio format")

var supported = map[string]bool{
	".mp3": true, ".ogg": true, ".wav": true, ".flac": true,
	".m4a": true, ".opus": true, ".webm": true,
}

// Store is the part of storage.Storage the importer needs.
type Store interface {
	InsertSound(ctx context.Context, snd sound.Sound) (sound.Sound, error)
	SoundByName(ctx context.Context, name string) (sound.Sound, error)
	AddTags(ctx context.Context, soundID string, tags []string) (sound.WithTags, error)
}

// Library copies clips into AudioPath and records them in Store.
type Library struct {
	Store     Store
	AudioPath string
}

// Result describes one imported file.
type Result struct {
	Sound     sound.WithTags
	Duplicate bool
}

// Import adds the file at src under name (the file's base name when empty).
// When a sound with that name exists its tags are merged and the file is copied
// only if the stored audio is missing.
func (l *Library) Import(ctx context.Context, src, name string, tags []string) (Result, error) {
	ext := strings.ToLower(filepath.Ext(src))
	if !supported[ext] {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	}
	if _, err := os.Stat(src); err != nil {
		return Result{}, fmt.Errorf("open audio: %w", err)
	}

	res := Result{}
	snd, err := l.Store.SoundByName(ctx, name)
	switch {
	case err == nil:
		res.Duplicate = true
		if err := l.restore(snd, src); err != nil {
			return Result{}, err
		}
	case errors.Is(err, storage.ErrNotFound):
		snd, err = l.add(ctx, src, name, ext)
		if err != nil {
			return Result{}, err
		}
	default:
		return Result{}, err
	}

	res.Sound, err = l.Store.AddTags(ctx, snd.ID, tags)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// add copies the file into place and only then records it, so a failed copy
// leaves no row behind.
func (l *Library) add(ctx context.Context, src, name, ext string) (sound.Sound, error) {
	id := uuid.NewString()
	snd := sound.Sound{ID: id, Name: name, Extension: ext, FileName: id}
	dst := snd.Path(l.AudioPath)
	if err := copyFile(src, dst); err != nil {
		return sound.Sound{}, err
	}
	snd, err := l.Store.InsertSound(ctx, snd)
	if err != nil {
		_ = os.Remove(dst)
		return sound.Sound{}, err
	}
	log.Info().Str("module", "library").Str("id", snd.ID).Str("name", snd.Name).Msg("sound imported")
	return snd, nil
}

// restore copies src into place when a stored sound has lost its audio file.
func (l *Library) restore(snd sound.Sound, src string) error {
	dst := snd.Path(l.AudioPath)
	if _, err := os.Stat(dst); err == nil || !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	log.Warn().Str("module", "library").Str("id", snd.ID).Str("name", snd.Name).Msg("missing audio restored")
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open audio: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy audio: %w", err)
	}
	return out.Close()
}
