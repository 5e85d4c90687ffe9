// Package sound holds the stored audio clip model shared by storage, playback and transport.
package sound

import (
	"path/filepath"
	"strings"
)

// Sound is a stored audio clip. The file lives at <audio dir>/<FileName>.<Extension>.
type Sound struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	FileName  string `json:"fileName"`
	FileHash  string `json:"fileHash"`
}

// WithTags is a Sound together with its tag slugs, as listed over HTTP.
type WithTags struct {
	Sound
	Tags []string `json:"tags"`
}

// Path resolves the on-disk location of the clip inside audioDir.
func (s Sound) Path(audioDir string) string {
	name := s.FileName
	if ext := strings.TrimPrefix(s.Extension, "."); ext != "" {
		name += "." + ext
	}
	return filepath.Join(audioDir, name)
}

// DisplayExtension returns the extension with a leading dot (".mp3").
func (s Sound) DisplayExtension() string {
	if s.Extension == "" || strings.HasPrefix(s.Extension, ".") {
		return s.Extension
	}
	return "." + s.Extension
}
