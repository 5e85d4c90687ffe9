// /internal/storage/storage.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/keshon/muminst/internal/sound"
)

var ErrNotFound = errors.New("sound not found")

// Storage keeps sounds and their tags in SQLite.
type Storage struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens (or creates) the database at path and makes sure the schema exists.
func New(ctx context.Context, path string) (*Storage, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Storage{db: db, log: log.With().Str("module", "storage").Logger()}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	s.log.Info().Str("path", path).Msg("storage opened")
	return s, nil
}

func (s *Storage) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sounds (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    extension TEXT NOT NULL,
    file_name TEXT NOT NULL,
    file_hash TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS tags (
    id TEXT PRIMARY KEY,
    sound_id TEXT NOT NULL,
    slug TEXT NOT NULL,
    UNIQUE(sound_id, slug),
    FOREIGN KEY(sound_id) REFERENCES sounds(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_sounds_name ON sounds(name COLLATE NOCASE);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return err
	}
	return s.initHistorySchema(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// InsertSound stores snd, generating an ID when it has none.
func (s *Storage) InsertSound(ctx context.Context, snd sound.Sound) (sound.Sound, error) {
	if snd.ID == "" {
		snd.ID = uuid.NewString()
	}
	if snd.FileName == "" {
		snd.FileName = snd.ID
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sounds(id, name, extension, file_name, file_hash) VALUES(?, ?, ?, ?, ?)`,
		snd.ID, snd.Name, snd.Extension, snd.FileName, snd.FileHash)
	if err != nil {
		return sound.Sound{}, fmt.Errorf("insert sound: %w", err)
	}
	return snd, nil
}

// SoundByID returns the sound with the given id or ErrNotFound.
func (s *Storage) SoundByID(ctx context.Context, id string) (sound.Sound, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, extension, file_name, file_hash FROM sounds WHERE id = ?`, id)
	return scanSound(row)
}

// SoundByName finds a sound by case-insensitive name.
func (s *Storage) SoundByName(ctx context.Context, name string) (sound.Sound, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, extension, file_name, file_hash FROM sounds
		 WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`, strings.TrimSpace(name))
	return scanSound(row)
}

// SoundWithTagsByID returns one sound with its tags.
func (s *Storage) SoundWithTagsByID(ctx context.Context, id string) (sound.WithTags, error) {
	snd, err := s.SoundByID(ctx, id)
	if err != nil {
		return sound.WithTags{}, err
	}
	tags, err := s.tagsFor(ctx, id)
	if err != nil {
		return sound.WithTags{}, err
	}
	return sound.WithTags{Sound: snd, Tags: tags}, nil
}

// ListSoundsWithTags returns every sound ordered by name.
func (s *Storage) ListSoundsWithTags(ctx context.Context) ([]sound.WithTags, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, extension, file_name, file_hash FROM sounds ORDER BY name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("query sounds: %w", err)
	}
	defer rows.Close()

	list := []sound.WithTags{}
	index := map[string]int{}
	for rows.Next() {
		var snd sound.Sound
		if err := rows.Scan(&snd.ID, &snd.Name, &snd.Extension, &snd.FileName, &snd.FileHash); err != nil {
			return nil, fmt.Errorf("scan sound: %w", err)
		}
		index[snd.ID] = len(list)
		list = append(list, sound.WithTags{Sound: snd, Tags: []string{}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT sound_id, slug FROM tags ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer tagRows.Close()

	for tagRows.Next() {
		var soundID, slug string
		if err := tagRows.Scan(&soundID, &slug); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[soundID]; ok {
			list[i].Tags = append(list[i].Tags, slug)
		}
	}
	return list, tagRows.Err()
}

// AddTags attaches tags to a sound and returns the updated sound. Tags are trimmed,
// lowercased and deduplicated; blank ones are skipped.
func (s *Storage) AddTags(ctx context.Context, soundID string, tags []string) (sound.WithTags, error) {
	if _, err := s.SoundByID(ctx, soundID); err != nil {
		return sound.WithTags{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sound.WithTags{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, slug := range NormalizeTags(tags) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tags(id, sound_id, slug) VALUES(?, ?, ?) ON CONFLICT(sound_id, slug) DO NOTHING`,
			uuid.NewString(), soundID, slug)
		if err != nil {
			return sound.WithTags{}, fmt.Errorf("insert tag %q: %w", slug, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return sound.WithTags{}, fmt.Errorf("commit tags: %w", err)
	}

	s.log.Debug().Str("sound_id", soundID).Strs("tags", tags).Msg("tags added")
	return s.SoundWithTagsByID(ctx, soundID)
}

// NormalizeTags trims, lowercases, deduplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s *Storage) tagsFor(ctx context.Context, soundID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT slug FROM tags WHERE sound_id = ? ORDER BY slug`, soundID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	tags := []string{}
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, slug)
	}
	return tags, rows.Err()
}

func scanSound(row *sql.Row) (sound.Sound, error) {
	var snd sound.Sound
	err := row.Scan(&snd.ID, &snd.Name, &snd.Extension, &snd.FileName, &snd.FileHash)
	if errors.Is(err, sql.ErrNoRows) {
		return sound.Sound{}, ErrNotFound
	}
	if err != nil {
		return sound.Sound{}, fmt.Errorf("scan sound: %w", err)
	}
	return snd, nil
}
