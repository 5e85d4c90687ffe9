package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/muminst/internal/sound"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "data", "muminst.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAndFetchSound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	snd, err := s.InsertSound(ctx, sound.Sound{Name: "Airhorn", Extension: ".mp3", FileHash: "abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, snd.ID)
	assert.Equal(t, snd.ID, snd.FileName)

	got, err := s.SoundByID(ctx, snd.ID)
	require.NoError(t, err)
	assert.Equal(t, snd, got)

	byName, err := s.SoundByName(ctx, "  airhorn ")
	require.NoError(t, err)
	assert.Equal(t, snd.ID, byName.ID)
}

func TestUnknownSound(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	_, err := s.SoundByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SoundByName(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SoundWithTagsByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddTags(ctx, "missing", []string{"x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddTagsNormalizesAndDeduplicates(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	snd, err := s.InsertSound(ctx, sound.Sound{Name: "Bruh", Extension: ".mp3"})
	require.NoError(t, err)

	updated, err := s.AddTags(ctx, snd.ID, []string{"Meme", " meme ", "", "classic"})
	require.NoError(t, err)
	assert.Equal(t, []string{"classic", "meme"}, updated.Tags)

	updated, err = s.AddTags(ctx, snd.ID, []string{"meme", "short"})
	require.NoError(t, err)
	assert.Equal(t, []string{"classic", "meme", "short"}, updated.Tags)
}

func TestListSoundsWithTags(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	list, err := s.ListSoundsWithTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	b, err := s.InsertSound(ctx, sound.Sound{Name: "bonk", Extension: ".mp3"})
	require.NoError(t, err)
	a, err := s.InsertSound(ctx, sound.Sound{Name: "Applause", Extension: ".ogg"})
	require.NoError(t, err)
	_, err = s.AddTags(ctx, b.ID, []string{"hit"})
	require.NoError(t, err)

	list, err = s.ListSoundsWithTags(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, []string{}, list[0].Tags)
	assert.Equal(t, b.ID, list[1].ID)
	assert.Equal(t, []string{"hit"}, list[1].Tags)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "muminst.db")
	ctx := context.Background()

	s, err := New(ctx, path)
	require.NoError(t, err)
	snd, err := s.InsertSound(ctx, sound.Sound{Name: "wow", Extension: ".mp3"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = New(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.SoundByID(ctx, snd.ID)
	require.NoError(t, err)
	assert.Equal(t, "wow", got.Name)
}

func TestCommandHistoryIsTrimmed(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i := 0; i < commandHistoryLimit+5; i++ {
		require.NoError(t, s.AppendCommandToHistory(ctx, CommandRecord{GuildID: "g1", Command: "play", Param: string(rune('a' + i))}))
	}
	require.NoError(t, s.AppendCommandToHistory(ctx, CommandRecord{GuildID: "g2", Command: "join"}))

	list, err := s.FetchCommandHistory(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, list, commandHistoryLimit)
	assert.Equal(t, "f", list[0].Param)
	assert.False(t, list[0].Datetime.IsZero())

	other, err := s.FetchCommandHistory(ctx, "g2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestPlayHistoryNewestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	for i := 0; i < playHistoryLimit+3; i++ {
		require.NoError(t, s.AppendPlayToHistory(ctx, PlayRecord{SoundID: string(rune('a' + i)), Client: "discord"}))
	}

	list, err := s.FetchPlayHistory(ctx)
	require.NoError(t, err)
	require.Len(t, list, playHistoryLimit)
	assert.Equal(t, string(rune('a'+playHistoryLimit+2)), list[0].SoundID)
}

func TestNormalizeTags(t *testing.T) {
	assert.Equal(t, []string{}, NormalizeTags(nil))
	assert.Equal(t, []string{"a", "b"}, NormalizeTags([]string{"B", "a", " A "}))
}
