package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/music/player"
	"github.com/keshon/muminst/internal/music/stream"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/internal/voice"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePlayer struct {
	mu      sync.Mutex
	err     error
	played  []string
	status  lock.Status
	stopErr error
}

func (p *fakePlayer) PlayAudio(_ context.Context, path string, snd sound.Sound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.played = append(p.played, path)
	p.status = lock.Status{IsLocked: true, Sound: &snd}
	return nil
}

func (p *fakePlayer) Stop(context.Context) error { return p.stopErr }

func (p *fakePlayer) Status(context.Context) (lock.Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

type countingRecorder struct {
	mu      sync.Mutex
	results []string
}

func (r *countingRecorder) ObservePlay(client, result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, client+":"+result)
}

type fixture struct {
	srv      *Server
	store    *storage.Storage
	player   *fakePlayer
	recorder *countingRecorder
	audio    string
	snd      sound.Sound
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.New(ctx, filepath.Join(dir, "muminst.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audio := filepath.Join(dir, "audio")
	require.NoError(t, os.MkdirAll(audio, 0o755))

	snd, err := store.InsertSound(ctx, sound.Sound{Name: "airhorn", Extension: "mp3"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snd.Path(audio), []byte("ID3"), 0o644))

	cfg.AudioPath = audio
	f := &fixture{
		store:    store,
		player:   &fakePlayer{},
		recorder: &countingRecorder{},
		audio:    audio,
		snd:      snd,
	}
	f.srv = New(cfg, Deps{Store: store, Player: f.player, Record: f.recorder})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func playBody(id string) string {
	return fmt.Sprintf(`{"soundId":%q,"client":"discord"}`, id)
}

func TestListSounds(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/sounds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, f.snd.ID, list[0]["id"])
	assert.Equal(t, ".mp3", list[0]["extension"])
	assert.Equal(t, f.snd.ID, list[0]["fileName"])
	assert.Equal(t, []any{}, list[0]["tags"])
}

func TestGetSound(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/sounds/"+f.snd.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"airhorn"`)

	rec = f.do(t, http.MethodGet, "/sounds/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message"`)
}

func TestAddTags(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPut, "/add-tags/"+f.snd.ID, `{"tags":["Loud","meme"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var got sound.WithTags
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"loud", "meme"}, got.Tags)

	rec = f.do(t, http.MethodPut, "/add-tags/nope", `{"tags":["x"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPlaySound(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/play-sound", playBody(f.snd.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, playBody(f.snd.ID), rec.Body.String())
	assert.Equal(t, []string{f.snd.Path(f.audio)}, f.player.played)
	assert.Equal(t, []string{"discord:ok"}, f.recorder.results)

	history, err := f.store.FetchPlayHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, f.snd.ID, history[0].SoundID)

	rec = f.do(t, http.MethodGet, "/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"isLocked":true`)
}

func TestPlaySoundErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"not connected", voice.ErrNotConnected, http.StatusBadRequest},
		{"decode", fmt.Errorf("%w: bad header", stream.ErrDecode), http.StatusUnprocessableEntity},
		{"busy", fmt.Errorf("lock sound: %w", lock.ErrBusy), http.StatusConflict},
		{"stopped", lock.ErrStopped, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.player.err = tc.err

			rec := f.do(t, http.MethodPost, "/play-sound", playBody(f.snd.ID))
			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), `"message"`)
		})
	}
}

func TestPlayUnknownSound(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodPost, "/play-sound", playBody("missing"))
	assert.Equal(t, http.StatusExpectationFailed, rec.Code)
	assert.Empty(t, f.player.played)
}

func TestPlayMissingAudioFile(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, os.Remove(f.snd.Path(f.audio)))

	rec := f.do(t, http.MethodPost, "/play-sound", playBody(f.snd.ID))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Audio is missing")
}

func TestPlayBadBody(t *testing.T) {
	f := newFixture(t, Config{})

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/play-sound", `{"soundId":"x","client":"fax"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/play-sound", `not json`).Code)
}

func TestPlayRateLimited(t *testing.T) {
	f := newFixture(t, Config{PlayRate: 0.001, PlayBurst: 1})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/play-sound", playBody(f.snd.ID)).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodPost, "/play-sound", playBody(f.snd.ID)).Code)
}

func TestStopSound(t *testing.T) {
	f := newFixture(t, Config{})

	f.player.stopErr = player.ErrNoTrackPlaying
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/stop-sound", "").Code)

	f.player.stopErr = lock.ErrStopped
	assert.Equal(t, http.StatusInternalServerError, f.do(t, http.MethodPost, "/stop-sound", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodOptions, "/play-sound", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAssetsServeAudio(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.do(t, http.MethodGet, "/assets/"+filepath.Base(f.snd.Path(f.audio)), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ID3", rec.Body.String())
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
