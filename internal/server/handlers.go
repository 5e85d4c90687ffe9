package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/music/player"
	"github.com/keshon/muminst/internal/music/stream"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
	"github.com/keshon/muminst/internal/voice"
)

// Client is where a play request came from.
type Client string

const (
	ClientDiscord  Client = "discord"
	ClientTelegram Client = "telegram"
)

func (c Client) valid() bool {
	return c == ClientDiscord || c == ClientTelegram
}

type errorPayload struct {
	Message string `json:"message"`
}

type playSoundPayload struct {
	SoundID string `json:"soundId" binding:"required"`
	Client  Client `json:"client" binding:"required"`
}

type playSoundResponse struct {
	SoundID string `json:"soundId"`
	Client  Client `json:"client"`
}

type addTagsPayload struct {
	Tags []string `json:"tags"`
}

type lockResponse struct {
	IsLocked bool         `json:"isLocked"`
	Sound    *sound.Sound `json:"sound,omitempty"`
}

func abort(c *gin.Context, status int, format string, args ...any) {
	c.AbortWithStatusJSON(status, errorPayload{Message: fmt.Sprintf(format, args...)})
}

func present(w sound.WithTags) sound.WithTags {
	w.Extension = w.DisplayExtension()
	if w.Tags == nil {
		w.Tags = []string{}
	}
	return w
}

func (s *Server) listSounds(c *gin.Context) {
	list, err := s.deps.Store.ListSoundsWithTags(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch sounds")
		abort(c, http.StatusInternalServerError, "Server failed to fetch sounds from database.")
		return
	}
	for i := range list {
		list[i] = present(list[i])
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) getSound(c *gin.Context) {
	id := c.Param("id")
	w, err := s.deps.Store.SoundWithTagsByID(c.Request.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		abort(c, http.StatusNotFound, "Failed to find sound with id: %s", id)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("sound_id", id).Msg("failed to fetch sound")
		abort(c, http.StatusInternalServerError, "Server failed to fetch sound from database.")
		return
	}
	c.JSON(http.StatusOK, present(w))
}

func (s *Server) addTags(c *gin.Context) {
	id := c.Param("sound_id")
	var body addTagsPayload
	if err := c.ShouldBindJSON(&body); err != nil {
		abort(c, http.StatusBadRequest, "Invalid body: %v", err)
		return
	}
	w, err := s.deps.Store.AddTags(c.Request.Context(), id, body.Tags)
	if errors.Is(err, storage.ErrNotFound) {
		abort(c, http.StatusNotFound, "Failed to find sound with id: %s", id)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("sound_id", id).Msg("failed to add tags")
		abort(c, http.StatusInternalServerError, "Failed to insert tags in database.")
		return
	}
	c.JSON(http.StatusOK, present(w))
}

func (s *Server) playSound(c *gin.Context) {
	var body playSoundPayload
	if err := c.ShouldBindJSON(&body); err != nil || !body.Client.valid() {
		abort(c, http.StatusBadRequest, "Body must be {\"soundId\": string, \"client\": \"discord\"|\"telegram\"}.")
		return
	}
	ctx := c.Request.Context()

	if !s.limiter.Allow() {
		s.observe(body.Client, "rate_limited")
		abort(c, http.StatusTooManyRequests, "Too many play requests, slow down.")
		return
	}

	snd, err := s.deps.Store.SoundByID(ctx, body.SoundID)
	if errors.Is(err, storage.ErrNotFound) {
		s.observe(body.Client, "unknown_sound")
		abort(c, http.StatusExpectationFailed, "Failed to find sound with id: %s", body.SoundID)
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("sound_id", body.SoundID).Msg("failed to fetch sound")
		abort(c, http.StatusInternalServerError, "Server failed to fetch sound from database.")
		return
	}

	path := snd.Path(s.cfg.AudioPath)
	if _, err := os.Stat(path); err != nil {
		s.observe(body.Client, "missing_audio")
		abort(c, http.StatusInternalServerError, "Audio is missing for sound with id: %s", body.SoundID)
		return
	}

	if err := s.deps.Player.PlayAudio(ctx, path, snd); err != nil {
		status, result := playFailure(err)
		s.observe(body.Client, result)
		s.log.Warn().Err(err).Str("sound_id", snd.ID).Str("client", string(body.Client)).Msg("play failed")
		abort(c, status, "%s", failureMessage(err))
		return
	}
	s.observe(body.Client, "ok")

	if err := s.deps.Store.AppendPlayToHistory(ctx, storage.PlayRecord{SoundID: snd.ID, Name: snd.Name, Client: string(body.Client)}); err != nil {
		s.log.Warn().Err(err).Msg("failed to record play")
	}

	c.JSON(http.StatusOK, playSoundResponse{SoundID: body.SoundID, Client: body.Client})
}

// playFailure maps a PlayAudio error to an HTTP status and a metrics label.
func playFailure(err error) (int, string) {
	switch {
	case errors.Is(err, voice.ErrNotConnected):
		return http.StatusBadRequest, "not_connected"
	case errors.Is(err, stream.ErrDecode):
		return http.StatusUnprocessableEntity, "decode_error"
	case errors.Is(err, lock.ErrBusy):
		return http.StatusConflict, "busy"
	default:
		return http.StatusInternalServerError, "error"
	}
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, voice.ErrNotConnected):
		return "Bot has to join a voice channel first."
	case errors.Is(err, lock.ErrBusy):
		return "Another sound is playing."
	default:
		return err.Error()
	}
}

func (s *Server) stopSound(c *gin.Context) {
	err := s.deps.Player.Stop(c.Request.Context())
	if err != nil && !errors.Is(err, player.ErrNoTrackPlaying) {
		s.log.Error().Err(err).Msg("stop failed")
		abort(c, http.StatusInternalServerError, "%s", err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) lockStatus(c *gin.Context) {
	st, err := s.deps.Player.Status(c.Request.Context())
	if err != nil {
		abort(c, http.StatusServiceUnavailable, "%s", err.Error())
		return
	}
	c.JSON(http.StatusOK, lockResponse{IsLocked: st.IsLocked, Sound: st.Sound})
}

func (s *Server) history(c *gin.Context) {
	list, err := s.deps.Store.FetchPlayHistory(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("failed to fetch play history")
		abort(c, http.StatusInternalServerError, "Server failed to fetch play history.")
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) observe(client Client, result string) {
	if s.deps.Record != nil {
		s.deps.Record.ObservePlay(string(client), result)
	}
}
