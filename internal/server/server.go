// /internal/server/server.go
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/keshon/muminst/internal/lock"
	"github.com/keshon/muminst/internal/sound"
	"github.com/keshon/muminst/internal/storage"
)

// SoundStore is the storage the HTTP API reads and writes.
type SoundStore interface {
	ListSoundsWithTags(ctx context.Context) ([]sound.WithTags, error)
	SoundWithTagsByID(ctx context.Context, id string) (sound.WithTags, error)
	SoundByID(ctx context.Context, id string) (sound.Sound, error)
	AddTags(ctx context.Context, soundID string, tags []string) (sound.WithTags, error)
	AppendPlayToHistory(ctx context.Context, rec storage.PlayRecord) error
	FetchPlayHistory(ctx context.Context) ([]storage.PlayRecord, error)
}

// Playback is the player as seen by the HTTP API.
type Playback interface {
	PlayAudio(ctx context.Context, path string, snd sound.Sound) error
	Stop(ctx context.Context) error
	Status(ctx context.Context) (lock.Status, error)
}

// Recorder counts play requests.
type Recorder interface {
	ObservePlay(client, result string)
}

type Config struct {
	Addr      string
	AudioPath string
	PlayRate  float64
	PlayBurst int
	Debug     bool
}

type Deps struct {
	Store   SoundStore
	Player  Playback
	Hub     http.Handler
	Metrics http.Handler
	Record  Recorder
}

// Server is the soundboard HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	limiter *rate.Limiter
	engine  *gin.Engine
	log     zerolog.Logger
}

func New(cfg Config, deps Deps) *Server {
	if cfg.PlayRate <= 0 {
		cfg.PlayRate = 2
	}
	if cfg.PlayBurst <= 0 {
		cfg.PlayBurst = 4
	}
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(rate.Limit(cfg.PlayRate), cfg.PlayBurst),
		log:     log.With().Str("module", "server").Logger(),
	}
	s.engine = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.log))
	r.Use(cors())

	r.GET("/sounds", s.listSounds)
	r.GET("/sounds/:id", s.getSound)
	r.PUT("/add-tags/:sound_id", s.addTags)
	r.POST("/play-sound", s.playSound)
	r.POST("/stop-sound", s.stopSound)
	r.GET("/lock", s.lockStatus)
	r.GET("/history", s.history)

	if s.deps.Hub != nil {
		r.GET("/ws", gin.WrapH(s.deps.Hub))
	}
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.cfg.AudioPath != "" {
		r.Static("/assets", s.cfg.AudioPath)
	}

	s.log.Info().Str("audio", s.cfg.AudioPath).Msg("router setup")
	return r
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func requestLogger(l zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
