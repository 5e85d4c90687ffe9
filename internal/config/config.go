// /internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/keshon/muminst/internal/lock"
)

type Config struct {
	DiscordToken   string `env:"DISCORD_TOKEN,required,notEmpty"`
	GuildID        string `env:"DISCORD_GUILD_ID,required,notEmpty"`
	VoiceChannelID string `env:"DISCORD_VOICE_CHANNEL_ID"`
	CommandPrefix  string `env:"COMMAND_PREFIX" envDefault:"~"`

	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/muminst.db"`
	AudioPath    string `env:"AUDIO_PATH" envDefault:"data/audio"`
	FFmpegPath   string `env:"FFMPEG_PATH" envDefault:"ffmpeg"`

	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	WSPingInterval  time.Duration `env:"WS_PING_INTERVAL" envDefault:"5s"`
	WSClientTimeout time.Duration `env:"WS_CLIENT_TIMEOUT" envDefault:"10s"`

	LockPolicy    string  `env:"LOCK_POLICY" envDefault:"overwrite"`
	DecodeWorkers int     `env:"DECODE_WORKERS" envDefault:"2"`
	PlayRate      float64 `env:"PLAY_RATE" envDefault:"2"`
	PlayBurst     int     `env:"PLAY_BURST" envDefault:"4"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, falling back to system environment variables")
	}
	return parse(env.Options{})
}

// LibraryConfig is the subset the sound import tool needs; it runs without Discord credentials.
type LibraryConfig struct {
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/muminst.db"`
	AudioPath    string `env:"AUDIO_PATH" envDefault:"data/audio"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadLibrary reads .env (if present) and the library settings from the environment.
func LoadLibrary() (*LibraryConfig, error) {
	_ = godotenv.Load()
	cfg, err := env.ParseAs[LibraryConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

func parse(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if !lock.Policy(c.LockPolicy).Valid() {
		errs = append(errs, fmt.Errorf("LOCK_POLICY must be %q or %q, got %q", lock.PolicyOverwrite, lock.PolicyReject, c.LockPolicy))
	}
	if c.DecodeWorkers < 1 {
		errs = append(errs, fmt.Errorf("DECODE_WORKERS must be at least 1, got %d", c.DecodeWorkers))
	}
	if c.PlayRate <= 0 || c.PlayBurst < 1 {
		errs = append(errs, fmt.Errorf("PLAY_RATE and PLAY_BURST must be positive"))
	}
	if c.WSPingInterval <= 0 || c.WSClientTimeout <= c.WSPingInterval {
		errs = append(errs, fmt.Errorf("WS_CLIENT_TIMEOUT (%s) must exceed WS_PING_INTERVAL (%s)", c.WSClientTimeout, c.WSPingInterval))
	}
	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be empty"))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	return errors.Join(errs...)
}

// Policy returns the configured lock policy.
func (c Config) Policy() lock.Policy {
	return lock.Policy(c.LockPolicy)
}
