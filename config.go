package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the whole server configuration
type Config struct {
	Server struct {
		Addr         string        `yaml:"addr"`
		JoinURL      string        `yaml:"join_url"` // base URL encoded into join QR codes
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`

	Game struct {
		VScale        float64 `yaml:"vscale"`
		FrequencyMS   int     `yaml:"frequency_ms"` // host broadcast interval
		PhysicsMS     int     `yaml:"physics_ms"`
		BotMS         int     `yaml:"bot_ms"`
		TableXLimit   float64 `yaml:"table_x_limit"`
		TableYLimit   float64 `yaml:"table_y_limit"`
		OuterBound    float64 `yaml:"outer_bound"`
		InnerBound    float64 `yaml:"inner_bound"`
		Headless      bool    `yaml:"headless"`
		UseTimeoutMS  int     `yaml:"use_timeout_ms"`
		HitCooldownMS int     `yaml:"hit_cooldown_ms"`
		MinSwingSpeed float64 `yaml:"min_swing_speed"`
	} `yaml:"game"`

	Lobby struct {
		MaxLobbies  int           `yaml:"max_lobbies"`
		IdleTimeout time.Duration `yaml:"idle_timeout"`
	} `yaml:"lobby"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Limits struct {
		RedisAddr     string        `yaml:"redis_addr"` // empty keeps limits local to this process
		RedisPassword string        `yaml:"redis_password"`
		ConnAttempts  int64         `yaml:"conn_attempts"`
		ConnWindow    time.Duration `yaml:"conn_window"`
	} `yaml:"limits"`

	Events struct {
		NATSURL       string `yaml:"nats_url"` // empty disables publishing
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"events"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	c := &Config{}
	c.Server.Addr = ":3000"
	c.Server.ReadTimeout = 15 * time.Second
	c.Server.WriteTimeout = 15 * time.Second

	c.Game.VScale = 150
	c.Game.FrequencyMS = 30
	c.Game.PhysicsMS = 16
	c.Game.BotMS = 50
	c.Game.TableXLimit = 100
	c.Game.TableYLimit = 100
	c.Game.OuterBound = 140
	c.Game.InnerBound = 70
	c.Game.UseTimeoutMS = 1000
	c.Game.HitCooldownMS = 200
	c.Game.MinSwingSpeed = 0

	c.Lobby.MaxLobbies = 100
	c.Lobby.IdleTimeout = 5 * time.Minute

	c.Log.Level = "info"
	c.Log.Format = "text"

	c.Limits.ConnAttempts = 20
	c.Limits.ConnWindow = time.Minute

	c.Events.SubjectPrefix = "pong.events"
	return c
}

// LoadConfig reads an optional .env file and YAML config on top of the
// defaults, then applies environment overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Server.Addr = ":" + port
	}
	if v := os.Getenv("PONG_HEADLESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid PONG_HEADLESS %q: %w", v, err)
		}
		c.Game.Headless = b
	}
	if v := os.Getenv("PONG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PONG_JOIN_URL"); v != "" {
		c.Server.JoinURL = v
	}
	if v := os.Getenv("PONG_REDIS_ADDR"); v != "" {
		c.Limits.RedisAddr = v
	}
	if v := os.Getenv("PONG_REDIS_PASSWORD"); v != "" {
		c.Limits.RedisPassword = v
	}
	if v := os.Getenv("PONG_NATS_URL"); v != "" {
		c.Events.NATSURL = v
	}
	return nil
}

// Validate rejects geometry and timing values the engine cannot run with
func (c *Config) Validate() error {
	g := c.Game
	switch {
	case g.InnerBound <= 0 || g.OuterBound <= g.InnerBound:
		return fmt.Errorf("game: need 0 < inner_bound < outer_bound, got %v/%v", g.InnerBound, g.OuterBound)
	case g.OuterBound <= Baseline:
		return fmt.Errorf("game: outer_bound must be beyond the serve baseline %v, got %v", Baseline, g.OuterBound)
	case g.TableXLimit <= 0 || g.TableYLimit <= 0:
		return fmt.Errorf("game: table limits must be positive")
	case g.PhysicsMS <= 0 || g.FrequencyMS <= 0 || g.BotMS <= 0:
		return fmt.Errorf("game: tick intervals must be positive")
	case g.VScale <= 0:
		return fmt.Errorf("game: vscale must be positive")
	case g.UseTimeoutMS < 0 || g.HitCooldownMS < 0:
		return fmt.Errorf("game: timeouts must not be negative")
	}
	if c.Lobby.MaxLobbies <= 0 {
		return fmt.Errorf("lobby: max_lobbies must be positive")
	}
	if c.Limits.RedisAddr != "" && (c.Limits.ConnAttempts <= 0 || c.Limits.ConnWindow < time.Second) {
		return fmt.Errorf("limits: conn_attempts must be positive and conn_window at least 1s")
	}
	if c.Events.NATSURL != "" && c.Events.SubjectPrefix == "" {
		return fmt.Errorf("events: subject_prefix is required with nats_url")
	}
	return nil
}

// MatchConfig converts the game section into the per-lobby tuning
func (c *Config) MatchConfig() MatchConfig {
	g := c.Game
	return MatchConfig{
		VScale:        g.VScale,
		TableXLimit:   g.TableXLimit,
		TableYLimit:   g.TableYLimit,
		OuterBound:    g.OuterBound,
		InnerBound:    g.InnerBound,
		PhysicsTick:   time.Duration(g.PhysicsMS) * time.Millisecond,
		BroadcastTick: time.Duration(g.FrequencyMS) * time.Millisecond,
		BotTick:       time.Duration(g.BotMS) * time.Millisecond,
		UseTimeout:    time.Duration(g.UseTimeoutMS) * time.Millisecond,
		HitCooldown:   time.Duration(g.HitCooldownMS) * time.Millisecond,
		MinSwingSpeed: g.MinSwingSpeed,
	}
}
