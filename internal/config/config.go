package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Rcon     RconConfig     `yaml:"rcon"`
	Data     DataConfig     `yaml:"data"`
	Notify   NotifyConfig   `yaml:"notify"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Effects  EffectsConfig  `yaml:"effects"`
	API      APIConfig      `yaml:"api"`
	Bus      BusConfig      `yaml:"bus"`
}

// ServerConfig describes the Minecraft server process and world
type ServerConfig struct {
	Script    string `yaml:"script"`     // launch script, run from its own directory
	WorldPath string `yaml:"world_path"` // on-disk world directory, deleted on reset
	WorldName string `yaml:"world_name"`
}

// RconConfig holds the RCON endpoint settings
type RconConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// DataConfig holds persistence paths
type DataConfig struct {
	StatsPath   string `yaml:"stats_path"`
	HistoryPath string `yaml:"history_path"`
}

// NotifyConfig holds the chat-platform webhook endpoints
type NotifyConfig struct {
	NoticeWebhook   string        `yaml:"notice_webhook"`
	AdminWebhook    string        `yaml:"admin_webhook"`
	OperatorWebhook string        `yaml:"operator_webhook"` // direct-message fallback
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
}

// AnalyzerConfig holds the AI cause-analysis endpoint settings.
// An empty BaseURL disables analysis; the fallback description is used instead.
type AnalyzerConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// EffectsConfig controls the in-game death reactions
type EffectsConfig struct {
	Explosion ExplosionConfig `yaml:"explosion"`
	Title     TitleConfig     `yaml:"title"`
	Sound     SoundConfig     `yaml:"sound"`
}

// ExplosionConfig controls TNT summoned on surviving players
type ExplosionConfig struct {
	Enabled bool `yaml:"enabled"`
	Delay   int  `yaml:"delay"` // seconds of fuse
}

// TitleConfig controls the on-screen death announcement
type TitleConfig struct {
	Enabled bool `yaml:"enabled"`
	FadeIn  int  `yaml:"fade_in"`
	Stay    int  `yaml:"stay"`
	FadeOut int  `yaml:"fade_out"`
}

// SoundConfig controls the death sound cue
type SoundConfig struct {
	Enabled bool    `yaml:"enabled"`
	SoundID string  `yaml:"sound_id"`
	Volume  float64 `yaml:"volume"`
	Pitch   float64 `yaml:"pitch"`
}

// APIConfig holds admin HTTP API settings
type APIConfig struct {
	ListenAddr    string        `yaml:"listen_addr"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
	UsersPath     string        `yaml:"users_path"`
}

// BusConfig holds embedded event bus settings
type BusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Rcon.Addr == "" {
		cfg.Rcon.Addr = "127.0.0.1:25575"
	}
	if cfg.Rcon.Timeout == 0 {
		cfg.Rcon.Timeout = 30 * time.Second
	}
	if cfg.Data.StatsPath == "" {
		cfg.Data.StatsPath = "/var/lib/warden/stats.yml"
	}
	if cfg.Data.HistoryPath == "" {
		cfg.Data.HistoryPath = "/var/lib/warden/history.db"
	}
	if cfg.Notify.ConfirmTimeout == 0 {
		cfg.Notify.ConfirmTimeout = 5 * time.Minute
	}
	if cfg.Analyzer.Timeout == 0 {
		cfg.Analyzer.Timeout = 30 * time.Second
	}
	if cfg.Effects.Title.Stay == 0 {
		cfg.Effects.Title.FadeIn = 10
		cfg.Effects.Title.Stay = 70
		cfg.Effects.Title.FadeOut = 20
	}
	if cfg.Effects.Sound.SoundID == "" {
		cfg.Effects.Sound.SoundID = "minecraft:entity.wither.death"
	}
	if cfg.Effects.Sound.Volume == 0 {
		cfg.Effects.Sound.Volume = 1.0
	}
	if cfg.Effects.Sound.Pitch == 0 {
		cfg.Effects.Sound.Pitch = 0.7
	}
	if cfg.API.ListenAddr == "" {
		cfg.API.ListenAddr = "127.0.0.1:8190"
	}
	if cfg.API.TokenDuration == 0 {
		cfg.API.TokenDuration = 24 * time.Hour
	}
	if cfg.API.UsersPath == "" {
		cfg.API.UsersPath = "/var/lib/warden/users.yml"
	}
	if cfg.Bus.Port == 0 {
		cfg.Bus.Port = 4222
	}

	return &cfg, nil
}
