package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"

	"github.com/Nellodipolito/pubmed-search-api/internal/cache"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

type AIConfig struct {
	Provider  string `yaml:"provider"` // "claude" or "openai"
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Timeout   string `yaml:"timeout"`
	MaxTokens int    `yaml:"max_tokens"`
}

// TTL is a cache lifetime range. Both ends accept Go durations and the
// "Nd" day syntax.
type TTL struct {
	Min string `yaml:"min"`
	Max string `yaml:"max"`
}

func (t TTL) Range() cache.TTLRange {
	return cache.TTLRange{Min: ParseDuration(t.Min, 0), Max: ParseDuration(t.Max, 0)}
}

type PubMedConfig struct {
	BaseURL   string `yaml:"base_url"`
	Tool      string `yaml:"tool"`
	Email     string `yaml:"email"`
	APIKey    string `yaml:"api_key"`
	BatchSize int    `yaml:"batch_size"`
	SearchTTL TTL    `yaml:"search_ttl"`
	DetailTTL TTL    `yaml:"detail_ttl"`
}

type MedlinePlusConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url"`
	RetType    string `yaml:"rettype"`
	MaxResults int    `yaml:"max_results"`
	TTL        TTL    `yaml:"ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Driver        string      `yaml:"driver"` // memory, sqlite or redis
	Path          string      `yaml:"path,omitempty"`
	FlightTimeout string      `yaml:"flight_timeout"`
	Redis         RedisConfig `yaml:"redis"`
}

type PipelineConfig struct {
	Timeout      string `yaml:"timeout"`
	FetchTimeout string `yaml:"fetch_timeout"`
	NoteTimeout  string `yaml:"note_timeout"`
	Workers      int    `yaml:"workers"`
	MaxQuestions int    `yaml:"max_questions"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	Debug       bool     `yaml:"debug"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type UpdateConfig struct {
	Repo string `yaml:"repo"`
}

type Config struct {
	AI          *AIConfig         `yaml:"ai,omitempty"`
	PubMed      PubMedConfig      `yaml:"pubmed"`
	MedlinePlus MedlinePlusConfig `yaml:"medlineplus"`
	Cache       CacheConfig       `yaml:"cache"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Update      UpdateConfig      `yaml:"update"`
}

// Secrets are read from the environment and take precedence over empty
// file values.
type Secrets struct {
	AIKey         string `env:"MEDSEARCH_AI_KEY"`
	NCBIKey       string `env:"NCBI_API_KEY"`
	NCBIEmail     string `env:"NCBI_EMAIL"`
	RedisPassword string `env:"MEDSEARCH_REDIS_PASSWORD"`
}

// AIEnabled returns true if AI is configured with a valid API key.
func (c *Config) AIEnabled() bool {
	return c.AI != nil && c.AI.APIKey != ""
}

func (c *Config) AIKey() string {
	if c.AI == nil {
		return ""
	}
	return c.AI.APIKey
}

func (c *Config) PipelineTimeout() time.Duration {
	return ParseDuration(c.Pipeline.Timeout, 45*time.Second)
}

// FetchTimeout bounds the source fan-out of one search. Zero leaves the
// pipeline default, a share of PipelineTimeout.
func (c *Config) FetchTimeout() time.Duration {
	return ParseDuration(c.Pipeline.FetchTimeout, 0)
}

// NoteTimeout bounds one whole note analysis, defaulting to 2m.
func (c *Config) NoteTimeout() time.Duration {
	return ParseDuration(c.Pipeline.NoteTimeout, 2*time.Minute)
}

func (c *Config) AITimeout() time.Duration {
	if c.AI == nil {
		return 60 * time.Second
	}
	return ParseDuration(c.AI.Timeout, 60*time.Second)
}

func (c *Config) FlightTimeout() time.Duration {
	return ParseDuration(c.Cache.FlightTimeout, cache.DefaultFlightTimeout)
}

// Workers returns the note-question concurrency cap, defaulting to 3.
func (c *Config) Workers() int {
	if c.Pipeline.Workers <= 0 {
		return 3
	}
	return c.Pipeline.Workers
}

// MaxQuestions returns the per-note question cap, defaulting to 6.
func (c *Config) MaxQuestions() int {
	if c.Pipeline.MaxQuestions <= 0 {
		return 6
	}
	return c.Pipeline.MaxQuestions
}

// ParseDuration parses a Go duration or "Nd" day syntax, returning def
// for empty or invalid input.
func ParseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "medsearch", "config.yaml")
}

func CachePath() string {
	return filepath.Join(xdg.CacheHome, "medsearch", "cache.db")
}

// CacheDBPath returns the configured sqlite path or the XDG default.
func (c *Config) CacheDBPath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	return CachePath()
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

// Load reads the config file at path (the XDG default when empty) over
// the embedded defaults, then applies environment secrets.
func Load(path string) (*Config, error) {
	cfg, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Write defaults to config path on first run; failure is non-fatal
		_ = writeDefaults(path)
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var s Secrets
	if err := env.Parse(&s); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if s.AIKey != "" && cfg.AI != nil && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = s.AIKey
	}
	if s.NCBIKey != "" && cfg.PubMed.APIKey == "" {
		cfg.PubMed.APIKey = s.NCBIKey
	}
	if s.NCBIEmail != "" && cfg.PubMed.Email == "" {
		cfg.PubMed.Email = s.NCBIEmail
	}
	if s.RedisPassword != "" && cfg.Cache.Redis.Password == "" {
		cfg.Cache.Redis.Password = s.RedisPassword
	}
	return nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

func validate(cfg *Config) error {
	if cfg.AI != nil {
		switch cfg.AI.Provider {
		case "claude", "openai":
		default:
			return fmt.Errorf("ai: unknown provider %q (valid: claude, openai)", cfg.AI.Provider)
		}
	}

	for name, raw := range map[string]string{
		"pubmed.base_url":      cfg.PubMed.BaseURL,
		"medlineplus.base_url": cfg.MedlinePlus.BaseURL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: invalid url: %w", name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%s: url scheme must be http or https, got %q", name, u.Scheme)
		}
	}

	if cfg.PubMed.BatchSize < 0 || cfg.PubMed.BatchSize > 200 {
		return fmt.Errorf("pubmed.batch_size must be between 1 and 200, got %d", cfg.PubMed.BatchSize)
	}
	for name, t := range map[string]TTL{
		"pubmed.search_ttl": cfg.PubMed.SearchTTL,
		"pubmed.detail_ttl": cfg.PubMed.DetailTTL,
		"medlineplus.ttl":   cfg.MedlinePlus.TTL,
	} {
		r := t.Range()
		if r.Max != 0 && r.Max < r.Min {
			return fmt.Errorf("%s: max %s is below min %s", name, t.Max, t.Min)
		}
	}

	switch cfg.Cache.Driver {
	case "", "memory", "sqlite":
	case "redis":
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache: unknown driver %q (valid: memory, sqlite, redis)", cfg.Cache.Driver)
	}

	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q (valid: text, json)", cfg.Log.Format)
	}
	return nil
}
