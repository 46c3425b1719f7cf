package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the global ~/.solchat/config.toml.
type Config struct {
	DefaultWallet string  `toml:"default_wallet"`
	Pinata        Pinata  `toml:"pinata"`
	Arweave       Arweave `toml:"arweave"`
	Sync          Sync    `toml:"sync"`
	API           API     `toml:"api"`
}

// Pinata holds the pin directory / content store backend settings.
type Pinata struct {
	APIKey    string   `toml:"api_key"`
	SecretKey string   `toml:"secret_key"`
	BaseURL   string   `toml:"base_url"`
	Gateways  []string `toml:"gateways"`
}

// Configured reports whether credentials are present. Sync cannot run
// without them.
func (p Pinata) Configured() bool {
	return p.APIKey != "" && p.SecretKey != ""
}

// Arweave holds the fallback content store settings.
type Arweave struct {
	Enabled    bool   `toml:"enabled"`
	UploadURL  string `toml:"upload_url"`
	GatewayURL string `toml:"gateway_url"`
}

// Sync holds the synchronizer tuning knobs. Defaults match the backend's
// documented quotas; raise them only if your account allows it.
type Sync struct {
	IntervalSeconds       int `toml:"interval_seconds"`
	BatchSize             int `toml:"batch_size"`
	BatchDelayMillis      int `toml:"batch_delay_ms"`
	MaxRetries            int `toml:"max_retries"`
	RateLimitMillis       int `toml:"rate_limit_ms"`
	SkewBufferSeconds     int `toml:"skew_buffer_seconds"`
	PageLimit             int `toml:"page_limit"`
	MaxPages              int `toml:"max_pages"`
	GatewayTimeoutSeconds int `toml:"gateway_timeout_seconds"`
}

// Interval returns the periodic sync interval.
func (s Sync) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// BatchDelay returns the pause between retrieval batches.
func (s Sync) BatchDelay() time.Duration {
	return time.Duration(s.BatchDelayMillis) * time.Millisecond
}

// RateLimit returns the minimum spacing between directory API calls.
func (s Sync) RateLimit() time.Duration {
	return time.Duration(s.RateLimitMillis) * time.Millisecond
}

// SkewBuffer returns the backward discovery window that tolerates clock
// and indexing skew between clients and the pin directory.
func (s Sync) SkewBuffer() time.Duration {
	return time.Duration(s.SkewBufferSeconds) * time.Second
}

// GatewayTimeout returns the per-gateway retrieval timeout.
func (s Sync) GatewayTimeout() time.Duration {
	return time.Duration(s.GatewayTimeoutSeconds) * time.Second
}

// API holds the local HTTP API settings.
type API struct {
	ListenAddr     string   `toml:"listen_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Pinata: Pinata{
			BaseURL: "https://api.pinata.cloud",
			Gateways: []string{
				"https://gateway.pinata.cloud/ipfs/",
				"https://ipfs.io/ipfs/",
				"https://cloudflare-ipfs.com/ipfs/",
				"https://dweb.link/ipfs/",
			},
		},
		Arweave: Arweave{
			Enabled:    false,
			UploadURL:  "https://arweave.net/tx",
			GatewayURL: "https://arweave.net/",
		},
		Sync: Sync{
			IntervalSeconds:       30,
			BatchSize:             10,
			BatchDelayMillis:      500,
			MaxRetries:            3,
			RateLimitMillis:       1000,
			SkewBufferSeconds:     60,
			PageLimit:             100,
			MaxPages:              10,
			GatewayTimeoutSeconds: 10,
		},
		API: API{
			ListenAddr:     "127.0.0.1:8791",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads config from path, fills unset fields with defaults, and
// overlays credentials from the environment. A missing file yields the
// defaults without error; a malformed file does not.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

// Save writes config to path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// applyEnv overlays credentials from a .env file (if present in the working
// directory) and the process environment. The environment wins over the
// file on disk so deployments can inject secrets without editing
// config.toml.
func (c *Config) applyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv("SOLCHAT_PINATA_API_KEY"); v != "" {
		c.Pinata.APIKey = v
	}
	if v := os.Getenv("SOLCHAT_PINATA_SECRET"); v != "" {
		c.Pinata.SecretKey = v
	}
	if v := os.Getenv("SOLCHAT_WALLET"); v != "" {
		c.DefaultWallet = v
	}
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Pinata.BaseURL == "" {
		c.Pinata.BaseURL = def.Pinata.BaseURL
	}
	if len(c.Pinata.Gateways) == 0 {
		c.Pinata.Gateways = def.Pinata.Gateways
	}
	if c.Arweave.UploadURL == "" {
		c.Arweave.UploadURL = def.Arweave.UploadURL
	}
	if c.Arweave.GatewayURL == "" {
		c.Arweave.GatewayURL = def.Arweave.GatewayURL
	}
	if c.Sync.IntervalSeconds <= 0 {
		c.Sync.IntervalSeconds = def.Sync.IntervalSeconds
	}
	if c.Sync.BatchSize <= 0 {
		c.Sync.BatchSize = def.Sync.BatchSize
	}
	if c.Sync.BatchDelayMillis <= 0 {
		c.Sync.BatchDelayMillis = def.Sync.BatchDelayMillis
	}
	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = def.Sync.MaxRetries
	}
	if c.Sync.RateLimitMillis <= 0 {
		c.Sync.RateLimitMillis = def.Sync.RateLimitMillis
	}
	if c.Sync.SkewBufferSeconds <= 0 {
		c.Sync.SkewBufferSeconds = def.Sync.SkewBufferSeconds
	}
	if c.Sync.PageLimit <= 0 {
		c.Sync.PageLimit = def.Sync.PageLimit
	}
	if c.Sync.MaxPages <= 0 {
		c.Sync.MaxPages = def.Sync.MaxPages
	}
	if c.Sync.GatewayTimeoutSeconds <= 0 {
		c.Sync.GatewayTimeoutSeconds = def.Sync.GatewayTimeoutSeconds
	}
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = def.API.ListenAddr
	}
}
