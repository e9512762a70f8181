// Package config loads coordinator settings from an optional YAML file,
// environment variables and command-line flags, in that order of precedence
// (flags win).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config holds everything the coordinator binary needs.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	// HTTPAddr serves the operator API, /ws and /metrics. Empty disables it.
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigins applies to CORS and to websocket upgrades. "*" allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	CountdownSec   int           `yaml:"countdown_sec"`
	SendBuffer     int           `yaml:"send_buffer"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxConnections int           `yaml:"max_connections"`
	MaxLinesPerSec float64       `yaml:"max_lines_per_sec"`
	LineBurst      int           `yaml:"line_burst"`

	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		ListenAddr:     ":5000",
		HTTPAddr:       ":8080",
		AllowedOrigins: []string{"*"},
		CountdownSec:   30,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		MaxConnections: 0,
		MaxLinesPerSec: 0,
		LineBurst:      5,
		NATSSubject:    "auction.events",
		LogLevel:       "info",
	}
}

// Load starts from Default, applies the YAML file at path if path is not
// empty, then applies environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = getEnv("AUCTION_LISTEN_ADDR", c.ListenAddr)
	c.HTTPAddr = getEnv("AUCTION_HTTP_ADDR", c.HTTPAddr)
	c.AllowedOrigins = getEnvAsList("AUCTION_ALLOWED_ORIGINS", c.AllowedOrigins)
	c.CountdownSec = getEnvAsInt("AUCTION_COUNTDOWN_SEC", c.CountdownSec)
	c.SendBuffer = getEnvAsInt("AUCTION_SEND_BUFFER", c.SendBuffer)
	c.WriteTimeout = getEnvAsDuration("AUCTION_WRITE_TIMEOUT", c.WriteTimeout)
	c.MaxConnections = getEnvAsInt("AUCTION_MAX_CONNECTIONS", c.MaxConnections)
	c.MaxLinesPerSec = getEnvAsFloat("AUCTION_MAX_LINES_PER_SEC", c.MaxLinesPerSec)
	c.LineBurst = getEnvAsInt("AUCTION_LINE_BURST", c.LineBurst)
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSSubject = getEnv("AUCTION_NATS_SUBJECT", c.NATSSubject)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// RegisterFlags adds the coordinator flags to fs. Their values only take
// effect through ApplyFlags, and only when set on the command line.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "path to a YAML config file")
	fs.String("listen", d.ListenAddr, "bidder TCP listen address")
	fs.String("http", d.HTTPAddr, "operator HTTP listen address (empty disables)")
	fs.StringSlice("allowed-origins", d.AllowedOrigins, "origins allowed for CORS and websocket bidders")
	fs.Int("countdown", d.CountdownSec, "inactivity countdown in seconds")
	fs.Int("send-buffer", d.SendBuffer, "outbound queue length per connection")
	fs.Duration("write-timeout", d.WriteTimeout, "per-line write deadline")
	fs.Int("max-connections", d.MaxConnections, "concurrent bidder connection cap (0 = unlimited)")
	fs.Float64("max-lines-per-sec", d.MaxLinesPerSec, "inbound lines per second per connection (0 = unlimited)")
	fs.Int("line-burst", d.LineBurst, "inbound line burst per connection")
	fs.String("nats-url", d.NATSURL, "NATS server URL (empty disables event publishing)")
	fs.String("nats-subject", d.NATSSubject, "NATS subject prefix for auction events")
	fs.String("log-level", d.LogLevel, "zerolog level")
}

// ApplyFlags overrides c with every flag explicitly set on fs.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error
	set := func(name string, apply func() error) {
		if err != nil || !fs.Changed(name) {
			return
		}
		if applyErr := apply(); applyErr != nil {
			err = fmt.Errorf("flag --%s: %w", name, applyErr)
		}
	}

	set("listen", func() (e error) { c.ListenAddr, e = fs.GetString("listen"); return })
	set("http", func() (e error) { c.HTTPAddr, e = fs.GetString("http"); return })
	set("allowed-origins", func() (e error) { c.AllowedOrigins, e = fs.GetStringSlice("allowed-origins"); return })
	set("countdown", func() (e error) { c.CountdownSec, e = fs.GetInt("countdown"); return })
	set("send-buffer", func() (e error) { c.SendBuffer, e = fs.GetInt("send-buffer"); return })
	set("write-timeout", func() (e error) { c.WriteTimeout, e = fs.GetDuration("write-timeout"); return })
	set("max-connections", func() (e error) { c.MaxConnections, e = fs.GetInt("max-connections"); return })
	set("max-lines-per-sec", func() (e error) { c.MaxLinesPerSec, e = fs.GetFloat64("max-lines-per-sec"); return })
	set("line-burst", func() (e error) { c.LineBurst, e = fs.GetInt("line-burst"); return })
	set("nats-url", func() (e error) { c.NATSURL, e = fs.GetString("nats-url"); return })
	set("nats-subject", func() (e error) { c.NATSSubject, e = fs.GetString("nats-subject"); return })
	set("log-level", func() (e error) { c.LogLevel, e = fs.GetString("log-level"); return })

	return err
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	case c.CountdownSec <= 0:
		return fmt.Errorf("%w: countdown must be positive, got %d", ErrInvalidConfig, c.CountdownSec)
	case c.SendBuffer <= 0:
		return fmt.Errorf("%w: send buffer must be positive, got %d", ErrInvalidConfig, c.SendBuffer)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive, got %s", ErrInvalidConfig, c.WriteTimeout)
	case c.MaxConnections < 0:
		return fmt.Errorf("%w: max connections must not be negative", ErrInvalidConfig)
	case c.MaxLinesPerSec < 0:
		return fmt.Errorf("%w: max lines per second must not be negative", ErrInvalidConfig)
	case c.MaxLinesPerSec > 0 && c.LineBurst <= 0:
		return fmt.Errorf("%w: line burst must be positive when rate limiting", ErrInvalidConfig)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	return zerolog.ParseLevel(c.LogLevel)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
