// Package config loads the relay configuration: built-in defaults, then an
// optional YAML file, then environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address        string   `yaml:"address"`
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Storage struct {
		Driver       string `yaml:"driver"` // file|pebble
		MessagesFile string `yaml:"messages_file"`
		PebbleDir    string `yaml:"pebble_dir"`
	} `yaml:"storage"`

	Relay struct {
		SendBuffer    int           `yaml:"send_buffer"`
		MessageRate   int           `yaml:"message_rate"` // 0 disables the limiter
		MessageWindow time.Duration `yaml:"message_window"`
		PingInterval  time.Duration `yaml:"ping_interval"`
		Sanitize      bool          `yaml:"sanitize"`
	} `yaml:"relay"`

	// Client is read by processes that dial the relay.
	Client struct {
		RelayURL string `yaml:"relay_url"`
	} `yaml:"client"`

	NATS struct {
		URL      string `yaml:"url"`
		Cred     string `yaml:"cred"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"nats"`

	Backend struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`

	Webhook struct {
		Secret string `yaml:"secret"`
	} `yaml:"webhook"`

	RateLimit struct {
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text|json
	} `yaml:"logging"`
}

// Default returns the development defaults.
func Default() Config {
	var c Config
	c.Server.Address = "0.0.0.0"
	c.Server.Port = 8080
	c.Server.AllowedOrigins = []string{"*"}

	c.Storage.Driver = "file"
	c.Storage.MessagesFile = "data/messages.json"
	c.Storage.PebbleDir = "data/pebble"

	c.Relay.SendBuffer = 64
	c.Relay.MessageWindow = 10 * time.Second
	c.Relay.PingInterval = 30 * time.Second

	c.Client.RelayURL = "ws://localhost:8080/ws"

	c.Backend.URL = "http://localhost:8000"
	c.Backend.Timeout = 30 * time.Second

	c.RateLimit.Requests = 120
	c.RateLimit.Window = time.Minute

	c.Logging.Level = "info"
	c.Logging.Format = "text"
	return c
}

// Load builds a Config from the defaults, the YAML file at path (skipped when
// path is empty) and the process environment.
func Load(path string) (Config, error) {
	c := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := c.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// ApplyEnv overrides fields from environment variables. Unset variables
// leave the current value alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("RELAY_ADDRESS", &c.Server.Address)
	num("PORT", &c.Server.Port)
	if v := getenv("ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}

	str("STORE_DRIVER", &c.Storage.Driver)
	str("MESSAGES_FILE", &c.Storage.MessagesFile)
	str("PEBBLE_DIR", &c.Storage.PebbleDir)

	num("RELAY_SEND_BUFFER", &c.Relay.SendBuffer)
	num("RELAY_MESSAGE_RATE", &c.Relay.MessageRate)
	dur("RELAY_MESSAGE_WINDOW", &c.Relay.MessageWindow)
	dur("RELAY_PING_INTERVAL", &c.Relay.PingInterval)
	boolean("RELAY_SANITIZE", &c.Relay.Sanitize)

	str("RELAY_URL", &c.Client.RelayURL)

	str("NATS_URL", &c.NATS.URL)
	str("NATS_CRED", &c.NATS.Cred)
	str("NATS_USER", &c.NATS.User)
	str("NATS_PASSWORD", &c.NATS.Password)

	str("FASTAPI_URL", &c.Backend.URL)
	dur("BACKEND_TIMEOUT", &c.Backend.Timeout)

	str("WEBHOOK_SECRET", &c.Webhook.Secret)

	num("RATE_LIMIT_REQUESTS", &c.RateLimit.Requests)
	dur("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	return errors.Join(errs...)
}

// Validate rejects values the relay can't run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Server.Port))
	}
	switch c.Storage.Driver {
	case "file", "pebble":
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Relay.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("relay send buffer must be positive, got %d", c.Relay.SendBuffer))
	}
	if c.Relay.MessageRate > 0 && c.Relay.MessageWindow <= 0 {
		errs = append(errs, errors.New("relay message window must be positive when a message rate is set"))
	}
	if c.RateLimit.Requests > 0 && c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate limit window must be positive when requests are set"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// Addr returns host:port for the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
