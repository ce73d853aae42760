package config

import (
	"fmt"
	"os"
	"time"

	"country-stats/internal/country"
	apperrors "country-stats/internal/errors"
	"country-stats/internal/logging"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const DefaultUpstreamURL = "https://restcountries.com/v3.1/all?fields=name,population,region,subregion,currencies,capital,cca3,flag"

// Config holds all configuration parameters
type Config struct {
	File string `short:"c" long:"config" env:"CSX_CONFIG" yaml:"-" description:"YAML configuration file; flags and environment override it"`

	Server    ServerConfig    `group:"server" namespace:"server" env-namespace:"CSX_SERVER" yaml:"server"`
	Upstream  UpstreamConfig  `group:"upstream" namespace:"upstream" env-namespace:"CSX_UPSTREAM" yaml:"upstream"`
	Cache     CacheConfig     `group:"cache" namespace:"cache" env-namespace:"CSX_CACHE" yaml:"cache"`
	RateLimit RateLimitConfig `group:"ratelimit" namespace:"ratelimit" env-namespace:"CSX_RATE" yaml:"ratelimit"`
	Live      LiveConfig      `group:"live" namespace:"live" env-namespace:"CSX_LIVE" yaml:"live"`
	Search    SearchConfig    `group:"search" namespace:"search" env-namespace:"CSX_SEARCH" yaml:"search"`
	Logging   logging.Options `group:"logging" namespace:"log" env-namespace:"CSX_LOG" yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `long:"host" env:"HOST" yaml:"host" description:"Address to bind to"`
	Port            int           `short:"p" long:"port" env:"PORT" yaml:"port" description:"Port for the web UI" default:"8080"`
	ReadTimeout     time.Duration `long:"read-timeout" env:"READ_TIMEOUT" yaml:"read_timeout" description:"HTTP read timeout" default:"30s"`
	WriteTimeout    time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" yaml:"write_timeout" description:"HTTP write timeout" default:"30s"`
	IdleTimeout     time.Duration `long:"idle-timeout" env:"IDLE_TIMEOUT" yaml:"idle_timeout" description:"HTTP idle timeout" default:"120s"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout" description:"Graceful shutdown timeout" default:"15s"`
	MaxHeaderSize   int           `long:"max-header-size" env:"MAX_HEADER_SIZE" yaml:"max_header_size" description:"Maximum HTTP header size" default:"8192"`
}

type UpstreamConfig struct {
	URL        string        `long:"url" env:"URL" yaml:"url" description:"Country dataset endpoint" default:"https://restcountries.com/v3.1/all?fields=name,population,region,subregion,currencies,capital,cca3,flag"`
	Timeout    time.Duration `long:"timeout" env:"TIMEOUT" yaml:"timeout" description:"Timeout for a single fetch attempt" default:"30s"`
	MaxRetries int           `long:"max-retries" env:"MAX_RETRIES" yaml:"max_retries" description:"Retries after a transient failure" default:"3"`
	BackoffMin time.Duration `long:"backoff-min" env:"BACKOFF_MIN" yaml:"backoff_min" description:"First retry delay" default:"500ms"`
	BackoffMax time.Duration `long:"backoff-max" env:"BACKOFF_MAX" yaml:"backoff_max" description:"Maximum retry delay" default:"10s"`
	RPS        float64       `long:"rps" env:"RPS" yaml:"rps" description:"Maximum fetches per second" default:"1"`
	Burst      int           `long:"burst" env:"BURST" yaml:"burst" description:"Fetch burst capacity" default:"1"`
}

type CacheConfig struct {
	TTL      time.Duration `long:"ttl" env:"TTL" yaml:"ttl" description:"Refetch the dataset after this long (0 keeps it for the life of the process)" default:"0s"`
	NoWarmup bool          `long:"no-warmup" env:"NO_WARMUP" yaml:"no_warmup" description:"Do not fetch the dataset at startup"`
}

type RateLimitConfig struct {
	Enabled     bool          `long:"enabled" env:"ENABLED" yaml:"enabled" description:"Enable per-client rate limiting"`
	ClientRPS   float64       `long:"client-rps" env:"CLIENT_RPS" yaml:"client_rps" description:"Requests per second per client" default:"5"`
	ClientBurst int           `long:"client-burst" env:"CLIENT_BURST" yaml:"client_burst" description:"Burst capacity per client" default:"20"`
	IdleTTL     time.Duration `long:"idle-ttl" env:"IDLE_TTL" yaml:"idle_ttl" description:"Forget clients idle for this long" default:"10m"`
	TrustProxy  bool          `long:"trust-proxy" env:"TRUST_PROXY" yaml:"trust_proxy" description:"Key clients by X-Forwarded-For; only behind a proxy that sets it"`
}

type LiveConfig struct {
	PingInterval   time.Duration `long:"ping-interval" env:"PING_INTERVAL" yaml:"ping_interval" description:"WebSocket ping interval" default:"30s"`
	PongTimeout    time.Duration `long:"pong-timeout" env:"PONG_TIMEOUT" yaml:"pong_timeout" description:"WebSocket pong timeout" default:"60s"`
	WriteTimeout   time.Duration `long:"write-timeout" env:"WRITE_TIMEOUT" yaml:"write_timeout" description:"WebSocket write timeout" default:"10s"`
	MaxMessageSize int64         `long:"max-message-size" env:"MAX_MESSAGE_SIZE" yaml:"max_message_size" description:"Largest search message accepted, in bytes" default:"1024"`
}

type SearchConfig struct {
	DefaultField string `long:"default-field" env:"DEFAULT_FIELD" yaml:"default_field" description:"Name field preselected in the UI (common, official)" default:"common"`
}

func newParser(cfg *Config) *flags.Parser {
	return flags.NewParser(cfg, flags.IgnoreUnknown|flags.PassDoubleDash)
}

// Load resolves configuration from defaults, the optional YAML file, the
// environment and args, later sources winning. Arguments not known to
// Config are ignored so that command flags can share the same argv.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	parser := newParser(cfg)

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if cfg.File != "" {
		if err := cfg.loadFile(cfg.File); err != nil {
			return nil, err
		}

		// Parse again without defaults so only env and args overwrite the file.
		clearDefaults(parser.Command.Group)
		if _, err := parser.ParseArgs(args); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidConfiguration, err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.New(apperrors.ErrTypeConfig, "failed to read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.New(apperrors.ErrTypeConfig, "failed to decode config file "+path, err)
	}
	log.WithField("file", path).Debug("Configuration file loaded")
	return nil
}

func clearDefaults(g *flags.Group) {
	for _, opt := range g.Options() {
		opt.Default = nil
	}
	for _, sub := range g.Groups() {
		clearDefaults(sub)
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream url is required")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("invalid upstream timeout: %s", c.Upstream.Timeout)
	}
	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("invalid upstream max retries: %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.RPS <= 0 || c.Upstream.Burst <= 0 {
		return fmt.Errorf("upstream rate must be positive")
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("invalid cache ttl: %s", c.Cache.TTL)
	}

	if c.RateLimit.Enabled && (c.RateLimit.ClientRPS <= 0 || c.RateLimit.ClientBurst <= 0) {
		return fmt.Errorf("client rate limit must be positive")
	}

	if _, err := country.ParseNameField(c.Search.DefaultField); err != nil {
		return err
	}

	return c.Logging.Validate()
}

// SetupLogging applies the logging options to the standard logger. The
// returned func closes the log file, if one was opened.
func (c *Config) SetupLogging() (func() error, error) {
	return logging.Setup(log.StandardLogger(), c.Logging)
}

// DefaultField returns the parsed default name field.
func (c *Config) DefaultField() country.NameField {
	f, err := country.ParseNameField(c.Search.DefaultField)
	if err != nil {
		return country.Common
	}
	return f
}

// Address returns the listen address of the web UI.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
