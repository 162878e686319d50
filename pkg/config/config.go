package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQL    = "sql"

	BrokerNone   = "none"
	BrokerPubSub = "pubsub"
	BrokerRedis  = "redis"

	TokenSourceEnv     = "env"
	TokenSourceKeyring = "keyring"

	SoundPlayerBell    = "bell"
	SoundPlayerCommand = "command"
	SoundPlayerNone    = "none"
)

// Env var names referenced outside struct tags.
const (
	EnvAppEnv      = "RECLAMFLOW_APP_ENV"
	EnvPort        = "RECLAMFLOW_APP_PORT"
	EnvAPIBaseURL  = "RECLAMFLOW_API_BASE_URL"
	EnvStoreDriver = "RECLAMFLOW_FEED_STORE"
	EnvBroker      = "RECLAMFLOW_FEED_BROKER"
	EnvRedisURL    = "RECLAMFLOW_REDIS_URL"
	EnvDBDSN       = "RECLAMFLOW_DB_DSN"
	EnvGCPProject  = "RECLAMFLOW_GCP_PROJECT_ID"
	EnvTicketSub   = "RECLAMFLOW_PUBSUB_TICKET_SUBSCRIPTION"
)

type Config struct {
	App    AppConfig
	Feed   FeedConfig
	Toast  ToastConfig
	Sound  SoundConfig
	Token  TokenConfig
	JWT    JWTConfig
	Redis  RedisConfig
	DB     DBConfig
	GCP    GCPConfig
	PubSub PubSubConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RECLAMFLOW_APP_ENV" required:"true"`
	Port         string `envconfig:"RECLAMFLOW_APP_PORT" default:"8090"`
	LogLevel     string `envconfig:"RECLAMFLOW_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"RECLAMFLOW_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"RECLAMFLOW_LOG_WARN_STACK" default:"false"`

	// CORSOrigins lists the dashboard origins allowed to call the API.
	CORSOrigins []string `envconfig:"RECLAMFLOW_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type FeedConfig struct {
	APIBaseURL     string        `envconfig:"RECLAMFLOW_API_BASE_URL" required:"true"`
	PollInterval   time.Duration `envconfig:"RECLAMFLOW_FEED_POLL_INTERVAL" default:"30s"`
	RequestTimeout time.Duration `envconfig:"RECLAMFLOW_FEED_REQUEST_TIMEOUT" default:"10s"`
	MaxBodyBytes   int64         `envconfig:"RECLAMFLOW_FEED_MAX_BODY_BYTES" default:"4194304"`
	CatalogueFile  string        `envconfig:"RECLAMFLOW_FEED_CATALOGUE_FILE"`
	StoreDriver    string        `envconfig:"RECLAMFLOW_FEED_STORE" default:"memory"`
	Broker         string        `envconfig:"RECLAMFLOW_FEED_BROKER" default:"none"`
	TicketTopic    string        `envconfig:"RECLAMFLOW_FEED_TICKET_TOPIC" default:"reclamations.status"`
	PollLock       bool          `envconfig:"RECLAMFLOW_FEED_POLL_LOCK" default:"false"`
	PollLockTTL    time.Duration `envconfig:"RECLAMFLOW_FEED_POLL_LOCK_TTL" default:"25s"`

	// Reconnect re-subscribes to the broker with exponential backoff after a
	// transport error. Off by default: a failed subscription leaves the feed
	// on polling alone.
	Reconnect         bool          `envconfig:"RECLAMFLOW_FEED_RECONNECT" default:"false"`
	ReconnectInitial  time.Duration `envconfig:"RECLAMFLOW_FEED_RECONNECT_INITIAL" default:"1s"`
	ReconnectMax      time.Duration `envconfig:"RECLAMFLOW_FEED_RECONNECT_MAX" default:"1m"`
	ReconnectAttempts int           `envconfig:"RECLAMFLOW_FEED_RECONNECT_ATTEMPTS" default:"0"`
}

type ToastConfig struct {
	Limit    int           `envconfig:"RECLAMFLOW_TOAST_LIMIT" default:"3"`
	Duration time.Duration `envconfig:"RECLAMFLOW_TOAST_DURATION" default:"6s"`
}

type SoundConfig struct {
	Player  string `envconfig:"RECLAMFLOW_SOUND_PLAYER" default:"bell"`
	Command string `envconfig:"RECLAMFLOW_SOUND_COMMAND"`
}

type TokenConfig struct {
	Source     string `envconfig:"RECLAMFLOW_TOKEN_SOURCE" default:"env"`
	Value      string `envconfig:"RECLAMFLOW_ACCESS_TOKEN"`
	KeyringDir string `envconfig:"RECLAMFLOW_KEYRING_DIR"`
}

// JWTConfig is optional: without a secret the access token is decoded but not verified.
type JWTConfig struct {
	Secret string `envconfig:"RECLAMFLOW_JWT_SECRET"`
	Issuer string `envconfig:"RECLAMFLOW_JWT_ISSUER"`
}

type RedisConfig struct {
	URL          string        `envconfig:"RECLAMFLOW_REDIS_URL"`
	Address      string        `envconfig:"RECLAMFLOW_REDIS_ADDR"`
	Password     string        `envconfig:"RECLAMFLOW_REDIS_PASSWORD"`
	DB           int           `envconfig:"RECLAMFLOW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RECLAMFLOW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RECLAMFLOW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RECLAMFLOW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RECLAMFLOW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RECLAMFLOW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type DBConfig struct {
	DSN    string `envconfig:"RECLAMFLOW_DB_DSN"`
	Driver string `envconfig:"RECLAMFLOW_DB_DRIVER" default:"postgres"`

	MaxOpenConns    int           `envconfig:"RECLAMFLOW_DB_MAX_OPEN_CONNS" default:"5"`
	MaxIdleConns    int           `envconfig:"RECLAMFLOW_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"RECLAMFLOW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RECLAMFLOW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	AutoMigrate     bool          `envconfig:"RECLAMFLOW_DB_AUTO_MIGRATE" default:"true"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"RECLAMFLOW_GCP_PROJECT_ID"`
	CredentialsJSON string `envconfig:"RECLAMFLOW_GCP_CREDENTIALS_JSON"`
	// EmulatorHost points the Pub/Sub client at a local emulator.
	EmulatorHost string `envconfig:"PUBSUB_EMULATOR_HOST"`
}

type PubSubConfig struct {
	TicketSubscription string `envconfig:"RECLAMFLOW_PUBSUB_TICKET_SUBSCRIPTION"`
}

func (c *Config) validate() error {
	switch strings.ToLower(c.Feed.StoreDriver) {
	case StoreMemory:
	case StoreRedis:
		if err := c.Redis.requireAddress(EnvStoreDriver); err != nil {
			return err
		}
	case StoreSQL:
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvStoreDriver, StoreSQL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvStoreDriver, c.Feed.StoreDriver)
	}

	switch strings.ToLower(c.Feed.Broker) {
	case BrokerNone:
	case BrokerRedis:
		if err := c.Redis.requireAddress(EnvBroker); err != nil {
			return err
		}
	case BrokerPubSub:
		if strings.TrimSpace(c.GCP.ProjectID) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvGCPProject, EnvBroker, BrokerPubSub)
		}
		if strings.TrimSpace(c.PubSub.TicketSubscription) == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvTicketSub, EnvBroker, BrokerPubSub)
		}
	default:
		return fmt.Errorf("unsupported %s %q", EnvBroker, c.Feed.Broker)
	}

	switch strings.ToLower(c.Token.Source) {
	case TokenSourceEnv, TokenSourceKeyring:
	default:
		return fmt.Errorf("unsupported RECLAMFLOW_TOKEN_SOURCE %q", c.Token.Source)
	}

	switch strings.ToLower(c.Sound.Player) {
	case SoundPlayerBell, SoundPlayerNone:
	case SoundPlayerCommand:
		if strings.TrimSpace(c.Sound.Command) == "" {
			return fmt.Errorf("RECLAMFLOW_SOUND_COMMAND is required when RECLAMFLOW_SOUND_PLAYER=%s", SoundPlayerCommand)
		}
	default:
		return fmt.Errorf("unsupported RECLAMFLOW_SOUND_PLAYER %q", c.Sound.Player)
	}

	if c.Feed.PollLock && !strings.EqualFold(c.Feed.StoreDriver, StoreRedis) {
		return fmt.Errorf("poll lock requires %s=%s", EnvStoreDriver, StoreRedis)
	}
	if c.Feed.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Toast.Limit <= 0 {
		return fmt.Errorf("toast limit must be positive")
	}
	if c.Toast.Duration <= 0 {
		return fmt.Errorf("toast duration must be positive")
	}
	return nil
}

func (r RedisConfig) requireAddress(reason string) error {
	if strings.TrimSpace(r.URL) == "" && strings.TrimSpace(r.Address) == "" {
		return fmt.Errorf("%s or RECLAMFLOW_REDIS_ADDR is required by %s", EnvRedisURL, reason)
	}
	return nil
}
