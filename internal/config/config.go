package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is read from the environment, optionally seeded by a .env file
type Config struct {
	Port               int           `env:"PORT,default=8080"`
	Host               string        `env:"HOST"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	StoreDriver        string        `env:"STORE_DRIVER,default=postgres"`
	DBMaxConns         int           `env:"DB_MAX_CONNS,default=10"`
	JWTSecret          string        `env:"JWT_SECRET,required=true"`
	LogLevel           string        `env:"LOG_LEVEL,default=INFO"`
	CORSOrigins        string        `env:"CORS_ORIGINS,default=http://localhost:3000"`
	RedisURL           string        `env:"REDIS_URL"`
	RedisChannelPrefix string        `env:"REDIS_CHANNEL_PREFIX,default=chatroom"`
	MaxMessageLength   int           `env:"MAX_MESSAGE_LENGTH,default=5000"`
	DefaultPageLimit   int           `env:"DEFAULT_PAGE_LIMIT,default=50"`
	MaxPageLimit       int           `env:"MAX_PAGE_LIMIT,default=100"`
	PublishTimeout     time.Duration `env:"PUBLISH_TIMEOUT,default=3s"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	RateLimitMax       int           `env:"RATE_LIMIT_MAX,default=120"`
	RateLimitWindow    time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
	SeedUsers          string        `env:"SEED_USERS"` // id:username pairs for the memory store
}

// Load reads .env when present, then the process environment.
// The returned bool reports whether a .env file was found.
func Load() (Config, bool, error) {
	found := godotenv.Load() == nil

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, found, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, found, err
	}
	return cfg, found, nil
}

// Validate checks combinations the tags cannot express
func (c Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET must not be empty"))
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("MAX_MESSAGE_LENGTH must be positive"))
	}
	if c.DefaultPageLimit <= 0 || c.MaxPageLimit < c.DefaultPageLimit {
		errs = append(errs, errors.New("page limits must satisfy 0 < DEFAULT_PAGE_LIMIT <= MAX_PAGE_LIMIT"))
	}
	return errors.Join(errs...)
}

// Address is the listen address
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits CORS_ORIGINS into trimmed entries
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Users parses SEED_USERS ("u1:alice,u2:bob") into id to username pairs.
// An entry without a username uses the id.
func (c Config) Users() map[string]string {
	users := map[string]string{}
	for _, entry := range strings.Split(c.SeedUsers, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, name, ok := strings.Cut(entry, ":")
		if !ok || name == "" {
			name = id
		}
		users[id] = name
	}
	return users
}
