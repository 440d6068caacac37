package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix scopes every environment variable consumed by the engine.
	EnvPrefix = "INVENTORY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Reservation  ReservationConfig
	Sweeper      SweeperConfig
	Cache        CacheConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"INVENTORY_APP_ENV" default:"dev"`
	Port         string `envconfig:"INVENTORY_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"INVENTORY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"INVENTORY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN string `envconfig:"INVENTORY_DB_DSN"`

	Host     string `envconfig:"INVENTORY_DB_HOST"`
	Port     int    `envconfig:"INVENTORY_DB_PORT" default:"5432"`
	User     string `envconfig:"INVENTORY_DB_USER"`
	Password string `envconfig:"INVENTORY_DB_PASSWORD"`
	Name     string `envconfig:"INVENTORY_DB_NAME"`
	SSLMode  string `envconfig:"INVENTORY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"INVENTORY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"INVENTORY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"INVENTORY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"INVENTORY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	var missing []string
	for env, value := range map[string]string{
		"INVENTORY_DB_HOST": db.Host,
		"INVENTORY_DB_USER": db.User,
		"INVENTORY_DB_NAME": db.Name,
	} {
		if value == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either INVENTORY_DB_DSN or %s are required", strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:     db.Name,
		RawQuery: url.Values{"sslmode": []string{db.SSLMode}}.Encode(),
	}
	db.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"INVENTORY_REDIS_URL"`
	Address      string        `envconfig:"INVENTORY_REDIS_ADDR"`
	Password     string        `envconfig:"INVENTORY_REDIS_PASSWORD"`
	DB           int           `envconfig:"INVENTORY_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"INVENTORY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"INVENTORY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"INVENTORY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"INVENTORY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"INVENTORY_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// ReservationConfig holds the hold lifetimes and retry policy of the
// reservation manager and deduction service.
type ReservationConfig struct {
	CartTTL     time.Duration `envconfig:"INVENTORY_RESERVATION_CART_TTL" default:"30m"`
	OrderTTL    time.Duration `envconfig:"INVENTORY_RESERVATION_ORDER_TTL" default:"60m"`
	MaxTTL      time.Duration `envconfig:"INVENTORY_RESERVATION_MAX_TTL" default:"24h"`
	MaxAttempts int           `envconfig:"INVENTORY_RESERVATION_MAX_ATTEMPTS" default:"3"`
	RetryDelay  time.Duration `envconfig:"INVENTORY_RESERVATION_RETRY_DELAY" default:"25ms"`
}

// TTLFor returns the configured hold lifetime for a reservation kind,
// falling back to the cart TTL for unknown kinds.
func (r ReservationConfig) TTLFor(kind string) time.Duration {
	if strings.EqualFold(kind, "order") {
		return r.OrderTTL
	}
	return r.CartTTL
}

type SweeperConfig struct {
	Interval    time.Duration `envconfig:"INVENTORY_SWEEP_INTERVAL" default:"60s"`
	BatchSize   int           `envconfig:"INVENTORY_SWEEP_BATCH_SIZE" default:"200"`
	MaxAttempts int           `envconfig:"INVENTORY_SWEEP_MAX_ATTEMPTS" default:"3"`
	LockTTL     time.Duration `envconfig:"INVENTORY_SWEEP_LOCK_TTL" default:"5m"`
}

type CacheConfig struct {
	StockTTL time.Duration `envconfig:"INVENTORY_CACHE_STOCK_TTL" default:"30s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"INVENTORY_AUTO_MIGRATE" default:"false"`
}
