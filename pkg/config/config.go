package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvPrefix namespaces every environment variable this service reads.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	PayPal       PayPalConfig
	Refresh      RefreshConfig
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
	Env          string `envconfig:"BILLINGSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"BILLINGSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"BILLINGSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BILLINGSYNC_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"BILLINGSYNC_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"BILLINGSYNC_DB_DSN"`
	Driver string `envconfig:"BILLINGSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BILLINGSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"BILLINGSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BILLINGSYNC_DB_USER"`
	LegacyPassword string `envconfig:"BILLINGSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"BILLINGSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"BILLINGSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BILLINGSYNC_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BILLINGSYNC_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BILLINGSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BILLINGSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// ensureDSN assembles a Postgres DSN from the discrete parts when BILLINGSYNC_DB_DSN
// is not provided directly.
func (d *DBConfig) ensureDSN() error {
	if strings.TrimSpace(d.DSN) != "" {
		return nil
	}
	if d.LegacyHost == "" || d.LegacyUser == "" || d.LegacyName == "" {
		return fmt.Errorf("database config incomplete: set BILLINGSYNC_DB_DSN or host/user/name parts")
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.LegacyUser, d.LegacyPassword),
		Host:   fmt.Sprintf("%s:%d", d.LegacyHost, d.LegacyPort),
		Path:   d.LegacyName,
	}
	q := u.Query()
	q.Set("sslmode", d.LegacySSLMode)
	u.RawQuery = q.Encode()
	d.DSN = u.String()
	return nil
}

type RedisConfig struct {
	URL          string        `envconfig:"BILLINGSYNC_REDIS_URL"`
	Address      string        `envconfig:"BILLINGSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"BILLINGSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"BILLINGSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BILLINGSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BILLINGSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BILLINGSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BILLINGSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BILLINGSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret            string `envconfig:"BILLINGSYNC_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"BILLINGSYNC_JWT_ISSUER" default:"billing-sync"`
	ExpirationMinutes int    `envconfig:"BILLINGSYNC_JWT_EXPIRATION_MINUTES" default:"60"`
}

// PayPalConfig carries credentials for both backend protocols. The legacy
// recurring-profile API authenticates with NVP API credentials; the REST
// subscriptions API uses an OAuth client id/secret pair.
type PayPalConfig struct {
	Environment string `envconfig:"BILLINGSYNC_PAYPAL_ENV" default:"sandbox"`

	NVPUser      string `envconfig:"BILLINGSYNC_PAYPAL_NVP_USER"`
	NVPPassword  string `envconfig:"BILLINGSYNC_PAYPAL_NVP_PASSWORD"`
	NVPSignature string `envconfig:"BILLINGSYNC_PAYPAL_NVP_SIGNATURE"`

	RESTClientID string `envconfig:"BILLINGSYNC_PAYPAL_REST_CLIENT_ID"`
	RESTSecret   string `envconfig:"BILLINGSYNC_PAYPAL_REST_SECRET"`

	CallTimeout time.Duration `envconfig:"BILLINGSYNC_PAYPAL_CALL_TIMEOUT" default:"20s"`
}

// HasNVP reports whether legacy gateway credentials are configured.
func (p PayPalConfig) HasNVP() bool {
	return p.NVPUser != "" && p.NVPPassword != "" && p.NVPSignature != ""
}

// HasREST reports whether REST gateway credentials are configured.
func (p PayPalConfig) HasREST() bool {
	return p.RESTClientID != "" && p.RESTSecret != ""
}

type RefreshConfig struct {
	CacheTTL        time.Duration `envconfig:"BILLINGSYNC_REFRESH_CACHE_TTL" default:"300s"`
	RetryInterval   time.Duration `envconfig:"BILLINGSYNC_REFRESH_RETRY_INTERVAL" default:"300s"`
	LockLease       time.Duration `envconfig:"BILLINGSYNC_REFRESH_LOCK_LEASE" default:"15m"`
	MaxAttempts     int           `envconfig:"BILLINGSYNC_REFRESH_MAX_ATTEMPTS" default:"10"`
	MaxJobs         int           `envconfig:"BILLINGSYNC_REFRESH_MAX_JOBS" default:"50"`
	BatchCap        int           `envconfig:"BILLINGSYNC_REFRESH_BATCH_CAP" default:"10"`
	SingletonLock   bool          `envconfig:"BILLINGSYNC_REFRESH_SINGLETON_LOCK" default:"false"`
	SingletonExpiry time.Duration `envconfig:"BILLINGSYNC_REFRESH_SINGLETON_EXPIRY" default:"30m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BILLINGSYNC_FEATURE_AUTO_MIGRATE" default:"false"`
}
