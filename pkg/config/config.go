package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Circulation  CirculationConfig
	Concurrency  ConcurrencyConfig
	HTTP         HTTPConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if !cfg.FeatureFlags.UseSQLite {
		if err := cfg.DB.ensureDSN(); err != nil {
			return nil, err
		}
	}
	if err := cfg.Circulation.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LIBRARY_APP_ENV" required:"true"`
	Port         string `envconfig:"LIBRARY_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"LIBRARY_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LIBRARY_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LIBRARY_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN        string `envconfig:"LIBRARY_DB_DSN"`
	Driver     string `envconfig:"LIBRARY_DB_DRIVER" default:"postgres"`
	SQLitePath string `envconfig:"LIBRARY_DB_SQLITE_PATH" default:"file:circulation.db?cache=shared"`

	LegacyHost     string `envconfig:"LIBRARY_DB_HOST"`
	LegacyPort     int    `envconfig:"LIBRARY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"LIBRARY_DB_USER"`
	LegacyPassword string `envconfig:"LIBRARY_DB_PASSWORD"`
	LegacyName     string `envconfig:"LIBRARY_DB_NAME"`
	LegacySSLMode  string `envconfig:"LIBRARY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LIBRARY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LIBRARY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LIBRARY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LIBRARY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL            string        `envconfig:"LIBRARY_REDIS_URL"`
	Address        string        `envconfig:"LIBRARY_REDIS_ADDR"`
	Password       string        `envconfig:"LIBRARY_REDIS_PASSWORD"`
	DB             int           `envconfig:"LIBRARY_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"LIBRARY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"LIBRARY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"LIBRARY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"LIBRARY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"LIBRARY_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"LIBRARY_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

// Enabled reports whether a redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"LIBRARY_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"LIBRARY_AUTO_MIGRATE" default:"false"`
}

// CirculationConfig holds the fine and loan policy inputs.
type CirculationConfig struct {
	DefaultDailyRate           decimal.Decimal `envconfig:"LIBRARY_DEFAULT_DAILY_RATE" default:"0.50"`
	DefaultReplacementCost     decimal.Decimal `envconfig:"LIBRARY_DEFAULT_REPLACEMENT_COST" default:"25.00"`
	LoanPeriod                 time.Duration   `envconfig:"LIBRARY_LOAN_PERIOD" default:"336h"`
	MaxActiveLoansPerPatron    int             `envconfig:"LIBRARY_MAX_ACTIVE_LOANS_PER_PATRON" default:"3"`
	LostIncludesAccruedLateFee bool            `envconfig:"LIBRARY_LOST_INCLUDES_LATE_FEE" default:"false"`
}

func (c CirculationConfig) validate() error {
	if c.DefaultDailyRate.IsNegative() {
		return fmt.Errorf("%s must be >= 0", EnvDefaultDailyRate)
	}
	if c.DefaultReplacementCost.IsNegative() {
		return fmt.Errorf("%s must be >= 0", EnvDefaultReplacementCost)
	}
	if c.LoanPeriod <= 0 {
		return fmt.Errorf("%s must be positive", EnvLoanPeriod)
	}
	if c.MaxActiveLoansPerPatron < 0 {
		return fmt.Errorf("%s must be >= 0", EnvMaxActiveLoans)
	}
	return nil
}

type ConcurrencyConfig struct {
	LockBackend        string        `envconfig:"LIBRARY_LOCK_BACKEND" default:"local"`
	LockWait           time.Duration `envconfig:"LIBRARY_LOCK_WAIT" default:"2s"`
	LockTTL            time.Duration `envconfig:"LIBRARY_LOCK_TTL" default:"30s"`
	RetryMaxRetries    uint64        `envconfig:"LIBRARY_RETRY_MAX_RETRIES" default:"3"`
	RetryBaseDelay     time.Duration `envconfig:"LIBRARY_RETRY_BASE_DELAY" default:"25ms"`
	RetryJitterPercent uint64        `envconfig:"LIBRARY_RETRY_JITTER_PERCENT" default:"20"`
}

// UseRedisLocks reports whether per-entity locks are held in redis.
func (c ConcurrencyConfig) UseRedisLocks() bool {
	return strings.EqualFold(strings.TrimSpace(c.LockBackend), LockBackendRedis)
}

type HTTPConfig struct {
	AllowedOrigins     []string      `envconfig:"LIBRARY_HTTP_ALLOWED_ORIGINS" default:"http://localhost:3000"`
	MutationRatePerSec float64       `envconfig:"LIBRARY_HTTP_MUTATION_RATE" default:"50"`
	MutationBurst      int           `envconfig:"LIBRARY_HTTP_MUTATION_BURST" default:"100"`
	StaffLimit         int64         `envconfig:"LIBRARY_HTTP_STAFF_LIMIT" default:"120"`
	StaffWindow        time.Duration `envconfig:"LIBRARY_HTTP_STAFF_WINDOW" default:"1m"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LIBRARY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LIBRARY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LIBRARY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	CirculationTopic        string `envconfig:"LIBRARY_PUBSUB_CIRCULATION_TOPIC" default:"circulation-events"`
	CirculationSubscription string `envconfig:"LIBRARY_PUBSUB_CIRCULATION_SUBSCRIPTION"`
}

type OutboxConfig struct {
	BatchSize      int           `envconfig:"LIBRARY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int           `envconfig:"LIBRARY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int           `envconfig:"LIBRARY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	Retention      time.Duration `envconfig:"LIBRARY_OUTBOX_RETENTION" default:"720h"`
}

type CronConfig struct {
	Interval         time.Duration `envconfig:"LIBRARY_CRON_INTERVAL" default:"15m"`
	LockTTL          time.Duration `envconfig:"LIBRARY_CRON_LOCK_TTL" default:"10m"`
	OverdueBatchSize int           `envconfig:"LIBRARY_CRON_OVERDUE_BATCH_SIZE" default:"200"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
