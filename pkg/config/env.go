package config

const EnvPrefix = "LIBRARY"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

const (
	EnvAppEnv   = "LIBRARY_APP_ENV"
	EnvPort     = "LIBRARY_APP_PORT"
	EnvLogLevel = "LIBRARY_LOG_LEVEL"

	EnvDBDSN     = "LIBRARY_DB_DSN"
	EnvDBHost    = "LIBRARY_DB_HOST"
	EnvDBUser    = "LIBRARY_DB_USER"
	EnvDBName    = "LIBRARY_DB_NAME"
	EnvUseSQLite = "LIBRARY_USE_SQLITE"

	EnvRedisURL = "LIBRARY_REDIS_URL"

	EnvDefaultDailyRate       = "LIBRARY_DEFAULT_DAILY_RATE"
	EnvDefaultReplacementCost = "LIBRARY_DEFAULT_REPLACEMENT_COST"
	EnvLoanPeriod             = "LIBRARY_LOAN_PERIOD"
	EnvMaxActiveLoans         = "LIBRARY_MAX_ACTIVE_LOANS_PER_PATRON"

	EnvLockBackend = "LIBRARY_LOCK_BACKEND"
	EnvLockWait    = "LIBRARY_LOCK_WAIT"

	EnvPubSubCirculationTopic = "LIBRARY_PUBSUB_CIRCULATION_TOPIC"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
