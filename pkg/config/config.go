package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App           AppConfig
	DB            DBConfig
	Redis         RedisConfig
	JWT           JWTConfig
	Password      PasswordConfig
	AuthRateLimit AuthRateLimitConfig
	FeatureFlags  FeatureFlagsConfig
	Lifecycle     LifecycleConfig
	Medicines     MedicinesConfig
	Realtime      RealtimeConfig
	GCP           GCPConfig
	GCS           GCSConfig
	Media         MediaConfig
	PubSub        PubSubConfig
	Outbox        OutboxConfig
	Cron          CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Lifecycle.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RXD_APP_ENV" required:"true"`
	Port         string `envconfig:"RXD_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RXD_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RXD_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"RXD_DB_DSN"`
	Driver string `envconfig:"RXD_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RXD_DB_HOST"`
	LegacyPort     int    `envconfig:"RXD_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RXD_DB_USER"`
	LegacyPassword string `envconfig:"RXD_DB_PASSWORD"`
	LegacyName     string `envconfig:"RXD_DB_NAME"`
	LegacySSLMode  string `envconfig:"RXD_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RXD_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RXD_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RXD_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RXD_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"RXD_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the service runs against a local sqlite file.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(db.Driver, DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"RXD_REDIS_URL" required:"true"`
	Address      string        `envconfig:"RXD_REDIS_ADDR"`
	Password     string        `envconfig:"RXD_REDIS_PASSWORD"`
	DB           int           `envconfig:"RXD_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RXD_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RXD_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RXD_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RXD_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RXD_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type JWTConfig struct {
	Secret                 string `envconfig:"RXD_JWT_SECRET" required:"true"`
	Issuer                 string `envconfig:"RXD_JWT_ISSUER" required:"true"`
	ExpirationMinutes      int    `envconfig:"RXD_JWT_EXPIRATION_MINUTES" required:"true"`
	RefreshTokenTTLMinutes int    `envconfig:"RXD_REFRESH_TOKEN_TTL_MINUTES" default:"43200"`
}

// RefreshTokenTTL returns the refresh token TTL configured in minutes.
func (j JWTConfig) RefreshTokenTTL() time.Duration {
	if j.RefreshTokenTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(j.RefreshTokenTTLMinutes) * time.Minute
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"RXD_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"RXD_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"RXD_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"RXD_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"RXD_ARGON_KEY_LEN" default:"32"`
}

type AuthRateLimitConfig struct {
	LoginWindow        time.Duration `envconfig:"RXD_AUTH_RATE_LIMIT_LOGIN_WINDOW" default:"1m"`
	LoginEmailLimit    int           `envconfig:"RXD_AUTH_RATE_LIMIT_LOGIN_EMAIL_LIMIT" default:"5"`
	LoginIPLimit       int           `envconfig:"RXD_AUTH_RATE_LIMIT_LOGIN_IP_LIMIT" default:"20"`
	RegisterWindow     time.Duration `envconfig:"RXD_AUTH_RATE_LIMIT_REGISTER_WINDOW" default:"5m"`
	RegisterEmailLimit int           `envconfig:"RXD_AUTH_RATE_LIMIT_REGISTER_EMAIL_LIMIT" default:"3"`
	RegisterIPLimit    int           `envconfig:"RXD_AUTH_RATE_LIMIT_REGISTER_IP_LIMIT" default:"20"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool   `envconfig:"RXD_AUTO_MIGRATE" default:"false"`
	GCSAccessMode string `envconfig:"RXD_GCS_ACCESS_MODE" default:"public"`
	OutboxEnabled bool   `envconfig:"RXD_OUTBOX_ENABLED" default:"true"`
}

// LifecycleConfig selects the fulfillment path for uploaded prescriptions and the
// policy for repeated pharmacy responses.
type LifecycleConfig struct {
	FulfillmentFlow         string `envconfig:"RXD_FULFILLMENT_FLOW" default:"pharmacy"`
	DuplicateResponsePolicy string `envconfig:"RXD_DUPLICATE_RESPONSE_POLICY" default:"allow"`
}

func (l LifecycleConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.FulfillmentFlow)) {
	case FlowPharmacy, FlowDirect:
	default:
		return fmt.Errorf("%s must be one of %q or %q", EnvFulfillmentFlow, FlowPharmacy, FlowDirect)
	}
	switch strings.ToLower(strings.TrimSpace(l.DuplicateResponsePolicy)) {
	case DuplicateAllow, DuplicateDedupe, DuplicateReject:
	default:
		return fmt.Errorf("%s must be one of allow, dedupe, reject", EnvDuplicateResponsePolicy)
	}
	return nil
}

type MedicinesConfig struct {
	BaseURL  string        `envconfig:"RXD_RXNORM_BASE_URL" default:"https://rxnav.nlm.nih.gov/REST"`
	Timeout  time.Duration `envconfig:"RXD_RXNORM_TIMEOUT" default:"5s"`
	CacheTTL time.Duration `envconfig:"RXD_RXNORM_CACHE_TTL" default:"10m"`
}

type RealtimeConfig struct {
	RedisFanout    bool          `envconfig:"RXD_REALTIME_REDIS_FANOUT" default:"true"`
	Channel        string        `envconfig:"RXD_REALTIME_CHANNEL" default:"rxd:realtime"`
	AllowedOrigins []string      `envconfig:"RXD_REALTIME_ALLOWED_ORIGINS"`
	ClientBuffer   int           `envconfig:"RXD_REALTIME_CLIENT_BUFFER" default:"64"`
	PingInterval   time.Duration `envconfig:"RXD_REALTIME_PING_INTERVAL" default:"30s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RXD_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RXD_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RXD_GOOGLE_APPLICATION_CREDENTIALS"`
}

type GCSConfig struct {
	BucketName    string `envconfig:"RXD_GCS_BUCKET_NAME"`
	PublicBaseURL string `envconfig:"RXD_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
}

type MediaConfig struct {
	MaxUploadMB int `envconfig:"RXD_MAX_UPLOAD_MB" default:"10"`
}

// MaxUploadBytes converts the configured upload ceiling into bytes.
func (m MediaConfig) MaxUploadBytes() int64 {
	if m.MaxUploadMB <= 0 {
		return 10 << 20
	}
	return int64(m.MaxUploadMB) << 20
}

type PubSubConfig struct {
	PrescriptionsTopic string `envconfig:"RXD_PUBSUB_PRESCRIPTIONS_TOPIC" default:"rxd-prescription-events"`
	ModerationTopic    string `envconfig:"RXD_PUBSUB_MODERATION_TOPIC" default:"rxd-moderation-events"`

	NotificationsSubscription string `envconfig:"RXD_PUBSUB_NOTIFICATIONS_SUBSCRIPTION" default:"rxd-notifications"`
}

type OutboxConfig struct {
	BatchSize      int    `envconfig:"RXD_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int    `envconfig:"RXD_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int    `envconfig:"RXD_OUTBOX_MAX_ATTEMPTS" default:"10"`
	MetricsAddr    string `envconfig:"RXD_OUTBOX_METRICS_ADDR" default:":9091"`
}

// CronConfig drives the maintenance worker cadence and retention windows.
type CronConfig struct {
	Interval            time.Duration `envconfig:"RXD_CRON_INTERVAL" default:"1h"`
	OutboxRetentionDays int           `envconfig:"RXD_CRON_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"RXD_CRON_DLQ_RETENTION_DAYS" default:"90"`
	MetricsAddr         string        `envconfig:"RXD_CRON_METRICS_ADDR" default:":9092"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = "rxdispatch.db"
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
