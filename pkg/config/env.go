package config

const (
	EnvPrefix = "RXD"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	FlowPharmacy = "pharmacy"
	FlowDirect   = "direct"

	DuplicateAllow  = "allow"
	DuplicateDedupe = "dedupe"
	DuplicateReject = "reject"
)

const (
	EnvAppEnv                  = "RXD_APP_ENV"
	EnvPort                    = "RXD_APP_PORT"
	EnvDBDSN                   = "RXD_DB_DSN"
	EnvDBDriver                = "RXD_DB_DRIVER"
	EnvDBHost                  = "RXD_DB_HOST"
	EnvDBUser                  = "RXD_DB_USER"
	EnvDBName                  = "RXD_DB_NAME"
	EnvRedisURL                = "RXD_REDIS_URL"
	EnvJWTSecret               = "RXD_JWT_SECRET"
	EnvJWTIssuer               = "RXD_JWT_ISSUER"
	EnvJWTExpMins              = "RXD_JWT_EXPIRATION_MINUTES"
	EnvRefreshTokenTTLMinutes  = "RXD_REFRESH_TOKEN_TTL_MINUTES"
	EnvFulfillmentFlow         = "RXD_FULFILLMENT_FLOW"
	EnvDuplicateResponsePolicy = "RXD_DUPLICATE_RESPONSE_POLICY"
	EnvGCSBucket               = "RXD_GCS_BUCKET_NAME"
	EnvRxNormBaseURL           = "RXD_RXNORM_BASE_URL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
