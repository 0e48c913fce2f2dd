package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBSchema         string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	UpstreamBaseURL       string
	UpstreamAPIKey        string
	UpstreamListTimeout   int
	UpstreamDetailTimeout int
	UpstreamInsecureTLS   bool

	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LastUpdateTTL   int
	SyncLockTTLSec  int
	SyncLockEnabled bool

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	SyncIntervalHours int
	SyncLookbackHours int

	KafkaBrokers  []string
	KafkaClientID string
	KafkaRetryMax int
	KafkaWriteMS  int
	EventsEnabled bool

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	cfg := Config{
		Env:                   strings.TrimSpace(os.Getenv("ENV")),
		ServiceName:           serviceNameDefault,
		HTTPPort:              httpPortDefault,
		LogLevel:              "info",
		RequestTimeoutMS:      30000,
		OIDCIssuer:            strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:          strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:           strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:        300,
		JWTClockSkewSec:       60,
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBSchema:              "shrc",
		DBMaxConns:            10,
		DBMinConns:            1,
		DBConnMaxIdleSec:      300,
		DBConnMaxLifeSec:      1800,
		UpstreamBaseURL:       "https://api.m1ucs.com",
		UpstreamAPIKey:        strings.TrimSpace(os.Getenv("UPSTREAM_API_KEY")),
		UpstreamListTimeout:   60,
		UpstreamDetailTimeout: 120,
		UpstreamInsecureTLS:   false,
		RedisAddr:             strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               0,
		LastUpdateTTL:         30,
		SyncLockTTLSec:        3600,
		SyncLockEnabled:       true,
		AsynqRedisAddr:        strings.TrimSpace(os.Getenv("ASYNQ_REDIS_ADDR")),
		AsynqRedisPass:        os.Getenv("ASYNQ_REDIS_PASSWORD"),
		AsynqRedisDB:          0,
		AsynqQueue:            "telemetry",
		AsynqConcurrency:      4,
		SyncIntervalHours:     3,
		SyncLookbackHours:     3,
		KafkaBrokers:          nil,
		KafkaClientID:         "",
		KafkaRetryMax:         5,
		KafkaWriteMS:          5000,
		EventsEnabled:         false,
		InfluxURL:             strings.TrimSpace(os.Getenv("INFLUX_URL")),
		InfluxToken:           strings.TrimSpace(os.Getenv("INFLUX_TOKEN")),
		InfluxOrg:             strings.TrimSpace(os.Getenv("INFLUX_ORG")),
		InfluxBucket:          strings.TrimSpace(os.Getenv("INFLUX_BUCKET")),
		InfluxTimeoutMS:       5000,
		OtelEnabled:           false,
		OtelEndpoint:          strings.TrimSpace(os.Getenv("OTEL_ENDPOINT")),
		OtelInsecure:          true,
		OtelSampleRatio:       1.0,
	}

	problems := make([]Problem, 0, 4)
	applyEnv(&cfg, &problems)

	if cfg.OIDCIssuer != "" && cfg.OIDCJWKSURL == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	if cfg.RequestTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "REQUEST_TIMEOUT_MS", Message: "REQUEST_TIMEOUT_MS must be > 0"})
		cfg.RequestTimeoutMS = 30000
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	if cfg.JWKSTTLSeconds <= 0 {
		problems = append(problems, Problem{Field: "JWKS_CACHE_TTL_SECONDS", Message: "JWKS_CACHE_TTL_SECONDS must be > 0"})
		cfg.JWKSTTLSeconds = 300
	}
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	if cfg.DBSchema == "" {
		problems = append(problems, Problem{Field: "DB_SCHEMA", Message: "DB_SCHEMA must not be empty"})
		cfg.DBSchema = "shrc"
	}
	if cfg.DBMaxConns <= 0 {
		problems = append(problems, Problem{Field: "DB_MAX_CONNS", Message: "DB_MAX_CONNS must be > 0"})
		cfg.DBMaxConns = 10
	}
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	if cfg.DBConnMaxIdleSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_IDLE_SECONDS", Message: "DB_CONN_MAX_IDLE_SECONDS must be > 0"})
		cfg.DBConnMaxIdleSec = 300
	}
	if cfg.DBConnMaxLifeSec <= 0 {
		problems = append(problems, Problem{Field: "DB_CONN_MAX_LIFETIME_SECONDS", Message: "DB_CONN_MAX_LIFETIME_SECONDS must be > 0"})
		cfg.DBConnMaxLifeSec = 1800
	}
	if cfg.UpstreamBaseURL == "" {
		problems = append(problems, Problem{Field: "UPSTREAM_BASE_URL", Message: "UPSTREAM_BASE_URL must not be empty"})
		cfg.UpstreamBaseURL = "https://api.m1ucs.com"
	}
	if cfg.UpstreamListTimeout <= 0 {
		problems = append(problems, Problem{Field: "UPSTREAM_LIST_TIMEOUT_SECONDS", Message: "UPSTREAM_LIST_TIMEOUT_SECONDS must be > 0"})
		cfg.UpstreamListTimeout = 60
	}
	if cfg.UpstreamDetailTimeout <= 0 {
		problems = append(problems, Problem{Field: "UPSTREAM_DETAIL_TIMEOUT_SECONDS", Message: "UPSTREAM_DETAIL_TIMEOUT_SECONDS must be > 0"})
		cfg.UpstreamDetailTimeout = 120
	}
	if cfg.RedisDB < 0 {
		problems = append(problems, Problem{Field: "REDIS_DB", Message: "REDIS_DB must be >= 0"})
		cfg.RedisDB = 0
	}
	if cfg.LastUpdateTTL < 0 {
		problems = append(problems, Problem{Field: "LAST_UPDATE_CACHE_TTL_SECONDS", Message: "LAST_UPDATE_CACHE_TTL_SECONDS must be >= 0"})
		cfg.LastUpdateTTL = 30
	}
	if cfg.SyncLockTTLSec <= 0 {
		problems = append(problems, Problem{Field: "SYNC_LOCK_TTL_SECONDS", Message: "SYNC_LOCK_TTL_SECONDS must be > 0"})
		cfg.SyncLockTTLSec = 3600
	}
	if cfg.AsynqRedisDB < 0 {
		problems = append(problems, Problem{Field: "ASYNQ_REDIS_DB", Message: "ASYNQ_REDIS_DB must be >= 0"})
		cfg.AsynqRedisDB = 0
	}
	if cfg.AsynqConcurrency <= 0 {
		problems = append(problems, Problem{Field: "ASYNQ_CONCURRENCY", Message: "ASYNQ_CONCURRENCY must be > 0"})
		cfg.AsynqConcurrency = 4
	}
	if cfg.SyncIntervalHours <= 0 {
		problems = append(problems, Problem{Field: "SYNC_INTERVAL_HOURS", Message: "SYNC_INTERVAL_HOURS must be > 0"})
		cfg.SyncIntervalHours = 3
	}
	if cfg.SyncLookbackHours <= 0 {
		problems = append(problems, Problem{Field: "SYNC_LOOKBACK_HOURS", Message: "SYNC_LOOKBACK_HOURS must be > 0"})
		cfg.SyncLookbackHours = 3
	}
	if cfg.KafkaRetryMax < 0 {
		problems = append(problems, Problem{Field: "KAFKA_RETRY_MAX", Message: "KAFKA_RETRY_MAX must be >= 0"})
		cfg.KafkaRetryMax = 5
	}
	if cfg.KafkaWriteMS <= 0 {
		problems = append(problems, Problem{Field: "KAFKA_WRITE_TIMEOUT_MS", Message: "KAFKA_WRITE_TIMEOUT_MS must be > 0"})
		cfg.KafkaWriteMS = 5000
	}
	if cfg.InfluxTimeoutMS <= 0 {
		problems = append(problems, Problem{Field: "INFLUX_TIMEOUT_MS", Message: "INFLUX_TIMEOUT_MS must be > 0"})
		cfg.InfluxTimeoutMS = 5000
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func applyEnv(cfg *Config, problems *[]Problem) {
	if v := strings.TrimSpace(os.Getenv("SERVICE_NAME")); v != "" {
		cfg.ServiceName = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	applyInt(problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS)
	applyInt(problems, "JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds)
	applyInt(problems, "JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec)
	applyString("DB_SCHEMA", &cfg.DBSchema)
	applyInt(problems, "DB_MAX_CONNS", &cfg.DBMaxConns)
	applyInt(problems, "DB_MIN_CONNS", &cfg.DBMinConns)
	applyInt(problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec)
	applyInt(problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec)
	applyString("UPSTREAM_BASE_URL", &cfg.UpstreamBaseURL)
	applyInt(problems, "UPSTREAM_LIST_TIMEOUT_SECONDS", &cfg.UpstreamListTimeout)
	applyInt(problems, "UPSTREAM_DETAIL_TIMEOUT_SECONDS", &cfg.UpstreamDetailTimeout)
	applyBool(problems, "UPSTREAM_INSECURE_TLS", &cfg.UpstreamInsecureTLS)
	applyInt(problems, "REDIS_DB", &cfg.RedisDB)
	applyInt(problems, "LAST_UPDATE_CACHE_TTL_SECONDS", &cfg.LastUpdateTTL)
	applyInt(problems, "SYNC_LOCK_TTL_SECONDS", &cfg.SyncLockTTLSec)
	applyBool(problems, "SYNC_LOCK_ENABLED", &cfg.SyncLockEnabled)
	applyInt(problems, "ASYNQ_REDIS_DB", &cfg.AsynqRedisDB)
	applyString("ASYNQ_QUEUE", &cfg.AsynqQueue)
	applyInt(problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency)
	applyInt(problems, "SYNC_INTERVAL_HOURS", &cfg.SyncIntervalHours)
	applyInt(problems, "SYNC_LOOKBACK_HOURS", &cfg.SyncLookbackHours)
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	applyString("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	applyInt(problems, "KAFKA_RETRY_MAX", &cfg.KafkaRetryMax)
	applyInt(problems, "KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS)
	applyBool(problems, "EVENTS_ENABLED", &cfg.EventsEnabled)
	applyInt(problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS)
	applyBool(problems, "OTEL_ENABLED", &cfg.OtelEnabled)
	applyBool(problems, "OTEL_INSECURE", &cfg.OtelInsecure)
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		} else {
			cfg.OtelSampleRatio = f
		}
	}
}

func applyString(name string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

func applyInt(problems *[]Problem, name string, dst *int) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be an integer"})
		return
	}
	*dst = n
}

func applyBool(problems *[]Problem, name string, dst *bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: name, Message: name + " must be a boolean"})
		return
	}
	*dst = b
}

func asBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "on":
		return true, true
	case "0", "f", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
