package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Gateway   GatewayConfig
	RateLimit RateLimitConfig
	Notifier  NotifierConfig
	SMTP      SMTPConfig
	SMS       SMSGatewayConfig
	Push      PushGatewayConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RouteRule is a raw route table entry before compilation.
type RouteRule struct {
	Name   string
	Prefix string
	Target string
}

// GatewayConfig drives the proxy/router process.
type GatewayConfig struct {
	Port            int
	StrictAuth      bool
	ProxyTimeout    time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	MaxConns        int
	MaxIdleConns    int
	HealthTimeout   time.Duration
	Routes          []RouteRule
	PublicPrefixes  []string
	TeacherPrefixes []string
	AdminPrefixes   []string
}

// RateLimitConfig configures the per-fingerprint request throttle.
type RateLimitConfig struct {
	Enabled   bool
	PerMinute int
	Burst     int
}

// NotifierConfig drives the event dispatch and task worker process.
type NotifierConfig struct {
	Port                  int
	SigningSecret         string
	AllowUnsigned         bool
	AdminEmail            string
	WorkerConcurrency     int
	MaxRetries            int
	RetryBaseDelay        time.Duration
	SweepInterval         time.Duration
	SweepLeaseTTL         time.Duration
	DigestHour            int
	NotificationRetention time.Duration
	EventRetention        time.Duration
}

type SMTPConfig struct {
	Provider  string
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type SMSGatewayConfig struct {
	URL   string
	Token string
}

type PushGatewayConfig struct {
	URL   string
	Token string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: splitAndTrim(v.GetString("JWT_AUDIENCE")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Gateway = GatewayConfig{
		Port:            v.GetInt("GATEWAY_PORT"),
		StrictAuth:      v.GetBool("GATEWAY_STRICT_AUTH"),
		ProxyTimeout:    parseDuration(v.GetString("GATEWAY_PROXY_TIMEOUT"), 10*time.Second),
		RetryAttempts:   v.GetInt("GATEWAY_RETRY_ATTEMPTS"),
		RetryBaseDelay:  parseDuration(v.GetString("GATEWAY_RETRY_BASE_DELAY"), 4*time.Second),
		RetryMaxDelay:   parseDuration(v.GetString("GATEWAY_RETRY_MAX_DELAY"), 10*time.Second),
		MaxConns:        v.GetInt("GATEWAY_MAX_CONNS"),
		MaxIdleConns:    v.GetInt("GATEWAY_MAX_IDLE_CONNS"),
		HealthTimeout:   parseDuration(v.GetString("GATEWAY_HEALTH_TIMEOUT"), 5*time.Second),
		Routes:          parseRoutes(v.GetString("GATEWAY_ROUTES")),
		PublicPrefixes:  splitAndTrim(v.GetString("GATEWAY_PUBLIC_PREFIXES")),
		TeacherPrefixes: splitAndTrim(v.GetString("GATEWAY_TEACHER_PREFIXES")),
		AdminPrefixes:   splitAndTrim(v.GetString("GATEWAY_ADMIN_PREFIXES")),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:   v.GetBool("RATE_LIMIT_ENABLED"),
		PerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
		Burst:     v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Notifier = NotifierConfig{
		Port:                  v.GetInt("NOTIFIER_PORT"),
		SigningSecret:         v.GetString("EVENTS_SIGNING_SECRET"),
		AllowUnsigned:         v.GetBool("EVENTS_ALLOW_UNSIGNED"),
		AdminEmail:            v.GetString("NOTIFIER_ADMIN_EMAIL"),
		WorkerConcurrency:     v.GetInt("NOTIFIER_WORKER_CONCURRENCY"),
		MaxRetries:            v.GetInt("NOTIFIER_MAX_RETRIES"),
		RetryBaseDelay:        parseDuration(v.GetString("NOTIFIER_RETRY_BASE_DELAY"), time.Minute),
		SweepInterval:         parseDuration(v.GetString("NOTIFIER_SWEEP_INTERVAL"), time.Minute),
		SweepLeaseTTL:         parseDuration(v.GetString("NOTIFIER_SWEEP_LEASE_TTL"), 30*time.Second),
		DigestHour:            v.GetInt("NOTIFIER_DIGEST_HOUR"),
		NotificationRetention: parseDuration(v.GetString("NOTIFICATION_RETENTION"), 90*24*time.Hour),
		EventRetention:        parseDuration(v.GetString("EVENT_RETENTION"), 30*24*time.Hour),
	}

	cfg.SMTP = SMTPConfig{
		Provider:  v.GetString("EMAIL_PROVIDER"),
		Host:      v.GetString("SMTP_HOST"),
		Port:      v.GetInt("SMTP_PORT"),
		Username:  v.GetString("SMTP_USERNAME"),
		Password:  v.GetString("SMTP_PASSWORD"),
		FromEmail: v.GetString("SMTP_FROM_EMAIL"),
		FromName:  v.GetString("SMTP_FROM_NAME"),
	}

	cfg.SMS = SMSGatewayConfig{
		URL:   v.GetString("SMS_GATEWAY_URL"),
		Token: v.GetString("SMS_GATEWAY_TOKEN"),
	}

	cfg.Push = PushGatewayConfig{
		URL:   v.GetString("PUSH_GATEWAY_URL"),
		Token: v.GetString("PUSH_GATEWAY_TOKEN"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "presencepro")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "presencepro-auth")
	v.SetDefault("JWT_AUDIENCE", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("GATEWAY_PORT", 8080)
	v.SetDefault("GATEWAY_STRICT_AUTH", false)
	v.SetDefault("GATEWAY_PROXY_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_RETRY_ATTEMPTS", 3)
	v.SetDefault("GATEWAY_RETRY_BASE_DELAY", "4s")
	v.SetDefault("GATEWAY_RETRY_MAX_DELAY", "10s")
	v.SetDefault("GATEWAY_MAX_CONNS", 100)
	v.SetDefault("GATEWAY_MAX_IDLE_CONNS", 20)
	v.SetDefault("GATEWAY_HEALTH_TIMEOUT", "5s")
	v.SetDefault("GATEWAY_ROUTES", strings.Join([]string{
		"auth=/api/v1/auth=http://auth-service:8000",
		"users=/api/v1/users=http://user-service:8000",
		"courses=/api/v1/courses=http://course-service:8000",
		"attendance=/api/v1/attendance=http://attendance-service:8000",
		"justifications=/api/v1/justifications=http://justification-service:8000",
		"messages=/api/v1/messages=http://messaging-service:8000",
		"notifications=/api/v1/notifications=http://notification-service:8081",
		"statistics=/api/v1/statistics=http://statistics-service:8000",
		"face=/api/v1/face=http://face-service:8000",
	}, ","))
	v.SetDefault("GATEWAY_PUBLIC_PREFIXES", "/api/v1/auth")
	v.SetDefault("GATEWAY_TEACHER_PREFIXES", "/api/v1/attendance,/api/v1/courses,/api/v1/face")
	v.SetDefault("GATEWAY_ADMIN_PREFIXES", "/api/v1/users,/api/v1/statistics")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("RATE_LIMIT_BURST", 30)

	v.SetDefault("NOTIFIER_PORT", 8081)
	v.SetDefault("EVENTS_SIGNING_SECRET", "dev_events_secret")
	v.SetDefault("EVENTS_ALLOW_UNSIGNED", false)
	v.SetDefault("NOTIFIER_ADMIN_EMAIL", "vie-scolaire@presencepro.fr")
	v.SetDefault("NOTIFIER_WORKER_CONCURRENCY", 10)
	v.SetDefault("NOTIFIER_MAX_RETRIES", 3)
	v.SetDefault("NOTIFIER_RETRY_BASE_DELAY", "60s")
	v.SetDefault("NOTIFIER_SWEEP_INTERVAL", "1m")
	v.SetDefault("NOTIFIER_SWEEP_LEASE_TTL", "30s")
	v.SetDefault("NOTIFIER_DIGEST_HOUR", 7)
	v.SetDefault("NOTIFICATION_RETENTION", "2160h")
	v.SetDefault("EVENT_RETENTION", "720h")

	v.SetDefault("EMAIL_PROVIDER", "console")
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM_EMAIL", "no-reply@presencepro.fr")
	v.SetDefault("SMTP_FROM_NAME", "PresencePro")

	v.SetDefault("SMS_GATEWAY_URL", "")
	v.SetDefault("SMS_GATEWAY_TOKEN", "")
	v.SetDefault("PUSH_GATEWAY_URL", "")
	v.SetDefault("PUSH_GATEWAY_TOKEN", "")
}

// parseRoutes decodes "name=prefix=target" comma-separated entries. Malformed
// entries are skipped so a single typo cannot take the whole gateway down.
func parseRoutes(raw string) []RouteRule {
	var rules []RouteRule
	for _, part := range splitAndTrim(raw) {
		fields := strings.SplitN(part, "=", 3)
		if len(fields) != 3 {
			continue
		}
		name := strings.TrimSpace(fields[0])
		prefix := strings.TrimSpace(fields[1])
		target := strings.TrimRight(strings.TrimSpace(fields[2]), "/")
		if name == "" || !strings.HasPrefix(prefix, "/") || target == "" {
			continue
		}
		rules = append(rules, RouteRule{Name: name, Prefix: prefix, Target: target})
	}
	return rules
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
