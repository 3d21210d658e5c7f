package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Alerts   AlertConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string // CIDR ranges whose forwarding headers are honored
}

type AuthConfig struct {
	JWTSecret          string
	SessionTokenExpiry time.Duration
}

// SecurityConfig holds the thresholds and windows that drive the coordinated
// security engine. Thresholds are derived per environment/role from
// BaseAttemptLimit; see internal/policy.
type SecurityConfig struct {
	BaseAttemptLimit    int           // base failed-attempt count thresholds derive from
	WarningPercent      int           // warning threshold as % of base
	CriticalPercent     int           // critical (progressive delay) threshold as % of base
	LockoutPercent      int           // lockout threshold as % of base
	RateLimitPercent    int           // rate-limit threshold as % of base
	AttemptWindow       time.Duration // sliding window for failed-attempt counters
	LockoutDuration     time.Duration // how long an account lockout lasts
	RateLimitWindow     time.Duration // window for scenario rate limiting
	RateLimitMax        int           // max requests per scenario window
	DecisionTimeout     time.Duration // dependency budget per security decision
	MitigationInterval  time.Duration // cadence of the automated mitigation task
	AlertRetention      time.Duration // inactive alerts older than this auto-resolve
	EventTTL            time.Duration // retention of the security event log
	CriticalRiskCutoff  int           // sessions at/above this score are auto-terminated
	EmergencyUnlockCode string        // confirmation code for emergency unlock-all
}

type AlertConfig struct {
	EmailEnabled bool
	AWSRegion    string
	FromAddress  string
	ToAddresses  []string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "vigil"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: splitAndTrim(getEnv("TRUSTED_PROXIES", "")),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			SessionTokenExpiry: getEnvAsDuration("SESSION_TOKEN_EXPIRY", 24*time.Hour),
		},
		Security: SecurityConfig{
			BaseAttemptLimit:    getEnvAsInt("SECURITY_BASE_ATTEMPT_LIMIT", 5),
			WarningPercent:      getEnvAsInt("SECURITY_WARNING_PERCENT", 40),
			CriticalPercent:     getEnvAsInt("SECURITY_CRITICAL_PERCENT", 60),
			LockoutPercent:      getEnvAsInt("SECURITY_LOCKOUT_PERCENT", 100),
			RateLimitPercent:    getEnvAsInt("SECURITY_RATE_LIMIT_PERCENT", 200),
			AttemptWindow:       getEnvAsDuration("SECURITY_ATTEMPT_WINDOW", 15*time.Minute),
			LockoutDuration:     getEnvAsDuration("SECURITY_LOCKOUT_DURATION", 30*time.Minute),
			RateLimitWindow:     getEnvAsDuration("SECURITY_RATE_LIMIT_WINDOW", 1*time.Minute),
			RateLimitMax:        getEnvAsInt("SECURITY_RATE_LIMIT_MAX", 100),
			DecisionTimeout:     getEnvAsDuration("SECURITY_DECISION_TIMEOUT", 500*time.Millisecond),
			MitigationInterval:  getEnvAsDuration("SECURITY_MITIGATION_INTERVAL", 5*time.Minute),
			AlertRetention:      getEnvAsDuration("SECURITY_ALERT_RETENTION", 24*time.Hour),
			EventTTL:            getEnvAsDuration("SECURITY_EVENT_TTL", 24*time.Hour),
			CriticalRiskCutoff:  getEnvAsInt("SECURITY_CRITICAL_RISK_CUTOFF", 80),
			EmergencyUnlockCode: getEnv("SECURITY_EMERGENCY_UNLOCK_CODE", ""),
		},
		Alerts: AlertConfig{
			EmailEnabled: getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("ALERT_FROM_ADDRESS", ""),
			ToAddresses:  splitAndTrim(getEnv("ALERT_TO_ADDRESSES", "")),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.Security.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the cross-layer threshold invariant. Coordination between
// the lockout and rate-limit layers is only meaningful when the lockout
// threshold trips before the rate-limit threshold; a configuration that
// inverts them silently disables the lockout layer, so fail fast instead.
func (c *SecurityConfig) Validate() error {
	if c.BaseAttemptLimit < 1 {
		return fmt.Errorf("SECURITY_BASE_ATTEMPT_LIMIT must be at least 1 (got %d)", c.BaseAttemptLimit)
	}
	warning := thresholdOf(c.BaseAttemptLimit, c.WarningPercent)
	critical := thresholdOf(c.BaseAttemptLimit, c.CriticalPercent)
	lockout := thresholdOf(c.BaseAttemptLimit, c.LockoutPercent)
	rateLimit := thresholdOf(c.BaseAttemptLimit, c.RateLimitPercent)
	if !(warning < critical && critical < lockout && lockout < rateLimit) {
		return fmt.Errorf("threshold ordering violated: warning=%d critical=%d lockout=%d rate-limit=%d (must be strictly increasing)",
			warning, critical, lockout, rateLimit)
	}
	if c.AttemptWindow <= 0 {
		return fmt.Errorf("SECURITY_ATTEMPT_WINDOW must be positive")
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("SECURITY_LOCKOUT_DURATION must be positive")
	}
	if c.CriticalRiskCutoff < 0 || c.CriticalRiskCutoff > 100 {
		return fmt.Errorf("SECURITY_CRITICAL_RISK_CUTOFF must be within [0,100] (got %d)", c.CriticalRiskCutoff)
	}
	return nil
}

// thresholdOf derives an attempt-count threshold as a percentage of the base
// attempt limit, with a floor of 1.
func thresholdOf(base, percent int) int {
	t := base * percent / 100
	if t < 1 {
		t = 1
	}
	return t
}

// Thresholds returns the derived (warning, critical, lockout, rateLimit)
// attempt counts.
func (c *SecurityConfig) Thresholds() (warning, critical, lockout, rateLimit int) {
	return thresholdOf(c.BaseAttemptLimit, c.WarningPercent),
		thresholdOf(c.BaseAttemptLimit, c.CriticalPercent),
		thresholdOf(c.BaseAttemptLimit, c.LockoutPercent),
		thresholdOf(c.BaseAttemptLimit, c.RateLimitPercent)
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
