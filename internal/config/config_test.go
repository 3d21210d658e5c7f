package config

import (
	"os"
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)
}

func TestLoad_SecurityDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	sec := cfg.Security
	if sec.BaseAttemptLimit != 5 {
		t.Errorf("BaseAttemptLimit: got %d, want 5", sec.BaseAttemptLimit)
	}
	if sec.AttemptWindow != 15*time.Minute {
		t.Errorf("AttemptWindow: got %v, want 15m", sec.AttemptWindow)
	}
	if sec.LockoutDuration != 30*time.Minute {
		t.Errorf("LockoutDuration: got %v, want 30m", sec.LockoutDuration)
	}
	if sec.DecisionTimeout != 500*time.Millisecond {
		t.Errorf("DecisionTimeout: got %v, want 500ms", sec.DecisionTimeout)
	}
	if sec.CriticalRiskCutoff != 80 {
		t.Errorf("CriticalRiskCutoff: got %d, want 80", sec.CriticalRiskCutoff)
	}

	warning, critical, lockout, rateLimit := sec.Thresholds()
	if warning != 2 || critical != 3 || lockout != 5 || rateLimit != 10 {
		t.Errorf("derived thresholds: got (%d,%d,%d,%d), want (2,3,5,10)",
			warning, critical, lockout, rateLimit)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want error for missing JWT_SECRET")
	}
}

func TestLoad_MissingDBPassword(t *testing.T) {
	os.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want error for missing DB_PASSWORD")
	}
}

func TestLoad_WeakJWTSecretRejected(t *testing.T) {
	os.Setenv("JWT_SECRET", "password")
	os.Setenv("DB_PASSWORD", "test")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want error for weak JWT_SECRET")
	}
}

func TestLoad_ProductionRequiresLongerSecret(t *testing.T) {
	os.Setenv("JWT_SECRET", "only-twenty-chars!!!")
	os.Setenv("DB_PASSWORD", "test")
	os.Setenv("ENV", "production")
	t.Cleanup(os.Clearenv)

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want error for short secret in production")
	}
}

func TestLoad_ThresholdOrderingEnforced(t *testing.T) {
	setRequiredEnv(t)
	// Lockout above rate-limit inverts the layer coordination.
	os.Setenv("SECURITY_LOCKOUT_PERCENT", "300")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want ordering violation")
	}
}

func TestLoad_ThresholdFloorCollapseRejected(t *testing.T) {
	setRequiredEnv(t)
	// With a tiny base, low percentages all floor to 1 and collapse the
	// strict ordering.
	os.Setenv("SECURITY_BASE_ATTEMPT_LIMIT", "1")

	if _, err := Load(); err == nil {
		t.Fatal("Load() = nil error, want ordering violation after flooring")
	}
}

func TestSecurityConfig_Validate_NegativeWindow(t *testing.T) {
	sec := SecurityConfig{
		BaseAttemptLimit: 5,
		WarningPercent:   40,
		CriticalPercent:  60,
		LockoutPercent:   100,
		RateLimitPercent: 200,
		AttemptWindow:    -time.Minute,
		LockoutDuration:  30 * time.Minute,
	}
	if err := sec.Validate(); err == nil {
		t.Fatal("Validate() = nil error, want error for negative window")
	}
}

func TestLoad_AlertRecipientsParsed(t *testing.T) {
	setRequiredEnv(t)
	os.Setenv("ALERT_TO_ADDRESSES", "ops@example.com, security@example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	got := cfg.Alerts.ToAddresses
	if len(got) != 2 || got[0] != "ops@example.com" || got[1] != "security@example.com" {
		t.Errorf("ToAddresses: got %v", got)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	db := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "test",
		Name:     "vigil",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=postgres password=test dbname=vigil sslmode=disable"
	if db.DSN() != want {
		t.Errorf("DSN: got %q, want %q", db.DSN(), want)
	}
}
