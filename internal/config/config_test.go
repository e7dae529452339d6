package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Seconds() != 5 {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvDurationInvalid(t *testing.T) {
	t.Setenv("TEST_DUR_BAD", "five-seconds")
	_, err := envDuration("TEST_DUR_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid duration, got nil")
	}
	if got := err.Error(); got != `TEST_DUR_BAD="five-seconds" is not a valid duration` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("ICHIBA_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid ICHIBA_PORT")
	}
	// Error should mention the variable name and value.
	if got := err.Error(); !contains(got, "ICHIBA_PORT") || !contains(got, "abc") {
		t.Fatalf("error should mention ICHIBA_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("ICHIBA_PORT", "abc")
	t.Setenv("ICHIBA_ORACLE_TIMEOUT", "soon")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "ICHIBA_PORT") {
		t.Fatalf("error should mention ICHIBA_PORT, got: %s", got)
	}
	if !contains(got, "ICHIBA_ORACLE_TIMEOUT") {
		t.Fatalf("error should mention ICHIBA_ORACLE_TIMEOUT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	// With no env vars set, Load should succeed using all defaults.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EpochDelay != 2*time.Second {
		t.Fatalf("expected default epoch delay 2s, got %s", cfg.EpochDelay)
	}
	if cfg.OracleTimeout != 15*time.Second {
		t.Fatalf("expected default oracle timeout 15s, got %s", cfg.OracleTimeout)
	}
}

func TestEnvFloatInvalid(t *testing.T) {
	t.Setenv("TEST_FLOAT_BAD", "warm")
	_, err := envFloat("TEST_FLOAT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-numeric value, got nil")
	}
	if got := err.Error(); got != `TEST_FLOAT_BAD="warm" is not a valid number` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("ICHIBA_STORE", "redis")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ICHIBA_STORE") {
		t.Fatalf("expected ICHIBA_STORE error, got %v", err)
	}
}

func TestLoadRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("ICHIBA_STORE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got %v", err)
	}
}

func TestLoadRejectsNegativeSeed(t *testing.T) {
	t.Setenv("ICHIBA_SEED", "-4")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "ICHIBA_SEED") {
		t.Fatalf("expected ICHIBA_SEED error, got %v", err)
	}
}

func TestResolvedStore(t *testing.T) {
	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Store: StoreAuto}, StoreSQLite},
		{Config{Store: StoreAuto, DatabaseURL: "postgres://x"}, StorePostgres},
		{Config{Store: StoreSQLite, DatabaseURL: "postgres://x"}, StoreSQLite},
	}
	for _, tc := range cases {
		if got := tc.cfg.ResolvedStore(); got != tc.want {
			t.Errorf("ResolvedStore(%+v) = %q, want %q", tc.cfg, got, tc.want)
		}
	}
}

func TestResolvedOracle(t *testing.T) {
	if got := (Config{OracleProvider: OracleAuto}).ResolvedOracle(); got != OracleRandom {
		t.Fatalf("expected random without a key, got %q", got)
	}
	if got := (Config{OracleProvider: OracleAuto, OpenAIAPIKey: "sk"}).ResolvedOracle(); got != OracleOpenAI {
		t.Fatalf("expected openai with a key, got %q", got)
	}
	if got := (Config{OracleProvider: OracleRandom, OpenAIAPIKey: "sk"}).ResolvedOracle(); got != OracleRandom {
		t.Fatalf("explicit provider should win, got %q", got)
	}
}

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
