package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvDefault(t *testing.T) {
	os.Unsetenv("TEST_ENV_KEY")
	if v := getEnv("TEST_ENV_KEY", "fallback"); v != "fallback" {
		t.Errorf("expected fallback, got %s", v)
	}
}

func TestGetEnvBoolVariants(t *testing.T) {
	cases := map[string]bool{"true": true, "YES": true, "1": true, "on": true, "false": false, "NO": false, "0": false, "off": false}
	for raw, want := range cases {
		os.Setenv("TEST_ENV_BOOL", raw)
		if got := getEnvBool("TEST_ENV_BOOL", false); got != want {
			t.Errorf("getEnvBool(%q) = %v, want %v", raw, got, want)
		}
	}
	os.Unsetenv("TEST_ENV_BOOL")
}

func TestGetEnvIntInvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("TEST_ENV_INT", "not-a-number")
	defer os.Unsetenv("TEST_ENV_INT")
	if got := getEnvInt("TEST_ENV_INT", 42); got != 42 {
		t.Errorf("expected default 42, got %d", got)
	}
}

func TestGetEnvDurationParsesSuffix(t *testing.T) {
	os.Setenv("TEST_ENV_DURATION", "250ms")
	defer os.Unsetenv("TEST_ENV_DURATION")
	if got := getEnvDuration("TEST_ENV_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
}

func TestLoadFgwConfigDefaults(t *testing.T) {
	os.Unsetenv("FGW_HTTP_PORT")
	cfg := LoadFgwConfig()
	if cfg.HTTPPort != 8091 {
		t.Errorf("expected default HTTPPort 8091, got %d", cfg.HTTPPort)
	}
	if cfg.InactivityThreshold != 8*time.Second {
		t.Errorf("expected default inactivity threshold 8s, got %v", cfg.InactivityThreshold)
	}
}
