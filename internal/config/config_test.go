package config

import (
	"strings"
	"testing"
	"time"
)

func setValidEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BRIDGE_API_KEY", "test-key")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.Backend != BackendAnthropic || cfg.BackendCredential != "sk-ant-test" {
		t.Fatalf("unexpected backend wiring %+v", cfg)
	}
	if cfg.RequestTimeout != 15*time.Second || cfg.EnhanceTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.MaxConcurrentRequests != 64 || cfg.MaxPerPersona != 0 {
		t.Fatalf("unexpected admission defaults %+v", cfg)
	}
	if cfg.HealthProbeInterval != time.Minute || cfg.DegradedThreshold != 3 || cfg.UnhealthyThreshold != 6 {
		t.Fatalf("unexpected health defaults %+v", cfg)
	}
	if cfg.IdleTimeout != 5*time.Minute || cfg.LogLevel != "info" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	setValidEnv(t)
	t.Setenv("BRIDGE_LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("BRIDGE_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-oa-test")
	t.Setenv("BRIDGE_REQUEST_TIMEOUT_MS", "2000")
	t.Setenv("BRIDGE_HEALTH_PROBE_INTERVAL", "30s")
	t.Setenv("BRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9090" {
		t.Fatalf("listen addr override ignored: %q", cfg.ListenAddr)
	}
	if cfg.Backend != BackendOpenAI || cfg.BackendCredential != "sk-oa-test" {
		t.Fatalf("backend override ignored: %+v", cfg)
	}
	if cfg.RequestTimeout != 2*time.Second || cfg.HealthProbeInterval != 30*time.Second {
		t.Fatalf("duration overrides ignored: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level override ignored: %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		setup   func(t *testing.T)
		wantSub string
	}{
		{
			name:    "missing api key",
			setup: func(t *testing.T) {
				t.Setenv("BRIDGE_API_KEY", "")
				t.Setenv("ANTHROPIC_API_KEY", "x")
			},
			wantSub: "BRIDGE_API_KEY",
		},
		{
			name: "missing backend credential",
			setup: func(t *testing.T) {
				t.Setenv("BRIDGE_API_KEY", "k")
				t.Setenv("BRIDGE_BACKEND", "gemini")
				t.Setenv("GEMINI_API_KEY", "")
			},
			wantSub: "GEMINI_API_KEY",
		},
		{
			name: "unknown backend",
			setup: func(t *testing.T) {
				setValidEnv(t)
				t.Setenv("BRIDGE_BACKEND", "mainframe")
			},
			wantSub: "unsupported backend",
		},
		{
			name: "inverted thresholds",
			setup: func(t *testing.T) {
				setValidEnv(t)
				t.Setenv("BRIDGE_DEGRADED_THRESHOLD", "6")
				t.Setenv("BRIDGE_UNHEALTHY_THRESHOLD", "3")
			},
			wantSub: "BRIDGE_UNHEALTHY_THRESHOLD",
		},
		{
			name: "bad log level",
			setup: func(t *testing.T) {
				setValidEnv(t)
				t.Setenv("BRIDGE_LOG_LEVEL", "loud")
			},
			wantSub: "BRIDGE_LOG_LEVEL",
		},
		{
			name: "zero timeout",
			setup: func(t *testing.T) {
				setValidEnv(t)
				t.Setenv("BRIDGE_REQUEST_TIMEOUT_MS", "0")
			},
			wantSub: "BRIDGE_REQUEST_TIMEOUT_MS",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.setup(t)
			_, err := Load()
			if err == nil {
				t.Fatal("expected load to fail")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantSub, err)
			}
		})
	}
}
