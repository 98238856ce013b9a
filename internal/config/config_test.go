package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if cfg.BindAddr != ":4000" {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, ":4000")
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("DeepgramModel = %q, want %q", cfg.DeepgramModel, "nova-2")
	}
	if cfg.TranslateFastModel != "gpt-4o-mini" || cfg.TranslateStyleModel != "gpt-4o" {
		t.Errorf("unexpected translate models: %q / %q", cfg.TranslateFastModel, cfg.TranslateStyleModel)
	}
	if cfg.TranslateTimeout != 15*time.Second {
		t.Errorf("TranslateTimeout = %v, want 15s", cfg.TranslateTimeout)
	}
	if cfg.PauseAutoClose != 50*time.Second {
		t.Errorf("PauseAutoClose = %v, want 50s", cfg.PauseAutoClose)
	}
	if cfg.ClientTTL != 5*time.Minute {
		t.Errorf("ClientTTL = %v, want 5m", cfg.ClientTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9999")
	t.Setenv("TRANSLATE_TIMEOUT", "20s")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "true")
	t.Setenv("CLIENT_TTL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load error = %v", err)
	}
	if cfg.BindAddr != ":9999" {
		t.Errorf("BindAddr = %q, want %q", cfg.BindAddr, ":9999")
	}
	if cfg.TranslateTimeout != 20*time.Second {
		t.Errorf("TranslateTimeout = %v, want 20s", cfg.TranslateTimeout)
	}
	if !cfg.AllowAnyOrigin {
		t.Error("AllowAnyOrigin should be true")
	}
	if cfg.ClientTTL != 10*time.Minute {
		t.Errorf("ClientTTL = %v, want 10m", cfg.ClientTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		key   string
		value string
	}{
		{"TRANSLATE_TIMEOUT", "not-a-duration"},
		{"TRANSLATE_TIMEOUT", "10ms"},
		{"APP_ALLOW_ANY_ORIGIN", "maybe"},
		{"CLIENT_TTL", "1s"},
	}
	for _, tc := range cases {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
