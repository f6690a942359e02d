package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	t.Setenv(EnvAPIURL, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got, want := cfg.Hub.ReconnectSchedule, DefaultReconnectSchedule(); !reflect.DeepEqual(got, want) {
		t.Errorf("ReconnectSchedule = %v, want %v", got, want)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"start retry", cfg.Hub.StartRetryDelay, 5 * time.Second},
		{"keep alive", cfg.Hub.KeepAliveInterval, 15 * time.Second},
		{"server timeout", cfg.Hub.ServerTimeout, 30 * time.Second},
		{"log capacity", cfg.Presence.LogCapacity, 100},
		{"remount window", cfg.Presence.RemountWindow, 500 * time.Millisecond},
		{"recent join ttl", cfg.Presence.RecentJoinTTL, 2 * time.Second},
		{"leave timeout", cfg.Presence.LeaveTimeout, 3 * time.Second},
		{"leave grace", cfg.Session.LeaveGrace, 100 * time.Millisecond},
		{"refresh schedule", cfg.API.RefreshSchedule, "@every 1m"},
		{"credentials backend", cfg.Credentials.Backend, "file"},
		{"hub url", cfg.HubURL(), "http://localhost:5000/eventhub"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
hub:
  path: /eventhub
  extra: true
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
api:
  base_url: https://tickets.example.com/
hub:
  reconnect_schedule: [0s, 1s, 3s]
  start_retry_delay: 250ms
presence:
  remount_window: 750ms
`)
	t.Setenv(EnvAPIURL, "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://tickets.example.com" {
		t.Errorf("BaseURL = %q, trailing slash should be trimmed", cfg.API.BaseURL)
	}
	want := []time.Duration{0, time.Second, 3 * time.Second}
	if !reflect.DeepEqual(cfg.Hub.ReconnectSchedule, want) {
		t.Errorf("ReconnectSchedule = %v, want %v", cfg.Hub.ReconnectSchedule, want)
	}
	if cfg.Hub.StartRetryDelay != 250*time.Millisecond {
		t.Errorf("StartRetryDelay = %v", cfg.Hub.StartRetryDelay)
	}
	if cfg.Presence.RemountWindow != 750*time.Millisecond {
		t.Errorf("RemountWindow = %v", cfg.Presence.RemountWindow)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name      string
		contents  string
		wantIssue string
	}{
		{
			name:      "relative base url",
			contents:  "api:\n  base_url: tickets.example.com\n",
			wantIssue: "api.base_url",
		},
		{
			name:      "negative backoff",
			contents:  "hub:\n  reconnect_schedule: [0s, -1s]\n",
			wantIssue: "hub.reconnect_schedule[1]",
		},
		{
			name:      "unknown backend",
			contents:  "credentials:\n  backend: keychain\n",
			wantIssue: "credentials.backend",
		},
		{
			name:      "keep alive too long",
			contents:  "hub:\n  keep_alive_interval: 30s\n  server_timeout: 30s\n",
			wantIssue: "keep_alive_interval",
		},
		{
			name:      "remount window beyond ttl",
			contents:  "presence:\n  remount_window: 3s\n  recent_join_ttl: 2s\n",
			wantIssue: "presence.remount_window",
		},
		{
			name:      "tracing without endpoint",
			contents:  "tracing:\n  enabled: true\n",
			wantIssue: "tracing.endpoint",
		},
		{
			name:      "bad log format",
			contents:  "logging:\n  format: xml\n",
			wantIssue: "logging.format",
		},
	}

	t.Setenv(EnvAPIURL, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.contents)
			_, err := Load(path)
			var validationErr *ConfigValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected *ConfigValidationError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantIssue) {
				t.Fatalf("expected %q in %v", tt.wantIssue, err)
			}
		})
	}
}

func TestLoadEnvOverridesBaseURL(t *testing.T) {
	path := writeConfig(t, "config.yaml", "api:\n  base_url: http://localhost:5000\n")
	t.Setenv(EnvAPIURL, "https://live.example.org")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://live.example.org" {
		t.Errorf("BaseURL = %q, want env override", cfg.API.BaseURL)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv(EnvAPIURL, "")
	t.Setenv("EVENTLIVE_TEST_HOST", "tickets.internal")
	path := writeConfig(t, "config.yaml", "api:\n  base_url: https://${EVENTLIVE_TEST_HOST}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != "https://tickets.internal" {
		t.Errorf("BaseURL = %q", cfg.API.BaseURL)
	}
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := writeConfig(t, "config.yaml", "version: 99\n")

	_, err := Load(path)
	var ve *VersionError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *VersionError, got %v", err)
	}
}

func TestDefaultSQLitePath(t *testing.T) {
	cfg := &Config{Credentials: CredentialsConfig{Backend: "sqlite"}}
	applyDefaults(cfg)
	if cfg.Credentials.Path != "~/.eventlive/state.db" {
		t.Errorf("Path = %q", cfg.Credentials.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestJSONSchemaUsesYAMLNames(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema: %v", err)
	}
	for _, field := range []string{"reconnect_schedule", "remount_window", "leave_grace", "base_url"} {
		if !strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("schema missing %q", field)
		}
	}
}

func writeConfig(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
