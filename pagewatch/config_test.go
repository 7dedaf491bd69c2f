package pagewatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleConfig = `
storage_root: /var/lib/pagewatch
history_db: /var/lib/pagewatch/history.db
interval: 10m
listen_addr: 127.0.0.1:8090
log_level: debug
targets:
  - https://example.com
  - https://example.org/app/
fetch:
  timeout: 15s
  max_bytes: 1048576
  concurrency: 8
notify:
  enabled: true
  smtp:
    host: smtp.example.com
    port: 587
    starttls: true
    username: file-user
    from: watch@example.com
    to: [ops@example.com]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pagewatch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	// WHAT: Every YAML field lands in Config.
	// WHY: The file is the primary way to run the daemon.
	cfg, err := LoadConfigFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageRoot != "/var/lib/pagewatch" || cfg.Interval != 10*time.Minute || cfg.ListenAddr != "127.0.0.1:8090" {
		t.Fatalf("top level: %+v", cfg)
	}
	if len(cfg.Targets) != 2 || cfg.Targets[1] != "https://example.org/app/" {
		t.Fatalf("targets: %v", cfg.Targets)
	}
	if cfg.Fetch.Timeout != 15*time.Second || cfg.Fetch.MaxBytes != 1<<20 || cfg.Fetch.Concurrency != 8 {
		t.Fatalf("fetch: %+v", cfg.Fetch)
	}
	smtp := cfg.Notify.SMTP
	if !cfg.Notify.Enabled || smtp.Port != 587 || !smtp.StartTLS || smtp.Username != "file-user" || len(smtp.To) != 1 {
		t.Fatalf("smtp: %+v", smtp)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadConfigFile_EnvOverlay(t *testing.T) {
	// WHAT: Set environment variables override the file; unset ones do not.
	// WHY: Credentials stay out of config files.
	t.Setenv("PAGEWATCH_SMTP_PASSWORD", "s3cret")
	t.Setenv("PAGEWATCH_SMTP_USERNAME", "env-user")
	t.Setenv("PAGEWATCH_STORAGE_ROOT", "/srv/pagewatch")

	cfg, err := LoadConfigFile(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.SMTP.Password != "s3cret" || cfg.Notify.SMTP.Username != "env-user" {
		t.Fatalf("smtp credentials: %+v", cfg.Notify.SMTP)
	}
	if cfg.StorageRoot != "/srv/pagewatch" {
		t.Fatalf("storage root: %q", cfg.StorageRoot)
	}
	if cfg.HistoryDB != "/var/lib/pagewatch/history.db" {
		t.Fatalf("history db overwritten: %q", cfg.HistoryDB)
	}
}

func TestLoadConfigFile_PasswordNotReadFromFile(t *testing.T) {
	// WHAT: A password in the YAML file is ignored.
	// WHY: Secrets come from the environment only.
	cfg, err := LoadConfigFile(writeConfig(t, sampleConfig+"    password: leaked\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Notify.SMTP.Password != "" {
		t.Fatalf("password read from file: %q", cfg.Notify.SMTP.Password)
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("missing file: got %v", err)
	}
	if _, err := LoadConfigFile(writeConfig(t, "targets: [unterminated")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad yaml: got %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.StorageRoot != "data" || cfg.Fetch.Timeout != 30*time.Second || cfg.Fetch.MaxBytes != 10<<20 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Fetch.Concurrency != 4 || cfg.Notify.SMTP.Port != 465 || cfg.Clock == nil {
		t.Fatalf("defaults: %+v", cfg)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative interval", Config{Interval: -time.Second}},
		{"notify without channel", Config{Notify: NotifyConfig{Enabled: true}}},
		{"bad target", Config{Targets: []string{"javascript:alert(1)"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("got %v, want ErrInvalidInput", err)
			}
		})
	}
}
