package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	body = strings.ReplaceAll(body, "{{dir}}", dir)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  api_port: 8181
tracking:
  monitored_channels: ["sede-virtual", "daily-1", " ", "daily-2"]
reset:
  schedule: "0 0 * * 1"
  timezone: "UTC"
storage:
  type: bolt
  path: {{dir}}/data/state.bolt
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Server.APIPort != 8181 {
		t.Errorf("expected api port 8181, got %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("expected default metrics port 9090, got %d", cfg.Server.MetricsPort)
	}
	want := []string{"sede-virtual", "daily-1", "daily-2"}
	if strings.Join(cfg.Tracking.MonitoredChannels, ",") != strings.Join(want, ",") {
		t.Errorf("expected channels %v, got %v", want, cfg.Tracking.MonitoredChannels)
	}
	if cfg.Storage.Type != StorageBolt {
		t.Errorf("expected bolt storage, got %s", cfg.Storage.Type)
	}
	if _, err := os.Stat(filepath.Dir(cfg.Storage.Path)); err != nil {
		t.Errorf("expected storage directory to exist: %v", err)
	}
	if !cfg.Reset.Enabled {
		t.Error("expected reset scheduler enabled by default")
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `
storage:
  path: {{dir}}/state.json
`)
	t.Setenv("BASETRACK_TRACKING_MONITORED_CHANNELS", "c1,c2")
	t.Setenv("BASETRACK_LOGGING_FORMAT", "text")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if len(cfg.Tracking.MonitoredChannels) != 2 || cfg.Tracking.MonitoredChannels[1] != "c2" {
		t.Errorf("expected channels from environment, got %v", cfg.Tracking.MonitoredChannels)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("expected text format, got %s", cfg.Logging.Format)
	}
	if cfg.Reset.Timezone != "America/Sao_Paulo" {
		t.Errorf("expected default timezone, got %s", cfg.Reset.Timezone)
	}
	if cfg.Reset.Schedule != "59 23 * * 0" {
		t.Errorf("expected default schedule, got %s", cfg.Reset.Schedule)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BASETRACK_TRACKING_MONITORED_CHANNELS", "only")
	t.Setenv("BASETRACK_STORAGE_PATH", filepath.Join(dir, "state.json"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Storage.Type != StorageFile {
		t.Errorf("expected file storage, got %s", cfg.Storage.Type)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no channels",
			body: "storage:\n  path: {{dir}}/s.json\n",
			want: "monitored channel",
		},
		{
			name: "bad timezone",
			body: "tracking:\n  monitored_channels: [a]\nreset:\n  timezone: Mars/Olympus\nstorage:\n  path: {{dir}}/s.json\n",
			want: "timezone",
		},
		{
			name: "bad schedule",
			body: "tracking:\n  monitored_channels: [a]\nreset:\n  schedule: every sunday\nstorage:\n  path: {{dir}}/s.json\n",
			want: "schedule",
		},
		{
			name: "bad storage",
			body: "tracking:\n  monitored_channels: [a]\nstorage:\n  type: mongo\n  path: {{dir}}/s.json\n",
			want: "unsupported storage type",
		},
		{
			name: "bad port",
			body: "tracking:\n  monitored_channels: [a]\nserver:\n  api_port: 70000\nstorage:\n  path: {{dir}}/s.json\n",
			want: "API port",
		},
		{
			name: "bad level",
			body: "tracking:\n  monitored_channels: [a]\nlogging:\n  level: loud\nstorage:\n  path: {{dir}}/s.json\n",
			want: "log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	const key = "BASETRACK_TEST_DOTENV_VALUE"
	t.Cleanup(func() { _ = os.Unsetenv(key) })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(key+"=from-dotenv\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	if err := loadDotEnv(path); err != nil {
		t.Fatalf("load .env: %v", err)
	}
	if got := os.Getenv(key); got != "from-dotenv" {
		t.Errorf("expected from-dotenv, got %q", got)
	}

	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}

func TestFindUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
tracking:
  monitored_channels: ["sede"]
  monitored_chanels: ["typo"]
storage:
  redis:
    hostname: "redis.local"
`)

	unknown, err := FindUnknownKeys(path)
	if err != nil {
		t.Fatalf("find unknown keys: %v", err)
	}
	if len(unknown) != 2 || unknown[0] != "storage.redis.hostname" || unknown[1] != "tracking.monitored_chanels" {
		t.Errorf("Unexpected unknown keys: %v", unknown)
	}

	if _, err := FindUnknownKeys(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Reset.Schedule != "59 23 * * 0" || cfg.Reset.Timezone != "America/Sao_Paulo" {
		t.Errorf("Unexpected reset defaults: %+v", cfg.Reset)
	}
	if cfg.Storage.Type != StorageFile || cfg.Server.APIPort != 8080 {
		t.Errorf("Unexpected defaults: %+v %+v", cfg.Storage, cfg.Server)
	}
}

func TestStorageFilePath(t *testing.T) {
	tests := []struct {
		cfg  StorageConfig
		want string
	}{
		{StorageConfig{Type: StorageFile, Path: "/var/lib/basetrack/state.json"}, "/var/lib/basetrack/state.json"},
		{StorageConfig{Type: StorageSQLite, Path: "sqlite:///var/lib/basetrack/state.db"}, "/var/lib/basetrack/state.db"},
		{StorageConfig{Type: StorageSQLite, Path: "/var/lib/basetrack/state.db"}, "/var/lib/basetrack/state.db"},
		{StorageConfig{Type: StorageSQLite, Path: ":memory:"}, ""},
	}

	for _, tt := range tests {
		if got := tt.cfg.FilePath(); got != tt.want {
			t.Errorf("FilePath(%s %q) = %q, want %q", tt.cfg.Type, tt.cfg.Path, got, tt.want)
		}
	}
}

func TestLoadCreatesSQLiteDirectory(t *testing.T) {
	wd := t.TempDir()
	t.Chdir(wd)

	path := writeConfig(t, "tracking:\n  monitored_channels: [a]\nstorage:\n  type: sqlite\n  path: sqlite://{{dir}}/data/state.db\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if info, err := os.Stat(filepath.Join(filepath.Dir(path), "data")); err != nil || !info.IsDir() {
		t.Errorf("expected database directory to be created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(wd, "sqlite:")); !os.IsNotExist(err) {
		t.Errorf("expected no directory named after the DSN scheme, got %v", err)
	}
}
