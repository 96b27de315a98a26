package confloader

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type testConfig struct {
	Service struct {
		Addr string `koanf:"addr"`
	} `koanf:"service"`
	Backup struct {
		MaxChunkSize uint64        `koanf:"max_chunk_size"`
		RetryDelay   time.Duration `koanf:"retry_delay"`
	} `koanf:"backup"`
	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestNewLoader(t *testing.T) {
	l := NewLoader()
	if l.envPrefix != DefaultEnvPrefix {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, DefaultEnvPrefix)
	}

	l = NewLoader(WithEnvPrefix("TEST_"), WithConfigFile("/path/to/config.yaml"))
	if l.envPrefix != "TEST_" {
		t.Errorf("envPrefix = %q, want %q", l.envPrefix, "TEST_")
	}
	if l.FilePath() != "/path/to/config.yaml" {
		t.Errorf("FilePath() = %q, want %q", l.FilePath(), "/path/to/config.yaml")
	}
}

func TestLoader_LoadFile(t *testing.T) {
	path := writeConfig(t, `
service:
  addr: "0.0.0.0:6186"
backup:
  max_chunk_size: 500
`)

	l := NewLoader()
	if err := l.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if addr := l.GetString("service.addr"); addr != "0.0.0.0:6186" {
		t.Errorf("service.addr = %q, want %q", addr, "0.0.0.0:6186")
	}
	if n := l.GetInt("backup.max_chunk_size"); n != 500 {
		t.Errorf("backup.max_chunk_size = %d, want 500", n)
	}
}

func TestLoader_LoadFile_Errors(t *testing.T) {
	l := NewLoader()
	if err := l.LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadFile() should return error for nonexistent file")
	}
	if err := l.LoadFile(""); err != nil {
		t.Errorf("LoadFile(\"\") should not error, got: %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"LEDGERBACKUP_SERVICE__ADDR", "service.addr"},
		{"LEDGERBACKUP_BACKUP__MAX_CHUNK_SIZE", "backup.max_chunk_size"},
		{"LEDGERBACKUP_LEDGER__BADGER__SYNC_WRITES", "ledger.badger.sync_writes"},
		{"LEDGERBACKUP_DEBUG", "debug"},
	}
	for _, tt := range tests {
		if got := envKey(DefaultEnvPrefix, tt.in); got != tt.want {
			t.Errorf("envKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLoader_LoadEnv(t *testing.T) {
	t.Setenv("LEDGERBACKUP_SERVICE__ADDR", "127.0.0.1:8080")
	t.Setenv("LEDGERBACKUP_BACKUP__MAX_CHUNK_SIZE", "64")

	l := NewLoader()
	if err := l.LoadEnv(); err != nil {
		t.Fatalf("LoadEnv() error = %v", err)
	}
	if addr := l.GetString("service.addr"); addr != "127.0.0.1:8080" {
		t.Errorf("service.addr = %q, want %q", addr, "127.0.0.1:8080")
	}
	if n := l.GetInt("backup.max_chunk_size"); n != 64 {
		t.Errorf("backup.max_chunk_size = %d, want 64", n)
	}
}

func TestLoader_LoadMap(t *testing.T) {
	l := NewLoader()
	if err := l.LoadMap(map[string]any{
		"service.addr": "localhost:3000",
		"debug":        true,
	}); err != nil {
		t.Fatalf("LoadMap() error = %v", err)
	}

	if addr := l.GetString("service.addr"); addr != "localhost:3000" {
		t.Errorf("service.addr = %q, want %q", addr, "localhost:3000")
	}
	if !l.GetBool("debug") {
		t.Error("debug should be true")
	}
}

func TestLoader_Load_Priority(t *testing.T) {
	path := writeConfig(t, `
service:
  addr: "from-file:6186"
backup:
  max_chunk_size: 100
  retry_delay: 1s
log:
  level: warn
`)
	t.Setenv("LEDGERBACKUP_SERVICE__ADDR", "from-env:6186")
	t.Setenv("LEDGERBACKUP_LOG__LEVEL", "debug")

	l := NewLoader(WithConfigFile(path), WithFlags(map[string]any{"log.level": "error"}))

	var cfg testConfig
	cfg.Backup.RetryDelay = time.Minute
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Service.Addr != "from-env:6186" {
		t.Errorf("Addr = %q, env should override file", cfg.Service.Addr)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Level = %q, flags should override env", cfg.Log.Level)
	}
	if cfg.Backup.MaxChunkSize != 100 {
		t.Errorf("MaxChunkSize = %d, want 100", cfg.Backup.MaxChunkSize)
	}
	if cfg.Backup.RetryDelay != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Backup.RetryDelay)
	}
	if !l.IsLoaded() {
		t.Error("IsLoaded() should be true after Load()")
	}
}

func TestLoader_Load_KeepsDefaults(t *testing.T) {
	l := NewLoader(WithEnvPrefix("LEDGERBACKUP_TEST_UNSET_"))

	var cfg testConfig
	cfg.Service.Addr = "default:6186"
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Addr != "default:6186" {
		t.Errorf("Addr = %q, default was overwritten", cfg.Service.Addr)
	}
}

func TestLoader_Reload(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	l := NewLoader(WithConfigFile(path))

	var cfg testConfig
	if err := l.Load(&cfg); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	var reloaded testConfig
	if err := l.Reload(&reloaded); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reloaded.Log.Level != "debug" {
		t.Errorf("Level after reload = %q, want debug", reloaded.Log.Level)
	}
}

func TestLoader_All(t *testing.T) {
	l := NewLoader()
	l.LoadMap(map[string]any{
		"key1": "value1",
		"key2": "value2",
	})

	if all := l.All(); len(all) < 2 {
		t.Errorf("All() returned %d keys, want at least 2", len(all))
	}
}
