package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LISTEN_ADDR", "API_BASE_URL", "API_TIMEOUT", "DATABASE_DRIVER", "CAMERA_BACKEND", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.APIBaseURL != "http://localhost:8001" {
		t.Fatalf("unexpected api base url: %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 30*time.Second {
		t.Fatalf("unexpected api timeout: %v", cfg.APITimeout)
	}
	if cfg.DatabaseDriver != DatabaseDriverSQLite {
		t.Fatalf("unexpected database driver: %s", cfg.DatabaseDriver)
	}
	if cfg.CameraBackend != CameraBackendNone {
		t.Fatalf("unexpected camera backend: %s", cfg.CameraBackend)
	}
	if cfg.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected upload limit: %d", cfg.MaxUploadBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://plants.example.com/")
	t.Setenv("API_TIMEOUT", "5s")
	t.Setenv("CAMERA_BACKEND", "mock")
	t.Setenv("CAMERA_USER_DEVICE", "2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.APIBaseURL != "https://plants.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.APIBaseURL)
	}
	if cfg.APITimeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %v", cfg.APITimeout)
	}
	if cfg.CameraBackend != CameraBackendMock || cfg.CameraUserDevice != 2 {
		t.Fatalf("unexpected camera config: %+v", cfg)
	}
}

func TestLoadRedisAddr(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("expected empty REDIS_ADDR to disable the cache, got %q", cfg.RedisAddr)
	}

	if err := os.Unsetenv("REDIS_ADDR"); err != nil {
		t.Fatalf("unset REDIS_ADDR: %v", err)
	}
	cfg, err = Load()
	if err != nil {
		t.Fatalf("expected config, got %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("expected default redis addr, got %q", cfg.RedisAddr)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CAMERA_BACKEND", "webcam9000")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "CAMERA_BACKEND") {
		t.Fatalf("expected camera backend problem, got %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := &Config{DatabaseDriver: "mongo", CameraBackend: CameraBackendNone}
	problems := cfg.Validate()
	if len(problems) < 5 {
		t.Fatalf("expected several problems, got %v", problems)
	}
}
