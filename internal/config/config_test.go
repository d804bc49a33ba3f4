package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":3000" || cfg.StoreDriver != "sqlite" || cfg.DatabaseURL != defaultSQLiteURL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SessionTTL != 24*time.Hour || cfg.SessionSweepInterval != time.Minute {
		t.Fatalf("unexpected session defaults: %v %v", cfg.SessionTTL, cfg.SessionSweepInterval)
	}
	if cfg.DefaultDeviceID != "air780e_01" || cfg.DefaultViewerPassword != "admin" {
		t.Fatalf("unexpected device/viewer defaults: %+v", cfg)
	}
	if cfg.RedisURL != "" || cfg.LoginMaxAttempts != 10 || cfg.LoginWindow != 15*time.Minute {
		t.Fatalf("unexpected throttle defaults: %+v", cfg)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "3")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9000" || cfg.SessionTTL != 2*time.Hour || cfg.LoginMaxAttempts != 3 {
		t.Fatalf("expected environment overrides, got %+v", cfg)
	}
	if cfg.DatabaseURL != defaultPostgresURL {
		t.Fatalf("expected postgres default url, got %s", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://localhost:6379/1" {
		t.Fatalf("unexpected redis url %s", cfg.RedisURL)
	}
}

func TestLoadFromFileWithEnvironmentPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := "DEFAULT_DEVICE_ID: device-from-file\nCORS_ORIGIN: https://console.example\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RELAY_CONFIG_FILE", path)
	t.Setenv("CORS_ORIGIN", "https://override.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultDeviceID != "device-from-file" {
		t.Fatalf("expected file value, got %s", cfg.DefaultDeviceID)
	}
	if cfg.CORSOrigin != "https://override.example" {
		t.Fatalf("expected env to win over file, got %s", cfg.CORSOrigin)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	t.Setenv("DEVICE_TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestLoadNormalizesDriverAliases(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	for _, driver := range []string{"pgx", "PostgreSQL", " postgres "} {
		t.Setenv("STORE_DRIVER", driver)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() with %q error = %v", driver, err)
		}
		if cfg.StoreDriver != DriverPostgres || cfg.DatabaseURL != defaultPostgresURL {
			t.Fatalf("expected %q to select postgres defaults, got %s %s", driver, cfg.StoreDriver, cfg.DatabaseURL)
		}
	}

	t.Setenv("STORE_DRIVER", "sqlite3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreDriver != DriverSQLite || cfg.DatabaseURL != defaultSQLiteURL {
		t.Fatalf("expected sqlite defaults, got %s %s", cfg.StoreDriver, cfg.DatabaseURL)
	}

	t.Setenv("STORE_DRIVER", "mysql")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.10 ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	prefixes, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		t.Fatalf("TrustedProxyPrefixes() error = %v", err)
	}
	if len(prefixes) != 2 || prefixes[0].String() != "10.0.0.0/8" || prefixes[1].String() != "192.168.1.10/32" {
		t.Fatalf("unexpected prefixes: %v", prefixes)
	}

	t.Setenv("TRUSTED_PROXIES", "not-an-ip")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid trusted proxy")
	}
}

func TestLoadDefaultsTrustNoProxy(t *testing.T) {
	t.Setenv("RELAY_CONFIG_FILE", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.TrustedProxies) != 0 {
		t.Fatalf("expected no trusted proxies by default, got %v", cfg.TrustedProxies)
	}
}
