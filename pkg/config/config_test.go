package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/datashield/vault/pkg/catalog"
)

func TestLoad_AppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Minimal config: everything not named here comes from defaults.
	configContent := `
logging:
  level: "INFO"

store:
  bucket: "vault-test"

syncer:
  root: "` + filepath.ToSlash(tmpDir) + `/collections"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Catalog.Type != catalog.DatabaseTypeSQLite {
		t.Errorf("Expected default catalog type sqlite, got %q", cfg.Catalog.Type)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected default breaker failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Limiter.BlockDuration != 300*time.Second {
		t.Errorf("Expected default block duration 300s, got %v", cfg.Limiter.BlockDuration)
	}
	if cfg.Syncer.Workers != 4 {
		t.Errorf("Expected default workers 4, got %d", cfg.Syncer.Workers)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default server port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Store.Bucket == "" {
		t.Error("Expected default config to carry a store bucket")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	if err := os.WriteFile(configPath, []byte("logging: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error when loading invalid YAML")
	}
}

func TestLoad_DurationStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
store:
  bucket: "vault-test"

shutdown_timeout: "45s"

breaker:
  cooldown: "1m"

syncer:
  root: "` + filepath.ToSlash(tmpDir) + `"
  coordinator:
    debounce_window: "500ms"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected shutdown_timeout 45s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Breaker.Cooldown != time.Minute {
		t.Errorf("Expected breaker cooldown 1m, got %v", cfg.Breaker.Cooldown)
	}
	if cfg.Syncer.Coordinator.DebounceWindow != 500*time.Millisecond {
		t.Errorf("Expected debounce window 500ms, got %v", cfg.Syncer.Coordinator.DebounceWindow)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

store:
  bucket: "vault-test"

syncer:
  root: "` + filepath.ToSlash(tmpDir) + `"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("VAULT_LOGGING_LEVEL", "DEBUG")
	t.Setenv("VAULT_STORE_BUCKET", "from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Store.Bucket != "from-env" {
		t.Errorf("Expected env override bucket 'from-env', got %q", cfg.Store.Bucket)
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Syncer.Root = filepath.ToSlash(filepath.Join(tmpDir, "collections"))

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected config file mode 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG after round trip, got %q", loaded.Logging.Level)
	}
	if loaded.Syncer.Root != cfg.Syncer.Root {
		t.Errorf("Expected root %q after round trip, got %q", cfg.Syncer.Root, loaded.Syncer.Root)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	tmpDir := t.TempDir()

	_, err := MustLoad(filepath.Join(tmpDir, "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
	if !strings.Contains(err.Error(), "vault init") {
		t.Errorf("Expected error to mention 'vault init', got: %v", err)
	}
}
