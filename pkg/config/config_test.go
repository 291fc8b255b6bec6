package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadConfigMissingFile tests that a missing file yields the defaults
func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.NumWorkers < 1 {
		t.Errorf("expected at least one worker, got %d", cfg.Processing.NumWorkers)
	}
	if cfg.Logging.Mode != "dev" {
		t.Errorf("expected dev logging, got %s", cfg.Logging.Mode)
	}
}

// TestSaveAndLoadConfig tests that a saved configuration loads back unchanged
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.NumWorkers = 3
	cfg.Profiles.Path = "profiles.yaml"
	cfg.Store.BaseURL = "https://pacs.example.org"
	cfg.Output.Pretty = false
	cfg.Logging.Mode = "prod"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("loaded config %+v does not match saved %+v", *loaded, *cfg)
	}
}

// TestLoadConfigPartial tests that keys absent from the file keep their defaults
func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("processing:\n  numWorkers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.NumWorkers != 2 {
		t.Errorf("expected 2 workers, got %d", cfg.Processing.NumWorkers)
	}
	if cfg.Output.Dir != "reports" {
		t.Errorf("expected default output dir, got %s", cfg.Output.Dir)
	}
}

// TestLoadConfigInvalid tests that out of range settings are rejected
func TestLoadConfigInvalid(t *testing.T) {
	tests := map[string]string{
		"zero workers": "processing:\n  numWorkers: 0\n",
		"bad mode":     "logging:\n  mode: verbose\n",
		"bad yaml":     "processing: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

// TestCreateDefaultConfigFile tests that the default file can be written and read
func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := CreateDefaultConfigFile(path); err != nil {
		t.Fatalf("CreateDefaultConfigFile failed: %v", err)
	}
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
}
