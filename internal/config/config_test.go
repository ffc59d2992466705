package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.BaseURL != DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Transfers != DefaultTransfers || cfg.Connections != DefaultConnections {
		t.Errorf("pool sizes = %d/%d", cfg.Transfers, cfg.Connections)
	}
	if cfg.Language != "it" {
		t.Errorf("Language = %q", cfg.Language)
	}
}

func TestIsIgnoredModule(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.IgnoredModules = []string{"wiki"}
	tests := []struct {
		modname string
		want    bool
	}{
		{"forum", true},
		{"quiz", true},
		{"label", true},
		{"wiki", true},
		{"resource", false},
		{"kalvidres", false},
	}
	for _, tt := range tests {
		t.Run(tt.modname, func(t *testing.T) {
			t.Parallel()
			if got := cfg.IsIgnoredModule(tt.modname); got != tt.want {
				t.Errorf("IsIgnoredModule(%q) = %v, want %v", tt.modname, got, tt.want)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `base_url: https://moodle.example.edu
language: en
transfers: 4
ignored_modules:
  - wiki
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "https://moodle.example.edu" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Language != "en" {
		t.Errorf("Language = %q", cfg.Language)
	}
	if cfg.Transfers != 4 {
		t.Errorf("Transfers = %d", cfg.Transfers)
	}
	// Untouched keys keep their defaults.
	if cfg.Connections != DefaultConnections {
		t.Errorf("Connections = %d", cfg.Connections)
	}
	if cfg.KalturaPartnerID != DefaultKalturaPartnerID {
		t.Errorf("KalturaPartnerID = %q", cfg.KalturaPartnerID)
	}
	if !cfg.IsIgnoredModule("wiki") || !cfg.IsIgnoredModule("forum") {
		t.Error("ignored modules should extend the built-in list")
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, ErrConfigNotFound) {
		t.Fatalf("err = %v, want ErrConfigNotFound", err)
	}
}

func TestLoadNoPathNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing config without explicit path should not error: %v", err)
	}
	if cfg.BaseURL == "" {
		t.Error("expected defaults")
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("base_url: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}
