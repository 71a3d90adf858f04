package config

import (
	"path/filepath"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("scene", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestParseFlags(t *testing.T) {
	cfg, err := Parse("scene", []string{"-width", "640", "-height", "480", "-vsync=false", "-fps", "30", "-assets", "/data"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Width != 640 || cfg.Height != 480 {
		t.Errorf("size = %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.VSync {
		t.Error("vsync should be off")
	}
	if cfg.FPS != 30 {
		t.Errorf("fps = %d", cfg.FPS)
	}
	if got := cfg.Asset("shaders/mesh.vert.spv"); got != filepath.Join("/data", "shaders/mesh.vert.spv") {
		t.Errorf("asset path = %s", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero width", func(c *Config) { c.Width = 0 }},
		{"negative height", func(c *Config) { c.Height = -1 }},
		{"zero fps", func(c *Config) { c.FPS = 0 }},
		{"no assets", func(c *Config) { c.AssetsDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
