package config

import (
	"flag"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// Config collects the runtime options of the renderer.
type Config struct {
	Title  string
	Width  int
	Height int

	// VSync selects FIFO presentation. When false, MAILBOX is preferred.
	VSync bool
	// FPS is the frame budget target used for pacing.
	FPS int

	Validation bool
	Overlay    bool
	Debug      bool

	AssetsDir string
	Mesh      string
	Texture   string
}

func Default() Config {
	return Config{
		Title:     "Vulkan Scene",
		Width:     1280,
		Height:    720,
		VSync:     true,
		FPS:       60,
		Overlay:   true,
		AssetsDir: "assets",
		Mesh:      "meshes/scene.obj",
		Texture:   "textures/scene.png",
	}
}

// Bind registers the config fields as flags on fs, using the current values as defaults.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Title, "title", c.Title, "window title")
	fs.IntVar(&c.Width, "width", c.Width, "initial window width")
	fs.IntVar(&c.Height, "height", c.Height, "initial window height")
	fs.BoolVar(&c.VSync, "vsync", c.VSync, "wait for vertical blank when presenting")
	fs.IntVar(&c.FPS, "fps", c.FPS, "target frames per second")
	fs.BoolVar(&c.Validation, "validation", c.Validation, "enable Vulkan validation layers")
	fs.BoolVar(&c.Overlay, "overlay", c.Overlay, "draw the text overlay")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "enable debug logging")
	fs.StringVar(&c.AssetsDir, "assets", c.AssetsDir, "directory holding meshes, textures and shaders")
	fs.StringVar(&c.Mesh, "mesh", c.Mesh, "OBJ mesh, relative to the assets directory")
	fs.StringVar(&c.Texture, "texture", c.Texture, "PNG texture, relative to the assets directory")
}

// Parse builds a Config from command line arguments.
func Parse(name string, args []string) (Config, error) {
	cfg := Default()
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.Bind(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return errors.Newf("config: invalid window size %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return errors.Newf("config: fps must be positive, got %d", c.FPS)
	}
	if c.AssetsDir == "" {
		return errors.New("config: assets directory is required")
	}
	return nil
}

// Asset resolves a path relative to the assets directory.
func (c Config) Asset(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(c.AssetsDir, rel)
}
