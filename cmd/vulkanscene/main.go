// Command vulkanscene renders a textured mesh with a free-flying camera and a
// text overlay.
//
// Only the GLSL shader sources are checked in. Compile them to SPIR-V before
// the first run:
//
//	go generate ./cmd/vulkanscene
//
// This needs glslc from the Vulkan SDK on the PATH and writes the .spv files
// next to their sources in assets/shaders.
package main

//go:generate glslc ../../assets/shaders/mesh.vert -o ../../assets/shaders/mesh.vert.spv
//go:generate glslc ../../assets/shaders/mesh.frag -o ../../assets/shaders/mesh.frag.spv
//go:generate glslc ../../assets/shaders/overlay.vert -o ../../assets/shaders/overlay.vert.spv
//go:generate glslc ../../assets/shaders/overlay.frag -o ../../assets/shaders/overlay.frag.spv

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/assets"
	"github.com/vkngwrapper/vulkan-scene/internal/config"
	"github.com/vkngwrapper/vulkan-scene/internal/frame"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
	"github.com/vkngwrapper/vulkan-scene/internal/platform"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/record"
	"github.com/vkngwrapper/vulkan-scene/internal/scene"
	"github.com/vkngwrapper/vulkan-scene/internal/swapchain"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
	"github.com/vkngwrapper/vulkan-scene/internal/vulkan"
)

func init() {
	// SDL must be driven from the main thread.
	runtime.LockOSThread()
}

type App struct {
	cfg config.Config

	window    *platform.Window
	ctx       *vulkan.Context
	swapchain *vulkan.Swapchain
	targets   *vulkan.Targets
	reclaimer *reclaim.Reclaimer
	scene     *scene.Scene
	overlay   *scene.TextOverlay
	loop      *frame.Orchestrator
}

func (app *App) Run(ctx context.Context) error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.window.Destroy()

	err = app.initVulkan()
	defer app.cleanup()
	if err != nil {
		return err
	}

	return app.loop.Run(ctx)
}

func (app *App) initWindow() error {
	window, err := platform.NewWindow(app.cfg.Title, app.cfg.Width, app.cfg.Height)
	if err != nil {
		return err
	}
	app.window = window
	return nil
}

func (app *App) initVulkan() error {
	loader, err := app.window.Loader()
	if err != nil {
		return err
	}

	app.ctx, err = vulkan.NewContext(loader, app.window.SDL(), vulkan.Options{
		ApplicationName: app.cfg.Title,
		Validation:      app.cfg.Validation,
	})
	if err != nil {
		return err
	}

	device := vulkan.NewDevice(app.ctx)
	queue := vulkan.NewQueue(app.ctx.GraphicsQueue())

	app.reclaimer = reclaim.New(device)
	app.swapchain = vulkan.NewSwapchain(app.ctx)
	manager := swapchain.New(app.swapchain, app.reclaimer.Fences(), app.cfg.VSync)
	app.targets = vulkan.NewTargets(app.ctx, app.swapchain)
	transfers := transfer.New(device, app.reclaimer)
	recorder := record.New(device, queue, app.reclaimer, app.targets)

	mesh, err := assets.LoadOBJ(app.cfg.Asset(app.cfg.Mesh))
	if err != nil {
		return err
	}
	texture, err := assets.LoadImage(app.cfg.Asset(app.cfg.Texture))
	if err != nil {
		return err
	}
	meshVert, meshFrag, err := app.loadShaders("mesh")
	if err != nil {
		return err
	}

	var overlay frame.Overlay
	if app.cfg.Overlay {
		overlayVert, overlayFrag, err := app.loadShaders("overlay")
		if err != nil {
			return err
		}
		app.overlay, err = scene.NewTextOverlay(scene.OverlayConfig{
			Context:        app.ctx,
			Targets:        app.targets,
			Transfers:      transfers,
			Reclaimer:      app.reclaimer,
			VertexShader:   overlayVert,
			FragmentShader: overlayFrag,
			Visible:        true,
		})
		if err != nil {
			return err
		}
		overlay = app.overlay
	}

	app.scene, err = scene.New(scene.Config{
		Context:        app.ctx,
		Targets:        app.targets,
		Transfers:      transfers,
		Reclaimer:      app.reclaimer,
		Input:          app.window,
		Mesh:           mesh,
		Texture:        texture,
		VertexShader:   meshVert,
		FragmentShader: meshFrag,
		Overlay:        app.overlay,
	})
	if err != nil {
		return err
	}

	app.loop, err = frame.New(frame.Config{
		Device:    device,
		Queue:     queue,
		Swapchain: manager,
		Targets:   app.targets,
		Recorder:  recorder,
		Reclaimer: app.reclaimer,
		Transfers: transfers,
		Scene:     app.scene,
		Input:     app.window,
		Overlay:   overlay,
		FPS:       app.cfg.FPS,
		OnStats:   app.showStats,
	})
	return err
}

func (app *App) loadShaders(name string) ([]uint32, []uint32, error) {
	vert, err := assets.LoadShader(app.cfg.Asset("shaders/" + name + ".vert.spv"))
	if err != nil {
		return nil, nil, err
	}
	frag, err := assets.LoadShader(app.cfg.Asset("shaders/" + name + ".frag.spv"))
	if err != nil {
		return nil, nil, err
	}
	return vert, frag, nil
}

func (app *App) showStats(stats frame.Stats) {
	app.window.SetTitle(fmt.Sprintf("%s - %s - %.0f fps", app.cfg.Title, app.ctx.DeviceName(), stats.FPS))
	logging.Logger().Debug("frame stats",
		"frames", stats.Frames,
		"frameTime", stats.FrameTime,
		"fps", stats.FPS)
}

// cleanup runs after the loop has shut down, so the device is idle and the
// reclaimer has been drained.
func (app *App) cleanup() {
	if app.ctx == nil {
		return
	}
	if app.loop == nil {
		// The loop never ran; nothing else waits for the device.
		if _, err := app.ctx.Device().WaitIdle(); err != nil {
			logging.Logger().Warn("wait for device", "error", err)
		}
		if app.reclaimer != nil {
			if err := app.reclaimer.Drain(); err != nil {
				logging.Logger().Warn("drain reclaimer", "error", err)
			}
		}
	}

	if app.scene != nil {
		app.scene.Destroy()
	}
	if app.overlay != nil {
		app.overlay.Destroy()
	}
	if app.targets != nil {
		app.targets.Destroy()
	}
	if app.swapchain != nil {
		app.swapchain.Destroy()
	}
	app.ctx.Destroy()
}

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if err != nil {
		log.Fatalf("%+v\n", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := &App{cfg: cfg}
	err = app.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if hint := errors.FlattenHints(err); hint != "" {
			log.Printf("hint: %s", hint)
		}
		log.Fatalf("%+v\n", err)
	}
}
