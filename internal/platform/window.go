// Package platform owns the SDL window and translates its events into render
// loop input and camera controls.
package platform

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core"

	"github.com/vkngwrapper/vulkan-scene/internal/camera"
	"github.com/vkngwrapper/vulkan-scene/internal/frame"
)

type Window struct {
	window *sdl.Window

	keys      map[sdl.Keycode]bool
	mouseLeft bool
	dx, dy    int32
	minimized bool
}

// NewWindow initializes SDL video and opens a resizable Vulkan window.
func NewWindow(title string, width, height int) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "platform: init sdl")
	}

	window, err := sdl.CreateWindow(title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(width), int32(height), sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "platform: create window")
	}

	return &Window{
		window: window,
		keys:   make(map[sdl.Keycode]bool),
	}, nil
}

// SDL exposes the window for surface creation.
func (w *Window) SDL() *sdl.Window { return w.window }

// Loader builds a Vulkan loader from SDL's vkGetInstanceProcAddr.
func (w *Window) Loader() (core.Loader, error) {
	loader, err := core.CreateLoaderFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	return loader, errors.Wrap(err, "platform: create loader")
}

// Size is the current drawable size in pixels.
func (w *Window) Size() (int, int) {
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

func (w *Window) SetTitle(title string) {
	w.window.SetTitle(title)
}

// Poll drains the SDL event queue.
func (w *Window) Poll() frame.InputState {
	var state frame.InputState
	w.dx, w.dy = 0, 0

	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			state.Quit = true
		case *sdl.KeyboardEvent:
			if e.Keysym.Sym == sdl.K_ESCAPE && e.State == sdl.PRESSED {
				state.Quit = true
			}
			w.keys[e.Keysym.Sym] = e.State == sdl.PRESSED
		case *sdl.MouseMotionEvent:
			w.dx += e.XRel
			w.dy += e.YRel
		case *sdl.MouseButtonEvent:
			if e.Button == sdl.BUTTON_LEFT {
				w.mouseLeft = e.State == sdl.PRESSED
			}
		case *sdl.WindowEvent:
			switch e.Event {
			case sdl.WINDOWEVENT_MINIMIZED:
				w.minimized = true
			case sdl.WINDOWEVENT_RESTORED:
				w.minimized = false
				state.Resized = true
			case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
				width, height := w.Size()
				w.minimized = width == 0 || height == 0
				state.Resized = true
			}
		}
	}

	if (w.window.GetFlags() & sdl.WINDOW_MINIMIZED) != 0 {
		w.minimized = true
	}
	state.Minimized = w.minimized
	return state
}

// Controls maps the keyboard and mouse state to camera controls. Shift
// switches the movement keys to world axes and disables the arrow keys.
func (w *Window) Controls() camera.Controls {
	k := w.keys
	return camera.Controls{
		Forward:   k[sdl.K_w],
		Back:      k[sdl.K_s],
		Left:      k[sdl.K_a],
		Right:     k[sdl.K_d],
		Down:      k[sdl.K_q],
		Up:        k[sdl.K_e],
		World:     k[sdl.K_LSHIFT] || k[sdl.K_RSHIFT],
		TurnLeft:  k[sdl.K_LEFT],
		TurnRight: k[sdl.K_RIGHT],
		Drag:      w.mouseLeft,
		DX:        float32(w.dx),
		DY:        float32(w.dy),
	}
}

func (w *Window) Destroy() {
	if w.window != nil {
		_ = w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}
