// Package frame drives the render loop: it rebuilds dirty command buffers,
// acquires a swapchain image, submits the frame with its semaphore chain,
// flushes pending buffer transfers, reclaims retired resources and presents.
package frame

import (
	"time"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// State is the phase of the frame currently in progress.
type State int

const (
	Idle State = iota
	Acquiring
	Recording
	Submitting
	Presenting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Recording:
		return "recording"
	case Submitting:
		return "submitting"
	case Presenting:
		return "presenting"
	}
	return "unknown"
}

// Stats describes recent frame timing.
type Stats struct {
	Frames uint64
	// FrameTime is the CPU time spent on the last frame, pacing sleep excluded.
	FrameTime time.Duration
	// FPS is measured over the last full second.
	FPS float64
}

// InputState is the result of one input poll.
type InputState struct {
	Quit      bool
	Resized   bool
	Minimized bool
}

type Input interface {
	Poll() InputState
}

// Targets owns the attachments and framebuffers rendered into for each
// swapchain image.
type Targets interface {
	ImageCount() int
	Pass(imageIndex int) gpu.Pass
	// Rebuild recreates the depth-stencil, render pass and framebuffers for
	// the current swapchain.
	Rebuild() error
}

// Scene supplies the content of the frame.
type Scene interface {
	// Update advances the scene by dt. It may queue buffer transfers.
	Update(dt time.Duration) error
	// DrawVersion changes whenever RecordDraw would record different commands.
	// Zero forces a re-record every frame.
	DrawVersion() uint64
	RecordDraw(cb gpu.CommandBuffer, imageIndex int) error
	// Resized is called after the swapchain and its targets were recreated.
	Resized() error
}

// Overlay is drawn over the scene in the same render pass.
type Overlay interface {
	Visible() bool
	Version() uint64
	SetText(lines []string) error
	Record(cb gpu.CommandBuffer, imageIndex int) error
}

// OverlayTextProvider is implemented by scenes that put text in the overlay.
type OverlayTextProvider interface {
	OverlayText(stats Stats) []string
}

// PrimaryRecorder is implemented by collaborators that record into the
// primary command buffers ahead of the render pass.
type PrimaryRecorder interface {
	RecordPrimary(cb gpu.CommandBuffer, imageIndex int) error
}
