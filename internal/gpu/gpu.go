// Package gpu declares the slice of the Vulkan device surface that the frame
// lifecycle depends on: fences, semaphores, command buffers and queue submission.
//
// The render loop, the recorder, the transfer queue and the reclaimer are written
// against these interfaces. internal/vulkan implements them on top of vkngwrapper.
package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
)

var (
	// ErrOutOfDate reports that the surface changed and the swapchain must be recreated.
	ErrOutOfDate = errors.New("swapchain out of date")
	// ErrTimeout reports that an image could not be acquired in time.
	ErrTimeout = errors.New("swapchain acquire timed out")
	// ErrDeviceLost is fatal.
	ErrDeviceLost = errors.New("device lost")
)

type Level int

const (
	LevelPrimary Level = iota
	LevelSecondary
)

func (l Level) String() string {
	if l == LevelSecondary {
		return "secondary"
	}
	return "primary"
}

// Fence is a GPU to CPU completion signal.
type Fence interface {
	// Signaled polls the fence without blocking.
	Signaled() (bool, error)
	Wait() error
	Reset() error
	Destroy()
}

// Semaphore orders submissions on the GPU.
type Semaphore interface {
	Destroy()
}

// Pass identifies a render pass instance: the pass, the framebuffer of one
// swapchain image and the area to render.
type Pass struct {
	RenderPass  core1_0.RenderPass
	Framebuffer core1_0.Framebuffer
	Extent      core1_0.Extent2D
	ClearValues []core1_0.ClearValue
}

type CommandBuffer interface {
	// Begin starts a reusable primary recording.
	Begin() error
	// BeginOneTime starts a primary recording that is submitted once.
	BeginOneTime() error
	// BeginSecondary starts a secondary recording that continues pass.
	BeginSecondary(pass Pass) error
	End() error
	// Reset returns the buffer to the initial state and releases its resources.
	Reset() error

	// BeginRenderPass opens pass. With secondary set the pass contents
	// come from ExecuteCommands only.
	BeginRenderPass(pass Pass, secondary bool) error
	ExecuteCommands(buffers ...CommandBuffer) error
	EndRenderPass()

	// UpdateBuffer writes data into dst at offset as a transfer command.
	UpdateBuffer(dst core1_0.Buffer, offset int, data []byte) error

	// Raw exposes the underlying buffer for draw recording. Nil outside a real device.
	Raw() core1_0.CommandBuffer
}

// Submit is one batch handed to Queue.Submit.
type Submit struct {
	WaitSemaphores   []Semaphore
	WaitStages       []core1_0.PipelineStageFlags
	CommandBuffers   []CommandBuffer
	SignalSemaphores []Semaphore
}

type Queue interface {
	// Submit queues work. fence may be nil.
	Submit(fence Fence, submit Submit) error
	WaitIdle() error
}

type Device interface {
	AllocateCommandBuffers(level Level, count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers []CommandBuffer)
	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)
	WaitIdle() error
}
