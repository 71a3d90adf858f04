// Package swapchain tracks the presentable images of a surface and the fence
// of the last submission that rendered into each of them.
package swapchain

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
)

// Backend is the device side of a swapchain.
type Backend interface {
	// Create (re)builds the swapchain for the current surface size and returns its image count.
	Create(vsync bool) (int, error)
	// AcquireNextImage returns the next presentable image. signal fires when
	// the image may be written. Returns gpu.ErrOutOfDate when the surface changed.
	AcquireNextImage(signal gpu.Semaphore) (int, error)
	// Present queues imageIndex for presentation once wait fires.
	Present(imageIndex int, wait gpu.Semaphore) error
}

// FenceSource provides unsignaled fences.
type FenceSource interface {
	Acquire() (gpu.Fence, error)
}

type Manager struct {
	backend Backend
	fences  FenceSource
	vsync   bool

	slots      []gpu.Fence
	current    int
	generation int
}

func New(backend Backend, fences FenceSource, vsync bool) *Manager {
	return &Manager{backend: backend, fences: fences, vsync: vsync, current: -1}
}

// Create builds the swapchain, replacing any previous one. The device must be
// idle: slot fences from the old swapchain are forgotten, not waited on.
func (m *Manager) Create() error {
	count, err := m.backend.Create(m.vsync)
	if err != nil {
		return errors.Wrap(err, "swapchain: create")
	}
	if count <= 0 {
		return errors.Newf("swapchain: backend reported %d images", count)
	}
	m.slots = make([]gpu.Fence, count)
	m.current = -1
	m.generation++
	logging.Logger().Info("swapchain: created", "images", count, "vsync", m.vsync, "generation", m.generation)
	return nil
}

// ImageCount is the number of presentable images.
func (m *Manager) ImageCount() int { return len(m.slots) }

// Generation increments every time the swapchain is recreated.
func (m *Manager) Generation() int { return m.generation }

// Current is the index of the last acquired image, or -1.
func (m *Manager) Current() int { return m.current }

// AcquireNextImage blocks until an image is available and signals acquired
// when it can be rendered to.
func (m *Manager) AcquireNextImage(acquired gpu.Semaphore) (int, error) {
	index, err := m.backend.AcquireNextImage(acquired)
	if err != nil {
		return -1, err
	}
	if index < 0 || index >= len(m.slots) {
		return -1, errors.AssertionFailedf("swapchain: acquired image %d of %d", index, len(m.slots))
	}
	m.current = index
	return index, nil
}

// SubmitFence returns the fence for the submission that renders into
// imageIndex. A fence left by an earlier submission to the same image is
// waited on first.
func (m *Manager) SubmitFence(imageIndex int) (gpu.Fence, error) {
	if old := m.slots[imageIndex]; old != nil {
		if err := old.Wait(); err != nil {
			return nil, errors.Wrapf(err, "swapchain: wait for image %d", imageIndex)
		}
	}
	fence, err := m.fences.Acquire()
	if err != nil {
		return nil, err
	}
	m.slots[imageIndex] = fence
	return fence, nil
}

// ClearSubmitFence empties the slot of imageIndex if it still holds fence.
func (m *Manager) ClearSubmitFence(imageIndex int, fence gpu.Fence) {
	if imageIndex < len(m.slots) && m.slots[imageIndex] == fence {
		m.slots[imageIndex] = nil
	}
}

// SlotFence exposes the fence currently stored for imageIndex.
func (m *Manager) SlotFence(imageIndex int) gpu.Fence { return m.slots[imageIndex] }

// QueuePresent presents the current image once renderComplete fires.
func (m *Manager) QueuePresent(renderComplete gpu.Semaphore) error {
	if m.current < 0 {
		return errors.AssertionFailedf("swapchain: present without an acquired image")
	}
	return m.backend.Present(m.current, renderComplete)
}
