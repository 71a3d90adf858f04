package swapchain

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/gpu/gputest"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
)

func newManager(images int) (*gputest.Device, *gputest.Swapchain, *Manager) {
	dev := gputest.NewDevice()
	backend := gputest.NewSwapchain(dev, images)
	m := New(backend, reclaim.NewFencePool(dev), true)
	return dev, backend, m
}

func TestCreateSizesSlots(t *testing.T) {
	_, backend, m := newManager(3)
	if err := m.Create(); err != nil {
		t.Fatal(err)
	}
	if m.ImageCount() != 3 || m.Generation() != 1 {
		t.Fatalf("images %d generation %d", m.ImageCount(), m.Generation())
	}

	backend.Images = 2
	_ = m.Create()
	if m.ImageCount() != 2 || m.Generation() != 2 {
		t.Fatalf("images %d generation %d", m.ImageCount(), m.Generation())
	}
}

func TestSubmitFenceWaitsForPreviousUse(t *testing.T) {
	_, _, m := newManager(2)
	_ = m.Create()

	first, err := m.SubmitFence(0)
	if err != nil {
		t.Fatal(err)
	}
	if first.(*gputest.Fence).Waits != 0 {
		t.Fatal("fresh slot must not wait")
	}

	second, _ := m.SubmitFence(0)
	if first.(*gputest.Fence).Waits != 1 {
		t.Fatal("reusing an image must wait on its previous fence")
	}
	if second == first || m.SlotFence(0) != second {
		t.Fatal("slot must hold the new fence")
	}
}

func TestClearSubmitFenceOnlyClearsOwnFence(t *testing.T) {
	_, _, m := newManager(2)
	_ = m.Create()

	old, _ := m.SubmitFence(1)
	current, _ := m.SubmitFence(1)

	m.ClearSubmitFence(1, old)
	if m.SlotFence(1) != current {
		t.Fatal("clearing a stale fence must keep the current one")
	}
	m.ClearSubmitFence(1, current)
	if m.SlotFence(1) != nil {
		t.Fatal("slot not cleared")
	}
}

func TestAcquireAndPresent(t *testing.T) {
	_, backend, m := newManager(2)
	_ = m.Create()
	sem := &gputest.Semaphore{}

	if err := m.QueuePresent(sem); err == nil {
		t.Fatal("present without acquire must fail")
	}

	index, err := m.AcquireNextImage(sem)
	if err != nil || index != 0 || m.Current() != 0 {
		t.Fatalf("index %d err %v", index, err)
	}
	if err := m.QueuePresent(sem); err != nil {
		t.Fatal(err)
	}
	if len(backend.Presented) != 1 || backend.Presented[0] != 0 {
		t.Fatalf("presented %v", backend.Presented)
	}

	backend.AcquireErrs = []error{gpu.ErrOutOfDate}
	if _, err := m.AcquireNextImage(sem); !errors.Is(err, gpu.ErrOutOfDate) {
		t.Fatalf("err = %v", err)
	}
}
