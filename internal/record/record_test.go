package record

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/gpu/gputest"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
)

type passes int

func (p passes) ImageCount() int   { return int(p) }
func (p passes) Pass(int) gpu.Pass { return gpu.Pass{} }

func noop(gpu.CommandBuffer, int) error { return nil }

func newRecorder(images int) (*gputest.Device, *reclaim.Reclaimer, *Recorder) {
	dev := gputest.NewDevice()
	r := reclaim.New(dev)
	return dev, r, New(dev, dev.Queue(), r, passes(images))
}

func indexOf(events []string, prefix string, from int) int {
	for i := from; i < len(events); i++ {
		if strings.HasPrefix(events[i], prefix) {
			return i
		}
	}
	return -1
}

func TestBuildPrimaryRequiresDrawBuffers(t *testing.T) {
	_, _, rec := newRecorder(2)
	rec.Invalidate()
	if err := rec.BuildPrimary(nil); !errors.Is(err, ErrCommandBufferNotReady) {
		t.Fatalf("err = %v", err)
	}
}

func TestPopulateRecordsOneSecondaryPerImage(t *testing.T) {
	dev, _, rec := newRecorder(3)

	var seen []int
	err := rec.Populate(Draw, 1, func(cb gpu.CommandBuffer, i int) error {
		seen = append(seen, i)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 3 || seen[0] != 0 || seen[2] != 2 {
		t.Fatalf("recorded images %v", seen)
	}
	for _, cb := range dev.Buffers {
		if cb.Level != gpu.LevelSecondary {
			t.Fatalf("%s is %s", cb.ID, cb.Level)
		}
		if cb.Inherited == nil || cb.Recording {
			t.Fatalf("%s not recorded as a render pass continuation", cb.ID)
		}
	}
	if !rec.Dirty() {
		t.Fatal("populate must mark the primaries dirty")
	}
}

func TestBuildPrimaryExecutesSecondaries(t *testing.T) {
	dev, _, rec := newRecorder(2)
	_ = rec.Populate(Draw, 1, noop)
	_ = rec.Populate(Overlay, 1, noop)

	hooked := 0
	if err := rec.BuildPrimary(func(gpu.CommandBuffer, int) error { hooked++; return nil }); err != nil {
		t.Fatal(err)
	}
	if rec.Dirty() {
		t.Fatal("build must clear dirty")
	}
	if hooked != 2 {
		t.Fatalf("hook ran %d times", hooked)
	}

	for i := 0; i < 2; i++ {
		p := rec.Primary(i).(*gputest.CommandBuffer)
		ops := strings.Join(p.Ops(), ",")
		if ops != "begin-pass-secondary,execute,end-pass" {
			t.Fatalf("primary %d ops = %s", i, ops)
		}
		if n := len(p.Commands[1].Executed); n != 2 {
			t.Fatalf("primary %d executes %d buffers, want draw and overlay", i, n)
		}
	}
	if dev.Queue().Idles != 1 {
		t.Fatalf("queue idles = %d", dev.Queue().Idles)
	}
}

func TestHiddenOverlayIsSkipped(t *testing.T) {
	_, _, rec := newRecorder(1)
	_ = rec.Populate(Draw, 1, noop)
	_ = rec.Populate(Overlay, 1, noop)
	_ = rec.BuildPrimary(nil)

	rec.SetOverlayVisible(false)
	if !rec.Dirty() {
		t.Fatal("hiding a populated overlay must dirty the primaries")
	}
	_ = rec.BuildPrimary(nil)
	p := rec.Primary(0).(*gputest.CommandBuffer)
	if n := len(p.Commands[1].Executed); n != 1 {
		t.Fatalf("executes %d buffers, want 1", n)
	}
}

func TestUnchangedContentSkipsRebuild(t *testing.T) {
	dev, _, rec := newRecorder(2)
	_ = rec.Populate(Draw, 7, noop)
	_ = rec.BuildPrimary(nil)
	allocated := len(dev.Buffers)

	if err := rec.Populate(Draw, 7, noop); err != nil {
		t.Fatal(err)
	}
	if rec.Dirty() {
		t.Fatal("same version must leave dirty unset")
	}
	if len(dev.Buffers) != allocated {
		t.Fatal("same version must not allocate")
	}

	events := len(dev.Events)
	if err := rec.BuildPrimary(nil); err != nil {
		t.Fatal(err)
	}
	if len(dev.Events) != events {
		t.Fatalf("clean build touched the device: %v", dev.Events[events:])
	}
}

func TestPrimaryRerecordedOnlyAfterQueueIdle(t *testing.T) {
	dev, r, rec := newRecorder(2)
	_ = rec.Populate(Draw, 1, noop)
	_ = rec.BuildPrimary(nil)

	fence, _ := r.Fences().Acquire()
	if err := dev.Queue().Submit(fence, gpu.Submit{CommandBuffers: []gpu.CommandBuffer{rec.Primary(0)}}); err != nil {
		t.Fatal(err)
	}
	mark := len(dev.Events)

	_ = rec.Populate(Draw, 2, noop)
	if err := rec.BuildPrimary(nil); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	primary := rec.Primary(0).(*gputest.CommandBuffer)
	idle := indexOf(dev.Events, "queue idle", mark)
	reset := indexOf(dev.Events, "reset "+primary.ID, mark)
	if idle < 0 || reset < 0 || idle > reset {
		t.Fatalf("expected queue idle before reset, events %v", dev.Events[mark:])
	}
	if primary.Resets != 2 {
		t.Fatalf("primary resets = %d, want 2", primary.Resets)
	}
}

func TestRepopulateTrashesOldSet(t *testing.T) {
	dev, r, rec := newRecorder(2)
	_ = rec.Populate(Draw, 1, noop)
	old := append([]*gputest.CommandBuffer(nil), dev.Buffers...)

	_ = rec.Populate(Draw, 2, noop)
	for _, cb := range old {
		if cb.Freed {
			t.Fatalf("%s freed immediately", cb.ID)
		}
	}
	if r.DumpsterLen() != 1 {
		t.Fatalf("dumpster = %d, want 1", r.DumpsterLen())
	}

	fence, _ := r.Fences().Acquire()
	r.EmptyDumpster(fence)
	fence.(*gputest.Fence).Signal()
	r.Recycle()
	for _, cb := range old {
		if !cb.Freed {
			t.Fatalf("%s not freed after fence", cb.ID)
		}
	}
}

func TestPopulateFailureKeepsPreviousSet(t *testing.T) {
	_, _, rec := newRecorder(2)
	_ = rec.Populate(Draw, 1, noop)
	_ = rec.BuildPrimary(nil)

	boom := errors.New("boom")
	err := rec.Populate(Draw, 2, func(gpu.CommandBuffer, int) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if rec.Dirty() || !rec.Populated(Draw) {
		t.Fatal("failed populate must keep the previous set")
	}
}
