package frame

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/gpu/gputest"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/record"
	"github.com/vkngwrapper/vulkan-scene/internal/swapchain"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
)

type fakeTargets struct {
	dev      *gputest.Device
	sc       *swapchain.Manager
	rebuilds int
}

func (t *fakeTargets) ImageCount() int   { return t.sc.ImageCount() }
func (t *fakeTargets) Pass(int) gpu.Pass { return gpu.Pass{} }
func (t *fakeTargets) Rebuild() error {
	t.rebuilds++
	t.dev.Events = append(t.dev.Events, "targets rebuild")
	return nil
}

type fakeScene struct {
	transfers *transfer.Queue
	// uploads maps a frame number, starting at 1, to the sizes enqueued by it.
	uploads map[int][]int
	frames  int
	resized int
	lines   []string
	onFrame func()
}

func (s *fakeScene) Update(time.Duration) error {
	s.frames++
	if s.onFrame != nil {
		s.onFrame()
	}
	for _, size := range s.uploads[s.frames] {
		if err := s.transfers.Enqueue(transfer.Update{Data: make([]byte, size)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeScene) DrawVersion() uint64                     { return 1 }
func (s *fakeScene) RecordDraw(gpu.CommandBuffer, int) error { return nil }

func (s *fakeScene) Resized() error {
	s.resized++
	return nil
}

type textScene struct {
	fakeScene
}

func (s *textScene) OverlayText(Stats) []string { return s.lines }

type fakeOverlay struct {
	texts   [][]string
	primary int
}

func (o *fakeOverlay) Visible() bool                       { return true }
func (o *fakeOverlay) Version() uint64                     { return 1 }
func (o *fakeOverlay) Record(gpu.CommandBuffer, int) error { return nil }

func (o *fakeOverlay) SetText(lines []string) error {
	o.texts = append(o.texts, lines)
	return nil
}

func (o *fakeOverlay) RecordPrimary(gpu.CommandBuffer, int) error {
	o.primary++
	return nil
}

type scriptedInput struct {
	states []InputState
	polls  int
}

// Poll replays the scripted states and then asks to quit.
func (in *scriptedInput) Poll() InputState {
	if in.polls >= len(in.states) {
		return InputState{Quit: true}
	}
	s := in.states[in.polls]
	in.polls++
	return s
}

func frames(n int) []InputState {
	return make([]InputState, n)
}

type harness struct {
	dev       *gputest.Device
	backend   *gputest.Swapchain
	sc        *swapchain.Manager
	targets   *fakeTargets
	transfers *transfer.Queue
	input     *scriptedInput
	clock     time.Duration
	sleeps    []time.Duration
}

func newHarness(images int, states []InputState) *harness {
	dev := gputest.NewDevice()
	return &harness{
		dev:     dev,
		backend: gputest.NewSwapchain(dev, images),
		targets: &fakeTargets{dev: dev},
		input:   &scriptedInput{states: states},
	}
}

func (h *harness) orchestrator(t *testing.T, scene Scene, overlay Overlay) *Orchestrator {
	t.Helper()
	r := reclaim.New(h.dev)
	h.sc = swapchain.New(h.backend, r.Fences(), true)
	h.targets.sc = h.sc
	h.transfers = transfer.New(h.dev, r)
	switch s := scene.(type) {
	case *fakeScene:
		s.transfers = h.transfers
	case *textScene:
		s.transfers = h.transfers
	}
	cfg := Config{
		Device:    h.dev,
		Queue:     h.dev.Queue(),
		Swapchain: h.sc,
		Targets:   h.targets,
		Recorder:  record.New(h.dev, h.dev.Queue(), r, h.targets),
		Reclaimer: r,
		Transfers: h.transfers,
		Scene:     scene,
		Input:     h.input,
		Overlay:   overlay,
		Clock:     func() time.Duration { return h.clock },
		Sleep: func(d time.Duration) {
			h.sleeps = append(h.sleeps, d)
			h.clock += d
		},
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return o
}

// frameSubmissions filters out transfer submissions.
func (h *harness) frameSubmissions() []gputest.Submission {
	var out []gputest.Submission
	for _, s := range h.dev.Queue().Submissions {
		if s.WaitStages[0] != core1_0.PipelineStageAllCommands {
			out = append(out, s)
		}
	}
	return out
}

func (h *harness) checkReleased(t *testing.T) {
	t.Helper()
	if len(h.dev.Violations) != 0 {
		t.Fatalf("violations: %v", h.dev.Violations)
	}
	if n := h.dev.LiveSemaphores(); n != 0 {
		t.Fatalf("%d semaphores leaked", n)
	}
	for _, cb := range h.dev.Buffers {
		if !cb.Freed {
			t.Fatalf("%s leaked", cb.ID)
		}
	}
	for _, f := range h.dev.Fences {
		if !f.Destroyed {
			t.Fatalf("%s leaked", f.ID)
		}
	}
}

func indexFrom(events []string, prefix string, from int) int {
	for i := from; i < len(events); i++ {
		if strings.HasPrefix(events[i], prefix) {
			return i
		}
	}
	return -1
}

func TestRunPresentsEveryImage(t *testing.T) {
	h := newHarness(3, frames(4))
	scene := &fakeScene{}
	o := h.orchestrator(t, scene, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := h.backend.Presented
	want := []int{0, 1, 2, 0}
	if len(got) != len(want) {
		t.Fatalf("presented %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("presented %v, want %v", got, want)
		}
	}
	for i, s := range h.frameSubmissions() {
		if len(s.WaitSemaphores) != 1 {
			t.Fatalf("frame %d waits on %d semaphores", i, len(s.WaitSemaphores))
		}
		if s.Fence == nil {
			t.Fatalf("frame %d is not fenced", i)
		}
	}
	if o.State() != Idle {
		t.Fatalf("state = %s", o.State())
	}
	if o.Stats().Frames != 4 {
		t.Fatalf("frames = %d", o.Stats().Frames)
	}
	h.checkReleased(t)
}

func TestPendingTransferIsWaitedOnByNextFrame(t *testing.T) {
	h := newHarness(2, frames(3))
	scene := &fakeScene{uploads: map[int][]int{1: {16, 32, 64}}}
	o := h.orchestrator(t, scene, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	subs := h.dev.Queue().Submissions
	if len(subs) != 4 {
		t.Fatalf("submissions = %d, want 3 frames and 1 transfer", len(subs))
	}
	first, xfer, second, third := subs[0], subs[1], subs[2], subs[3]

	if len(first.SignalSemaphores) != 2 {
		t.Fatalf("first frame signals %d semaphores, want render and transfer pending", len(first.SignalSemaphores))
	}
	if xfer.WaitSemaphores[0] != first.SignalSemaphores[1] {
		t.Fatal("transfer must wait on the frame that queued it")
	}
	updates := xfer.CommandBuffers[0].(*gputest.CommandBuffer).Commands
	if len(updates) != 3 || len(updates[0].Data) != 16 || len(updates[2].Data) != 64 {
		t.Fatalf("transfer recorded %d updates", len(updates))
	}

	if len(second.WaitSemaphores) != 2 {
		t.Fatalf("second frame waits on %d semaphores, want 2", len(second.WaitSemaphores))
	}
	if second.WaitSemaphores[1] != xfer.SignalSemaphores[0] {
		t.Fatal("second frame must wait on transfer completion")
	}
	for _, stage := range []core1_0.PipelineStageFlags{
		core1_0.PipelineStageTransfer,
		core1_0.PipelineStageVertexShader,
		core1_0.PipelineStageFragmentShader,
	} {
		if second.WaitStages[1]&stage != stage {
			t.Errorf("transfer wait stages %v do not cover %v", second.WaitStages[1], stage)
		}
	}
	if len(second.SignalSemaphores) != 1 {
		t.Fatal("no transfers queued, only render complete should be signaled")
	}
	if len(third.WaitSemaphores) != 1 {
		t.Fatalf("third frame waits on %d semaphores, want 1", len(third.WaitSemaphores))
	}
	if h.transfers.Len() != 0 {
		t.Fatal("transfer queue not empty")
	}
	h.checkReleased(t)
}

func TestOutOfDateAcquireRebuildsTargetsFirst(t *testing.T) {
	h := newHarness(2, frames(3))
	scene := &fakeScene{}
	o := h.orchestrator(t, scene, nil)
	h.backend.AcquireErrs = []error{gpu.ErrOutOfDate}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := h.dev.Events
	failed := indexFrom(events, "acquire failed", 0)
	if failed < 0 {
		t.Fatal("acquire never failed")
	}
	idle := indexFrom(events, "device idle", failed)
	create := indexFrom(events, "swapchain create", failed)
	rebuild := indexFrom(events, "targets rebuild", failed)
	acquired := indexFrom(events, "acquire 0", failed)
	if idle < 0 || create < idle || rebuild < create || acquired < rebuild {
		t.Fatalf("unexpected recovery order: %v", events[failed:])
	}
	if h.targets.rebuilds != 2 || scene.resized != 2 {
		t.Fatalf("rebuilds %d resized %d, want 2 each", h.targets.rebuilds, scene.resized)
	}
	if len(h.backend.Presented) != 2 {
		t.Fatalf("presented %d frames, want 2", len(h.backend.Presented))
	}
	h.checkReleased(t)
}

func TestOutOfDatePresentRecovers(t *testing.T) {
	h := newHarness(2, frames(2))
	o := h.orchestrator(t, &fakeScene{}, nil)
	h.backend.PresentErrs = []error{gpu.ErrOutOfDate}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.backend.Creates != 2 {
		t.Fatalf("swapchain created %d times, want 2", h.backend.Creates)
	}
	h.checkReleased(t)
}

func TestAcquireTimeoutSkipsFrame(t *testing.T) {
	h := newHarness(2, frames(2))
	scene := &fakeScene{}
	o := h.orchestrator(t, scene, nil)
	h.backend.AcquireErrs = []error{gpu.ErrTimeout}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if scene.frames != 2 {
		t.Fatalf("updated %d frames, want 2", scene.frames)
	}
	if n := len(h.frameSubmissions()); n != 1 {
		t.Fatalf("submitted %d frames, want 1", n)
	}
	if len(h.backend.Presented) != 1 {
		t.Fatalf("presented %d frames, want 1", len(h.backend.Presented))
	}
	if h.backend.Creates != 1 {
		t.Fatalf("swapchain created %d times, a timeout must not recreate", h.backend.Creates)
	}
	h.checkReleased(t)
}

func surfaceHasNoArea() error {
	return errors.Mark(errors.New("surface has no area (0x0)"), gpu.ErrOutOfDate)
}

func TestZeroAreaSurfaceDefersInitialCreate(t *testing.T) {
	h := newHarness(2, frames(2))
	scene := &fakeScene{}
	o := h.orchestrator(t, scene, nil)
	h.backend.CreateErrs = []error{surfaceHasNoArea()}

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.backend.Creates != 1 || h.targets.rebuilds != 1 {
		t.Fatalf("creates %d rebuilds %d, want 1 each", h.backend.Creates, h.targets.rebuilds)
	}
	if len(h.backend.Presented) != 2 {
		t.Fatalf("presented %d frames, want 2", len(h.backend.Presented))
	}
	h.checkReleased(t)
}

func TestZeroAreaSurfaceSkipsFramesUntilRecreated(t *testing.T) {
	h := newHarness(2, []InputState{{}, {Resized: true}, {}, {}})
	scene := &fakeScene{}
	scene.onFrame = func() {
		if scene.frames == 1 {
			h.backend.CreateErrs = []error{surfaceHasNoArea()}
		}
	}
	o := h.orchestrator(t, scene, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if scene.frames != 3 {
		t.Fatalf("updated %d frames, want 3", scene.frames)
	}
	if len(h.backend.Acquired) != 3 || len(h.backend.Presented) != 3 {
		t.Fatalf("acquired %d presented %d, want 3 each", len(h.backend.Acquired), len(h.backend.Presented))
	}
	if h.backend.Creates != 2 || scene.resized != 2 {
		t.Fatalf("creates %d resized %d, want 2 each", h.backend.Creates, scene.resized)
	}
	h.checkReleased(t)
}

func TestResizeEventRecreatesSwapchain(t *testing.T) {
	h := newHarness(2, []InputState{{}, {Resized: true}, {}})
	o := h.orchestrator(t, &fakeScene{}, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.backend.Creates != 2 || h.targets.rebuilds != 2 {
		t.Fatalf("creates %d rebuilds %d", h.backend.Creates, h.targets.rebuilds)
	}
	if len(h.backend.Presented) != 3 {
		t.Fatalf("presented %d", len(h.backend.Presented))
	}
	h.checkReleased(t)
}

func TestMinimizedSkipsRendering(t *testing.T) {
	h := newHarness(2, []InputState{{Minimized: true}, {Minimized: true}, {}})
	o := h.orchestrator(t, &fakeScene{}, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.backend.Acquired) != 1 {
		t.Fatalf("acquired %d images, want 1", len(h.backend.Acquired))
	}
	if len(h.sleeps) != 3 {
		t.Fatalf("paced %d iterations, want 3", len(h.sleeps))
	}
}

func TestDeviceLostIsFatal(t *testing.T) {
	h := newHarness(2, frames(3))
	o := h.orchestrator(t, &fakeScene{}, nil)
	h.backend.AcquireErrs = []error{gpu.ErrDeviceLost}

	err := o.Run(context.Background())
	if !errors.Is(err, gpu.ErrDeviceLost) {
		t.Fatalf("err = %v", err)
	}
	if len(h.backend.Presented) != 0 {
		t.Fatal("presented after device loss")
	}
	h.checkReleased(t)
}

func TestPacingSleepsRemainderOfBudget(t *testing.T) {
	h := newHarness(2, frames(3))
	scene := &fakeScene{}
	scene.onFrame = func() { h.clock += 5 * time.Millisecond }
	o := h.orchestrator(t, scene, nil)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := o.Budget() - 5*time.Millisecond
	if len(h.sleeps) != 3 {
		t.Fatalf("sleeps = %v", h.sleeps)
	}
	for _, d := range h.sleeps {
		if d != want {
			t.Fatalf("slept %v, want %v", d, want)
		}
	}
	if o.Stats().FrameTime != 5*time.Millisecond {
		t.Fatalf("frame time = %v", o.Stats().FrameTime)
	}
}

func TestPacingSkipsSleepWhenOverBudget(t *testing.T) {
	h := newHarness(2, frames(2))
	scene := &fakeScene{}
	o := h.orchestrator(t, scene, nil)
	scene.onFrame = func() { h.clock += o.Budget() + time.Millisecond }

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(h.sleeps) != 0 {
		t.Fatalf("slept %v over budget", h.sleeps)
	}
}

func TestStatsReportedEverySecond(t *testing.T) {
	h := newHarness(2, frames(70))
	o := h.orchestrator(t, &fakeScene{}, nil)
	var reports []Stats
	o.onStats = func(s Stats) { reports = append(reports, s) }

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(reports))
	}
	if fps := reports[0].FPS; fps < 55 || fps > 65 {
		t.Fatalf("fps = %.1f", fps)
	}
}

func TestOverlayTextAndPrimaryHook(t *testing.T) {
	h := newHarness(2, frames(3))
	scene := &textScene{fakeScene{lines: []string{"camera 0 0 0"}}}
	overlay := &fakeOverlay{}
	o := h.orchestrator(t, scene, overlay)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(overlay.texts) != 1 {
		t.Fatalf("overlay text set %d times for unchanged text", len(overlay.texts))
	}
	if overlay.primary != 2 {
		t.Fatalf("primary hook ran %d times, want once per image", overlay.primary)
	}
	for _, s := range h.frameSubmissions() {
		p := s.CommandBuffers[0].(*gputest.CommandBuffer)
		if n := len(p.Commands[1].Executed); n != 2 {
			t.Fatalf("primary executes %d secondaries, want draw and overlay", n)
		}
	}
	h.checkReleased(t)
}

func TestCancelledContextStops(t *testing.T) {
	h := newHarness(2, frames(10))
	o := h.orchestrator(t, &fakeScene{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := o.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.backend.Acquired) != 0 {
		t.Fatal("rendered after cancel")
	}
	h.checkReleased(t)
}
