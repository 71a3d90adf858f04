package frame

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/record"
	"github.com/vkngwrapper/vulkan-scene/internal/swapchain"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
)

const DefaultFPS = 60

// TransferWaitStages is where a frame waits for the transfers flushed behind
// the previous one: copies out of transferred buffers and the shaders that
// read transferred uniforms.
var TransferWaitStages = core1_0.PipelineStageTransfer |
	core1_0.PipelineStageVertexShader |
	core1_0.PipelineStageFragmentShader

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Device    gpu.Device
	Queue     gpu.Queue
	Swapchain *swapchain.Manager
	Targets   Targets
	Recorder  *record.Recorder
	Reclaimer *reclaim.Reclaimer
	Transfers *transfer.Queue
	Scene     Scene
	Input     Input
	// Overlay is optional.
	Overlay Overlay

	// FPS sets the frame budget. Defaults to DefaultFPS.
	FPS int
	// OnStats is called about once a second with fresh statistics.
	OnStats func(Stats)

	// Clock and Sleep default to hrtime.Now and time.Sleep.
	Clock func() time.Duration
	Sleep func(time.Duration)
}

type Orchestrator struct {
	device    gpu.Device
	queue     gpu.Queue
	swapchain *swapchain.Manager
	targets   Targets
	recorder  *record.Recorder
	reclaimer *reclaim.Reclaimer
	transfers *transfer.Queue
	scene     Scene
	input     Input
	overlay   Overlay
	hooks     []PrimaryRecorder

	budget  time.Duration
	onStats func(Stats)
	now     func() time.Duration
	sleep   func(time.Duration)

	acquireComplete  gpu.Semaphore
	renderComplete   gpu.Semaphore
	transferComplete gpu.Semaphore

	state        State
	stats        Stats
	windowStart  time.Duration
	windowFrames int
	overlayText  []string
	recreate     bool
	closed       bool
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Device == nil || cfg.Queue == nil || cfg.Swapchain == nil || cfg.Targets == nil ||
		cfg.Recorder == nil || cfg.Reclaimer == nil || cfg.Transfers == nil || cfg.Scene == nil || cfg.Input == nil {
		return nil, errors.New("frame: incomplete config")
	}
	fps := cfg.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	o := &Orchestrator{
		device:    cfg.Device,
		queue:     cfg.Queue,
		swapchain: cfg.Swapchain,
		targets:   cfg.Targets,
		recorder:  cfg.Recorder,
		reclaimer: cfg.Reclaimer,
		transfers: cfg.Transfers,
		scene:     cfg.Scene,
		input:     cfg.Input,
		overlay:   cfg.Overlay,
		budget:    time.Second / time.Duration(fps),
		onStats:   cfg.OnStats,
		now:       cfg.Clock,
		sleep:     cfg.Sleep,
	}
	if o.now == nil {
		o.now = hrtime.Now
	}
	if o.sleep == nil {
		o.sleep = time.Sleep
	}
	if h, ok := cfg.Scene.(PrimaryRecorder); ok {
		o.hooks = append(o.hooks, h)
	}
	if h, ok := cfg.Overlay.(PrimaryRecorder); ok {
		o.hooks = append(o.hooks, h)
	}

	var err error
	if o.acquireComplete, err = o.device.CreateSemaphore(); err != nil {
		return nil, errors.Wrap(err, "frame: create acquire semaphore")
	}
	if o.renderComplete, err = o.device.CreateSemaphore(); err != nil {
		o.acquireComplete.Destroy()
		return nil, errors.Wrap(err, "frame: create render semaphore")
	}
	return o, nil
}

func (o *Orchestrator) State() State { return o.state }
func (o *Orchestrator) Stats() Stats { return o.stats }

// Budget is the target duration of one frame.
func (o *Orchestrator) Budget() time.Duration { return o.budget }

// Run renders frames until the input reports quit or ctx is cancelled, then
// waits for the device to go idle and releases everything owned by the loop.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := o.Shutdown(); err == nil {
			err = cerr
		}
	}()

	if o.swapchain.ImageCount() == 0 {
		err = o.Recreate()
	} else {
		err = o.populate()
	}
	if err != nil {
		return err
	}

	last := o.now()
	o.windowStart = last
	for ctx.Err() == nil {
		start := o.now()
		in := o.input.Poll()
		if in.Quit {
			break
		}
		if in.Resized {
			o.recreate = true
		}
		if !in.Minimized {
			if err := o.Frame(start - last); err != nil {
				return err
			}
		}
		last = start
		o.pace(start)
	}
	return nil
}

// pace sleeps away whatever remains of the frame budget.
func (o *Orchestrator) pace(start time.Duration) {
	elapsed := o.now() - start
	o.stats.FrameTime = elapsed
	if elapsed < o.budget {
		o.sleep(o.budget - elapsed)
	}
}

// Frame runs one iteration of the render loop. A frame lost to an out of date
// swapchain is not an error: the swapchain is rebuilt before the next frame.
func (o *Orchestrator) Frame(dt time.Duration) error {
	if o.recreate {
		if err := o.Recreate(); err != nil {
			return err
		}
		if o.recreate {
			return nil
		}
	}

	if err := o.scene.Update(dt); err != nil {
		return errors.Wrap(err, "frame: update scene")
	}
	if err := o.refreshOverlay(); err != nil {
		return err
	}
	if err := o.populate(); err != nil {
		return err
	}

	if o.recorder.Dirty() {
		o.state = Recording
		if err := o.recorder.BuildPrimary(o.recordPrimary); err != nil {
			o.state = Idle
			return err
		}
	}

	o.state = Acquiring
	index, err := o.swapchain.AcquireNextImage(o.acquireComplete)
	if err != nil {
		o.state = Idle
		return o.surfaceError("acquire", err)
	}

	o.state = Submitting
	if err := o.submit(index); err != nil {
		o.state = Idle
		return err
	}

	o.state = Presenting
	err = o.swapchain.QueuePresent(o.renderComplete)
	o.state = Idle
	if err != nil {
		return o.surfaceError("present", err)
	}
	o.countFrame()
	return nil
}

func (o *Orchestrator) surfaceError(op string, err error) error {
	log := logging.Logger()
	switch {
	case errors.Is(err, gpu.ErrOutOfDate):
		log.Info("frame: swapchain out of date", "op", op)
		o.recreate = true
		return nil
	case errors.Is(err, gpu.ErrTimeout):
		log.Warn("frame: skipped", "op", op, "error", err)
		return nil
	}
	return errors.Wrapf(err, "frame: %s", op)
}

// submit hands the primary buffer of imageIndex to the queue, then flushes
// the transfers queued during the frame behind it.
func (o *Orchestrator) submit(imageIndex int) error {
	fence, err := o.swapchain.SubmitFence(imageIndex)
	if err != nil {
		return err
	}
	o.reclaimer.Trash(func() { o.swapchain.ClearSubmitFence(imageIndex, fence) })

	waits := []gpu.Semaphore{o.acquireComplete}
	stages := []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}
	if o.transferComplete != nil {
		waits = append(waits, o.transferComplete)
		stages = append(stages, TransferWaitStages)
		o.reclaimer.TrashSemaphore(o.transferComplete)
		o.transferComplete = nil
	}

	o.reclaimer.EmptyDumpster(fence)

	signals := []gpu.Semaphore{o.renderComplete}
	var transferPending gpu.Semaphore
	if o.transfers.Len() > 0 {
		transferPending, err = o.device.CreateSemaphore()
		if err != nil {
			return errors.Wrap(err, "frame: create transfer semaphore")
		}
		signals = append(signals, transferPending)
	}

	primary := o.recorder.Primary(imageIndex)
	if primary == nil {
		return errors.Wrapf(record.ErrCommandBufferNotReady, "frame: no primary for image %d", imageIndex)
	}
	err = o.queue.Submit(fence, gpu.Submit{
		WaitSemaphores:   waits,
		WaitStages:       stages,
		CommandBuffers:   []gpu.CommandBuffer{primary},
		SignalSemaphores: signals,
	})
	if err != nil {
		return errors.Wrap(err, "frame: submit")
	}

	o.transferComplete, err = o.transfers.Flush(o.queue, transferPending)
	if err != nil {
		return err
	}
	o.reclaimer.Recycle()
	return nil
}

// Recreate rebuilds the swapchain and everything that depends on it. When the
// surface cannot hold a swapchain yet, the rebuild stays pending and frames
// are skipped until it succeeds.
func (o *Orchestrator) Recreate() error {
	if err := o.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "frame: wait for device")
	}
	o.reclaimer.Recycle()

	if err := o.swapchain.Create(); err != nil {
		if errors.Is(err, gpu.ErrOutOfDate) {
			logging.Logger().Info("frame: swapchain recreate deferred", "error", err)
			o.recreate = true
			return nil
		}
		return err
	}
	if err := o.targets.Rebuild(); err != nil {
		return errors.Wrap(err, "frame: rebuild render targets")
	}
	o.recorder.Invalidate()
	if err := o.scene.Resized(); err != nil {
		return errors.Wrap(err, "frame: resize scene")
	}
	o.recreate = false
	return o.populate()
}

func (o *Orchestrator) populate() error {
	if err := o.recorder.Populate(record.Draw, o.scene.DrawVersion(), o.scene.RecordDraw); err != nil {
		return err
	}
	if o.overlay == nil {
		return nil
	}
	o.recorder.SetOverlayVisible(o.overlay.Visible())
	return o.recorder.Populate(record.Overlay, o.overlay.Version(), o.overlay.Record)
}

func (o *Orchestrator) refreshOverlay() error {
	if o.overlay == nil || !o.overlay.Visible() {
		return nil
	}
	provider, ok := o.scene.(OverlayTextProvider)
	if !ok {
		return nil
	}
	lines := provider.OverlayText(o.stats)
	if slices.Equal(lines, o.overlayText) {
		return nil
	}
	if err := o.overlay.SetText(lines); err != nil {
		return errors.Wrap(err, "frame: overlay text")
	}
	o.overlayText = append(o.overlayText[:0], lines...)
	return nil
}

func (o *Orchestrator) recordPrimary(cb gpu.CommandBuffer, imageIndex int) error {
	for _, h := range o.hooks {
		if err := h.RecordPrimary(cb, imageIndex); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) countFrame() {
	o.stats.Frames++
	o.windowFrames++
	now := o.now()
	if window := now - o.windowStart; window >= time.Second {
		o.stats.FPS = float64(o.windowFrames) / window.Seconds()
		o.windowFrames = 0
		o.windowStart = now
		if o.onStats != nil {
			o.onStats(o.stats)
		}
	}
}

// Shutdown waits until the GPU is idle and releases the loop's resources.
// It is safe to call more than once.
func (o *Orchestrator) Shutdown() error {
	if o.closed {
		return nil
	}
	o.closed = true

	if err := o.queue.WaitIdle(); err != nil {
		return errors.Wrap(err, "frame: wait for queue")
	}
	if err := o.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "frame: wait for device")
	}

	o.recorder.Invalidate()
	if o.transferComplete != nil {
		o.reclaimer.TrashSemaphore(o.transferComplete)
		o.transferComplete = nil
	}
	if err := o.reclaimer.Drain(); err != nil {
		return err
	}
	o.acquireComplete.Destroy()
	o.renderComplete.Destroy()
	return nil
}
