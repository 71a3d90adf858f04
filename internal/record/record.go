// Package record owns the per-image command buffers of the render loop.
//
// Draw content is recorded once into secondary buffers, one per swapchain
// image, that continue the scene render pass. Primary buffers only open the
// pass and execute the secondaries, so they are rebuilt when any secondary set
// changes rather than every frame.
package record

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
)

var ErrCommandBufferNotReady = errors.New("draw command buffers have not been populated")

// Kind selects one of the secondary buffer sets executed by the primaries.
type Kind int

const (
	Draw Kind = iota
	Overlay
	numKinds
)

func (k Kind) String() string {
	switch k {
	case Draw:
		return "draw"
	case Overlay:
		return "overlay"
	}
	return "unknown"
}

// Passes provides the render pass instance of each swapchain image.
type Passes interface {
	ImageCount() int
	Pass(imageIndex int) gpu.Pass
}

// RecordFunc records the commands of one secondary buffer.
type RecordFunc func(cb gpu.CommandBuffer, imageIndex int) error

// PrimaryHook records commands into a primary buffer ahead of the render pass.
type PrimaryHook func(cb gpu.CommandBuffer, imageIndex int) error

type set struct {
	buffers []gpu.CommandBuffer
	version uint64
}

func (s *set) populated() bool { return len(s.buffers) > 0 }

type Recorder struct {
	device    gpu.Device
	queue     gpu.Queue
	reclaimer *reclaim.Reclaimer
	passes    Passes

	sets           [numKinds]set
	primaries      []gpu.CommandBuffer
	dirty          bool
	overlayVisible bool
}

func New(device gpu.Device, queue gpu.Queue, reclaimer *reclaim.Reclaimer, passes Passes) *Recorder {
	return &Recorder{
		device:         device,
		queue:          queue,
		reclaimer:      reclaimer,
		passes:         passes,
		overlayVisible: true,
	}
}

// Dirty reports whether the primaries must be rebuilt before the next submit.
func (r *Recorder) Dirty() bool { return r.dirty }

// Populated reports whether the secondary set of kind has been recorded.
func (r *Recorder) Populated(kind Kind) bool { return r.sets[kind].populated() }

// Populate records a fresh secondary set of kind with fn, one buffer per image.
// A previous set is released through the reclaimer. When version is non-zero
// and matches the version of the current set nothing is recorded.
func (r *Recorder) Populate(kind Kind, version uint64, fn RecordFunc) error {
	s := &r.sets[kind]
	if version != 0 && s.populated() && s.version == version {
		return nil
	}

	count := r.passes.ImageCount()
	buffers, err := r.device.AllocateCommandBuffers(gpu.LevelSecondary, count)
	if err != nil {
		return errors.Wrapf(err, "record: allocate %s buffers", kind)
	}
	for i, cb := range buffers {
		if err := r.recordSecondary(cb, i, fn); err != nil {
			r.device.FreeCommandBuffers(buffers)
			return errors.Wrapf(err, "record: %s buffer %d", kind, i)
		}
	}

	r.reclaimer.TrashCommandBuffers(s.buffers)
	s.buffers = buffers
	s.version = version
	r.dirty = true
	logging.Logger().Debug("record: populated secondaries", "kind", kind, "images", count, "version", version)
	return nil
}

func (r *Recorder) recordSecondary(cb gpu.CommandBuffer, imageIndex int, fn RecordFunc) error {
	if err := cb.BeginSecondary(r.passes.Pass(imageIndex)); err != nil {
		return err
	}
	if err := fn(cb, imageIndex); err != nil {
		return err
	}
	return cb.End()
}

// SetOverlayVisible toggles execution of the overlay set.
func (r *Recorder) SetOverlayVisible(visible bool) {
	if r.overlayVisible == visible {
		return
	}
	r.overlayVisible = visible
	if r.sets[Overlay].populated() {
		r.dirty = true
	}
}

// Invalidate drops every recorded buffer. It is used when the swapchain was
// recreated and the framebuffers referenced by the recordings are gone.
func (r *Recorder) Invalidate() {
	for k := range r.sets {
		r.reclaimer.TrashCommandBuffers(r.sets[k].buffers)
		r.sets[k] = set{}
	}
	r.reclaimer.TrashCommandBuffers(r.primaries)
	r.primaries = nil
	r.dirty = true
}

// BuildPrimary re-records every primary buffer if a secondary set changed.
// The queue is drained first since the primaries may still be executing.
func (r *Recorder) BuildPrimary(hook PrimaryHook) error {
	if !r.dirty {
		return nil
	}
	draw := r.sets[Draw].buffers
	if len(draw) == 0 {
		return ErrCommandBufferNotReady
	}

	if err := r.queue.WaitIdle(); err != nil {
		return errors.Wrap(err, "record: wait for queue")
	}

	count := r.passes.ImageCount()
	if len(r.primaries) != count {
		r.reclaimer.TrashCommandBuffers(r.primaries)
		primaries, err := r.device.AllocateCommandBuffers(gpu.LevelPrimary, count)
		if err != nil {
			return errors.Wrap(err, "record: allocate primary buffers")
		}
		r.primaries = primaries
	}

	overlay := r.sets[Overlay].buffers
	for i, cb := range r.primaries {
		secondaries := []gpu.CommandBuffer{draw[i]}
		if r.overlayVisible && len(overlay) == count {
			secondaries = append(secondaries, overlay[i])
		}
		if err := r.recordPrimary(cb, i, hook, secondaries); err != nil {
			return errors.Wrapf(err, "record: primary %d", i)
		}
	}
	r.dirty = false
	return nil
}

func (r *Recorder) recordPrimary(cb gpu.CommandBuffer, imageIndex int, hook PrimaryHook, secondaries []gpu.CommandBuffer) error {
	if err := cb.Reset(); err != nil {
		return err
	}
	if err := cb.Begin(); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(cb, imageIndex); err != nil {
			return err
		}
	}
	if err := cb.BeginRenderPass(r.passes.Pass(imageIndex), true); err != nil {
		return err
	}
	if err := cb.ExecuteCommands(secondaries...); err != nil {
		return err
	}
	cb.EndRenderPass()
	return cb.End()
}

// Primary returns the primary buffer of an image. It is nil until the first BuildPrimary.
func (r *Recorder) Primary(imageIndex int) gpu.CommandBuffer {
	if imageIndex < 0 || imageIndex >= len(r.primaries) {
		return nil
	}
	return r.primaries[imageIndex]
}
