// Package reclaim defers the destruction of GPU objects until the submission
// that may still reference them has completed.
//
// Cleanups are first collected in a dumpster. EmptyDumpster seals the dumpster
// behind the fence of the submission being issued, and Recycle later runs the
// cleanups of every sealed entry whose fence has signaled.
package reclaim

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
)

type entry struct {
	fence    gpu.Fence
	cleanups []func()
}

type Reclaimer struct {
	device   gpu.Device
	fences   *FencePool
	dumpster []func()
	queue    []entry
}

func New(device gpu.Device) *Reclaimer {
	return &Reclaimer{
		device: device,
		fences: NewFencePool(device),
	}
}

// Fences returns the pool that recycled fences are returned to.
func (r *Reclaimer) Fences() *FencePool {
	return r.fences
}

// Trash schedules cleanups to run once the next sealed fence signals.
func (r *Reclaimer) Trash(cleanups ...func()) {
	for _, c := range cleanups {
		if c != nil {
			r.dumpster = append(r.dumpster, c)
		}
	}
}

// TrashCommandBuffers schedules buffers to be freed.
func (r *Reclaimer) TrashCommandBuffers(buffers []gpu.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	owned := append([]gpu.CommandBuffer(nil), buffers...)
	r.Trash(func() { r.device.FreeCommandBuffers(owned) })
}

// TrashSemaphore schedules sem to be destroyed.
func (r *Reclaimer) TrashSemaphore(sem gpu.Semaphore) {
	if sem == nil {
		return
	}
	r.Trash(sem.Destroy)
}

// EmptyDumpster moves everything trashed so far behind fence. fence must be
// submitted before the next Recycle. It is reset and handed back to the pool
// once the cleanups have run.
func (r *Reclaimer) EmptyDumpster(fence gpu.Fence) {
	r.queue = append(r.queue, entry{fence: fence, cleanups: r.dumpster})
	r.dumpster = nil
}

// Watch queues cleanups directly behind fence, bypassing the dumpster.
func (r *Reclaimer) Watch(fence gpu.Fence, cleanups ...func()) {
	r.queue = append(r.queue, entry{fence: fence, cleanups: cleanups})
}

// Recycle runs the cleanups of every entry whose fence has signaled. Entries
// are checked in submission order and Recycle never blocks. It returns the
// number of entries reclaimed.
func (r *Reclaimer) Recycle() int {
	log := logging.Logger()
	kept := r.queue[:0]
	reclaimed := 0
	for _, e := range r.queue {
		done, err := e.fence.Signaled()
		if err != nil {
			log.Warn("reclaim: fence status", "error", err)
		}
		if !done {
			kept = append(kept, e)
			continue
		}
		r.release(e)
		reclaimed++
	}
	for i := len(kept); i < len(r.queue); i++ {
		r.queue[i] = entry{}
	}
	r.queue = kept
	if reclaimed > 0 {
		log.Debug("reclaim: recycled", "entries", reclaimed, "pending", len(r.queue))
	}
	return reclaimed
}

func (r *Reclaimer) release(e entry) {
	for _, c := range e.cleanups {
		c()
	}
	if err := r.fences.Release(e.fence); err != nil {
		logging.Logger().Warn("reclaim: fence reset", "error", err)
		e.fence.Destroy()
	}
}

// Drain runs every queued cleanup, sealed or not, and destroys the pooled
// fences. The device must be idle.
func (r *Reclaimer) Drain() error {
	for _, e := range r.queue {
		done, err := e.fence.Signaled()
		if err != nil {
			return errors.Wrap(err, "reclaim: drain")
		}
		if !done {
			return errors.New("reclaim: drain with an unsignaled fence, device not idle")
		}
	}
	for _, e := range r.queue {
		r.release(e)
	}
	r.queue = nil
	for _, c := range r.dumpster {
		c()
	}
	r.dumpster = nil
	r.fences.Destroy()
	return nil
}

// Pending is the number of sealed entries waiting on a fence.
func (r *Reclaimer) Pending() int { return len(r.queue) }

// DumpsterLen is the number of cleanups not yet sealed behind a fence.
func (r *Reclaimer) DumpsterLen() int { return len(r.dumpster) }
