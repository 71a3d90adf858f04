// Package transfer batches small buffer writes and submits them on a one-shot
// command buffer chained behind the frame that produced them.
package transfer

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/logging"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
)

// MaxUpdateSize is the largest write a single inline buffer update can carry.
const MaxUpdateSize = 65536

var ErrInvalidUpdate = errors.New("invalid buffer update")

// Update is a pending write of Data into Buffer at Offset.
type Update struct {
	Buffer core1_0.Buffer
	Offset int
	Data   []byte
}

func (u Update) Size() int { return len(u.Data) }

type Queue struct {
	device    gpu.Device
	reclaimer *reclaim.Reclaimer
	pending   []Update
}

func New(device gpu.Device, reclaimer *reclaim.Reclaimer) *Queue {
	return &Queue{device: device, reclaimer: reclaimer}
}

// Enqueue records u for the next Flush. The data is copied.
func (q *Queue) Enqueue(u Update) error {
	size := len(u.Data)
	switch {
	case size == 0:
		return errors.Wrap(ErrInvalidUpdate, "empty data")
	case size > MaxUpdateSize:
		return errors.Wrapf(ErrInvalidUpdate, "size %d exceeds %d", size, MaxUpdateSize)
	case size%4 != 0:
		return errors.Wrapf(ErrInvalidUpdate, "size %d is not a multiple of 4", size)
	case u.Offset < 0 || u.Offset%4 != 0:
		return errors.Wrapf(ErrInvalidUpdate, "offset %d is not a non-negative multiple of 4", u.Offset)
	}
	u.Data = append([]byte(nil), u.Data...)
	q.pending = append(q.pending, u)
	return nil
}

// Len returns the number of queued updates.
func (q *Queue) Len() int { return len(q.pending) }

// Flush records every queued update, in order, into one command buffer and
// submits it to queue. The submission waits for pending (signaled by the frame
// that queued the updates) and signals the returned semaphore, which the next
// frame must wait on. The command buffer and pending are released through the
// reclaimer once the transfer completes. Flush on an empty queue returns nil.
func (q *Queue) Flush(queue gpu.Queue, pending gpu.Semaphore) (gpu.Semaphore, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	if pending == nil {
		return nil, errors.AssertionFailedf("transfer: flush of %d updates without a wait semaphore", len(q.pending))
	}

	buffers, err := q.device.AllocateCommandBuffers(gpu.LevelPrimary, 1)
	if err != nil {
		return nil, errors.Wrap(err, "transfer: allocate command buffer")
	}
	cb := buffers[0]

	if err := q.record(cb); err != nil {
		q.device.FreeCommandBuffers(buffers)
		return nil, err
	}

	complete, err := q.device.CreateSemaphore()
	if err != nil {
		q.device.FreeCommandBuffers(buffers)
		return nil, errors.Wrap(err, "transfer: create semaphore")
	}
	fence, err := q.reclaimer.Fences().Acquire()
	if err != nil {
		complete.Destroy()
		q.device.FreeCommandBuffers(buffers)
		return nil, err
	}

	err = queue.Submit(fence, gpu.Submit{
		WaitSemaphores:   []gpu.Semaphore{pending},
		WaitStages:       []core1_0.PipelineStageFlags{core1_0.PipelineStageAllCommands},
		CommandBuffers:   buffers,
		SignalSemaphores: []gpu.Semaphore{complete},
	})
	if err != nil {
		complete.Destroy()
		q.device.FreeCommandBuffers(buffers)
		_ = q.reclaimer.Fences().Release(fence)
		return nil, errors.Wrap(err, "transfer: submit")
	}

	q.reclaimer.Watch(fence, pending.Destroy, func() {
		q.device.FreeCommandBuffers(buffers)
	})
	logging.Logger().Debug("transfer: flushed", "updates", len(q.pending))
	q.pending = q.pending[:0]
	return complete, nil
}

func (q *Queue) record(cb gpu.CommandBuffer) error {
	if err := cb.BeginOneTime(); err != nil {
		return errors.Wrap(err, "transfer: begin")
	}
	for i, u := range q.pending {
		if err := cb.UpdateBuffer(u.Buffer, u.Offset, u.Data); err != nil {
			return errors.Wrapf(err, "transfer: update %d", i)
		}
	}
	if err := cb.End(); err != nil {
		return errors.Wrap(err, "transfer: end")
	}
	return nil
}
