package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// result maps the Vulkan result codes the render loop reacts to onto the gpu
// sentinels and wraps everything else.
func result(res common.VkResult, err error, op string) error {
	switch res {
	case core1_0.VKErrorDeviceLost:
		return errors.Mark(errors.Wrapf(errOrResult(err, res), "%s", op), gpu.ErrDeviceLost)
	case core1_0.VKTimeout, core1_0.VKNotReady:
		return errors.Mark(errors.Wrapf(errOrResult(err, res), "%s", op), gpu.ErrTimeout)
	}
	if err != nil {
		return errors.Wrap(err, op)
	}
	return nil
}

func errOrResult(err error, res common.VkResult) error {
	if err != nil {
		return err
	}
	return errors.Newf("vulkan result %s", res)
}

// Device implements gpu.Device on the context's logical device and command pool.
type Device struct {
	ctx *Context
}

func NewDevice(ctx *Context) *Device {
	return &Device{ctx: ctx}
}

func (d *Device) AllocateCommandBuffers(level gpu.Level, count int) ([]gpu.CommandBuffer, error) {
	vkLevel := core1_0.CommandBufferLevelPrimary
	if level == gpu.LevelSecondary {
		vkLevel = core1_0.CommandBufferLevelSecondary
	}

	buffers, res, err := d.ctx.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.ctx.commandPool,
		Level:              vkLevel,
		CommandBufferCount: count,
	})
	if err := result(res, err, "allocate command buffers"); err != nil {
		return nil, err
	}

	out := make([]gpu.CommandBuffer, len(buffers))
	for i, b := range buffers {
		out[i] = &CommandBuffer{buffer: b}
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	if len(buffers) == 0 {
		return
	}
	raw := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		raw = append(raw, b.Raw())
	}
	d.ctx.device.FreeCommandBuffers(raw)
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var flags core1_0.FenceCreateFlags
	if signaled {
		flags = core1_0.FenceCreateSignaled
	}
	fence, res, err := d.ctx.device.CreateFence(nil, core1_0.FenceCreateInfo{Flags: flags})
	if err := result(res, err, "create fence"); err != nil {
		return nil, err
	}
	return &Fence{device: d.ctx.device, fence: fence}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, res, err := d.ctx.device.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err := result(res, err, "create semaphore"); err != nil {
		return nil, err
	}
	return &Semaphore{semaphore: semaphore}, nil
}

func (d *Device) WaitIdle() error {
	res, err := d.ctx.device.WaitIdle()
	return result(res, err, "device wait idle")
}

type Fence struct {
	device core1_0.Device
	fence  core1_0.Fence
}

func (f *Fence) Signaled() (bool, error) {
	res, err := f.fence.Status()
	switch res {
	case core1_0.VKSuccess:
		return true, nil
	case core1_0.VKNotReady:
		return false, nil
	}
	return false, result(res, err, "fence status")
}

func (f *Fence) Wait() error {
	res, err := f.fence.Wait(common.NoTimeout)
	return result(res, err, "wait for fence")
}

func (f *Fence) Reset() error {
	res, err := f.device.ResetFences([]core1_0.Fence{f.fence})
	return result(res, err, "reset fence")
}

func (f *Fence) Destroy() {
	f.fence.Destroy(nil)
}

func rawFence(f gpu.Fence) core1_0.Fence {
	if f == nil {
		return nil
	}
	return f.(*Fence).fence
}

type Semaphore struct {
	semaphore core1_0.Semaphore
}

func (s *Semaphore) Destroy() {
	s.semaphore.Destroy(nil)
}

func rawSemaphores(semaphores []gpu.Semaphore) []core1_0.Semaphore {
	raw := make([]core1_0.Semaphore, 0, len(semaphores))
	for _, s := range semaphores {
		raw = append(raw, s.(*Semaphore).semaphore)
	}
	return raw
}

// Queue implements gpu.Queue.
type Queue struct {
	queue core1_0.Queue
}

func NewQueue(queue core1_0.Queue) *Queue {
	return &Queue{queue: queue}
}

func (q *Queue) Submit(fence gpu.Fence, submit gpu.Submit) error {
	buffers := make([]core1_0.CommandBuffer, 0, len(submit.CommandBuffers))
	for _, b := range submit.CommandBuffers {
		buffers = append(buffers, b.Raw())
	}

	res, err := q.queue.Submit(rawFence(fence), []core1_0.SubmitInfo{
		{
			WaitSemaphores:   rawSemaphores(submit.WaitSemaphores),
			WaitDstStageMask: submit.WaitStages,
			CommandBuffers:   buffers,
			SignalSemaphores: rawSemaphores(submit.SignalSemaphores),
		},
	})
	return result(res, err, "queue submit")
}

func (q *Queue) WaitIdle() error {
	res, err := q.queue.WaitIdle()
	return result(res, err, "queue wait idle")
}

// CommandBuffer implements gpu.CommandBuffer.
type CommandBuffer struct {
	buffer core1_0.CommandBuffer
}

func (c *CommandBuffer) Raw() core1_0.CommandBuffer { return c.buffer }

func (c *CommandBuffer) Begin() error {
	res, err := c.buffer.Begin(core1_0.CommandBufferBeginInfo{})
	return result(res, err, "begin command buffer")
}

func (c *CommandBuffer) BeginOneTime() error {
	res, err := c.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	return result(res, err, "begin command buffer")
}

// BeginSecondary records a buffer that continues subpass 0 of pass. It may be
// executed by several primaries at once.
func (c *CommandBuffer) BeginSecondary(pass gpu.Pass) error {
	res, err := c.buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageRenderPassContinue | core1_0.CommandBufferUsageSimultaneousUse,
		InheritanceInfo: &core1_0.CommandBufferInheritanceInfo{
			RenderPass:  pass.RenderPass,
			Subpass:     0,
			Framebuffer: pass.Framebuffer,
		},
	})
	return result(res, err, "begin secondary command buffer")
}

func (c *CommandBuffer) End() error {
	res, err := c.buffer.End()
	return result(res, err, "end command buffer")
}

func (c *CommandBuffer) Reset() error {
	res, err := c.buffer.Reset(core1_0.CommandBufferResetReleaseResources)
	return result(res, err, "reset command buffer")
}

func (c *CommandBuffer) BeginRenderPass(pass gpu.Pass, secondary bool) error {
	contents := core1_0.SubpassContentsInline
	if secondary {
		contents = core1_0.SubpassContentsSecondaryCommandBuffers
	}
	err := c.buffer.CmdBeginRenderPass(contents, core1_0.RenderPassBeginInfo{
		RenderPass:  pass.RenderPass,
		Framebuffer: pass.Framebuffer,
		RenderArea: core1_0.Rect2D{
			Offset: core1_0.Offset2D{X: 0, Y: 0},
			Extent: pass.Extent,
		},
		ClearValues: pass.ClearValues,
	})
	return errors.Wrap(err, "begin render pass")
}

func (c *CommandBuffer) ExecuteCommands(buffers ...gpu.CommandBuffer) error {
	if len(buffers) == 0 {
		return nil
	}
	raw := make([]core1_0.CommandBuffer, 0, len(buffers))
	for _, b := range buffers {
		raw = append(raw, b.Raw())
	}
	c.buffer.CmdExecuteCommands(raw)
	return nil
}

func (c *CommandBuffer) EndRenderPass() {
	c.buffer.CmdEndRenderPass()
}

func (c *CommandBuffer) UpdateBuffer(dst core1_0.Buffer, offset int, data []byte) error {
	c.buffer.CmdUpdateBuffer(dst, offset, len(data), data)
	return nil
}
