// Package gputest provides in-memory implementations of the gpu interfaces.
// Every call is appended to the owning Device's event log so tests can assert
// on ordering, and fences only signal when a test (or an idle wait) says so.
package gputest

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

type Device struct {
	Events []string
	// Violations collects lifetime errors that cannot be reported through a return value.
	Violations []string

	Fences     []*Fence
	Semaphores []*Semaphore
	Buffers    []*CommandBuffer

	AllocErr  error
	SubmitErr error

	queue  *Queue
	nextID int
}

func NewDevice() *Device {
	d := &Device{}
	d.queue = &Queue{dev: d}
	return d
}

// Queue returns the single queue of the device.
func (d *Device) Queue() *Queue { return d.queue }

func (d *Device) logf(format string, args ...any) {
	d.Events = append(d.Events, fmt.Sprintf(format, args...))
}

func (d *Device) id(prefix string) string {
	d.nextID++
	return fmt.Sprintf("%s%d", prefix, d.nextID)
}

func (d *Device) AllocateCommandBuffers(level gpu.Level, count int) ([]gpu.CommandBuffer, error) {
	if d.AllocErr != nil {
		return nil, d.AllocErr
	}
	out := make([]gpu.CommandBuffer, 0, count)
	for i := 0; i < count; i++ {
		cb := &CommandBuffer{dev: d, ID: d.id("cb"), Level: level}
		d.Buffers = append(d.Buffers, cb)
		d.logf("allocate %s %s", level, cb.ID)
		out = append(out, cb)
	}
	return out, nil
}

func (d *Device) FreeCommandBuffers(buffers []gpu.CommandBuffer) {
	for _, b := range buffers {
		cb := b.(*CommandBuffer)
		if cb.InFlight() {
			d.Violations = append(d.Violations, cb.ID+" freed while in flight")
		}
		if cb.Freed {
			d.Violations = append(d.Violations, cb.ID+" freed twice")
		}
		cb.Freed = true
		d.logf("free %s", cb.ID)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	f := &Fence{dev: d, ID: d.id("fence"), signaled: signaled}
	d.Fences = append(d.Fences, f)
	d.logf("create %s", f.ID)
	return f, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	s := &Semaphore{dev: d, ID: d.id("sem")}
	d.Semaphores = append(d.Semaphores, s)
	d.logf("create %s", s.ID)
	return s, nil
}

func (d *Device) WaitIdle() error {
	d.logf("device idle")
	d.queue.complete()
	return nil
}

// LiveSemaphores counts semaphores that were created and not destroyed.
func (d *Device) LiveSemaphores() int {
	n := 0
	for _, s := range d.Semaphores {
		if !s.Destroyed {
			n++
		}
	}
	return n
}

type Fence struct {
	ID        string
	Destroyed bool
	Resets    int
	Waits     int

	dev      *Device
	signaled bool
}

// Signal marks the fence complete, as the GPU would.
func (f *Fence) Signal() { f.signaled = true }

func (f *Fence) Signaled() (bool, error) {
	if f.Destroyed {
		return false, errors.Newf("%s used after destroy", f.ID)
	}
	return f.signaled, nil
}

// Wait completes immediately: the fake GPU finishes whatever the fence guards.
func (f *Fence) Wait() error {
	if f.Destroyed {
		return errors.Newf("%s used after destroy", f.ID)
	}
	f.Waits++
	f.signaled = true
	f.dev.logf("wait %s", f.ID)
	return nil
}

func (f *Fence) Reset() error {
	f.Resets++
	f.signaled = false
	f.dev.logf("reset %s", f.ID)
	return nil
}

func (f *Fence) Destroy() {
	f.Destroyed = true
	f.dev.logf("destroy %s", f.ID)
}

type Semaphore struct {
	ID        string
	Destroyed bool

	dev *Device
}

func (s *Semaphore) Destroy() {
	if s.Destroyed {
		s.dev.Violations = append(s.dev.Violations, s.ID+" destroyed twice")
	}
	s.Destroyed = true
	s.dev.logf("destroy %s", s.ID)
}

// Command is one recorded command.
type Command struct {
	Op       string
	Pass     gpu.Pass
	Executed []gpu.CommandBuffer
	Buffer   core1_0.Buffer
	Offset   int
	Data     []byte
}

type CommandBuffer struct {
	ID        string
	Level     gpu.Level
	Commands  []Command
	Recording bool
	Begins    int
	Resets    int
	Freed     bool
	// Inherited is the pass given to BeginSecondary.
	Inherited *gpu.Pass

	dev        *Device
	submitted  bool
	fence      *Fence
	fenceEpoch int
}

// InFlight reports whether the last submission of the buffer may still execute.
func (c *CommandBuffer) InFlight() bool {
	if !c.submitted {
		return false
	}
	if c.fence == nil {
		return true
	}
	return !c.fence.signaled && c.fence.Resets == c.fenceEpoch
}

func (c *CommandBuffer) check(op string) error {
	if c.Freed {
		return errors.Newf("%s: %s after free", c.ID, op)
	}
	if c.InFlight() {
		return errors.Newf("%s: %s while in flight", c.ID, op)
	}
	return nil
}

func (c *CommandBuffer) begin(op string) error {
	if err := c.check(op); err != nil {
		return err
	}
	c.Commands = nil
	c.Recording = true
	c.submitted = false
	c.Begins++
	c.dev.logf("%s %s", op, c.ID)
	return nil
}

func (c *CommandBuffer) Begin() error        { return c.begin("begin") }
func (c *CommandBuffer) BeginOneTime() error { return c.begin("begin-once") }

func (c *CommandBuffer) BeginSecondary(pass gpu.Pass) error {
	if err := c.begin("begin-secondary"); err != nil {
		return err
	}
	c.Inherited = &pass
	return nil
}

func (c *CommandBuffer) End() error {
	if !c.Recording {
		return errors.Newf("%s: end without begin", c.ID)
	}
	c.Recording = false
	c.dev.logf("end %s", c.ID)
	return nil
}

func (c *CommandBuffer) Reset() error {
	if err := c.check("reset"); err != nil {
		return err
	}
	c.Commands = nil
	c.Recording = false
	c.submitted = false
	c.Resets++
	c.dev.logf("reset %s", c.ID)
	return nil
}

func (c *CommandBuffer) record(cmd Command) error {
	if !c.Recording {
		return errors.Newf("%s: %s outside recording", c.ID, cmd.Op)
	}
	c.Commands = append(c.Commands, cmd)
	return nil
}

func (c *CommandBuffer) BeginRenderPass(pass gpu.Pass, secondary bool) error {
	op := "begin-pass"
	if secondary {
		op = "begin-pass-secondary"
	}
	return c.record(Command{Op: op, Pass: pass})
}

func (c *CommandBuffer) ExecuteCommands(buffers ...gpu.CommandBuffer) error {
	return c.record(Command{Op: "execute", Executed: buffers})
}

func (c *CommandBuffer) EndRenderPass() {
	_ = c.record(Command{Op: "end-pass"})
}

func (c *CommandBuffer) UpdateBuffer(dst core1_0.Buffer, offset int, data []byte) error {
	return c.record(Command{Op: "update", Buffer: dst, Offset: offset, Data: append([]byte(nil), data...)})
}

func (c *CommandBuffer) Raw() core1_0.CommandBuffer { return nil }

// Ops lists the recorded command names in order.
func (c *CommandBuffer) Ops() []string {
	ops := make([]string, len(c.Commands))
	for i, cmd := range c.Commands {
		ops[i] = cmd.Op
	}
	return ops
}

type Submission struct {
	Fence *Fence
	gpu.Submit

	epoch int
	done  bool
}

type Queue struct {
	Submissions []Submission
	Idles       int

	dev *Device
}

func (q *Queue) Submit(fence gpu.Fence, submit gpu.Submit) error {
	if q.dev.SubmitErr != nil {
		return q.dev.SubmitErr
	}
	var f *Fence
	if fence != nil {
		f = fence.(*Fence)
		if f.signaled {
			return errors.Newf("submit with signaled %s", f.ID)
		}
	}
	ids := ""
	for _, b := range submit.CommandBuffers {
		cb := b.(*CommandBuffer)
		if cb.Recording {
			return errors.Newf("submit of %s while recording", cb.ID)
		}
		cb.submitted = true
		cb.fence = f
		if f != nil {
			cb.fenceEpoch = f.Resets
		}
		ids += " " + cb.ID
	}
	sub := Submission{Fence: f, Submit: submit}
	if f != nil {
		sub.epoch = f.Resets
	}
	q.Submissions = append(q.Submissions, sub)
	q.dev.logf("submit%s", ids)
	return nil
}

func (q *Queue) WaitIdle() error {
	q.Idles++
	q.dev.logf("queue idle")
	q.complete()
	return nil
}

// complete finishes every outstanding submission. A fence that was reset
// since its submission already signaled for it and is left alone.
func (q *Queue) complete() {
	for i := range q.Submissions {
		s := &q.Submissions[i]
		if s.done {
			continue
		}
		s.done = true
		if s.Fence != nil && s.Fence.Resets == s.epoch {
			s.Fence.signaled = true
		}
		for _, b := range s.CommandBuffers {
			b.(*CommandBuffer).submitted = false
		}
	}
}

// Last returns the most recent submission.
func (q *Queue) Last() Submission {
	if len(q.Submissions) == 0 {
		return Submission{}
	}
	return q.Submissions[len(q.Submissions)-1]
}
