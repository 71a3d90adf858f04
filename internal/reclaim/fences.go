package reclaim

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// FencePool hands out unsignaled fences, reusing released ones first.
type FencePool struct {
	device  gpu.Device
	free    []gpu.Fence
	created int
}

func NewFencePool(device gpu.Device) *FencePool {
	return &FencePool{device: device}
}

func (p *FencePool) Acquire() (gpu.Fence, error) {
	if n := len(p.free); n > 0 {
		f := p.free[n-1]
		p.free = p.free[:n-1]
		return f, nil
	}
	f, err := p.device.CreateFence(false)
	if err != nil {
		return nil, errors.Wrap(err, "fence pool: create")
	}
	p.created++
	return f, nil
}

// Release resets f and returns it to the pool.
func (p *FencePool) Release(f gpu.Fence) error {
	if err := f.Reset(); err != nil {
		return err
	}
	p.free = append(p.free, f)
	return nil
}

// Created reports how many fences the pool has allocated from the device.
func (p *FencePool) Created() int { return p.created }

// Free reports how many fences are ready for reuse.
func (p *FencePool) Free() int { return len(p.free) }

func (p *FencePool) Destroy() {
	for _, f := range p.free {
		f.Destroy()
	}
	p.free = nil
}
