package gputest

import (
	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// Swapchain is a presentation backend cycling through Images indices.
// Errors queued in CreateErrs, AcquireErrs and PresentErrs are returned one
// per call before normal operation resumes.
type Swapchain struct {
	Images  int
	Creates int

	CreateErrs  []error
	AcquireErrs []error
	PresentErrs []error

	Acquired  []int
	Presented []int

	dev  *Device
	next int
}

func NewSwapchain(dev *Device, images int) *Swapchain {
	return &Swapchain{dev: dev, Images: images}
}

func (s *Swapchain) Create(vsync bool) (int, error) {
	if len(s.CreateErrs) > 0 {
		err := s.CreateErrs[0]
		s.CreateErrs = s.CreateErrs[1:]
		s.dev.logf("swapchain create failed")
		return 0, err
	}
	s.Creates++
	s.next = 0
	s.dev.logf("swapchain create")
	return s.Images, nil
}

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (int, error) {
	if len(s.AcquireErrs) > 0 {
		err := s.AcquireErrs[0]
		s.AcquireErrs = s.AcquireErrs[1:]
		s.dev.logf("acquire failed")
		return -1, err
	}
	index := s.next
	s.next = (s.next + 1) % s.Images
	s.Acquired = append(s.Acquired, index)
	s.dev.logf("acquire %d", index)
	return index, nil
}

func (s *Swapchain) Present(imageIndex int, wait gpu.Semaphore) error {
	if len(s.PresentErrs) > 0 {
		err := s.PresentErrs[0]
		s.PresentErrs = s.PresentErrs[1:]
		s.dev.logf("present failed")
		return err
	}
	s.Presented = append(s.Presented, imageIndex)
	s.dev.logf("present %d", imageIndex)
	return nil
}
