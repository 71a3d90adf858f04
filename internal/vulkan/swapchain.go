package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_surface"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// AcquireTimeout bounds how long AcquireNextImage blocks before the frame is skipped.
const AcquireTimeout = time.Second

// Swapchain implements swapchain.Backend. It owns the swapchain images' views.
type Swapchain struct {
	ctx       *Context
	extension khr_swapchain.Extension

	swapchain   khr_swapchain.Swapchain
	images      []core1_0.Image
	imageViews  []core1_0.ImageView
	imageFormat core1_0.Format
	extent      core1_0.Extent2D
}

func NewSwapchain(ctx *Context) *Swapchain {
	return &Swapchain{
		ctx:       ctx,
		extension: khr_swapchain.CreateExtensionFromDevice(ctx.device),
	}
}

func (s *Swapchain) Format() core1_0.Format          { return s.imageFormat }
func (s *Swapchain) Extent() core1_0.Extent2D        { return s.extent }
func (s *Swapchain) ImageViews() []core1_0.ImageView { return s.imageViews }

// Create destroys the current swapchain, if any, and builds a new one for the
// surface's current size. The device must be idle.
//
// A surface with no area, such as a minimized window, fails with an error
// marked gpu.ErrOutOfDate and leaves the current swapchain in place.
func (s *Swapchain) Create(vsync bool) (int, error) {
	swapchainSupport, err := s.ctx.querySwapChainSupport(s.ctx.physicalDevice)
	if err != nil {
		return 0, err
	}

	surfaceFormat := chooseSwapSurfaceFormat(swapchainSupport.Formats)
	presentMode := chooseSwapPresentMode(swapchainSupport.PresentModes, vsync)
	extent := s.chooseSwapExtent(swapchainSupport.Capabilities)
	if extent.Width == 0 || extent.Height == 0 {
		return 0, errors.Mark(errors.Newf("surface has no area (%dx%d)", extent.Width, extent.Height), gpu.ErrOutOfDate)
	}

	s.Destroy()

	imageCount := swapchainSupport.Capabilities.MinImageCount + 1
	if swapchainSupport.Capabilities.MaxImageCount > 0 && swapchainSupport.Capabilities.MaxImageCount < imageCount {
		imageCount = swapchainSupport.Capabilities.MaxImageCount
	}

	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	indices := s.ctx.families
	if *indices.GraphicsFamily != *indices.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *indices.GraphicsFamily, *indices.PresentFamily)
	}

	swapchain, _, err := s.extension.CreateSwapchain(s.ctx.device, nil, khr_swapchain.SwapchainCreateInfo{
		Surface: s.ctx.surface,

		MinImageCount:    imageCount,
		ImageFormat:      surfaceFormat.Format,
		ImageColorSpace:  surfaceFormat.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   swapchainSupport.Capabilities.CurrentTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    presentMode,
		Clipped:        true,
	})
	if err != nil {
		return 0, errors.Wrap(err, "create swapchain")
	}
	s.swapchain = swapchain
	s.extent = extent
	s.imageFormat = surfaceFormat.Format

	if err := s.createImageViews(); err != nil {
		s.Destroy()
		return 0, err
	}
	return len(s.images), nil
}

func (s *Swapchain) createImageViews() error {
	images, _, err := s.swapchain.SwapchainImages()
	if err != nil {
		return errors.Wrap(err, "swapchain images")
	}
	s.images = images

	for _, image := range images {
		view, err := s.ctx.CreateImageView(image, s.imageFormat, core1_0.ImageAspectColor)
		if err != nil {
			return err
		}
		s.imageViews = append(s.imageViews, view)
	}
	return nil
}

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (int, error) {
	imageIndex, res, err := s.swapchain.AcquireNextImage(AcquireTimeout, signal.(*Semaphore).semaphore, nil)
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return 0, errors.Wrap(gpu.ErrOutOfDate, "acquire")
	case res == khr_swapchain.VKSuboptimal:
		// The image is still usable; recreate after presenting it.
	default:
		if err := result(res, err, "acquire next image"); err != nil {
			return 0, err
		}
	}
	return imageIndex, nil
}

func (s *Swapchain) Present(imageIndex int, wait gpu.Semaphore) error {
	res, err := s.extension.QueuePresent(s.ctx.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: []core1_0.Semaphore{wait.(*Semaphore).semaphore},
		Swapchains:     []khr_swapchain.Swapchain{s.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	if res == khr_swapchain.VKErrorOutOfDate || res == khr_swapchain.VKSuboptimal {
		return errors.Wrap(gpu.ErrOutOfDate, "present")
	}
	return result(res, err, "queue present")
}

func (s *Swapchain) Destroy() {
	for _, imageView := range s.imageViews {
		imageView.Destroy(nil)
	}
	s.imageViews = nil
	s.images = nil

	if s.swapchain != nil {
		s.swapchain.Destroy(nil)
		s.swapchain = nil
	}
}

func chooseSwapSurfaceFormat(availableFormats []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, format := range availableFormats {
		if format.Format == core1_0.FormatB8G8R8A8SRGB && format.ColorSpace == khr_surface.ColorSpaceSRGBNonlinear {
			return format
		}
	}

	return availableFormats[0]
}

// chooseSwapPresentMode prefers MAILBOX, then IMMEDIATE, when vsync is off.
// FIFO is always available.
func chooseSwapPresentMode(availablePresentModes []khr_surface.PresentMode, vsync bool) khr_surface.PresentMode {
	if vsync {
		return khr_surface.PresentModeFIFO
	}
	for _, preferred := range []khr_surface.PresentMode{khr_surface.PresentModeMailbox, khr_surface.PresentModeImmediate} {
		for _, presentMode := range availablePresentModes {
			if presentMode == preferred {
				return presentMode
			}
		}
	}

	return khr_surface.PresentModeFIFO
}

func (s *Swapchain) chooseSwapExtent(capabilities *khr_surface.SurfaceCapabilities) core1_0.Extent2D {
	if capabilities.CurrentExtent.Width != -1 {
		return capabilities.CurrentExtent
	}

	widthInt, heightInt := s.ctx.window.VulkanGetDrawableSize()
	width := int(widthInt)
	height := int(heightInt)

	if width < capabilities.MinImageExtent.Width {
		width = capabilities.MinImageExtent.Width
	}
	if width > capabilities.MaxImageExtent.Width {
		width = capabilities.MaxImageExtent.Width
	}
	if height < capabilities.MinImageExtent.Height {
		height = capabilities.MinImageExtent.Height
	}
	if height > capabilities.MaxImageExtent.Height {
		height = capabilities.MaxImageExtent.Height
	}

	return core1_0.Extent2D{Width: width, Height: height}
}
