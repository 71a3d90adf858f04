package vulkan

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/common"
	"github.com/vkngwrapper/core/core1_0"
)

// Buffer is a buffer and the memory bound to it.
type Buffer struct {
	Buffer core1_0.Buffer
	Memory core1_0.DeviceMemory
	Size   int
}

func (b *Buffer) Destroy() {
	if b.Buffer != nil {
		b.Buffer.Destroy(nil)
		b.Buffer = nil
	}
	if b.Memory != nil {
		b.Memory.Free(nil)
		b.Memory = nil
	}
}

// Image is an image, its memory and a view of all of it.
type Image struct {
	Image  core1_0.Image
	Memory core1_0.DeviceMemory
	View   core1_0.ImageView
	Format core1_0.Format
	Width  int
	Height int
}

func (i *Image) Destroy() {
	if i.View != nil {
		i.View.Destroy(nil)
		i.View = nil
	}
	if i.Image != nil {
		i.Image.Destroy(nil)
		i.Image = nil
	}
	if i.Memory != nil {
		i.Memory.Free(nil)
		i.Memory = nil
	}
}

func (c *Context) CreateBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*Buffer, error) {
	buffer, _, err := c.device.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create buffer")
	}
	b := &Buffer{Buffer: buffer, Size: size}

	memRequirements := buffer.MemoryRequirements()
	memoryTypeIndex, err := c.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		b.Destroy()
		return nil, err
	}

	b.Memory, _, err = c.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		b.Destroy()
		return nil, errors.Wrap(err, "allocate buffer memory")
	}

	if _, err = buffer.BindBufferMemory(b.Memory, 0); err != nil {
		b.Destroy()
		return nil, errors.Wrap(err, "bind buffer memory")
	}
	return b, nil
}

// UploadBuffer creates a device local buffer holding data, copied through a
// host visible staging buffer. It blocks until the copy completes.
func (c *Context) UploadBuffer(data any, usage core1_0.BufferUsageFlags) (*Buffer, error) {
	bufferSize := binary.Size(data)
	if bufferSize <= 0 {
		return nil, errors.Newf("upload: cannot size %T", data)
	}

	staging, err := c.CreateBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := WriteData(staging.Memory, 0, data); err != nil {
		return nil, err
	}

	buffer, err := c.CreateBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return nil, err
	}

	err = c.RunOnce(func(cb core1_0.CommandBuffer) error {
		return cb.CmdCopyBuffer(staging.Buffer, buffer.Buffer, []core1_0.BufferCopy{
			{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      bufferSize,
			},
		})
	})
	if err != nil {
		buffer.Destroy()
		return nil, err
	}
	return buffer, nil
}

// WriteData encodes data with the device byte order into mapped memory.
func WriteData(memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)

	memoryPtr, _, err := memory.Map(offset, bufferSize, 0)
	if err != nil {
		return errors.Wrap(err, "map memory")
	}
	defer memory.Unmap()

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)

	buf := &bytes.Buffer{}
	err = binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return err
	}

	copy(dataBuffer, buf.Bytes())
	return nil
}

// Encode serializes data the way WriteData lays it out in device memory.
func Encode(data any) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, common.ByteOrder, data); err != nil {
		return nil, errors.Wrap(err, "encode")
	}
	return buf.Bytes(), nil
}

func (c *Context) CreateImage(width, height int, format core1_0.Format, tiling core1_0.ImageTiling, usage core1_0.ImageUsageFlags, memoryProperties core1_0.MemoryPropertyFlags, aspect core1_0.ImageAspectFlags) (*Image, error) {
	image, _, err := c.device.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  width,
			Height: height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Format:        format,
		Tiling:        tiling,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       core1_0.Samples1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create image")
	}
	img := &Image{Image: image, Format: format, Width: width, Height: height}

	memReqs := image.MemoryRequirements()
	memoryIndex, err := c.findMemoryType(memReqs.MemoryTypeBits, memoryProperties)
	if err != nil {
		img.Destroy()
		return nil, err
	}

	img.Memory, _, err = c.device.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "allocate image memory")
	}

	if _, err = image.BindImageMemory(img.Memory, 0); err != nil {
		img.Destroy()
		return nil, errors.Wrap(err, "bind image memory")
	}

	img.View, err = c.CreateImageView(image, format, aspect)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (c *Context) CreateImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags) (core1_0.ImageView, error) {
	imageView, _, err := c.device.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     1,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, errors.Wrap(err, "create image view")
}

// UploadImage creates a sampled image holding pixels, tightly packed rows of
// the given format, copied through a staging buffer. It blocks until the copy
// completes and leaves the image in the shader read only layout.
func (c *Context) UploadImage(pixels []byte, width, height int, format core1_0.Format) (*Image, error) {
	staging, err := c.CreateBuffer(len(pixels), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	if err != nil {
		return nil, err
	}
	defer staging.Destroy()

	if err := WriteData(staging.Memory, 0, pixels); err != nil {
		return nil, err
	}

	img, err := c.CreateImage(width, height, format, core1_0.ImageTilingOptimal, core1_0.ImageUsageTransferDst|core1_0.ImageUsageSampled, core1_0.MemoryPropertyDeviceLocal, core1_0.ImageAspectColor)
	if err != nil {
		return nil, err
	}

	err = c.RunOnce(func(cb core1_0.CommandBuffer) error {
		if err := TransitionImageLayout(cb, img.Image, img.Format, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutTransferDstOptimal); err != nil {
			return err
		}
		if err := CopyBufferToImage(cb, staging.Buffer, img.Image, width, height); err != nil {
			return err
		}
		return TransitionImageLayout(cb, img.Image, img.Format, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (c *Context) CreateSampler(addressMode core1_0.SamplerAddressMode) (core1_0.Sampler, error) {
	properties, err := c.physicalDevice.Properties()
	if err != nil {
		return nil, err
	}

	sampler, _, err := c.device.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: addressMode,
		AddressModeV: addressMode,
		AddressModeW: addressMode,

		AnisotropyEnable: true,
		MaxAnisotropy:    properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
	})
	return sampler, errors.Wrap(err, "create sampler")
}

// RunOnce records fn into a one time command buffer, submits it on the
// graphics queue and waits for the queue to go idle.
func (c *Context) RunOnce(fn func(cb core1_0.CommandBuffer) error) error {
	buffers, _, err := c.device.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        c.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return errors.Wrap(err, "allocate command buffer")
	}
	defer c.device.FreeCommandBuffers(buffers)

	buffer := buffers[0]
	_, err = buffer.Begin(core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	if err := fn(buffer); err != nil {
		return err
	}

	if _, err = buffer.End(); err != nil {
		return errors.Wrap(err, "end command buffer")
	}

	_, err = c.graphicsQueue.Submit(nil, []core1_0.SubmitInfo{
		{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	})
	if err != nil {
		return errors.Wrap(err, "submit")
	}

	_, err = c.graphicsQueue.WaitIdle()
	return errors.Wrap(err, "wait for queue")
}

// TransitionImageLayout records a barrier for the layout changes the renderer
// performs: upload destination, shader read and depth attachment.
func TransitionImageLayout(cb core1_0.CommandBuffer, image core1_0.Image, format core1_0.Format, oldLayout core1_0.ImageLayout, newLayout core1_0.ImageLayout) error {
	var sourceStage, destStage core1_0.PipelineStageFlags
	var sourceAccess, destAccess core1_0.AccessFlags
	aspect := core1_0.ImageAspectColor

	switch {
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		sourceAccess = 0
		destAccess = core1_0.AccessTransferWrite
		sourceStage = core1_0.PipelineStageTopOfPipe
		destStage = core1_0.PipelineStageTransfer
	case oldLayout == core1_0.ImageLayoutTransferDstOptimal && newLayout == core1_0.ImageLayoutShaderReadOnlyOptimal:
		sourceAccess = core1_0.AccessTransferWrite
		destAccess = core1_0.AccessShaderRead
		sourceStage = core1_0.PipelineStageTransfer
		destStage = core1_0.PipelineStageFragmentShader
	case oldLayout == core1_0.ImageLayoutShaderReadOnlyOptimal && newLayout == core1_0.ImageLayoutTransferDstOptimal:
		sourceAccess = core1_0.AccessShaderRead
		destAccess = core1_0.AccessTransferWrite
		sourceStage = core1_0.PipelineStageFragmentShader
		destStage = core1_0.PipelineStageTransfer
	case oldLayout == core1_0.ImageLayoutUndefined && newLayout == core1_0.ImageLayoutDepthStencilAttachmentOptimal:
		sourceAccess = 0
		destAccess = core1_0.AccessDepthStencilAttachmentRead | core1_0.AccessDepthStencilAttachmentWrite
		sourceStage = core1_0.PipelineStageTopOfPipe
		destStage = core1_0.PipelineStageEarlyFragmentTests
		aspect = core1_0.ImageAspectDepth
		if hasStencilComponent(format) {
			aspect |= core1_0.ImageAspectStencil
		}
	default:
		return errors.Newf("unexpected layout transition: %s -> %s", oldLayout, newLayout)
	}

	return cb.CmdPipelineBarrier(sourceStage, destStage, 0, nil, nil, []core1_0.ImageMemoryBarrier{
		{
			OldLayout:           oldLayout,
			NewLayout:           newLayout,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			Image:               image,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     aspect,
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			SrcAccessMask: sourceAccess,
			DstAccessMask: destAccess,
		},
	})
}

func CopyBufferToImage(cb core1_0.CommandBuffer, buffer core1_0.Buffer, image core1_0.Image, width, height int) error {
	return cb.CmdCopyBufferToImage(buffer, image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.BufferImageCopy{
		{
			BufferOffset:      0,
			BufferRowLength:   0,
			BufferImageHeight: 0,

			ImageSubresource: core1_0.ImageSubresourceLayers{
				AspectMask:     core1_0.ImageAspectColor,
				MipLevel:       0,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
			ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
			ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
		},
	})
}

func (c *Context) findMemoryType(typeFilter uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := c.physicalDevice.MemoryProperties()
	for i, memoryType := range memProperties.MemoryTypes {
		typeBit := uint32(1 << i)

		if (typeFilter&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.New("failed to find any suitable memory type")
}

func (c *Context) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := c.physicalDevice.FormatProperties(format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Newf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

func (c *Context) findDepthFormat() (core1_0.Format, error) {
	return c.findSupportedFormat([]core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
}

func hasStencilComponent(format core1_0.Format) bool {
	return format == core1_0.FormatD32SignedFloatS8UnsignedInt || format == core1_0.FormatD24UnsignedNormalizedS8UnsignedInt
}
