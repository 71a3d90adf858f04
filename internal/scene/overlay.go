package scene

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/overlay"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
	"github.com/vkngwrapper/vulkan-scene/internal/vulkan"
)

const overlayFormat = core1_0.FormatR8UnsignedNormalized

type OverlayConfig struct {
	Context   *vulkan.Context
	Targets   *vulkan.Targets
	Transfers *transfer.Queue
	Reclaimer *reclaim.Reclaimer

	VertexShader   []uint32
	FragmentShader []uint32

	Visible bool
}

// TextOverlay draws rasterized text in the top left corner of every frame.
//
// New text is written into a device local staging buffer through the transfer
// queue. Every primary command buffer copies the staging buffer into the
// overlay image of its swapchain image before the render pass, so the text
// lands in the frame after SetText without re-recording anything.
type TextOverlay struct {
	ctx       *vulkan.Context
	targets   *vulkan.Targets
	transfers *transfer.Queue
	reclaimer *reclaim.Reclaimer
	text      *overlay.Text

	vertexShader   []uint32
	fragmentShader []uint32
	visible        bool
	width, height  int

	staging             *vulkan.Buffer
	sampler             core1_0.Sampler
	descriptorSetLayout core1_0.DescriptorSetLayout

	// Sized by the swapchain, rebuilt by Resized.
	images         []*vulkan.Image
	descriptorPool core1_0.DescriptorPool
	descriptorSets []core1_0.DescriptorSet
	pipeline       *vulkan.Pipeline

	version uint64
}

func NewTextOverlay(cfg OverlayConfig) (*TextOverlay, error) {
	text, err := overlay.NewText(overlay.DefaultWidth, overlay.DefaultHeight, overlay.DefaultSize)
	if err != nil {
		return nil, err
	}
	bounds := text.Bounds()
	o := &TextOverlay{
		ctx:            cfg.Context,
		targets:        cfg.Targets,
		transfers:      cfg.Transfers,
		reclaimer:      cfg.Reclaimer,
		text:           text,
		vertexShader:   cfg.VertexShader,
		fragmentShader: cfg.FragmentShader,
		visible:        cfg.Visible,
		width:          bounds.Dx(),
		height:         bounds.Dy(),
		version:        1,
	}

	// Starts out blank. Later text arrives through the transfer queue.
	o.staging, err = o.ctx.UploadBuffer(make([]byte, o.width*o.height), core1_0.BufferUsageTransferSrc)
	if err != nil {
		o.Destroy()
		return nil, errors.Wrap(err, "overlay: staging buffer")
	}
	o.sampler, err = o.ctx.CreateSampler(core1_0.SamplerAddressModeClampToEdge)
	if err != nil {
		o.Destroy()
		return nil, errors.Wrap(err, "overlay: sampler")
	}
	o.descriptorSetLayout, _, err = o.ctx.Device().CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,

				StageFlags: core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		o.Destroy()
		return nil, errors.Wrap(err, "overlay: descriptor set layout")
	}

	return o, nil
}

func (o *TextOverlay) Visible() bool   { return o.visible }
func (o *TextOverlay) Version() uint64 { return o.version }

// SetText rasterizes lines and queues the upload into the staging buffer.
func (o *TextOverlay) SetText(lines []string) error {
	pix := o.text.Render(lines).Pix
	for offset := 0; offset < len(pix); offset += transfer.MaxUpdateSize {
		end := min(offset+transfer.MaxUpdateSize, len(pix))
		err := o.transfers.Enqueue(transfer.Update{
			Buffer: o.staging.Buffer,
			Offset: offset,
			Data:   pix[offset:end],
		})
		if err != nil {
			return errors.Wrap(err, "overlay: upload text")
		}
	}
	return nil
}

// RecordPrimary copies the staging buffer into the overlay image for
// imageIndex. It runs ahead of the render pass in every primary buffer.
func (o *TextOverlay) RecordPrimary(cb gpu.CommandBuffer, imageIndex int) error {
	if !o.visible {
		return nil
	}
	if imageIndex >= len(o.images) {
		return errors.AssertionFailedf("overlay: image %d of %d", imageIndex, len(o.images))
	}
	img := o.images[imageIndex]
	buffer := cb.Raw()

	if err := vulkan.TransitionImageLayout(buffer, img.Image, img.Format, core1_0.ImageLayoutShaderReadOnlyOptimal, core1_0.ImageLayoutTransferDstOptimal); err != nil {
		return err
	}
	if err := vulkan.CopyBufferToImage(buffer, o.staging.Buffer, img.Image, o.width, o.height); err != nil {
		return err
	}
	return vulkan.TransitionImageLayout(buffer, img.Image, img.Format, core1_0.ImageLayoutTransferDstOptimal, core1_0.ImageLayoutShaderReadOnlyOptimal)
}

// Record draws the overlay quad. The vertex shader generates its corners.
func (o *TextOverlay) Record(cb gpu.CommandBuffer, imageIndex int) error {
	if o.pipeline == nil {
		return errors.New("overlay: draw before the first resize")
	}
	buffer := cb.Raw()
	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, o.pipeline.Pipeline)
	buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, o.pipeline.Layout, []core1_0.DescriptorSet{
		o.descriptorSets[imageIndex],
	}, nil)
	buffer.CmdDraw(6, 1, 0, 0)
	return nil
}

// Resized recreates the per image resources and the pipeline. The old ones
// are released once the frames that used them have completed.
func (o *TextOverlay) Resized() error {
	o.retire()

	count := o.targets.ImageCount()
	blank := make([]byte, o.width*o.height)
	for i := 0; i < count; i++ {
		img, err := o.ctx.UploadImage(blank, o.width, o.height, overlayFormat)
		if err != nil {
			return errors.Wrap(err, "overlay: create image")
		}
		o.images = append(o.images, img)
	}

	if err := o.createDescriptorSets(count); err != nil {
		return err
	}

	_, scissor := vulkan.FullViewport(o.targets.Extent())
	pipeline, err := vulkan.PipelineBuilder{
		VertexShader:   o.vertexShader,
		FragmentShader: o.fragmentShader,
		SetLayouts:     []core1_0.DescriptorSetLayout{o.descriptorSetLayout},
		AlphaBlend:     true,
		Viewport: core1_0.Viewport{
			X:        0,
			Y:        0,
			Width:    float32(o.width),
			Height:   float32(o.height),
			MinDepth: 0,
			MaxDepth: 1,
		},
		Scissor: scissor,
	}.Build(o.ctx, o.targets.RenderPass())
	if err != nil {
		return errors.Wrap(err, "overlay: pipeline")
	}
	o.pipeline = pipeline
	o.version++
	return nil
}

func (o *TextOverlay) createDescriptorSets(count int) error {
	device := o.ctx.Device()

	var err error
	o.descriptorPool, _, err = device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: count,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: count,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "overlay: descriptor pool")
	}

	var layouts []core1_0.DescriptorSetLayout
	for i := 0; i < count; i++ {
		layouts = append(layouts, o.descriptorSetLayout)
	}
	o.descriptorSets, _, err = device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: o.descriptorPool,
		SetLayouts:     layouts,
	})
	if err != nil {
		return errors.Wrap(err, "overlay: allocate descriptor sets")
	}

	var writes []core1_0.WriteDescriptorSet
	for i, set := range o.descriptorSets {
		writes = append(writes, core1_0.WriteDescriptorSet{
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   o.images[i].View,
					Sampler:     o.sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		})
	}
	err = device.UpdateDescriptorSets(writes, nil)
	return errors.Wrap(err, "overlay: update descriptor sets")
}

// retire hands the swapchain sized resources to the reclaimer.
func (o *TextOverlay) retire() {
	images, pool, pipeline := o.images, o.descriptorPool, o.pipeline
	o.images, o.descriptorPool, o.descriptorSets, o.pipeline = nil, nil, nil, nil
	if len(images) == 0 && pool == nil && pipeline == nil {
		return
	}

	o.reclaimer.Trash(func() {
		if pipeline != nil {
			pipeline.Destroy()
		}
		if pool != nil {
			pool.Destroy(nil)
		}
		for _, img := range images {
			img.Destroy()
		}
	})
}

// Destroy releases everything the overlay created. The device must be idle.
func (o *TextOverlay) Destroy() {
	if o.pipeline != nil {
		o.pipeline.Destroy()
		o.pipeline = nil
	}
	if o.descriptorPool != nil {
		o.descriptorPool.Destroy(nil)
		o.descriptorPool = nil
	}
	for _, img := range o.images {
		img.Destroy()
	}
	o.images = nil
	if o.descriptorSetLayout != nil {
		o.descriptorSetLayout.Destroy(nil)
		o.descriptorSetLayout = nil
	}
	if o.sampler != nil {
		o.sampler.Destroy(nil)
		o.sampler = nil
	}
	if o.staging != nil {
		o.staging.Destroy()
		o.staging = nil
	}
	if o.text != nil {
		o.text.Close()
		o.text = nil
	}
}
