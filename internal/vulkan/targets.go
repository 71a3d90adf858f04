package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
	"github.com/vkngwrapper/extensions/khr_swapchain"

	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
)

// ClearColor is the background of every frame.
var ClearColor = core1_0.ClearValueFloat{0.1, 0.1, 0.1, 1}

// Targets implements frame.Targets: the render pass, the depth-stencil
// attachment and one framebuffer per swapchain image.
type Targets struct {
	ctx       *Context
	swapchain *Swapchain

	renderPass   core1_0.RenderPass
	colorFormat  core1_0.Format
	depthFormat  core1_0.Format
	depth        *Image
	framebuffers []core1_0.Framebuffer
	extent       core1_0.Extent2D
}

func NewTargets(ctx *Context, swapchain *Swapchain) *Targets {
	return &Targets{ctx: ctx, swapchain: swapchain}
}

func (t *Targets) ImageCount() int                       { return len(t.framebuffers) }
func (t *Targets) RenderPass() core1_0.RenderPass        { return t.renderPass }
func (t *Targets) Extent() core1_0.Extent2D              { return t.extent }
func (t *Targets) DepthFormat() core1_0.Format           { return t.depthFormat }
func (t *Targets) Framebuffer(i int) core1_0.Framebuffer { return t.framebuffers[i] }

func (t *Targets) Pass(imageIndex int) gpu.Pass {
	return gpu.Pass{
		RenderPass:  t.renderPass,
		Framebuffer: t.framebuffers[imageIndex],
		Extent:      t.extent,
		ClearValues: []core1_0.ClearValue{
			ClearColor,
			core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
		},
	}
}

// Rebuild recreates everything sized by the swapchain. The render pass is
// only recreated when the surface format changes. The device must be idle.
func (t *Targets) Rebuild() error {
	t.destroyFramebuffers()

	if t.renderPass == nil || t.colorFormat != t.swapchain.Format() {
		if err := t.createRenderPass(); err != nil {
			return err
		}
	}
	if err := t.createDepthResources(); err != nil {
		return err
	}
	return t.createFramebuffers()
}

func (t *Targets) createRenderPass() error {
	if t.renderPass != nil {
		t.renderPass.Destroy(nil)
		t.renderPass = nil
	}

	depthFormat, err := t.ctx.findDepthFormat()
	if err != nil {
		return err
	}
	colorFormat := t.swapchain.Format()

	renderPass, _, err := t.ctx.device.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: []core1_0.AttachmentDescription{
			{
				Format:         colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			{
				Format:         depthFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpDontCare,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []core1_0.SubpassDescription{
			{
				PipelineBindPoint: core1_0.PipelineBindPointGraphics,
				ColorAttachments: []core1_0.AttachmentReference{
					{
						Attachment: 0,
						Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
					},
				},
				DepthStencilAttachment: &core1_0.AttachmentReference{
					Attachment: 1,
					Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
				},
			},
		},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	t.renderPass = renderPass
	t.colorFormat = colorFormat
	t.depthFormat = depthFormat
	return nil
}

func (t *Targets) createDepthResources() error {
	if t.depth != nil {
		t.depth.Destroy()
		t.depth = nil
	}

	extent := t.swapchain.Extent()
	depth, err := t.ctx.CreateImage(extent.Width,
		extent.Height,
		t.depthFormat,
		core1_0.ImageTilingOptimal,
		core1_0.ImageUsageDepthStencilAttachment,
		core1_0.MemoryPropertyDeviceLocal,
		core1_0.ImageAspectDepth)
	if err != nil {
		return errors.Wrap(err, "create depth image")
	}
	t.depth = depth

	return t.ctx.RunOnce(func(cb core1_0.CommandBuffer) error {
		return TransitionImageLayout(cb, depth.Image, depth.Format, core1_0.ImageLayoutUndefined, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
	})
}

func (t *Targets) createFramebuffers() error {
	t.extent = t.swapchain.Extent()
	for _, imageView := range t.swapchain.ImageViews() {
		framebuffer, _, err := t.ctx.device.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
			RenderPass: t.renderPass,
			Layers:     1,
			Attachments: []core1_0.ImageView{
				imageView,
				t.depth.View,
			},
			Width:  t.extent.Width,
			Height: t.extent.Height,
		})
		if err != nil {
			return errors.Wrap(err, "create framebuffer")
		}

		t.framebuffers = append(t.framebuffers, framebuffer)
	}
	return nil
}

func (t *Targets) destroyFramebuffers() {
	for _, framebuffer := range t.framebuffers {
		framebuffer.Destroy(nil)
	}
	t.framebuffers = nil
}

func (t *Targets) Destroy() {
	t.destroyFramebuffers()
	if t.depth != nil {
		t.depth.Destroy()
		t.depth = nil
	}
	if t.renderPass != nil {
		t.renderPass.Destroy(nil)
		t.renderPass = nil
	}
}
