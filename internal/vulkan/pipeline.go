package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/core1_0"
)

// PipelineBuilder describes a graphics pipeline for subpass 0 of a render
// pass. The viewport and scissor are baked in, so pipelines are rebuilt when
// the swapchain is.
type PipelineBuilder struct {
	VertexShader   []uint32
	FragmentShader []uint32

	Bindings   []core1_0.VertexInputBindingDescription
	Attributes []core1_0.VertexInputAttributeDescription
	SetLayouts []core1_0.DescriptorSetLayout

	CullMode  core1_0.CullModeFlags
	DepthTest bool
	// AlphaBlend blends the output over the attachment using its alpha.
	AlphaBlend bool

	// Viewport is where the pipeline draws. Scissor clips to the render area.
	Viewport core1_0.Viewport
	Scissor  core1_0.Rect2D
}

// Pipeline is a graphics pipeline and its layout.
type Pipeline struct {
	Pipeline core1_0.Pipeline
	Layout   core1_0.PipelineLayout
}

func (p *Pipeline) Destroy() {
	if p.Pipeline != nil {
		p.Pipeline.Destroy(nil)
		p.Pipeline = nil
	}
	if p.Layout != nil {
		p.Layout.Destroy(nil)
		p.Layout = nil
	}
}

// FullViewport covers extent with depth range [0, 1].
func FullViewport(extent core1_0.Extent2D) (core1_0.Viewport, core1_0.Rect2D) {
	viewport := core1_0.Viewport{
		X:        0,
		Y:        0,
		Width:    float32(extent.Width),
		Height:   float32(extent.Height),
		MinDepth: 0,
		MaxDepth: 1,
	}
	scissor := core1_0.Rect2D{
		Offset: core1_0.Offset2D{X: 0, Y: 0},
		Extent: extent,
	}
	return viewport, scissor
}

func (b PipelineBuilder) Build(ctx *Context, renderPass core1_0.RenderPass) (*Pipeline, error) {
	if len(b.VertexShader) == 0 || len(b.FragmentShader) == 0 {
		return nil, errors.New("pipeline: vertex and fragment shaders are required")
	}

	vertShader, _, err := ctx.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: b.VertexShader,
	})
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: vertex shader")
	}
	defer vertShader.Destroy(nil)

	fragShader, _, err := ctx.device.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: b.FragmentShader,
	})
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: fragment shader")
	}
	defer fragShader.Destroy(nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   b.Bindings,
		VertexAttributeDescriptions: b.Attributes,
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{b.Viewport},
		Scissors:  []core1_0.Rect2D{b.Scissor},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    b.CullMode,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  false,
		RasterizationSamples: core1_0.Samples1,
		MinSampleShading:     1.0,
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  b.DepthTest,
		DepthWriteEnable: b.DepthTest,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	attachment := core1_0.PipelineColorBlendAttachmentState{
		BlendEnabled:   false,
		ColorWriteMask: core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
	}
	if b.AlphaBlend {
		attachment.BlendEnabled = true
		attachment.SrcColorBlendFactor = core1_0.BlendFactorSrcAlpha
		attachment.DstColorBlendFactor = core1_0.BlendFactorOneMinusSrcAlpha
		attachment.ColorBlendOp = core1_0.BlendOpAdd
		attachment.SrcAlphaBlendFactor = core1_0.BlendFactorOne
		attachment.DstAlphaBlendFactor = core1_0.BlendFactorZero
		attachment.AlphaBlendOp = core1_0.BlendOpAdd
	}

	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments:    []core1_0.PipelineColorBlendAttachmentState{attachment},
	}

	p := &Pipeline{}
	p.Layout, _, err = ctx.device.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: b.SetLayouts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "pipeline: create layout")
	}

	pipelines, _, err := ctx.device.CreateGraphicsPipelines(nil, nil, []core1_0.GraphicsPipelineCreateInfo{
		{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthStencil,
			ColorBlendState:    colorBlend,
			Layout:             p.Layout,
			RenderPass:         renderPass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	})
	if err != nil {
		p.Destroy()
		return nil, errors.Wrap(err, "pipeline: create")
	}
	p.Pipeline = pipelines[0]
	return p, nil
}
