// Package scene is the demo content: one textured, lit mesh viewed through a
// free-flying camera, plus the text overlay showing the camera state.
package scene

import (
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/core1_0"

	"github.com/vkngwrapper/vulkan-scene/internal/assets"
	"github.com/vkngwrapper/vulkan-scene/internal/camera"
	"github.com/vkngwrapper/vulkan-scene/internal/frame"
	"github.com/vkngwrapper/vulkan-scene/internal/gpu"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
	"github.com/vkngwrapper/vulkan-scene/internal/vulkan"
)

// Controls supplies the camera controls for the current frame.
type Controls interface {
	Controls() camera.Controls
}

type UniformBufferObject struct {
	Projection mgl32.Mat4
	Model      mgl32.Mat4
	Normal     mgl32.Mat4
	View       mgl32.Mat4
	LightPos   mgl32.Vec4
}

func vertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := assets.Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func vertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := assets.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Normal)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
		{
			Binding:  0,
			Location: 3,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
	}
}

type Config struct {
	Context   *vulkan.Context
	Targets   *vulkan.Targets
	Transfers *transfer.Queue
	Reclaimer *reclaim.Reclaimer
	Input     Controls

	Mesh           *assets.Mesh
	Texture        *image.RGBA
	VertexShader   []uint32
	FragmentShader []uint32

	// Overlay is optional. It is rebuilt together with the scene.
	Overlay *TextOverlay
}

// Scene implements frame.Scene and frame.OverlayTextProvider.
type Scene struct {
	ctx       *vulkan.Context
	targets   *vulkan.Targets
	transfers *transfer.Queue
	reclaimer *reclaim.Reclaimer
	input     Controls
	overlay   *TextOverlay

	vertexShader   []uint32
	fragmentShader []uint32

	vertexBuffer *vulkan.Buffer
	indexBuffer  *vulkan.Buffer
	indexCount   int
	texture      *vulkan.Image
	sampler      core1_0.Sampler
	uniforms     *vulkan.Buffer

	descriptorSetLayout core1_0.DescriptorSetLayout
	descriptorPool      core1_0.DescriptorPool
	descriptorSet       core1_0.DescriptorSet
	pipeline            *vulkan.Pipeline

	camera   *camera.Camera
	model    mgl32.Mat4
	lightPos mgl32.Vec4
	version  uint64

	// writeUniforms replaces the uniform buffer contents and waits for the
	// write. Only valid while the device is idle.
	writeUniforms func(data []byte) error
}

// New uploads the mesh and texture and creates the uniform buffer and
// descriptors. The pipeline is created by the first Resized.
func New(cfg Config) (*Scene, error) {
	if cfg.Mesh == nil || cfg.Texture == nil {
		return nil, errors.New("scene: mesh and texture are required")
	}
	s := &Scene{
		ctx:            cfg.Context,
		targets:        cfg.Targets,
		transfers:      cfg.Transfers,
		reclaimer:      cfg.Reclaimer,
		input:          cfg.Input,
		overlay:        cfg.Overlay,
		vertexShader:   cfg.VertexShader,
		fragmentShader: cfg.FragmentShader,
		camera:         camera.New(),
		model:          mgl32.Ident4(),
		lightPos:       mgl32.Vec4{1, 2, 0, 0},
		version:        1,
	}
	s.camera.SetTranslation(mgl32.Vec3{-1, -3, 1})
	s.writeUniforms = s.updateUniforms

	if err := s.prepare(cfg.Mesh, cfg.Texture); err != nil {
		s.Destroy()
		return nil, err
	}
	return s, nil
}

func (s *Scene) prepare(mesh *assets.Mesh, texture *image.RGBA) error {
	var err error
	s.vertexBuffer, err = s.ctx.UploadBuffer(mesh.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return errors.Wrap(err, "scene: vertex buffer")
	}
	s.indexBuffer, err = s.ctx.UploadBuffer(mesh.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		return errors.Wrap(err, "scene: index buffer")
	}
	s.indexCount = len(mesh.Indices)

	bounds := texture.Bounds()
	s.texture, err = s.ctx.UploadImage(texture.Pix, bounds.Dx(), bounds.Dy(), core1_0.FormatR8G8B8A8SRGB)
	if err != nil {
		return errors.Wrap(err, "scene: texture")
	}
	s.sampler, err = s.ctx.CreateSampler(core1_0.SamplerAddressModeRepeat)
	if err != nil {
		return errors.Wrap(err, "scene: sampler")
	}

	// Later camera changes arrive through transfer updates queued from Update.
	s.uniforms, err = s.ctx.UploadBuffer(s.uniformData(), core1_0.BufferUsageUniformBuffer)
	if err != nil {
		return errors.Wrap(err, "scene: uniform buffer")
	}

	return s.createDescriptors()
}

func (s *Scene) createDescriptors() error {
	device := s.ctx.Device()

	var err error
	s.descriptorSetLayout, _, err = device.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex | core1_0.StageFragment,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,

				StageFlags: core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "scene: descriptor set layout")
	}

	s.descriptorPool, _, err = device.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: 1,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "scene: descriptor pool")
	}

	sets, _, err := device.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: s.descriptorPool,
		SetLayouts:     []core1_0.DescriptorSetLayout{s.descriptorSetLayout},
	})
	if err != nil {
		return errors.Wrap(err, "scene: allocate descriptor set")
	}
	s.descriptorSet = sets[0]

	err = device.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          s.descriptorSet,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeUniformBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: s.uniforms.Buffer,
					Offset: 0,
					Range:  s.uniforms.Size,
				},
			},
		},
		{
			DstSet:          s.descriptorSet,
			DstBinding:      1,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   s.texture.View,
					Sampler:     s.sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
	return errors.Wrap(err, "scene: update descriptor set")
}

// Update moves the camera and queues a uniform upload when the view changed.
func (s *Scene) Update(dt time.Duration) error {
	if s.input != nil {
		s.camera.Apply(s.input.Controls(), float32(dt.Seconds()))
	}
	if !s.camera.Changed() {
		return nil
	}

	data, err := vulkan.Encode(s.uniformData())
	if err != nil {
		return err
	}
	return s.transfers.Enqueue(transfer.Update{
		Buffer: s.uniforms.Buffer,
		Offset: 0,
		Data:   data,
	})
}

// syncUniforms writes the current camera state straight into the uniform
// buffer, so the next frame does not draw with stale matrices while the
// transfer for them is still queued.
func (s *Scene) syncUniforms() error {
	data, err := vulkan.Encode(s.uniformData())
	if err != nil {
		return err
	}
	if err := s.writeUniforms(data); err != nil {
		return errors.Wrap(err, "scene: write uniforms")
	}
	s.camera.Changed()
	return nil
}

func (s *Scene) updateUniforms(data []byte) error {
	return s.ctx.RunOnce(func(cb core1_0.CommandBuffer) error {
		cb.CmdUpdateBuffer(s.uniforms.Buffer, 0, len(data), data)
		return nil
	})
}

func (s *Scene) uniformData() *UniformBufferObject {
	view := s.camera.View()
	return &UniformBufferObject{
		Projection: s.camera.Projection(),
		Model:      s.model,
		Normal:     view.Mul4(s.model).Inv().Transpose(),
		View:       view,
		LightPos:   s.lightPos,
	}
}

func (s *Scene) DrawVersion() uint64 { return s.version }

func (s *Scene) RecordDraw(cb gpu.CommandBuffer, imageIndex int) error {
	if s.pipeline == nil {
		return errors.New("scene: draw before the first resize")
	}
	buffer := cb.Raw()
	buffer.CmdBindPipeline(core1_0.PipelineBindPointGraphics, s.pipeline.Pipeline)
	buffer.CmdBindVertexBuffers(0, []core1_0.Buffer{s.vertexBuffer.Buffer}, []int{0})
	buffer.CmdBindIndexBuffer(s.indexBuffer.Buffer, 0, core1_0.IndexTypeUInt32)
	buffer.CmdBindDescriptorSets(core1_0.PipelineBindPointGraphics, s.pipeline.Layout, []core1_0.DescriptorSet{
		s.descriptorSet,
	}, nil)
	buffer.CmdDrawIndexed(s.indexCount, 1, 0, 0, 0)
	return nil
}

// Resized rebuilds the pipeline for the new extent and rewrites the uniforms
// for the new aspect. The device is idle. The previous pipeline is released
// once the frames recorded with it have completed.
func (s *Scene) Resized() error {
	extent := s.targets.Extent()
	s.camera.SetAspect(extent.Width, extent.Height)
	if err := s.syncUniforms(); err != nil {
		return err
	}

	viewport, scissor := vulkan.FullViewport(extent)
	pipeline, err := vulkan.PipelineBuilder{
		VertexShader:   s.vertexShader,
		FragmentShader: s.fragmentShader,
		Bindings:       vertexBindingDescription(),
		Attributes:     vertexAttributeDescriptions(),
		SetLayouts:     []core1_0.DescriptorSetLayout{s.descriptorSetLayout},
		CullMode:       core1_0.CullModeBack,
		DepthTest:      true,
		Viewport:       viewport,
		Scissor:        scissor,
	}.Build(s.ctx, s.targets.RenderPass())
	if err != nil {
		return errors.Wrap(err, "scene: mesh pipeline")
	}

	if old := s.pipeline; old != nil {
		s.reclaimer.Trash(old.Destroy)
	}
	s.pipeline = pipeline
	s.version++

	if s.overlay != nil {
		return s.overlay.Resized()
	}
	return nil
}

// OverlayText describes the camera, in the overlay's line format.
func (s *Scene) OverlayText(stats frame.Stats) []string {
	q := s.camera.Rotation
	p := s.camera.Translation
	return []string{
		"camera stats:",
		fmt.Sprintf("rotation(q) w: %.3f", q.W),
		fmt.Sprintf("rotation(q) x: %.3f", q.V[0]),
		fmt.Sprintf("rotation(q) y: %.3f", q.V[1]),
		fmt.Sprintf("rotation(q) z: %.3f", q.V[2]),
		fmt.Sprintf("pos x: %.3f", p[0]),
		fmt.Sprintf("pos y: %.3f", p[1]),
		fmt.Sprintf("pos z: %.3f", p[2]),
		fmt.Sprintf("%.0f fps", stats.FPS),
	}
}

// Destroy releases everything the scene created. The device must be idle.
func (s *Scene) Destroy() {
	if s.pipeline != nil {
		s.pipeline.Destroy()
		s.pipeline = nil
	}
	if s.descriptorPool != nil {
		s.descriptorPool.Destroy(nil)
		s.descriptorPool = nil
	}
	if s.descriptorSetLayout != nil {
		s.descriptorSetLayout.Destroy(nil)
		s.descriptorSetLayout = nil
	}
	if s.uniforms != nil {
		s.uniforms.Destroy()
		s.uniforms = nil
	}
	if s.sampler != nil {
		s.sampler.Destroy(nil)
		s.sampler = nil
	}
	if s.texture != nil {
		s.texture.Destroy()
		s.texture = nil
	}
	if s.indexBuffer != nil {
		s.indexBuffer.Destroy()
		s.indexBuffer = nil
	}
	if s.vertexBuffer != nil {
		s.vertexBuffer.Destroy()
		s.vertexBuffer = nil
	}
}
