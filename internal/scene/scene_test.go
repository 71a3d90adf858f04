package scene

import (
	"testing"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/vkngwrapper/vulkan-scene/internal/camera"
	"github.com/vkngwrapper/vulkan-scene/internal/gpu/gputest"
	"github.com/vkngwrapper/vulkan-scene/internal/reclaim"
	"github.com/vkngwrapper/vulkan-scene/internal/transfer"
	"github.com/vkngwrapper/vulkan-scene/internal/vulkan"
)

func newTestScene(writes *[][]byte) *Scene {
	dev := gputest.NewDevice()
	s := &Scene{
		transfers: transfer.New(dev, reclaim.New(dev)),
		uniforms:  &vulkan.Buffer{},
		camera:    camera.New(),
		model:     mgl32.Ident4(),
		lightPos:  mgl32.Vec4{1, 2, 0, 0},
	}
	s.writeUniforms = func(data []byte) error {
		*writes = append(*writes, append([]byte(nil), data...))
		return nil
	}
	return s
}

func TestSyncUniformsWritesBeforeFirstFrame(t *testing.T) {
	var writes [][]byte
	s := newTestScene(&writes)
	s.camera.SetAspect(1280, 720)

	if err := s.syncUniforms(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(writes))
	}
	if got, want := len(writes[0]), int(unsafe.Sizeof(UniformBufferObject{})); got != want {
		t.Fatalf("uniform write is %d bytes, want %d", got, want)
	}

	// The synchronous write covers the current camera, so the first frame
	// queues nothing.
	if err := s.Update(0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.transfers.Len() != 0 {
		t.Fatalf("queued %d transfers for an unchanged camera", s.transfers.Len())
	}
}

func TestUpdateQueuesUniformsWhenCameraMoves(t *testing.T) {
	var writes [][]byte
	s := newTestScene(&writes)
	if err := s.syncUniforms(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	s.camera.TranslateWorld(mgl32.Vec3{0, 1, 0})
	if err := s.Update(0); err != nil {
		t.Fatalf("update: %v", err)
	}
	if s.transfers.Len() != 1 {
		t.Fatalf("queued %d transfers, want 1", s.transfers.Len())
	}
	if len(writes) != 1 {
		t.Fatal("camera moves between resizes go through the transfer queue")
	}
}

func TestUniformDataNormalMatrix(t *testing.T) {
	var writes [][]byte
	s := newTestScene(&writes)
	s.model = mgl32.Scale3D(2, 2, 2)

	ubo := s.uniformData()
	want := ubo.View.Mul4(s.model).Inv().Transpose()
	for i := range want {
		if d := ubo.Normal[i] - want[i]; d > 1e-5 || d < -1e-5 {
			t.Fatalf("normal matrix = %v, want %v", ubo.Normal, want)
		}
	}
	if ubo.Projection[5] >= 0 {
		t.Fatal("projection must flip Y")
	}
	if ubo.LightPos != (mgl32.Vec4{1, 2, 0, 0}) {
		t.Fatalf("light = %v", ubo.LightPos)
	}
}
