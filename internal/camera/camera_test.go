package camera

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

const eps = 1e-4

// near compares component by component with an absolute tolerance, so values
// that should be zero tolerate float noise.
func near(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if d := a[i] - b[i]; d > eps || d < -eps {
			return false
		}
	}
	return true
}

func near3(a, b mgl32.Vec3) bool { return near(a[:], b[:]) }
func near4(a, b mgl32.Vec4) bool { return near(a[:], b[:]) }

func TestNewCameraLooksAlongY(t *testing.T) {
	c := New()
	// A point ahead of the camera lands on the view space -Z axis.
	ahead := c.View().Mul4x1(mgl32.Vec4{0, 5, 0, 1})
	if !near4(ahead, mgl32.Vec4{0, 0, -5, 1}) {
		t.Fatalf("ahead maps to %v", ahead)
	}
	// World up is view space up.
	above := c.View().Mul4x1(mgl32.Vec4{0, 0, 1, 1})
	if !near4(above, mgl32.Vec4{0, 1, 0, 1}) {
		t.Fatalf("above maps to %v", above)
	}
	if !c.Changed() {
		t.Fatal("a new camera must report a change")
	}
	if c.Changed() {
		t.Fatal("Changed must reset the flag")
	}
}

func TestTranslateLocalFollowsRotation(t *testing.T) {
	c := New()
	c.Rotation = mgl32.QuatIdent()
	c.RotateWorldZ(mgl32.DegToRad(90))
	c.TranslateLocal(mgl32.Vec3{0, 1, 0})

	// Forward (+Y) turned 90 degrees about Z points along -X.
	if !near3(c.Translation, mgl32.Vec3{-1, 0, 0}) {
		t.Fatalf("translation = %v", c.Translation)
	}
}

func TestApplyWorldIgnoresRotation(t *testing.T) {
	c := New()
	c.RotateWorldZ(mgl32.DegToRad(90))
	c.MovementSpeed = 1
	c.Apply(Controls{Forward: true, World: true}, 2)

	if !near3(c.Translation, mgl32.Vec3{0, 2, 0}) {
		t.Fatalf("translation = %v", c.Translation)
	}
}

func TestApplyForwardFollowsView(t *testing.T) {
	c := New()
	c.MovementSpeed = 1
	c.Apply(Controls{Forward: true, Right: true}, 1)

	if !near3(c.Translation, mgl32.Vec3{1, 1, 0}) {
		t.Fatalf("translation = %v", c.Translation)
	}

	c.RotateWorldZ(mgl32.DegToRad(90))
	c.Apply(Controls{Forward: true}, 1)
	if !near3(c.Translation, mgl32.Vec3{0, 1, 0}) {
		t.Fatalf("translation after turning left = %v", c.Translation)
	}
}

func TestApplyArrowsIgnoredInWorldMode(t *testing.T) {
	c := New()
	c.Changed()
	c.Apply(Controls{TurnLeft: true, World: true}, 1)
	if c.Changed() {
		t.Fatal("arrow keys must not turn while shift is held")
	}
	c.Apply(Controls{TurnLeft: true}, 1)
	if !c.Changed() {
		t.Fatal("arrow keys must turn")
	}
}

func TestApplyMouseDragRotates(t *testing.T) {
	c := New()
	start := c.Rotation
	c.Changed()
	c.Apply(Controls{DX: 10}, 0.016)
	if c.Changed() {
		t.Fatal("mouse motion without drag must not rotate")
	}
	c.Apply(Controls{Drag: true, DX: 10}, 0.016)
	if !c.Changed() {
		t.Fatal("drag must rotate")
	}
	if near(c.Rotation.V[:], start.V[:]) && near([]float32{c.Rotation.W}, []float32{start.W}) {
		t.Fatal("rotation unchanged")
	}
}

func TestViewInvertsCameraTransform(t *testing.T) {
	c := New()
	c.SetTranslation(mgl32.Vec3{-1, -1, -3})
	c.RotateWorldX(0.3)

	eye := c.View().Mul4x1(mgl32.Vec4{-1, -1, -3, 1})
	if !near4(eye, mgl32.Vec4{0, 0, 0, 1}) {
		t.Fatalf("camera position maps to %v", eye)
	}
}

func TestProjectionFlipsY(t *testing.T) {
	c := New()
	c.SetAspect(1280, 720)
	p := c.Projection()
	if p[5] >= 0 {
		t.Fatalf("projection y scale = %v, want negative", p[5])
	}
}
