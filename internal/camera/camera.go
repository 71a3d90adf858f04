// Package camera implements a z-up free-flying camera. In camera space the
// view looks down -Z with +Y up; a new camera looks along world +Y.
package camera

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	axisX = mgl32.Vec3{1, 0, 0}
	axisZ = mgl32.Vec3{0, 0, 1}
)

// Controls is the input state sampled once per frame.
type Controls struct {
	Forward, Back bool
	Left, Right   bool
	Down, Up      bool
	// World moves along world axes (+Y forward, +Z up) instead of the
	// camera's own.
	World bool

	TurnLeft, TurnRight bool

	// Drag is set while the rotate button is held; DX and DY are the mouse
	// motion in pixels since the last frame.
	Drag   bool
	DX, DY float32
}

type Camera struct {
	Translation mgl32.Vec3
	Rotation    mgl32.Quat

	// MovementSpeed is in units per second.
	MovementSpeed float32
	// TurnSpeed is in radians per second, MouseSpeed in radians per pixel.
	TurnSpeed  float32
	MouseSpeed float32

	FovY   float32
	Near   float32
	Far    float32
	aspect float32

	changed bool
}

func New() *Camera {
	return &Camera{
		Rotation:      mgl32.QuatRotate(math.Pi/2, axisX),
		MovementSpeed: 2.5,
		TurnSpeed:     1.2,
		MouseSpeed:    0.005,
		FovY:          mgl32.DegToRad(60),
		Near:          0.01,
		Far:           256,
		aspect:        1,
		changed:       true,
	}
}

func (c *Camera) SetAspect(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.aspect = float32(width) / float32(height)
	c.changed = true
}

func (c *Camera) SetTranslation(t mgl32.Vec3) {
	c.Translation = t
	c.changed = true
}

// TranslateLocal moves the camera along its own axes.
func (c *Camera) TranslateLocal(d mgl32.Vec3) {
	c.TranslateWorld(c.Rotation.Rotate(d))
}

func (c *Camera) TranslateWorld(d mgl32.Vec3) {
	c.Translation = c.Translation.Add(d)
	c.changed = true
}

func (c *Camera) RotateWorldZ(angle float32) {
	c.rotateWorld(angle, axisZ)
}

func (c *Camera) RotateWorldX(angle float32) {
	c.rotateWorld(angle, axisX)
}

// RotateLocalX pitches the camera around its own X axis.
func (c *Camera) RotateLocalX(angle float32) {
	c.Rotation = c.Rotation.Mul(mgl32.QuatRotate(angle, axisX)).Normalize()
	c.changed = true
}

func (c *Camera) rotateWorld(angle float32, axis mgl32.Vec3) {
	c.Rotation = mgl32.QuatRotate(angle, axis).Mul(c.Rotation).Normalize()
	c.changed = true
}

// Apply moves and turns the camera according to ctl over dt seconds.
func (c *Camera) Apply(ctl Controls, dt float32) {
	step := c.MovementSpeed * dt
	var forward, right, up float32
	if ctl.Forward {
		forward += step
	}
	if ctl.Back {
		forward -= step
	}
	if ctl.Right {
		right += step
	}
	if ctl.Left {
		right -= step
	}
	if ctl.Up {
		up += step
	}
	if ctl.Down {
		up -= step
	}
	if forward != 0 || right != 0 || up != 0 {
		if ctl.World {
			c.TranslateWorld(mgl32.Vec3{right, forward, up})
		} else {
			c.TranslateLocal(mgl32.Vec3{right, up, -forward})
		}
	}

	if ctl.Drag && (ctl.DX != 0 || ctl.DY != 0) {
		c.RotateWorldZ(-ctl.DX * c.MouseSpeed)
		c.RotateLocalX(-ctl.DY * c.MouseSpeed)
	}

	if !ctl.World {
		turn := c.TurnSpeed * dt
		if ctl.TurnLeft {
			c.RotateWorldZ(turn)
		}
		if ctl.TurnRight {
			c.RotateWorldZ(-turn)
		}
	}
}

// View is the world to camera transform.
func (c *Camera) View() mgl32.Mat4 {
	world := mgl32.Translate3D(c.Translation[0], c.Translation[1], c.Translation[2]).Mul4(c.Rotation.Mat4())
	return world.Inv()
}

// Projection is a right handed perspective with clip space y pointing down.
func (c *Camera) Projection() mgl32.Mat4 {
	p := mgl32.Perspective(c.FovY, c.aspect, c.Near, c.Far)
	p[5] *= -1
	return p
}

// Changed reports whether the camera moved since the last call.
func (c *Camera) Changed() bool {
	changed := c.changed
	c.changed = false
	return changed
}
