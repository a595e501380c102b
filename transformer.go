package spacemouse

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"
)

// Default tuning, matching the common teleop setup for these devices.
const (
	DefaultPosSensitivity = 0.4
	DefaultRotSensitivity = 0.8
	DefaultIntervalMS     = 10.0
)

// Button identifies one of the two physical side buttons.
type Button int

const (
	ButtonLeft Button = iota
	ButtonRight
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	default:
		return "unknown"
	}
}

// RawDeviceState is one sample of the device: six axes (three translation,
// three rotation, device-native units) and the two side buttons. It is
// supplied by the polling layer once per tick; nothing here validates it.
type RawDeviceState struct {
	Axes  [6]float64
	Left  bool
	Right bool
}

// TwistCommand is the transformer's mutable command state: sensitivity-scaled
// position and Euler-angle deltas plus the latched gripper toggle.
type TwistCommand struct {
	DeltaPos     r3.Vector
	DeltaRot     r3.Vector
	CloseGripper bool
}

// PoseDelta is the 6-DoF output of Advance: a translation delta and an
// axis-angle rotation vector.
type PoseDelta struct {
	Translation    r3.Vector
	RotationVector r3.Vector
}

// Vector returns the pose delta as [tx, ty, tz, wx, wy, wz].
func (d PoseDelta) Vector() [6]float64 {
	return [6]float64{
		d.Translation.X, d.Translation.Y, d.Translation.Z,
		d.RotationVector.X, d.RotationVector.Y, d.RotationVector.Z,
	}
}

// TwistTransformer converts raw device samples into twist commands with
// edge-triggered button handling. It is not safe for concurrent use; the
// poller serializes all access.
type TwistTransformer struct {
	posSensitivity float64
	rotSensitivity float64

	deltaPos     r3.Vector
	deltaRot     r3.Vector // intrinsic XYZ Euler angles
	closeGripper bool
	readRotation bool

	prevLeft  bool
	prevRight bool

	callbacks map[Button][]func()
}

// NewTwistTransformer creates a transformer with the given sensitivities.
// Zero values fall back to the defaults; negative values invert the axis
// group they scale.
func NewTwistTransformer(posSensitivity, rotSensitivity float64) *TwistTransformer {
	if posSensitivity == 0 {
		posSensitivity = DefaultPosSensitivity
	}
	if rotSensitivity == 0 {
		rotSensitivity = DefaultRotSensitivity
	}
	return &TwistTransformer{
		posSensitivity: posSensitivity,
		rotSensitivity: rotSensitivity,
		callbacks:      make(map[Button][]func()),
	}
}

// OnButton registers fn to run whenever the given button fires its edge
// (left-only press for ButtonLeft, right-only press for ButtonRight).
// Callbacks run synchronously on the polling goroutine; keep them short.
func (t *TwistTransformer) OnButton(b Button, fn func()) {
	t.callbacks[b] = append(t.callbacks[b], fn)
}

// Reset clears the gripper latch and both deltas. The rotation-mode flag is
// left alone.
func (t *TwistTransformer) Reset() {
	t.closeGripper = false
	t.deltaPos = r3.Vector{}
	t.deltaRot = r3.Vector{}
}

// Advance converts the pending Euler rotation into an axis-angle rotation
// vector and returns it with the translation delta and the gripper latch.
// Pure read; calling it never changes state.
func (t *TwistTransformer) Advance() (PoseDelta, bool) {
	return PoseDelta{
		Translation:    t.deltaPos,
		RotationVector: rotationVectorFromEuler(t.deltaRot),
	}, t.closeGripper
}

// OnPoll consumes one device sample. Button handling is edge-triggered on the
// combined state: a rising edge of left-only toggles the gripper latch, a
// rising edge of right-only resets, and a rising edge of both pressed toggles
// the rotation-mode flag (which currently has no effect on the output). The
// deltas are then overwritten from the sample's axes, not accumulated.
func (t *TwistTransformer) OnPoll(raw RawDeviceState) {
	leftOnly := raw.Left && !raw.Right
	rightOnly := raw.Right && !raw.Left
	both := raw.Left && raw.Right

	prevLeftOnly := t.prevLeft && !t.prevRight
	prevRightOnly := t.prevRight && !t.prevLeft
	prevBoth := t.prevLeft && t.prevRight

	if leftOnly && !prevLeftOnly {
		t.closeGripper = !t.closeGripper
		t.fire(ButtonLeft)
	}
	if rightOnly && !prevRightOnly {
		t.Reset()
		t.fire(ButtonRight)
	}
	if both && !prevBoth {
		t.readRotation = !t.readRotation
	}

	t.prevLeft = raw.Left
	t.prevRight = raw.Right

	t.deltaPos = r3.Vector{X: raw.Axes[0], Y: raw.Axes[1], Z: raw.Axes[2]}.Mul(t.posSensitivity)
	t.deltaRot = r3.Vector{X: raw.Axes[3], Y: raw.Axes[4], Z: raw.Axes[5]}.Mul(t.rotSensitivity)
}

// Command returns a copy of the current command state.
func (t *TwistTransformer) Command() TwistCommand {
	return TwistCommand{
		DeltaPos:     t.deltaPos,
		DeltaRot:     t.deltaRot,
		CloseGripper: t.closeGripper,
	}
}

// ReadRotation reports the rotation-mode flag toggled by pressing both
// buttons together.
func (t *TwistTransformer) ReadRotation() bool {
	return t.readRotation
}

// Sensitivities returns the current position and rotation sensitivities.
func (t *TwistTransformer) Sensitivities() (float64, float64) {
	return t.posSensitivity, t.rotSensitivity
}

// SetSensitivities replaces both sensitivities. Values take effect on the
// next poll.
func (t *TwistTransformer) SetSensitivities(pos, rot float64) {
	t.posSensitivity = pos
	t.rotSensitivity = rot
}

func (t *TwistTransformer) fire(b Button) {
	for _, fn := range t.callbacks[b] {
		fn()
	}
}

// rotationVectorFromEuler converts intrinsic XYZ Euler angles to an
// axis-angle rotation vector by composing single-axis quaternions.
func rotationVectorFromEuler(euler r3.Vector) r3.Vector {
	qx := quat.Number{Real: math.Cos(euler.X / 2), Imag: math.Sin(euler.X / 2)}
	qy := quat.Number{Real: math.Cos(euler.Y / 2), Jmag: math.Sin(euler.Y / 2)}
	qz := quat.Number{Real: math.Cos(euler.Z / 2), Kmag: math.Sin(euler.Z / 2)}

	q := quat.Mul(quat.Mul(qx, qy), qz)

	// AxisAngles expects a unit quaternion; the triple product drifts slightly.
	q = quat.Scale(1/quat.Abs(q), q)

	// q and -q encode the same rotation; keep the principal angle in [0, pi].
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}

	if math.Sqrt(q.Imag*q.Imag+q.Jmag*q.Jmag+q.Kmag*q.Kmag) < 1e-10 {
		return r3.Vector{}
	}

	sq := spatialmath.Quaternion(q)
	aa := sq.AxisAngles()
	return r3.Vector{X: aa.RX, Y: aa.RY, Z: aa.RZ}.Mul(aa.Theta)
}
