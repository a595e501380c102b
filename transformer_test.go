package spacemouse

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats/scalar"
)

const twistTol = 1e-6

func vecsClose(a, b r3.Vector) bool {
	return scalar.EqualWithinAbs(a.X, b.X, twistTol) &&
		scalar.EqualWithinAbs(a.Y, b.Y, twistTol) &&
		scalar.EqualWithinAbs(a.Z, b.Z, twistTol)
}

func pollAxes(t *TwistTransformer, axes [6]float64) {
	t.OnPoll(RawDeviceState{Axes: axes})
}

func pollButtons(t *TwistTransformer, left, right bool) {
	t.OnPoll(RawDeviceState{Left: left, Right: right})
}

// TestAdvanceZeroState tests that an untouched device yields a zero command.
func TestAdvanceZeroState(t *testing.T) {
	tr := NewTwistTransformer(DefaultPosSensitivity, DefaultRotSensitivity)
	pollAxes(tr, [6]float64{})

	delta, grip := tr.Advance()
	if grip {
		t.Error("expected gripper open on zero state")
	}
	if !vecsClose(delta.Translation, r3.Vector{}) || !vecsClose(delta.RotationVector, r3.Vector{}) {
		t.Errorf("expected zero pose delta, got %+v", delta)
	}
	for i, v := range delta.Vector() {
		if v != 0 {
			t.Errorf("component %d = %v, expected 0", i, v)
		}
	}
}

// TestSensitivityScaling tests that axis deflections scale by the configured
// sensitivities.
func TestSensitivityScaling(t *testing.T) {
	t.Run("unit x deflection times 0.4", func(t *testing.T) {
		tr := NewTwistTransformer(0.4, 0.8)
		pollAxes(tr, [6]float64{1, 0, 0, 0, 0, 0})

		delta, _ := tr.Advance()
		if !vecsClose(delta.Translation, r3.Vector{X: 0.4}) {
			t.Errorf("translation = %+v, expected {0.4 0 0}", delta.Translation)
		}
		if !vecsClose(delta.RotationVector, r3.Vector{}) {
			t.Errorf("rotation = %+v, expected zero", delta.RotationVector)
		}
	})

	t.Run("single rotation axis stays on that axis", func(t *testing.T) {
		tr := NewTwistTransformer(0.4, 0.8)
		pollAxes(tr, [6]float64{0, 0, 0, 0, 0, 0.5})

		delta, _ := tr.Advance()
		if !vecsClose(delta.RotationVector, r3.Vector{Z: 0.4}) {
			t.Errorf("rotation = %+v, expected {0 0 0.4}", delta.RotationVector)
		}
	})

	t.Run("deltas are overwritten, not accumulated", func(t *testing.T) {
		tr := NewTwistTransformer(1, 1)
		pollAxes(tr, [6]float64{1, 1, 1, 0, 0, 0})
		pollAxes(tr, [6]float64{0.25, 0, 0, 0, 0, 0})

		delta, _ := tr.Advance()
		if !vecsClose(delta.Translation, r3.Vector{X: 0.25}) {
			t.Errorf("translation = %+v, expected {0.25 0 0}", delta.Translation)
		}
	})

	t.Run("zero arguments fall back to defaults", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		pos, rot := tr.Sensitivities()
		if pos != DefaultPosSensitivity || rot != DefaultRotSensitivity {
			t.Errorf("got %v/%v, expected %v/%v", pos, rot, DefaultPosSensitivity, DefaultRotSensitivity)
		}
	})
}

// TestGripperToggle tests the edge-triggered gripper latch.
func TestGripperToggle(t *testing.T) {
	t.Run("press and release toggles exactly once", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		pollButtons(tr, true, false)
		pollButtons(tr, false, false)

		if _, grip := tr.Advance(); !grip {
			t.Error("expected gripper closed after one press/release")
		}
	})

	t.Run("holding does not retoggle", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		for i := 0; i < 5; i++ {
			pollButtons(tr, true, false)
		}
		if _, grip := tr.Advance(); !grip {
			t.Error("expected gripper closed while holding")
		}
	})

	t.Run("second press reopens", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		pollButtons(tr, true, false)
		pollButtons(tr, false, false)
		pollButtons(tr, true, false)
		pollButtons(tr, false, false)

		if _, grip := tr.Advance(); grip {
			t.Error("expected gripper open after two toggles")
		}
	})

	t.Run("releasing right while left is held retriggers", func(t *testing.T) {
		// Matches the device's change reports: every transition that lands on
		// left-only counts as a fresh press.
		tr := NewTwistTransformer(0, 0)
		pollButtons(tr, true, false)  // closed
		pollButtons(tr, true, true)   // rotation-mode toggle, no gripper change
		pollButtons(tr, true, false)  // open again

		if _, grip := tr.Advance(); grip {
			t.Error("expected gripper open after both-press interleave")
		}
	})
}

// TestRightButtonReset tests that a right-only press clears the full command.
func TestRightButtonReset(t *testing.T) {
	tr := NewTwistTransformer(1, 1)
	pollButtons(tr, true, false)
	tr.OnPoll(RawDeviceState{Axes: [6]float64{1, 2, 3, 0.1, 0.2, 0.3}})

	tr.OnPoll(RawDeviceState{Right: true})

	delta, grip := tr.Advance()
	if grip {
		t.Error("expected gripper cleared by reset")
	}
	if !vecsClose(delta.Translation, r3.Vector{}) || !vecsClose(delta.RotationVector, r3.Vector{}) {
		t.Errorf("expected zero pose delta after reset, got %+v", delta)
	}

	cmd := tr.Command()
	if cmd.CloseGripper || !vecsClose(cmd.DeltaPos, r3.Vector{}) || !vecsClose(cmd.DeltaRot, r3.Vector{}) {
		t.Errorf("expected cleared command state, got %+v", cmd)
	}
}

// TestResetStillSamplesAxes tests that a reset tick with live axes still
// records those axes afterward.
func TestResetStillSamplesAxes(t *testing.T) {
	tr := NewTwistTransformer(1, 1)
	pollButtons(tr, true, false)
	tr.OnPoll(RawDeviceState{Axes: [6]float64{0.5, 0, 0, 0, 0, 0}, Right: true})

	delta, grip := tr.Advance()
	if grip {
		t.Error("expected gripper cleared")
	}
	if !vecsClose(delta.Translation, r3.Vector{X: 0.5}) {
		t.Errorf("translation = %+v, expected {0.5 0 0}", delta.Translation)
	}
}

// TestReadRotationFlag tests the both-buttons toggle and that it survives a
// reset.
func TestReadRotationFlag(t *testing.T) {
	t.Run("both pressed toggles the flag once", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		pollButtons(tr, true, true)
		pollButtons(tr, true, true)
		if !tr.ReadRotation() {
			t.Error("expected rotation mode on")
		}
		pollButtons(tr, false, false)
		pollButtons(tr, true, true)
		if tr.ReadRotation() {
			t.Error("expected rotation mode off after second toggle")
		}
	})

	t.Run("flag does not change the emitted command", func(t *testing.T) {
		tr := NewTwistTransformer(1, 1)
		axes := [6]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
		tr.OnPoll(RawDeviceState{Axes: axes})
		before, _ := tr.Advance()

		tr.OnPoll(RawDeviceState{Axes: axes, Left: true, Right: true})
		after, _ := tr.Advance()

		if !vecsClose(before.Translation, after.Translation) || !vecsClose(before.RotationVector, after.RotationVector) {
			t.Errorf("pose delta changed with rotation mode: %+v vs %+v", before, after)
		}
	})

	t.Run("reset preserves the flag", func(t *testing.T) {
		tr := NewTwistTransformer(0, 0)
		pollButtons(tr, true, true)
		tr.Reset()
		if !tr.ReadRotation() {
			t.Error("expected rotation mode to survive reset")
		}
	})
}

// TestButtonCallbacks tests that registered callbacks fire on their edges.
func TestButtonCallbacks(t *testing.T) {
	tr := NewTwistTransformer(0, 0)
	var lefts, rights int
	tr.OnButton(ButtonLeft, func() { lefts++ })
	tr.OnButton(ButtonRight, func() { rights++ })

	pollButtons(tr, true, false)
	pollButtons(tr, true, false)
	pollButtons(tr, false, false)
	pollButtons(tr, false, true)
	pollButtons(tr, true, true)
	pollButtons(tr, false, false)

	if lefts != 1 {
		t.Errorf("left callback fired %d times, expected 1", lefts)
	}
	if rights != 1 {
		t.Errorf("right callback fired %d times, expected 1", rights)
	}
}

// TestAdvanceIsPure tests that Advance does not mutate state.
func TestAdvanceIsPure(t *testing.T) {
	tr := NewTwistTransformer(1, 1)
	tr.OnPoll(RawDeviceState{Axes: [6]float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}, Left: true})

	first, grip1 := tr.Advance()
	second, grip2 := tr.Advance()

	if grip1 != grip2 {
		t.Error("gripper state changed between reads")
	}
	if first.Vector() != second.Vector() {
		t.Errorf("pose delta changed between reads: %v vs %v", first.Vector(), second.Vector())
	}
}

// TestRotationVectorConversion tests the Euler-to-rotation-vector math
// against hand-computed quaternion compositions.
func TestRotationVectorConversion(t *testing.T) {
	cases := []struct {
		name  string
		euler r3.Vector
		want  r3.Vector
	}{
		{"identity", r3.Vector{}, r3.Vector{}},
		{"single x axis is exact", r3.Vector{X: 0.3}, r3.Vector{X: 0.3}},
		{"single y axis is exact", r3.Vector{Y: math.Pi / 2}, r3.Vector{Y: math.Pi / 2}},
		{"negative single axis", r3.Vector{Z: -0.7}, r3.Vector{Z: -0.7}},
		{
			// qx(pi/2)*qz(pi/2) = (0.5, 0.5, -0.5, 0.5), a 120 degree turn
			// about (1,-1,1)/sqrt(3).
			"compound xz rotation",
			r3.Vector{X: math.Pi / 2, Z: math.Pi / 2},
			r3.Vector{X: 1.2091995761561452, Y: -1.2091995761561452, Z: 1.2091995761561452},
		},
		{
			// 270 degrees about x is the same rotation as -90 degrees.
			"angle wraps to the principal range",
			r3.Vector{X: 3 * math.Pi / 2},
			r3.Vector{X: -math.Pi / 2},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := rotationVectorFromEuler(tc.euler)
			if !vecsClose(got, tc.want) {
				t.Errorf("rotationVectorFromEuler(%+v) = %+v, expected %+v", tc.euler, got, tc.want)
			}
		})
	}
}
