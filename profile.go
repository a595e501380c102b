package spacemouse

import (
	"fmt"
	"math"
)

// axisNames orders the profile fields the way the twist vector does.
var axisNames = [6]string{"x", "y", "z", "rx", "ry", "rz"}

// AxisCalibration normalizes one raw axis. The zero value is a pass-through:
// no centering, no deadzone, no rescaling.
type AxisCalibration struct {
	// Center is the raw reading the axis rests at.
	Center float64 `json:"center"`
	// Extent is the largest |reading - center| the device produces. Zero
	// leaves the axis unscaled.
	Extent float64 `json:"extent"`
	// Deadzone is the |reading - center| band treated as zero.
	Deadzone float64 `json:"deadzone"`
	// Invert flips the axis sign after normalization.
	Invert bool `json:"invert,omitempty"`
}

// Normalize maps a raw reading through centering, deadzone, and range
// scaling. With a calibrated Extent the result lands in [-1, 1].
func (c *AxisCalibration) Normalize(value float64) float64 {
	v := value - c.Center
	switch {
	case math.Abs(v) <= c.Deadzone:
		v = 0
	case v > 0:
		v -= c.Deadzone
	default:
		v += c.Deadzone
	}
	if c.Extent > c.Deadzone {
		v /= c.Extent - c.Deadzone
		v = math.Max(-1.0, math.Min(1.0, v))
	}
	if c.Invert {
		v = -v
	}
	return v
}

// Validate checks the calibration parameters make sense.
func (c *AxisCalibration) Validate() error {
	if c.Extent < 0 {
		return fmt.Errorf("extent must be non-negative, got %v", c.Extent)
	}
	if c.Deadzone < 0 {
		return fmt.Errorf("deadzone must be non-negative, got %v", c.Deadzone)
	}
	if c.Extent > 0 && c.Deadzone >= c.Extent {
		return fmt.Errorf("deadzone (%v) must be smaller than extent (%v)", c.Deadzone, c.Extent)
	}
	return nil
}

// AxisProfile holds one calibration per twist axis. Nil entries behave like
// the zero calibration.
type AxisProfile struct {
	X  *AxisCalibration `json:"x,omitempty"`
	Y  *AxisCalibration `json:"y,omitempty"`
	Z  *AxisCalibration `json:"z,omitempty"`
	RX *AxisCalibration `json:"rx,omitempty"`
	RY *AxisCalibration `json:"ry,omitempty"`
	RZ *AxisCalibration `json:"rz,omitempty"`
}

// DefaultAxisProfile passes every axis through untouched. Treat it as
// read-only.
var DefaultAxisProfile = AxisProfile{
	X:  &AxisCalibration{},
	Y:  &AxisCalibration{},
	Z:  &AxisCalibration{},
	RX: &AxisCalibration{},
	RY: &AxisCalibration{},
	RZ: &AxisCalibration{},
}

// ByIndex returns the calibration for axis i in tx..rz order, or nil when
// out of range.
func (p AxisProfile) ByIndex(i int) *AxisCalibration {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	case 2:
		return p.Z
	case 3:
		return p.RX
	case 4:
		return p.RY
	case 5:
		return p.RZ
	default:
		return nil
	}
}

// Apply normalizes all six raw axis readings.
func (p AxisProfile) Apply(raw [6]float64) [6]float64 {
	var out [6]float64
	for i, v := range raw {
		if c := p.ByIndex(i); c != nil {
			out[i] = c.Normalize(v)
		} else {
			out[i] = v
		}
	}
	return out
}

// Validate checks every populated axis.
func (p AxisProfile) Validate() error {
	for i := 0; i < 6; i++ {
		if c := p.ByIndex(i); c != nil {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("axis %s: %w", axisNames[i], err)
			}
		}
	}
	return nil
}

// Equal compares two profiles axis by axis, treating nil entries as
// pass-through calibrations.
func (p AxisProfile) Equal(other AxisProfile) bool {
	for i := 0; i < 6; i++ {
		if !axisCalibrationsEqual(p.ByIndex(i), other.ByIndex(i)) {
			return false
		}
	}
	return true
}

// IsIdentity reports whether the profile changes nothing.
func (p AxisProfile) IsIdentity() bool {
	return p.Equal(AxisProfile{})
}

func axisCalibrationsEqual(a, b *AxisCalibration) bool {
	av, bv := AxisCalibration{}, AxisCalibration{}
	if a != nil {
		av = *a
	}
	if b != nil {
		bv = *b
	}
	return av == bv
}
