package spacemouse

import (
	"fmt"
	"sort"
	"strings"

	"go.viam.com/rdk/components/input"
)

// DefaultLayout is used when a config does not name one.
const DefaultLayout = "spacemouse"

// DeviceLayout maps an input controller's controls onto the six twist axes
// and the two side buttons. Axis order is tx, ty, tz, rx, ry, rz.
type DeviceLayout struct {
	Name        string
	Axes        [6]input.Control
	LeftButton  input.Control
	RightButton input.Control
}

var deviceLayouts = map[string]DeviceLayout{
	// Two-button pucks (SpaceMouse Wireless, SpaceNavigator) presented
	// through a generic controller driver.
	"spacemouse": {
		Name: "spacemouse",
		Axes: [6]input.Control{
			input.AbsoluteX, input.AbsoluteY, input.AbsoluteZ,
			input.AbsoluteRX, input.AbsoluteRY, input.AbsoluteRZ,
		},
		LeftButton:  input.ButtonWest,
		RightButton: input.ButtonEast,
	},
	// SpaceMouse Pro: the side buttons land on the menu cluster.
	"spacemouse-pro": {
		Name: "spacemouse-pro",
		Axes: [6]input.Control{
			input.AbsoluteX, input.AbsoluteY, input.AbsoluteZ,
			input.AbsoluteRX, input.AbsoluteRY, input.AbsoluteRZ,
		},
		LeftButton:  input.ButtonSelect,
		RightButton: input.ButtonStart,
	},
	// Ordinary gamepad with twin sticks; triggers stand in for the puck
	// buttons.
	"gamepad": {
		Name: "gamepad",
		Axes: [6]input.Control{
			input.AbsoluteX, input.AbsoluteY, input.AbsoluteZ,
			input.AbsoluteRX, input.AbsoluteRY, input.AbsoluteRZ,
		},
		LeftButton:  input.ButtonLT,
		RightButton: input.ButtonRT,
	},
}

// LayoutForName looks up a named layout. An empty name selects DefaultLayout.
func LayoutForName(name string) (DeviceLayout, error) {
	if name == "" {
		name = DefaultLayout
	}
	layout, ok := deviceLayouts[name]
	if !ok {
		return DeviceLayout{}, fmt.Errorf("unknown layout %q (known: %s)", name, strings.Join(layoutNames(), ", "))
	}
	return layout, nil
}

func layoutNames() []string {
	names := make([]string, 0, len(deviceLayouts))
	for name := range deviceLayouts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithButtons returns a copy of the layout with either side button remapped.
// Empty names keep the layout's own mapping.
func (l DeviceLayout) WithButtons(left, right string) DeviceLayout {
	if left != "" {
		l.LeftButton = input.Control(left)
	}
	if right != "" {
		l.RightButton = input.Control(right)
	}
	return l
}

// StateFromEvents extracts the six axis values and both button states from a
// controller event snapshot. Controls the device has not reported yet read
// as zero.
func (l DeviceLayout) StateFromEvents(events map[input.Control]input.Event) ([6]float64, bool, bool) {
	var axes [6]float64
	for i, ctl := range l.Axes {
		if ev, ok := events[ctl]; ok {
			axes[i] = ev.Value
		}
	}
	return axes, buttonDown(events, l.LeftButton), buttonDown(events, l.RightButton)
}

func buttonDown(events map[input.Control]input.Event, ctl input.Control) bool {
	ev, ok := events[ctl]
	return ok && ev.Value > 0.5
}
