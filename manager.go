package spacemouse

import (
	"go.viam.com/rdk/components/input"
)

// Process-wide registry shared by every resource in the module.
var sharedPollers = NewPollerRegistry()

// Compare configs for poller compatibility. Sensitivities are twist-level
// settings applied through SetSensitivities, and profiles are reconciled by
// the registry's update rule; neither is part of the poller's identity.
func pollerConfigsEqual(a, b *SpaceMouseConfig) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Source == b.Source &&
		a.IntervalMS == b.IntervalMS &&
		a.Layout == b.Layout &&
		a.LeftButton == b.LeftButton &&
		a.RightButton == b.RightButton
}

// Shared poller manager

func GetSharedPoller(ctrl input.Controller, config *SpaceMouseConfig, profile AxisProfile, fromFile bool) (*Poller, error) {
	return sharedPollers.GetPoller(ctrl, config, profile, fromFile)
}

func ReleaseSharedPoller(source string) {
	sharedPollers.ReleasePoller(source)
}

func ForceCloseSharedPoller(source string) error {
	return sharedPollers.ForceClosePoller(source)
}

func GetSharedPollerStatus(source string) (int64, bool, string) {
	return sharedPollers.GetPollerStatus(source)
}

func GetSharedProfile(source string) AxisProfile {
	return sharedPollers.GetCurrentProfile(source)
}

func UpdateSharedProfile(source string, profile AxisProfile) bool {
	return sharedPollers.UpdateProfile(source, profile)
}
