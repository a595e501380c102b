package spacemouse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/rdk/components/input"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/resource"
)

func buildSE3Sensor(t *testing.T, source string, ctrl *fakeController, attrs *SpaceMouseConfig) sensor.Sensor {
	t.Helper()

	conf := resource.Config{
		Name:                "teleop",
		API:                 sensor.API,
		Model:               SE3Model,
		ConvertedAttributes: attrs,
	}
	deps := resource.Dependencies{
		resource.NewName(input.API, source): ctrl,
	}

	s, err := NewSE3Sensor(context.Background(), deps, conf, testLogger())
	if err != nil {
		t.Fatalf("Failed to build sensor: %v", err)
	}
	return s
}

func readings(t *testing.T, s sensor.Sensor) map[string]interface{} {
	t.Helper()
	r, err := s.Readings(context.Background(), nil)
	if err != nil {
		t.Fatalf("Readings failed: %v", err)
	}
	return r
}

func TestSE3SensorLifecycle(t *testing.T) {
	source := "pad-lifecycle"
	ctrl := newFakeController(source)
	s := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source})

	refCount, hasPoller, _ := GetSharedPollerStatus(source)
	if refCount != 1 || !hasPoller {
		t.Fatalf("Expected one live poller reference, got %d (hasPoller=%v)", refCount, hasPoller)
	}

	r := readings(t, s)

	poseDelta, ok := r["pose_delta"].([]interface{})
	if !ok || len(poseDelta) != 6 {
		t.Fatalf("Expected 6-element pose_delta, got %v", r["pose_delta"])
	}
	if r["close_gripper"] != false {
		t.Fatal("Gripper should start open")
	}
	if r["source"] != source {
		t.Fatalf("Expected source %q, got %v", source, r["source"])
	}
	if r["pos_sensitivity"] != DefaultPosSensitivity || r["rot_sensitivity"] != DefaultRotSensitivity {
		t.Fatalf("Expected default sensitivities, got %v/%v", r["pos_sensitivity"], r["rot_sensitivity"])
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	refCount, hasPoller, _ = GetSharedPollerStatus(source)
	if refCount != 0 || hasPoller {
		t.Fatalf("Expected poller released on close, got %d (hasPoller=%v)", refCount, hasPoller)
	}
}

func TestSE3SensorReadingsTrackDevice(t *testing.T) {
	source := "pad-readings"
	ctrl := newFakeController(source)
	s := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source})
	defer s.Close(context.Background())

	ctrl.setAxis(input.AbsoluteX, 1.0)
	ctrl.setAxis(input.AbsoluteRZ, 0.5)

	waitFor(t, time.Second, func() bool {
		r := readings(t, s)
		deltaPos := r["delta_pos"].(map[string]interface{})
		return scalarClose(deltaPos["x"].(float64), DefaultPosSensitivity)
	})

	r := readings(t, s)
	deltaRot := r["delta_rot"].(map[string]interface{})
	if !scalarClose(deltaRot["z"].(float64), 0.5*DefaultRotSensitivity) {
		t.Fatalf("Unexpected rotation delta: %v", deltaRot)
	}
	if r["poll_count"].(int) < 1 {
		t.Fatal("Expected poll_count to advance")
	}
	if _, ok := r["last_poll_age_ms"]; !ok {
		t.Fatal("Expected last_poll_age_ms after a successful poll")
	}
}

func TestSE3SensorDoCommand(t *testing.T) {
	source := "pad-commands"
	ctrl := newFakeController(source)
	s := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source})
	defer s.Close(context.Background())

	t.Run("reset clears the gripper latch", func(t *testing.T) {
		ctrl.setButton(input.ButtonWest, true)
		waitFor(t, time.Second, func() bool {
			return readings(t, s)["close_gripper"] == true
		})
		ctrl.setButton(input.ButtonWest, false)

		resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "reset"})
		if err != nil {
			t.Fatalf("reset failed: %v", err)
		}
		if resp["success"] != true {
			t.Fatalf("Expected success, got %v", resp)
		}

		waitFor(t, time.Second, func() bool {
			return readings(t, s)["close_gripper"] == false
		})
	})

	t.Run("set_sensitivity applies and reports", func(t *testing.T) {
		resp, err := s.DoCommand(context.Background(), map[string]interface{}{
			"command":         "set_sensitivity",
			"pos_sensitivity": 1.0,
		})
		if err != nil {
			t.Fatalf("set_sensitivity failed: %v", err)
		}
		if resp["pos_sensitivity"] != 1.0 || resp["rot_sensitivity"] != DefaultRotSensitivity {
			t.Fatalf("Unexpected sensitivities in response: %v", resp)
		}
	})

	t.Run("set_sensitivity rejects zero", func(t *testing.T) {
		_, err := s.DoCommand(context.Background(), map[string]interface{}{
			"command":         "set_sensitivity",
			"rot_sensitivity": 0.0,
		})
		if err == nil {
			t.Fatal("Expected error for zero sensitivity")
		}
	})

	t.Run("status reports the shared poller", func(t *testing.T) {
		resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "status"})
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if resp["ref_count"].(int) != 1 || resp["has_poller"] != true {
			t.Fatalf("Unexpected status: %v", resp)
		}
	})

	t.Run("save_profile requires a configured file", func(t *testing.T) {
		if _, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "save_profile"}); err == nil {
			t.Fatal("Expected error without profile_file")
		}
	})

	t.Run("unknown command errors", func(t *testing.T) {
		if _, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "warp"}); err == nil {
			t.Fatal("Expected error for unknown command")
		}
		if _, err := s.DoCommand(context.Background(), map[string]interface{}{"command": 7}); err == nil {
			t.Fatal("Expected error for non-string command")
		}
	})
}

func TestSE3SensorSaveProfile(t *testing.T) {
	source := "pad-save"
	ctrl := newFakeController(source)
	profileFile := filepath.Join(t.TempDir(), "profile.json")
	s := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source, ProfileFile: profileFile})
	defer s.Close(context.Background())

	custom := AxisProfile{X: &AxisCalibration{Center: 0.1, Extent: 0.9, Deadzone: 0.05}}
	if !UpdateSharedProfile(source, custom) {
		t.Fatal("Failed to update shared profile")
	}

	resp, err := s.DoCommand(context.Background(), map[string]interface{}{"command": "save_profile"})
	if err != nil {
		t.Fatalf("save_profile failed: %v", err)
	}
	if resp["profile_file"] != profileFile {
		t.Fatalf("Unexpected profile path: %v", resp["profile_file"])
	}

	loaded, err := LoadAxisProfileFromFile(profileFile)
	if err != nil {
		t.Fatalf("Failed to load saved profile: %v", err)
	}
	if !loaded.Equal(custom) {
		t.Fatal("Saved profile does not match the active profile")
	}
}

func TestSE3SensorSharedSource(t *testing.T) {
	source := "pad-shared"
	ctrl := newFakeController(source)

	s1 := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source})
	s2 := buildSE3Sensor(t, source, ctrl, &SpaceMouseConfig{Source: source})

	refCount, _, _ := GetSharedPollerStatus(source)
	if refCount != 2 {
		t.Fatalf("Expected refCount 2 with two sensors, got %d", refCount)
	}

	// A third sensor with different poller settings is refused
	conf := resource.Config{
		Name:                "teleop2",
		API:                 sensor.API,
		Model:               SE3Model,
		ConvertedAttributes: &SpaceMouseConfig{Source: source, IntervalMS: 50},
	}
	deps := resource.Dependencies{
		resource.NewName(input.API, source): ctrl,
	}
	if _, err := NewSE3Sensor(context.Background(), deps, conf, testLogger()); err == nil {
		t.Fatal("Expected conflict error for mismatched interval")
	}

	s1.Close(context.Background())

	refCount, _, _ = GetSharedPollerStatus(source)
	if refCount != 1 {
		t.Fatalf("Expected refCount 1 after one close, got %d", refCount)
	}

	s2.Close(context.Background())

	refCount, hasPoller, _ := GetSharedPollerStatus(source)
	if refCount != 0 || hasPoller {
		t.Fatalf("Expected poller gone after final close, got %d (hasPoller=%v)", refCount, hasPoller)
	}
}

func TestSE3SensorMissingDependency(t *testing.T) {
	conf := resource.Config{
		Name:                "teleop",
		API:                 sensor.API,
		Model:               SE3Model,
		ConvertedAttributes: &SpaceMouseConfig{Source: "nope"},
	}

	if _, err := NewSE3Sensor(context.Background(), resource.Dependencies{}, conf, testLogger()); err == nil {
		t.Fatal("Expected error when the source controller is missing")
	}
}
