package main

import (
	"context"
	"math"
	"time"

	"go.viam.com/rdk/components/input"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"
	"spacemouse"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("spacemouse-cli")

	source := "synthetic-pad"
	ctrl := newScriptedController(source)
	deps := resource.Dependencies{
		resource.NewName(input.API, source): ctrl,
	}

	// Configuration for the synthetic device
	cfg := &spacemouse.SpaceMouseConfig{
		Source:         source,
		IntervalMS:     10,  // Matches the real device's report rate
		Layout:         "spacemouse",
		PosSensitivity: 0.4,
		RotSensitivity: 0.8,
	}

	conf := resource.Config{
		Name:                "teleop",
		API:                 sensor.API,
		Model:               spacemouse.SE3Model,
		ConvertedAttributes: cfg,
	}

	twist, err := spacemouse.NewSE3Sensor(ctx, deps, conf, logger)
	if err != nil {
		return err
	}
	defer twist.Close(ctx)

	logger.Info("spacemouse twist sensor initialized successfully")
	logger.Info("Streaming pose deltas for 30 seconds...")

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if !utils.SelectContextOrWait(ctx, 500*time.Millisecond) {
			return ctx.Err()
		}

		readings, err := twist.Readings(ctx, nil)
		if err != nil {
			logger.Errorf("Failed to read twist: %v", err)
			continue
		}

		logger.Infof("pose_delta=%v close_gripper=%v read_rotation=%v",
			readings["pose_delta"], readings["close_gripper"], readings["read_rotation"])
	}

	// Exercise the command surface before shutting down
	logger.Info("Resetting the transformer state...")
	if _, err := twist.DoCommand(ctx, map[string]interface{}{"command": "reset"}); err != nil {
		logger.Errorf("Failed to reset: %v", err)
	}

	status, err := twist.DoCommand(ctx, map[string]interface{}{"command": "status"})
	if err != nil {
		logger.Errorf("Failed to read status: %v", err)
	} else {
		logger.Infof("Poller status: %+v", status)
	}

	logger.Info("Done")
	return nil
}

// scriptedController synthesizes a drifting spacemouse so the readout can be
// exercised without hardware attached.
type scriptedController struct {
	resource.AlwaysRebuild
	resource.TriviallyCloseable

	name  resource.Name
	start time.Time
}

func newScriptedController(name string) *scriptedController {
	return &scriptedController{
		name:  resource.NewName(input.API, name),
		start: time.Now(),
	}
}

func (c *scriptedController) Name() resource.Name {
	return c.name
}

func (c *scriptedController) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	return map[string]interface{}{}, nil
}

func (c *scriptedController) Controls(ctx context.Context, extra map[string]interface{}) ([]input.Control, error) {
	return []input.Control{
		input.AbsoluteX, input.AbsoluteY, input.AbsoluteZ,
		input.AbsoluteRX, input.AbsoluteRY, input.AbsoluteRZ,
		input.ButtonWest, input.ButtonEast,
	}, nil
}

func (c *scriptedController) Events(ctx context.Context, extra map[string]interface{}) (map[input.Control]input.Event, error) {
	elapsed := time.Since(c.start).Seconds()
	now := time.Now()

	axes := map[input.Control]float64{
		input.AbsoluteX:  0.6 * math.Sin(elapsed),
		input.AbsoluteY:  0.4 * math.Cos(elapsed/2),
		input.AbsoluteZ:  0.2 * math.Sin(elapsed/3),
		input.AbsoluteRX: 0.3 * math.Sin(elapsed/1.5),
		input.AbsoluteRY: 0.25 * math.Cos(elapsed),
		input.AbsoluteRZ: 0.5 * math.Sin(elapsed/4),
	}

	events := make(map[input.Control]input.Event)
	for control, value := range axes {
		events[control] = input.Event{Time: now, Event: input.PositionChangeAbs, Control: control, Value: value}
	}

	// Tap the left button every 5 seconds and the right every 12.
	events[input.ButtonWest] = buttonEvent(now, input.ButtonWest, math.Mod(elapsed, 5) < 0.25)
	events[input.ButtonEast] = buttonEvent(now, input.ButtonEast, math.Mod(elapsed, 12) < 0.25)

	return events, nil
}

func (c *scriptedController) RegisterControlCallback(
	ctx context.Context,
	control input.Control,
	triggers []input.EventType,
	ctrlFunc input.ControlFunction,
	extra map[string]interface{},
) error {
	return nil
}

func buttonEvent(ts time.Time, control input.Control, down bool) input.Event {
	ev := input.Event{Time: ts, Event: input.ButtonRelease, Control: control, Value: 0}
	if down {
		ev.Event = input.ButtonPress
		ev.Value = 1
	}
	return ev
}
