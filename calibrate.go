// calibrate.go - SpaceMouse Axis Calibration Sensor Component
package spacemouse

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	CalibrationModel = resource.NewModel("devrel", "spacemouse", "calibration")
)

func init() {
	resource.RegisterComponent(sensor.API, CalibrationModel,
		resource.Registration[sensor.Sensor, *CalibrationConfig]{
			Constructor: NewCalibrationSensor,
		},
	)
}

// CalibrationState represents the current state of the calibration workflow
type CalibrationState int

const (
	StateIdle CalibrationState = iota
	StateStarted
	StateRestRecording
	StateCentered
	StateRangeRecording
	StateCompleted
	StateError
)

func (s CalibrationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarted:
		return "started"
	case StateRestRecording:
		return "rest_recording"
	case StateCentered:
		return "centered"
	case StateRangeRecording:
		return "range_recording"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	// Safety margin over the observed rest noise when deriving deadzones.
	restDeadzoneMargin = 1.5

	calibrationSampleInterval = 10 * time.Millisecond
	maxSampleHistory          = 1000
)

// AxisCalibrationData holds measurements for a single axis during the process
type AxisCalibrationData struct {
	Index       int     `json:"index"`
	Name        string  `json:"name"`
	Current     float64 `json:"current"`
	RestMin     float64 `json:"rest_min"`
	RestMax     float64 `json:"rest_max"`
	RestSamples int     `json:"rest_samples"`
	RecordedMin float64 `json:"recorded_min"`
	RecordedMax float64 `json:"recorded_max"`
	Center      float64 `json:"center"`
	Deadzone    float64 `json:"deadzone"`
	Extent      float64 `json:"extent"`
	IsCompleted bool    `json:"is_completed"`
}

// CalibrationConfig represents the configuration for the calibration sensor.
// The poller-level attributes mirror SpaceMouseConfig so both models can
// share one poller per source.
type CalibrationConfig struct {
	// Source names the input controller to calibrate. Required.
	Source string `json:"source"`
	// ProfileFile is where the captured profile is saved (and loaded from on
	// startup). Relative paths resolve under VIAM_MODULE_DATA.
	ProfileFile string `json:"profile_file,omitempty"`

	// Shared with the twist sensor
	IntervalMS  float64 `json:"interval_ms,omitempty"`
	Layout      string  `json:"layout,omitempty"`
	LeftButton  string  `json:"left_button,omitempty"`
	RightButton string  `json:"right_button,omitempty"`
}

// Validate ensures all parts of the config are valid
func (cfg *CalibrationConfig) Validate(path string) ([]string, []string, error) {
	if cfg.Source == "" {
		return nil, nil, fmt.Errorf(`expected "source" attribute for %q`, path)
	}

	if cfg.ProfileFile == "" {
		cfg.ProfileFile = "spacemouse_profile.json"
	}

	if cfg.Layout != "" {
		if _, err := LayoutForName(cfg.Layout); err != nil {
			return nil, nil, err
		}
	}

	return []string{cfg.Source}, nil, nil
}

// calibrationSensor implements the axis calibration workflow as a sensor
// component: capture the rest noise, sweep the axes to their limits, then
// save the derived profile.
type calibrationSensor struct {
	resource.AlwaysRebuild

	name        resource.Name
	logger      logging.Logger
	cfg         *CalibrationConfig
	poller      *Poller
	source      string
	profilePath string

	// Calibration state
	mu               sync.RWMutex
	state            CalibrationState
	errorMsg         string
	axes             [6]*AxisCalibrationData
	recordingStarted time.Time
	lastInstruction  string

	// Sample recording state
	recordingActive bool
	recordingCtx    context.Context
	recordingCancel context.CancelFunc
	sampleHistory   [][6]float64
}

// NewCalibrationSensor creates a new spacemouse calibration sensor
func NewCalibrationSensor(
	ctx context.Context,
	deps resource.Dependencies,
	rawConf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	conf, err := resource.NativeConfig[*CalibrationConfig](rawConf)
	if err != nil {
		return nil, err
	}

	if conf.ProfileFile == "" {
		conf.ProfileFile = "spacemouse_profile.json"
	}
	profilePath := resolveProfilePath(conf.ProfileFile)

	ctrl, err := controllerFromDeps(deps, conf.Source)
	if err != nil {
		return nil, err
	}

	// Share the poller with any twist sensor on the same source.
	pollerConfig := &SpaceMouseConfig{
		Source:      conf.Source,
		IntervalMS:  conf.IntervalMS,
		Layout:      conf.Layout,
		LeftButton:  conf.LeftButton,
		RightButton: conf.RightButton,
		ProfileFile: conf.ProfileFile,
		Logger:      logger,
	}
	pollerConfig.applyDefaults()

	profile, fromFile := pollerConfig.LoadProfile(logger)

	poller, err := GetSharedPoller(ctrl, pollerConfig, profile, fromFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get shared poller: %w", err)
	}

	var axes [6]*AxisCalibrationData
	for i, name := range axisNames {
		axes[i] = &AxisCalibrationData{
			Index:       i,
			Name:        name,
			RecordedMin: math.Inf(1),
			RecordedMax: math.Inf(-1),
		}
	}

	cs := &calibrationSensor{
		name:            rawConf.ResourceName(),
		logger:          logger,
		cfg:             conf,
		poller:          poller,
		source:          conf.Source,
		profilePath:     profilePath,
		state:           StateIdle,
		axes:            axes,
		lastInstruction: "Ready to start calibration. Use DoCommand with 'start' to begin.",
	}

	logger.Infof("spacemouse calibration sensor initialized for source %s (profile: %s)", conf.Source, profilePath)
	return cs, nil
}

// Name returns the sensor's name
func (cs *calibrationSensor) Name() resource.Name {
	return cs.name
}

// Readings returns the current calibration status and instructions
func (cs *calibrationSensor) Readings(ctx context.Context, extra map[string]any) (map[string]any, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	readings := map[string]any{
		"calibration_state": cs.state.String(),
		"instruction":       cs.lastInstruction,
		"source":            cs.source,
		"profile_file":      cs.profilePath,
	}

	if cs.state == StateError {
		readings["error"] = cs.errorMsg
	}

	// Add axis-specific information
	axisInfo := make(map[string]any)
	for _, axis := range cs.axes {
		axisInfo[axis.Name] = map[string]any{
			"index":        axis.Index,
			"current":      axis.Current,
			"rest_min":     axis.RestMin,
			"rest_max":     axis.RestMax,
			"rest_samples": axis.RestSamples,
			"recorded_min": readingFloat(axis.RecordedMin),
			"recorded_max": readingFloat(axis.RecordedMax),
			"center":       axis.Center,
			"deadzone":     axis.Deadzone,
			"extent":       axis.Extent,
			"is_completed": axis.IsCompleted,
		}
	}
	readings["axes"] = axisInfo

	// Add progress information
	if (cs.state == StateRestRecording || cs.state == StateRangeRecording) && cs.recordingActive {
		elapsed := time.Since(cs.recordingStarted)
		readings["recording_time_seconds"] = elapsed.Seconds()
		readings["samples"] = len(cs.sampleHistory)
	}

	// Add available commands based on state
	availableCommands := []any{}
	switch cs.state {
	case StateIdle:
		availableCommands = []any{"start"}
	case StateStarted:
		availableCommands = []any{"start_rest_recording", "abort"}
	case StateRestRecording:
		availableCommands = []any{"stop_rest_recording", "abort"}
	case StateCentered:
		availableCommands = []any{"start_range_recording", "abort"}
	case StateRangeRecording:
		availableCommands = []any{"stop_range_recording", "abort"}
	case StateCompleted:
		availableCommands = []any{"save_profile", "start"} // Allow restart
	case StateError:
		availableCommands = []any{"reset", "start"}
	}
	readings["available_commands"] = availableCommands

	return readings, nil
}

// DoCommand handles calibration workflow commands
func (cs *calibrationSensor) DoCommand(ctx context.Context, cmd map[string]any) (map[string]any, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, fmt.Errorf("command must be a string")
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()

	switch command {
	case "start":
		return cs.startCalibration(ctx)

	case "start_rest_recording":
		return cs.startRestRecording(ctx)

	case "stop_rest_recording":
		return cs.stopRestRecording(ctx)

	case "start_range_recording":
		return cs.startRangeRecording(ctx)

	case "stop_range_recording":
		return cs.stopRangeRecording(ctx)

	case "save_profile":
		return cs.saveProfile(ctx)

	case "abort":
		return cs.abortCalibration(ctx)

	case "reset":
		return cs.resetCalibration(ctx)

	case "get_current_values":
		return cs.getCurrentValues(ctx)

	default:
		return nil, fmt.Errorf("unknown command: %s", command)
	}
}

// startCalibration begins the calibration workflow
func (cs *calibrationSensor) startCalibration(_ context.Context) (map[string]any, error) {
	if cs.state != StateIdle && cs.state != StateCompleted && cs.state != StateError {
		return map[string]any{"success": false},
			fmt.Errorf("calibration already in progress (state: %s)", cs.state.String())
	}

	cs.logger.Info("Starting spacemouse axis calibration workflow")

	// Reset axis data
	for _, axis := range cs.axes {
		axis.Current = 0
		axis.RestMin = 0
		axis.RestMax = 0
		axis.RestSamples = 0
		axis.RecordedMin = math.Inf(1)
		axis.RecordedMax = math.Inf(-1)
		axis.Center = 0
		axis.Deadzone = 0
		axis.Extent = 0
		axis.IsCompleted = false
	}
	cs.sampleHistory = nil

	cs.setState(StateStarted,
		"Calibration started. Set the device on a stable surface and let it settle, then use 'start_rest_recording'.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// startRestRecording begins sampling the untouched device
func (cs *calibrationSensor) startRestRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateStarted {
		return map[string]any{"success": false},
			fmt.Errorf("must start calibration first (current state: %s)", cs.state.String())
	}

	cs.logger.Info("Starting rest capture; leave the device untouched")

	// Create a dedicated context for recording that won't be cancelled when DoCommand returns
	cs.recordingCtx, cs.recordingCancel = context.WithCancel(context.Background())
	cs.recordingActive = true
	cs.recordingStarted = time.Now()
	cs.sampleHistory = nil

	cs.setState(StateRestRecording,
		"Recording the rest position. Do not touch the device. Use 'stop_rest_recording' after a few seconds.")

	go cs.recordSamples(cs.recordingCtx, StateRestRecording)

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// stopRestRecording derives each axis center and deadzone from the rest noise
func (cs *calibrationSensor) stopRestRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateRestRecording {
		return map[string]any{"success": false},
			fmt.Errorf("rest recording not active (current state: %s)", cs.state.String())
	}

	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false

	restData := make(map[string]any)
	for _, axis := range cs.axes {
		if axis.RestSamples == 0 {
			cs.setState(StateError, "No samples collected during rest capture; is the source controller reporting events?")
			return map[string]any{"success": false}, fmt.Errorf("no rest samples collected")
		}

		axis.Center = (axis.RestMin + axis.RestMax) / 2
		axis.Deadzone = (axis.RestMax - axis.RestMin) / 2 * restDeadzoneMargin

		restData[axis.Name] = map[string]any{
			"center":   axis.Center,
			"deadzone": axis.Deadzone,
			"samples":  axis.RestSamples,
		}

		cs.logger.Infof("Axis %s: center=%.4f, deadzone=%.4f (%d samples)",
			axis.Name, axis.Center, axis.Deadzone, axis.RestSamples)
	}

	cs.setState(StateCentered,
		"Rest capture complete. Use 'start_range_recording', then move every axis to its limits: push, pull, lift, press, and twist the cap.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"rest":    restData,
		"message": cs.lastInstruction,
	}, nil
}

// startRangeRecording begins recording min/max axis deflections
func (cs *calibrationSensor) startRangeRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateCentered {
		return map[string]any{"success": false},
			fmt.Errorf("must capture the rest position first (current state: %s)", cs.state.String())
	}

	cs.logger.Info("Starting range of motion recording...")

	cs.recordingCtx, cs.recordingCancel = context.WithCancel(context.Background())
	cs.recordingActive = true
	cs.recordingStarted = time.Now()
	cs.sampleHistory = nil

	cs.setState(StateRangeRecording,
		"Recording range of motion. Move all six axes through their full ranges. Use 'stop_range_recording' when complete.")

	go cs.recordSamples(cs.recordingCtx, StateRangeRecording)

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// recordSamples continuously captures device samples in the background
func (cs *calibrationSensor) recordSamples(recordingCtx context.Context, phase CalibrationState) {
	ticker := time.NewTicker(calibrationSampleInterval)
	defer ticker.Stop()

	cs.logger.Debug("Sample recording goroutine started")

	var lastSeq uint64
	for {
		select {
		case <-recordingCtx.Done():
			cs.logger.Debug("Sample recording goroutine stopped - context cancelled")
			return
		case <-ticker.C:
			cs.mu.RLock()
			if !cs.recordingActive || cs.state != phase {
				cs.mu.RUnlock()
				cs.logger.Debug("Sample recording goroutine stopped - recording not active")
				return
			}
			cs.mu.RUnlock()

			// Unprofiled readings straight from the poller's last tick.
			device, _, seq := cs.poller.DeviceState()
			if seq == 0 || seq == lastSeq {
				continue
			}
			lastSeq = seq

			cs.mu.Lock()
			if cs.recordingActive {
				for i, axis := range cs.axes {
					v := device[i]
					axis.Current = v

					switch phase {
					case StateRestRecording:
						if axis.RestSamples == 0 || v < axis.RestMin {
							axis.RestMin = v
						}
						if axis.RestSamples == 0 || v > axis.RestMax {
							axis.RestMax = v
						}
						axis.RestSamples++
					case StateRangeRecording:
						if v < axis.RecordedMin {
							axis.RecordedMin = v
						}
						if v > axis.RecordedMax {
							axis.RecordedMax = v
						}
					}
				}

				cs.sampleHistory = append(cs.sampleHistory, device)

				// Limit history to the last samples to prevent memory issues
				if len(cs.sampleHistory) > maxSampleHistory {
					cs.sampleHistory = cs.sampleHistory[len(cs.sampleHistory)-maxSampleHistory:]
				}
			}
			cs.mu.Unlock()
		}
	}
}

// stopRangeRecording completes the range recording process
func (cs *calibrationSensor) stopRangeRecording(_ context.Context) (map[string]any, error) {
	if cs.state != StateRangeRecording {
		return map[string]any{"success": false},
			fmt.Errorf("range recording not active (current state: %s)", cs.state.String())
	}

	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false

	recordingDuration := time.Since(cs.recordingStarted)
	cs.logger.Infof("Range recording stopped after %.1f seconds, %d samples collected",
		recordingDuration.Seconds(), len(cs.sampleHistory))

	// Validate recorded ranges
	rangeData := make(map[string]any)
	var invalid []string

	for _, axis := range cs.axes {
		if math.IsInf(axis.RecordedMin, 1) || axis.RecordedMin >= axis.RecordedMax {
			invalid = append(invalid, axis.Name)
			continue
		}

		extent := math.Max(math.Abs(axis.RecordedMax-axis.Center), math.Abs(axis.RecordedMin-axis.Center))
		if extent <= axis.Deadzone {
			invalid = append(invalid, axis.Name)
			continue
		}

		axis.Extent = extent
		axis.IsCompleted = true

		rangeData[axis.Name] = map[string]any{
			"min":    axis.RecordedMin,
			"max":    axis.RecordedMax,
			"extent": extent,
		}

		cs.logger.Infof("Axis %s: range [%.4f, %.4f], extent %.4f",
			axis.Name, axis.RecordedMin, axis.RecordedMax, extent)
	}

	if len(invalid) > 0 {
		cs.setState(StateError, fmt.Sprintf("Axes with no usable range: %s. Restart range recording and move them further.",
			strings.Join(invalid, ", ")))
		return map[string]any{"success": false}, fmt.Errorf("invalid range for axes: %s", strings.Join(invalid, ", "))
	}

	cs.setState(StateCompleted,
		"Range recording complete. Use 'save_profile' to write the profile to disk.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"ranges":  rangeData,
		"message": cs.lastInstruction,
	}, nil
}

// saveProfile writes the derived profile and applies it to the live poller
func (cs *calibrationSensor) saveProfile(_ context.Context) (map[string]any, error) {
	if cs.state != StateCompleted {
		return map[string]any{"success": false},
			fmt.Errorf("calibration not completed (current state: %s)", cs.state.String())
	}

	profile := cs.buildProfile()
	if err := SaveAxisProfileToFile(cs.profilePath, profile); err != nil {
		cs.setState(StateError, fmt.Sprintf("Failed to save profile: %v", err))
		return map[string]any{"success": false}, err
	}

	cs.logger.Infof("Saved axis profile to %s", cs.profilePath)

	if UpdateSharedProfile(cs.source, profile) {
		cs.logger.Info("Applied the new profile to the live poller")
	}

	cs.setState(StateIdle, "Profile saved successfully. Ready for new calibration.")

	return map[string]any{
		"success":      true,
		"state":        cs.state.String(),
		"profile_file": cs.profilePath,
		"axes_saved":   len(cs.axes),
		"message":      cs.lastInstruction,
	}, nil
}

// abortCalibration cancels the current calibration process
func (cs *calibrationSensor) abortCalibration(_ context.Context) (map[string]any, error) {
	cs.logger.Info("Aborting calibration...")

	// Stop any active recording
	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false

	cs.setState(StateIdle, "Calibration aborted. Ready to start new calibration.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// resetCalibration resets the sensor to initial state
func (cs *calibrationSensor) resetCalibration(_ context.Context) (map[string]any, error) {
	cs.logger.Info("Resetting calibration sensor...")

	// Stop any active recording
	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false
	cs.errorMsg = ""
	cs.sampleHistory = nil

	// Reset all axis data
	for _, axis := range cs.axes {
		axis.Current = 0
		axis.RestMin = 0
		axis.RestMax = 0
		axis.RestSamples = 0
		axis.RecordedMin = math.Inf(1)
		axis.RecordedMax = math.Inf(-1)
		axis.Center = 0
		axis.Deadzone = 0
		axis.Extent = 0
		axis.IsCompleted = false
	}

	cs.setState(StateIdle, "Calibration sensor reset. Ready to start calibration.")

	return map[string]any{
		"success": true,
		"state":   cs.state.String(),
		"message": cs.lastInstruction,
	}, nil
}

// getCurrentValues returns the latest raw and normalized axis readings
func (cs *calibrationSensor) getCurrentValues(_ context.Context) (map[string]any, error) {
	device, state, seq := cs.poller.DeviceState()

	values := make(map[string]any)
	for i, name := range axisNames {
		cs.axes[i].Current = device[i]
		values[name] = map[string]any{
			"raw":        device[i],
			"normalized": state.Axes[i],
		}
	}

	return map[string]any{
		"success": true,
		"seq":     int(seq),
		"left":    state.Left,
		"right":   state.Right,
		"values":  values,
	}, nil
}

// buildProfile assembles an AxisProfile from the captured measurements
func (cs *calibrationSensor) buildProfile() AxisProfile {
	var cals [6]*AxisCalibration
	for i, axis := range cs.axes {
		cals[i] = &AxisCalibration{
			Center:   axis.Center,
			Extent:   axis.Extent,
			Deadzone: axis.Deadzone,
		}
	}
	return AxisProfile{X: cals[0], Y: cals[1], Z: cals[2], RX: cals[3], RY: cals[4], RZ: cals[5]}
}

// setState updates the calibration state and instruction message
func (cs *calibrationSensor) setState(state CalibrationState, instruction string) {
	cs.state = state
	cs.lastInstruction = instruction

	if state == StateError {
		cs.errorMsg = instruction
		cs.logger.Errorf("Calibration error: %s", instruction)
	} else {
		cs.errorMsg = ""
		cs.logger.Infof("Calibration state: %s - %s", state.String(), instruction)
	}
}

// Close stops any recording and releases the shared poller
func (cs *calibrationSensor) Close(ctx context.Context) error {
	cs.mu.Lock()
	if cs.recordingCancel != nil {
		cs.recordingCancel()
		cs.recordingCancel = nil
	}
	cs.recordingActive = false
	cs.mu.Unlock()

	ReleaseSharedPoller(cs.source)
	cs.logger.Info("Calibration sensor closed")
	return nil
}

func readingFloat(v float64) float64 {
	if math.IsInf(v, 0) {
		return 0
	}
	return v
}
