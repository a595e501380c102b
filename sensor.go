package spacemouse

import (
	"context"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/input"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
)

var (
	SE3Model = resource.NewModel("devrel", "spacemouse", "se3")
)

func init() {
	resource.RegisterComponent(
		sensor.API,
		SE3Model,
		resource.Registration[sensor.Sensor, *SpaceMouseConfig]{
			Constructor: NewSE3Sensor,
		},
	)
}

// se3Sensor surfaces the shared poller's twist command as sensor readings.
type se3Sensor struct {
	resource.AlwaysRebuild

	name   resource.Name
	logger logging.Logger
	cfg    *SpaceMouseConfig
	poller *Poller
	source string
}

// NewSE3Sensor builds the twist sensor, attaching to (or starting) the
// shared poller for its source controller.
func NewSE3Sensor(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (sensor.Sensor, error) {
	cfg, err := resource.NativeConfig[*SpaceMouseConfig](conf)
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	cfg.Logger = logger

	ctrl, err := controllerFromDeps(deps, cfg.Source)
	if err != nil {
		return nil, err
	}

	profile, fromFile := cfg.LoadProfile(logger)

	poller, err := GetSharedPoller(ctrl, cfg, profile, fromFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get shared poller")
	}
	poller.SetSensitivities(cfg.PosSensitivity, cfg.RotSensitivity)

	s := &se3Sensor{
		name:   conf.ResourceName(),
		logger: logger,
		cfg:    cfg,
		poller: poller,
		source: cfg.Source,
	}

	logger.Infof("se3 twist sensor initialized: source=%s, interval=%.1fms, layout=%s, sensitivity=%.2f/%.2f",
		cfg.Source, cfg.IntervalMS, cfg.Layout, cfg.PosSensitivity, cfg.RotSensitivity)

	return s, nil
}

func controllerFromDeps(deps resource.Dependencies, name string) (input.Controller, error) {
	res, err := deps.Lookup(resource.NewName(input.API, name))
	if err != nil {
		return nil, errors.Wrapf(err, "requires an input controller named %q", name)
	}
	ctrl, ok := res.(input.Controller)
	if !ok {
		return nil, errors.Errorf("resource %q is not an input controller", name)
	}
	return ctrl, nil
}

func (s *se3Sensor) Name() resource.Name {
	return s.name
}

// Readings reports the latest pose delta alongside the raw command state and
// poll-loop health.
func (s *se3Sensor) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	pose, grip := s.poller.Twist()
	cmd := s.poller.Command()
	stats := s.poller.Stats()
	pos, rot := s.poller.Sensitivities()

	vec := pose.Vector()
	poseDelta := make([]interface{}, 0, len(vec))
	for _, v := range vec {
		poseDelta = append(poseDelta, v)
	}

	readings := map[string]interface{}{
		"pose_delta":      poseDelta,
		"delta_pos":       vecToMap(cmd.DeltaPos),
		"delta_rot":       vecToMap(cmd.DeltaRot),
		"rotation_vector": vecToMap(pose.RotationVector),
		"close_gripper":   grip,
		"read_rotation":   s.poller.ReadRotation(),
		"pos_sensitivity": pos,
		"rot_sensitivity": rot,
		"source":          s.source,
		"poll_count":      int(stats.PollCount),
		"error_count":     int(stats.ErrorCount),
	}

	if !stats.LastTick.IsZero() {
		readings["last_poll_age_ms"] = float64(time.Since(stats.LastTick)) / float64(time.Millisecond)
	}
	if stats.LastError != nil {
		readings["last_error"] = stats.LastError.Error()
	}

	return readings, nil
}

func (s *se3Sensor) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	command, ok := cmd["command"].(string)
	if !ok {
		return nil, errors.New("command must be a string")
	}

	switch command {
	case "reset":
		s.poller.Reset()
		return map[string]interface{}{"success": true}, nil

	case "set_sensitivity":
		pos, rot := s.poller.Sensitivities()
		if v, ok := cmd["pos_sensitivity"].(float64); ok {
			if v == 0 {
				return nil, errors.New("pos_sensitivity must be non-zero")
			}
			pos = v
		}
		if v, ok := cmd["rot_sensitivity"].(float64); ok {
			if v == 0 {
				return nil, errors.New("rot_sensitivity must be non-zero")
			}
			rot = v
		}
		s.poller.SetSensitivities(pos, rot)
		return map[string]interface{}{
			"success":         true,
			"pos_sensitivity": pos,
			"rot_sensitivity": rot,
		}, nil

	case "save_profile":
		if s.cfg.ProfileFile == "" {
			return nil, errors.New("no profile_file configured")
		}
		path := resolveProfilePath(s.cfg.ProfileFile)
		if err := SaveAxisProfileToFile(path, s.poller.Profile()); err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"success":      true,
			"profile_file": path,
		}, nil

	case "status":
		refCount, hasPoller, summary := GetSharedPollerStatus(s.source)
		return map[string]interface{}{
			"ref_count":  int(refCount),
			"has_poller": hasPoller,
			"summary":    summary,
		}, nil

	default:
		return nil, errors.Errorf("unknown command: %s", command)
	}
}

func (s *se3Sensor) Close(ctx context.Context) error {
	ReleaseSharedPoller(s.source)
	s.logger.Debugf("se3 twist sensor for source %s closed", s.source)
	return nil
}

func vecToMap(v r3.Vector) map[string]interface{} {
	return map[string]interface{}{"x": v.X, "y": v.Y, "z": v.Z}
}
