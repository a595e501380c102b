package spacemouse

import (
	"context"
	"sync"
	"time"

	"go.viam.com/rdk/components/input"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
)

// pollTimeout bounds a single event read so a stalled controller cannot wedge
// the loop.
const pollTimeout = 100 * time.Millisecond

// pollerStats is a snapshot of poll-loop health counters.
type pollerStats struct {
	Seq        uint64
	PollCount  uint64
	ErrorCount uint64
	LastTick   time.Time
	LastError  error
}

// Poller owns the polling loop for one input controller: on a fixed interval
// it snapshots the controller's latest events, maps them through the device
// layout and axis profile, and feeds the sample to a TwistTransformer. The
// transformer itself is single-threaded; every access to it goes through the
// poller's lock.
type Poller struct {
	source   string
	ctrl     input.Controller
	layout   DeviceLayout
	interval time.Duration
	logger   logging.Logger

	mu          sync.RWMutex
	profile     AxisProfile
	transformer *TwistTransformer
	lastDevice  [6]float64
	lastState   RawDeviceState
	lastPose    PoseDelta
	lastGripper bool
	seq         uint64
	pollCount   uint64
	errorCount  uint64
	lastTick    time.Time
	lastError   error
	started     bool

	cancelCtx               context.Context
	cancelFunc              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup
}

// newPoller wires a poller; call Start to begin sampling.
func newPoller(source string, ctrl input.Controller, layout DeviceLayout, profile AxisProfile, interval time.Duration, logger logging.Logger) *Poller {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &Poller{
		source:      source,
		ctrl:        ctrl,
		layout:      layout,
		profile:     profile,
		interval:    interval,
		logger:      logger,
		transformer: NewTwistTransformer(0, 0),
		cancelCtx:   cancelCtx,
		cancelFunc:  cancelFunc,
	}
}

// Start launches the polling goroutine. Starting twice is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	p.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer p.activeBackgroundWorkers.Done()
		p.poll()
	})
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.cancelFunc()
	p.activeBackgroundWorkers.Wait()
}

func (p *Poller) poll() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.cancelCtx.Done():
			return
		}
	}
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(p.cancelCtx, pollTimeout)
	events, err := p.ctrl.Events(ctx, nil)
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.errorCount++
		p.lastError = err
		p.logger.Debugf("failed to read events from %s: %v", p.source, err)
		return
	}

	device, left, right := p.layout.StateFromEvents(events)
	state := RawDeviceState{Axes: p.profile.Apply(device), Left: left, Right: right}

	p.transformer.OnPoll(state)
	p.lastDevice = device
	p.lastState = state
	p.lastPose, p.lastGripper = p.transformer.Advance()
	p.seq++
	p.pollCount++
	p.lastTick = time.Now()
	p.lastError = nil
}

// Twist returns the pose delta and gripper latch from the latest tick.
func (p *Poller) Twist() (PoseDelta, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPose, p.lastGripper
}

// Command returns the transformer's current command state.
func (p *Poller) Command() TwistCommand {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transformer.Command()
}

// DeviceState returns the latest unprofiled axis readings, the profiled
// sample fed to the transformer, and the tick sequence number.
func (p *Poller) DeviceState() ([6]float64, RawDeviceState, uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastDevice, p.lastState, p.seq
}

// ReadRotation reports the transformer's rotation-mode flag.
func (p *Poller) ReadRotation() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transformer.ReadRotation()
}

// Sensitivities returns the active sensitivity pair.
func (p *Poller) Sensitivities() (float64, float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transformer.Sensitivities()
}

// SetSensitivities swaps the sensitivity pair; the next tick scales with the
// new values.
func (p *Poller) SetSensitivities(pos, rot float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transformer.SetSensitivities(pos, rot)
}

// Reset clears the transformer's command state and the cached twist.
func (p *Poller) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transformer.Reset()
	p.lastPose, p.lastGripper = p.transformer.Advance()
}

// OnButton registers a callback on the underlying transformer. Callbacks run
// on the polling goroutine.
func (p *Poller) OnButton(b Button, fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transformer.OnButton(b, fn)
}

// Profile returns the active axis profile.
func (p *Poller) Profile() AxisProfile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profile
}

// SetProfile replaces the axis profile; the next tick normalizes with it.
func (p *Poller) SetProfile(profile AxisProfile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profile = profile
}

// Interval returns the polling period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Stats returns poll-loop health counters.
func (p *Poller) Stats() pollerStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return pollerStats{
		Seq:        p.seq,
		PollCount:  p.pollCount,
		ErrorCount: p.errorCount,
		LastTick:   p.lastTick,
		LastError:  p.lastError,
	}
}
