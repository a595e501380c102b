package spacemouse

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.viam.com/rdk/components/input"
	"go.viam.com/rdk/logging"
)

type PollerEntry struct {
	poller    *Poller
	config    *SpaceMouseConfig
	profile   AxisProfile
	refCount  int64 // Atomic reference counter
	lastError error
	mu        sync.RWMutex
}

type PollerRegistry struct {
	entries map[string]*PollerEntry // source name -> entry
	mu      sync.RWMutex
}

func NewPollerRegistry() *PollerRegistry {
	return &PollerRegistry{
		entries: make(map[string]*PollerEntry),
	}
}

func (r *PollerRegistry) GetPoller(ctrl input.Controller, config *SpaceMouseConfig, profile AxisProfile, fromFile bool) (*Poller, error) {
	r.mu.RLock()
	entry, exists := r.entries[config.Source]
	r.mu.RUnlock()

	if exists {
		return r.getExistingPoller(entry, config, profile, fromFile)
	}

	return r.createNewPoller(ctrl, config, profile, fromFile)
}

func (r *PollerRegistry) getExistingPoller(entry *PollerEntry, config *SpaceMouseConfig, profile AxisProfile, fromFile bool) (*Poller, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.poller == nil {
		if entry.lastError != nil {
			return nil, fmt.Errorf("cached poller creation error: %w", entry.lastError)
		}
		// entry.config may already be zeroed by a concurrent release.
		return nil, fmt.Errorf("poller not available for source %s", config.Source)
	}

	if !pollerConfigsEqual(entry.config, config) {
		currentRefCount := atomic.LoadInt64(&entry.refCount)
		return nil, fmt.Errorf("conflict: existing poller for source %s uses different settings (refCount: %d)", config.Source, currentRefCount)
	}

	// Only swap the profile in when one was explicitly loaded from a file,
	// so a resource running on the identity default cannot clobber it.
	if fromFile && !entry.profile.Equal(profile) {
		if config.Logger != nil {
			config.Logger.Info("Updating poller axis profile")
		}
		entry.poller.SetProfile(profile)
		entry.profile = profile
	}

	atomic.AddInt64(&entry.refCount, 1)

	return entry.poller, nil
}

func (r *PollerRegistry) createNewPoller(ctrl input.Controller, config *SpaceMouseConfig, profile AxisProfile, fromFile bool) (*Poller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, exists := r.entries[config.Source]; exists {
		return r.getExistingPoller(entry, config, profile, fromFile)
	}

	entry := &PollerEntry{
		config:  config,
		profile: profile,
	}

	if ctrl == nil {
		err := fmt.Errorf("no input controller provided for source %s", config.Source)
		entry.lastError = err
		r.entries[config.Source] = entry
		return nil, err
	}

	layout, err := config.layout()
	if err != nil {
		entry.lastError = err
		r.entries[config.Source] = entry
		return nil, fmt.Errorf("failed to resolve device layout: %w", err)
	}

	logger := config.Logger
	if logger == nil {
		logger = logging.NewLogger("spacemouse-poller")
	}

	poller := newPoller(config.Source, ctrl, layout, profile, config.interval(), logger)
	poller.Start()

	entry.poller = poller
	entry.lastError = nil
	atomic.StoreInt64(&entry.refCount, 1)

	r.entries[config.Source] = entry

	if config.Logger != nil {
		config.Logger.Infof("Started shared poller for source %s at %.1fms with layout %s", config.Source, config.IntervalMS, layout.Name)
	}

	return poller, nil
}

func (r *PollerRegistry) ReleasePoller(source string) {
	r.mu.RLock()
	entry, exists := r.entries[source]
	r.mu.RUnlock()

	if !exists {
		return
	}

	// Never hold entry.mu while taking r.mu: createNewPoller acquires them
	// in the opposite order.
	entry.mu.Lock()
	currentRefCount := atomic.AddInt64(&entry.refCount, -1)
	if currentRefCount > 0 {
		entry.mu.Unlock()
		return
	}

	poller := entry.poller
	var logger logging.Logger
	if entry.config != nil {
		logger = entry.config.Logger
	}
	entry.poller = nil
	entry.config = nil
	entry.profile = AxisProfile{}
	atomic.StoreInt64(&entry.refCount, 0)
	entry.lastError = nil
	entry.mu.Unlock()

	// Lookups racing this window see the zeroed entry and fail cleanly until
	// the delete lands.
	r.mu.Lock()
	delete(r.entries, source)
	r.mu.Unlock()

	if poller != nil {
		poller.Stop()
		if logger != nil {
			logger.Infof("stopped shared poller for source %s", source)
		}
	}
}

func (r *PollerRegistry) ForceClosePoller(source string) error {
	r.mu.Lock()
	entry, exists := r.entries[source]
	if exists {
		delete(r.entries, source)
	}
	r.mu.Unlock()

	if !exists {
		return nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.poller != nil {
		entry.poller.Stop()
		entry.poller = nil
		entry.config = nil
		entry.profile = AxisProfile{}
		atomic.StoreInt64(&entry.refCount, 0)
		entry.lastError = nil
	}

	return nil
}

func (r *PollerRegistry) GetPollerStatus(source string) (int64, bool, string) {
	r.mu.RLock()
	entry, exists := r.entries[source]
	r.mu.RUnlock()

	if !exists {
		return 0, false, ""
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()

	currentRefCount := atomic.LoadInt64(&entry.refCount)
	hasPoller := entry.poller != nil
	configSummary := ""

	if entry.config != nil {
		profileInfo := "identity"
		if !entry.profile.IsIdentity() {
			profileInfo = "custom"
		}
		configSummary = fmt.Sprintf("Source: %s@%.0fms, Layout: %s, Profile: %s",
			entry.config.Source, entry.config.IntervalMS, entry.config.Layout, profileInfo)
	}

	return currentRefCount, hasPoller, configSummary
}

func (r *PollerRegistry) GetCurrentProfile(source string) AxisProfile {
	r.mu.RLock()
	entry, exists := r.entries[source]
	r.mu.RUnlock()

	if !exists {
		return AxisProfile{}
	}

	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.profile
}

// UpdateProfile applies a new axis profile to a live source, keeping the
// registry's view and the poller in sync.
func (r *PollerRegistry) UpdateProfile(source string, profile AxisProfile) bool {
	r.mu.RLock()
	entry, exists := r.entries[source]
	r.mu.RUnlock()

	if !exists {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.poller == nil {
		return false
	}
	entry.poller.SetProfile(profile)
	entry.profile = profile
	return true
}
