package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eversmart/homecore/internal/automation"
	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/solar"
)

// tickRetryDelay is the pause after a failed tick before the loop
// resumes. Short and fixed: the store is local, transient failure is
// rare, and the next minute boundary bounds the damage anyway.
const tickRetryDelay = 5 * time.Second

// CommandSender issues attribute commands toward the broker.
// Satisfied by *bridge.Bridge.
type CommandSender interface {
	SendCommand(devicePrefix, attributeKey string, value any) error
}

// Clock abstracts time for testing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Scheduler.
type Options struct {
	// Automations is the automation store. Required.
	Automations automation.Repository

	// Devices resolves automation targets to broker tag prefixes.
	// Required.
	Devices device.Repository

	// Commands executes triggered actions. Required.
	Commands CommandSender

	// Locator and Times drive the daily solar recompute. Both optional;
	// when either is nil, solar-anchored automations keep whatever
	// trigger time is stored.
	Locator solar.Locator
	Times   solar.TimesProvider

	// Clock is injectable for tests. Defaults to the system clock.
	Clock Clock

	// Logger is optional.
	Logger Logger
}

// Scheduler drives time-based automations. A single loop wakes at each
// minute boundary, fires the automations whose trigger matches that
// minute, and once per calendar day rewrites the trigger times of
// solar-anchored automations from the day's sunrise/sunset.
type Scheduler struct {
	automations automation.Repository
	devices     device.Repository
	commands    CommandSender
	locator     solar.Locator
	times       solar.TimesProvider
	clock       Clock
	logger      Logger

	startMu sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup

	// Calendar day (site-local YYYY-MM-DD) of the last solar recompute
	// attempt. Failures count: free lookup services are retried at the
	// next day boundary, not every minute.
	lastSolarDay string
}

// New creates a Scheduler. Call Start to begin the loop.
func New(opts Options) (*Scheduler, error) {
	if opts.Automations == nil {
		return nil, fmt.Errorf("scheduler: automation repository is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("scheduler: device repository is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("scheduler: command sender is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}

	return &Scheduler{
		automations: opts.Automations,
		devices:     opts.Devices,
		commands:    opts.Commands,
		locator:     opts.Locator,
		times:       opts.Times,
		clock:       clock,
		logger:      opts.Logger,
	}, nil
}

// Start launches the scheduling loop. Idempotent: a second call while
// running is a no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started {
		s.logDebug("scheduler already started, ignoring")
		return nil
	}

	s.started = true
	s.done = make(chan struct{})
	s.wg.Add(1)
	go s.run(ctx)

	s.logInfo("scheduler started")
	return nil
}

// Stop halts the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.started {
		return
	}
	close(s.done)
	s.wg.Wait()
	s.started = false
	s.logInfo("scheduler stopped")
}

// run is the scheduling loop. It wakes just after each minute boundary
// so a trigger fires within seconds of its HH:MM, never a minute late.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		now := s.clock.Now()

		if day := now.Format("2006-01-02"); day != s.lastSolarDay {
			s.lastSolarDay = day
			s.refreshSolarTriggers(ctx, now)
		}

		if err := s.runTick(ctx, now); err != nil {
			s.logError("scheduler tick failed", err)
			if !s.sleep(ctx, tickRetryDelay) {
				return
			}
			continue
		}

		next := now.Truncate(time.Minute).Add(time.Minute)
		if !s.sleep(ctx, next.Sub(now)) {
			return
		}
	}
}

// sleep waits for d, returning false when the scheduler is stopping.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runTick fires every active automation whose trigger matches the
// current minute. Failures are isolated per automation: one broken
// rule never blocks the rest of the minute's work.
func (s *Scheduler) runTick(ctx context.Context, now time.Time) error {
	active, err := s.automations.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active automations: %w", err)
	}

	for i := range active {
		a := &active[i]
		if !a.MatchesMinute(now) {
			continue
		}
		s.fire(ctx, a)
	}
	return nil
}

// fire executes one automation's action against its device.
func (s *Scheduler) fire(ctx context.Context, a *automation.Automation) {
	dev, err := s.devices.GetByID(ctx, a.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			s.logWarn("automation targets missing device, skipping",
				"automation", a.ID, "device", a.DeviceID)
		} else {
			s.logError("resolving automation device failed", err, "automation", a.ID)
		}
		return
	}
	if dev.Tag == "" {
		s.logWarn("automation device has no broker tag, skipping",
			"automation", a.ID, "device", a.DeviceID)
		return
	}

	for attribute, value := range a.Action {
		if err := s.commands.SendCommand(dev.Tag, attribute, value); err != nil {
			s.logError("automation command failed", err,
				"automation", a.ID, "device", a.DeviceID, "attribute", attribute)
			continue
		}
		s.logInfo("automation fired",
			"automation", a.ID, "title", a.Title, "attribute", attribute)
	}
}

// refreshSolarTriggers rewrites sunrise/sunset-anchored trigger times
// from the day's solar times. Lookup failure keeps the stored times;
// the next attempt is at the next day boundary.
func (s *Scheduler) refreshSolarTriggers(ctx context.Context, now time.Time) {
	if s.locator == nil || s.times == nil {
		return
	}

	coords, err := s.locator.CurrentCoordinates(ctx)
	if err != nil {
		s.logWarn("solar recompute skipped, location lookup failed", "error", err)
		return
	}

	times, err := s.times.SolarTimes(ctx, coords, now)
	if err != nil {
		s.logWarn("solar recompute skipped, times lookup failed", "error", err)
		return
	}

	anchors := []struct {
		event automation.SolarEvent
		at    time.Time
	}{
		{automation.SolarSunrise, times.Sunrise},
		{automation.SolarSunset, times.Sunset},
	}
	for _, anchor := range anchors {
		trigger := anchor.at.In(now.Location()).Format("15:04")
		n, err := s.automations.UpdateSolarTriggers(ctx, anchor.event, trigger)
		if err != nil {
			s.logError("updating solar triggers failed", err, "event", string(anchor.event))
			continue
		}
		if n > 0 {
			s.logInfo("solar triggers updated",
				"event", string(anchor.event), "trigger", trigger, "count", n)
		}
	}
}

// logDebug logs a debug message if logger is set.
func (s *Scheduler) logDebug(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (s *Scheduler) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (s *Scheduler) logWarn(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (s *Scheduler) logError(msg string, err error, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
