package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eversmart/homecore/internal/automation"
	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/solar"
)

// ─── Mock Dependencies ───────────────────────────────────────────────

type solarUpdate struct {
	event   automation.SolarEvent
	trigger string
}

type mockAutomations struct {
	mu           sync.Mutex
	active       []automation.Automation
	listErr      error
	listCalls    int
	solarUpdates []solarUpdate
}

func (m *mockAutomations) GetByID(ctx context.Context, id string) (*automation.Automation, error) {
	return nil, automation.ErrNotFound
}

func (m *mockAutomations) List(ctx context.Context) ([]automation.Automation, error) {
	return nil, nil
}

func (m *mockAutomations) ListActive(ctx context.Context) ([]automation.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]automation.Automation(nil), m.active...), nil
}

func (m *mockAutomations) Create(ctx context.Context, a *automation.Automation) error { return nil }
func (m *mockAutomations) Update(ctx context.Context, a *automation.Automation) error { return nil }
func (m *mockAutomations) Delete(ctx context.Context, id string) error                { return nil }

func (m *mockAutomations) UpdateSolarTriggers(ctx context.Context, event automation.SolarEvent, triggerTime string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.solarUpdates = append(m.solarUpdates, solarUpdate{event: event, trigger: triggerTime})
	return 1, nil
}

type mockDevices struct {
	byID map[string]*device.Device
}

func (m *mockDevices) GetByID(ctx context.Context, id string) (*device.Device, error) {
	if d, ok := m.byID[id]; ok {
		return d, nil
	}
	return nil, device.ErrNotFound
}

func (m *mockDevices) GetByTagPrefix(ctx context.Context, prefix string) (*device.Device, error) {
	return nil, device.ErrNotFound
}
func (m *mockDevices) List(ctx context.Context) ([]device.Device, error)  { return nil, nil }
func (m *mockDevices) Create(ctx context.Context, d *device.Device) error { return nil }
func (m *mockDevices) Update(ctx context.Context, d *device.Device) error { return nil }
func (m *mockDevices) Delete(ctx context.Context, id string) error        { return nil }
func (m *mockDevices) UpdateAttribute(ctx context.Context, prefix, suffix string, value any) error {
	return nil
}

type sentCommand struct {
	prefix    string
	attribute string
	value     any
}

type mockCommands struct {
	mu   sync.Mutex
	err  error
	sent []sentCommand
}

func (m *mockCommands) SendCommand(devicePrefix, attributeKey string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentCommand{prefix: devicePrefix, attribute: attributeKey, value: value})
	return nil
}

func (m *mockCommands) commands() []sentCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentCommand(nil), m.sent...)
}

type mockTimesProvider struct {
	times solar.Times
	err   error
}

func (m *mockTimesProvider) SolarTimes(ctx context.Context, c solar.Coordinates, date time.Time) (solar.Times, error) {
	if m.err != nil {
		return solar.Times{}, m.err
	}
	return m.times, nil
}

// steppingClock advances one minute per Now() call, pinned just before
// the minute boundary so loop sleeps are near-zero.
type steppingClock struct {
	mu   sync.Mutex
	next time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(time.Minute)
	return now
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// ─── Helpers ─────────────────────────────────────────────────────────

func newTestScheduler(t *testing.T, opts Options) (*Scheduler, *mockAutomations, *mockCommands) {
	t.Helper()

	autos := &mockAutomations{}
	commands := &mockCommands{}
	devices := &mockDevices{byID: map[string]*device.Device{
		"dev-lamp": {ID: "dev-lamp", Name: "Lamp", Kind: device.KindLight, Tag: "living.lamp"},
		"dev-bare": {ID: "dev-bare", Name: "Untagged", Kind: device.KindGeneric},
	}}

	opts.Automations = autos
	opts.Devices = devices
	opts.Commands = commands
	if opts.Clock == nil {
		opts.Clock = fixedClock{t: time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)}
	}

	s, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, autos, commands
}

// ─── Tests ───────────────────────────────────────────────────────────

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New() with no collaborators should fail")
	}
}

func TestRunTick_FiresMatchingAutomation(t *testing.T) {
	s, autos, commands := newTestScheduler(t, Options{})
	autos.active = []automation.Automation{
		{
			ID:          "auto-1",
			DeviceID:    "dev-lamp",
			TriggerTime: "07:30",
			Action:      map[string]any{"power": true},
			Active:      true,
		},
		{
			ID:          "auto-2",
			DeviceID:    "dev-lamp",
			TriggerTime: "22:00",
			Action:      map[string]any{"power": false},
			Active:      true,
		},
	}

	now := time.Date(2026, 3, 2, 7, 30, 12, 0, time.UTC)
	if err := s.runTick(context.Background(), now); err != nil {
		t.Fatalf("runTick() error = %v", err)
	}

	sent := commands.commands()
	if len(sent) != 1 {
		t.Fatalf("sent %d commands, want 1", len(sent))
	}
	if sent[0].prefix != "living.lamp" || sent[0].attribute != "power" || sent[0].value != true {
		t.Errorf("command = %+v", sent[0])
	}
}

func TestRunTick_RespectsRepeatDays(t *testing.T) {
	s, autos, commands := newTestScheduler(t, Options{})
	autos.active = []automation.Automation{{
		ID:          "weekdays-only",
		DeviceID:    "dev-lamp",
		TriggerTime: "07:30",
		RepeatDays:  []int{1, 2, 3, 4, 5},
		Action:      map[string]any{"power": true},
		Active:      true,
	}}

	// 2026-03-01 is a Sunday.
	sunday := time.Date(2026, 3, 1, 7, 30, 0, 0, time.UTC)
	if err := s.runTick(context.Background(), sunday); err != nil {
		t.Fatalf("runTick() error = %v", err)
	}
	if got := commands.commands(); len(got) != 0 {
		t.Fatalf("weekday automation fired on Sunday: %v", got)
	}

	monday := sunday.AddDate(0, 0, 1)
	if err := s.runTick(context.Background(), monday); err != nil {
		t.Fatalf("runTick() error = %v", err)
	}
	if got := commands.commands(); len(got) != 1 {
		t.Fatalf("sent %d commands on Monday, want 1", len(got))
	}
}

func TestRunTick_SkipsDeviceWithoutTag(t *testing.T) {
	s, autos, commands := newTestScheduler(t, Options{})
	autos.active = []automation.Automation{{
		ID:          "auto-bare",
		DeviceID:    "dev-bare",
		TriggerTime: "07:30",
		Action:      map[string]any{"power": true},
		Active:      true,
	}}

	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	if err := s.runTick(context.Background(), now); err != nil {
		t.Fatalf("runTick() error = %v", err)
	}
	if got := commands.commands(); len(got) != 0 {
		t.Errorf("untagged device received commands: %v", got)
	}
}

func TestRunTick_IsolatesFailures(t *testing.T) {
	s, autos, commands := newTestScheduler(t, Options{})
	autos.active = []automation.Automation{
		{
			ID:          "auto-missing",
			DeviceID:    "dev-gone",
			TriggerTime: "07:30",
			Action:      map[string]any{"power": true},
			Active:      true,
		},
		{
			ID:          "auto-good",
			DeviceID:    "dev-lamp",
			TriggerTime: "07:30",
			Action:      map[string]any{"power": true},
			Active:      true,
		},
	}

	now := time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC)
	if err := s.runTick(context.Background(), now); err != nil {
		t.Fatalf("runTick() error = %v", err)
	}
	if got := commands.commands(); len(got) != 1 {
		t.Fatalf("sent %d commands, want 1 (missing device must not block the rest)", len(got))
	}
}

func TestRunTick_ListFailure(t *testing.T) {
	s, autos, _ := newTestScheduler(t, Options{})
	autos.listErr = errors.New("db locked")

	err := s.runTick(context.Background(), time.Now())
	if err == nil {
		t.Fatal("runTick() should surface list failure")
	}
}

func TestRefreshSolarTriggers(t *testing.T) {
	s, autos, _ := newTestScheduler(t, Options{
		Locator: solar.FixedLocator{Coords: solar.Coordinates{Latitude: 51.5, Longitude: -0.12}},
		Times: &mockTimesProvider{times: solar.Times{
			Sunrise: time.Date(2026, 3, 2, 6, 48, 0, 0, time.UTC),
			Sunset:  time.Date(2026, 3, 2, 17, 42, 0, 0, time.UTC),
		}},
	})

	s.refreshSolarTriggers(context.Background(), time.Date(2026, 3, 2, 0, 0, 30, 0, time.UTC))

	autos.mu.Lock()
	defer autos.mu.Unlock()
	if len(autos.solarUpdates) != 2 {
		t.Fatalf("solar updates = %d, want 2", len(autos.solarUpdates))
	}
	if autos.solarUpdates[0].event != automation.SolarSunrise || autos.solarUpdates[0].trigger != "06:48" {
		t.Errorf("sunrise update = %+v", autos.solarUpdates[0])
	}
	if autos.solarUpdates[1].event != automation.SolarSunset || autos.solarUpdates[1].trigger != "17:42" {
		t.Errorf("sunset update = %+v", autos.solarUpdates[1])
	}
}

func TestRefreshSolarTriggers_LookupFailureKeepsTimes(t *testing.T) {
	s, autos, _ := newTestScheduler(t, Options{
		Locator: solar.FixedLocator{},
		Times:   &mockTimesProvider{err: solar.ErrLookupFailed},
	})

	s.refreshSolarTriggers(context.Background(), time.Now())

	autos.mu.Lock()
	defer autos.mu.Unlock()
	if len(autos.solarUpdates) != 0 {
		t.Errorf("trigger times rewritten despite lookup failure: %v", autos.solarUpdates)
	}
}

func TestRefreshSolarTriggers_NoProviderConfigured(t *testing.T) {
	s, autos, _ := newTestScheduler(t, Options{})

	s.refreshSolarTriggers(context.Background(), time.Now())

	autos.mu.Lock()
	defer autos.mu.Unlock()
	if len(autos.solarUpdates) != 0 {
		t.Errorf("solar updates without a provider: %v", autos.solarUpdates)
	}
}

func TestStartStop_SolarRecomputeOncePerDay(t *testing.T) {
	clock := &steppingClock{
		// Just before the minute boundary so loop sleeps are near-zero.
		next: time.Date(2026, 3, 2, 7, 29, 59, int(999 * time.Millisecond), time.UTC),
	}
	s, autos, commands := newTestScheduler(t, Options{
		Clock:   clock,
		Locator: solar.FixedLocator{},
		Times: &mockTimesProvider{times: solar.Times{
			Sunrise: time.Date(2026, 3, 2, 6, 48, 0, 0, time.UTC),
			Sunset:  time.Date(2026, 3, 2, 17, 42, 0, 0, time.UTC),
		}},
	})
	autos.active = []automation.Automation{{
		ID:          "auto-1",
		DeviceID:    "dev-lamp",
		TriggerTime: "07:30",
		Action:      map[string]any{"power": true},
		Active:      true,
	}}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		autos.mu.Lock()
		ticks := autos.listCalls
		autos.mu.Unlock()
		if ticks >= 5 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.Stop()

	autos.mu.Lock()
	ticks := autos.listCalls
	updates := len(autos.solarUpdates)
	autos.mu.Unlock()

	if ticks < 5 {
		t.Fatalf("loop ran %d ticks, want at least 5", ticks)
	}
	// All ticks land on the same calendar day: exactly one recompute.
	if updates != 2 {
		t.Errorf("solar updates = %d, want 2 (one recompute, two anchors)", updates)
	}
	if got := commands.commands(); len(got) != 1 {
		t.Errorf("automation fired %d times, want 1 (07:30 passes once)", len(got))
	}

	s.Stop()
}
