package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/eversmart/homecore/internal/device"
	"github.com/eversmart/homecore/internal/hub"
	"github.com/eversmart/homecore/internal/scada"
)

// EventGroup is the hub group all bridge events are published to.
const EventGroup = "home-events"

// persistTimeout bounds the store write on the inbound update path.
// The receive loop runs the update callback synchronously; a hung
// database must not stall broker traffic for long.
const persistTimeout = 5 * time.Second

// commandSuffixes maps command attribute keys to broker tag suffixes.
// This table is the single translation point between the API's
// attribute vocabulary and the broker's tag namespace.
var commandSuffixes = map[string]string{
	"power":       "onoff",
	"is_on":       "onoff",
	"brightness":  "Brightness",
	"colour":      "Color",
	"color":       "Color",
	"temperature": "set_temp",
	"temp":        "set_temp",
	"speed":       "speed",
	"swing":       "shake",
	"volume":      "volume",
	"channel":     "channel",
	"mute":        "mute",
	"is_mute":     "mute",
}

// Publisher is the hub surface the bridge needs.
type Publisher interface {
	Publish(group string, event hub.Event)
}

// MeterWriter receives numeric readings from metering tags.
// Implemented by the InfluxDB client; optional.
type MeterWriter interface {
	WriteReading(tag string, value float64, observedAt time.Time)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options configures a Bridge.
type Options struct {
	// Transport is the broker session. Required. The bridge is the only
	// component that may hold it.
	Transport scada.Transport

	// Devices is the device record store. Required.
	Devices device.Repository

	// Events is the broadcast hub. Required.
	Events Publisher

	// Meters receives numeric readings from metering tags. Optional.
	Meters MeterWriter

	// Tags is the initial tag subscription set.
	Tags []string

	// MeterTags marks which tags feed Meters.
	MeterTags []string

	// Logger is optional.
	Logger Logger
}

// Bridge owns the broker transport and translates between tag-level
// facts and device-attribute-level facts.
//
// Exactly one Bridge is active per process. Start is idempotent so
// repeated calls from different call sites are safe.
type Bridge struct {
	transport scada.Transport
	devices   device.Repository
	events    Publisher
	meters    MeterWriter
	meterTags map[string]struct{}
	tags      []string
	logger    Logger

	startMu sync.Mutex
	started bool

	// Most-recently-seen value per tag, for late-joining subscribers.
	cacheMu sync.RWMutex
	cache   map[string]scada.TagUpdate
}

// New creates a Bridge. Call Start to bring the broker session up.
func New(opts Options) (*Bridge, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("bridge: transport is required")
	}
	if opts.Devices == nil {
		return nil, fmt.Errorf("bridge: device repository is required")
	}
	if opts.Events == nil {
		return nil, fmt.Errorf("bridge: event publisher is required")
	}

	meterTags := make(map[string]struct{}, len(opts.MeterTags))
	for _, t := range opts.MeterTags {
		meterTags[t] = struct{}{}
	}

	return &Bridge{
		transport: opts.Transport,
		devices:   opts.Devices,
		events:    opts.Events,
		meters:    opts.Meters,
		meterTags: meterTags,
		tags:      append([]string(nil), opts.Tags...),
		logger:    opts.Logger,
		cache:     make(map[string]scada.TagUpdate),
	}, nil
}

// Start registers the update handler and brings the broker session up.
// Idempotent: a second call is a no-op, never a second connection.
//
// An unreachable broker does not fail Start; the transport keeps
// retrying in the background and commands decline fast until it
// recovers.
func (b *Bridge) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.started {
		b.logDebug("bridge already started, ignoring")
		return nil
	}

	b.transport.SetOnUpdate(b.HandleTagUpdate)
	if err := b.transport.Start(ctx, b.tags); err != nil {
		return fmt.Errorf("starting broker transport: %w", err)
	}

	b.started = true
	b.logInfo("bridge started", "tags", len(b.tags))
	return nil
}

// Stop shuts the broker session down.
func (b *Bridge) Stop() error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if !b.started {
		return nil
	}
	b.started = false
	return b.transport.Close()
}

// Connected reports whether the broker session is up.
func (b *Bridge) Connected() bool {
	return b.transport.IsConnected()
}

// SendCommand resolves an attribute key to its tag suffix and writes
// the value to the broker.
//
// The command is declined immediately with ErrNotConnected while the
// session is down - there is no outbound retry buffer. Declines are
// logged here so scheduler-issued commands leave a trace even when the
// caller discards the error.
//
// Parameters:
//   - devicePrefix: Broker tag prefix of the target device
//   - attributeKey: Command attribute (for example "power", "swing")
//   - value: Raw value, serialized as-is
func (b *Bridge) SendCommand(devicePrefix, attributeKey string, value any) error {
	if devicePrefix == "" {
		return ErrNoTag
	}

	suffix, ok := commandSuffixes[attributeKey]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, attributeKey)
	}

	tag := devicePrefix + "." + suffix
	if err := b.transport.SendValue(tag, value); err != nil {
		if errors.Is(err, scada.ErrNotConnected) {
			b.logWarn("command declined, broker not connected", "tag", tag)
			return fmt.Errorf("%w: %s", ErrNotConnected, tag)
		}
		return fmt.Errorf("sending command %s: %w", tag, err)
	}

	b.logDebug("command sent", "tag", tag)
	return nil
}

// HandleTagUpdate is the transport's update callback.
//
// It runs synchronously on the receive loop, so the path is kept
// short: cache the raw value, persist the coerced value (failure
// logged, never blocks the broadcast), then always publish the raw
// update to the home-events group - display-only consumers must not
// be starved by store lookups.
func (b *Bridge) HandleTagUpdate(update scada.TagUpdate) {
	b.cacheMu.Lock()
	b.cache[update.Tag] = update
	b.cacheMu.Unlock()

	prefix, suffix, ok := splitTag(update.Tag)
	if ok {
		b.persistUpdate(prefix, suffix, update)
		b.recordMeterReading(update)
	} else {
		b.logDebug("tag has no attribute suffix", "tag", update.Tag)
	}

	b.events.Publish(EventGroup, hub.Event{
		Kind:      hub.KindTagUpdate,
		Tag:       update.Tag,
		Value:     update.Value,
		Timestamp: update.ObservedAt,
	})
}

// persistUpdate writes a coerced value to the device store. Storage
// failure must never stop the event from being broadcast.
func (b *Bridge) persistUpdate(prefix, suffix string, update scada.TagUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	coerced := coerceForSuffix(suffix, update.Value)
	err := b.devices.UpdateAttribute(ctx, prefix, suffix, coerced)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrNotFound):
		// Tags without a device record are normal (metering, spares).
		b.logDebug("no device for tag prefix", "prefix", prefix)
	default:
		b.logError("persisting tag update failed", err, "tag", update.Tag)
	}
}

// recordMeterReading forwards numeric values on metering tags.
func (b *Bridge) recordMeterReading(update scada.TagUpdate) {
	if b.meters == nil {
		return
	}
	if _, ok := b.meterTags[update.Tag]; !ok {
		return
	}
	if f, ok := toFloat(CoerceScalar(update.Value)); ok {
		b.meters.WriteReading(update.Tag, f, update.ObservedAt)
	}
}

// Snapshot returns the most-recently-seen update per tag. Best-effort:
// tags never seen since startup are absent.
func (b *Bridge) Snapshot() map[string]scada.TagUpdate {
	b.cacheMu.RLock()
	defer b.cacheMu.RUnlock()

	snap := make(map[string]scada.TagUpdate, len(b.cache))
	for tag, u := range b.cache {
		snap[tag] = u
	}
	return snap
}

// splitTag splits a full tag into device prefix and attribute suffix
// on the last separator.
func splitTag(tag string) (prefix, suffix string, ok bool) {
	i := strings.LastIndex(tag, ".")
	if i <= 0 || i == len(tag)-1 {
		return "", "", false
	}
	return tag[:i], tag[i+1:], true
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error if logger is set.
func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
