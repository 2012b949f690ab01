package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event kinds.
const (
	KindTagUpdate    = "tag_update"
	KindDeviceUpdate = "device_update"
)

// Event is the unit of fan-out. Kind discriminates the event class;
// the remaining fields are populated per kind.
type Event struct {
	Kind      string    `json:"kind"`
	Tag       string    `json:"tag,omitempty"`
	Value     any       `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	DeviceID  string    `json:"device_id,omitempty"`
	Attribute string    `json:"attribute,omitempty"`
	Status    string    `json:"status,omitempty"`
}

// Sink receives events for one subscriber. Deliver must not block;
// implementations buffer internally and return an error when the
// subscriber is gone, which prunes the membership.
type Sink interface {
	Deliver(Event) error
}

// Membership is the handle returned by Join, used to Leave.
type Membership struct {
	group string
	id    uint64
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Hub is a process-wide registry of named broadcast groups.
//
// Producers publish to a group by name; every currently-joined sink in
// that group receives the event. Delivery order across sinks is
// unspecified; delivery to each individual sink preserves publish
// order. A dead sink never blocks or crashes delivery to the others.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[uint64]Sink
	nextID atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		groups: make(map[string]map[uint64]Sink),
	}
}

// SetLogger sets the logger for this hub.
func (h *Hub) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// Join registers a sink with the named group.
//
// Returns:
//   - *Membership: Handle used to leave the group
func (h *Hub) Join(group string, sink Sink) *Membership {
	id := h.nextID.Add(1)

	h.mu.Lock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[uint64]Sink)
		h.groups[group] = members
	}
	members[id] = sink
	h.mu.Unlock()

	h.logDebug("sink joined", "group", group, "id", id)
	return &Membership{group: group, id: id}
}

// Leave removes a membership. Idempotent; a second Leave is a no-op.
func (h *Hub) Leave(m *Membership) {
	if m == nil {
		return
	}

	h.mu.Lock()
	if members, ok := h.groups[m.group]; ok {
		delete(members, m.id)
		if len(members) == 0 {
			delete(h.groups, m.group)
		}
	}
	h.mu.Unlock()
}

// Publish delivers the event to every sink currently joined to the
// named group. A sink whose Deliver fails is pruned; the failure never
// propagates to the publisher or the remaining sinks.
func (h *Hub) Publish(group string, event Event) {
	// Snapshot membership so delivery happens outside the lock; a slow
	// sink must not hold up joins and leaves.
	h.mu.RLock()
	members := h.groups[group]
	snapshot := make(map[uint64]Sink, len(members))
	for id, sink := range members {
		snapshot[id] = sink
	}
	h.mu.RUnlock()

	for id, sink := range snapshot {
		if err := safeDeliver(sink, event); err != nil {
			h.logDebug("pruning dead sink", "group", group, "id", id, "error", err)
			h.Leave(&Membership{group: group, id: id})
		}
	}
}

// safeDeliver invokes Deliver with panic recovery, so one broken sink
// cannot take down the publisher.
func safeDeliver(sink Sink, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &deliverPanicError{value: r}
		}
	}()
	return sink.Deliver(event)
}

type deliverPanicError struct {
	value any
}

func (e *deliverPanicError) Error() string {
	return "hub: sink panicked during delivery"
}

// GroupSize returns the number of sinks joined to the named group.
func (h *Hub) GroupSize(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// logDebug logs a debug message if logger is set.
func (h *Hub) logDebug(msg string, keysAndValues ...any) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
