// Package bridge is the singleton owner of the broker transport. It
// translates between the broker's tag namespace and the device store's
// attribute model, and fans every inbound update out to the broadcast
// hub.
//
// # Responsibilities
//
// One Bridge is active per process; it is the only component allowed
// to hold the scada transport. Inbound tag updates follow a fixed
// path: cache the raw value, persist the coerced value to the device
// record (failure logged, never fatal), forward metering tags to the
// meter writer, then always publish the raw update to the
// "home-events" group. Broadcast is unconditional - dashboards stay
// live even when the store is unhappy.
//
// Outbound commands are attribute-keyed (for example "power",
// "brightness") and resolved to tag suffixes through a fixed table.
// While the broker session is down commands decline fast with
// ErrNotConnected; nothing is queued for replay.
//
// # Value Coercion
//
// The broker transmits most values as strings. CoerceScalar applies
// the wire's loose heuristics ("on"/"1" are true, numeric strings are
// floats) and coerceForSuffix shapes the result to the type the
// addressed attribute expects.
package bridge
