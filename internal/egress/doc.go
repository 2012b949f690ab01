// Package egress forwards hub events to external surfaces.
//
// The only current sink is MQTT: MQTTSink joins the home-events group
// and republishes each event as JSON on homecore/events/{kind}.
// Delivery is best-effort with no replay buffer.
package egress
