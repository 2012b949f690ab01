// Package hub provides named-group event fan-out.
//
// The hub decouples event producers (the device bridge, the automation
// scheduler) from event consumers (subscriber sessions), which come
// and go independently. Producers publish to a group by name and never
// learn how many subscribers exist or what wire format they speak.
//
// The "home-events" group carries all device-facing traffic; each
// event class is discriminated by the Kind field so one group can
// serve tag updates, device attribute changes and future event types.
//
// Usage:
//
//	h := hub.New()
//	m := h.Join("home-events", session)
//	defer h.Leave(m)
//
//	h.Publish("home-events", hub.Event{
//	    Kind: hub.KindTagUpdate,
//	    Tag:  "home.light01.Brightness",
//	    Value: "80",
//	})
package hub
