// Package automation defines scheduled device actions and their persistence.
//
// An automation fires at a trigger time on selected weekdays and sends
// an attribute payload to one device through the bridge. Solar-anchored
// automations (sunrise/sunset) have their trigger time rewritten once
// per day by the scheduler; the stored time is derived, not
// authoritative.
//
// The scheduler in internal/scheduler drives execution; this package
// only owns the records.
package automation
