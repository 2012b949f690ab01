// Package device defines the device model and its persistence.
//
// Devices form a closed set of kinds (light, fan, air conditioner,
// television, meter, generic), each kind a tagged variant carrying only
// its own attributes. The variant is selected once when a device is
// loaded; operations never probe for attribute presence.
//
// Each device may be bound to a broker tag prefix (for example
// "home.light01"); the full tag for one attribute is the prefix plus a
// suffix ("home.light01.Brightness"). The bridge resolves inbound tag
// updates to devices through Repository.GetByTagPrefix and applies
// values through ApplyTagValue, which is the single place the
// suffix-to-attribute mapping lives.
//
// Persistence is SQLite via Repository; attribute variants are stored
// as JSON documents alongside the kind discriminator.
package device
