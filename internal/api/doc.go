// Package api provides the HTTP REST API and WebSocket endpoint for
// homecore.
//
// It exposes device reads, device commands, automation CRUD, the
// latest meter snapshot, and a websocket stream of home events to
// remote viewers (dashboards, mobile apps).
//
// The server follows the same lifecycle pattern as other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// All mutating and device-reading routes require a Bearer JWT signed
// with the configured secret; token issuance is handled by an external
// accounts service, this server only validates.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
