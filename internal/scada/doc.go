// Package scada maintains the streaming session to the external tag broker.
//
// The broker is the system of record for live device telemetry: every
// device attribute is addressed by a hierarchical tag (for example
// "home.light01.Brightness"), and the broker pushes value notifications
// over a persistent websocket. This package owns exactly one such
// session per process.
//
// # Architecture
//
//	REST (token probe / login)          websocket /ws/tag/1/
//	        │                                   │
//	        ▼                                   ▼
//	  Authenticate ──────────────▶ Connect ──▶ receive loop ──▶ onUpdate
//	                                   ▲            │
//	                                   └── reconnect with backoff
//
// # Wire Format
//
// Every frame is double-encoded JSON: an outer {"message": "..."}
// envelope whose string field contains the actual JSON payload. This
// nesting is a fixed broker contract. Inbound payloads carry
// type=notify_tag or message_type=settag_response; outbound payloads
// are add_tags (subscription) and set_tag (write).
//
// # Authentication
//
// A cached token is probed against the userinfo endpoint before use; a
// rejected or absent token triggers the full username/password
// exchange. The live token is carried to the streaming endpoint as the
// websocket subprotocol. The token is never written to logs.
//
// # Usage
//
//	client := scada.New(scada.Config{
//	    Target:   "broker.example.io:6443",
//	    Identity: "homeowner",
//	    Secret:   secret,
//	})
//	client.SetOnUpdate(bridge.HandleTagUpdate)
//	if err := client.Start(ctx, tags); err != nil {
//	    return err
//	}
//	defer client.Close()
package scada
