// Package mqtt provides MQTT client connectivity for homecore.
//
// This package manages:
//   - Connection to a Mosquitto broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// homecore uses MQTT as an optional outbound surface: the egress
// republishes hub events (tag updates, device updates) so external
// consumers like Home Assistant or Node-RED can follow the home's
// state without touching the tag broker.
//
//	homecore → MQTT Broker → external consumers
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to all republished events
//	err = client.Subscribe(mqtt.Topics{}.AllEvents(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish an event
//	topic := mqtt.Topics{}.Event("tag_update")
//	client.Publish(topic, []byte(`{"tag":"living.lamp.onoff","value":true}`), 1, false)
package mqtt
