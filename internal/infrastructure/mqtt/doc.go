// Package mqtt provides the MQTT client used to bridge events out of
// the core.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The core publishes graded events under perimeter/event/{severity};
// the SMS, email, and push gateways are ordinary MQTT subscribers with
// no coupling back to the core. The broker also carries the core's
// online status (perimeter/system/status, retained + LWT) and an
// inbound alarm command topic for external tooling.
//
//	core → broker → notification gateways / dashboards
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
//	topic := mqtt.Topics{}.Event("critical")
//	client.Publish(topic, payload, 1, false)
package mqtt
