// Package mqtt provides the MQTT transport for the device's hub session.
//
// This package manages:
//   - TLS connection to the hub with auto-reconnect
//   - Credential refresh via a provider callback on every connect attempt
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Connection health monitoring
//
// # Architecture
//
// The hub speaks MQTT 3.1.1 over TLS on port 8883. Each device holds one
// session, identified by its device id, authenticated with a SAS token as
// the password. The session layer owns topic grammar and token derivation;
// this package only moves bytes:
//
//	iothub.Device ↔ mqtt.Client ↔ <hub>.azure-devices.net:8883
//
// Construction is split from dialing so the session layer can install a
// credentials provider first. paho consults the provider on the initial
// connect and again before every reconnect attempt, which is the hook that
// keeps a long-lived session authenticated across SAS token expiry.
//
// # Security Considerations
//
//   - TLS 1.2+ is required by the hub (cfg.TLS=true outside local testing)
//   - The SAS token password must never be logged
//   - QoS is capped at 1; the hub drops connections that use QoS 2
//   - Outbound payloads are capped at 256KB (device-to-cloud limit)
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT, deviceID)
//	client.SetCredentialsProvider(func() (string, string) {
//	    return username, freshToken()
//	})
//	if err := client.Connect(); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Subscribe to twin responses
//	err := client.Subscribe("$iothub/twin/res/#", 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Publish an event
//	client.Publish("devices/d1/messages/events/", []byte(`{"temp":21.5}`), 1, false)
package mqtt
