// Package iothub implements the device side of the Azure IoT Hub MQTT
// protocol on top of a plain MQTT transport.
//
// A Device wraps one hub session and exposes the hub's five channels:
//   - Device-to-cloud events (PublishEvent)
//   - Cloud-to-device messages (OnBound)
//   - Direct methods (OnMethod, answered with a status and a document)
//   - Twin desired-property updates (OnTwinUpdate)
//   - Twin get/report request-response (GetTwin, ReportTwin)
//
// # Authentication
//
// The hub authenticates each connection with a short-lived SAS token as
// the MQTT password. The Device derives tokens from a TimeSource rather
// than the local clock and re-derives one for every reconnect attempt
// through the transport's credentials provider. Reconnects close
// together extrapolate the cached timestamp instead of querying the
// time source again; see the credentials method for the exact rule.
//
// # Usage
//
//	device, err := iothub.New(identity, client, ts, iothub.WithQoS(1))
//	if err != nil {
//	    return err
//	}
//	if err := device.Connect(ctx); err != nil {
//	    return err
//	}
//	defer device.Close()
//
//	device.OnMethod("reboot", func(body map[string]any) (int, map[string]any) {
//	    return 0, map[string]any{"rebooting": true}
//	})
//
//	status, twin, err := device.GetTwinWithTimeout(5 * time.Second)
//
// Handler registration subscribes lazily, so register handlers after
// Connect. Registrations survive reconnects: the transport restores its
// subscriptions and the hub keeps the persistent session's state.
package iothub
