package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteEvent records a published device-to-cloud event.
//
// This is the primary method for mirroring telemetry samples into local
// history. The write is non-blocking; data is batched and sent
// asynchronously. Events with no numeric content are skipped because a
// point needs at least one field.
//
// Parameters:
//   - deviceID: The device identity the event was published as
//   - fields: The sample values (e.g., "temp": 21.5)
//
// Example:
//
//	client.WriteEvent("dev-1", map[string]any{"temp": 21.5})
func (c *Client) WriteEvent(deviceID string, fields map[string]any) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"events",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEventAt records an event at a specific timestamp.
//
// Used when replaying spooled events so history reflects when the
// sample was taken, not when the session came back.
func (c *Client) WriteEventAt(deviceID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"events",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteTwinVersion records an applied desired-twin version.
//
// Written whenever a twin get or a desired-property patch lands, so the
// history shows when the hub reconfigured the device.
func (c *Client) WriteTwinVersion(deviceID string, version int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"twin",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]any{
			"version": version,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConnState records a hub session state transition.
//
// Parameters:
//   - deviceID: The device identity
//   - connected: true on session establishment, false on loss
func (c *Client) WriteConnState(deviceID string, connected bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"connection",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]any{
			"connected": connected,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now", such as spooled events
// delivered after a reconnect.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
