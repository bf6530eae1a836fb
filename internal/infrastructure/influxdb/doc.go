// Package influxdb provides the agent's optional local telemetry history.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, domain write helpers, and health monitoring. The hub keeps
// its own event history; this sink exists so an installation can inspect
// what the device published (and when it was connected) without cloud
// access.
//
// # Purpose
//
// This package stores time series for:
//   - Published device-to-cloud events (mirrored samples)
//   - Applied desired-twin versions
//   - Hub session state transitions
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "aziot",
//	    Bucket: "telemetry",
//	}
//
//	client, err := influxdb.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteEvent("dev-1", map[string]any{"temp": 21.5})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
