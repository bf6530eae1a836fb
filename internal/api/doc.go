// Package api implements the local HTTP REST API and WebSocket server for the
// aziot agent.
//
// This package provides:
//   - REST endpoints for twin inspection, reported-property updates, and
//     ad-hoc device-to-cloud events
//   - WebSocket hub for streaming twin changes, bound messages, and method
//     invocations to local clients
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//   - TLS support for deployments exposed beyond localhost
//
// # Architecture
//
// The API server sits beside the hub connection, not in front of it. The
// agent's main loop talks to Azure IoT Hub; this server gives installers and
// local dashboards a window into that traffic. Twin reads are served from the
// local cache by default and only touch the hub on an explicit refresh, so
// the API stays useful while the uplink is down.
//
// # Security
//
// Login checks the single operator account from the security config and
// returns a short-lived JWT. WebSocket connections use single-use tickets to
// keep tokens out of URLs.
//
// See configs/config.yaml for the settings that shape this server.
package api
