package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// maxQoS is the maximum QoS level the hub accepts. A CONNECT-level
	// SUBSCRIBE or PUBLISH at QoS 2 causes the hub to drop the connection.
	maxQoS = 1

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// buildClientOptions creates paho MQTT options for a hub session.
//
// This configures:
//   - Broker URL (ssl:// for the hub, tcp:// only against a local test broker)
//   - Client ID (the hub requires this to equal the device id)
//   - Persistent session (the hub retains the device's subscriptions)
//   - Auto-reconnect with exponential backoff
//   - TLS with ServerName pinned to the hub host
//   - Per-message handler goroutines
//
// Credentials are not set here: the session layer installs a credentials
// provider before Connect so the password can be re-derived on every
// reconnect attempt.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	// Broker URL
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	brokerURL := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)
	opts.AddBroker(brokerURL)

	// Client identification
	opts.SetClientID(clientID)

	// Persistent session - the hub keeps this device's subscription state
	// across reconnects, so a resumed session sees no gap in deliveries.
	opts.SetCleanSession(false)

	// Each inbound message is handled on its own goroutine. A handler that
	// publishes (method responses, twin auto-reports) must not stall the
	// receive path waiting for its own PUBACK.
	opts.SetOrderMatters(false)

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	// Connection timeout
	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - detects dead connections through the NAT/proxy path
	opts.SetKeepAlive(time.Duration(cfg.KeepAlive) * time.Second)

	// TLS configuration if enabled
	if cfg.TLS {
		tlsConfig := &tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: cfg.Host,
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
