package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for a single device session against the hub.
//
// It provides connection management, message publishing, subscription handling,
// and automatic reconnection with exponential backoff. Credentials are pulled
// from a provider callback on every connect attempt, which is how the session
// layer swaps in a fresh SAS token after a long disconnection.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are automatically restored on reconnection.
//
// Construction is split from dialing: New builds the client, the pre-connect
// setters (SetCredentialsProvider, SetWill) adjust the session, Connect dials.
type Client struct {
	client  pahomqtt.Client
	options *pahomqtt.ClientOptions
	cfg     config.MQTTConfig

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via the Set* methods).
	onConnect      func()
	onDisconnect   func(err error)
	onReconnecting func()
	callbackMu     sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked in separate goroutines by the paho library.
// They should not block for extended periods.
//
// Parameters:
//   - topic: The topic the message was received on (wildcards expanded)
//   - payload: The raw message payload
//
// Returns:
//   - error: Logged but does not affect message acknowledgment
//
// This is an alias so that consumer packages can declare the same
// signature in their own interfaces without importing this package.
type MessageHandler = func(topic string, payload []byte) error

// New creates an unconnected client for the given transport settings.
//
// The hub requires the MQTT client identifier to equal the device id, so
// the caller passes it explicitly rather than through config.
//
// Call SetCredentialsProvider (and optionally SetWill) before Connect;
// options changed after Connect have no effect on the running session.
func New(cfg config.MQTTConfig, clientID string) *Client {
	opts := buildClientOptions(cfg, clientID)

	c := &Client{
		cfg:           cfg,
		options:       opts,
		subscriptions: make(map[string]subscription),
	}

	// Connection callbacks read the current handler at invocation time, so
	// SetOnConnect and friends work both before and after Connect.
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		c.handleConnect()
	})

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleDisconnect(err)
	})

	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		c.handleReconnecting()
	})

	return c
}

// SetCredentialsProvider installs a callback that supplies the username and
// password for each connect attempt.
//
// paho consults the provider on the initial connect and again on every
// reconnect attempt, so a provider that derives a fresh SAS token keeps a
// long-lived session authenticated across token expiry.
//
// Must be called before Connect.
func (c *Client) SetCredentialsProvider(provider func() (username string, password string)) {
	c.options.SetCredentialsProvider(provider)
}

// SetWill configures a last-will message that the broker publishes if the
// session drops without a clean DISCONNECT. The hub only accepts wills on
// the device's own event topic.
//
// Must be called before Connect.
func (c *Client) SetWill(topic string, payload []byte, qos byte, retained bool) {
	c.options.SetBinaryWill(topic, payload, qos, retained)
}

// Connect dials the broker and waits for the session to come up.
//
// Returns:
//   - error: If the connection does not come up within the connect timeout,
//     or the broker rejects the session (bad credentials, bad client id)
func (c *Client) Connect() error {
	c.client = pahomqtt.NewClient(c.options)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// Set connected state immediately after successful connection.
	// The OnConnectHandler callback runs asynchronously and may not have
	// executed yet, so we set it here to ensure IsConnected() returns true.
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	return nil
}

// handleConnect is called when the connection is established.
func (c *Client) handleConnect() {
	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()

	// Restore subscriptions
	c.restoreSubscriptions()

	// Notify callback if set
	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called when the connection is lost.
func (c *Client) handleDisconnect(err error) {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	// Notify callback if set
	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// handleReconnecting is called before each reconnect attempt.
func (c *Client) handleReconnecting() {
	c.callbackMu.RLock()
	callback := c.onReconnecting
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// restoreSubscriptions re-subscribes to all tracked topics after reconnect.
//
// The hub retains subscription state for persistent sessions, so this is
// usually a no-op on its side, but it also covers the session-expired case
// where the hub has forgotten the device.
func (c *Client) restoreSubscriptions() {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		// Re-subscribe (ignore errors during reconnection)
		c.client.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
	}
}

// Close gracefully disconnects from the broker.
//
// A clean DISCONNECT suppresses the last-will message, so the hub treats
// this as an orderly shutdown rather than a connection loss.
//
// Returns:
//   - error: If disconnect fails (connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	// Disconnect with quiesce period for pending operations
	c.client.Disconnect(defaultDisconnectQuiesce)

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	return nil
}

// HealthCheck verifies the broker connection is alive and functioning.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which can perform an active test.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
// The error parameter describes why the connection was lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetOnReconnecting sets a callback to be invoked when the client starts
// trying to re-establish a lost connection.
func (c *Client) SetOnReconnecting(callback func()) {
	c.callbackMu.Lock()
	c.onReconnecting = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
