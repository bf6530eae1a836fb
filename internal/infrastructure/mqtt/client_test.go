package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/zerynth/lib-azure-iot/internal/infrastructure/config"
)

// testConfig returns transport settings shaped like a hub session.
// No broker is required: these tests exercise option building and the
// validation paths that run before any network I/O.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Host:      "example-hub.azure-devices.net",
		Port:      8883,
		TLS:       true,
		KeepAlive: 60,
		QoS:       1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew(t *testing.T) {
	client := New(testConfig(), "dev-1")

	if client.IsConnected() {
		t.Error("IsConnected() = true before Connect(), want false")
	}

	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg, "dev-1")

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers count = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://example-hub.azure-devices.net:8883" {
		t.Errorf("broker URL = %q, want ssl://example-hub.azure-devices.net:8883", got)
	}

	if opts.ClientID != "dev-1" {
		t.Errorf("ClientID = %q, want dev-1", opts.ClientID)
	}

	if opts.CleanSession {
		t.Error("CleanSession = true, want false (persistent session)")
	}

	if opts.Order {
		t.Error("Order = true, want false (per-message handler goroutines)")
	}

	if !opts.AutoReconnect {
		t.Error("AutoReconnect = false, want true")
	}

	if opts.KeepAlive != 60 {
		t.Errorf("KeepAlive = %d, want 60", opts.KeepAlive)
	}

	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig = nil, want configured")
	}
	if opts.TLSConfig.ServerName != cfg.Host {
		t.Errorf("TLS ServerName = %q, want %q", opts.TLSConfig.ServerName, cfg.Host)
	}
	if opts.TLSConfig.MinVersion != tls.VersionTLS12 {
		t.Errorf("TLS MinVersion = %d, want %d", opts.TLSConfig.MinVersion, tls.VersionTLS12)
	}
}

func TestBuildClientOptionsPlainTCP(t *testing.T) {
	cfg := testConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1883
	cfg.TLS = false

	opts := buildClientOptions(cfg, "dev-1")

	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp://127.0.0.1:1883", got)
	}

	if opts.TLSConfig != nil {
		t.Error("TLSConfig set for plain TCP, want nil")
	}
}

func TestSetCredentialsProvider(t *testing.T) {
	client := New(testConfig(), "dev-1")

	client.SetCredentialsProvider(func() (string, string) {
		return "example-hub.azure-devices.net/dev-1/api-version=2017-06-30", "SharedAccessSignature sr=..."
	})

	if client.options.CredentialsProvider == nil {
		t.Fatal("CredentialsProvider not installed on options")
	}

	username, password := client.options.CredentialsProvider()
	if !strings.HasPrefix(username, "example-hub.azure-devices.net/dev-1/") {
		t.Errorf("provider username = %q, want hub-form username", username)
	}
	if !strings.HasPrefix(password, "SharedAccessSignature ") {
		t.Errorf("provider password = %q, want SAS token", password)
	}
}

func TestSetWill(t *testing.T) {
	client := New(testConfig(), "dev-1")

	topic := "devices/dev-1/messages/events/type=status"
	payload := []byte(`{"status":"offline"}`)
	client.SetWill(topic, payload, 1, false)

	if !client.options.WillEnabled {
		t.Fatal("WillEnabled = false after SetWill()")
	}
	if client.options.WillTopic != topic {
		t.Errorf("WillTopic = %q, want %q", client.options.WillTopic, topic)
	}
	if string(client.options.WillPayload) != string(payload) {
		t.Errorf("WillPayload = %q, want %q", client.options.WillPayload, payload)
	}
	if client.options.WillQos != 1 {
		t.Errorf("WillQos = %d, want 1", client.options.WillQos)
	}
	if client.options.WillRetained {
		t.Error("WillRetained = true, want false")
	}
}

// =============================================================================
// Close / Connection State Tests
// =============================================================================

func TestCloseNil(t *testing.T) {
	client := &Client{}
	err := client.Close()
	if err != nil {
		t.Errorf("Close() on unconnected client error = %v, want nil", err)
	}
}

func TestIsConnectedInitialState(t *testing.T) {
	client := &Client{}

	if client.IsConnected() {
		t.Error("IsConnected() should be false for uninitialised client")
	}
}

// =============================================================================
// HealthCheck Tests
// =============================================================================

func TestHealthCheckDisconnected(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.HealthCheck(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	client := New(testConfig(), "dev-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Cancel immediately

	err := client.HealthCheck(ctx)
	if err == nil {
		t.Error("HealthCheck() expected error for cancelled context")
	}
}

// =============================================================================
// Publish Validation Tests
// =============================================================================

func TestPublishEmptyTopic(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Publish("", []byte("test"), 1, false)
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Publish() error = %v, want ErrInvalidTopic", err)
	}
}

func TestPublishInvalidQoS(t *testing.T) {
	client := New(testConfig(), "dev-1")

	// QoS 2 is valid MQTT but the hub rejects it.
	err := client.Publish("devices/dev-1/messages/events/", []byte("test"), 2, false)
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Publish() error = %v, want ErrInvalidQoS", err)
	}
}

func TestPublishOversizePayload(t *testing.T) {
	client := New(testConfig(), "dev-1")

	payload := make([]byte, maxPayloadSize+1)

	err := client.Publish("devices/dev-1/messages/events/", payload, 1, false)
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("Publish() error = %v, want ErrPublishFailed", err)
	}
}

func TestPublishDisconnected(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Publish("devices/dev-1/messages/events/", []byte("test"), 1, false)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Subscribe Validation Tests
// =============================================================================

func TestSubscribeEmptyTopic(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Subscribe("", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestSubscribeInvalidQoS(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Subscribe("$iothub/twin/res/#", 2, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe() error = %v, want ErrInvalidQoS", err)
	}
}

func TestSubscribeNilHandler(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Subscribe("$iothub/twin/res/#", 1, nil)
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestSubscribeDisconnected(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Subscribe("$iothub/twin/res/#", 1, func(string, []byte) error { return nil })
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
}

// =============================================================================
// Unsubscribe Validation Tests
// =============================================================================

func TestUnsubscribeEmptyTopic(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Unsubscribe("")
	if !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe() error = %v, want ErrInvalidTopic", err)
	}
}

func TestUnsubscribeDisconnected(t *testing.T) {
	client := New(testConfig(), "dev-1")

	err := client.Unsubscribe("$iothub/twin/res/#")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHasSubscriptionNotSubscribed(t *testing.T) {
	client := New(testConfig(), "dev-1")

	if client.HasSubscription("$iothub/twin/res/#") {
		t.Error("HasSubscription() should be false for unsubscribed topic")
	}
}

// =============================================================================
// Callback Tests
// =============================================================================

func TestConnectionCallbacks(t *testing.T) {
	client := New(testConfig(), "dev-1")

	connectCalled := false
	client.SetOnConnect(func() {
		connectCalled = true
	})

	var disconnectErr error
	client.SetOnDisconnect(func(err error) {
		disconnectErr = err
	})

	reconnectingCalled := false
	client.SetOnReconnecting(func() {
		reconnectingCalled = true
	})

	client.handleConnect()
	if !connectCalled {
		t.Error("OnConnect callback not invoked")
	}

	lostErr := errors.New("connection reset")
	client.handleDisconnect(lostErr)
	if !errors.Is(disconnectErr, lostErr) {
		t.Errorf("OnDisconnect callback error = %v, want %v", disconnectErr, lostErr)
	}

	client.handleReconnecting()
	if !reconnectingCalled {
		t.Error("OnReconnecting callback not invoked")
	}
}

func TestCallbacksNilSafe(t *testing.T) {
	client := New(testConfig(), "dev-1")

	// No callbacks set: the handlers must not panic.
	client.handleConnect()
	client.handleDisconnect(errors.New("lost"))
	client.handleReconnecting()
}

func TestSetLogger(t *testing.T) {
	client := New(testConfig(), "dev-1")

	logger := &mockLogger{}
	client.SetLogger(logger)

	if client.getLogger() == nil {
		t.Error("getLogger() = nil after SetLogger()")
	}

	client.SetLogger(nil)

	if client.getLogger() != nil {
		t.Error("getLogger() should be nil after SetLogger(nil)")
	}
}

// =============================================================================
// Handler Wrapping Tests
// =============================================================================

func TestWrapHandlerPanicRecovered(t *testing.T) {
	client := New(testConfig(), "dev-1")
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		panic("handler exploded")
	})

	wrapped(nil, stubMessage{topic: "$iothub/twin/res/200/?$rid=1", payload: []byte("{}")})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.errors) != 1 {
		t.Fatalf("logged errors = %d, want 1", len(logger.errors))
	}
}

func TestWrapHandlerErrorLogged(t *testing.T) {
	client := New(testConfig(), "dev-1")
	logger := &mockLogger{}
	client.SetLogger(logger)

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		return errors.New("bad payload")
	})

	wrapped(nil, stubMessage{topic: "devices/dev-1/messages/devicebound/", payload: []byte("x")})

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.warns) != 1 {
		t.Fatalf("logged warnings = %d, want 1", len(logger.warns))
	}
}

func TestWrapHandlerNilLogger(t *testing.T) {
	client := New(testConfig(), "dev-1")

	wrapped := client.wrapHandler(func(topic string, payload []byte) error {
		return errors.New("no logger to hear this")
	})

	// Must not panic without a logger.
	wrapped(nil, stubMessage{topic: "devices/dev-1/messages/devicebound/", payload: nil})
}

// =============================================================================
// Test Doubles
// =============================================================================

// stubMessage implements the paho Message interface for handler tests.
type stubMessage struct {
	topic   string
	payload []byte
}

func (m stubMessage) Duplicate() bool   { return false }
func (m stubMessage) Qos() byte         { return 1 }
func (m stubMessage) Retained() bool    { return false }
func (m stubMessage) Topic() string     { return m.topic }
func (m stubMessage) MessageID() uint16 { return 0 }
func (m stubMessage) Payload() []byte   { return m.payload }
func (m stubMessage) Ack()              {}

// mockLogger implements Logger interface for testing.
type mockLogger struct {
	errors []string
	warns  []string
	mu     sync.Mutex
}

func (l *mockLogger) Error(msg string, args ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}
