package iothub

import (
	"errors"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

type boundDelivery struct {
	payload    []byte
	properties map[string]string
}

func TestOnBoundSubscribesOnce(t *testing.T) {
	device, transport := newTestDevice(t)

	if err := device.OnBound(func([]byte, map[string]string) {}); err != nil {
		t.Fatalf("OnBound() error = %v", err)
	}
	if err := device.OnBound(func([]byte, map[string]string) {}); err != nil {
		t.Fatalf("OnBound() second registration error = %v", err)
	}

	filters := transport.subscribedFilters()
	if len(filters) != 1 {
		t.Fatalf("subscribed %d times, want 1: %v", len(filters), filters)
	}
	if filters[0] != "devices/dev-1/messages/devicebound/#" {
		t.Errorf("filter = %q, want devicebound filter", filters[0])
	}
}

func TestOnBoundNilHandler(t *testing.T) {
	device, _ := newTestDevice(t)

	if err := device.OnBound(nil); err == nil {
		t.Fatal("OnBound(nil) expected error, got nil")
	}
}

func TestOnBoundSubscribeError(t *testing.T) {
	device, transport := newTestDevice(t)
	transport.subscribeErr = errors.New("not connected")

	err := device.OnBound(func([]byte, map[string]string) {})
	if err == nil {
		t.Fatal("OnBound() expected error, got nil")
	}
	if device.boundHandler != nil {
		t.Error("handler should not be registered when the subscribe fails")
	}
}

func TestBoundDelivery(t *testing.T) {
	device, transport := newTestDevice(t)

	deliveries := make(chan boundDelivery, 1)
	err := device.OnBound(func(payload []byte, properties map[string]string) {
		deliveries <- boundDelivery{payload: payload, properties: properties}
	})
	if err != nil {
		t.Fatalf("OnBound() error = %v", err)
	}

	topic := "devices/dev-1/messages/devicebound/%24.to=%2Fdevices%2Fdev-1%2Fmessages%2FdeviceBound&custom=hello"
	if err := transport.inject(topic, []byte("ping")); err != nil {
		t.Fatalf("inject error = %v", err)
	}

	got := <-deliveries
	if string(got.payload) != "ping" {
		t.Errorf("payload = %q, want ping", got.payload)
	}
	if got.properties["$.to"] != "/devices/dev-1/messages/deviceBound" {
		t.Errorf("properties[$.to] = %q", got.properties["$.to"])
	}
	if got.properties["custom"] != "hello" {
		t.Errorf("properties[custom] = %q, want hello", got.properties["custom"])
	}
}

func TestBoundLastRegistrationWins(t *testing.T) {
	device, transport := newTestDevice(t)

	first := make(chan boundDelivery, 1)
	second := make(chan boundDelivery, 1)
	device.OnBound(func(payload []byte, props map[string]string) {
		first <- boundDelivery{payload, props}
	})
	device.OnBound(func(payload []byte, props map[string]string) {
		second <- boundDelivery{payload, props}
	})

	if err := transport.inject("devices/dev-1/messages/devicebound/", []byte("x")); err != nil {
		t.Fatalf("inject error = %v", err)
	}

	select {
	case <-first:
		t.Error("replaced handler should not receive messages")
	default:
	}
	if len(second) != 1 {
		t.Error("current handler should have received the message")
	}
}

func TestBoundIgnoresForeignTopics(t *testing.T) {
	device, _ := newTestDevice(t)

	deliveries := make(chan boundDelivery, 1)
	device.OnBound(func(payload []byte, props map[string]string) {
		deliveries <- boundDelivery{payload, props}
	})

	// Direct call with another device's topic: the predicate drops it.
	if err := device.handleBound("devices/other/messages/devicebound/", []byte("x")); err != nil {
		t.Fatalf("handleBound() error = %v", err)
	}
	if len(deliveries) != 0 {
		t.Error("message for another device should not be delivered")
	}
}

func TestMethodDispatch(t *testing.T) {
	device, transport := newTestDevice(t)

	err := device.OnMethod("echo", func(body map[string]any) (int, map[string]any) {
		return 0, map[string]any{"echoed": body["x"]}
	})
	if err != nil {
		t.Fatalf("OnMethod() error = %v", err)
	}

	err = transport.inject("$iothub/methods/POST/echo/?$rid=7", []byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("inject error = %v", err)
	}

	msgs := transport.publishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if got, want := msgs[0].topic, "$iothub/methods/res/0/?$rid=7"; got != want {
		t.Errorf("response topic = %q, want %q", got, want)
	}

	var response map[string]any
	if err := json.Unmarshal(msgs[0].payload, &response); err != nil {
		t.Fatalf("response payload is not valid JSON: %v", err)
	}
	if response["echoed"].(float64) != 1 {
		t.Errorf("response = %s, want echoed=1", msgs[0].payload)
	}
}

func TestMethodNullBody(t *testing.T) {
	device, transport := newTestDevice(t)

	bodies := make(chan map[string]any, 1)
	device.OnMethod("get", func(body map[string]any) (int, map[string]any) {
		bodies <- body
		return 0, nil
	})

	// The hub sends a literal "null" payload for argument-less calls.
	if err := transport.inject("$iothub/methods/POST/get/?$rid=1", []byte("null")); err != nil {
		t.Fatalf("inject error = %v", err)
	}

	if body := <-bodies; body != nil {
		t.Errorf("body = %v, want nil", body)
	}

	msgs := transport.publishedMessages()
	if string(msgs[0].payload) != "null" {
		t.Errorf("nil response document should marshal to null, got %q", msgs[0].payload)
	}
}

func TestMethodEmptyBody(t *testing.T) {
	device, transport := newTestDevice(t)

	bodies := make(chan map[string]any, 1)
	device.OnMethod("get", func(body map[string]any) (int, map[string]any) {
		bodies <- body
		return 0, nil
	})

	if err := transport.inject("$iothub/methods/POST/get/?$rid=2", nil); err != nil {
		t.Fatalf("inject error = %v", err)
	}

	if body := <-bodies; body != nil {
		t.Errorf("body = %v, want nil", body)
	}
}

func TestMethodStatusPropagation(t *testing.T) {
	device, transport := newTestDevice(t)

	device.OnMethod("check", func(map[string]any) (int, map[string]any) {
		return 404, map[string]any{"reason": "missing"}
	})

	if err := transport.inject("$iothub/methods/POST/check/?$rid=2", []byte("null")); err != nil {
		t.Fatalf("inject error = %v", err)
	}

	msgs := transport.publishedMessages()
	if got, want := msgs[0].topic, "$iothub/methods/res/404/?$rid=2"; got != want {
		t.Errorf("response topic = %q, want %q", got, want)
	}
}

func TestMethodUnregistered(t *testing.T) {
	device, transport := newTestDevice(t)

	device.OnMethod("known", func(map[string]any) (int, map[string]any) {
		return 0, nil
	})

	err := transport.inject("$iothub/methods/POST/unknown/?$rid=9", []byte("null"))
	if !errors.Is(err, ErrMethodNotRegistered) {
		t.Fatalf("inject error = %v, want ErrMethodNotRegistered", err)
	}

	// The cloud caller still gets an answer instead of a timeout.
	msgs := transport.publishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if got, want := msgs[0].topic, "$iothub/methods/res/501/?$rid=9"; got != want {
		t.Errorf("response topic = %q, want %q", got, want)
	}
	if !strings.Contains(string(msgs[0].payload), "no handler registered") {
		t.Errorf("response payload = %q, want an error document", msgs[0].payload)
	}
}

func TestOnMethodSharedSubscription(t *testing.T) {
	device, transport := newTestDevice(t)

	device.OnMethod("a", func(map[string]any) (int, map[string]any) { return 0, nil })
	device.OnMethod("b", func(map[string]any) (int, map[string]any) { return 0, nil })

	filters := transport.subscribedFilters()
	if len(filters) != 1 {
		t.Fatalf("subscribed %d times, want 1: %v", len(filters), filters)
	}
	if filters[0] != "$iothub/methods/POST/#" {
		t.Errorf("filter = %q, want methods filter", filters[0])
	}
}

func TestOnMethodValidation(t *testing.T) {
	device, _ := newTestDevice(t)

	if err := device.OnMethod("", func(map[string]any) (int, map[string]any) { return 0, nil }); err == nil {
		t.Error("OnMethod with empty name expected error")
	}
	if err := device.OnMethod("x", nil); err == nil {
		t.Error("OnMethod with nil handler expected error")
	}
}

func TestMethodMalformedBody(t *testing.T) {
	device, transport := newTestDevice(t)

	called := make(chan struct{}, 1)
	device.OnMethod("get", func(map[string]any) (int, map[string]any) {
		called <- struct{}{}
		return 0, nil
	})

	err := transport.inject("$iothub/methods/POST/get/?$rid=3", []byte("{broken"))
	if err == nil {
		t.Fatal("inject expected decode error, got nil")
	}
	if len(called) != 0 {
		t.Error("handler should not run on a malformed body")
	}
}

type twinDelivery struct {
	desired map[string]any
	version int
}

func TestTwinUpdateDelivery(t *testing.T) {
	device, transport := newTestDevice(t)

	deliveries := make(chan twinDelivery, 1)
	err := device.OnTwinUpdate(func(desired map[string]any, version int) map[string]any {
		deliveries <- twinDelivery{desired: desired, version: version}
		return nil
	})
	if err != nil {
		t.Fatalf("OnTwinUpdate() error = %v", err)
	}

	err = transport.inject("$iothub/twin/PATCH/properties/desired/?$version=5", []byte(`{"publish_period":3}`))
	if err != nil {
		t.Fatalf("inject error = %v", err)
	}

	got := <-deliveries
	if got.version != 5 {
		t.Errorf("version = %d, want 5", got.version)
	}
	if got.desired["publish_period"].(float64) != 3 {
		t.Errorf("desired = %v, want publish_period=3", got.desired)
	}

	// nil return means nothing to report back.
	if msgs := transport.publishedMessages(); len(msgs) != 0 {
		t.Errorf("published %d messages, want 0", len(msgs))
	}
}

func TestTwinUpdateAutoReport(t *testing.T) {
	device, transport := newTestDevice(t)

	device.OnTwinUpdate(func(desired map[string]any, version int) map[string]any {
		return map[string]any{"publish_period": desired["publish_period"]}
	})

	err := transport.inject("$iothub/twin/PATCH/properties/desired/?$version=6", []byte(`{"publish_period":10}`))
	if err != nil {
		t.Fatalf("inject error = %v", err)
	}

	// The returned document goes out fire-and-forget as rid 0, the
	// session's first twin request.
	msgs := transport.publishedMessages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if got, want := msgs[0].topic, "$iothub/twin/PATCH/properties/reported/?$rid=0"; got != want {
		t.Errorf("report topic = %q, want %q", got, want)
	}

	var reported map[string]any
	if err := json.Unmarshal(msgs[0].payload, &reported); err != nil {
		t.Fatalf("reported payload is not valid JSON: %v", err)
	}
	if reported["publish_period"].(float64) != 10 {
		t.Errorf("reported = %s, want publish_period=10", msgs[0].payload)
	}

	// The auto-report also armed the twin response subscription.
	found := false
	for _, filter := range transport.subscribedFilters() {
		if filter == TwinResponseFilter() {
			found = true
		}
	}
	if !found {
		t.Error("twin response filter should be subscribed after the auto-report")
	}
}

func TestTwinUpdateMissingVersion(t *testing.T) {
	device, transport := newTestDevice(t)

	called := make(chan struct{}, 1)
	device.OnTwinUpdate(func(map[string]any, int) map[string]any {
		called <- struct{}{}
		return nil
	})

	err := transport.inject("$iothub/twin/PATCH/properties/desired/", []byte(`{}`))
	if !errors.Is(err, ErrMalformedTopic) {
		t.Fatalf("inject error = %v, want ErrMalformedTopic", err)
	}
	if len(called) != 0 {
		t.Error("handler should not run without a version")
	}
}

func TestOnTwinUpdateSubscribesOnce(t *testing.T) {
	device, transport := newTestDevice(t)

	device.OnTwinUpdate(func(map[string]any, int) map[string]any { return nil })
	device.OnTwinUpdate(func(map[string]any, int) map[string]any { return nil })

	filters := transport.subscribedFilters()
	if len(filters) != 1 {
		t.Fatalf("subscribed %d times, want 1: %v", len(filters), filters)
	}
	if filters[0] != TwinDesiredFilter() {
		t.Errorf("filter = %q, want desired filter", filters[0])
	}
}
