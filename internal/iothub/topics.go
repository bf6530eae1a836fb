package iothub

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// MQTT topic layout of the hub. Device-to-cloud traffic goes out under
// devices/<device_id>/..., hub-originated traffic arrives under the
// reserved $iothub/... namespace. Request/response style topics carry
// their parameters in a trailing url-encoded property bag.

const (
	methodRequestPrefix  = "$iothub/methods/POST/"
	methodResponsePrefix = "$iothub/methods/res/"
	twinDesiredPrefix    = "$iothub/twin/PATCH/properties/desired/"
	twinReportedPrefix   = "$iothub/twin/PATCH/properties/reported/"
	twinResponsePrefix   = "$iothub/twin/res/"
	twinGetPrefix        = "$iothub/twin/GET/"
)

// EventsTopic returns the publish topic for a device-to-cloud message
// with the given application properties encoded as the trailing bag.
// Example: devices/dev-1/messages/events/above_th=1&room=kitchen
func EventsTopic(deviceID string, properties map[string]string) string {
	bag := url.Values{}
	for k, v := range properties {
		bag.Set(k, v)
	}
	return "devices/" + deviceID + "/messages/events/" + bag.Encode()
}

// MethodResponseTopic returns the publish topic answering the direct
// method request received on requestTopic. The request's trailing rid
// token is carried over unchanged so the hub can correlate the answer.
// Example: $iothub/methods/res/200/?$rid=42
func MethodResponseTopic(status int, requestTopic string) string {
	return fmt.Sprintf("%s%d/%s", methodResponsePrefix, status, trailingToken(requestTopic))
}

// TwinReportTopic returns the publish topic for reporting twin
// properties under the given request id.
// Example: $iothub/twin/PATCH/properties/reported/?$rid=3
func TwinReportTopic(rid int64) string {
	return fmt.Sprintf("%s?$rid=%d", twinReportedPrefix, rid)
}

// TwinGetTopic returns the publish topic requesting the full twin
// document under the given request id. The request carries no payload.
// Example: $iothub/twin/GET/?$rid=4
func TwinGetTopic(rid int64) string {
	return fmt.Sprintf("%s?$rid=%d", twinGetPrefix, rid)
}

// Subscription filters

// BoundFilter returns the subscription filter for cloud-to-device
// messages addressed to the device.
// Example: devices/dev-1/messages/devicebound/#
func BoundFilter(deviceID string) string {
	return "devices/" + deviceID + "/messages/devicebound/#"
}

// MethodsFilter returns the subscription filter for direct method
// requests. One filter covers every method name.
func MethodsFilter() string {
	return methodRequestPrefix + "#"
}

// TwinDesiredFilter returns the subscription filter for desired-property
// update notifications.
func TwinDesiredFilter() string {
	return twinDesiredPrefix + "#"
}

// TwinResponseFilter returns the subscription filter for the hub's
// answers to twin get and report requests.
func TwinResponseFilter() string {
	return twinResponsePrefix + "#"
}

// Predicates. Each inbound channel re-checks its own predicate before
// acting, so overlapping deliveries cannot cross channels.

// IsBound reports whether topic carries a cloud-to-device message for
// the given device.
func IsBound(topic, deviceID string) bool {
	return strings.HasPrefix(topic, "devices/"+deviceID+"/messages/devicebound/")
}

// IsMethod reports whether topic is a direct method request.
func IsMethod(topic string) bool {
	return strings.HasPrefix(topic, methodRequestPrefix)
}

// IsTwinPatch reports whether topic is a desired-property update.
func IsTwinPatch(topic string) bool {
	return strings.HasPrefix(topic, twinDesiredPrefix)
}

// IsTwinResponse reports whether topic is a twin request response.
func IsTwinResponse(topic string) bool {
	return strings.HasPrefix(topic, twinResponsePrefix)
}

// Parsers

// ParseProperties decodes the property bag carried by a hub topic into
// a flat map. Request/response topics place the bag after a "/?"
// separator; devicebound topics carry it url-encoded as the final topic
// segment. Keys and values are percent-decoded; entries with a blank
// value are dropped.
func ParseProperties(topic string) (map[string]string, error) {
	var bag string
	if i := strings.LastIndex(topic, "/?"); i >= 0 {
		bag = topic[i+2:]
	} else if i := strings.LastIndex(topic, "/"); i >= 0 {
		bag = topic[i+1:]
	} else {
		bag = topic
	}

	values, err := url.ParseQuery(bag)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedTopic, topic, err)
	}

	props := make(map[string]string, len(values))
	for k, vs := range values {
		if len(vs) == 0 || vs[0] == "" {
			continue
		}
		props[k] = vs[0]
	}
	return props, nil
}

// ParseMethodName extracts the method name from a direct method request
// topic ($iothub/methods/POST/<name>/?$rid=<id>).
func ParseMethodName(topic string) (string, error) {
	if !IsMethod(topic) {
		return "", fmt.Errorf("%w: %q is not a method request", ErrMalformedTopic, topic)
	}
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return parts[len(parts)-2], nil
}

// ParseResponseStatus extracts the numeric status segment from a twin
// response topic ($iothub/twin/res/<status>/?$rid=<id>).
func ParseResponseStatus(topic string) (int, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	status, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil {
		return 0, fmt.Errorf("%w: %q: bad status segment", ErrMalformedTopic, topic)
	}
	return status, nil
}

// ParseRequestID extracts the $rid correlation id from a request or
// response topic's property bag.
func ParseRequestID(topic string) (int64, error) {
	props, err := ParseProperties(topic)
	if err != nil {
		return 0, err
	}
	raw, ok := props["$rid"]
	if !ok {
		return 0, fmt.Errorf("%w: %q carries no $rid", ErrMalformedTopic, topic)
	}
	rid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: bad $rid value", ErrMalformedTopic, topic)
	}
	return rid, nil
}

// ParseTwinVersion extracts the $version value from a desired-property
// update topic's property bag.
func ParseTwinVersion(topic string) (int, error) {
	props, err := ParseProperties(topic)
	if err != nil {
		return 0, err
	}
	raw, ok := props["$version"]
	if !ok {
		return 0, fmt.Errorf("%w: %q carries no $version", ErrMalformedTopic, topic)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: bad $version value", ErrMalformedTopic, topic)
	}
	return version, nil
}

// trailingToken returns the final slash-separated token of a topic.
func trailingToken(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}
