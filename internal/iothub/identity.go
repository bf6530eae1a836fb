package iothub

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Identity holds the provisioning data for a single hub device. All
// fields are required; Validate reports every missing or malformed
// field at once so a broken deployment fails on first start with a
// complete message.
type Identity struct {
	// HubID is the short hub name. The broker host is derived from it
	// as <hub_id>.azure-devices.net.
	HubID string

	// DeviceID is the device's registry identifier. It doubles as the
	// MQTT client id, which the hub requires.
	DeviceID string

	// APIVersion is the hub api-version string sent in the connection
	// username. Without it the hub stays silent on the method and twin
	// topics.
	APIVersion string

	// Key is the base64-encoded primary or secondary shared access key.
	Key string

	// TokenLifetime is the SAS token validity in minutes.
	TokenLifetime int
}

// Validate checks the identity and returns all problems joined into a
// single error.
func (id Identity) Validate() error {
	var errs []string

	if id.HubID == "" {
		errs = append(errs, "hub id is required")
	}
	if id.DeviceID == "" {
		errs = append(errs, "device id is required")
	}
	if id.APIVersion == "" {
		errs = append(errs, "api version is required")
	}
	if id.Key == "" {
		errs = append(errs, "device key is required")
	} else if _, err := base64.StdEncoding.DecodeString(id.Key); err != nil {
		errs = append(errs, "device key is not valid base64")
	}
	if id.TokenLifetime <= 0 {
		errs = append(errs, "token lifetime must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid device identity: %s", strings.Join(errs, "; "))
	}
	return nil
}

// BrokerHost returns the hub's MQTT broker hostname.
func (id Identity) BrokerHost() string {
	return id.HubID + ".azure-devices.net"
}

// Username returns the MQTT username the hub expects:
// <host>/<device_id>/api-version=<api_version>.
func (id Identity) Username() string {
	return id.BrokerHost() + "/" + id.DeviceID + "/api-version=" + id.APIVersion
}

// ResourceURI returns the resource SAS tokens are scoped to. Tokens are
// issued against the hub's device registry, not an individual device.
func (id Identity) ResourceURI() string {
	return id.BrokerHost() + "/devices"
}
