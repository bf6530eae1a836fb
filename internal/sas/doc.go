// Package sas generates shared access signature tokens for hub authentication.
//
// The hub authenticates a device session by checking the MQTT CONNECT
// password, which carries a SAS token derived from the device's shared
// access key. Tokens are time-limited: the hub rejects tokens whose se
// (expiry) lies in the past, which is why the session layer re-derives
// the token on every reconnect attempt.
//
// # Token Format
//
//	SharedAccessSignature sr=<resource-uri>&sig=<signature>&se=<expiry>
//
//	sr   URL-encoded resource URI (e.g. myhub.azure-devices.net%2Fdevices)
//	sig  URL-encoded base64 HMAC-SHA256 of "<encoded-uri>\n<expiry>"
//	se   Unix expiry timestamp in seconds, unencoded
//
// The HMAC key is the base64-decoded device key, not the raw key string.
//
// # Security Considerations
//
//   - Tokens grant publish/subscribe on the device's hub resources until
//     expiry; never log them.
//   - The device key is long-lived secret material; it only ever feeds the
//     HMAC and must not leave the process.
package sas
