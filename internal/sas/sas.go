package sas

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ErrInvalidKey is returned when the shared access key is not valid base64.
// This is a configuration error: the key pasted from the hub portal is
// always base64-encoded.
var ErrInvalidKey = errors.New("sas: shared access key is not valid base64")

// Generate builds a shared access signature token for the given resource.
//
// The signing input is the URL-encoded resource URI and the expiry joined
// by a newline. The signature is HMAC-SHA256 keyed with the base64-decoded
// shared access key, base64-encoded into the token.
//
// Parameters:
//   - resourceURI: The resource being granted access, e.g. "myhub.azure-devices.net/devices"
//   - key: The base64-encoded primary or secondary device key
//   - expiry: Unix timestamp (seconds) at which the token stops being valid
//
// Returns:
//   - string: Token of the form "SharedAccessSignature sr=<uri>&sig=<sig>&se=<expiry>"
//     with sr and sig URL-encoded
//   - error: ErrInvalidKey if the key does not decode
func Generate(resourceURI, key string, expiry int64) (string, error) {
	decodedKey, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}

	encodedURI := url.QueryEscape(resourceURI)
	stringToSign := encodedURI + "\n" + strconv.FormatInt(expiry, 10)

	mac := hmac.New(sha256.New, decodedKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d",
		encodedURI, url.QueryEscape(signature), expiry), nil
}
