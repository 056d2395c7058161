package gateway

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

const (
	AuthScheme  = "IYZWS"
	NonceHeader = "x-iyzi-rnd"
)

// AuthHeader is the pair of headers that authenticates one signed request.
type AuthHeader struct {
	Authorization string
	Nonce         string
}

// Sign builds the authorization header for payload, which must be the exact
// bytes sent as the request body. The digest covers nonce, apiKey, secret and
// payload in that order, so a captured header does not verify against any
// other body or nonce.
func Sign(apiKey, secret, nonce string, payload []byte) AuthHeader {
	h := sha1.New()
	h.Write([]byte(nonce))
	h.Write([]byte(apiKey))
	h.Write([]byte(secret))
	h.Write(payload)
	digest := base64.StdEncoding.EncodeToString(h.Sum(nil))

	return AuthHeader{
		Authorization: fmt.Sprintf("%s %s:%s", AuthScheme, apiKey, digest),
		Nonce:         nonce,
	}
}

// NewNonce returns a fresh random nonce. Every signed request needs its own.
func NewNonce() string {
	return uuid.NewString()
}
