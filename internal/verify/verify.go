// Package verify implements per-source webhook signature verification.
// Verification always runs against the exact raw request bytes; a payload
// that has been re-serialized will not match its signature.
package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/webhookd/webhookd/internal/domain"
)

// Verifier validates an inbound payload against a shared secret.
// Implementations return a domain error of kind authentication on any
// mismatch; the receiver treats that as a fail-closed boundary and never
// queues the event.
type Verifier interface {
	// SignatureHeader is the header this verifier reads. Used both for
	// verification and for detecting signed payloads on sources that have
	// no verifier registered.
	SignatureHeader() string
	Verify(rawBody []byte, headers map[string]string, secret string) error
}

// computeHMAC generates a raw HMAC-SHA256 digest for the payload.
func computeHMAC(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

// HMACVerifier checks a hex-encoded HMAC-SHA256 digest of the raw body,
// the scheme used by generic and marketplace webhook senders.
type HMACVerifier struct {
	// Header defaults to X-Webhook-Signature when empty.
	Header string
}

func (v HMACVerifier) SignatureHeader() string {
	if v.Header != "" {
		return v.Header
	}
	return "X-Webhook-Signature"
}

func (v HMACVerifier) Verify(rawBody []byte, headers map[string]string, secret string) error {
	sig := headerValue(headers, v.SignatureHeader())
	if sig == "" {
		return domain.E(domain.KindAuthentication, "missing %s header", v.SignatureHeader())
	}

	got, err := hex.DecodeString(sig)
	if err != nil {
		return domain.E(domain.KindAuthentication, "malformed signature")
	}
	if !hmac.Equal(got, computeHMAC(rawBody, secret)) {
		return domain.E(domain.KindAuthentication, "signature mismatch")
	}
	return nil
}

// headerValue does a case-insensitive lookup over a plain header map.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
