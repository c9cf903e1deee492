package verify

import (
	"crypto/hmac"
	"encoding/base64"

	"github.com/webhookd/webhookd/internal/domain"
)

// ShopifyVerifier checks the base64-encoded HMAC-SHA256 digest Shopify sends
// in the X-Shopify-Hmac-Sha256 header.
type ShopifyVerifier struct{}

func (ShopifyVerifier) SignatureHeader() string { return "X-Shopify-Hmac-Sha256" }

func (ShopifyVerifier) Verify(rawBody []byte, headers map[string]string, secret string) error {
	sig := headerValue(headers, "X-Shopify-Hmac-Sha256")
	if sig == "" {
		return domain.E(domain.KindAuthentication, "missing X-Shopify-Hmac-Sha256 header")
	}

	got, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return domain.E(domain.KindAuthentication, "malformed signature")
	}
	if !hmac.Equal(got, computeHMAC(rawBody, secret)) {
		return domain.E(domain.KindAuthentication, "signature mismatch")
	}
	return nil
}
