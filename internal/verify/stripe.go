package verify

import (
	"crypto/hmac"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/webhookd/webhookd/internal/domain"
)

// StripeVerifier checks the Stripe-Signature header scheme:
// "t=<unix>,v1=<hex hmac of '<t>.<body>'>". Multiple v1 entries may appear
// during secret rotation; any one matching is accepted.
type StripeVerifier struct {
	// Tolerance bounds how old the signed timestamp may be. Defaults to
	// 5 minutes, matching Stripe's documented replay window.
	Tolerance time.Duration

	// Now is overridable for tests.
	Now func() time.Time
}

func (v StripeVerifier) SignatureHeader() string { return "Stripe-Signature" }

func (v StripeVerifier) Verify(rawBody []byte, headers map[string]string, secret string) error {
	header := headerValue(headers, v.SignatureHeader())
	if header == "" {
		return domain.E(domain.KindAuthentication, "missing Stripe-Signature header")
	}

	var ts int64
	var candidates []string
	for _, part := range strings.Split(header, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return domain.E(domain.KindAuthentication, "malformed signature timestamp")
			}
			ts = n
		case "v1":
			candidates = append(candidates, val)
		}
	}
	if ts == 0 || len(candidates) == 0 {
		return domain.E(domain.KindAuthentication, "malformed Stripe-Signature header")
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	age := now().Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return domain.E(domain.KindAuthentication, "signature timestamp outside tolerance")
	}

	signed := strconv.FormatInt(ts, 10) + "." + string(rawBody)
	expected := computeHMAC([]byte(signed), secret)

	for _, c := range candidates {
		got, err := hex.DecodeString(c)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return domain.E(domain.KindAuthentication, "signature mismatch")
}
