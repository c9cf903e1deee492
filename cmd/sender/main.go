// Command sender posts signed sample webhooks at a running webhookd server,
// for local development and smoke testing.
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:8080", "webhookd base URL")
		source    = flag.String("source", "custom", "webhook source (stripe, paypal, shopify, marketplace, custom)")
		eventType = flag.String("type", "order.created", "event type to send")
		secret    = flag.String("secret", "", "shared secret; empty sends unsigned")
		count     = flag.Int("count", 1, "number of webhooks to send")
		tenant    = flag.String("tenant", "", "optional X-Tenant-ID header")
	)
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	endpoint := fmt.Sprintf("%s/api/v1/webhooks/%s", *baseURL, *source)

	for i := 0; i < *count; i++ {
		payload := buildPayload(*source, *eventType, i)

		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			log.Fatalf("building request: %v", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if *tenant != "" {
			req.Header.Set("X-Tenant-ID", *tenant)
		}
		if *secret != "" {
			sign(req, *source, payload, *secret)
		}
		if *source == "shopify" {
			req.Header.Set("X-Shopify-Topic", *eventType)
		}

		resp, err := client.Do(req)
		if err != nil {
			log.Fatalf("sending webhook: %v", err)
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()

		fmt.Printf("[%d/%d] %s %s\n", i+1, *count, resp.Status, bytes.TrimSpace(body))
	}
}

// buildPayload shapes the body so the server's per-source type extraction
// finds the event type where that platform puts it.
func buildPayload(source, eventType string, seq int) []byte {
	switch source {
	case "stripe":
		return []byte(fmt.Sprintf(`{"id":"evt_%d","type":%q,"data":{"object":{"id":"pi_%d","amount":1999}}}`, seq, eventType, seq))
	case "paypal":
		return []byte(fmt.Sprintf(`{"id":"WH-%d","event_type":%q,"resource":{"id":"PAY-%d"}}`, seq, eventType, seq))
	case "shopify":
		return []byte(fmt.Sprintf(`{"topic":%q,"order_id":%d}`, eventType, seq))
	case "marketplace":
		return []byte(fmt.Sprintf(`{"event":%q,"listing_id":%d}`, eventType, seq))
	default:
		return []byte(fmt.Sprintf(`{"type":%q,"seq":%d}`, eventType, seq))
	}
}

// sign attaches the signature header each platform's verifier expects.
func sign(req *http.Request, source string, payload []byte, secret string) {
	switch source {
	case "stripe":
		ts := time.Now().Unix()
		signed := strconv.FormatInt(ts, 10) + "." + string(payload)
		req.Header.Set("Stripe-Signature",
			fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(digest([]byte(signed), secret))))
	case "shopify":
		req.Header.Set("X-Shopify-Hmac-Sha256", base64.StdEncoding.EncodeToString(digest(payload, secret)))
	case "paypal":
		req.Header.Set("Paypal-Transmission-Sig", hex.EncodeToString(digest(payload, secret)))
	default:
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(digest(payload, secret)))
	}
}

func digest(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}
