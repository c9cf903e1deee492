package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/webhookd/webhookd/internal/domain"
)

// signatureHeaders are the headers scanned when a source has no registered
// verifier: a signed payload arriving on an unverified source is rejected
// rather than trusted.
var signatureHeaders = []string{
	"X-Webhook-Signature",
	"Stripe-Signature",
	"X-Shopify-Hmac-Sha256",
	"Paypal-Transmission-Sig",
}

var knownSources = map[domain.Source]struct{}{
	domain.SourceStripe:      {},
	domain.SourcePayPal:      {},
	domain.SourceShopify:     {},
	domain.SourceMarketplace: {},
	domain.SourceCustom:      {},
}

// Receive validates and enqueues one inbound webhook. rawPayload must be the
// exact bytes the sender transmitted: signature schemes sign the raw body.
// Validation and authentication failures return synchronously and create no
// event; they are never queued or retried.
func (e *Engine) Receive(ctx context.Context, source domain.Source, rawPayload string, headers map[string]string, tenantID string) (string, error) {
	if _, ok := knownSources[source]; !ok {
		return "", domain.E(domain.KindValidation, "unknown webhook source %q", source)
	}

	if e.limiter != nil && !e.limiter.Allow(ctx, source) {
		return "", domain.E(domain.KindRateLimited, "ingest rate limit exceeded for source %s", source)
	}

	raw := []byte(rawPayload)
	if len(raw) == 0 || !json.Valid(raw) {
		return "", domain.E(domain.KindValidation, "payload is not valid JSON")
	}

	signature, signed, err := e.verifySignature(source, raw, headers)
	if err != nil {
		e.logger.Warn("webhook rejected",
			"source", source,
			"reason", err.Error(),
			"signature_present", signed,
		)
		return "", err
	}

	eventType, err := extractEventType(source, raw, headers)
	if err != nil {
		return "", err
	}

	policy := e.registry.EffectivePolicy(source, eventType)

	ev := &domain.WebhookEvent{
		ID:         uuid.NewString(),
		Source:     source,
		Type:       eventType,
		Payload:    json.RawMessage(raw),
		Signature:  signature,
		Headers:    headers,
		TenantID:   tenantID,
		Status:     domain.StatusPending,
		RetryCount: 0,
		MaxRetries: policy.MaxRetries,
		ReceivedAt: time.Now(),
	}

	e.store.Append(ev)

	if e.journal != nil {
		if err := e.journal.InsertEvent(ctx, ev); err != nil {
			e.logger.Error("failed to journal event receipt",
				"error", err,
				"event_id", ev.ID,
			)
		}
	}

	// Audit entry for the security log. Reaching this point means any
	// present signature verified, so presence is the only fact worth logging.
	e.logger.Info("webhook received",
		"event_id", ev.ID,
		"source", source,
		"type", eventType,
		"tenant_id", tenantID,
		"signature_present", signed,
	)
	e.notify(ev, StageReceived, "")

	return ev.ID, nil
}

// verifySignature applies the source's verifier when one is registered.
// Without a verifier, payloads carrying a known signature header are refused:
// accepting a signed payload we cannot check would silently drop the
// authentication guarantee.
func (e *Engine) verifySignature(source domain.Source, raw []byte, headers map[string]string) (signature string, signed bool, err error) {
	e.vmu.RLock()
	entry, ok := e.verifiers[source]
	e.vmu.RUnlock()

	if ok {
		sig := headers[entry.verifier.SignatureHeader()]
		if err := entry.verifier.Verify(raw, headers, entry.secret); err != nil {
			return "", sig != "", err
		}
		return sig, true, nil
	}

	for _, h := range signatureHeaders {
		if headers[h] != "" {
			return "", true, domain.E(domain.KindAuthentication,
				"payload signed with %s but no verifier registered for source %s", h, source)
		}
	}
	return "", false, nil
}

// extractEventType applies the documented per-source extraction rule.
func extractEventType(source domain.Source, raw []byte, headers map[string]string) (string, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", domain.E(domain.KindValidation, "payload must be a JSON object")
	}

	field := func(names ...string) string {
		for _, name := range names {
			var s string
			if rawVal, ok := body[name]; ok && json.Unmarshal(rawVal, &s) == nil && s != "" {
				return s
			}
		}
		return ""
	}

	var eventType string
	switch source {
	case domain.SourceStripe:
		eventType = field("type")
	case domain.SourcePayPal:
		eventType = field("event_type")
	case domain.SourceShopify:
		// Shopify carries the topic in a header; older senders embed it.
		if eventType = headers["X-Shopify-Topic"]; eventType == "" {
			eventType = field("topic")
		}
	case domain.SourceMarketplace:
		eventType = field("event")
	case domain.SourceCustom:
		eventType = field("type", "event_type")
	}

	if eventType == "" {
		return "", domain.E(domain.KindValidation, "unable to determine event type for source %s", source)
	}
	return eventType, nil
}
