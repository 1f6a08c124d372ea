// Package verifier authenticates processor webhooks and parses them into
// envelopes. A failed verification has no side effects.
package verifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/clubpay/internal/billingerr"
	"github.com/smallbiznis/clubpay/internal/config"
	webhookdomain "github.com/smallbiznis/clubpay/internal/webhook/domain"
	"github.com/stripe/stripe-go/v83/webhook"
)

// DefaultTolerance bounds how old a signed timestamp may be.
const DefaultTolerance = 300 * time.Second

type Verifier struct {
	tolerance time.Duration
}

func New(cfg config.Config) *Verifier {
	return NewWithTolerance(cfg.Stripe.WebhookTolerance)
}

func NewWithTolerance(tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{tolerance: tolerance}
}

type rawEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Account  string `json:"account"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// Verify checks the Stripe-Signature header against secret (HMAC-SHA256 over
// "{timestamp}.{body}") and only then parses the body.
func (v *Verifier) Verify(payload []byte, header, secret string) (*webhookdomain.Envelope, error) {
	if strings.TrimSpace(secret) == "" || strings.TrimSpace(header) == "" {
		return nil, billingerr.ErrSignatureInvalid
	}
	if err := webhook.ValidatePayloadWithTolerance(payload, header, secret, v.tolerance); err != nil {
		return nil, fmt.Errorf("%w: %w", billingerr.ErrSignatureInvalid, err)
	}
	return Parse(payload)
}

// Parse decodes an authenticated body into an envelope.
func Parse(payload []byte) (*webhookdomain.Envelope, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", billingerr.ErrMalformedPayload, err)
	}
	if raw.ID == "" || raw.Type == "" {
		return nil, fmt.Errorf("%w: missing id or type", billingerr.ErrMalformedPayload)
	}
	object := bytes.TrimSpace(raw.Data.Object)
	if len(object) == 0 || object[0] != '{' {
		return nil, fmt.Errorf("%w: missing data.object", billingerr.ErrMalformedPayload)
	}

	env := &webhookdomain.Envelope{
		ID:       raw.ID,
		Type:     webhookdomain.EventType(raw.Type),
		Livemode: raw.Livemode,
		Account:  raw.Account,
		Object:   json.RawMessage(object),
		Raw:      payload,
	}
	if raw.Created > 0 {
		env.Created = time.Unix(raw.Created, 0).UTC()
	}
	return env, nil
}
