// Package zap builds NIP-57 zap request events (kind 9734) for LNURL
// callbacks that support Nostr payment attribution.
package zap

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

// RequestParams describe a single zap request.
type RequestParams struct {
	// AmountMsat is the payment amount in millisatoshis. Must be positive.
	AmountMsat int64
	// RecipientPubkey is the destination's 32-byte hex Nostr pubkey.
	RecipientPubkey string
	// Relays is carried verbatim into the event's relays tag.
	Relays []string
	// Content is optional free-form text.
	Content string
	// EventID targets a specific content event; empty for POS charges.
	EventID string
}

// BuildRequest creates and signs a kind 9734 event and returns it URL-encoded,
// ready to be passed as the `nostr` query parameter of an LNURL callback.
//
// Signing prefers the given signer; on failure it falls back to an ephemeral
// key. An error is returned only when both paths fail, and callers should
// treat that as non-fatal: invoice generation proceeds without a zap request.
func BuildRequest(params RequestParams, signer Signer) (string, error) {
	if params.AmountMsat <= 0 {
		return "", fmt.Errorf("zap request amount must be positive, got %d", params.AmountMsat)
	}
	if params.RecipientPubkey == "" {
		return "", fmt.Errorf("zap request requires a recipient pubkey")
	}

	tags := nostr.Tags{
		nostr.Tag{"p", params.RecipientPubkey},
		nostr.Tag{"amount", strconv.FormatInt(params.AmountMsat, 10)},
		append(nostr.Tag{"relays"}, params.Relays...),
	}
	if params.EventID != "" {
		tags = append(tags, nostr.Tag{"e", params.EventID})
	}

	evt := nostr.Event{
		Kind:      KindZapRequest,
		CreatedAt: nostr.Now(),
		Tags:      tags,
		Content:   params.Content,
	}

	if signer == nil {
		signer = EphemeralSigner{}
	}
	if err := signer.Sign(&evt); err != nil {
		// Fall back to a throwaway key; the signer identity is not load-bearing.
		if err := (EphemeralSigner{}).Sign(&evt); err != nil {
			return "", fmt.Errorf("sign zap request: %w", err)
		}
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("encode zap request: %w", err)
	}
	return url.QueryEscape(string(raw)), nil
}
