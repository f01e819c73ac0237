package zap

import (
	"fmt"
	"log"

	"github.com/nbd-wtf/go-nostr"
)

// Signer signs a zap request event in place (sets pubkey, id, sig).
//
// The signer identity does not authenticate the merchant; it only has to
// produce a well-formed event the relay network will accept, so a merchant
// key is optional and any signing failure falls back to a throwaway key.
type Signer interface {
	Sign(evt *nostr.Event) error
}

// KeySigner signs with a configured merchant secret key.
type KeySigner struct {
	secret string
}

func NewKeySigner(secretHex string) (*KeySigner, error) {
	if _, err := nostr.GetPublicKey(secretHex); err != nil {
		return nil, fmt.Errorf("invalid nostr secret key: %w", err)
	}
	return &KeySigner{secret: secretHex}, nil
}

func (s *KeySigner) Sign(evt *nostr.Event) error {
	return evt.Sign(s.secret)
}

// EphemeralSigner generates a fresh one-time keypair per event.
type EphemeralSigner struct{}

func (EphemeralSigner) Sign(evt *nostr.Event) error {
	return evt.Sign(nostr.GeneratePrivateKey())
}

// DetectSigner picks the signing capability once at startup: a configured
// merchant key when present and valid, ephemeral keys otherwise.
func DetectSigner(secretHex string) Signer {
	if secretHex != "" {
		s, err := NewKeySigner(secretHex)
		if err == nil {
			return s
		}
		log.Printf("[ZAP] configured key rejected, using ephemeral keys: %v", err)
	}
	return EphemeralSigner{}
}
