package service

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"satspos/internal/relay"
	"satspos/pkg/terminal"
	"satspos/pkg/zap"

	"github.com/nbd-wtf/go-nostr"
)

// PayStatus is the payment confirmation state, separate from the order
// display state: invoice display lifetime and confirmation lifetime are only
// loosely coupled.
type PayStatus string

const (
	PayIdle      PayStatus = "idle"
	PayWaiting   PayStatus = "waiting"
	PayConfirmed PayStatus = "confirmed"
	PayExpired   PayStatus = "expired"
	PayError     PayStatus = "error"
)

// clockSkewBackdate widens the subscription window to absorb clock skew
// between this process and the relays.
const clockSkewBackdate = 10 * time.Second

// ZapReceipt is a parsed kind 9735 confirmation event.
type ZapReceipt struct {
	ID          string `json:"id"`
	PayerPubkey string `json:"payer_pubkey,omitempty"`
	AmountMsat  int64  `json:"amount_msat"`
	Bolt11      string `json:"bolt11,omitempty"`
	Preimage    string `json:"preimage,omitempty"`
	Description string `json:"description,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// PaymentWatcher waits for a zap receipt addressed to a recipient pubkey
// within a time window. One watcher belongs to one order session; at most
// one subscription is active at a time, enforced by construction.
//
// There is no cryptographic binding between receipt and order: the first
// receipt matching the recipient inside the window wins, regardless of
// amount. That weak correlation is deliberate current policy.
type PaymentWatcher struct {
	pool     *relay.Pool
	feedback terminal.Feedback
	onChange func(PayStatus, *ZapReceipt)

	mu      sync.Mutex
	status  PayStatus
	receipt *ZapReceipt
	gen     int
	cancel  context.CancelFunc
	sub     *relay.Subscription
}

func NewPaymentWatcher(pool *relay.Pool, feedback terminal.Feedback, onChange func(PayStatus, *ZapReceipt)) *PaymentWatcher {
	if feedback == nil {
		feedback = terminal.NoopFeedback{}
	}
	return &PaymentWatcher{
		pool:     pool,
		feedback: feedback,
		onChange: onChange,
		status:   PayIdle,
	}
}

func (w *PaymentWatcher) Status() PayStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *PaymentWatcher) Receipt() *ZapReceipt {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.receipt
}

// StartWaiting subscribes for zap receipts tagged to recipientPubkey and
// arms the expiry timer. A previous attempt, if any, is fully cleaned up
// first; its late results are discarded.
func (w *PaymentWatcher) StartWaiting(recipientPubkey string, timeout time.Duration) {
	w.mu.Lock()
	w.cleanupLocked()
	w.gen++
	gen := w.gen
	w.status = PayWaiting
	w.receipt = nil
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.mu.Unlock()

	go w.run(ctx, gen, recipientPubkey, timeout)
}

// Reset cancels any active subscription and timer and returns to idle.
// Idempotent; safe to call in any state.
func (w *PaymentWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanupLocked()
	w.gen++
	w.status = PayIdle
	w.receipt = nil
}

func (w *PaymentWatcher) run(ctx context.Context, gen int, recipientPubkey string, timeout time.Duration) {
	since := nostr.Timestamp(time.Now().Add(-clockSkewBackdate).Unix())
	filter := nostr.Filter{
		Kinds: []int{zap.KindZapReceipt},
		Tags:  nostr.TagMap{"p": []string{recipientPubkey}},
		Since: &since,
	}

	sub, err := w.pool.Subscribe(ctx, filter)
	if err != nil {
		log.Printf("[WATCHER] subscribe failed: %v", err)
		w.transition(gen, PayError, nil)
		return
	}

	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		sub.Stop()
		return
	}
	w.sub = sub
	w.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case evt, ok := <-sub.Events:
		if !ok {
			if err := sub.Err(); err != nil {
				log.Printf("[WATCHER] subscription lost: %v", err)
				w.transition(gen, PayError, nil)
			}
			return
		}
		w.transition(gen, PayConfirmed, parseReceipt(evt))
	case <-timer.C:
		// A receipt racing the timer within the same tick wins the tie;
		// either way exactly one terminal state is set.
		select {
		case evt, ok := <-sub.Events:
			if ok {
				w.transition(gen, PayConfirmed, parseReceipt(evt))
				return
			}
		default:
		}
		w.transition(gen, PayExpired, nil)
	case <-ctx.Done():
	}
}

// transition moves to a terminal state after tearing down subscription and
// timer, discarding results from superseded attempts.
func (w *PaymentWatcher) transition(gen int, status PayStatus, receipt *ZapReceipt) {
	w.mu.Lock()
	if gen != w.gen {
		w.mu.Unlock()
		return
	}
	w.cleanupLocked()
	w.status = status
	w.receipt = receipt
	cb := w.onChange
	w.mu.Unlock()

	if status == PayConfirmed {
		w.confirmCue()
	}
	if cb != nil {
		cb(status, receipt)
	}
}

// confirmCue fires the haptic/audio cue; best-effort, must never propagate.
func (w *PaymentWatcher) confirmCue() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[WATCHER] confirmation cue panicked: %v", r)
		}
	}()
	w.feedback.ConfirmCue()
}

func (w *PaymentWatcher) cleanupLocked() {
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	if w.sub != nil {
		w.sub.Stop()
		w.sub = nil
	}
}

// parseReceipt extracts the receipt fields. The amount is taken from the zap
// request embedded in the description tag when present; the receipt's own
// amount tag is only a fallback, since a bare tag is trivially spoofable.
func parseReceipt(evt nostr.Event) *ZapReceipt {
	r := &ZapReceipt{
		ID:          evt.ID,
		Bolt11:      tagValue(evt.Tags, "bolt11"),
		Preimage:    tagValue(evt.Tags, "preimage"),
		Description: tagValue(evt.Tags, "description"),
		CreatedAt:   int64(evt.CreatedAt),
	}

	if r.Description != "" {
		var req nostr.Event
		if err := json.Unmarshal([]byte(r.Description), &req); err == nil {
			r.PayerPubkey = req.PubKey
			if v := tagValue(req.Tags, "amount"); v != "" {
				if n, err := strconv.ParseInt(v, 10, 64); err == nil {
					r.AmountMsat = n
				}
			}
		}
	}
	if r.AmountMsat == 0 {
		if v := tagValue(evt.Tags, "amount"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				r.AmountMsat = n
			}
		}
	}
	return r
}

func tagValue(tags nostr.Tags, name string) string {
	for _, t := range tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}
