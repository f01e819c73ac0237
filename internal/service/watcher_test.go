package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"satspos/internal/relay"
	"satspos/pkg/terminal"
	"satspos/pkg/zap"

	"github.com/gorilla/websocket"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRelay is a minimal in-process Nostr relay for exercising subscriptions.
type fakeRelay struct {
	srv *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	reqs  []string
	taken int // reqs already returned by waitSub
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	f := &fakeRelay{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, ws)
		f.mu.Unlock()
		for {
			_, raw, err := ws.ReadMessage()
			if err != nil {
				return
			}
			var arr []json.RawMessage
			if json.Unmarshal(raw, &arr) != nil || len(arr) < 2 {
				continue
			}
			var label, subID string
			json.Unmarshal(arr[0], &label)
			json.Unmarshal(arr[1], &subID)
			if label == "REQ" {
				f.mu.Lock()
				f.reqs = append(f.reqs, subID)
				f.mu.Unlock()
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRelay) url() string {
	return "ws://" + strings.TrimPrefix(f.srv.URL, "http://")
}

// waitSub blocks until a REQ beyond those already returned arrives and
// returns its subscription id, so repeated calls see fresh subscriptions.
func (f *fakeRelay) waitSub(t *testing.T) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		if len(f.reqs) > f.taken {
			id := f.reqs[f.taken]
			f.taken++
			f.mu.Unlock()
			return id
		}
		f.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no REQ received")
	return ""
}

// dropConns severs every live connection server-side; srv.Close alone does
// not touch hijacked websocket conns.
func (f *fakeRelay) dropConns() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.conns {
		ws.Close()
	}
	f.conns = nil
}

func (f *fakeRelay) publish(t *testing.T, subID string, evt nostr.Event) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.conns {
		require.NoError(t, ws.WriteJSON([]interface{}{"EVENT", subID, evt}))
	}
}

type recordingFeedback struct {
	cues  atomic.Int64
	panic bool
}

func (r *recordingFeedback) ConfirmCue() {
	r.cues.Add(1)
	if r.panic {
		panic("buzzer is on fire")
	}
}

func receipt(id, recipient string, amountMsat int64) nostr.Event {
	return nostr.Event{
		ID:        id,
		Kind:      zap.KindZapReceipt,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			nostr.Tag{"p", recipient},
			nostr.Tag{"amount", fmt.Sprintf("%d", amountMsat)},
			nostr.Tag{"bolt11", "lnbc1..."},
		},
	}
}

type watcherChange struct {
	status  PayStatus
	receipt *ZapReceipt
}

func newTestWatcher(t *testing.T, f *fakeRelay) (*PaymentWatcher, *relay.Pool, chan watcherChange, *recordingFeedback) {
	t.Helper()
	pool := relay.NewPool([]string{f.url()})
	t.Cleanup(pool.Close)
	changes := make(chan watcherChange, 8)
	fb := &recordingFeedback{}
	w := NewPaymentWatcher(pool, fb, func(s PayStatus, r *ZapReceipt) {
		changes <- watcherChange{status: s, receipt: r}
	})
	return w, pool, changes, fb
}

func TestWatcherConfirmsOnReceipt(t *testing.T) {
	f := newFakeRelay(t)
	w, pool, changes, fb := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 5*time.Second)
	subID := f.waitSub(t)
	f.publish(t, subID, receipt("r1", "merchant-pk", 21000))

	select {
	case ch := <-changes:
		assert.Equal(t, PayConfirmed, ch.status)
		require.NotNil(t, ch.receipt)
		assert.Equal(t, "r1", ch.receipt.ID)
		assert.Equal(t, int64(21000), ch.receipt.AmountMsat)
	case <-time.After(3 * time.Second):
		t.Fatal("no confirmation")
	}
	assert.Equal(t, PayConfirmed, w.Status())
	assert.Equal(t, int64(1), fb.cues.Load())
	assert.Equal(t, 0, pool.OpenSubscriptions())
}

// Correlation is by recipient and window only: a receipt for a different
// amount still confirms the payment.
func TestWatcherAmountInsensitive(t *testing.T) {
	f := newFakeRelay(t)
	w, _, changes, _ := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 5*time.Second)
	subID := f.waitSub(t)
	f.publish(t, subID, receipt("r2", "merchant-pk", 1)) // order was for far more

	select {
	case ch := <-changes:
		assert.Equal(t, PayConfirmed, ch.status)
		assert.Equal(t, int64(1), ch.receipt.AmountMsat)
	case <-time.After(3 * time.Second):
		t.Fatal("no confirmation")
	}
}

func TestWatcherAmountFromDescription(t *testing.T) {
	f := newFakeRelay(t)
	w, _, changes, _ := newTestWatcher(t, f)

	req := nostr.Event{
		PubKey: "payer-pk",
		Kind:   zap.KindZapRequest,
		Tags:   nostr.Tags{nostr.Tag{"amount", "42000"}},
	}
	desc, _ := json.Marshal(req)
	evt := receipt("r3", "merchant-pk", 0)
	evt.Tags = append(evt.Tags, nostr.Tag{"description", string(desc)})

	w.StartWaiting("merchant-pk", 5*time.Second)
	f.publish(t, f.waitSub(t), evt)

	select {
	case ch := <-changes:
		require.NotNil(t, ch.receipt)
		assert.Equal(t, int64(42000), ch.receipt.AmountMsat)
		assert.Equal(t, "payer-pk", ch.receipt.PayerPubkey)
	case <-time.After(3 * time.Second):
		t.Fatal("no confirmation")
	}
}

// A receipt that arrives inside the expiry window always wins, even when the
// timer horizon has passed by the time the result is observed: exactly one
// terminal state, and it is confirmed, not expired.
func TestWatcherReceiptBeatsTimerTie(t *testing.T) {
	f := newFakeRelay(t)
	w, pool, changes, _ := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 400*time.Millisecond)
	subID := f.waitSub(t)
	f.publish(t, subID, receipt("r7", "merchant-pk", 1000))

	// let the expiry timer fire as well
	time.Sleep(600 * time.Millisecond)

	select {
	case ch := <-changes:
		assert.Equal(t, PayConfirmed, ch.status)
		require.NotNil(t, ch.receipt)
		assert.Equal(t, "r7", ch.receipt.ID)
	default:
		t.Fatal("no terminal state")
	}
	select {
	case ch := <-changes:
		t.Fatalf("second transition after confirmation: %+v", ch)
	default:
	}
	assert.Equal(t, PayConfirmed, w.Status())
	assert.Equal(t, 0, pool.OpenSubscriptions())
}

func TestWatcherExpires(t *testing.T) {
	f := newFakeRelay(t)
	w, pool, changes, fb := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 100*time.Millisecond)
	select {
	case ch := <-changes:
		assert.Equal(t, PayExpired, ch.status)
		assert.Nil(t, ch.receipt)
	case <-time.After(3 * time.Second):
		t.Fatal("never expired")
	}
	assert.Equal(t, PayExpired, w.Status())
	assert.Equal(t, int64(0), fb.cues.Load())
	assert.Equal(t, 0, pool.OpenSubscriptions())
}

func TestWatcherResetAndReuse(t *testing.T) {
	f := newFakeRelay(t)
	w, pool, changes, _ := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 5*time.Second)
	f.waitSub(t)
	w.Reset()
	assert.Equal(t, PayIdle, w.Status())
	assert.Nil(t, w.Receipt())
	assert.Equal(t, 0, pool.OpenSubscriptions())

	// the same watcher handles the next attempt
	w.StartWaiting("merchant-pk", 5*time.Second)
	subID := f.waitSub(t)
	f.publish(t, subID, receipt("r4", "merchant-pk", 1000))
	select {
	case ch := <-changes:
		assert.Equal(t, PayConfirmed, ch.status)
	case <-time.After(3 * time.Second):
		t.Fatal("no confirmation after reset")
	}
}

// A receipt for a superseded attempt must not confirm the current one.
func TestWatcherDiscardsStaleAttempt(t *testing.T) {
	f := newFakeRelay(t)
	w, _, changes, _ := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 5*time.Second)
	staleSub := f.waitSub(t)
	w.StartWaiting("merchant-pk", 5*time.Second)

	f.publish(t, staleSub, receipt("r5", "merchant-pk", 1000))
	select {
	case ch := <-changes:
		t.Fatalf("stale receipt leaked through: %+v", ch)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Equal(t, PayWaiting, w.Status())
}

func TestWatcherErrorWhenNoRelayReachable(t *testing.T) {
	pool := relay.NewPool([]string{"ws://127.0.0.1:1"})
	defer pool.Close()
	changes := make(chan watcherChange, 1)
	w := NewPaymentWatcher(pool, terminal.NoopFeedback{}, func(s PayStatus, r *ZapReceipt) {
		changes <- watcherChange{status: s, receipt: r}
	})

	w.StartWaiting("merchant-pk", time.Second)
	select {
	case ch := <-changes:
		assert.Equal(t, PayError, ch.status)
	case <-time.After(3 * time.Second):
		t.Fatal("no error state")
	}
}

// A relay that dies mid-wait and never comes back must surface an error
// rather than leave the watcher waiting out its full timeout.
func TestWatcherErrorWhenRelayDiesMidWait(t *testing.T) {
	f := newFakeRelay(t)
	w, pool, changes, _ := newTestWatcher(t, f)

	w.StartWaiting("merchant-pk", 30*time.Second)
	f.waitSub(t)
	f.srv.Close()
	f.dropConns()

	select {
	case ch := <-changes:
		assert.Equal(t, PayError, ch.status)
		assert.Nil(t, ch.receipt)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher stuck waiting on dead relay")
	}
	assert.Equal(t, PayError, w.Status())
	assert.Equal(t, 0, pool.OpenSubscriptions())
}

// A haywire buzzer must not lose the confirmation.
func TestWatcherConfirmSurvivesFeedbackPanic(t *testing.T) {
	f := newFakeRelay(t)
	w, _, changes, fb := newTestWatcher(t, f)
	fb.panic = true

	w.StartWaiting("merchant-pk", 5*time.Second)
	f.publish(t, f.waitSub(t), receipt("r6", "merchant-pk", 1000))

	select {
	case ch := <-changes:
		assert.Equal(t, PayConfirmed, ch.status)
	case <-time.After(3 * time.Second):
		t.Fatal("confirmation lost to panicking feedback")
	}
	assert.Equal(t, PayConfirmed, w.Status())
}
