package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"satspos/pkg/lnaddr"
	"satspos/pkg/proxy"
	"satspos/pkg/terminal"
	"satspos/pkg/zap"

	"github.com/qmuntal/stateless"
)

// OrderState is the display-facing session state.
type OrderState string

const (
	StateLoading   OrderState = "loading"
	StateReady     OrderState = "ready"
	StateConfirmed OrderState = "confirmed"
	StateExpired   OrderState = "expired"
	StateError     OrderState = "error"
	StateCancelled OrderState = "cancelled"
)

const (
	triggerReady   = "ready"
	triggerConfirm = "confirm"
	triggerExpire  = "expire"
	triggerFail    = "fail"
	triggerRetry   = "retry"
	triggerCancel  = "cancel"
)

// Mode is the confirmation mode the session settled on.
type Mode string

const (
	// ModeZap: destination supports NIP-57; confirmation arrives as a zap
	// receipt over a relay subscription.
	ModeZap Mode = "ZAP"
	// ModeProxy: funds route through a disposable wallet that notifies on
	// inbound settlement and forwards onward.
	ModeProxy Mode = "PROXY"
	// ModeDegraded: direct LNURL invoice with no watcher; confirmation is
	// merchant-observed only.
	ModeDegraded Mode = "DEGRADED"
)

// Snapshot is the state pushed to the display layer on every transition.
type Snapshot struct {
	OrderID    string      `json:"order_id"`
	State      OrderState  `json:"state"`
	PayState   PayStatus   `json:"pay_state"`
	Mode       Mode        `json:"mode,omitempty"`
	AmountSats int64       `json:"amount_sats"`
	AmountMsat int64       `json:"amount_msat"`
	Currency   string      `json:"currency"`
	FiatAmount float64     `json:"fiat_amount,omitempty"`
	Invoice    string      `json:"invoice,omitempty"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
	Receipt    *ZapReceipt `json:"receipt,omitempty"`
	Error      string      `json:"error,omitempty"`
	Warning    string      `json:"warning,omitempty"`
}

// DestinationResolver resolves a Lightning address to LNURL-pay parameters.
type DestinationResolver interface {
	ResolveLNURL(ctx context.Context, address string) (*lnaddr.PayParams, error)
}

// InvoiceFetcher obtains a bolt11 from an LNURL-pay callback.
type InvoiceFetcher interface {
	FetchInvoice(ctx context.Context, callback string, amountMsat int64, nostrParam, lnurlParam string) (*lnaddr.Invoice, error)
}

// SessionDeps are the collaborators a session needs; injected so the state
// machine is testable without ambient globals.
type SessionDeps struct {
	Resolver DestinationResolver
	Invoices InvoiceFetcher
	Signer   zap.Signer
	Watcher  func(onChange func(PayStatus, *ZapReceipt)) *PaymentWatcher
	Proxy    proxy.Provider
	Reader   terminal.CardReader
	Printer  terminal.Printer
	Relays   []string
	// InvoiceTimeout is the countdown; default 5 minutes.
	InvoiceTimeout time.Duration
	// OnUpdate receives a snapshot after every transition.
	OnUpdate func(Snapshot)
}

// Session drives one checkout attempt from loading to a terminal state. All
// external work happens in per-attempt goroutines; an attempt generation
// counter discards stale results after retry or cancellation.
type Session struct {
	id          string
	amountSats  int64
	amountMsat  int64
	currency    string
	fiatAmount  float64
	destination string

	deps SessionDeps

	mu        sync.Mutex
	machine   *stateless.StateMachine
	mode      Mode
	attempt   int
	cancel    context.CancelFunc
	params    *lnaddr.PayParams
	invoice   string
	expiresAt *time.Time
	countdown *time.Timer
	errMsg    string
	warning   string
	watcher   *PaymentWatcher
}

// NewSession builds a session in loading state. Call Start to run the
// pipeline.
func NewSession(orderID string, amountSats int64, currency string, fiatAmount float64, destination string, deps SessionDeps) *Session {
	if deps.InvoiceTimeout <= 0 {
		deps.InvoiceTimeout = 5 * time.Minute
	}
	if deps.Reader == nil {
		deps.Reader = terminal.NoopReader{}
	}
	if deps.Printer == nil {
		deps.Printer = terminal.NoopPrinter{}
	}
	if deps.Proxy == nil {
		deps.Proxy = proxy.UnavailableProvider{}
	}

	s := &Session{
		id:          orderID,
		amountSats:  amountSats,
		amountMsat:  amountSats * 1000,
		currency:    currency,
		fiatAmount:  fiatAmount,
		destination: destination,
		deps:        deps,
		machine:     newOrderMachine(),
	}
	s.watcher = deps.Watcher(s.onWatcherChange)
	return s
}

// newOrderMachine encodes the legal transitions: loading -> ready ->
// {confirmed|expired}; error only from loading or via a watcher failure
// surfaced during ready; expired/error re-enter loading on retry.
func newOrderMachine() *stateless.StateMachine {
	m := stateless.NewStateMachine(StateLoading)
	m.Configure(StateLoading).
		Permit(triggerReady, StateReady).
		Permit(triggerFail, StateError).
		Permit(triggerCancel, StateCancelled)
	m.Configure(StateReady).
		Permit(triggerConfirm, StateConfirmed).
		Permit(triggerExpire, StateExpired).
		Permit(triggerFail, StateError).
		Permit(triggerCancel, StateCancelled)
	m.Configure(StateExpired).
		Permit(triggerRetry, StateLoading).
		Permit(triggerCancel, StateCancelled)
	m.Configure(StateError).
		Permit(triggerRetry, StateLoading).
		Permit(triggerCancel, StateCancelled)
	return m
}

func (s *Session) ID() string { return s.id }

// State returns the current display state.
func (s *Session) State() OrderState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() OrderState {
	return s.machine.MustState().(OrderState)
}

// Snapshot returns the current state for the display layer.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		OrderID:    s.id,
		State:      s.stateLocked(),
		PayState:   s.watcher.Status(),
		Mode:       s.mode,
		AmountSats: s.amountSats,
		AmountMsat: s.amountMsat,
		Currency:   s.currency,
		FiatAmount: s.fiatAmount,
		Invoice:    s.invoice,
		ExpiresAt:  s.expiresAt,
		Receipt:    s.watcher.Receipt(),
		Error:      s.errMsg,
		Warning:    s.warning,
	}
}

// Start kicks off the loading pipeline asynchronously.
func (s *Session) Start() {
	s.mu.Lock()
	gen, ctx := s.newAttemptLocked()
	s.mu.Unlock()
	go s.generate(ctx, gen)
}

// Retry re-enters loading from expired or error, cancelling every in-flight
// operation of the previous attempt and discarding the cached destination.
func (s *Session) Retry() error {
	s.mu.Lock()
	if err := s.machine.Fire(triggerRetry); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("cannot retry from state %s", s.stateLocked())
	}
	s.cleanupAttemptLocked()
	s.params = nil
	s.invoice = ""
	s.expiresAt = nil
	s.errMsg = ""
	s.warning = ""
	s.mode = ""
	gen, ctx := s.newAttemptLocked()
	s.mu.Unlock()

	s.watcher.Reset()
	s.publish()
	go s.generate(ctx, gen)
	return nil
}

// Cancel abandons the session. Valid from every state except confirmed.
func (s *Session) Cancel() error {
	s.mu.Lock()
	if err := s.machine.Fire(triggerCancel); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("cannot cancel from state %s", s.stateLocked())
	}
	s.cleanupAttemptLocked()
	s.mu.Unlock()

	s.watcher.Reset()
	s.deps.Reader.Stop()
	s.publish()
	return nil
}

// newAttemptLocked bumps the attempt generation and hands out its context.
func (s *Session) newAttemptLocked() (int, context.Context) {
	s.attempt++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	return s.attempt, ctx
}

func (s *Session) cleanupAttemptLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.countdown != nil {
		s.countdown.Stop()
		s.countdown = nil
	}
}

func (s *Session) current(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.attempt
}

// generate runs the loading sequence. The order of steps is load-bearing:
// resolution before zap request before invoice before watcher.
func (s *Session) generate(ctx context.Context, gen int) {
	params, err := s.resolveDestination(ctx, gen)
	if err != nil {
		s.fail(gen, err)
		return
	}
	if !s.current(gen) {
		return
	}

	if !params.SupportsZaps() {
		s.generateWithoutZaps(ctx, gen, params)
		return
	}

	// Best-effort zap request: a signing failure must not block checkout.
	nostrParam := ""
	enc, err := zap.BuildRequest(zap.RequestParams{
		AmountMsat:      s.amountMsat,
		RecipientPubkey: params.NostrPubkey,
		Relays:          s.deps.Relays,
		Content:         fmt.Sprintf("POS payment for order %s", s.id),
	}, s.deps.Signer)
	if err != nil {
		log.Printf("[ORDER] %s: zap request skipped: %v", s.id, err)
	} else {
		nostrParam = enc
	}

	inv, err := s.deps.Invoices.FetchInvoice(ctx, params.Callback, s.amountMsat, nostrParam, "")
	if err != nil {
		s.fail(gen, err)
		return
	}

	s.becomeReady(ctx, gen, ModeZap, inv.PR, params.NostrPubkey)
}

// generateWithoutZaps handles destinations without NIP-57 support: try the
// proxy wallet, and when that is unavailable fall through to a direct
// invoice in degraded, merchant-observed mode.
func (s *Session) generateWithoutZaps(ctx context.Context, gen int, params *lnaddr.PayParams) {
	wallet, err := s.deps.Proxy.CreateWallet(ctx)
	if err != nil {
		if !errors.Is(err, proxy.ErrProxyNotAvailable) {
			s.fail(gen, err)
			return
		}
		log.Printf("[ORDER] %s: proxy unavailable, using direct LNURL without receipt correlation", s.id)
		inv, err := s.deps.Invoices.FetchInvoice(ctx, params.Callback, s.amountMsat, "", "")
		if err != nil {
			s.fail(gen, err)
			return
		}
		s.becomeReady(ctx, gen, ModeDegraded, inv.PR, "")
		return
	}

	bolt11, err := wallet.InvoiceCallback(ctx, s.amountMsat)
	if err != nil {
		wallet.Dispose()
		s.fail(gen, err)
		return
	}

	destination := s.destination
	amountMsat := s.amountMsat
	wallet.OnPayment(func(p proxy.Payment) {
		forwarded, err := wallet.Forward(context.Background(), destination, amountMsat)
		if err != nil || !forwarded {
			// Funds are custodied in the disposable wallet; the operator
			// must see this.
			log.Printf("[ORDER] %s: proxy forward to %s FAILED: %v", s.id, destination, err)
			s.warn(gen, "payment received but forwarding to the destination failed")
		}
		wallet.Dispose()
		s.confirmFromProxy(gen, p)
	})

	s.becomeReady(ctx, gen, ModeProxy, bolt11, "")
}

// resolveDestination returns the cached LNURL params for this attempt, or
// resolves them. Retry discards the cache before calling.
func (s *Session) resolveDestination(ctx context.Context, gen int) (*lnaddr.PayParams, error) {
	s.mu.Lock()
	if s.params != nil {
		p := s.params
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	params, err := s.deps.Resolver.ResolveLNURL(ctx, s.destination)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if gen == s.attempt {
		s.params = params
	}
	s.mu.Unlock()
	return params, nil
}

// becomeReady publishes the invoice, arms the countdown, and, when a
// recipient pubkey exists, starts the watcher. The card-tap listener is
// opportunistic and never fatal.
func (s *Session) becomeReady(ctx context.Context, gen int, mode Mode, bolt11, recipientPubkey string) {
	s.mu.Lock()
	if gen != s.attempt {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Fire(triggerReady); err != nil {
		s.mu.Unlock()
		return
	}
	s.mode = mode
	s.invoice = bolt11
	exp := time.Now().Add(s.deps.InvoiceTimeout)
	s.expiresAt = &exp
	s.countdown = time.AfterFunc(s.deps.InvoiceTimeout, func() { s.expire(gen) })
	s.mu.Unlock()

	if recipientPubkey != "" {
		s.watcher.StartWaiting(recipientPubkey, s.deps.InvoiceTimeout)
	}
	if s.deps.Reader.Available() {
		if err := s.deps.Reader.Start(ctx, func(tap terminal.CardTap) {
			log.Printf("[ORDER] %s: card tap %s", s.id, tap.SerialNumber)
		}); err != nil {
			log.Printf("[ORDER] %s: card reader unavailable: %v", s.id, err)
		}
	}

	s.publish()
}

// expire fires when the countdown elapses first; the watcher is
// force-stopped, they do not share a clock.
func (s *Session) expire(gen int) {
	s.mu.Lock()
	if gen != s.attempt || s.stateLocked() != StateReady {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Fire(triggerExpire); err != nil {
		s.mu.Unlock()
		return
	}
	s.cleanupAttemptLocked()
	s.mu.Unlock()

	s.watcher.Reset()
	s.deps.Reader.Stop()
	s.publish()
}

func (s *Session) fail(gen int, err error) {
	s.mu.Lock()
	if gen != s.attempt {
		s.mu.Unlock()
		return
	}
	if fireErr := s.machine.Fire(triggerFail); fireErr != nil {
		s.mu.Unlock()
		return
	}
	s.errMsg = err.Error()
	s.cleanupAttemptLocked()
	s.mu.Unlock()

	s.watcher.Reset()
	s.deps.Reader.Stop()
	s.publish()
}

func (s *Session) warn(gen int, msg string) {
	s.mu.Lock()
	if gen == s.attempt {
		s.warning = msg
	}
	s.mu.Unlock()
}

// onWatcherChange translates watcher terminal states upward: confirmed
// confirms the order, a watcher error aborts to error rather than leaving
// the display ambiguously ready.
func (s *Session) onWatcherChange(status PayStatus, receipt *ZapReceipt) {
	switch status {
	case PayConfirmed:
		s.confirm()
	case PayError:
		s.mu.Lock()
		gen := s.attempt
		s.mu.Unlock()
		s.fail(gen, errors.New("payment monitoring failed: relays unreachable"))
	}
}

func (s *Session) confirm() {
	s.mu.Lock()
	if s.stateLocked() != StateReady {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Fire(triggerConfirm); err != nil {
		s.mu.Unlock()
		return
	}
	s.cleanupAttemptLocked()
	s.mu.Unlock()

	s.deps.Reader.Stop()
	s.printReceipt()
	s.publish()
}

// printReceipt is best-effort; a dead printer never blocks the sale.
func (s *Session) printReceipt() {
	if !s.deps.Printer.Available() {
		return
	}
	err := s.deps.Printer.Print(terminal.Receipt{
		OrderID:     s.id,
		AmountSats:  s.amountSats,
		Destination: s.destination,
		Timestamp:   time.Now().Unix(),
	})
	if err != nil {
		log.Printf("[ORDER] %s: receipt print failed: %v", s.id, err)
	}
}

// confirmFromProxy confirms on inbound settlement to the disposable wallet;
// there is no receipt in this mode.
func (s *Session) confirmFromProxy(gen int, p proxy.Payment) {
	s.mu.Lock()
	if gen != s.attempt || s.stateLocked() != StateReady {
		s.mu.Unlock()
		return
	}
	if err := s.machine.Fire(triggerConfirm); err != nil {
		s.mu.Unlock()
		return
	}
	s.cleanupAttemptLocked()
	s.mu.Unlock()

	s.deps.Reader.Stop()
	s.printReceipt()
	s.publish()
}

func (s *Session) publish() {
	if s.deps.OnUpdate == nil {
		return
	}
	s.deps.OnUpdate(s.Snapshot())
}
