package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"satspos/internal/models"
	"satspos/internal/repository"

	"github.com/google/uuid"
)

var ErrOrderNotFound = errors.New("order not found")

// SessionManager owns the live order sessions and mirrors their terminal
// outcomes into the sales ledger. Sessions are in-memory only; restarting
// the process abandons in-flight orders.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	rates    *RatesService
	orders   *repository.OrderRepository
	deps     SessionDeps
	merchant string
}

func NewSessionManager(rates *RatesService, orders *repository.OrderRepository, merchantAddress string, deps SessionDeps) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		rates:    rates,
		orders:   orders,
		deps:     deps,
		merchant: merchantAddress,
	}
}

// Create converts the fiat amount to sats, registers a new session, and
// starts its loading pipeline. destination defaults to the merchant's
// configured address.
func (m *SessionManager) Create(ctx context.Context, amount float64, currency, destination string) (*Session, error) {
	if destination == "" {
		destination = m.merchant
	}
	if destination == "" {
		return nil, errors.New("no destination address configured")
	}

	sats, err := m.rates.ToSats(ctx, amount, currency)
	if err != nil {
		return nil, fmt.Errorf("rate conversion: %w", err)
	}
	if sats <= 0 {
		return nil, errors.New("amount rounds to zero sats")
	}

	orderID := uuid.NewString()
	deps := m.deps
	userUpdate := deps.OnUpdate
	deps.OnUpdate = func(snap Snapshot) {
		m.persist(snap)
		if userUpdate != nil {
			userUpdate(snap)
		}
	}

	sess := NewSession(orderID, sats, currency, amount, destination, deps)

	m.mu.Lock()
	m.sessions[orderID] = sess
	m.mu.Unlock()

	if m.orders != nil {
		err := m.orders.Create(&models.Order{
			OrderID:     orderID,
			AmountSats:  sats,
			AmountMsat:  sats * 1000,
			Currency:    currency,
			FiatAmount:  amount,
			Destination: destination,
			State:       strings.ToUpper(string(StateLoading)),
		})
		if err != nil {
			log.Printf("[ORDER] %s: persist failed: %v", orderID, err)
		}
	}

	sess.Start()
	return sess, nil
}

func (m *SessionManager) Get(orderID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return sess, nil
}

func (m *SessionManager) Retry(orderID string) error {
	sess, err := m.Get(orderID)
	if err != nil {
		return err
	}
	return sess.Retry()
}

func (m *SessionManager) Cancel(orderID string) error {
	sess, err := m.Get(orderID)
	if err != nil {
		return err
	}
	return sess.Cancel()
}

// persist mirrors a snapshot into the orders table. Best effort: the live
// session is the source of truth, the row is the ledger.
func (m *SessionManager) persist(snap Snapshot) {
	if m.orders == nil {
		return
	}
	order, err := m.orders.GetByOrderID(snap.OrderID)
	if err != nil {
		return
	}
	order.State = strings.ToUpper(string(snap.State))
	order.Mode = string(snap.Mode)
	order.Bolt11 = snap.Invoice
	if snap.Receipt != nil {
		order.ReceiptID = snap.Receipt.ID
		order.ReceiptAmountMsat = snap.Receipt.AmountMsat
		order.PayerPubkey = snap.Receipt.PayerPubkey
		now := time.Now()
		order.PaidAt = &now
	}
	if err := m.orders.Update(order); err != nil {
		log.Printf("[ORDER] %s: update failed: %v", snap.OrderID, err)
	}
}

// CurrentSnapshot returns the live snapshot for a display that connects
// mid-session.
func (m *SessionManager) CurrentSnapshot(orderID string) (interface{}, bool) {
	sess, err := m.Get(orderID)
	if err != nil {
		return nil, false
	}
	return sess.Snapshot(), true
}

// Sales lists finished orders for the till report.
func (m *SessionManager) Sales(limit int) ([]models.Order, error) {
	if m.orders == nil {
		return nil, nil
	}
	return m.orders.ListSales(limit)
}
