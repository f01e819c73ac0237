package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"satspos/pkg/rates"
)

// RatesService caches per-satoshi exchange rates for 60 seconds and serves
// stale data rather than failing when the upstream is unreachable.
type RatesService struct {
	client *rates.Client
	ttl    time.Duration

	mu        sync.Mutex
	rates     map[string]float64
	timestamp int64
	expiresAt time.Time
	now       func() time.Time
}

func NewRatesService(client *rates.Client, ttl time.Duration) *RatesService {
	return &RatesService{client: client, ttl: ttl, now: time.Now}
}

// Get returns per-sat rates filtered to the requested currency codes (all
// when empty), the upstream timestamp, and whether the data is stale.
func (s *RatesService) Get(ctx context.Context, currencies []string) (map[string]float64, int64, bool, error) {
	s.mu.Lock()
	fresh := s.rates != nil && s.now().Before(s.expiresAt)
	s.mu.Unlock()

	if !fresh {
		fetched, ts, err := s.client.PerSatRates(ctx)
		if err != nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.rates != nil {
				return filterRates(s.rates, currencies), s.timestamp, true, nil
			}
			return nil, 0, false, fmt.Errorf("could not fetch rates: %w", err)
		}
		s.mu.Lock()
		s.rates = fetched
		s.timestamp = ts
		s.expiresAt = s.now().Add(s.ttl)
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return filterRates(s.rates, currencies), s.timestamp, false, nil
}

// ToSats converts a fiat amount to whole satoshis, rounded. SAT passes
// through unchanged. Conversion happens before invoice acquisition only;
// downstream everything is millisatoshis.
func (s *RatesService) ToSats(ctx context.Context, amount float64, currency string) (int64, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" || currency == "SAT" {
		return int64(math.Round(amount)), nil
	}
	all, _, _, err := s.Get(ctx, []string{currency})
	if err != nil {
		return 0, err
	}
	rate, ok := all[currency]
	if !ok || rate <= 0 {
		return 0, fmt.Errorf("no rate for currency %s", currency)
	}
	return int64(math.Round(amount / rate)), nil
}

func filterRates(all map[string]float64, currencies []string) map[string]float64 {
	if len(currencies) == 0 {
		out := make(map[string]float64, len(all))
		for k, v := range all {
			out[k] = v
		}
		return out
	}
	out := make(map[string]float64, len(currencies))
	for _, c := range currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if v, ok := all[c]; ok {
			out[c] = v
		}
	}
	return out
}
