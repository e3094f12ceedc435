package fx

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/log"
)

// FallbackOracle answers from Primary (the official source) and, only when
// that fails, from Fallback. Every degraded answer is logged and recorded so
// callers can flag results as not tax-compliant.
type FallbackOracle struct {
	Primary  Oracle
	Fallback Oracle
	Logger   *slog.Logger

	mu       sync.Mutex
	degraded []CachedRate
}

func NewFallbackOracle(primary, fallback Oracle) *FallbackOracle {
	return &FallbackOracle{Primary: primary, Fallback: fallback, Logger: log.Logger()}
}

func (o *FallbackOracle) Rate(d date.Date, from, to string) (decimal.Decimal, error) {
	rate, err := o.Primary.Rate(d, from, to)
	if err == nil || o.Fallback == nil {
		return rate, err
	}
	fbRate, fbErr := o.Fallback.Rate(d, from, to)
	if fbErr != nil {
		return decimal.Zero, fmt.Errorf("%w (fallback also failed: %v)", err, fbErr)
	}
	o.Logger.Warn("Official rate not available, using fallback rate (not tax-compliant)",
		"date", d.String(), "from", from, "to", to, "rate", fbRate.String(), "cause", err)
	o.mu.Lock()
	o.degraded = append(o.degraded, CachedRate{Date: d, From: from, To: to, Rate: fbRate})
	o.mu.Unlock()
	return fbRate, nil
}

// Degraded lists every lookup answered by the fallback, in call order.
func (o *FallbackOracle) Degraded() []CachedRate {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]CachedRate(nil), o.degraded...)
}
