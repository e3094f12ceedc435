package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	decimal_opt "github.com/taxlot/taxlot/decimal_value"
)

// Lots with no more than this much remaining are exhausted and dropped from
// their pool.
var (
	SecurityDust = decimal.New(1, -8)
	CurrencyDust = decimal.New(1, -3)
)

// An FX sell short by more than this is reported as an oversell.
var fxShortfallTolerance = decimal.New(1, -2)

// SecurityLot is one acquisition of a security (or, under weighted average,
// the merged pool of all of them).
type SecurityLot struct {
	ID              string    `json:"lot_id"`
	AssetKey        AssetKey  `json:"asset_identifier"`
	Ticker          string    `json:"ticker,omitempty"`
	ISIN            string    `json:"isin,omitempty"`
	Name            string    `json:"name,omitempty"`
	AssetType       AssetType `json:"asset_type"`
	AcquisitionDate date.Date `json:"acquisition_date"`

	Quantity         decimal.Decimal `json:"quantity"`
	OriginalQuantity decimal.Decimal `json:"original_quantity"`
	// In base currency, including acquisition fees.
	CostBasis        decimal.Decimal `json:"cost_basis"`
	// The acquisition fees contained in CostBasis, in base currency.
	FeesBase         decimal.Decimal `json:"fees_base"`
	Currency         Currency        `json:"currency"`
	FxRate           decimal.Decimal `json:"fx_rate"`
}

func (l *SecurityLot) Exhausted() bool {
	return l.Quantity.LessThanOrEqual(SecurityDust)
}

// AverageCost is the base-currency cost per unit held. Null when empty.
func (l *SecurityLot) AverageCost() decimal_opt.DecimalOpt {
	return decimal_opt.New(l.CostBasis).Div(decimal_opt.New(l.Quantity))
}

func (l SecurityLot) String() string {
	return fmt.Sprintf("SecurityLot(%s, qty=%s, cost=%s, acquired=%s)",
		l.AssetKey, l.Quantity, l.CostBasis.StringFixed(2), l.AcquisitionDate)
}

// CurrencyLot is a holding of foreign currency. Fees are carried beside the
// cost basis rather than folded into it.
type CurrencyLot struct {
	ID              string          `json:"lot_id"`
	Currency        Currency        `json:"currency"`
	// Remaining trackable balance, net of fees.
	Amount          decimal.Decimal `json:"amount"`
	AmountGross     decimal.Decimal `json:"amount_gross"`
	AmountNet       decimal.Decimal `json:"amount_net"`
	FeeAmount       decimal.Decimal `json:"fee_amount"`
	FeeCurrency     Currency        `json:"fee_currency"`
	// Base currency paid for the lot.
	CostBasis       decimal.Decimal `json:"cost_basis"`
	AcquisitionDate date.Date       `json:"acquisition_date"`
	RateAtPurchase  decimal.Decimal `json:"rate_at_purchase"`
}

func (l *CurrencyLot) Exhausted() bool {
	return l.Amount.LessThanOrEqual(CurrencyDust)
}

func (l CurrencyLot) String() string {
	return fmt.Sprintf("CurrencyLot(%s, amount=%s, cost=%s, acquired=%s)",
		l.Currency, l.Amount.StringFixed(2), l.CostBasis.StringFixed(2), l.AcquisitionDate)
}

func dropExhaustedLots(pool []SecurityLot) []SecurityLot {
	out := make([]SecurityLot, 0, len(pool))
	for _, lot := range pool {
		if !lot.Exhausted() {
			out = append(out, lot)
		}
	}
	return out
}

func dropExhaustedCurrencyLots(pool []CurrencyLot) []CurrencyLot {
	out := make([]CurrencyLot, 0, len(pool))
	for _, lot := range pool {
		if !lot.Exhausted() {
			out = append(out, lot)
		}
	}
	return out
}

// clampNonNegative absorbs rounding residue at the exhaustion boundary.
func clampNonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
