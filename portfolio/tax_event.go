package portfolio

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
)

const DefaultHoldingThresholdDays = 365

// TaxEvent is one realized disposal or income occurrence, in base currency.
// Events are values and are never modified once emitted.
type TaxEvent struct {
	ID        string    `json:"event_id"`
	// The asset key for securities, or "FX:<currency>" for currency lots.
	AssetID   string    `json:"asset_identifier"`
	Ticker    string    `json:"ticker,omitempty"`
	ISIN      string    `json:"isin,omitempty"`
	Name      string    `json:"name,omitempty"`
	AssetType AssetType `json:"asset_type"`

	DateSold     date.Date `json:"date_sold"`
	DateAcquired date.Date `json:"date_acquired"`

	QuantitySold      decimal.Decimal `json:"quantity_sold"`
	ProceedsBase      decimal.Decimal `json:"proceeds_base"`
	CostBasisBase     decimal.Decimal `json:"cost_basis_base"`
	RealizedGain      decimal.Decimal `json:"realized_gain"`
	HoldingPeriodDays int             `json:"holding_period_days"`

	Method         MatchingMethod  `json:"lot_matching_method"`
	LotIDs         []string        `json:"lot_ids"`
	SaleCurrency   Currency        `json:"sale_currency"`
	SaleFxRate     decimal.Decimal `json:"sale_fx_rate"`
	TaxAlreadyPaid decimal.Decimal `json:"tax_already_paid"`

	// Currency events only. Amounts are in FeeCurrency.
	FeeAmount    decimal.Decimal `json:"fee_amount"`
	FeeCurrency  Currency        `json:"fee_currency,omitempty"`
	FeesFromLots decimal.Decimal `json:"fees_from_lots"`

	Notes string `json:"notes"`
}

func fxAssetID(c Currency) string {
	return "FX:" + c.String()
}

func (e *TaxEvent) IsIncome() bool {
	return e.Method == SPECIFIC_ID
}

func (e *TaxEvent) IsShortTerm(thresholdDays int) bool {
	return e.HoldingPeriodDays <= thresholdDays
}

func (e *TaxEvent) IsLongTerm(thresholdDays int) bool {
	return e.HoldingPeriodDays > thresholdDays
}

func (e TaxEvent) String() string {
	return fmt.Sprintf("TaxEvent(%s %s %s sold=%s gain=%s)",
		e.ID, e.AssetID, e.DateSold, e.QuantitySold, e.RealizedGain.StringFixed(2))
}

var EventRecordHeader = []string{
	"event_id", "asset_identifier", "asset_type", "date_sold", "date_acquired",
	"quantity_sold", "proceeds_base", "cost_basis_base", "realized_gain",
	"holding_period_days", "lot_matching_method", "sale_currency", "sale_fx_rate",
	"tax_already_paid", "notes",
}

// Record renders the event as an export row, in EventRecordHeader order.
// Decimals are written in full, never in exponent form.
func (e *TaxEvent) Record() []string {
	return []string{
		e.ID,
		e.AssetID,
		string(e.AssetType),
		e.DateSold.String(),
		e.DateAcquired.String(),
		e.QuantitySold.String(),
		e.ProceedsBase.String(),
		e.CostBasisBase.String(),
		e.RealizedGain.String(),
		fmt.Sprintf("%d", e.HoldingPeriodDays),
		e.Method.String(),
		e.SaleCurrency.String(),
		e.SaleFxRate.String(),
		e.TaxAlreadyPaid.String(),
		e.Notes,
	}
}
