package fx

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
)

// EcbLookbackDays is how many previous days are tried when no rate was
// published on the requested day (weekends and TARGET holidays).
const EcbLookbackDays = 4

// How far around a missing day to search for rates to suggest in errors.
const surroundingSearchDays = 7

// RateTable holds official daily rates against a single base currency.
type RateTable struct {
	Base         string
	LookbackDays int

	rates map[string]map[date.Date]decimal.Decimal
}

func NewRateTable(base string, lookbackDays int) *RateTable {
	return &RateTable{
		Base:         normCurrency(base),
		LookbackDays: lookbackDays,
		rates:        make(map[string]map[date.Date]decimal.Decimal),
	}
}

// Add records a rate. Rates must be strictly positive.
func (t *RateTable) Add(r DailyRate) error {
	if !r.ForeignToBaseRate.IsPositive() {
		return fmt.Errorf("Invalid %s rate %s on %s: rates must be positive",
			r.Currency, r.ForeignToBaseRate, r.Date)
	}
	ccy := normCurrency(r.Currency)
	dayRates, ok := t.rates[ccy]
	if !ok {
		dayRates = make(map[date.Date]decimal.Decimal)
		t.rates[ccy] = dayRates
	}
	dayRates[r.Date] = r.ForeignToBaseRate
	return nil
}

// AddAll adds every rate, stopping at the first invalid one.
func (t *RateTable) AddAll(rates []DailyRate) error {
	for _, r := range rates {
		if err := t.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of (currency, date) entries.
func (t *RateTable) Len() int {
	n := 0
	for _, dayRates := range t.rates {
		n += len(dayRates)
	}
	return n
}

func (t *RateTable) tryGetSurroundingRates(d date.Date, ccy string) (beforeRate *DailyRate, afterRate *DailyRate) {
	dayRates := t.rates[ccy]
	for i := 1; i <= surroundingSearchDays; i++ {
		day := d.AddDays(-i)
		if rate, ok := dayRates[day]; ok {
			beforeRate = &DailyRate{day, ccy, rate}
			break
		}
	}
	for i := 1; i <= surroundingSearchDays; i++ {
		day := d.AddDays(i)
		if rate, ok := dayRates[day]; ok {
			afterRate = &DailyRate{day, ccy, rate}
			break
		}
	}
	return
}

func (t *RateTable) toBase(d date.Date, ccy string) (decimal.Decimal, error) {
	if ccy == t.Base {
		return decimal.NewFromInt(1), nil
	}
	dayRates := t.rates[ccy]
	for i := 0; i <= t.LookbackDays; i++ {
		if rate, ok := dayRates[d.AddDays(-i)]; ok {
			return rate, nil
		}
	}
	before, after := t.tryGetSurroundingRates(d, ccy)
	return decimal.Zero, &MissingRateError{Date: d, Currency: ccy, Before: before, After: after}
}

// Rate implements Oracle. Pairs not involving the base currency are derived
// through it.
func (t *RateTable) Rate(d date.Date, from, to string) (decimal.Decimal, error) {
	from, to = normCurrency(from), normCurrency(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	fromRate, err := t.toBase(d, from)
	if err != nil {
		return decimal.Zero, err
	}
	if to == t.Base {
		return fromRate, nil
	}
	toRate, err := t.toBase(d, to)
	if err != nil {
		return decimal.Zero, err
	}
	return fromRate.Div(toRate), nil
}

// StaticOracle answers only the exact (date, from, to) pairs it was given,
// and their inverses. There is no lookback and no derivation via a base.
type StaticOracle map[string]decimal.Decimal

func staticKey(d date.Date, from, to string) string {
	return pairKey(d, normCurrency(from), normCurrency(to))
}

// Set records the rate converting one unit of from into to on d.
func (o StaticOracle) Set(d date.Date, from, to string, rate decimal.Decimal) StaticOracle {
	o[staticKey(d, from, to)] = rate
	return o
}

func (o StaticOracle) Rate(d date.Date, from, to string) (decimal.Decimal, error) {
	if normCurrency(from) == normCurrency(to) {
		return decimal.NewFromInt(1), nil
	}
	if rate, ok := o[staticKey(d, from, to)]; ok && rate.IsPositive() {
		return rate, nil
	}
	if rate, ok := o[staticKey(d, to, from)]; ok && rate.IsPositive() {
		return decimal.NewFromInt(1).Div(rate), nil
	}
	return decimal.Zero, &MissingRateError{Date: d, Currency: normCurrency(from)}
}
