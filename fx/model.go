package fx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
)

// ErrNoRate is matched (via errors.Is) by every failure to resolve a rate.
var ErrNoRate = errors.New("no exchange rate")

// Oracle resolves the official conversion rate for a currency pair on a day.
//
// The returned rate converts one unit of `from` into `to`. Implementations
// must return a positive rate or an error, and exactly 1 for same-currency
// pairs. A missing rate is never defaulted.
type Oracle interface {
	Rate(d date.Date, from, to string) (decimal.Decimal, error)
}

// DailyRate is the official value of one unit of Currency in the base
// currency on Date.
type DailyRate struct {
	Date              date.Date
	Currency          string
	ForeignToBaseRate decimal.Decimal
}

func (r DailyRate) Equal(other DailyRate) bool {
	return r.Date.Equal(other.Date) && r.Currency == other.Currency &&
		r.ForeignToBaseRate.Equal(other.ForeignToBaseRate)
}

func (r DailyRate) String() string {
	return fmt.Sprintf("%s %s : %s", r.Date.String(), r.Currency, r.ForeignToBaseRate)
}

// MissingRateError reports a (date, currency) for which no official rate is
// known. Before/After carry the nearest known rates, if any, as a hint.
type MissingRateError struct {
	Date     date.Date
	Currency string
	Before   *DailyRate
	After    *DailyRate
}

func (e *MissingRateError) Error() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Unable to retrieve %s exchange rate for %s", e.Currency, e.Date))
	if e.Before != nil || e.After != nil {
		builder.WriteString(". Nearest known rates:")
		if e.Before != nil {
			builder.WriteString(" ")
			builder.WriteString(e.Before.String())
		}
		if e.After != nil {
			builder.WriteString(" ")
			builder.WriteString(e.After.String())
		}
	}
	return builder.String()
}

func (e *MissingRateError) Is(target error) bool {
	return target == ErrNoRate
}

func normCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

func pairKey(d date.Date, from, to string) string {
	return from + "/" + to + "@" + d.String()
}
