// Package decimal_value wraps decimal.Decimal with an explicit null state, for
// inputs that may legitimately be absent (a broker that reports no FX rate is
// not the same as a broker reporting a rate of zero).
package decimal_value

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var Null = DecimalOpt{IsNull: true}

type DecimalOpt struct {
	Decimal decimal.Decimal
	IsNull  bool
}

func New(value decimal.Decimal) DecimalOpt {
	return DecimalOpt{Decimal: value}
}

func RequireFromString(value string) DecimalOpt {
	return DecimalOpt{Decimal: decimal.RequireFromString(value)}
}

// Present reports whether the value is non-null.
func (d DecimalOpt) Present() bool {
	return !d.IsNull
}

// Get returns the wrapped decimal, or an error when null.
func (d DecimalOpt) Get() (decimal.Decimal, error) {
	if d.IsNull {
		return decimal.Zero, fmt.Errorf("Decimal value is null")
	}
	return d.Decimal, nil
}

func (d DecimalOpt) Div(d2 DecimalOpt) DecimalOpt {
	if d.IsNull || d2.IsNull {
		return Null
	}
	if d2.Decimal.IsZero() {
		return Null
	}
	return DecimalOpt{Decimal: d.Decimal.Div(d2.Decimal)}
}

func (d DecimalOpt) String() string {
	if d.IsNull {
		return "NaN"
	}

	return d.Decimal.String()
}
