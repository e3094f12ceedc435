package portfolio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/fx"
	"github.com/taxlot/taxlot/log"
)

type MatchingMethod int

const (
	FIFO MatchingMethod = iota
	WEIGHTED_AVERAGE
	// Reserved for income events, which bypass lot matching.
	SPECIFIC_ID
)

func (m MatchingMethod) String() string {
	switch m {
	case FIFO:
		return "FIFO"
	case WEIGHTED_AVERAGE:
		return "WeightedAverage"
	case SPECIFIC_ID:
		return "SpecificID"
	}
	return fmt.Sprintf("MatchingMethod(%d)", int(m))
}

func (m MatchingMethod) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MatchingMethod) UnmarshalText(text []byte) error {
	parsed, ok := ParseMatchingMethod(string(text))
	if !ok {
		return fmt.Errorf("Invalid matching method '%s'", text)
	}
	*m = parsed
	return nil
}

// ParseMatchingMethod resolves a strategy name. Unknown names resolve to FIFO
// with ok=false, so callers can decide whether to reject them.
func ParseMatchingMethod(name string) (MatchingMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fifo":
		return FIFO, true
	case "weightedaverage", "weighted_average", "weighted-average", "wa", "average":
		return WEIGHTED_AVERAGE, true
	case "specificid", "specific_id":
		return SPECIFIC_ID, true
	}
	return FIFO, false
}

// Strategy is a lot matching discipline. Pools are passed by value and the
// updated pool is returned; the caller's slice is never modified.
type Strategy interface {
	Method() MatchingMethod
	HandleBuy(ctx *MatchContext, tx *Tx, pool []SecurityLot) ([]SecurityLot, error)
	MatchSell(ctx *MatchContext, tx *Tx, pool []SecurityLot) ([]TaxEvent, []SecurityLot, error)
	HandleFxBuy(ctx *MatchContext, tx *Tx, pool []CurrencyLot) ([]CurrencyLot, error)
	MatchFxSell(ctx *MatchContext, tx *Tx, pool []CurrencyLot) ([]TaxEvent, []CurrencyLot, error)

	isStrategy()
}

// NewStrategy returns the strategy for m. SPECIFIC_ID is not a lot matching
// discipline and resolves to FIFO.
func NewStrategy(m MatchingMethod) Strategy {
	if m == WEIGHTED_AVERAGE {
		return weightedAverageStrategy{}
	}
	return fifoStrategy{}
}

var idNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("taxlot.lots"))

// idGen hands out identifiers derived only from a sequence number, so two
// replays of the same input name everything identically.
type idGen struct {
	seq uint64
}

func (g *idGen) next(kind string) uuid.UUID {
	g.seq++
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s/%d", kind, g.seq)))
}

func (g *idGen) lotID() string {
	return g.next("lot").String()
}

// eventID renders as <prefix>_<YYYYMMDD>_<8 hex digits>.
func (g *idGen) eventID(prefix string, d date.Date) string {
	u := g.next(prefix)
	return fmt.Sprintf("%s_%s_%s", prefix, d.Compact(), hex.EncodeToString(u[:4]))
}

const (
	saleEventPrefix   = "evt"
	fxEventPrefix     = "fx"
	incomeEventPrefix = "inc"
)

// MatchContext carries what strategies need besides the pool: the official
// rate source, the base currency, the logger and the id sequence.
type MatchContext struct {
	Oracle fx.Oracle
	Base   Currency
	Logger *slog.Logger

	ids idGen
}

func NewMatchContext(oracle fx.Oracle, base Currency, logger *slog.Logger) *MatchContext {
	if logger == nil {
		logger = log.Logger()
	}
	if base == "" {
		base = DefaultBaseCurrency
	}
	return &MatchContext{Oracle: oracle, Base: base, Logger: logger}
}

// txCurrency treats a missing currency as the base currency.
func (c *MatchContext) txCurrency(tx *Tx) Currency {
	if tx.Currency == "" {
		return c.Base
	}
	return tx.Currency
}

// officialRate is the oracle rate converting tx's currency into base on the
// tx date. A missing rate is an error, never a default.
func (c *MatchContext) officialRate(tx *Tx) (decimal.Decimal, error) {
	rate, err := c.Oracle.Rate(tx.Date, c.txCurrency(tx).String(), c.Base.String())
	if err != nil {
		return decimal.Zero, err
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: oracle returned non-positive rate %s for %s/%s on %s",
			fx.ErrNoRate, rate, c.txCurrency(tx), c.Base, tx.Date)
	}
	return rate, nil
}

func cloneSecurityPool(pool []SecurityLot) []SecurityLot {
	return append(make([]SecurityLot, 0, len(pool)+1), pool...)
}

func cloneCurrencyPool(pool []CurrencyLot) []CurrencyLot {
	return append(make([]CurrencyLot, 0, len(pool)+1), pool...)
}

// newSecurityLot opens a lot for a buy at the official rate of its date.
func newSecurityLot(ctx *MatchContext, tx *Tx) (SecurityLot, error) {
	rate, err := ctx.officialRate(tx)
	if err != nil {
		return SecurityLot{}, err
	}
	return SecurityLot{
		ID:               ctx.ids.lotID(),
		AssetKey:         tx.AssetKey(),
		Ticker:           tx.Ticker.OrElse(""),
		ISIN:             tx.ISIN.OrElse(""),
		Name:             tx.Name,
		AssetType:        tx.AssetType,
		AcquisitionDate:  tx.Date,
		Quantity:         tx.Quantity,
		OriginalQuantity: tx.Quantity,
		CostBasis:        tx.GrossAmount().Mul(rate),
		FeesBase:         tx.Fees.Mul(rate),
		Currency:         ctx.txCurrency(tx),
		FxRate:           rate,
	}, nil
}

// newCurrencyLot opens a lot for an FX buy. The fee is paid out of the
// currency bought, so only the net amount is trackable.
func newCurrencyLot(ctx *MatchContext, tx *Tx) (CurrencyLot, error) {
	rate, err := ctx.officialRate(tx)
	if err != nil {
		return CurrencyLot{}, err
	}
	gross := fxGrossAmount(tx)
	net := gross.Sub(tx.Fees)
	return CurrencyLot{
		ID:              ctx.ids.lotID(),
		Currency:        ctx.txCurrency(tx),
		Amount:          net,
		AmountGross:     gross,
		AmountNet:       net,
		FeeAmount:       tx.Fees,
		FeeCurrency:     ctx.txCurrency(tx),
		CostBasis:       gross.Mul(rate),
		AcquisitionDate: tx.Date,
		RateAtPurchase:  rate,
	}, nil
}

// saleEvent fills the fields shared by every disposal event of tx.
func saleEvent(tx *Tx, method MatchingMethod, rate decimal.Decimal) TaxEvent {
	return TaxEvent{
		AssetID:      tx.AssetKey().String(),
		Ticker:       tx.Ticker.OrElse(""),
		ISIN:         tx.ISIN.OrElse(""),
		Name:         tx.Name,
		AssetType:    tx.AssetType,
		DateSold:     tx.Date,
		Method:       method,
		SaleCurrency: tx.Currency,
		SaleFxRate:   rate,
		Notes:        "Sale",
	}
}

// fxEvent fills the fields shared by every currency disposal event of tx.
func fxEvent(ctx *MatchContext, tx *Tx, method MatchingMethod, rate decimal.Decimal) TaxEvent {
	ccy := ctx.txCurrency(tx)
	return TaxEvent{
		AssetID:      fxAssetID(ccy),
		Ticker:       "FX_" + ccy.String(),
		AssetType:    FX,
		DateSold:     tx.Date,
		Method:       method,
		SaleCurrency: ccy,
		SaleFxRate:   rate,
		FeeCurrency:  ccy,
		Notes:        "FX sale",
	}
}

func finishEvent(e *TaxEvent) {
	e.RealizedGain = e.ProceedsBase.Sub(e.CostBasisBase)
	e.HoldingPeriodDays = date.DaysBetween(e.DateAcquired, e.DateSold)
}
