package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"
)

// fifoStrategy consumes the oldest lots first, emitting one event per lot
// touched.
type fifoStrategy struct{}

func (fifoStrategy) isStrategy() {}

func (fifoStrategy) Method() MatchingMethod {
	return FIFO
}

func (fifoStrategy) HandleBuy(ctx *MatchContext, tx *Tx, pool []SecurityLot) ([]SecurityLot, error) {
	lot, err := newSecurityLot(ctx, tx)
	if err != nil {
		return pool, err
	}
	ctx.Logger.Debug("FIFO buy", "asset", lot.AssetKey, "lot", lot.ID,
		"quantity", lot.Quantity, "costBasis", lot.CostBasis)
	return append(cloneSecurityPool(pool), lot), nil
}

func (s fifoStrategy) MatchSell(ctx *MatchContext, tx *Tx, pool []SecurityLot) (
	[]TaxEvent, []SecurityLot, error) {

	if !tx.Quantity.IsPositive() {
		ctx.Logger.Warn("Ignoring sell with no quantity", "tx", tx.String())
		return nil, pool, nil
	}
	rate, err := ctx.officialRate(tx)
	if err != nil {
		return nil, pool, err
	}
	proceedsTotal := tx.GrossAmount().Mul(rate)
	withheldTotal := tx.WithholdingTax.Mul(rate)

	lots := cloneSecurityPool(pool)
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].AcquisitionDate.Before(lots[j].AcquisitionDate)
	})

	remaining := tx.Quantity
	var events []TaxEvent
	for i := range lots {
		if !remaining.IsPositive() {
			break
		}
		lot := &lots[i]
		if lot.Exhausted() {
			continue
		}
		taken := decimal.Min(lot.Quantity, remaining)
		cost := lot.CostBasis.Mul(taken).Div(lot.Quantity)
		fees := lot.FeesBase.Mul(taken).Div(lot.Quantity)

		event := saleEvent(tx, s.Method(), rate)
		event.ID = ctx.ids.eventID(saleEventPrefix, tx.Date)
		event.DateAcquired = lot.AcquisitionDate
		event.QuantitySold = taken
		event.ProceedsBase = proceedsTotal.Mul(taken).Div(tx.Quantity)
		event.CostBasisBase = cost
		event.LotIDs = []string{lot.ID}
		event.TaxAlreadyPaid = withheldTotal.Mul(taken).Div(tx.Quantity)
		finishEvent(&event)
		events = append(events, event)

		lot.Quantity = lot.Quantity.Sub(taken)
		lot.CostBasis = clampNonNegative(lot.CostBasis.Sub(cost))
		lot.FeesBase = clampNonNegative(lot.FeesBase.Sub(fees))
		remaining = remaining.Sub(taken)
	}

	if remaining.GreaterThan(SecurityDust) {
		ctx.Logger.Warn("Orphaned sell: selling more than available",
			"asset", tx.AssetKey(), "date", tx.Date.String(),
			"requested", tx.Quantity.String(), "unmatched", remaining.String())
	}
	return events, dropExhaustedLots(lots), nil
}

func (fifoStrategy) HandleFxBuy(ctx *MatchContext, tx *Tx, pool []CurrencyLot) ([]CurrencyLot, error) {
	lot, err := newCurrencyLot(ctx, tx)
	if err != nil {
		return pool, err
	}
	ctx.Logger.Debug("FIFO FX buy", "currency", lot.Currency, "lot", lot.ID,
		"amount", lot.Amount, "costBasis", lot.CostBasis)
	return append(cloneCurrencyPool(pool), lot), nil
}

func (s fifoStrategy) MatchFxSell(ctx *MatchContext, tx *Tx, pool []CurrencyLot) (
	[]TaxEvent, []CurrencyLot, error) {

	sale, err := newFxSale(ctx, tx)
	if err != nil {
		return nil, pool, err
	}
	if !sale.consumed.IsPositive() {
		ctx.Logger.Warn("Ignoring FX sell with no amount", "tx", tx.String())
		return nil, pool, nil
	}

	lots := cloneCurrencyPool(pool)
	sort.SliceStable(lots, func(i, j int) bool {
		return lots[i].AcquisitionDate.Before(lots[j].AcquisitionDate)
	})

	remaining := sale.consumed
	var events []TaxEvent
	for i := range lots {
		if !remaining.IsPositive() {
			break
		}
		lot := &lots[i]
		if !lot.Amount.IsPositive() {
			continue
		}
		taken := decimal.Min(lot.Amount, remaining)
		cost := lot.CostBasis.Mul(taken).Div(lot.Amount)
		fees := lot.FeeAmount.Mul(taken).Div(lot.Amount)

		event := fxEvent(ctx, tx, s.Method(), sale.rate)
		event.ID = ctx.ids.eventID(fxEventPrefix, tx.Date)
		event.DateAcquired = lot.AcquisitionDate
		event.LotIDs = []string{lot.ID}
		event.CostBasisBase = cost
		event.FeesFromLots = fees
		sale.allocate(&event, taken)
		finishEvent(&event)
		events = append(events, event)

		lot.Amount = lot.Amount.Sub(taken)
		lot.CostBasis = clampNonNegative(lot.CostBasis.Sub(cost))
		lot.FeeAmount = clampNonNegative(lot.FeeAmount.Sub(fees))
		remaining = remaining.Sub(taken)
	}

	if remaining.GreaterThan(fxShortfallTolerance) {
		ctx.Logger.Warn("Orphaned FX sell: insufficient currency lots",
			"currency", sale.currency, "date", tx.Date.String(),
			"needed", sale.consumed.String(), "shortfall", remaining.String())
	}
	return events, dropExhaustedCurrencyLots(lots), nil
}

// fxSale is an FX sell resolved to base currency. The fee is paid in the
// currency sold, so lots are consumed for gross plus fee.
type fxSale struct {
	currency Currency
	rate     decimal.Decimal
	gross    decimal.Decimal
	fee      decimal.Decimal
	consumed decimal.Decimal
	proceeds decimal.Decimal
}

func fxGrossAmount(tx *Tx) decimal.Decimal {
	if !tx.Total.IsZero() {
		return tx.Total.Abs()
	}
	return tx.Quantity.Abs()
}

func newFxSale(ctx *MatchContext, tx *Tx) (*fxSale, error) {
	rate, err := ctx.officialRate(tx)
	if err != nil {
		return nil, err
	}
	gross := fxGrossAmount(tx)
	return &fxSale{
		currency: ctx.txCurrency(tx),
		rate:     rate,
		gross:    gross,
		fee:      tx.Fees,
		consumed: gross.Add(tx.Fees),
		proceeds: gross.Mul(rate),
	}, nil
}

// allocate sets the share of the sale attributable to `taken` units of
// consumption on e.
func (s *fxSale) allocate(e *TaxEvent, taken decimal.Decimal) {
	e.QuantitySold = s.gross.Mul(taken).Div(s.consumed)
	e.ProceedsBase = s.proceeds.Mul(taken).Div(s.consumed)
	e.FeeAmount = s.fee.Mul(taken).Div(s.consumed)
}
