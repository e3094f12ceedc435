package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
)

const weightedAverageNote = "Calculated using weighted average cost basis"

// weightedAverageStrategy keeps each pool as a single merged lot, dated by
// its earliest contributing acquisition.
type weightedAverageStrategy struct{}

func (weightedAverageStrategy) isStrategy() {}

func (weightedAverageStrategy) Method() MatchingMethod {
	return WEIGHTED_AVERAGE
}

// mergeSecurityLots pools lots into one. CostBasis already includes fees, so
// FeesBase is summed only to keep track of the fee portion.
func mergeSecurityLots(ctx *MatchContext, lots []SecurityLot) SecurityLot {
	if len(lots) == 1 {
		return lots[0]
	}
	merged := SecurityLot{
		ID:        ctx.ids.lotID(),
		AssetKey:  lots[0].AssetKey,
		Ticker:    lots[0].Ticker,
		ISIN:      lots[0].ISIN,
		Name:      lots[0].Name,
		AssetType: lots[0].AssetType,
		// The merged basis is a base currency amount.
		Currency: ctx.Base,
		FxRate:   decimal.NewFromInt(1),

		AcquisitionDate: lots[0].AcquisitionDate,
	}
	for _, lot := range lots {
		merged.Quantity = merged.Quantity.Add(lot.Quantity)
		merged.CostBasis = merged.CostBasis.Add(lot.CostBasis)
		merged.FeesBase = merged.FeesBase.Add(lot.FeesBase)
		merged.AcquisitionDate = date.Min(merged.AcquisitionDate, lot.AcquisitionDate)
	}
	merged.OriginalQuantity = merged.Quantity
	return merged
}

func (weightedAverageStrategy) HandleBuy(ctx *MatchContext, tx *Tx, pool []SecurityLot) ([]SecurityLot, error) {
	lot, err := newSecurityLot(ctx, tx)
	if err != nil {
		return pool, err
	}
	merged := mergeSecurityLots(ctx, append(cloneSecurityPool(pool), lot))
	ctx.Logger.Debug("Weighted average buy", "asset", merged.AssetKey, "lot", merged.ID,
		"quantity", merged.Quantity, "costBasis", merged.CostBasis)
	return []SecurityLot{merged}, nil
}

func (s weightedAverageStrategy) MatchSell(ctx *MatchContext, tx *Tx, pool []SecurityLot) (
	[]TaxEvent, []SecurityLot, error) {

	if !tx.Quantity.IsPositive() {
		ctx.Logger.Warn("Ignoring sell with no quantity", "tx", tx.String())
		return nil, pool, nil
	}
	if len(pool) == 0 {
		ctx.Logger.Warn("Orphaned sell: no open lots",
			"asset", tx.AssetKey(), "date", tx.Date.String(), "requested", tx.Quantity.String())
		return nil, pool, nil
	}
	rate, err := ctx.officialRate(tx)
	if err != nil {
		return nil, pool, err
	}

	merged := mergeSecurityLots(ctx, pool)
	if merged.Exhausted() {
		ctx.Logger.Warn("Orphaned sell: pool is exhausted",
			"asset", tx.AssetKey(), "date", tx.Date.String(), "requested", tx.Quantity.String())
		return nil, nil, nil
	}

	taken := decimal.Min(tx.Quantity, merged.Quantity)
	if unmatched := tx.Quantity.Sub(taken); unmatched.GreaterThan(SecurityDust) {
		ctx.Logger.Warn("Orphaned sell: selling more than available",
			"asset", tx.AssetKey(), "date", tx.Date.String(),
			"requested", tx.Quantity.String(), "unmatched", unmatched.String())
	}
	cost := merged.CostBasis.Mul(taken).Div(merged.Quantity)
	fees := merged.FeesBase.Mul(taken).Div(merged.Quantity)

	event := saleEvent(tx, s.Method(), rate)
	event.ID = ctx.ids.eventID(saleEventPrefix, tx.Date)
	event.DateAcquired = merged.AcquisitionDate
	event.QuantitySold = taken
	event.ProceedsBase = tx.GrossAmount().Mul(rate).Mul(taken).Div(tx.Quantity)
	event.CostBasisBase = cost
	event.LotIDs = []string{merged.ID}
	event.TaxAlreadyPaid = tx.WithholdingTax.Mul(rate).Mul(taken).Div(tx.Quantity)
	event.Notes = weightedAverageNote
	finishEvent(&event)

	merged.Quantity = merged.Quantity.Sub(taken)
	merged.CostBasis = clampNonNegative(merged.CostBasis.Sub(cost))
	merged.FeesBase = clampNonNegative(merged.FeesBase.Sub(fees))
	return []TaxEvent{event}, dropExhaustedLots([]SecurityLot{merged}), nil
}

func mergeCurrencyLots(ctx *MatchContext, lots []CurrencyLot) CurrencyLot {
	if len(lots) == 1 {
		return lots[0]
	}
	merged := CurrencyLot{
		ID:              ctx.ids.lotID(),
		Currency:        lots[0].Currency,
		FeeCurrency:     lots[0].FeeCurrency,
		AcquisitionDate: lots[0].AcquisitionDate,
	}
	for _, lot := range lots {
		merged.Amount = merged.Amount.Add(lot.Amount)
		merged.AmountGross = merged.AmountGross.Add(lot.AmountGross)
		merged.AmountNet = merged.AmountNet.Add(lot.AmountNet)
		merged.FeeAmount = merged.FeeAmount.Add(lot.FeeAmount)
		merged.CostBasis = merged.CostBasis.Add(lot.CostBasis)
		merged.AcquisitionDate = date.Min(merged.AcquisitionDate, lot.AcquisitionDate)
	}
	if merged.Amount.IsPositive() {
		merged.RateAtPurchase = merged.CostBasis.Div(merged.Amount)
	}
	return merged
}

func (weightedAverageStrategy) HandleFxBuy(ctx *MatchContext, tx *Tx, pool []CurrencyLot) ([]CurrencyLot, error) {
	lot, err := newCurrencyLot(ctx, tx)
	if err != nil {
		return pool, err
	}
	merged := mergeCurrencyLots(ctx, append(cloneCurrencyPool(pool), lot))
	ctx.Logger.Debug("Weighted average FX buy", "currency", merged.Currency, "lot", merged.ID,
		"amount", merged.Amount, "costBasis", merged.CostBasis)
	return []CurrencyLot{merged}, nil
}

func (s weightedAverageStrategy) MatchFxSell(ctx *MatchContext, tx *Tx, pool []CurrencyLot) (
	[]TaxEvent, []CurrencyLot, error) {

	sale, err := newFxSale(ctx, tx)
	if err != nil {
		return nil, pool, err
	}
	if !sale.consumed.IsPositive() {
		ctx.Logger.Warn("Ignoring FX sell with no amount", "tx", tx.String())
		return nil, pool, nil
	}
	if len(pool) == 0 {
		ctx.Logger.Warn("Orphaned FX sell: no currency lots",
			"currency", sale.currency, "date", tx.Date.String(), "needed", sale.consumed.String())
		return nil, pool, nil
	}

	lot := mergeCurrencyLots(ctx, pool)
	if !lot.Amount.IsPositive() {
		ctx.Logger.Warn("Orphaned FX sell: currency pool is empty",
			"currency", sale.currency, "date", tx.Date.String(), "needed", sale.consumed.String())
		return nil, nil, nil
	}
	taken := decimal.Min(sale.consumed, lot.Amount)
	if shortfall := sale.consumed.Sub(taken); shortfall.GreaterThan(fxShortfallTolerance) {
		ctx.Logger.Warn("Orphaned FX sell: insufficient currency lots",
			"currency", sale.currency, "date", tx.Date.String(),
			"needed", sale.consumed.String(), "shortfall", shortfall.String())
	}
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

	lot.Amount = lot.Amount.Sub(taken)
	lot.CostBasis = clampNonNegative(lot.CostBasis.Sub(cost))
	lot.FeeAmount = clampNonNegative(lot.FeeAmount.Sub(fees))
	return []TaxEvent{event}, dropExhaustedCurrencyLots([]CurrencyLot{lot}), nil
}
