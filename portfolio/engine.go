package portfolio

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/fx"
	"github.com/taxlot/taxlot/log"
	"github.com/taxlot/taxlot/util"
)

// ErrNotImplemented is matched by the error ProcessAll returns when the
// history contains transactions the engine cannot account for yet.
var ErrNotImplemented = errors.New("not implemented")

// TxError is a failure to process one transaction. Processing stops at the
// first one.
type TxError struct {
	Tx  *Tx
	Err error
}

func (e *TxError) Error() string {
	if e.Tx.ReadIndex > 0 {
		return fmt.Sprintf("Error processing %s (row %d): %v", e.Tx, e.Tx.ReadIndex, e.Err)
	}
	return fmt.Sprintf("Error processing %s: %v", e.Tx, e.Err)
}

func (e *TxError) Unwrap() error {
	return e.Err
}

type EngineOption func(*TaxBasisEngine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *TaxBasisEngine) {
		if logger != nil {
			e.ctx.Logger = logger
		}
	}
}

func WithBaseCurrency(base string) EngineOption {
	return func(e *TaxBasisEngine) {
		if base = strings.ToUpper(strings.TrimSpace(base)); base != "" {
			e.ctx.Base = Currency(base)
		}
	}
}

// TaxBasisEngine replays a transaction history through a matching strategy,
// maintaining a lot pool per asset and per foreign currency.
//
// An engine replays exactly once. To replay again, with the same or another
// history or strategy, construct a new engine.
type TaxBasisEngine struct {
	txs      []*Tx
	strategy Strategy
	ctx      *MatchContext

	lots          map[AssetKey][]SecurityLot
	currencyLots  map[Currency][]CurrencyLot
	events        []TaxEvent
	// FX exchanges, which have no handling yet.
	unimplemented []*Tx

	processed bool
	failed    bool
}

// NewTaxBasisEngine prepares a replay of txs. Unknown method names fall back
// to FIFO; validate names with ParseMatchingMethod beforehand to avoid this.
// txs is not modified.
func NewTaxBasisEngine(txs []*Tx, method string, oracle fx.Oracle, opts ...EngineOption) *TaxBasisEngine {
	e := &TaxBasisEngine{
		txs:          append([]*Tx(nil), txs...),
		ctx:          NewMatchContext(oracle, DefaultBaseCurrency, log.Logger()),
		lots:         make(map[AssetKey][]SecurityLot),
		currencyLots: make(map[Currency][]CurrencyLot),
	}
	for _, opt := range opts {
		opt(e)
	}
	m, ok := ParseMatchingMethod(method)
	if !ok {
		e.ctx.Logger.Warn("Unknown matching method, using FIFO", "method", method)
	}
	e.strategy = NewStrategy(m)
	SortTxs(e.txs)
	return e
}

func (e *TaxBasisEngine) Method() MatchingMethod {
	return e.strategy.Method()
}

func (e *TaxBasisEngine) BaseCurrency() Currency {
	return e.ctx.Base
}

// ProcessAll replays the whole history. It panics if called a second time.
//
// A rate failure stops the replay and returns a *TxError; the engine is then
// Failed and its partial state must not be used as a result. FX exchanges
// are skipped and reported together, after the replay completes, as an
// error matching ErrNotImplemented.
func (e *TaxBasisEngine) ProcessAll() error {
	util.Assert(!e.processed, "TaxBasisEngine.ProcessAll called twice. Construct a new engine to replay")
	e.processed = true

	e.ctx.Logger.Debug("Processing transactions",
		"count", len(e.txs), "method", e.strategy.Method().String(), "base", e.ctx.Base.String())
	for _, tx := range e.txs {
		if err := e.processTx(tx); err != nil {
			e.failed = true
			return &TxError{Tx: tx, Err: err}
		}
	}
	e.ctx.Logger.Debug("Generated tax events", "count", len(e.events))

	if len(e.unimplemented) > 0 {
		descs := make([]string, 0, len(e.unimplemented))
		for _, tx := range e.unimplemented {
			descs = append(descs, tx.String())
		}
		return fmt.Errorf("%w: %d FX exchange transaction(s) were not accounted for: %s",
			ErrNotImplemented, len(e.unimplemented), strings.Join(descs, "; "))
	}
	return nil
}

func (e *TaxBasisEngine) processTx(tx *Tx) error {
	log.Tracef("engine", "processTx %s", tx)
	var err error
	switch tx.Kind {
	case BUY:
		key := tx.AssetKey()
		e.lots[key], err = e.strategy.HandleBuy(e.ctx, tx, e.lots[key])
	case SELL:
		key := tx.AssetKey()
		var events []TaxEvent
		events, e.lots[key], err = e.strategy.MatchSell(e.ctx, tx, e.lots[key])
		e.events = append(e.events, events...)
		if len(e.lots[key]) == 0 {
			delete(e.lots, key)
		}
	case DIVIDEND, INTEREST:
		var event TaxEvent
		event, err = e.incomeEvent(tx)
		if err == nil {
			e.events = append(e.events, event)
		}
	case FX_BUY:
		ccy := e.ctx.txCurrency(tx)
		e.currencyLots[ccy], err = e.strategy.HandleFxBuy(e.ctx, tx, e.currencyLots[ccy])
	case FX_SELL:
		ccy := e.ctx.txCurrency(tx)
		var events []TaxEvent
		events, e.currencyLots[ccy], err = e.strategy.MatchFxSell(e.ctx, tx, e.currencyLots[ccy])
		e.events = append(e.events, events...)
		if len(e.currencyLots[ccy]) == 0 {
			delete(e.currencyLots, ccy)
		}
	case FX_EXCHANGE:
		// Neither a sequential sell and buy nor a cross-rate disposal is
		// assumed.
		e.ctx.Logger.Warn("FX exchange is not implemented, transaction not accounted for",
			"date", tx.Date.String(), "currency", tx.Currency.String(), "total", tx.Total.String())
		e.unimplemented = append(e.unimplemented, tx)
	case TRANSFER_IN, TRANSFER_OUT, FEE, DEPOSIT, WITHDRAWAL, STOCK_DIVIDEND:
		e.ctx.Logger.Debug("No cost basis effect", "kind", tx.Kind.String(), "date", tx.Date.String())
	default:
		util.Assertf(false, "Invalid transaction kind: %v", tx.Kind)
	}
	return err
}

// incomeRate is the rate for an income event: the one the broker applied
// when it reported one, otherwise the official rate.
func (e *TaxBasisEngine) incomeRate(tx *Tx) (decimal.Decimal, error) {
	if rate, err := tx.FxRate.Get(); err == nil && rate.IsPositive() {
		return rate, nil
	}
	if e.ctx.txCurrency(tx) == e.ctx.Base {
		return decimal.NewFromInt(1), nil
	}
	return e.ctx.officialRate(tx)
}

// incomeEvent records a dividend or interest payment. Income has no cost
// basis and no holding period, and touches no lots.
func (e *TaxBasisEngine) incomeEvent(tx *Tx) (TaxEvent, error) {
	rate, err := e.incomeRate(tx)
	if err != nil {
		return TaxEvent{}, err
	}
	proceeds := tx.GrossAmount().Mul(rate)
	assetID := tx.AssetKey().String()
	if !tx.ISIN.Present() && tx.Ticker.OrElse("") == "" {
		assetID = "CASH:" + e.ctx.txCurrency(tx).String()
	}
	event := TaxEvent{
		ID:             e.ctx.ids.eventID(incomeEventPrefix, tx.Date),
		AssetID:        assetID,
		Ticker:         tx.Ticker.OrElse(""),
		ISIN:           tx.ISIN.OrElse(""),
		Name:           tx.Name,
		AssetType:      tx.AssetType,
		DateSold:       tx.Date,
		DateAcquired:   tx.Date,
		QuantitySold:   decimal.Zero,
		ProceedsBase:   proceeds,
		CostBasisBase:  decimal.Zero,
		Method:         SPECIFIC_ID,
		SaleCurrency:   e.ctx.txCurrency(tx),
		SaleFxRate:     rate,
		TaxAlreadyPaid: tx.WithholdingTax.Mul(rate),
		Notes:          tx.Kind.String(),
	}
	finishEvent(&event)
	return event, nil
}

// Failed reports whether ProcessAll stopped on an error. The lots and events
// of a failed engine are a partial replay, and may not be read.
func (e *TaxBasisEngine) Failed() bool {
	return e.failed
}

func (e *TaxBasisEngine) assertComplete() {
	util.Assert(!e.failed, "TaxBasisEngine results read after a failed replay")
}

// RealizedEvents returns events sold within [start, end], either bound being
// optional, in emission order. Panics if the engine Failed.
func (e *TaxBasisEngine) RealizedEvents(start, end util.Optional[date.Date]) []TaxEvent {
	e.assertComplete()
	events := make([]TaxEvent, 0, len(e.events))
	for _, ev := range e.events {
		if s, ok := start.Get(); ok && ev.DateSold.Before(s) {
			continue
		}
		if en, ok := end.Get(); ok && ev.DateSold.After(en) {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// OpenLots returns a copy of the open lots of one asset, or of all assets
// ordered by asset key. Panics if the engine Failed.
func (e *TaxBasisEngine) OpenLots(key util.Optional[AssetKey]) []SecurityLot {
	e.assertComplete()
	if k, ok := key.Get(); ok {
		return append([]SecurityLot(nil), e.lots[k]...)
	}
	var all []SecurityLot
	for _, k := range util.SortedMapKeys(e.lots) {
		all = append(all, e.lots[k]...)
	}
	return all
}

// OpenCurrencyLots is OpenLots for the currency ledger.
func (e *TaxBasisEngine) OpenCurrencyLots(ccy util.Optional[Currency]) []CurrencyLot {
	e.assertComplete()
	if c, ok := ccy.Get(); ok {
		return append([]CurrencyLot(nil), e.currencyLots[c]...)
	}
	var all []CurrencyLot
	for _, c := range util.SortedMapKeys(e.currencyLots) {
		all = append(all, e.currencyLots[c]...)
	}
	return all
}

// Unimplemented returns the transactions skipped because their kind has no
// handling.
func (e *TaxBasisEngine) Unimplemented() []*Tx {
	return append([]*Tx(nil), e.unimplemented...)
}
