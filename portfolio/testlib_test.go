package portfolio_test

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/markphelps/optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taxlot/taxlot/date"
	decimal_opt "github.com/taxlot/taxlot/decimal_value"
	"github.com/taxlot/taxlot/fx"
	ptf "github.com/taxlot/taxlot/portfolio"
	"github.com/taxlot/taxlot/util"
)

var DInt = decimal.NewFromInt
var DStr = decimal.RequireFromString

const DefaultTestTicker = "ACME"

func mkDate(s string) date.Date {
	return date.MustParse(s)
}

// Test Tx
type TTx struct {
	Date     string
	Kind     ptf.TxKind
	Ticker   string // Defaults to DefaultTestTicker for BUY/SELL/DIVIDEND
	Isin     string
	Qty      decimal.Decimal
	Price    decimal.Decimal
	Fees     decimal.Decimal
	Total    decimal.Decimal
	Curr     ptf.Currency // Defaults to USD
	FxRate   decimal_opt.DecimalOpt
	Withheld decimal.Decimal
}

func (t TTx) X() *ptf.Tx {
	tx := &ptf.Tx{
		Date:           mkDate(t.Date),
		Kind:           t.Kind,
		Name:           "Acme Corp",
		AssetType:      ptf.STOCK,
		Quantity:       t.Qty,
		Price:          t.Price,
		Fees:           t.Fees,
		Total:          t.Total,
		Currency:       util.Tern(t.Curr == "", ptf.USD, t.Curr),
		FxRate:         t.FxRate,
		WithholdingTax: t.Withheld,
	}
	ticker := t.Ticker
	if ticker == "" && (t.Kind == ptf.BUY || t.Kind == ptf.SELL || t.Kind == ptf.DIVIDEND) {
		ticker = DefaultTestTicker
	}
	if ticker != "" {
		tx.Ticker = optional.NewString(ticker)
	}
	if t.Isin != "" {
		tx.ISIN = optional.NewString(t.Isin)
	}
	return tx
}

func TTxs(ttxs ...TTx) []*ptf.Tx {
	txs := make([]*ptf.Tx, 0, len(ttxs))
	for _, t := range ttxs {
		txs = append(txs, t.X())
	}
	return txs
}

// The USD/EUR rates used throughout. No lookback, so a missing day fails.
func mkTestOracle(t *testing.T) *fx.RateTable {
	table := fx.NewRateTable("EUR", 0)
	require.NoError(t, table.AddAll([]fx.DailyRate{
		{Date: mkDate("2023-01-01"), Currency: "USD", ForeignToBaseRate: DStr("0.95")},
		{Date: mkDate("2023-02-01"), Currency: "USD", ForeignToBaseRate: DStr("0.95")},
		{Date: mkDate("2023-06-15"), Currency: "USD", ForeignToBaseRate: DStr("0.9")},
		{Date: mkDate("2024-03-01"), Currency: "USD", ForeignToBaseRate: DStr("0.92")},
		{Date: mkDate("2024-06-03"), Currency: "USD", ForeignToBaseRate: DStr("0.93")},
	}))
	return table
}

// Buy 100 @ $10 and 50 @ $12, then sell 120 @ $15. $1 fee on each.
func scenarioTxs() []*ptf.Tx {
	return TTxs(
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Qty: DInt(100), Price: DInt(10), Fees: DInt(1), Total: DInt(-1001)},
		TTx{Date: "2023-02-01", Kind: ptf.BUY, Qty: DInt(50), Price: DInt(12), Fees: DInt(1), Total: DInt(-601)},
		TTx{Date: "2024-03-01", Kind: ptf.SELL, Qty: DInt(120), Price: DInt(15), Fees: DInt(1), Total: DInt(1799)},
	)
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func processNoErr(t *testing.T, txs []*ptf.Tx, method string, opts ...ptf.EngineOption) *ptf.TaxBasisEngine {
	engine := ptf.NewTaxBasisEngine(txs, method, mkTestOracle(t), opts...)
	require.NoError(t, engine.ProcessAll())
	return engine
}

func allEvents(e *ptf.TaxBasisEngine) []ptf.TaxEvent {
	return e.RealizedEvents(util.None[date.Date](), util.None[date.Date]())
}

func allLots(e *ptf.TaxBasisEngine) []ptf.SecurityLot {
	return e.OpenLots(util.None[ptf.AssetKey]())
}

func allCurrencyLots(e *ptf.TaxBasisEngine) []ptf.CurrencyLot {
	return e.OpenCurrencyLots(util.None[ptf.Currency]())
}

// Use this instead of require.New if any type needing comparison has a custom
// Equal method (Decimal and Date for example).
type CustomRequire struct {
	t       *testing.T
	options cmp.Options
}

func NewCustomRequire(t *testing.T) *CustomRequire {
	return &CustomRequire{t, []cmp.Option{
		cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) }),
		cmp.Comparer(func(a, b date.Date) bool { return a.Equal(b) }),
	}}
}

func (rq *CustomRequire) Equal(expected, actual interface{}) {
	diff := cmp.Diff(expected, actual, rq.options)
	require.True(rq.t, diff == "", diff)
}

// DecEqual compares decimals by value, ignoring trailing zeros.
func (rq *CustomRequire) DecEqual(expected string, actual decimal.Decimal) {
	require.True(rq.t, DStr(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func (rq *CustomRequire) LinesEqual(expected, actual string) {
	expLines := strings.Split(expected, "\n")
	actLines := strings.Split(actual, "\n")
	diff := cmp.Diff(expLines, actLines, rq.options)
	require.True(rq.t, diff == "", diff)
}
