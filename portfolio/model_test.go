package portfolio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	ptf "github.com/taxlot/taxlot/portfolio"
)

func TestParseTxKind(t *testing.T) {
	rq := require.New(t)

	for s, exp := range map[string]ptf.TxKind{
		"Buy":            ptf.BUY,
		"sell":           ptf.SELL,
		"Verkauf":        ptf.SELL,
		"Dividende":      ptf.DIVIDEND,
		"fx_buy":         ptf.FX_BUY,
		"FX Sell":        ptf.FX_SELL,
		"FxExchange":     ptf.FX_EXCHANGE,
		"Transfer-In":    ptf.TRANSFER_IN,
		"TRANSFER_OUT":   ptf.TRANSFER_OUT,
		"cost":           ptf.FEE,
		"Stock Dividend": ptf.STOCK_DIVIDEND,
		" Withdrawal ":   ptf.WITHDRAWAL,
	} {
		kind, err := ptf.ParseTxKind(s)
		rq.NoError(err, s)
		rq.Equal(exp, kind, s)
	}

	kind, err := ptf.ParseTxKind("Split")
	rq.ErrorContains(err, "Unknown transaction kind: 'Split'")
	rq.Equal(ptf.NO_KIND, kind)

	rq.Equal("FxExchange", ptf.FX_EXCHANGE.String())
	rq.Equal("StockDividend", ptf.STOCK_DIVIDEND.String())
}

func TestParseAssetType(t *testing.T) {
	rq := require.New(t)

	for s, exp := range map[string]ptf.AssetType{
		"Stock":        ptf.STOCK,
		"aktie":        ptf.STOCK,
		"common_stock": ptf.STOCK,
		"ETF":          ptf.ETF,
		"Mutual-Fund":  ptf.MUTUAL_FUND,
		"Anleihe":      ptf.BOND,
		"crypto":       ptf.CRYPTO,
		"currency":     ptf.FX,
		"":             ptf.UNKNOWN,
		"spaceship":    ptf.UNKNOWN,
	} {
		rq.Equal(exp, ptf.ParseAssetType(s), s)
	}
}

func TestTxAssetKey(t *testing.T) {
	rq := require.New(t)

	rq.Equal(ptf.AssetKey("TICKER:ACME"),
		TTx{Date: "2023-01-01", Kind: ptf.BUY}.X().AssetKey())
	rq.Equal(ptf.AssetKey("ISIN:US0378331005"),
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Isin: "US0378331005"}.X().AssetKey())
	// A blank ISIN does not count.
	rq.Equal(ptf.TickerKey("ACME"),
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Isin: "  "}.X().AssetKey())
}

func TestTxGrossAmount(t *testing.T) {
	crq := NewCustomRequire(t)

	crq.DecEqual("1001", TTx{Kind: ptf.BUY, Date: "2023-01-01", Total: DInt(-1001)}.X().GrossAmount())
	crq.DecEqual("1001",
		TTx{Kind: ptf.BUY, Date: "2023-01-01", Qty: DInt(100), Price: DInt(10), Fees: DInt(1)}.X().GrossAmount())
	crq.DecEqual("1799",
		TTx{Kind: ptf.SELL, Date: "2023-01-01", Qty: DInt(120), Price: DInt(15), Fees: DInt(1)}.X().GrossAmount())
	crq.DecEqual("20",
		TTx{Kind: ptf.DIVIDEND, Date: "2023-01-01", Qty: DInt(100), Price: DStr("0.2")}.X().GrossAmount())
}

func TestSortTxsIsStable(t *testing.T) {
	rq := require.New(t)

	txs := TTxs(
		TTx{Date: "2023-02-01", Kind: ptf.SELL, Qty: DInt(1)},
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Qty: DInt(1)},
		TTx{Date: "2023-02-01", Kind: ptf.BUY, Qty: DInt(2)},
		TTx{Date: "2023-01-01", Kind: ptf.DIVIDEND},
	)
	ptf.SortTxs(txs)
	kinds := []ptf.TxKind{}
	for _, tx := range txs {
		kinds = append(kinds, tx.Kind)
	}
	rq.Equal([]ptf.TxKind{ptf.BUY, ptf.DIVIDEND, ptf.SELL, ptf.BUY}, kinds)
}
