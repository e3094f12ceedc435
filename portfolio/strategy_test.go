package portfolio_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	ptf "github.com/taxlot/taxlot/portfolio"
)

func TestParseMatchingMethod(t *testing.T) {
	rq := require.New(t)

	for name, exp := range map[string]ptf.MatchingMethod{
		"FIFO":             ptf.FIFO,
		" fifo ":           ptf.FIFO,
		"WeightedAverage":  ptf.WEIGHTED_AVERAGE,
		"weighted_average": ptf.WEIGHTED_AVERAGE,
		"Weighted-Average": ptf.WEIGHTED_AVERAGE,
		"WA":               ptf.WEIGHTED_AVERAGE,
		"SpecificID":       ptf.SPECIFIC_ID,
	} {
		m, ok := ptf.ParseMatchingMethod(name)
		rq.True(ok, name)
		rq.Equal(exp, m, name)
	}

	m, ok := ptf.ParseMatchingMethod("LIFO")
	rq.False(ok)
	rq.Equal(ptf.FIFO, m)

	var parsed ptf.MatchingMethod
	rq.NoError(parsed.UnmarshalText([]byte("weightedaverage")))
	rq.Equal(ptf.WEIGHTED_AVERAGE, parsed)
	rq.Error(parsed.UnmarshalText([]byte("HIFO")))

	text, err := ptf.WEIGHTED_AVERAGE.MarshalText()
	rq.NoError(err)
	rq.Equal("WeightedAverage", string(text))
}

func TestNewStrategy(t *testing.T) {
	rq := require.New(t)
	rq.Equal(ptf.FIFO, ptf.NewStrategy(ptf.FIFO).Method())
	rq.Equal(ptf.WEIGHTED_AVERAGE, ptf.NewStrategy(ptf.WEIGHTED_AVERAGE).Method())
	// Income events are the only SPECIFIC_ID events; as a discipline it is FIFO.
	rq.Equal(ptf.FIFO, ptf.NewStrategy(ptf.SPECIFIC_ID).Method())
}

func TestStrategiesDoNotMutatePool(t *testing.T) {
	for _, m := range []ptf.MatchingMethod{ptf.FIFO, ptf.WEIGHTED_AVERAGE} {
		rq := require.New(t)
		crq := NewCustomRequire(t)
		strategy := ptf.NewStrategy(m)
		ctx := ptf.NewMatchContext(mkTestOracle(t), ptf.EUR, nil)

		txs := scenarioTxs()
		pool, err := strategy.HandleBuy(ctx, txs[0], nil)
		rq.NoError(err)
		pool, err = strategy.HandleBuy(ctx, txs[1], pool)
		rq.NoError(err)

		before := append([]ptf.SecurityLot(nil), pool...)
		events, after, err := strategy.MatchSell(ctx, txs[2], pool)
		rq.NoError(err, m)
		rq.NotEmpty(events, m)
		crq.Equal(before, pool)
		rq.Len(after, 1, m)
		crq.DecEqual("30", after[0].Quantity)

		fxPool, err := strategy.HandleFxBuy(ctx, TTx{Date: "2023-01-01", Kind: ptf.FX_BUY, Total: DInt(-100)}.X(), nil)
		rq.NoError(err)
		fxBefore := append([]ptf.CurrencyLot(nil), fxPool...)
		_, _, err = strategy.MatchFxSell(ctx, TTx{Date: "2024-03-01", Kind: ptf.FX_SELL, Total: DInt(40)}.X(), fxPool)
		rq.NoError(err)
		crq.Equal(fxBefore, fxPool)
	}
}

func TestStrategyErrorKeepsPool(t *testing.T) {
	for _, m := range []ptf.MatchingMethod{ptf.FIFO, ptf.WEIGHTED_AVERAGE} {
		rq := require.New(t)
		strategy := ptf.NewStrategy(m)
		ctx := ptf.NewMatchContext(mkTestOracle(t), ptf.EUR, nil)

		pool, err := strategy.HandleBuy(ctx, scenarioTxs()[0], nil)
		rq.NoError(err)
		// No rate on this date.
		sell := TTx{Date: "2023-05-05", Kind: ptf.SELL, Qty: DInt(1), Total: DInt(10)}.X()
		events, after, err := strategy.MatchSell(ctx, sell, pool)
		rq.Error(err, m)
		rq.Empty(events)
		rq.Equal(pool, after)
	}
}

func TestLotsAreUniquelyIdentified(t *testing.T) {
	rq := require.New(t)

	txs := TTxs(
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Qty: DInt(1), Total: DInt(-10)},
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Qty: DInt(1), Total: DInt(-10)},
		TTx{Date: "2023-01-01", Kind: ptf.BUY, Ticker: "OTHER", Qty: DInt(1), Total: DInt(-10)},
		TTx{Date: "2023-01-01", Kind: ptf.FX_BUY, Total: DInt(-10)},
	)
	engine := processNoErr(t, txs, "FIFO")
	ids := map[string]bool{}
	for _, lot := range allLots(engine) {
		ids[lot.ID] = true
	}
	for _, lot := range allCurrencyLots(engine) {
		ids[lot.ID] = true
	}
	rq.Len(ids, 4)
}
