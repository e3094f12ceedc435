package fx

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taxlot/taxlot/date"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mkTable(t *testing.T, lookback int, rates ...DailyRate) *RateTable {
	table := NewRateTable("EUR", lookback)
	require.NoError(t, table.AddAll(rates))
	return table
}

func rqDecEqual(t *testing.T, expected string, actual decimal.Decimal) {
	require.True(t, dec(expected).Equal(actual), "expected %s, got %s", expected, actual)
}

func TestRateTableSameCurrency(t *testing.T) {
	rq := require.New(t)
	table := mkTable(t, 0)

	rate, err := table.Rate(date.MustParse("2024-03-01"), "usd", "USD")
	rq.NoError(err)
	rqDecEqual(t, "1", rate)

	rate, err = table.Rate(date.MustParse("2024-03-01"), "EUR", "EUR")
	rq.NoError(err)
	rqDecEqual(t, "1", rate)
}

func TestRateTableLookback(t *testing.T) {
	rq := require.New(t)
	friday := date.MustParse("2024-03-01")
	table := mkTable(t, EcbLookbackDays, DailyRate{friday, "USD", dec("0.92")})

	// Saturday and Sunday resolve to Friday's rate.
	for _, d := range []string{"2024-03-01", "2024-03-02", "2024-03-03", "2024-03-05"} {
		rate, err := table.Rate(date.MustParse(d), "USD", "EUR")
		rq.NoError(err, d)
		rqDecEqual(t, "0.92", rate)
	}

	// Five days out is beyond the lookback window.
	_, err := table.Rate(date.MustParse("2024-03-06"), "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)
	var missing *MissingRateError
	rq.True(errors.As(err, &missing))
	rq.Equal("USD", missing.Currency)
	rq.NotNil(missing.Before)
	rq.True(missing.Before.Date.Equal(friday))
	rq.Nil(missing.After)
	rq.Contains(err.Error(), "Unable to retrieve USD exchange rate for 2024-03-06")
	rq.Contains(err.Error(), "Nearest known rates: 2024-03-01 USD : 0.92")

	// Rates are never carried backwards in time.
	_, err = table.Rate(date.MustParse("2024-02-29"), "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)
}

func TestRateTableNoLookback(t *testing.T) {
	rq := require.New(t)
	table := mkTable(t, 0, DailyRate{date.MustParse("2024-03-01"), "USD", dec("0.92")})

	_, err := table.Rate(date.MustParse("2024-03-02"), "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)

	_, err = table.Rate(date.MustParse("2024-03-01"), "JPY", "EUR")
	rq.ErrorIs(err, ErrNoRate)
}

func TestRateTableCrossAndInverse(t *testing.T) {
	rq := require.New(t)
	d := date.MustParse("2024-03-01")
	table := mkTable(t, 0,
		DailyRate{d, "USD", dec("0.8")},
		DailyRate{d, "GBP", dec("1.2")},
	)
	rq.Equal(2, table.Len())

	rate, err := table.Rate(d, "EUR", "USD")
	rq.NoError(err)
	rqDecEqual(t, "1.25", rate)

	rate, err = table.Rate(d, "GBP", "USD")
	rq.NoError(err)
	rqDecEqual(t, "1.5", rate)

	_, err = table.Rate(d, "GBP", "CHF")
	rq.ErrorIs(err, ErrNoRate)
}

func TestRateTableRejectsNonPositive(t *testing.T) {
	table := NewRateTable("EUR", 0)
	err := table.Add(DailyRate{date.MustParse("2024-03-01"), "USD", decimal.Zero})
	require.EqualError(t, err, "Invalid USD rate 0 on 2024-03-01: rates must be positive")
	require.Equal(t, 0, table.Len())
}

func TestReadRatesCsv(t *testing.T) {
	rq := require.New(t)
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	csvText := `date,currency,rate
# comment
2024-03-01,usd,0.92
2024-03-04,USD,notanumber
bad-date,USD,0.9
2024-03-04,GBP,1.17
`
	rates, err := ReadRatesCsv(strings.NewReader(csvText), "test.csv", RatesCsvOptions{Logger: logger})
	rq.NoError(err)
	rq.Len(rates, 2)
	rq.True(rates[0].Equal(DailyRate{date.MustParse("2024-03-01"), "USD", dec("0.92")}))
	rq.True(rates[1].Equal(DailyRate{date.MustParse("2024-03-04"), "GBP", dec("1.17")}))
	rq.Contains(logBuf.String(), "Unable to parse rate")
	rq.Contains(logBuf.String(), "Unable to parse rate date")

	_, err = ReadRatesCsv(strings.NewReader("2024-03-01,USD\n"), "short.csv", RatesCsvOptions{Logger: logger})
	rq.ErrorContains(err, "short.csv")
}

func TestReadRatesCsvEcbQuotes(t *testing.T) {
	rq := require.New(t)
	rates, err := ReadRatesCsv(strings.NewReader("2024-03-01,USD,1.25\n2024-03-01,JPY,1.0833\n"),
		"ecb.csv", RatesCsvOptions{EcbQuotes: true})
	rq.NoError(err)
	rq.Len(rates, 2)
	rqDecEqual(t, "0.8", rates[0].ForeignToBaseRate)
	rq.Equal("1.00000000", rates[1].ForeignToBaseRate.Mul(dec("1.0833")).StringFixed(8))
}

func TestWriteRatesCsvRoundTrip(t *testing.T) {
	rq := require.New(t)
	in := []DailyRate{
		{date.MustParse("2024-03-01"), "USD", dec("0.92")},
		{date.MustParse("2024-03-04"), "GBP", dec("1.17")},
	}
	var buf bytes.Buffer
	rq.NoError(WriteRatesCsv(&buf, in))
	rq.True(strings.HasPrefix(buf.String(), "date,currency,rate\n"))

	out, err := ReadRatesCsv(&buf, "buf", RatesCsvOptions{})
	rq.NoError(err)
	rq.Len(out, 2)
	for i := range in {
		rq.True(in[i].Equal(out[i]), "%s != %s", in[i], out[i])
	}
}

type countingOracle struct {
	inner Oracle
	calls int
}

func (o *countingOracle) Rate(d date.Date, from, to string) (decimal.Decimal, error) {
	o.calls++
	return o.inner.Rate(d, from, to)
}

func TestCachedOracle(t *testing.T) {
	rq := require.New(t)
	d := date.MustParse("2024-03-01")
	inner := &countingOracle{inner: mkTable(t, 0, DailyRate{d, "USD", dec("0.92")})}
	persistent := NewMemRatesCache()
	oracle := NewCachedOracle(inner, persistent)

	for i := 0; i < 3; i++ {
		rate, err := oracle.Rate(d, "usd", "eur")
		rq.NoError(err)
		rqDecEqual(t, "0.92", rate)
	}
	rq.Equal(1, inner.calls)
	rq.Equal(CacheStats{MemoryHits: 2, PersistentHits: 0, Misses: 1}, oracle.Stats())

	stored, err := persistent.All()
	rq.NoError(err)
	rq.Len(stored, 1)
	rq.Equal("USD", stored[0].From)
	rq.Equal("EUR", stored[0].To)

	// A fresh process reuses the persistent cache.
	second := NewCachedOracle(inner, persistent)
	rate, err := second.Rate(d, "USD", "EUR")
	rq.NoError(err)
	rqDecEqual(t, "0.92", rate)
	rq.Equal(1, inner.calls)
	rq.Equal(CacheStats{PersistentHits: 1}, second.Stats())

	// Same-currency pairs bypass the cache entirely.
	_, err = second.Rate(d, "USD", "USD")
	rq.NoError(err)
	rq.Equal(CacheStats{PersistentHits: 1}, second.Stats())
}

func TestCachedOracleDoesNotCacheErrors(t *testing.T) {
	rq := require.New(t)
	inner := &countingOracle{inner: mkTable(t, 0)}
	persistent := NewMemRatesCache()
	oracle := NewCachedOracle(inner, persistent)

	d := date.MustParse("2024-03-01")
	_, err := oracle.Rate(d, "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)
	_, err = oracle.Rate(d, "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)
	rq.Equal(2, inner.calls)

	stored, err := persistent.All()
	rq.NoError(err)
	rq.Empty(stored)
}

func TestSqliteRatesCache(t *testing.T) {
	rq := require.New(t)
	c, err := OpenSqliteRatesCache(":memory:")
	rq.NoError(err)
	defer c.Close()

	d1 := date.MustParse("2024-03-04")
	d2 := date.MustParse("2024-03-01")

	_, ok, err := c.Get(d1, "USD", "EUR")
	rq.NoError(err)
	rq.False(ok)

	rq.NoError(c.Put(d1, "USD", "EUR", dec("0.9234567890123")))
	rq.NoError(c.Put(d2, "USD", "EUR", dec("0.92")))
	rq.NoError(c.Put(d2, "GBP", "EUR", dec("1.17")))
	// Overwrites are allowed; historical rates are immutable in practice.
	rq.NoError(c.Put(d2, "GBP", "EUR", dec("1.17")))

	rate, ok, err := c.Get(d1, "USD", "EUR")
	rq.NoError(err)
	rq.True(ok)
	rq.Equal("0.9234567890123", rate.String())

	all, err := c.All()
	rq.NoError(err)
	rq.Len(all, 3)
	rq.True(all[0].Date.Equal(d2))
	rq.Equal("GBP", all[0].From)
	rq.Equal("USD", all[1].From)
	rq.True(all[2].Date.Equal(d1))
}

func TestFallbackOracle(t *testing.T) {
	rq := require.New(t)
	var logBuf bytes.Buffer
	d := date.MustParse("2024-03-01")

	primary := mkTable(t, 0, DailyRate{d, "USD", dec("0.92")})
	fallback := mkTable(t, 0,
		DailyRate{d, "USD", dec("0.5")},
		DailyRate{d, "GBP", dec("1.1")},
	)
	oracle := NewFallbackOracle(primary, fallback)
	oracle.Logger = slog.New(slog.NewTextHandler(&logBuf, nil))

	rate, err := oracle.Rate(d, "USD", "EUR")
	rq.NoError(err)
	rqDecEqual(t, "0.92", rate)
	rq.Empty(oracle.Degraded())
	rq.Empty(logBuf.String())

	rate, err = oracle.Rate(d, "GBP", "EUR")
	rq.NoError(err)
	rqDecEqual(t, "1.1", rate)
	rq.Len(oracle.Degraded(), 1)
	rq.Contains(logBuf.String(), "not tax-compliant")

	_, err = oracle.Rate(d, "JPY", "EUR")
	rq.ErrorIs(err, ErrNoRate)
	rq.ErrorContains(err, "fallback also failed")
	rq.Len(oracle.Degraded(), 1)
}

func TestFallbackOracleWithoutFallback(t *testing.T) {
	oracle := NewFallbackOracle(mkTable(t, 0), nil)
	_, err := oracle.Rate(date.MustParse("2024-03-01"), "USD", "EUR")
	require.ErrorIs(t, err, ErrNoRate)
}

func TestStaticOracle(t *testing.T) {
	rq := require.New(t)
	d := date.MustParse("2024-03-01")

	oracle := StaticOracle{}.Set(d, "usd", "EUR", dec("0.8"))

	rate, err := oracle.Rate(d, "USD", "EUR")
	rq.NoError(err)
	rqDecEqual(t, "0.8", rate)

	rate, err = oracle.Rate(d, "EUR", "USD")
	rq.NoError(err)
	rqDecEqual(t, "1.25", rate)

	rate, err = oracle.Rate(d.AddDays(1), "JPY", "jpy")
	rq.NoError(err)
	rqDecEqual(t, "1", rate)

	_, err = oracle.Rate(d.AddDays(1), "USD", "EUR")
	rq.ErrorIs(err, ErrNoRate)
	var missing *MissingRateError
	rq.True(errors.As(err, &missing))
	rq.Equal("USD", missing.Currency)
}
