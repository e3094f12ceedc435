package app_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/taxlot/taxlot/app"
	"github.com/taxlot/taxlot/app/outfmt"
	"github.com/taxlot/taxlot/audit"
	"github.com/taxlot/taxlot/config"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/fx"
	ptf "github.com/taxlot/taxlot/portfolio"
	"github.com/taxlot/taxlot/util"
)

const header = "date,type,ticker,quantity,price,fees,total,currency\n"

var runTime = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func makeCsvReader(desc string, lines ...string) app.DescribedReader {
	return app.DescribedReader{Desc: desc, Reader: strings.NewReader(header + strings.Join(lines, "\n"))}
}

func scenarioReaders() []app.DescribedReader {
	return []app.DescribedReader{
		makeCsvReader("buys.csv",
			"2023-01-02,Buy,ACME,100,10,1,-1001,USD",
			"2023-02-01,Buy,ACME,50,12,1,-601,USD",
		),
		makeCsvReader("sells.csv",
			"2024-03-01,Sell,ACME,120,15,1,1799,USD",
		),
	}
}

type testErrPrinter struct {
	buf bytes.Buffer
}

func (p *testErrPrinter) Ln(v ...interface{}) {
	fmt.Fprintln(&p.buf, v...)
}

func (p *testErrPrinter) F(format string, v ...interface{}) {
	fmt.Fprintf(&p.buf, format, v...)
}

func dailyRate(d string, ccy string, rate string) fx.DailyRate {
	return fx.DailyRate{Date: date.MustParse(d), Currency: ccy, ForeignToBaseRate: decimal.RequireFromString(rate)}
}

func mkSources(t *testing.T, fallbackRates ...fx.DailyRate) *app.RateSources {
	official := fx.NewRateTable("EUR", fx.EcbLookbackDays)
	require.NoError(t, official.AddAll([]fx.DailyRate{
		dailyRate("2023-01-02", "USD", "0.95"),
		dailyRate("2023-02-01", "USD", "0.95"),
		dailyRate("2024-03-01", "USD", "0.92"),
	}))
	var fallback fx.Oracle
	if len(fallbackRates) > 0 {
		table := fx.NewRateTable("EUR", 0)
		require.NoError(t, table.AddAll(fallbackRates))
		fallback = table
	}
	cached := fx.NewCachedOracle(official, fx.NewMemRatesCache())
	return &app.RateSources{Official: cached, Oracle: fx.NewFallbackOracle(cached, fallback)}
}

func TestRunTaxLotAppToModel(t *testing.T) {
	rq := require.New(t)

	auditLog := audit.NewMemLog()
	res, err := app.RunTaxLotAppToModel(scenarioReaders(), mkSources(t), auditLog,
		app.Options{Method: "fifo", BaseCurrency: "EUR", Now: runTime})
	rq.NoError(err)
	rq.Len(res.Events, 2)
	rq.Empty(res.Degraded)
	rq.Equal(ptf.FIFO, res.Engine.Method())

	rq.NotNil(res.Audit)
	rq.True(strings.HasPrefix(res.Audit.EventID, "run_20260201T120000Z_"), res.Audit.EventID)
	ok, err := audit.VerifyRecord(*res.Audit)
	rq.NoError(err)
	rq.True(ok)
	records, err := auditLog.Records()
	rq.NoError(err)
	rq.Len(records, 1)

	// The same input seals to the same hash.
	res2, err := app.RunTaxLotAppToModel(scenarioReaders(), mkSources(t), audit.NewMemLog(),
		app.Options{Method: "fifo", BaseCurrency: "EUR", Now: runTime})
	rq.NoError(err)
	rq.Equal(res.Audit.Hash, res2.Audit.Hash)

	// Nothing is sealed without an audit log.
	res3, err := app.RunTaxLotAppToModel(scenarioReaders(), mkSources(t), nil,
		app.Options{Method: "wa", BaseCurrency: "EUR", Now: runTime})
	rq.NoError(err)
	rq.Nil(res3.Audit)
	rq.Len(res3.Events, 1)
}

func TestRunTaxLotAppDateRange(t *testing.T) {
	rq := require.New(t)

	opts := app.Options{Method: "FIFO",
		Start: util.NewOptional(date.MustParse("2023-01-01")),
		End:   util.NewOptional(date.MustParse("2023-12-31"))}
	res, err := app.RunTaxLotAppToModel(scenarioReaders(), mkSources(t), nil, opts)
	rq.NoError(err)
	rq.Empty(res.Events)
	// Lots reflect the full history regardless.
	rq.Len(res.Engine.OpenLots(util.None[ptf.AssetKey]()), 1)
}

func TestRunTaxLotAppMissingRate(t *testing.T) {
	rq := require.New(t)

	readers := append(scenarioReaders(),
		makeCsvReader("jpy.csv", "2023-03-01,Buy,SONY,1,10000,0,-10000,JPY"))
	auditLog := audit.NewMemLog()
	errPrinter := &testErrPrinter{}
	var out bytes.Buffer
	err := app.RunTaxLotApp(readers, mkSources(t), auditLog, app.Options{Method: "FIFO"},
		outfmt.NewSTDWriter(&out), errPrinter)
	rq.ErrorIs(err, fx.ErrNoRate)
	rq.Contains(errPrinter.buf.String(), "JPY")
	rq.Empty(out.String())

	records, err := auditLog.Records()
	rq.NoError(err)
	rq.Empty(records)
}

func TestRunTaxLotAppFxExchange(t *testing.T) {
	rq := require.New(t)

	readers := append(scenarioReaders(),
		makeCsvReader("fx.csv", "2023-02-01,FX Exchange,,,,,-100,USD"))
	auditLog := audit.NewMemLog()
	var out bytes.Buffer
	err := app.RunTaxLotApp(readers, mkSources(t), auditLog, app.Options{Method: "FIFO"},
		outfmt.NewSTDWriter(&out), &testErrPrinter{})
	rq.ErrorIs(err, ptf.ErrNotImplemented)
	rq.Contains(out.String(), "[!]")
	rq.Contains(out.String(), "Tax events for events")

	// Incomplete results are never sealed.
	records, err := auditLog.Records()
	rq.NoError(err)
	rq.Empty(records)
}

func TestRunTaxLotAppFallbackRates(t *testing.T) {
	rq := require.New(t)

	readers := append(scenarioReaders(),
		makeCsvReader("gbp.csv", "2023-03-01,Buy,BARC,10,1,0,-10,GBP"))
	sources := mkSources(t, dailyRate("2023-03-01", "GBP", "1.15"))
	var out bytes.Buffer
	err := app.RunTaxLotApp(readers, sources, nil, app.Options{Method: "FIFO"},
		outfmt.NewSTDWriter(&out), &testErrPrinter{})
	rq.NoError(err)
	rq.Len(sources.Oracle.Degraded(), 1)
	rq.Contains(out.String(), "not tax-compliant")
}

func TestRunTaxLotAppStdOutput(t *testing.T) {
	rq := require.New(t)

	var out bytes.Buffer
	err := app.RunTaxLotApp(scenarioReaders(), mkSources(t), nil, app.Options{Method: "FIFO"},
		outfmt.NewSTDWriter(&out), &testErrPrinter{})
	rq.NoError(err)
	text := out.String()
	rq.Contains(text, "Tax events for events")
	rq.Contains(text, "Aggregate Gains")
	rq.Contains(text, "Open Lots")
	rq.Contains(text, "TICKER:ACME")
	rq.Contains(text, "Since inception")
}

func TestRunTaxLotAppFileOutputs(t *testing.T) {
	rq := require.New(t)
	dir := t.TempDir()

	csvWriter, err := outfmt.NewCSVWriter(filepath.Join(dir, "csv"))
	rq.NoError(err)
	jsonWriter, err := outfmt.NewJSONWriter(filepath.Join(dir, "json"), nil)
	rq.NoError(err)

	for _, w := range []outfmt.ReportWriter{csvWriter, jsonWriter} {
		err := app.RunTaxLotApp(scenarioReaders(), mkSources(t), nil, app.Options{Method: "FIFO"},
			w, &testErrPrinter{})
		rq.NoError(err)
	}

	for _, f := range []string{"events.csv", "aggregate-gains.csv", "open-lots.csv", "events-export.csv"} {
		rq.FileExists(filepath.Join(dir, "csv", f))
	}
	for _, f := range []string{"events.json", "aggregate-gains.json", "open-lots.json", "events-export.json"} {
		rq.FileExists(filepath.Join(dir, "json", f))
	}

	export, err := os.ReadFile(filepath.Join(dir, "csv", "events-export.csv"))
	rq.NoError(err)
	lines := strings.Split(strings.TrimSpace(string(export)), "\n")
	rq.Len(lines, 3)
	rq.Equal(strings.Join(ptf.EventRecordHeader, ","), lines[0])
}

func TestOpenRateSources(t *testing.T) {
	rq := require.New(t)
	dir := t.TempDir()

	// ECB style: USD per EUR.
	ratesFile := filepath.Join(dir, "ecb.csv")
	rq.NoError(os.WriteFile(ratesFile, []byte(
		"date,currency,rate\n2023-01-02,USD,1.25\n2023-02-01,USD,1.25\n2024-03-01,USD,1.0\n"), 0o644))

	cfg := config.Default()
	cfg.RatesFiles = []string{ratesFile}
	cfg.EcbQuotes = true
	cfg.RatesDB = filepath.Join(dir, "rates.db")

	sources, err := app.OpenRateSources(cfg)
	rq.NoError(err)
	res, err := app.RunTaxLotAppToModel(scenarioReaders(), sources, nil, app.Options{Method: "FIFO"})
	rq.NoError(err)
	rq.Len(res.Events, 2)
	rq.True(res.Events[0].SaleFxRate.Equal(decimal.NewFromInt(1)))
	rq.NoError(sources.Close())

	// Rates resolved during the run were persisted.
	cache, err := fx.OpenSqliteRatesCache(cfg.RatesDB)
	rq.NoError(err)
	defer cache.Close()
	cached, err := cache.All()
	rq.NoError(err)
	rq.Len(cached, 3)
	rq.True(cached[0].Rate.Equal(decimal.RequireFromString("0.8")))

	_, err = app.OpenRateSources(&config.Config{BaseCurrency: "EUR", RatesFiles: []string{"nope.csv"}})
	rq.Error(err)
}
