package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/taxlot/taxlot/app/outfmt"
	"github.com/taxlot/taxlot/audit"
	"github.com/taxlot/taxlot/config"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/fx"
	"github.com/taxlot/taxlot/log"
	ptf "github.com/taxlot/taxlot/portfolio"
	"github.com/taxlot/taxlot/util"
)

type DescribedReader struct {
	Desc   string
	Reader io.Reader
}

// RateSources is the oracle chain used for a run: the official rate files,
// memoized and optionally persisted, then the degraded fallback files.
type RateSources struct {
	Oracle   *fx.FallbackOracle
	Official *fx.CachedOracle

	cache *fx.SqliteRatesCache
}

func OpenRateSources(cfg *config.Config) (*RateSources, error) {
	csvOpts := fx.RatesCsvOptions{EcbQuotes: cfg.EcbQuotes, Logger: log.Logger()}
	official, err := fx.LoadRateTable(cfg.BaseCurrency, fx.EcbLookbackDays, csvOpts, cfg.RatesFiles...)
	if err != nil {
		return nil, fmt.Errorf("Loading official rates: %w", err)
	}

	var fallback fx.Oracle
	if len(cfg.FallbackRatesFiles) > 0 {
		fallbackTable, err := fx.LoadRateTable(
			cfg.BaseCurrency, fx.EcbLookbackDays, csvOpts, cfg.FallbackRatesFiles...)
		if err != nil {
			return nil, fmt.Errorf("Loading fallback rates: %w", err)
		}
		fallback = fallbackTable
	}

	sources := &RateSources{}
	var persistent fx.RatesCache
	if cfg.RatesDB != "" {
		sources.cache, err = fx.OpenSqliteRatesCache(cfg.RatesDB)
		if err != nil {
			return nil, err
		}
		persistent = sources.cache
	}
	sources.Official = fx.NewCachedOracle(official, persistent)
	sources.Oracle = fx.NewFallbackOracle(sources.Official, fallback)
	return sources, nil
}

func (s *RateSources) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}

type Options struct {
	Method       string
	BaseCurrency string
	// Reported events are limited to this inclusive range. Replay always
	// covers the full history.
	Start util.Optional[date.Date]
	End   util.Optional[date.Date]

	RenderFullValues bool
	// Audit timestamp. The current time when zero.
	Now time.Time
}

type AppResult struct {
	Engine *ptf.TaxBasisEngine
	// Events within the requested range.
	Events   []ptf.TaxEvent
	Degraded []fx.CachedRate
	// Nil when no audit log was given, or the run did not complete.
	Audit *audit.Record
}

func ReadAllTxs(csvReaders []DescribedReader) ([]*ptf.Tx, error) {
	allTxs := make([]*ptf.Tx, 0, 20)
	for _, csvReader := range csvReaders {
		txs, err := ptf.ParseTxCsv(csvReader.Reader, csvReader.Desc)
		if err != nil {
			return nil, err
		}
		allTxs = append(allTxs, txs...)
	}
	return allTxs, nil
}

type auditInputs struct {
	Method       string    `json:"method"`
	BaseCurrency string    `json:"base_currency"`
	Transactions []*ptf.Tx `json:"transactions"`
}

type auditOutputs struct {
	Events           []ptf.TaxEvent    `json:"events"`
	OpenLots         []ptf.SecurityLot `json:"open_lots"`
	OpenCurrencyLots []ptf.CurrencyLot `json:"open_currency_lots"`
	DegradedRates    []fx.CachedRate   `json:"degraded_rates"`
}

// sealRun seals the complete history and everything it produced.
func sealRun(
	txs []*ptf.Tx, engine *ptf.TaxBasisEngine, degraded []fx.CachedRate, now time.Time) (audit.Record, error) {

	inputs := auditInputs{
		Method:       engine.Method().String(),
		BaseCurrency: engine.BaseCurrency().String(),
		Transactions: txs,
	}
	outputs := auditOutputs{
		Events:           engine.RealizedEvents(util.None[date.Date](), util.None[date.Date]()),
		OpenLots:         engine.OpenLots(util.None[ptf.AssetKey]()),
		OpenCurrencyLots: engine.OpenCurrencyLots(util.None[ptf.Currency]()),
		DegradedRates:    degraded,
	}
	inputsHash, err := audit.Hash(inputs)
	if err != nil {
		return audit.Record{}, err
	}
	eventID := fmt.Sprintf("run_%s_%s",
		now.UTC().Format("20060102T150405Z"), strings.TrimPrefix(inputsHash, audit.HashPrefix)[:8])
	return audit.Seal(eventID, inputs, outputs, now)
}

// RunTaxLotAppToModel replays every transaction read from csvReaders.
//
// A rate failure aborts the run with no result. Unimplemented transactions
// still produce a result, alongside an error matching ptf.ErrNotImplemented.
// Only complete runs are sealed into auditLog.
func RunTaxLotAppToModel(
	csvReaders []DescribedReader,
	sources *RateSources,
	auditLog audit.Log,
	opts Options) (*AppResult, error) {

	allTxs, err := ReadAllTxs(csvReaders)
	if err != nil {
		return nil, err
	}

	engine := ptf.NewTaxBasisEngine(allTxs, opts.Method, sources.Oracle,
		ptf.WithBaseCurrency(opts.BaseCurrency), ptf.WithLogger(log.Logger()))
	runErr := engine.ProcessAll()
	if engine.Failed() {
		return nil, runErr
	}

	res := &AppResult{
		Engine:   engine,
		Events:   engine.RealizedEvents(opts.Start, opts.End),
		Degraded: sources.Oracle.Degraded(),
	}
	stats := sources.Official.Stats()
	log.Logger().Debug("Rate lookups", "memoryHits", stats.MemoryHits,
		"persistentHits", stats.PersistentHits, "misses", stats.Misses)

	if runErr == nil && auditLog != nil {
		now := opts.Now
		if now.IsZero() {
			now = time.Now()
		}
		record, err := sealRun(allTxs, engine, res.Degraded, now)
		if err != nil {
			return res, fmt.Errorf("Sealing results: %w", err)
		}
		if err := auditLog.Append(record); err != nil {
			return res, fmt.Errorf("Writing audit record: %w", err)
		}
		res.Audit = &record
	}
	return res, runErr
}

func degradedNote(degraded []fx.CachedRate) string {
	return fmt.Sprintf(
		" [!] %d exchange rate(s) came from the fallback source. These results are not tax-compliant.",
		len(degraded))
}

// WriteReports renders the events, aggregate gains and open lots of res.
// runErr, if any, is attached to the events table.
func WriteReports(res *AppResult, runErr error, writer outfmt.ReportWriter, renderFullValues bool) error {
	base := res.Engine.BaseCurrency()

	eventsTable := ptf.RenderEventsTable(res.Events, base, renderFullValues)
	if runErr != nil {
		eventsTable.Errors = append(eventsTable.Errors, runErr)
	}
	if len(res.Degraded) > 0 {
		eventsTable.Notes = append(eventsTable.Notes, degradedNote(res.Degraded))
	}
	if err := writer.PrintRenderTable(outfmt.Events, "events", eventsTable); err != nil {
		return err
	}

	gainsTable := ptf.RenderAggregateGains(ptf.CalcCumulativeGains(res.Events), base, renderFullValues)
	if err := writer.PrintRenderTable(outfmt.AggregateGains, "", gainsTable); err != nil {
		return err
	}

	lotsTable := ptf.RenderOpenLots(
		res.Engine.OpenLots(util.None[ptf.AssetKey]()),
		res.Engine.OpenCurrencyLots(util.None[ptf.Currency]()),
		base, renderFullValues)
	if err := writer.PrintRenderTable(outfmt.OpenLots, "", lotsTable); err != nil {
		return err
	}

	if exporter, ok := writer.(outfmt.EventExporter); ok {
		if err := exporter.ExportEvents("events", res.Events); err != nil {
			return err
		}
	}
	return nil
}

// RunTaxLotApp runs RunTaxLotAppToModel and writes its reports. Errors are
// printed with errPrinter as well as returned.
func RunTaxLotApp(
	csvReaders []DescribedReader,
	sources *RateSources,
	auditLog audit.Log,
	opts Options,
	writer outfmt.ReportWriter,
	errPrinter log.ErrorPrinter) error {

	res, runErr := RunTaxLotAppToModel(csvReaders, sources, auditLog, opts)
	if res == nil {
		errPrinter.Ln("Error:", runErr)
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, ptf.ErrNotImplemented) {
		// Results are complete, but could not be sealed.
		errPrinter.Ln("Error:", runErr)
	}
	if err := WriteReports(res, runErr, writer, opts.RenderFullValues); err != nil {
		errPrinter.Ln("Error:", err)
		return err
	}
	if res.Audit != nil {
		log.Fverbosef(os.Stderr, "Sealed audit record %s (%s)\n", res.Audit.EventID, res.Audit.Hash)
	}
	return runErr
}
