package fx

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/log"
)

const csvTimeFormat = date.DefaultFormat

// RatesCsvOptions controls how a rates CSV is interpreted.
type RatesCsvOptions struct {
	// EcbQuotes marks files quoting units of foreign currency per one unit of
	// base currency (the ECB reference rate convention). Such rates are
	// inverted on load.
	EcbQuotes bool
	Logger    *slog.Logger
}

// ReadRatesCsv parses rows of `date,currency,rate`. A header row starting
// with "date" and lines starting with '#' are skipped. Malformed rows are
// logged and skipped, so a bad row surfaces later as a missing rate rather
// than as a wrong one.
func ReadRatesCsv(r io.Reader, desc string, opts RatesCsvOptions) ([]DailyRate, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Logger()
	}
	csvR := csv.NewReader(r)
	csvR.FieldsPerRecord = 3
	csvR.Comment = '#'
	csvR.TrimLeadingSpace = true
	records, err := csvR.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse rates CSV %s: %w", desc, err)
	}

	rates := make([]DailyRate, 0, len(records))
	one := decimal.NewFromInt(1)
	for i, record := range records {
		if i == 0 && strings.EqualFold(strings.TrimSpace(record[0]), "date") {
			continue
		}
		d, err := date.Parse(csvTimeFormat, strings.TrimSpace(record[0]))
		if err != nil {
			logger.Warn("Unable to parse rate date", "source", desc, "line", i+1, "error", err)
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[2]))
		if err != nil || !rate.IsPositive() {
			logger.Warn("Unable to parse rate", "source", desc, "line", i+1, "value", record[2])
			continue
		}
		if opts.EcbQuotes {
			rate = one.Div(rate)
		}
		rates = append(rates, DailyRate{Date: d, Currency: normCurrency(record[1]), ForeignToBaseRate: rate})
	}
	return rates, nil
}

// LoadRateTable builds a RateTable from one or more CSV files.
func LoadRateTable(base string, lookbackDays int, opts RatesCsvOptions, files ...string) (*RateTable, error) {
	table := NewRateTable(base, lookbackDays)
	for _, fname := range files {
		fp, err := os.Open(fname)
		if err != nil {
			return nil, err
		}
		rates, err := ReadRatesCsv(fp, fname, opts)
		fp.Close()
		if err != nil {
			return nil, err
		}
		if err := table.AddAll(rates); err != nil {
			return nil, fmt.Errorf("%s: %w", fname, err)
		}
	}
	return table, nil
}

// WriteRatesCsv writes rates in the format read by ReadRatesCsv, base units
// per foreign unit, with a header row.
func WriteRatesCsv(w io.Writer, rates []DailyRate) error {
	csvW := csv.NewWriter(w)
	if err := csvW.Write([]string{"date", "currency", "rate"}); err != nil {
		return err
	}
	for _, rate := range rates {
		row := []string{rate.Date.String(), rate.Currency, rate.ForeignToBaseRate.String()}
		if err := csvW.Write(row); err != nil {
			return err
		}
	}
	csvW.Flush()
	return csvW.Error()
}
