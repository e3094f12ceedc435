package portfolio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/markphelps/optional"
	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	decimal_opt "github.com/taxlot/taxlot/decimal_value"
	"github.com/taxlot/taxlot/log"
)

var CsvDateFormat string = date.DefaultFormat

type ColParser func(string, *Tx) error

var colParserMap = map[string]ColParser{
	"date":            parseDate,
	"type":            parseKind,
	"kind":            parseKind,
	"ticker":          parseTicker,
	"symbol":          parseTicker,
	"isin":            parseIsin,
	"name":            parseName,
	"asset type":      parseAssetType,
	"quantity":        parseQuantity,
	"shares":          parseQuantity,
	"price":           parsePrice,
	"fees":            parseFees,
	"commission":      parseFees,
	"total":           parseTotal,
	"currency":        parseCurrency,
	"fx rate":         parseFxRate,
	"exchange rate":   parseFxRate,
	"withholding tax": parseWithholdingTax,
	"memo":            parseMemo,
	"notes":           parseMemo,
}

var ColNames []string

func init() {
	ColNames = make([]string, 0, len(colParserMap))
	for name := range colParserMap {
		ColNames = append(ColNames, name)
	}
}

func DefaultTx() *Tx {
	return &Tx{
		Kind:      NO_KIND,
		AssetType: UNKNOWN,
		FxRate:    decimal_opt.Null,
	}
}

func CheckTxSanity(tx *Tx) error {
	if tx.Date.IsZero() {
		return fmt.Errorf("Transaction has no date")
	} else if tx.Kind == NO_KIND {
		return fmt.Errorf("Transaction has no type (Buy, Sell, Dividend, ...)")
	}
	switch tx.Kind {
	case BUY, SELL:
		if !tx.ISIN.Present() && tx.Ticker.OrElse("") == "" {
			return fmt.Errorf("%s transaction has no ticker or ISIN", tx.Kind)
		}
		if !tx.Quantity.IsPositive() {
			return fmt.Errorf("%s transaction has non-positive quantity %s", tx.Kind, tx.Quantity)
		}
	case FX_BUY, FX_SELL, FX_EXCHANGE:
		if tx.Currency == "" {
			return fmt.Errorf("%s transaction has no currency", tx.Kind)
		}
	}
	if tx.Fees.IsNegative() {
		return fmt.Errorf("Transaction has negative fees %s", tx.Fees)
	}
	return nil
}

func ParseTxCsv(reader io.Reader, csvDesc string) ([]*Tx, error) {
	csvR := csv.NewReader(reader)
	records, err := csvR.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse CSV %s: %v", csvDesc, err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("No rows found in %s", csvDesc)
	}

	header := records[0]

	colParsers := make([]ColParser, len(header))

	for i, col := range header {
		sanCol := strings.TrimSpace(strings.ToLower(col))
		if parser, ok := colParserMap[sanCol]; ok {
			colParsers[i] = parser
		} else {
			log.Logger().Warn("Unrecognized column", "source", csvDesc, "column", sanCol)
			colParsers[i] = parseNothing
		}
	}

	txs := make([]*Tx, 0, len(records)-1)
	for i, record := range records[1:] {
		tx := DefaultTx()
		tx.ReadIndex = uint32(i + 2)
		for j, col := range record {
			err = colParsers[j](strings.TrimSpace(col), tx)
			if err != nil {
				return nil, fmt.Errorf("Error parsing %s at line:col %d:%d: %v", csvDesc, i+2, j+1, err)
			}
		}
		err = CheckTxSanity(tx)
		if err != nil {
			return nil, fmt.Errorf("Error parsing %s at line %d: %v", csvDesc, i+2, err)
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// parseDecimal accepts "1,234.56" style thousands separators. Empty is zero.
func parseDecimal(data string, what string) (decimal.Decimal, error) {
	if data == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(data, ",", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("Error parsing %s: %v", what, err)
	}
	return d, nil
}

func parseNothing(data string, tx *Tx) error {
	return nil
}

func parseDate(data string, tx *Tx) error {
	d, err := date.Parse(CsvDateFormat, data)
	if err != nil {
		return err
	}
	tx.Date = d
	return nil
}

func parseKind(data string, tx *Tx) error {
	kind, err := ParseTxKind(data)
	if err != nil {
		return err
	}
	tx.Kind = kind
	return nil
}

func parseTicker(data string, tx *Tx) error {
	if data != "" {
		tx.Ticker = optional.NewString(data)
	}
	return nil
}

func parseIsin(data string, tx *Tx) error {
	if data == "" {
		return nil
	}
	if len(data) != 12 {
		return fmt.Errorf("Invalid ISIN '%s'", data)
	}
	tx.ISIN = optional.NewString(strings.ToUpper(data))
	return nil
}

func parseName(data string, tx *Tx) error {
	tx.Name = data
	return nil
}

func parseAssetType(data string, tx *Tx) error {
	tx.AssetType = ParseAssetType(data)
	return nil
}

func parseQuantity(data string, tx *Tx) (err error) {
	tx.Quantity, err = parseDecimal(data, "quantity")
	tx.Quantity = tx.Quantity.Abs()
	return
}

func parsePrice(data string, tx *Tx) (err error) {
	tx.Price, err = parseDecimal(data, "price")
	return
}

func parseFees(data string, tx *Tx) (err error) {
	tx.Fees, err = parseDecimal(data, "fees")
	tx.Fees = tx.Fees.Abs()
	return
}

func parseTotal(data string, tx *Tx) (err error) {
	tx.Total, err = parseDecimal(data, "total")
	return
}

func parseWithholdingTax(data string, tx *Tx) (err error) {
	tx.WithholdingTax, err = parseDecimal(data, "withholding tax")
	tx.WithholdingTax = tx.WithholdingTax.Abs()
	return
}

func parseCurrency(data string, tx *Tx) error {
	if data == "" {
		return nil
	}
	code := strings.ToUpper(data)
	if money.GetCurrency(code) == nil {
		return fmt.Errorf("Unknown currency '%s'", data)
	}
	tx.Currency = Currency(code)
	return nil
}

// The rate is base currency units per unit of the tx currency.
func parseFxRate(data string, tx *Tx) error {
	if data == "" {
		tx.FxRate = decimal_opt.Null
		return nil
	}
	rate, err := parseDecimal(data, "fx rate")
	if err != nil {
		return err
	}
	if !rate.IsPositive() {
		return fmt.Errorf("Exchange rate must be positive, got %s", data)
	}
	tx.FxRate = decimal_opt.New(rate)
	return nil
}

func parseMemo(data string, tx *Tx) error {
	tx.Memo = data
	return nil
}
