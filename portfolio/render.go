package portfolio

import (
	"fmt"
	"os"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	decimal_opt "github.com/taxlot/taxlot/decimal_value"
	"github.com/taxlot/taxlot/util"
)

type _PrintHelper struct {
	PrintAllDecimals bool
	cur              *money.Currency
}

func newPrintHelper(base Currency, printAllDecimals bool) _PrintHelper {
	cur := money.GetCurrency(base.String())
	if cur == nil {
		// Unknown to go-money. Render as a bare code with two decimals.
		cur = &money.Currency{Code: base.String(), Fraction: 2, Grapheme: base.String() + " ",
			Template: "$1", Decimal: ".", Thousand: ","}
	}
	return _PrintHelper{PrintAllDecimals: printAllDecimals, cur: cur}
}

var displayNanEnvSetting util.Optional[string]

func NaNString() string {
	if !displayNanEnvSetting.Present() {
		displayNanEnvSetting.Set(os.Getenv("DISPLAY_NAN"))
	}
	if displayNanEnvSetting.MustGet() == "" || displayNanEnvSetting.MustGet() == "0" {
		return "-"
	}
	return "NaN"
}

// MoneyStr renders an amount of base currency, eg. "€1,234.50".
func (h _PrintHelper) MoneyStr(val decimal.Decimal) string {
	if h.PrintAllDecimals {
		sign := ""
		if val.IsNegative() {
			sign = "-"
		}
		s := strings.Replace(h.cur.Template, "1", val.Abs().String(), 1)
		return sign + strings.Replace(s, "$", h.cur.Grapheme, 1)
	}
	minor := val.Shift(int32(h.cur.Fraction)).Round(0).IntPart()
	return h.cur.Formatter().Format(minor)
}

func (h _PrintHelper) OptMoneyStr(val decimal_opt.DecimalOpt) string {
	if !val.Present() {
		return NaNString()
	}
	return h.MoneyStr(val.Decimal)
}

func (h _PrintHelper) PlusMinusMoney(val decimal.Decimal, showPlus bool) string {
	if showPlus && val.IsPositive() {
		return "+" + h.MoneyStr(val)
	}
	return h.MoneyStr(val)
}

func strOrDash(useStr bool, str string) string {
	if useStr {
		return str
	}
	return "-"
}

type RenderTable struct {
	Header []string
	Rows   [][]string
	Footer []string
	Notes  []string
	Errors []error
}

func (h _PrintHelper) yearTotalsFooter(gains *CumulativeGains) (string, string) {
	years := gains.Years()
	labels := []string{"Total"}
	vals := []string{h.PlusMinusMoney(gains.CapitalGainsTotal.Add(gains.IncomeTotal), false)}
	for _, year := range years {
		labels = append(labels, fmt.Sprintf("%d", year))
		yearly := gains.CapitalGainsYearTotals[year].Add(gains.IncomeYearTotals[year])
		vals = append(vals, h.PlusMinusMoney(yearly, false))
	}
	return strings.Join(labels, "\n"), strings.Join(vals, "\n")
}

func RenderEventsTable(
	events []TaxEvent, base Currency, renderFullValues bool) *RenderTable {

	table := &RenderTable{}
	table.Header = []string{"Event", "Asset", "Type", "Date Sold", "Acquired", "Quantity",
		"Proceeds", "Cost Basis", "Gain", "Days", "Method", "Sale FX", "Tax Paid", "Notes",
	}
	ph := newPrintHelper(base, renderFullValues)

	sawFxFees := false
	for i := range events {
		ev := &events[i]
		fees := ""
		if ev.AssetType == FX && !ev.FeeAmount.IsZero() {
			fees = fmt.Sprintf(" [1]\n(fee %s %s)", ev.FeeAmount.StringFixed(2), ev.FeeCurrency)
			sawFxFees = true
		}
		row := []string{
			ev.ID,
			util.Tern(ev.Ticker != "" && ev.AssetType != FX,
				fmt.Sprintf("%s\n(%s)", ev.AssetID, ev.Ticker), ev.AssetID),
			string(ev.AssetType),
			ev.DateSold.String(),
			strOrDash(!ev.IsIncome(), ev.DateAcquired.String()),
			strOrDash(!ev.IsIncome(), ev.QuantitySold.String()),
			ph.MoneyStr(ev.ProceedsBase),
			strOrDash(!ev.IsIncome(), ph.MoneyStr(ev.CostBasisBase)),
			ph.PlusMinusMoney(ev.RealizedGain, false) + fees,
			fmt.Sprintf("%d", ev.HoldingPeriodDays),
			ev.Method.String(),
			strOrDash(ev.SaleCurrency != base,
				fmt.Sprintf("%s %s", ev.SaleFxRate.StringFixed(6), ev.SaleCurrency)),
			strOrDash(!ev.TaxAlreadyPaid.IsZero(), ph.MoneyStr(ev.TaxAlreadyPaid)),
			ev.Notes,
		}
		table.Rows = append(table.Rows, row)
	}

	label, vals := ph.yearTotalsFooter(CalcCumulativeGains(events))
	table.Footer = []string{"", "", "", "", "", "", "", label, vals, "", "", "", "", ""}

	if sawFxFees {
		table.Notes = append(table.Notes,
			" [1] FX fees are reported separately and are not included in the cost basis or gain.")
	}
	return table
}

/*
Generates a RenderTable that will render out to this:
| Year             | Capital Gains | Income  |
+------------------+---------------+---------+
| 2000             | xxxx.xx       | xxxx.xx |
| 2001             | xxxx.xx       | xxxx.xx |
| Since inception  | xxxx.xx       | xxxx.xx |
*/
func RenderAggregateGains(
	gains *CumulativeGains, base Currency, renderFullValues bool) *RenderTable {

	table := &RenderTable{}
	table.Header = []string{"Year", "Capital Gains", "Income"}

	ph := newPrintHelper(base, renderFullValues)

	for _, year := range gains.Years() {
		table.Rows = append(table.Rows, []string{
			fmt.Sprintf("%d", year),
			ph.PlusMinusMoney(gains.CapitalGainsYearTotals[year], false),
			ph.PlusMinusMoney(gains.IncomeYearTotals[year], false),
		})
	}
	table.Rows = append(table.Rows, []string{
		"Since inception",
		ph.PlusMinusMoney(gains.CapitalGainsTotal, false),
		ph.PlusMinusMoney(gains.IncomeTotal, false),
	})
	return table
}

// RenderOpenLots lists remaining security and currency lots, in that order.
func RenderOpenLots(
	lots []SecurityLot, currencyLots []CurrencyLot, base Currency, renderFullValues bool) *RenderTable {

	table := &RenderTable{}
	table.Header = []string{"Lot", "Asset", "Acquired", "Quantity", "Cost Basis", "Cost/Unit", "Fees"}
	ph := newPrintHelper(base, renderFullValues)

	for i := range lots {
		lot := &lots[i]
		table.Rows = append(table.Rows, []string{
			lot.ID,
			lot.AssetKey.String(),
			lot.AcquisitionDate.String(),
			lot.Quantity.String(),
			ph.MoneyStr(lot.CostBasis),
			ph.OptMoneyStr(lot.AverageCost()),
			strOrDash(!lot.FeesBase.IsZero(), ph.MoneyStr(lot.FeesBase)),
		})
	}
	for i := range currencyLots {
		lot := &currencyLots[i]
		table.Rows = append(table.Rows, []string{
			lot.ID,
			fxAssetID(lot.Currency),
			lot.AcquisitionDate.String(),
			lot.Amount.StringFixed(2),
			ph.MoneyStr(lot.CostBasis),
			ph.OptMoneyStr(decimal_opt.New(lot.CostBasis).Div(decimal_opt.New(lot.Amount))),
			strOrDash(!lot.FeeAmount.IsZero(),
				fmt.Sprintf("%s %s", lot.FeeAmount.StringFixed(2), lot.FeeCurrency)),
		})
	}
	if len(lots) == 0 && len(currencyLots) == 0 {
		table.Notes = append(table.Notes, " No open lots.")
	}
	return table
}
