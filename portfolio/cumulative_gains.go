package portfolio

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/util"
)

// CumulativeGains totals realized gains per calendar year of sale, keeping
// capital gains (disposals of securities and currency) apart from income.
type CumulativeGains struct {
	CapitalGainsTotal      decimal.Decimal
	CapitalGainsYearTotals map[int]decimal.Decimal
	IncomeTotal            decimal.Decimal
	IncomeYearTotals       map[int]decimal.Decimal
}

func newCumulativeGains() *CumulativeGains {
	return &CumulativeGains{
		CapitalGainsYearTotals: map[int]decimal.Decimal{},
		IncomeYearTotals:       map[int]decimal.Decimal{},
	}
}

// Years returns every year with either kind of gain, ascending.
func (g *CumulativeGains) Years() []int {
	yearSet := map[int]bool{}
	for year := range g.CapitalGainsYearTotals {
		yearSet[year] = true
	}
	for year := range g.IncomeYearTotals {
		yearSet[year] = true
	}
	years := util.MapKeys(yearSet)
	sort.Ints(years)
	return years
}

func (g *CumulativeGains) add(year int, gain decimal.Decimal, income bool) {
	if income {
		g.IncomeTotal = g.IncomeTotal.Add(gain)
		g.IncomeYearTotals[year] = g.IncomeYearTotals[year].Add(gain)
	} else {
		g.CapitalGainsTotal = g.CapitalGainsTotal.Add(gain)
		g.CapitalGainsYearTotals[year] = g.CapitalGainsYearTotals[year].Add(gain)
	}
}

func CalcCumulativeGains(events []TaxEvent) *CumulativeGains {
	gains := newCumulativeGains()
	for i := range events {
		ev := &events[i]
		gains.add(ev.DateSold.Year(), ev.RealizedGain, ev.IsIncome())
	}
	return gains
}

// CalcAssetCumulativeGains splits gains by asset identifier.
func CalcAssetCumulativeGains(events []TaxEvent) map[string]*CumulativeGains {
	byAsset := map[string]*CumulativeGains{}
	for i := range events {
		ev := &events[i]
		gains, ok := byAsset[ev.AssetID]
		if !ok {
			gains = newCumulativeGains()
			byAsset[ev.AssetID] = gains
		}
		gains.add(ev.DateSold.Year(), ev.RealizedGain, ev.IsIncome())
	}
	return byAsset
}

// SumCumulativeGains merges per-asset totals back into one.
func SumCumulativeGains(assetGains map[string]*CumulativeGains) *CumulativeGains {
	total := newCumulativeGains()
	for _, gains := range assetGains {
		for year, yearGains := range gains.CapitalGainsYearTotals {
			total.add(year, yearGains, false)
		}
		for year, yearGains := range gains.IncomeYearTotals {
			total.add(year, yearGains, true)
		}
	}
	return total
}
