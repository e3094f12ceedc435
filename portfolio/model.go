package portfolio

import (
	"fmt"
	"sort"
	"strings"

	"github.com/markphelps/optional"
	"github.com/shopspring/decimal"

	"github.com/taxlot/taxlot/date"
	decimal_opt "github.com/taxlot/taxlot/decimal_value"
)

type Currency string

const (
	EUR Currency = "EUR"
	USD Currency = "USD"
)

const DefaultBaseCurrency = EUR

func (c Currency) String() string {
	return string(c)
}

type TxKind int

const (
	NO_KIND TxKind = iota
	BUY
	SELL
	DIVIDEND
	INTEREST
	TRANSFER_IN
	TRANSFER_OUT
	FX_BUY
	FX_SELL
	FX_EXCHANGE
	FEE
	DEPOSIT
	WITHDRAWAL
	STOCK_DIVIDEND
)

var txKindNames = map[TxKind]string{
	NO_KIND:        "Invalid Kind",
	BUY:            "Buy",
	SELL:           "Sell",
	DIVIDEND:       "Dividend",
	INTEREST:       "Interest",
	TRANSFER_IN:    "TransferIn",
	TRANSFER_OUT:   "TransferOut",
	FX_BUY:         "FxBuy",
	FX_SELL:        "FxSell",
	FX_EXCHANGE:    "FxExchange",
	FEE:            "Fee",
	DEPOSIT:        "Deposit",
	WITHDRAWAL:     "Withdrawal",
	STOCK_DIVIDEND: "StockDividend",
}

func (k TxKind) String() string {
	if name, ok := txKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("TxKind(%d)", int(k))
}

func (k TxKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TxKind) UnmarshalText(text []byte) error {
	kind, err := ParseTxKind(string(text))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Broker spellings, after upper-casing and dropping spaces, dashes and
// underscores.
var txKindSpellings = map[string]TxKind{
	"BUY":           BUY,
	"PURCHASE":      BUY,
	"KAUF":          BUY,
	"SELL":          SELL,
	"SALE":          SELL,
	"VERKAUF":       SELL,
	"DIVIDEND":      DIVIDEND,
	"DIVIDENDE":     DIVIDEND,
	"INTEREST":      INTEREST,
	"ZINSEN":        INTEREST,
	"TRANSFERIN":    TRANSFER_IN,
	"TRANSFEROUT":   TRANSFER_OUT,
	"FXBUY":         FX_BUY,
	"FXSELL":        FX_SELL,
	"FXEXCHANGE":    FX_EXCHANGE,
	"FEE":           FEE,
	"COST":          FEE,
	"DEPOSIT":       DEPOSIT,
	"WITHDRAWAL":    WITHDRAWAL,
	"STOCKDIVIDEND": STOCK_DIVIDEND,
}

func ParseTxKind(s string) (TxKind, error) {
	clean := strings.NewReplacer(" ", "", "-", "", "_", "").Replace(
		strings.ToUpper(strings.TrimSpace(s)))
	if kind, ok := txKindSpellings[clean]; ok {
		return kind, nil
	}
	return NO_KIND, fmt.Errorf("Unknown transaction kind: '%s'", s)
}

type AssetType string

const (
	STOCK       AssetType = "Stock"
	ETF         AssetType = "ETF"
	MUTUAL_FUND AssetType = "MutualFund"
	BOND        AssetType = "Bond"
	OPTION      AssetType = "Option"
	FUTURE      AssetType = "Future"
	WARRANT     AssetType = "Warrant"
	CRYPTO      AssetType = "Crypto"
	CASH        AssetType = "Cash"
	COMMODITY   AssetType = "Commodity"
	INDEX       AssetType = "Index"
	FX          AssetType = "FX"
	UNKNOWN     AssetType = "Unknown"
)

var assetTypeSpellings = map[string]AssetType{
	"STOCK": STOCK, "STOCKS": STOCK, "SHARE": STOCK, "SHARES": STOCK,
	"EQUITY": STOCK, "EQUITIES": STOCK, "COMMON STOCK": STOCK,
	"AKTIE": STOCK, "AKTIEN": STOCK, "SECURITY": STOCK, "WERTPAPIER": STOCK,
	"ETF": ETF, "ETFS": ETF, "ETC": ETF, "ETN": ETF, "INDEX FUND": ETF,
	"MUTUAL FUND": MUTUAL_FUND, "MUTUALFUND": MUTUAL_FUND, "FUND": MUTUAL_FUND, "FONDS": MUTUAL_FUND,
	"BOND": BOND, "BONDS": BOND, "ANLEIHE": BOND, "ANLEIHEN": BOND,
	"OPTION": OPTION, "OPTIONS": OPTION, "CALL": OPTION, "PUT": OPTION,
	"WARRANT": WARRANT, "WARRANTS": WARRANT, "OPTIONSSCHEIN": WARRANT,
	"FUTURE": FUTURE, "FUTURES": FUTURE,
	"CRYPTO": CRYPTO, "CRYPTOCURRENCY": CRYPTO, "KRYPTO": CRYPTO,
	"CASH": CASH, "MONEY MARKET": CASH,
	"COMMODITY": COMMODITY, "COMMODITIES": COMMODITY,
	"INDEX": INDEX,
	"FX": FX, "CURRENCY": FX,
}

// ParseAssetType never fails; unrecognized spellings are UNKNOWN.
func ParseAssetType(s string) AssetType {
	clean := strings.NewReplacer("-", " ", "_", " ").Replace(
		strings.ToUpper(strings.TrimSpace(s)))
	if t, ok := assetTypeSpellings[clean]; ok {
		return t
	}
	return UNKNOWN
}

// AssetKey identifies a security pool. It is namespaced so that an ISIN can
// never collide with a ticker symbol.
type AssetKey string

func IsinKey(isin string) AssetKey {
	return AssetKey("ISIN:" + isin)
}

func TickerKey(ticker string) AssetKey {
	return AssetKey("TICKER:" + ticker)
}

func (k AssetKey) String() string {
	return string(k)
}

type Tx struct {
	Date      date.Date       `json:"date"`
	Kind      TxKind          `json:"kind"`
	Ticker    optional.String `json:"ticker"`
	ISIN      optional.String `json:"isin"`
	Name      string          `json:"name,omitempty"`
	AssetType AssetType       `json:"asset_type"`

	Quantity       decimal.Decimal        `json:"quantity"`
	Price          decimal.Decimal        `json:"price"`
	Fees           decimal.Decimal        `json:"fees"`
	// Signed cash effect in Currency. Negative for outflows.
	Total          decimal.Decimal        `json:"total"`
	Currency       Currency               `json:"currency"`
	// Rate reported by the broker, if any. Only used for income events;
	// acquisitions and disposals always use the official rate.
	FxRate         decimal_opt.DecimalOpt `json:"fx_rate"`
	WithholdingTax decimal.Decimal        `json:"withholding_tax"`
	Memo           string                 `json:"memo,omitempty"`

	// The row this tx was read from. 0 when not read from a file.
	ReadIndex uint32 `json:"-"`
}

// AssetKey prefers the ISIN, which survives ticker renames and relistings.
func (tx *Tx) AssetKey() AssetKey {
	if isin := strings.TrimSpace(tx.ISIN.OrElse("")); isin != "" {
		return IsinKey(isin)
	}
	return TickerKey(tx.Ticker.OrElse(""))
}

// GrossAmount is the absolute cash amount of the tx. When the source did not
// report a total it is rebuilt from quantity and price, with fees added to
// the cost of a buy and deducted from the proceeds of a sell.
func (tx *Tx) GrossAmount() decimal.Decimal {
	if !tx.Total.IsZero() {
		return tx.Total.Abs()
	}
	amount := tx.Quantity.Mul(tx.Price)
	switch tx.Kind {
	case BUY, FX_BUY:
		return amount.Add(tx.Fees)
	case SELL, FX_SELL:
		return amount.Sub(tx.Fees)
	}
	return amount
}

func (tx *Tx) String() string {
	asset := tx.AssetKey().String()
	if tx.Kind == FX_BUY || tx.Kind == FX_SELL || tx.Kind == FX_EXCHANGE {
		asset = "FX:" + tx.Currency.String()
	}
	return fmt.Sprintf("%s %s %s %s", tx.Date, tx.Kind, tx.Quantity, asset)
}

// SortTxs orders txs by date. Txs on the same date keep their input order,
// so the replay order of a given list never varies.
func SortTxs(txs []*Tx) {
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Date.Before(txs[j].Date)
	})
}
