package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/taxlot/taxlot/app"
	"github.com/taxlot/taxlot/app/outfmt"
	"github.com/taxlot/taxlot/audit"
	"github.com/taxlot/taxlot/config"
	"github.com/taxlot/taxlot/date"
	"github.com/taxlot/taxlot/fx"
	"github.com/taxlot/taxlot/log"
	ptf "github.com/taxlot/taxlot/portfolio"
	"github.com/taxlot/taxlot/util"
)

type flagValues struct {
	EnvFile            string
	BaseCurrency       string
	Method             string
	RatesFiles         []string
	FallbackRatesFiles []string
	EcbQuotes          bool
	RatesDB            string
	AuditDB            string
	LogLevel           string
	LogJSON            bool
	DateFormat         string
	OutDir             string
	Format             string
	Year               int
	Start              string
	End                string
	RenderFullValues   bool
}

var flags flagValues

// reportedError has already been printed along with the results.
type reportedError struct {
	error
}

// loadConfig reads the env file and TAXLOT_* variables, then applies any
// flags set on the command line over them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flags.EnvFile)
	if err != nil {
		return nil, err
	}
	set := func(name string) bool {
		return cmd.Flags().Changed(name)
	}
	if set("base-currency") {
		cfg.BaseCurrency = strings.ToUpper(flags.BaseCurrency)
	}
	if set("method") {
		cfg.Method = flags.Method
	}
	if set("rates") {
		cfg.RatesFiles = flags.RatesFiles
	}
	if set("fallback-rates") {
		cfg.FallbackRatesFiles = flags.FallbackRatesFiles
	}
	if set("ecb-quotes") {
		cfg.EcbQuotes = flags.EcbQuotes
	}
	if set("rates-db") {
		cfg.RatesDB = flags.RatesDB
	}
	if set("audit-db") {
		cfg.AuditDB = flags.AuditDB
	}
	if set("log-level") {
		cfg.LogLevel = flags.LogLevel
	}
	if set("log-json") {
		cfg.LogJSON = flags.LogJSON
	}
	if set("date-fmt") {
		cfg.DateFormat = flags.DateFormat
	}
	if set("out-dir") {
		cfg.OutDir = flags.OutDir
	}
	if set("format") {
		cfg.Format = flags.Format
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Init(cfg.LogLevel, cfg.LogJSON, os.Stderr)
	ptf.CsvDateFormat = cfg.DateFormat
	return cfg, nil
}

// reportRange resolves --year, --start and --end. --year wins.
func reportRange() (util.Optional[date.Date], util.Optional[date.Date], error) {
	start, end := util.None[date.Date](), util.None[date.Date]()
	if flags.Year != 0 {
		start = util.NewOptional(date.New(uint32(flags.Year), time.January, 1))
		end = util.NewOptional(date.New(uint32(flags.Year), time.December, 31))
		return start, end, nil
	}
	if flags.Start != "" {
		d, err := date.Parse(date.DefaultFormat, flags.Start)
		if err != nil {
			return start, end, fmt.Errorf("Invalid --start: %w", err)
		}
		start = util.NewOptional(d)
	}
	if flags.End != "" {
		d, err := date.Parse(date.DefaultFormat, flags.End)
		if err != nil {
			return start, end, fmt.Errorf("Invalid --end: %w", err)
		}
		end = util.NewOptional(d)
	}
	return start, end, nil
}

func reportWriter(cfg *config.Config) (outfmt.ReportWriter, error) {
	switch cfg.Format {
	case "csv":
		if cfg.OutDir == "" {
			return nil, errors.New("--out-dir is required for csv output")
		}
		return outfmt.NewCSVWriter(cfg.OutDir)
	case "json":
		return outfmt.NewJSONWriter(cfg.OutDir, os.Stdout)
	}
	return outfmt.NewSTDWriter(os.Stdout), nil
}

func runRootCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	start, end, err := reportRange()
	if err != nil {
		return err
	}
	writer, err := reportWriter(cfg)
	if err != nil {
		return err
	}

	sources, err := app.OpenRateSources(cfg)
	if err != nil {
		return err
	}
	defer sources.Close()

	var auditLog audit.Log
	if cfg.AuditDB != "" {
		sqliteLog, err := audit.OpenSqliteLog(cfg.AuditDB)
		if err != nil {
			return err
		}
		defer sqliteLog.Close()
		auditLog = sqliteLog
	}

	csvReaders := make([]app.DescribedReader, 0, len(args))
	for _, csvName := range args {
		fp, err := os.Open(csvName)
		if err != nil {
			return err
		}
		defer fp.Close()
		csvReaders = append(csvReaders, app.DescribedReader{Desc: csvName, Reader: fp})
	}

	opts := app.Options{
		Method:           cfg.Method,
		BaseCurrency:     cfg.BaseCurrency,
		Start:            start,
		End:              end,
		RenderFullValues: flags.RenderFullValues,
	}
	err = app.RunTaxLotApp(csvReaders, sources, auditLog, opts, writer, &log.StderrErrorPrinter{})
	if err != nil {
		return reportedError{err}
	}
	return nil
}

var ratesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Print the persistent exchange rate cache as a rates CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.RatesDB == "" {
			return fmt.Errorf("No rates database configured (--rates-db or %sRATES_DB)", config.EnvPrefix)
		}
		cache, err := fx.OpenSqliteRatesCache(cfg.RatesDB)
		if err != nil {
			return err
		}
		defer cache.Close()

		cached, err := cache.All()
		if err != nil {
			return err
		}
		rates := make([]fx.DailyRate, 0, len(cached))
		for _, r := range cached {
			if r.To != cfg.BaseCurrency {
				continue
			}
			rates = append(rates, fx.DailyRate{Date: r.Date, Currency: r.From, ForeignToBaseRate: r.Rate})
		}
		return fx.WriteRatesCsv(os.Stdout, rates)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Verify every sealed record in the audit log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.AuditDB == "" {
			return fmt.Errorf("No audit database configured (--audit-db or %sAUDIT_DB)", config.EnvPrefix)
		}
		auditLog, err := audit.OpenSqliteLog(cfg.AuditDB)
		if err != nil {
			return err
		}
		defer auditLog.Close()

		records, err := auditLog.Records()
		if err != nil {
			return err
		}
		broken := 0
		for _, r := range records {
			ok, err := audit.VerifyRecord(r)
			status := "ok"
			if err != nil {
				status = err.Error()
			} else if !ok {
				status = "BROKEN"
			}
			if status != "ok" {
				broken++
			}
			fmt.Printf("%s %s %s %s\n", r.EventID, r.Timestamp.Format(time.RFC3339), r.Hash, status)
		}
		if broken > 0 {
			return fmt.Errorf("%d of %d audit record(s) failed verification", broken, len(records))
		}
		return nil
	},
}

func cmdName() string {
	binName := os.Args[0]
	return filepath.Base(binName)
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   cmdName() + " [CSV_FILE ...]",
	Short: "Tax lot accounting tool",
	Long: fmt.Sprintf(
		`A cli tool which matches sales of securities and foreign currency against
their purchase lots (FIFO or weighted average), and reports realized gains and
income in a single base currency.

Amounts in other currencies are converted with official daily rates, read from
CSV files of date,currency,rate. A missing official rate is an error, unless
fallback rate files are given, in which case results are flagged as not
tax-compliant.

Each CSV provided should contain a header with these column names:
%s

Settings may also be given as %s* environment variables, or in a .env file.
 `, strings.Join(ptf.ColNames, ", "), config.EnvPrefix),
	RunE:          runRootCmd,
	Args:          cobra.MinimumNArgs(1),
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(ratesCmd, auditCmd)

	pf := RootCmd.PersistentFlags()
	pf.BoolVarP(&log.VerboseEnabled, "verbose", "v", false, "Print verbose output")
	pf.StringVar(&flags.EnvFile, "env-file", ".env", "Env file to load settings from, if present")
	pf.StringVar(&flags.BaseCurrency, "base-currency", "EUR", "Currency all results are reported in")
	pf.StringSliceVar(&flags.RatesFiles, "rates", nil,
		"Official rate CSV files (date,currency,rate). May be provided multiple times.")
	pf.StringSliceVar(&flags.FallbackRatesFiles, "fallback-rates", nil,
		"Rate CSV files used when no official rate exists. Results using them are not tax-compliant.")
	pf.BoolVar(&flags.EcbQuotes, "ecb-quotes", false,
		"Rate files quote foreign units per base unit, like ECB reference rates")
	pf.StringVar(&flags.RatesDB, "rates-db", "", "SQLite file to persist resolved official rates in")
	pf.StringVar(&flags.AuditDB, "audit-db", "", "SQLite file to append sealed audit records to")
	pf.StringVar(&flags.LogLevel, "log-level", "warn", "One of debug, info, warn, error")
	pf.BoolVar(&flags.LogJSON, "log-json", false, "Log as JSON lines")
	pf.StringVar(&flags.DateFormat, "date-fmt", date.DefaultFormat,
		"Format of how dates appear in the csv file. Must represent Jan 2, 2006")

	f := RootCmd.Flags()
	f.StringVarP(&flags.Method, "method", "m", "FIFO", "Lot matching method: FIFO or WEIGHTED_AVERAGE")
	f.StringVarP(&flags.OutDir, "out-dir", "o", "", "Write reports as files to this directory")
	f.StringVar(&flags.Format, "format", "table", "Output format: table, csv or json")
	f.IntVar(&flags.Year, "year", 0, "Only report events in this tax year")
	f.StringVar(&flags.Start, "start", "", "Only report events on or after this date (YYYY-MM-DD)")
	f.StringVar(&flags.End, "end", "", "Only report events on or before this date (YYYY-MM-DD)")
	f.BoolVar(&flags.RenderFullValues, "full-values", false, "Print values without rounding")
}
