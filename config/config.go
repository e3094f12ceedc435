// Package config loads settings from a .env file and TAXLOT_* environment
// variables. Command line flags are applied on top by cmd.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/taxlot/taxlot/log"
	ptf "github.com/taxlot/taxlot/portfolio"
)

const EnvPrefix = "TAXLOT_"

type Config struct {
	BaseCurrency string
	Method       string

	// Official rate files, and the degraded fallback used only when they
	// have no rate.
	RatesFiles         []string
	FallbackRatesFiles []string
	// Rate files quote foreign units per base unit, like the ECB.
	EcbQuotes bool
	// Persistent rate cache. Empty disables it.
	RatesDB string
	// Audit log. Empty disables sealing.
	AuditDB string

	LogLevel string
	LogJSON  bool

	DateFormat string
	// Write CSV/JSON exports here instead of printing tables.
	OutDir string
	Format string
}

func Default() *Config {
	return &Config{
		BaseCurrency: "EUR",
		Method:       "FIFO",
		LogLevel:     "warn",
		DateFormat:   "2006-01-02",
		Format:       "table",
	}
}

// Load reads envFiles (default ".env") into the process environment, then
// builds a Config from TAXLOT_* variables over the defaults. Missing env
// files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			log.Fverbosef(os.Stderr, "No %s file found, using environment only\n", f)
			continue
		} else if err != nil {
			return nil, fmt.Errorf("Failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from variables looked up with getenv.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := Default()
	get := func(key string) string {
		return strings.TrimSpace(getenv(EnvPrefix + key))
	}
	setStr := func(dst *string, key string) {
		if v := get(key); v != "" {
			*dst = v
		}
	}
	setBool := func(dst *bool, key string) error {
		v := get(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("Invalid %s%s %q: %w", EnvPrefix, key, v, err)
		}
		*dst = b
		return nil
	}

	setStr(&cfg.BaseCurrency, "BASE_CURRENCY")
	setStr(&cfg.Method, "METHOD")
	cfg.RatesFiles = splitList(get("RATES_FILES"))
	cfg.FallbackRatesFiles = splitList(get("FALLBACK_RATES_FILES"))
	setStr(&cfg.RatesDB, "RATES_DB")
	setStr(&cfg.AuditDB, "AUDIT_DB")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
	setStr(&cfg.DateFormat, "DATE_FORMAT")
	setStr(&cfg.OutDir, "OUT_DIR")
	setStr(&cfg.Format, "FORMAT")
	if err := setBool(&cfg.EcbQuotes, "ECB_QUOTES"); err != nil {
		return nil, err
	}
	if err := setBool(&cfg.LogJSON, "LOG_JSON"); err != nil {
		return nil, err
	}

	cfg.BaseCurrency = strings.ToUpper(cfg.BaseCurrency)
	return cfg, cfg.Validate()
}

var formats = []string{"table", "csv", "json"}

func (c *Config) Validate() error {
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("Invalid base currency %q", c.BaseCurrency)
	}
	// The engine falls back to FIFO on an unknown name, so reject it here.
	// SpecificID only describes income events.
	if method, ok := ptf.ParseMatchingMethod(c.Method); !ok || method == ptf.SPECIFIC_ID {
		return fmt.Errorf("Invalid matching method %q (want FIFO or WeightedAverage)", c.Method)
	}
	if _, ok := log.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("Invalid log level %q", c.LogLevel)
	}
	for _, f := range formats {
		if c.Format == f {
			return nil
		}
	}
	return fmt.Errorf("Invalid output format %q (want one of %s)", c.Format, strings.Join(formats, ", "))
}

// splitList splits a comma or path-list separated value.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == os.PathListSeparator
	}) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
