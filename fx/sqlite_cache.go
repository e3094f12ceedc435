package fx

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/taxlot/taxlot/date"
	_ "modernc.org/sqlite"
)

const createRatesTable = `
CREATE TABLE IF NOT EXISTS fx_rates (
	from_curr TEXT NOT NULL,
	to_curr TEXT NOT NULL,
	date TEXT NOT NULL,
	rate TEXT NOT NULL,
	fetched_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (from_curr, to_curr, date)
);`

// SqliteRatesCache is a RatesCache stored in a SQLite database. Rates are
// stored as decimal text so they round-trip exactly.
type SqliteRatesCache struct {
	db *sql.DB
}

// OpenSqliteRatesCache opens (creating if needed) the cache at path.
// Use ":memory:" for a throwaway cache.
func OpenSqliteRatesCache(path string) (*SqliteRatesCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Failed to open rates cache at %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createRatesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to migrate rates cache at %s: %w", path, err)
	}
	return &SqliteRatesCache{db: db}, nil
}

func (c *SqliteRatesCache) Close() error {
	return c.db.Close()
}

func (c *SqliteRatesCache) Get(d date.Date, from, to string) (decimal.Decimal, bool, error) {
	var rateStr string
	err := c.db.QueryRow(
		"SELECT rate FROM fx_rates WHERE from_curr = ? AND to_curr = ? AND date = ?",
		from, to, d.String()).Scan(&rateStr)
	if err == sql.ErrNoRows {
		return decimal.Zero, false, nil
	} else if err != nil {
		return decimal.Zero, false, err
	}
	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("Corrupt cached rate %q for %s: %w",
			rateStr, pairKey(d, from, to), err)
	}
	return rate, true, nil
}

func (c *SqliteRatesCache) Put(d date.Date, from, to string, rate decimal.Decimal) error {
	_, err := c.db.Exec(
		"INSERT OR REPLACE INTO fx_rates (from_curr, to_curr, date, rate) VALUES (?, ?, ?, ?)",
		from, to, d.String(), rate.String())
	return err
}

func (c *SqliteRatesCache) All() ([]CachedRate, error) {
	rows, err := c.db.Query("SELECT from_curr, to_curr, date, rate FROM fx_rates")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CachedRate
	for rows.Next() {
		var from, to, dateStr, rateStr string
		if err := rows.Scan(&from, &to, &dateStr, &rateStr); err != nil {
			return nil, err
		}
		d, err := date.Parse(date.DefaultFormat, dateStr)
		if err != nil {
			return nil, err
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, err
		}
		out = append(out, CachedRate{Date: d, From: from, To: to, Rate: rate})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCachedRates(out)
	return out, nil
}

func sortCachedRates(rates []CachedRate) {
	sort.Slice(rates, func(i, j int) bool {
		a, b := rates[i], rates[j]
		if c := a.Date.Compare(b.Date); c != 0 {
			return c < 0
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
}
