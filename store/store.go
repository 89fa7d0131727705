// Package store keeps market data in PostgreSQL and serves it back as a backtest.Provider.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/backtest"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS prices (
		symbol TEXT NOT NULL,
		day DATE NOT NULL,
		close NUMERIC NOT NULL,
		PRIMARY KEY (symbol, day)
	)`,
	`CREATE TABLE IF NOT EXISTS dividends (
		symbol TEXT NOT NULL,
		day DATE NOT NULL,
		amount NUMERIC NOT NULL,
		PRIMARY KEY (symbol, day)
	)`,
	`CREATE TABLE IF NOT EXISTS coverage (
		symbol TEXT NOT NULL,
		from_day DATE NOT NULL,
		to_day DATE NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Store is a read-through provider: a symbol whose window was already fetched is read from
// the database, the others are fetched from the next provider and saved.
type Store struct {
	db      *sqlx.DB
	next    backtest.Provider
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds every database round trip, 10s by default.
func WithTimeout(d time.Duration) Option { return func(s *Store) { s.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.logger = l } }

// Open connects to the PostgreSQL database at dsn.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// New returns a Store on db. next may be nil, then only stored windows can be served.
func New(db *sqlx.DB, next backtest.Provider, opts ...Option) *Store {
	s := &Store{db: db, next: next, timeout: 10 * time.Second, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cannot migrate: %w", err)
		}
	}
	return nil
}

// Fetch implements backtest.Provider.
func (s *Store) Fetch(ctx context.Context, symbols []string, r backtest.Range) (*backtest.MarketData, error) {
	data := backtest.NewMarketData()
	var missing []string
	for _, symbol := range symbols {
		ok, err := s.covered(ctx, symbol, r)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		series, err := s.Load(ctx, symbol, r)
		if err != nil {
			return nil, err
		}
		data.AddSeries(series)
	}

	if len(missing) > 0 {
		if s.next == nil {
			return nil, &backtest.DataError{Symbol: missing[0], Range: r, Err: errors.New("not in store")}
		}
		fetched, err := s.next.Fetch(ctx, missing, r)
		if err != nil {
			return nil, err
		}
		for _, symbol := range missing {
			if err := s.Save(ctx, fetched.Series(symbol, r), r); err != nil {
				// the run can go on with what was fetched
				s.logger.Warn().Err(err).Str("symbol", symbol).Msg("cannot store market data")
			}
		}
		data.Merge(fetched)
	}
	if err := data.Check(symbols, r); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) covered(ctx context.Context, symbol string, r backtest.Range) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var ok bool
	err := s.db.GetContext(ctx, &ok,
		`SELECT EXISTS (SELECT 1 FROM coverage WHERE symbol = $1 AND from_day <= $2 AND to_day >= $3)`,
		symbol, r.From.Time(), r.To.Time())
	if err != nil {
		return false, fmt.Errorf("cannot query coverage of %s: %w", symbol, err)
	}
	return ok, nil
}

type point struct {
	Day   time.Time       `db:"day"`
	Value decimal.Decimal `db:"value"`
}

func points(rows []point) []backtest.Point {
	res := make([]backtest.Point, 0, len(rows))
	for _, p := range rows {
		res = append(res, backtest.Point{Date: backtest.DateOf(p.Day), Value: p.Value})
	}
	return res
}

// Load reads the stored series of symbol within r.
func (s *Store) Load(ctx context.Context, symbol string, r backtest.Range) (backtest.Series, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	series := backtest.Series{Symbol: symbol}
	var prices, dividends []point
	err := s.db.SelectContext(ctx, &prices,
		`SELECT day, close AS value FROM prices WHERE symbol = $1 AND day BETWEEN $2 AND $3 ORDER BY day`,
		symbol, r.From.Time(), r.To.Time())
	if err != nil {
		return series, fmt.Errorf("cannot load prices of %s: %w", symbol, err)
	}
	err = s.db.SelectContext(ctx, &dividends,
		`SELECT day, amount AS value FROM dividends WHERE symbol = $1 AND day BETWEEN $2 AND $3 ORDER BY day`,
		symbol, r.From.Time(), r.To.Time())
	if err != nil {
		return series, fmt.Errorf("cannot load dividends of %s: %w", symbol, err)
	}
	series.Prices = points(prices)
	if len(dividends) > 0 {
		series.Dividends = points(dividends)
	}
	return series, nil
}

// Save upserts the points of series and records r as covered, in a single transaction.
func (s *Store) Save(ctx context.Context, series backtest.Series, r backtest.Range) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cannot begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	for _, p := range series.Prices {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO prices (symbol, day, close) VALUES ($1, $2, $3)
			ON CONFLICT (symbol, day) DO UPDATE SET close = EXCLUDED.close`,
			series.Symbol, p.Date.Time(), p.Value); err != nil {
			return describe(err, "price", series.Symbol, p.Date)
		}
	}
	for _, p := range series.Dividends {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO dividends (symbol, day, amount) VALUES ($1, $2, $3)
			ON CONFLICT (symbol, day) DO UPDATE SET amount = EXCLUDED.amount`,
			series.Symbol, p.Date.Time(), p.Value); err != nil {
			return describe(err, "dividend", series.Symbol, p.Date)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO coverage (symbol, from_day, to_day) VALUES ($1, $2, $3)`,
		series.Symbol, r.From.Time(), r.To.Time()); err != nil {
		return fmt.Errorf("cannot record coverage of %s: %w", series.Symbol, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cannot commit %s: %w", series.Symbol, err)
	}
	s.logger.Debug().Str("symbol", series.Symbol).Stringer("range", r).Int("prices", len(series.Prices)).Msg("stored")
	return nil
}

func describe(err error, kind, symbol string, on backtest.Date) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42P01" {
		return fmt.Errorf("cannot store %s of %s on %s: tables are missing, run migrate: %w", kind, symbol, on, err)
	}
	return fmt.Errorf("cannot store %s of %s on %s: %w", kind, symbol, on, err)
}
