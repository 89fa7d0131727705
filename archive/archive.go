// Package archive persists market data in a folder of JSONL files and serves it back as a backtest.Provider.
//
// The layout is meant to be human readable and git friendly, so that a set of
// prices can live next to the portfolios that use it:
//
//	coverage.jsonl   one {"symbol","from","to"} line per fetched window
//	dividends.jsonl  one {"on": date, SYMBOL: amount, ...} line per ex-date
//	YYYY.jsonl       one {"on": date, SYMBOL: close, ...} line per trading day
//
// Symbols in a line are sorted, and so are the lines, so that updating the
// archive produces small diffs.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/etnz/backtest"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	attrOn            = "on"
	coverageFilename  = "coverage.jsonl"
	dividendsFilename = "dividends.jsonl"
	pricesGlob        = "[0-9][0-9][0-9][0-9].jsonl"
)

// everything is wider than any market data history.
var everything = backtest.Range{From: backtest.NewDate(1, time.January, 1), To: backtest.NewDate(9999, time.December, 31)}

// Coverage records that the archive holds everything a provider returned for Symbol over a window.
type Coverage struct {
	Symbol string        `json:"symbol"`
	From   backtest.Date `json:"from"`
	To     backtest.Date `json:"to"`
}

// Range returns the covered window.
func (c Coverage) Range() backtest.Range { return backtest.Range{From: c.From, To: c.To} }

// Archive is a provider reading market data from a folder, and writing back what it fetched from the next provider.
type Archive struct {
	dir    string
	next   backtest.Provider
	logger zerolog.Logger

	mu sync.Mutex // serializes folder updates
}

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger of the archive.
func WithLogger(l zerolog.Logger) Option { return func(a *Archive) { a.logger = l } }

// New returns an archive in dir. next may be nil, then the archive only serves what it already holds.
func New(dir string, next backtest.Provider, opts ...Option) *Archive {
	a := &Archive{dir: dir, next: next, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fetch implements backtest.Provider.
func (a *Archive) Fetch(ctx context.Context, symbols []string, r backtest.Range) (*backtest.MarketData, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data, coverage, err := Decode(a.dir)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, symbol := range symbols {
		if !covered(coverage, symbol, r) {
			missing = append(missing, symbol)
		}
	}

	if len(missing) > 0 {
		if a.next == nil {
			return nil, &backtest.DataError{Symbol: missing[0], Range: r, Err: errors.New("not in archive")}
		}
		fetched, err := a.next.Fetch(ctx, missing, r)
		if err != nil {
			return nil, err
		}
		data.Merge(fetched)
		for _, symbol := range missing {
			coverage = append(coverage, Coverage{Symbol: symbol, From: r.From, To: r.To})
		}
		if err := Encode(a.dir, data, coverage); err != nil {
			// the run can go on with what was fetched
			a.logger.Warn().Err(err).Str("dir", a.dir).Msg("cannot update market data archive")
		} else {
			a.logger.Debug().Strs("symbols", missing).Str("range", r.String()).Msg("archived market data")
		}
	}

	out := data.Window(r)
	if err := out.Check(symbols, r); err != nil {
		return nil, err
	}
	return out, nil
}

func covered(coverage []Coverage, symbol string, r backtest.Range) bool {
	for _, c := range coverage {
		if c.Symbol == symbol && c.Range().Covers(r) {
			return true
		}
	}
	return false
}

// fileLine is a line of a file of the archive, with its position for error messages.
type fileLine struct {
	filename string
	i        int
	txt      []byte
}

func readLines(filename string) ([]fileLine, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open %q for reading: %w", filename, err)
	}
	defer f.Close()

	var lines []fileLine
	scanner := bufio.NewScanner(f)
	for i := 1; scanner.Scan(); i++ {
		txt := bytes.TrimSpace(scanner.Bytes())
		if len(txt) == 0 {
			continue
		}
		lines = append(lines, fileLine{filename, i, slices.Clone(txt)})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read %q: %w", filename, err)
	}
	return lines, nil
}

// decodeLine parses a {"on": date, SYMBOL: value} line and hands every pair to add.
func decodeLine(l fileLine, add func(symbol string, on backtest.Date, v decimal.Decimal)) error {
	jobj := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(l.txt))
	dec.UseNumber()
	if err := dec.Decode(&jobj); err != nil {
		return fmt.Errorf("parse error %s:%d: not a correct json: %w", l.filename, l.i, err)
	}

	jvalue, ok := jobj[attrOn]
	if !ok {
		return fmt.Errorf("parse error %s:%d: missing the property %q with a date", l.filename, l.i, attrOn)
	}
	jstring, ok := jvalue.(string)
	if !ok {
		return fmt.Errorf("parse error %s:%d: property %q must be of type 'string'", l.filename, l.i, attrOn)
	}
	on, err := backtest.ParseDate(jstring)
	if err != nil {
		return fmt.Errorf("parse error %s:%d: property %q must be a valid date: %w", l.filename, l.i, attrOn, err)
	}

	for symbol, value := range jobj {
		if symbol == attrOn {
			continue
		}
		n, ok := value.(json.Number)
		if !ok {
			return fmt.Errorf("parse error %s:%d: property %q must be of type 'number'", l.filename, l.i, symbol)
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return fmt.Errorf("parse error %s:%d: property %q: %w", l.filename, l.i, symbol, err)
		}
		add(symbol, on, v)
	}
	return nil
}

// Decode reads the archive in dir. A missing folder is an empty archive.
func Decode(dir string) (*backtest.MarketData, []Coverage, error) {
	m := backtest.NewMarketData()

	var coverage []Coverage
	lines, err := readLines(filepath.Join(dir, coverageFilename))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return m, nil, nil
	case err != nil:
		return nil, nil, fmt.Errorf("load error: %w", err)
	}
	for _, l := range lines {
		var c Coverage
		if err := json.Unmarshal(l.txt, &c); err != nil {
			return nil, nil, fmt.Errorf("parse error %s:%d: %w", l.filename, l.i, err)
		}
		coverage = append(coverage, c)
	}

	filenames, err := filepath.Glob(filepath.Join(dir, pricesGlob))
	if err != nil {
		return nil, nil, fmt.Errorf("load error: cannot scan folder %q for market data files: %w", dir, err)
	}
	for _, filename := range filenames {
		lines, err := readLines(filename)
		if err != nil {
			return nil, nil, fmt.Errorf("load error: %w", err)
		}
		for _, l := range lines {
			if err := decodeLine(l, m.AddPrice); err != nil {
				return nil, nil, err
			}
		}
	}

	lines, err = readLines(filepath.Join(dir, dividendsFilename))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("load error: %w", err)
	}
	for _, l := range lines {
		if err := decodeLine(l, m.AddDividend); err != nil {
			return nil, nil, err
		}
	}
	return m, coverage, nil
}

// day is a line of the archive: the values of every symbol on a date.
type day struct {
	on      backtest.Date
	symbols []string
	values  []decimal.Decimal
}

// encodeLine writes d as a single json line.
func encodeLine(w io.Writer, d day) error {
	var jw objectWriter
	jw.Append(attrOn, d.on.String())
	for i, symbol := range d.symbols {
		jw.Append(symbol, json.Number(d.values[i].String()))
	}
	b, err := jw.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// days transposes per symbol points into sorted lines.
func days(symbols []string, points func(symbol string) []backtest.Point) []day {
	index := make(map[backtest.Date]int)
	var out []day
	for _, symbol := range symbols {
		for _, p := range points(symbol) {
			i, ok := index[p.Date]
			if !ok {
				i = len(out)
				index[p.Date] = i
				out = append(out, day{on: p.Date})
			}
			out[i].symbols = append(out[i].symbols, symbol)
			out[i].values = append(out[i].values, p.Value)
		}
	}
	slices.SortFunc(out, func(a, b day) int { return a.on.Compare(b.on) })
	return out
}

func writeFile(filename string, write func(w io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("persist error: cannot create file %q: %w", filename, err)
	}
	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		return fmt.Errorf("persist error: write error on file %q: %w", filename, err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("persist error: write error on file %q: %w", filename, err)
	}
	return f.Close()
}

// Encode writes m and its coverage into dir, and deletes the yearly files that are no longer needed.
func Encode(dir string, m *backtest.MarketData, coverage []Coverage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("persist error: %w", err)
	}
	symbols := m.Symbols()
	slices.Sort(symbols)

	coverage = slices.Clone(coverage)
	slices.SortStableFunc(coverage, func(a, b Coverage) int {
		if a.Symbol != b.Symbol {
			if a.Symbol < b.Symbol {
				return -1
			}
			return 1
		}
		return a.From.Compare(b.From)
	})
	err := writeFile(filepath.Join(dir, coverageFilename), func(w io.Writer) error {
		for _, c := range coverage {
			b, err := json.Marshal(c)
			if err != nil {
				return err
			}
			if _, err := w.Write(append(b, '\n')); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	series := make(map[string]backtest.Series, len(symbols))
	for _, s := range symbols {
		series[s] = m.Series(s, everything)
	}

	err = writeFile(filepath.Join(dir, dividendsFilename), func(w io.Writer) error {
		for _, d := range days(symbols, func(s string) []backtest.Point { return series[s].Dividends }) {
			if err := encodeLine(w, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// one file per year
	byYear := make(map[int][]day)
	for _, d := range days(symbols, func(s string) []backtest.Point { return series[s].Prices }) {
		byYear[d.on.Year()] = append(byYear[d.on.Year()], d)
	}
	created := make(map[string]struct{}, len(byYear))
	for year, lines := range byYear {
		filename := filepath.Join(dir, fmt.Sprintf("%04d.jsonl", year))
		err := writeFile(filename, func(w io.Writer) error {
			for _, d := range lines {
				if err := encodeLine(w, d); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		created[filename] = struct{}{}
	}

	filenames, err := filepath.Glob(filepath.Join(dir, pricesGlob))
	if err != nil {
		return fmt.Errorf("persist error: cannot scan folder %q for market data files to be deleted: %w", dir, err)
	}
	for _, filename := range filenames {
		if _, ok := created[filename]; ok {
			continue
		}
		if err := os.Remove(filename); err != nil {
			return fmt.Errorf("persist error: cannot delete file %q: %w", filename, err)
		}
	}
	return nil
}
