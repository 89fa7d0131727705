package backtest

import (
	"fmt"
	"iter"
)

// Range represents a range of dates, both ends included.
type Range struct{ From, To Date }

// NewRange creates a new date range. If 'from' is after 'to', they are swapped.
func NewRange(from, to Date) Range {
	if from.After(to) {
		from, to = to, from
	}
	return Range{From: from, To: to}
}

// Contains return true date is included in the range (boundaries included)
func (r Range) Contains(date Date) bool { return !date.Before(r.From) && !date.After(r.To) }

// Covers reports whether r contains the whole of x.
func (r Range) Covers(x Range) bool { return r.Contains(x.From) && r.Contains(x.To) }

// Days returns the number of calendar days from From to To.
func (r Range) Days() int { return r.From.DaysUntil(r.To) }

// Years returns the elapsed time in years of 365.25 days.
func (r Range) Years() float64 { return float64(r.Days()) / 365.25 }

// Periods returns an iterator over the calendar periods that overlap r, clipped to r.
func (r Range) Periods(p Period) iter.Seq[Range] {
	return func(yield func(Range) bool) {
		for current := r.From; !current.After(r.To); {
			pr := p.Range(current)
			if pr.From.Before(r.From) {
				pr.From = r.From
			}
			if pr.To.After(r.To) {
				pr.To = r.To
			}
			if !yield(pr) {
				return
			}
			current = pr.To.Add(1)
		}
	}
}

// Identifier returns a compact string for the range, suitable for cache keys.
func (r Range) Identifier() string { return fmt.Sprintf("%s_%s", r.From, r.To) }

func (r Range) String() string { return fmt.Sprintf("%s..%s", r.From, r.To) }
