package backtest

import (
	"fmt"
	"slices"
	"time"

	"github.com/robfig/cron/v3"
)

// cron specs of the rebalance boundaries, evaluated in UTC so that a boundary is a calendar day.
var boundarySpecs = map[Period]string{
	Quarterly: "CRON_TZ=UTC 0 0 1 1,4,7,10 *",
	Yearly:    "CRON_TZ=UTC 0 0 1 1 *",
}

// Schedule is the ordered list of rebalance boundaries of a run, and which ones have been
// triggered so far.
type Schedule struct {
	boundaries []Date
	next       int // index of the first boundary not yet triggered
}

// NewSchedule lists the boundaries of frequency p that fall within r, both ends included.
func NewSchedule(p Period, r Range) (*Schedule, error) {
	spec, ok := boundarySpecs[p]
	if !ok {
		return nil, configErrorf("no rebalance schedule for %s", p)
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cannot parse schedule %q: %w", spec, err)
	}
	s := new(Schedule)
	// Next is strictly after its argument: start just before the first day.
	for t := sched.Next(r.From.Time().Add(-time.Second)); !t.IsZero(); t = sched.Next(t) {
		on := DateOf(t)
		if on.After(r.To) {
			break
		}
		s.boundaries = append(s.boundaries, on)
	}
	return s, nil
}

// Boundaries returns every boundary of the schedule.
func (s *Schedule) Boundaries() []Date { return slices.Clone(s.boundaries) }

// Len returns the number of boundaries.
func (s *Schedule) Len() int { return len(s.boundaries) }

// Due returns the earliest untriggered boundary on or before day.
func (s *Schedule) Due(day Date) (Date, bool) {
	if s.next >= len(s.boundaries) || s.boundaries[s.next].After(day) {
		return Date{}, false
	}
	return s.boundaries[s.next], true
}

// Trigger marks the earliest untriggered boundary as done and returns it.
// At most one boundary is consumed per call, even if several are overdue.
func (s *Schedule) Trigger() Date {
	b := s.boundaries[s.next]
	s.next++
	return b
}

// Pending reports whether day is itself a boundary that has not been triggered.
func (s *Schedule) Pending(day Date) bool {
	i, found := slices.BinarySearchFunc(s.boundaries, day, Date.Compare)
	return found && i >= s.next
}

// Skip marks every boundary up to and including day as triggered.
func (s *Schedule) Skip(day Date) {
	for s.next < len(s.boundaries) && !s.boundaries[s.next].After(day) {
		s.next++
	}
}
