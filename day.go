package backtest

// dayPlan lists what the engine does on one trading day, in execution order.
type dayPlan struct {
	Day Date

	PayDeferredTax bool // first day of a new calendar year: pay last year's capital-gains tax
	Rebalance      bool // first day on or after an untriggered boundary
	Boundary       Date // the boundary being triggered, when Rebalance
	Initial        bool // the rebalance is the initial purchase
	SettleYear     int  // previous calendar year to settle, 0 for none
	Snapshot       bool // monthly sample or rebalance
}

// snapshotDays is how many days into a month a trading day is still sampled.
const snapshotDays = 7

// calendar turns trading days into plans. It carries the cross-day state that decides
// which sub-operations apply: the previous year seen, the schedule progress and whether
// the initial purchase happened.
type calendar struct {
	schedule *Schedule
	prevYear int // 0 before the first day
	invested bool
}

func newCalendar(s *Schedule) *calendar { return &calendar{schedule: s} }

// classify returns the plan of day and advances the calendar past it.
// Days must be classified in ascending order.
func (c *calendar) classify(day Date) dayPlan {
	p := dayPlan{Day: day}
	yearChanged := c.prevYear != 0 && day.Year() != c.prevYear

	p.PayDeferredTax = yearChanged
	if _, due := c.schedule.Due(day); due {
		p.Rebalance = true
		p.Boundary = c.schedule.Trigger()
		p.Initial = !c.invested
		c.invested = true
	}
	if yearChanged {
		p.SettleYear = c.prevYear
	}
	p.Snapshot = day.Day() <= snapshotDays || p.Rebalance

	c.prevYear = day.Year()
	return p
}
