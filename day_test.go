package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_Classify(t *testing.T) {
	s, err := NewSchedule(Quarterly, Range{day(2023, time.December, 1), day(2024, time.December, 31)})
	require.NoError(t, err)
	c := newCalendar(s)

	tests := []struct {
		day  Date
		want dayPlan
	}{
		{
			day(2023, time.December, 4),
			dayPlan{Day: day(2023, time.December, 4), Snapshot: true},
		},
		{
			day(2023, time.December, 29),
			dayPlan{Day: day(2023, time.December, 29)},
		},
		{
			day(2024, time.January, 2),
			dayPlan{
				Day:            day(2024, time.January, 2),
				PayDeferredTax: true,
				Rebalance:      true,
				Boundary:       day(2024, time.January, 1),
				Initial:        true,
				SettleYear:     2023,
				Snapshot:       true,
			},
		},
		{
			day(2024, time.January, 3),
			dayPlan{Day: day(2024, time.January, 3), Snapshot: true},
		},
		{
			day(2024, time.April, 1),
			dayPlan{Day: day(2024, time.April, 1), Rebalance: true, Boundary: day(2024, time.April, 1), Snapshot: true},
		},
		// the July boundary is missed: it triggers on the next visited day, October the day after.
		// Both rebalances are sampled although they are past the first week.
		{
			day(2024, time.October, 14),
			dayPlan{Day: day(2024, time.October, 14), Rebalance: true, Boundary: day(2024, time.July, 1), Snapshot: true},
		},
		{
			day(2024, time.October, 15),
			dayPlan{Day: day(2024, time.October, 15), Rebalance: true, Boundary: day(2024, time.October, 1), Snapshot: true},
		},
		{
			day(2024, time.October, 16),
			dayPlan{Day: day(2024, time.October, 16)},
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.classify(tt.day), "classify(%s)", tt.day)
	}
}

func TestCalendar_FirstDayNeverPaysTax(t *testing.T) {
	s, err := NewSchedule(Yearly, Range{day(2024, time.January, 1), day(2025, time.December, 31)})
	require.NoError(t, err)
	c := newCalendar(s)

	p := c.classify(day(2024, time.January, 2))
	assert.False(t, p.PayDeferredTax)
	assert.Zero(t, p.SettleYear)
	assert.True(t, p.Initial)

	p = c.classify(day(2025, time.January, 2))
	assert.True(t, p.PayDeferredTax)
	assert.Equal(t, 2024, p.SettleYear)
	assert.True(t, p.Rebalance)
	assert.False(t, p.Initial)
}
