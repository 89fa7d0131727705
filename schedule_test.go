package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchedule(t *testing.T) {
	tests := []struct {
		name string
		p    Period
		r    Range
		want []Date
	}{
		{
			name: "quarterly full year",
			p:    Quarterly,
			r:    Range{day(2023, time.January, 1), day(2023, time.December, 31)},
			want: []Date{day(2023, time.January, 1), day(2023, time.April, 1), day(2023, time.July, 1), day(2023, time.October, 1)},
		},
		{
			name: "quarterly mid quarter, end on a boundary",
			p:    Quarterly,
			r:    Range{day(2023, time.February, 15), day(2023, time.April, 1)},
			want: []Date{day(2023, time.April, 1)},
		},
		{
			name: "yearly",
			p:    Yearly,
			r:    Range{day(2022, time.January, 1), day(2024, time.June, 30)},
			want: []Date{day(2022, time.January, 1), day(2023, time.January, 1), day(2024, time.January, 1)},
		},
		{
			name: "no boundary",
			p:    Quarterly,
			r:    Range{day(2023, time.February, 15), day(2023, time.February, 15)},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSchedule(tt.p, tt.r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Boundaries())
			assert.Equal(t, len(tt.want), s.Len())
		})
	}
}

func TestNewSchedule_Monthly(t *testing.T) {
	_, err := NewSchedule(Monthly, Range{day(2023, time.January, 1), day(2023, time.December, 31)})
	assert.ErrorIs(t, err, ErrConfiguration, "NewSchedule(Monthly)")
}

func TestSchedule_TriggerOnePerCall(t *testing.T) {
	s, err := NewSchedule(Quarterly, Range{day(2023, time.January, 1), day(2023, time.December, 31)})
	require.NoError(t, err)

	// Jan 1 and Apr 1 are both overdue in August.
	aug := day(2023, time.August, 1)
	b, ok := s.Due(aug)
	require.True(t, ok)
	assert.Equal(t, day(2023, time.January, 1), b)
	assert.Equal(t, day(2023, time.January, 1), s.Trigger())

	b, ok = s.Due(aug)
	require.True(t, ok)
	assert.Equal(t, day(2023, time.April, 1), b)
	s.Trigger()

	b, ok = s.Due(aug)
	require.True(t, ok)
	assert.Equal(t, day(2023, time.July, 1), b)
	s.Trigger()

	_, ok = s.Due(aug)
	assert.False(t, ok, "October is not due in August")
}

func TestSchedule_PendingAndSkip(t *testing.T) {
	s, err := NewSchedule(Quarterly, Range{day(2023, time.January, 1), day(2023, time.December, 31)})
	require.NoError(t, err)

	assert.True(t, s.Pending(day(2023, time.January, 1)))
	assert.False(t, s.Pending(day(2023, time.January, 2)), "not a boundary")

	s.Skip(day(2023, time.July, 1))
	assert.False(t, s.Pending(day(2023, time.July, 1)))
	assert.True(t, s.Pending(day(2023, time.October, 1)))

	b, ok := s.Due(day(2023, time.October, 2))
	require.True(t, ok)
	assert.Equal(t, day(2023, time.October, 1), b)
}
