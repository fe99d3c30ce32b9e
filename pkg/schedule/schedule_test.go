package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utc(month time.Month, day, hour, minute int) time.Time {
	return time.Date(2026, month, day, hour, minute, 0, 0, time.UTC)
}

// 2026-06-01 is a Monday.
func TestSchedules_Next(t *testing.T) {
	tests := []struct {
		name  string
		sched Schedule
		from  time.Time
		want  time.Time
	}{
		{"every adds interval", Every(5 * time.Minute), utc(6, 1, 12, 0), utc(6, 1, 12, 5)},
		{"daily later today", Daily(9, 30), utc(6, 1, 8, 0), utc(6, 1, 9, 30)},
		{"daily exactly now rolls over", Daily(9, 30), utc(6, 1, 9, 30), utc(6, 2, 9, 30)},
		{"daily tomorrow", Daily(9, 30), utc(6, 1, 10, 0), utc(6, 2, 9, 30)},
		{"daily across month", Daily(0, 0), utc(6, 30, 23, 59), utc(7, 1, 0, 0)},
		{"weekly same day", Weekly(time.Monday, 10, 0), utc(6, 1, 0, 0), utc(6, 1, 10, 0)},
		{"weekly next week", Weekly(time.Monday, 10, 0), utc(6, 1, 11, 0), utc(6, 8, 10, 0)},
		{"weekly later this week", Weekly(time.Friday, 17, 0), utc(6, 1, 0, 0), utc(6, 5, 17, 0)},
		{"weekly wraps sunday", Weekly(time.Sunday, 8, 0), utc(6, 1, 0, 0), utc(6, 7, 8, 0)},
		{"cron daily", Cron("0 9 * * *"), utc(6, 1, 8, 0), utc(6, 1, 9, 0)},
		{"cron weekdays skips weekend", Cron("30 14 * * 1-5"), utc(6, 5, 15, 0), utc(6, 8, 14, 30)},
		{"cron descriptor", Cron("@hourly"), utc(6, 1, 8, 10), utc(6, 1, 9, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sched.Next(tt.from))
		})
	}
}

func TestEvery_Chains(t *testing.T) {
	s := Every(time.Hour)
	next := utc(6, 1, 12, 0)
	for i := 0; i < 3; i++ {
		next = s.Next(next)
	}
	assert.Equal(t, utc(6, 1, 15, 0), next)
}

func TestDaily_ConvertsToUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	from := time.Date(2026, 6, 1, 6, 0, 0, 0, est) // 11:00 UTC

	assert.Equal(t, utc(6, 2, 9, 0), Daily(9, 0).Next(from))
}

func TestParse(t *testing.T) {
	s, err := Parse("@every 5m")
	require.NoError(t, err)
	from := utc(6, 1, 0, 0)
	assert.Equal(t, from.Add(5*time.Minute), s.Next(from))

	for _, expr := range []string{"", "not a schedule", "61 * * * *", "* * * * * *"} {
		_, err := Parse(expr)
		assert.ErrorContains(t, err, "invalid cron expression", expr)
	}
}

func TestCron_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { Cron("invalid cron") })
}
