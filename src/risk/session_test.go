package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"newstrader/src/model"
)

func nyTime(year int, month time.Month, day, hour int) time.Time {
	return time.Date(year, month, day, hour, 0, 0, 0, newYork)
}

func TestSessionAt(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want Session
	}{
		{"tuesday late evening", nyTime(2025, time.March, 4, 21), SessionAsia},
		{"tuesday after midnight", nyTime(2025, time.March, 4, 1), SessionAsia},
		{"tuesday early morning", nyTime(2025, time.March, 4, 4), SessionLondon},
		{"tuesday open", nyTime(2025, time.March, 4, 10), SessionUS},
		{"tuesday close hour", nyTime(2025, time.March, 4, 17), SessionDeadZone},
		{"tuesday evening", nyTime(2025, time.March, 4, 18), SessionDeadZone},
		{"saturday", nyTime(2025, time.March, 8, 12), SessionWeekendHoliday},
		{"sunday london hours", nyTime(2025, time.March, 9, 4), SessionLondon},
		{"sunday afternoon", nyTime(2025, time.March, 9, 12), SessionWeekendHoliday},
		{"mlk day", nyTime(2025, time.January, 20, 10), SessionWeekendHoliday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SessionAt(tt.at))
		})
	}
}

func TestClosed(t *testing.T) {
	assert.False(t, Closed(nyTime(2025, time.March, 7, 8)), "friday before nine")
	assert.True(t, Closed(nyTime(2025, time.March, 7, 10)), "friday after nine")
	assert.True(t, Closed(nyTime(2025, time.March, 8, 12)), "saturday")
	assert.False(t, Closed(nyTime(2025, time.March, 9, 4)), "sunday london hours reopen")
	assert.True(t, Closed(nyTime(2025, time.March, 9, 1)), "sunday night")
	assert.True(t, Closed(nyTime(2025, time.November, 27, 12)), "thanksgiving")
	assert.False(t, Closed(nyTime(2025, time.March, 4, 12)), "plain tuesday")
}

func TestHolidays(t *testing.T) {
	for _, day := range []time.Time{
		nyTime(2023, time.January, 2, 12), // new year observed
		nyTime(2025, time.January, 20, 12),
		nyTime(2025, time.February, 17, 12),
		nyTime(2025, time.May, 26, 12),
		nyTime(2025, time.July, 4, 12),
		nyTime(2025, time.September, 1, 12),
		nyTime(2025, time.November, 27, 12),
		nyTime(2022, time.December, 26, 12), // christmas observed
	} {
		assert.True(t, IsHoliday(day), day.Format(time.DateOnly))
	}
	assert.False(t, IsHoliday(nyTime(2025, time.May, 19, 12)))
	assert.False(t, IsHoliday(nyTime(2025, time.November, 20, 12)))
}

func TestScale(t *testing.T) {
	tc := model.DefaultTradeConfig("acc")
	hundred := decimal.NewFromInt(100)

	size, s := Scale(hundred, nyTime(2025, time.March, 4, 10), tc)
	assert.Equal(t, SessionUS, s)
	assert.True(t, size.Equal(decimal.NewFromInt(125)), size.String())

	size, s = Scale(hundred, nyTime(2025, time.March, 8, 12), tc)
	assert.Equal(t, SessionWeekendHoliday, s)
	assert.True(t, size.Equal(decimal.NewFromInt(15)), size.String())

	tc.EnableNoTradeWindow = true
	size, s = Scale(hundred, nyTime(2025, time.March, 8, 12), tc)
	assert.Equal(t, SessionNoTrade, s)
	assert.True(t, size.IsZero())

	size, _ = Scale(decimal.Zero, nyTime(2025, time.March, 4, 10), tc)
	assert.True(t, size.IsZero())
}
