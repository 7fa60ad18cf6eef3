package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"newstrader/src/model"
)

// Session labels the New York trading session an entry falls in.
type Session string

const (
	SessionWeekendHoliday Session = "weekend_holiday"
	SessionDeadZone       Session = "dead_zone"
	SessionAsia           Session = "asia_session"
	SessionLondon         Session = "london_session"
	SessionUS             Session = "us_session"
	SessionDefault        Session = "default"
	SessionNoTrade        Session = "no_trade"
)

var newYork = loadNewYork()

func loadNewYork() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.UTC
	}
	return loc
}

// intraday maps New York hours [from, to) to sessions. First match wins.
var intraday = []struct {
	session  Session
	from, to int
}{
	{SessionDeadZone, 17, 20},
	{SessionAsia, 20, 24},
	{SessionAsia, 0, 3},
	{SessionLondon, 3, 9},
	{SessionUS, 9, 17},
}

func intradaySession(hour int) Session {
	for _, w := range intraday {
		if hour >= w.from && hour < w.to {
			return w.session
		}
	}
	return SessionDefault
}

// SessionAt labels t. Sunday London hours count as London; the rest of the
// weekend and US market holidays are one session.
func SessionAt(t time.Time) Session {
	et := t.In(newYork)
	s := intradaySession(et.Hour())
	switch {
	case et.Weekday() == time.Sunday && s == SessionLondon:
		return SessionLondon
	case et.Weekday() == time.Saturday, et.Weekday() == time.Sunday, IsHoliday(et):
		return SessionWeekendHoliday
	}
	return s
}

// Closed reports whether t lies in the weekly no trade window: Friday 09:00
// New York until Sunday 03:00, plus every US market holiday.
func Closed(t time.Time) bool {
	et := t.In(newYork)
	if et.Weekday() == time.Sunday && intradaySession(et.Hour()) == SessionLondon {
		return false
	}
	if IsHoliday(et) {
		return true
	}
	switch et.Weekday() {
	case time.Friday:
		return et.Hour() >= 9
	case time.Saturday:
		return true
	case time.Sunday:
		return et.Hour() < 3
	}
	return false
}

// Multiplier returns the size multiplier tc stores for s.
func Multiplier(s Session, tc model.TradeConfig) decimal.Decimal {
	switch s {
	case SessionWeekendHoliday:
		return tc.WeekendHolidayMultiplier
	case SessionDeadZone:
		return tc.DeadZoneMultiplier
	case SessionAsia:
		return tc.AsiaMultiplier
	case SessionLondon:
		return tc.LondonMultiplier
	case SessionUS:
		return tc.USMultiplier
	case SessionNoTrade:
		return decimal.Zero
	}
	return tc.DefaultMultiplier
}

// Scale sizes base for an entry at t. Inside the no trade window of an account
// that enables it the size is zero.
func Scale(base decimal.Decimal, t time.Time, tc model.TradeConfig) (decimal.Decimal, Session) {
	if !base.IsPositive() {
		return decimal.Zero, SessionDefault
	}
	if tc.EnableNoTradeWindow && Closed(t) {
		return decimal.Zero, SessionNoTrade
	}
	s := SessionAt(t)
	return base.Mul(Multiplier(s, tc)), s
}

// ----- holidays -----

var holidayCache sync.Map // year -> map[string]bool

// IsHoliday reports whether the New York date of t is a US market holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(newYork)
	return holidays(et.Year())[et.Format(time.DateOnly)]
}

func holidays(year int) map[string]bool {
	if v, ok := holidayCache.Load(year); ok {
		return v.(map[string]bool)
	}
	days := []time.Time{
		observed(date(year, time.January, 1)),
		nthWeekday(year, time.January, time.Monday, 3),
		nthWeekday(year, time.February, time.Monday, 3),
		lastWeekday(year, time.May, time.Monday),
		observed(date(year, time.July, 4)),
		nthWeekday(year, time.September, time.Monday, 1),
		nthWeekday(year, time.November, time.Thursday, 4),
		observed(date(year, time.December, 25)),
	}
	set := make(map[string]bool, len(days))
	for _, d := range days {
		set[d.Format(time.DateOnly)] = true
	}
	v, _ := holidayCache.LoadOrStore(year, set)
	return v.(map[string]bool)
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// observed moves a Sunday holiday to Monday.
func observed(d time.Time) time.Time {
	if d.Weekday() == time.Sunday {
		return d.AddDate(0, 0, 1)
	}
	return d
}

func nthWeekday(year int, month time.Month, wd time.Weekday, n int) time.Time {
	first := date(year, month, 1)
	shift := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, shift+(n-1)*7)
}

func lastWeekday(year int, month time.Month, wd time.Weekday) time.Time {
	last := date(year, month+1, 0)
	shift := (int(last.Weekday()) - int(wd) + 7) % 7
	return last.AddDate(0, 0, -shift)
}
