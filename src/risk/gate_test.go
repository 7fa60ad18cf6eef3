package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newstrader/src/model"
)

func calEvent(id string, at time.Time, importance int) model.CalendarEvent {
	return model.CalendarEvent{ID: id, Title: "CPI " + id, Country: "US", Importance: importance, Date: model.TVTime{Time: at}}
}

func newTestGate(cfg Config, now time.Time, events ...model.CalendarEvent) *Gate {
	var upcoming func() []model.CalendarEvent
	if len(events) > 0 {
		upcoming = func() []model.CalendarEvent { return events }
	}
	g := NewGate(cfg, upcoming)
	null, _ := test.NewNullLogger()
	g.Log = logrus.NewEntry(null)
	g.now = func() time.Time { return now }
	return g
}

func entry(symbol string, newsTime time.Time) Entry {
	return Entry{NewsID: "n", NewsTime: newsTime, Symbol: symbol, Size: decimal.NewFromInt(2)}
}

func TestBlackout(t *testing.T) {
	base := time.Date(2025, 12, 8, 16, 0, 0, 0, time.UTC)
	events := []model.CalendarEvent{
		calEvent("1", base, 1),
		calEvent("2", base.Add(10*time.Minute), 1),
		calEvent("3", base.Add(-2*time.Hour), -1),
		{ID: "4", Importance: 1},
	}

	_, _, blocked := Blackout(base.Add(-20*time.Minute), events, 15*time.Minute, 15*time.Minute)
	assert.False(t, blocked)

	ev, until, blocked := Blackout(base.Add(5*time.Minute), events, 15*time.Minute, 15*time.Minute)
	require.True(t, blocked)
	assert.Equal(t, "2", ev.ID)
	assert.Equal(t, base.Add(25*time.Minute), until)

	_, _, blocked = Blackout(base.Add(-2*time.Hour), events, 15*time.Minute, 15*time.Minute)
	assert.False(t, blocked, "low importance events never block")
}

func TestGateRejectsStaleNews(t *testing.T) {
	now := nyTime(2025, time.March, 4, 10)
	g := newTestGate(Config{MaxNewsAge: time.Minute}, now)

	d := g.Check(entry("BTC", now.Add(-5*time.Minute)), model.DefaultTradeConfig("acc"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonStaleNews, d.Reason)

	d = g.Check(entry("BTC", now.Add(-30*time.Second)), model.DefaultTradeConfig("acc"))
	assert.True(t, d.Allowed)
	assert.True(t, d.Size.Equal(decimal.NewFromInt(2)))
}

func TestGateNewsWindow(t *testing.T) {
	now := nyTime(2025, time.March, 4, 10)
	g := newTestGate(Config{NewsBlockBefore: 15 * time.Minute, NewsBlockAfter: 15 * time.Minute}, now,
		calEvent("cpi", now.Add(5*time.Minute), 1))

	d := g.Check(entry("BTC", now), model.DefaultTradeConfig("acc"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNewsWindow, d.Reason)
	require.NotNil(t, d.Event)
	assert.Equal(t, "cpi", d.Event.ID)
	assert.Equal(t, now.Add(20*time.Minute).UTC(), d.Until)
	assert.True(t, d.Size.IsZero())
}

func TestGateSymbolCooldown(t *testing.T) {
	now := nyTime(2025, time.March, 4, 10)
	g := newTestGate(Config{SymbolCooldown: 5 * time.Minute}, now)
	tc := model.DefaultTradeConfig("acc")

	require.True(t, g.Check(entry("btc", now), tc).Allowed)

	d := g.Check(entry("BTC", now), tc)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonCooldown, d.Reason)
	assert.Equal(t, now.Add(5*time.Minute).UTC(), d.Until)

	assert.True(t, g.Check(entry("ETH", now), tc).Allowed, "other symbols are independent")

	g.now = func() time.Time { return now.Add(6 * time.Minute) }
	assert.True(t, g.Check(entry("BTC", now.Add(6*time.Minute)), tc).Allowed)
}

func TestGateSessionSizing(t *testing.T) {
	tc := model.DefaultTradeConfig("acc")

	g := newTestGate(Config{SessionSizing: true}, nyTime(2025, time.March, 4, 10))
	d := g.Check(entry("BTC", time.Time{}), tc)
	require.True(t, d.Allowed)
	assert.Equal(t, SessionUS, d.Session)
	assert.True(t, d.Size.Equal(decimal.RequireFromString("2.5")), d.Size.String())

	tc.EnableNoTradeWindow = true
	g = newTestGate(Config{SessionSizing: true}, nyTime(2025, time.March, 8, 12))
	d = g.Check(entry("BTC", time.Time{}), tc)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoTradeHours, d.Reason)

	tc.EnableNoTradeWindow = false
	tc.WeekendHolidayMultiplier = decimal.Zero
	d = g.Check(entry("BTC", time.Time{}), tc)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonZeroSize, d.Reason)
}
