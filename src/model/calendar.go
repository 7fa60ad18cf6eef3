package model

import (
	"fmt"
	"strconv"
	"time"
)

type CalendarResponse struct {
	Status string          `json:"status"`
	Result []CalendarEvent `json:"result"`
}

// CalendarEvent is one economic calendar entry as served by TradingView.
type CalendarEvent struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Country    string   `json:"country"`
	Indicator  string   `json:"indicator"`
	Ticker     string   `json:"ticker"`
	Comment    string   `json:"comment"`
	Category   string   `json:"category"`
	Period     string   `json:"period"`
	Source     string   `json:"source"`
	SourceURL  string   `json:"source_url"`
	Actual     *float64 `json:"actual"`
	Previous   *float64 `json:"previous"`
	Forecast   *float64 `json:"forecast"`
	Currency   string   `json:"currency"`
	Unit       string   `json:"unit"`
	Importance int      `json:"importance"`
	Date       TVTime   `json:"date"`
}

// ToNewsEvent converts the calendar entry into a news event of source "TradingView".
func (e CalendarEvent) ToNewsEvent() NewsEvent {
	body := e.Indicator
	if e.Forecast != nil {
		body = fmt.Sprintf("%s forecast %s", body, strconv.FormatFloat(*e.Forecast, 'f', -1, 64))
	}
	if e.Actual != nil {
		body = fmt.Sprintf("%s actual %s", body, strconv.FormatFloat(*e.Actual, 'f', -1, 64))
	}
	return NewsEvent{
		ID:        "tv-" + e.ID,
		Source:    "TradingView",
		Feed:      "tradingview",
		Title:     fmt.Sprintf("%s: %s", e.Country, e.Title),
		Body:      body,
		Link:      e.SourceURL,
		Timestamp: e.Date.Time.UTC(),
	}
}

// TVTime handles TradingView timestamps like:
// - "2025-12-08T16:00:00.000Z"
// - "2025-11-30T00:00:00Z"
type TVTime struct {
	time.Time
}

func (t *TVTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		t.Time = time.Time{}
		return nil
	}

	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("TVTime: invalid json string: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	layouts := []string{
		"2006-01-02T15:04:05.000Z",
		time.RFC3339,
		"2006-01-02T15:04:05Z",
	}

	var lastErr error
	for _, layout := range layouts {
		tt, e := time.Parse(layout, s)
		if e == nil {
			t.Time = tt
			return nil
		}
		lastErr = e
	}
	return fmt.Errorf("TVTime: parse %q: %w", s, lastErr)
}
