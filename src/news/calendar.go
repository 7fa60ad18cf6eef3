package news

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const calendarTimeLayout = "2006-01-02T15:04:05.000Z"

// CalendarSource polls the TradingView economic calendar. Released
// high-importance events are emitted as news, and the upcoming ones are kept
// for the trade blackout gate.
type CalendarSource struct {
	Log *logger.Entry

	url       string
	interval  time.Duration
	countries []string
	http      *resty.Client
	now       func() time.Time

	mu       sync.RWMutex
	upcoming []model.CalendarEvent
}

func NewCalendarSource(cfg Config) *CalendarSource {
	interval := cfg.CalendarInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CalendarSource{
		Log:       logger.WithField("source", "calendar"),
		url:       cfg.CalendarURL,
		interval:  interval,
		countries: cfg.CalendarCountries,
		now:       time.Now,
		http: resty.New().
			SetTimeout(15*time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(500*time.Millisecond).
			SetHeader("accept", "application/json").
			SetHeader("accept-language", "en-GB,en;q=0.9").
			SetHeader("origin", "https://www.tradingview.com").
			SetHeader("referer", "https://www.tradingview.com/"),
	}
}

func (c *CalendarSource) Name() string {
	return "calendar"
}

// FetchImportantEvents returns the importance=1 events between from and to.
func (c *CalendarSource) FetchImportantEvents(ctx context.Context, fromUTC, toUTC time.Time) ([]model.CalendarEvent, error) {
	var decoded model.CalendarResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"from":      fromUTC.UTC().Format(calendarTimeLayout),
			"to":        toUTC.UTC().Format(calendarTimeLayout),
			"countries": strings.Join(c.countries, ","),
		}).
		ForceContentType("application/json").
		SetResult(&decoded).
		Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.IsError() {
		body := resp.Body()
		if len(body) > 1024 {
			body = body[:1024]
		}
		return nil, fmt.Errorf("unexpected status %d. body: %s", resp.StatusCode(), string(body))
	}
	if decoded.Status != "ok" && decoded.Status != "" {
		return nil, fmt.Errorf("unexpected status field: %q", decoded.Status)
	}

	out := make([]model.CalendarEvent, 0, len(decoded.Result))
	for _, ev := range decoded.Result {
		if ev.Importance == 1 {
			out = append(out, ev)
		}
	}
	c.Log.WithFields(map[string]interface{}{"fetched": len(decoded.Result), "important": len(out)}).Debug("calendar fetched")
	return out, nil
}

// Upcoming returns the important events of the last poll.
func (c *CalendarSource) Upcoming() []model.CalendarEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.CalendarEvent(nil), c.upcoming...)
}

func (c *CalendarSource) poll(ctx context.Context, emit func(model.NewsEvent)) error {
	now := c.now().UTC()
	events, err := c.FetchImportantEvents(ctx, now.Add(-24*time.Hour), now.Add(24*time.Hour))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.upcoming = events
	c.mu.Unlock()

	for _, ev := range events {
		if ev.Date.Time.IsZero() || ev.Date.Time.After(now) {
			continue
		}
		emit(ev.ToNewsEvent())
	}
	return nil
}

func (c *CalendarSource) Run(ctx context.Context, emit func(model.NewsEvent)) error {
	if err := c.poll(ctx, emit); err != nil {
		return err
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.poll(ctx, emit); err != nil {
				return err
			}
		}
	}
}
