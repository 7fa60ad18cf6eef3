package news

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const treeFeed = "Tree Of Alpha"

var treeQuotePattern = regexp.MustCompile(`\bQuote\s+\[(@\w+)\]\([^)]*\)`)

type treeMessage struct {
	ID          string  `json:"_id"`
	En          string  `json:"en"`
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Link        string  `json:"link"`
	Body        string  `json:"body"`
	Source      string  `json:"source"`
	Type        string  `json:"type"`
	Time        float64 `json:"time"`
	Coin        string  `json:"coin"`
	Suggestions []struct {
		Coin string `json:"coin"`
	} `json:"suggestions"`
	Info struct {
		IsQuote bool `json:"isQuote"`
	} `json:"info"`
}

// TreeSource streams news from Tree Of Alpha.
type TreeSource struct {
	*wsFeed
	historyURL string
	http       *resty.Client
}

func NewTreeSource(cfg Config, key KeyFunc) *TreeSource {
	feed := &wsFeed{
		name:         "tree",
		url:          cfg.TreeWSURL,
		key:          key,
		parse:        ParseTreeMessage,
		dialer:       newDialer(),
		pingInterval: cfg.PingInterval,
		readTimeout:  cfg.ReadTimeout,
		log:          logger.WithField("source", "tree"),
	}
	return &TreeSource{wsFeed: feed, historyURL: cfg.TreeHistoryURL, http: newHistoryClient()}
}

func newHistoryClient() *resty.Client {
	return resty.New().
		SetTimeout(15 * time.Second).
		SetRetryCount(4).
		SetRetryWaitTime(400 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
}

func uniqueAppend(list []string, s string) []string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return list
	}
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

func eventID(link, fallback string) string {
	if l := model.NormalizeLink(link); l != "" {
		return l
	}
	return fallback
}

// ParseTreeMessage normalizes one Tree Of Alpha payload.
func ParseTreeMessage(data []byte) (model.NewsEvent, error) {
	var m treeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return model.NewsEvent{}, fmt.Errorf("decode tree message: %w", err)
	}
	if m.Time == 0 {
		return model.NewsEvent{}, errors.New("tree message without time")
	}

	title := m.En
	if title == "" {
		title = m.Title
	}
	link := m.URL
	if link == "" {
		link = m.Link
	}
	source := m.Source
	if source == "" {
		source = m.Type
	}
	body := m.Body

	if title == "" && body == "" {
		return model.NewsEvent{}, errors.New("tree message without content")
	}

	var coins []string
	coins = uniqueAppend(coins, m.Coin)
	for _, s := range m.Suggestions {
		coins = uniqueAppend(coins, s.Coin)
	}

	if body == "" {
		parts := strings.Split(title, ":")
		title = strings.TrimSpace(parts[0])
		body = strings.TrimSpace(strings.Join(parts[1:], ""))
	}

	if m.Type == "direct" {
		source = "Twitter"
	}

	var quote, quoter string
	if source == "Twitter" && m.Info.IsQuote {
		if loc := treeQuotePattern.FindStringSubmatchIndex(body); loc != nil {
			quoter = strings.TrimSpace(body[loc[2]:loc[3]])
			quote = strings.TrimSpace(body[loc[1]:])
			body = strings.TrimSpace(body[:loc[0]])
		}
	}

	ts := time.UnixMilli(int64(m.Time)).UTC()
	return model.NewsEvent{
		ID:        eventID(link, fmt.Sprintf("tree-%s-%d", m.ID, ts.UnixMilli())),
		Source:    source,
		Feed:      treeFeed,
		Title:     title,
		Body:      body,
		Link:      model.NormalizeLink(link),
		Quote:     quote,
		Quoter:    quoter,
		Coins:     coins,
		Timestamp: ts,
		Raw:       json.RawMessage(data),
	}, nil
}

func (s *TreeSource) FetchHistory(ctx context.Context, limit int) ([]model.NewsEvent, error) {
	return fetchHistory(ctx, s.http, s.historyURL, limit, ParseTreeMessage)
}

// fetchHistory reads a JSON array of newest-first payloads and returns them oldest first.
func fetchHistory(ctx context.Context, client *resty.Client, url string, limit int, parse func([]byte) (model.NewsEvent, error)) ([]model.NewsEvent, error) {
	var raw []json.RawMessage
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		ForceContentType("application/json").
		SetResult(&raw).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch history: HTTP %d", resp.StatusCode())
	}

	out := make([]model.NewsEvent, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		ev, err := parse(raw[i])
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
