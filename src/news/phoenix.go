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

const phoenixFeed = "Phoenix News"

var (
	phoenixQuotePattern   = regexp.MustCompile(`&gt;&gt;QUOTE\s+.+?\s*[^\(@]*\((@\w+)\)`)
	phoenixReplyPattern   = regexp.MustCompile(`&gt;&gt;REPLY\s+.+?\s*[^\(@]*\((@\w+)\)`)
	phoenixRetweetPattern = regexp.MustCompile(`&gt;&gt;RT\s+.+?\s*[^\(@]*\((@\w+)\)`)
)

type phoenixMessage struct {
	ID          string   `json:"_id"`
	Source      string   `json:"source"`
	Username    string   `json:"username"`
	Body        string   `json:"body"`
	SourceName  string   `json:"sourceName"`
	Title       string   `json:"title"`
	URL         string   `json:"url"`
	Coin        string   `json:"coin"`
	IsQuote     bool     `json:"isQuote"`
	IsReply     bool     `json:"isReply"`
	IsSelfReply bool     `json:"isSelfReply"`
	IsRetweet   bool     `json:"isRetweet"`
	Time        *float64 `json:"time"`
	CreatedAt   string   `json:"createdAt"`
}

// PhoenixSource streams news from Phoenix News.
type PhoenixSource struct {
	*wsFeed
	historyURL string
	http       *resty.Client
}

func NewPhoenixSource(cfg Config, key KeyFunc) *PhoenixSource {
	feed := &wsFeed{
		name:         "phoenix",
		url:          cfg.PhoenixWSURL,
		key:          key,
		parse:        ParsePhoenixMessage,
		dialer:       newDialer(),
		pingInterval: cfg.PingInterval,
		readTimeout:  cfg.ReadTimeout,
		log:          logger.WithField("source", "phoenix"),
	}
	return &PhoenixSource{wsFeed: feed, historyURL: cfg.PhoenixHistoryURL, http: newHistoryClient()}
}

// stripAfter removes everything up to the end of the first match of re.
func stripAfter(re *regexp.Regexp, body string) string {
	if loc := re.FindStringIndex(body); loc != nil {
		return strings.TrimSpace(body[loc[1]:])
	}
	return body
}

// ParsePhoenixMessage normalizes one Phoenix News payload.
func ParsePhoenixMessage(data []byte) (model.NewsEvent, error) {
	var m phoenixMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return model.NewsEvent{}, fmt.Errorf("decode phoenix message: %w", err)
	}

	var ts time.Time
	switch {
	case m.Time != nil:
		ts = time.UnixMilli(int64(*m.Time)).UTC()
	case m.CreatedAt != "":
		parsed, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
		if err != nil {
			return model.NewsEvent{}, fmt.Errorf("phoenix createdAt: %w", err)
		}
		ts = parsed.UTC()
	default:
		return model.NewsEvent{}, errors.New("phoenix message without time")
	}

	ev := model.NewsEvent{
		Source:    m.Source,
		Feed:      phoenixFeed,
		Link:      model.NormalizeLink(m.URL),
		Timestamp: ts,
		Raw:       json.RawMessage(data),
	}

	if m.Source == "Twitter" {
		ev.Title = "@" + m.Username
		body := m.Body
		switch {
		case m.IsQuote:
			if loc := phoenixQuotePattern.FindStringSubmatchIndex(body); loc != nil {
				ev.Quoter = strings.TrimSpace(body[loc[2]:loc[3]])
				ev.Quote = strings.TrimSpace(body[loc[1]:])
				body = strings.TrimSpace(body[:loc[0]])
			}
		case m.IsReply, m.IsSelfReply:
			body = stripAfter(phoenixReplyPattern, body)
		case m.IsRetweet:
			body = stripAfter(phoenixRetweetPattern, body)
		}
		ev.Body = body
	} else {
		ev.Title = m.SourceName
		ev.Body = m.Title
	}

	if ev.Title == "" && ev.Body == "" {
		return model.NewsEvent{}, errors.New("phoenix message without content")
	}

	ev.Coins = uniqueAppend(nil, m.Coin)
	ev.ID = eventID(m.URL, fmt.Sprintf("phoenix-%s-%d", m.ID, ts.UnixMilli()))
	return ev, nil
}

func (s *PhoenixSource) FetchHistory(ctx context.Context, limit int) ([]model.NewsEvent, error) {
	return fetchHistory(ctx, s.http, s.historyURL, limit, ParsePhoenixMessage)
}
