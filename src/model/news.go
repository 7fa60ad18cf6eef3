package model

import (
	"encoding/json"
	"strings"
	"time"
)

// NewsEvent is a normalized news record produced by a news source.
// It is treated as immutable once constructed; filters and resolvers never modify it.
type NewsEvent struct {
	ID        string          `json:"id"`
	Source    string          `json:"source"` // e.g. "Twitter", "Blogs", "TradingView"
	Feed      string          `json:"feed"`   // the news provider that delivered it
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Link      string          `json:"link"`
	Quote     string          `json:"quote,omitempty"`
	Quoter    string          `json:"quoter,omitempty"`
	Coins     []string        `json:"coins,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
}

// Data field names usable by data_field filter rules.
const (
	NewsFieldTitle  = "title"
	NewsFieldBody   = "body"
	NewsFieldSource = "source"
	NewsFieldFeed   = "feed"
	NewsFieldLink   = "link"
	NewsFieldQuote  = "quote"
	NewsFieldQuoter = "quoter"
	NewsFieldCoin   = "coin"
)

// NormalizeLink strips the trailing slash so the same article delivered
// by two feeds produces the same key.
func NormalizeLink(link string) string {
	return strings.TrimSuffix(strings.TrimSpace(link), "/")
}

// Field returns the textual value of a named field. The coin field is
// returned as a slice; all other fields return a single element.
// ok is false for unknown field names.
func (n NewsEvent) Field(name string) (values []string, ok bool) {
	switch strings.ToLower(name) {
	case NewsFieldTitle:
		return []string{n.Title}, true
	case NewsFieldBody:
		return []string{n.Body}, true
	case NewsFieldSource:
		return []string{n.Source}, true
	case NewsFieldFeed:
		return []string{n.Feed}, true
	case NewsFieldLink:
		return []string{n.Link}, true
	case NewsFieldQuote:
		return []string{n.Quote}, true
	case NewsFieldQuoter:
		return []string{n.Quoter}, true
	case NewsFieldCoin, "coins":
		return n.Coins, true
	default:
		return nil, false
	}
}
