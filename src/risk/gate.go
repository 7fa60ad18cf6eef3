package risk

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

const (
	ReasonAllowed      = "allowed"
	ReasonStaleNews    = "stale_news"
	ReasonNewsWindow   = "blocked_by_news_window"
	ReasonNoTradeHours = "blocked_by_no_trade_window"
	ReasonCooldown     = "symbol_cooldown"
	ReasonZeroSize     = "zero_size"
)

// Entry is an automatic trade triggered by one news event.
type Entry struct {
	NewsID   string
	NewsTime time.Time
	Symbol   string
	Size     decimal.Decimal
}

// Decision is the outcome of Gate.Check. Size is zero unless Allowed.
type Decision struct {
	Allowed bool
	Reason  string
	Size    decimal.Decimal
	Session Session
	Event   *model.CalendarEvent // calendar release behind a news window block
	Until   time.Time            // earliest retry for time based blocks
}

// Gate decides whether the auto-trigger may act on a news event and how large.
type Gate struct {
	Log *logger.Entry

	cfg      Config
	upcoming func() []model.CalendarEvent
	now      func() time.Time

	mu      sync.Mutex
	entered map[string]time.Time
}

// NewGate builds a gate; upcoming may be nil when no calendar is polled.
func NewGate(cfg Config, upcoming func() []model.CalendarEvent) *Gate {
	return &Gate{
		Log:      logger.WithField("component", "risk"),
		cfg:      cfg,
		upcoming: upcoming,
		now:      time.Now,
		entered:  make(map[string]time.Time),
	}
}

// Check runs the entry through the news age limit, the calendar blackout, the
// per-symbol cooldown and session sizing, in that order. An allowed entry
// starts the cooldown of its symbol.
func (g *Gate) Check(e Entry, tc model.TradeConfig) Decision {
	now := g.now().UTC()
	symbol := strings.ToUpper(e.Symbol)
	log := g.Log.WithFields(map[string]interface{}{"news_id": e.NewsID, "symbol": symbol, "account": tc.AccountID})

	if g.cfg.MaxNewsAge > 0 && !e.NewsTime.IsZero() && now.Sub(e.NewsTime) > g.cfg.MaxNewsAge {
		log.WithField("age", now.Sub(e.NewsTime).String()).Info("entry skipped for stale news")
		return Decision{Reason: ReasonStaleNews}
	}

	if g.upcoming != nil {
		if ev, until, blocked := Blackout(now, g.upcoming(), g.cfg.NewsBlockBefore, g.cfg.NewsBlockAfter); blocked {
			log.WithFields(map[string]interface{}{"event": ev.Title, "until": until}).Info("entry blocked by news window")
			return Decision{Reason: ReasonNewsWindow, Event: &ev, Until: until}
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for s, at := range g.entered {
		if now.Sub(at) >= g.cfg.SymbolCooldown {
			delete(g.entered, s)
		}
	}
	if at, ok := g.entered[symbol]; ok {
		return Decision{Reason: ReasonCooldown, Until: at.Add(g.cfg.SymbolCooldown)}
	}

	size, session := e.Size, SessionDefault
	if g.cfg.SessionSizing {
		size, session = Scale(e.Size, now, tc)
	}
	if session == SessionNoTrade {
		return Decision{Reason: ReasonNoTradeHours, Session: session}
	}
	if !size.IsPositive() {
		return Decision{Reason: ReasonZeroSize, Session: session}
	}

	if g.cfg.SymbolCooldown > 0 {
		g.entered[symbol] = now
	}
	log.WithFields(map[string]interface{}{"session": session, "size": size.String()}).Debug("entry allowed")
	return Decision{Allowed: true, Reason: ReasonAllowed, Size: size, Session: session}
}

// Blackout reports the importance 1 calendar release whose window
// [release-before, release+after] holds now. With overlapping windows the one
// ending last is returned along with that end.
func Blackout(now time.Time, events []model.CalendarEvent, before, after time.Duration) (model.CalendarEvent, time.Time, bool) {
	var hit model.CalendarEvent
	var until time.Time
	for _, ev := range events {
		at := ev.Date.Time.UTC()
		if ev.Importance != 1 || at.IsZero() {
			continue
		}
		if now.Before(at.Add(-before)) || now.After(at.Add(after)) {
			continue
		}
		if end := at.Add(after); end.After(until) {
			hit, until = ev, end
		}
	}
	return hit, until, !until.IsZero()
}
