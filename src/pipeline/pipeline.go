package pipeline

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/filter"
	"newstrader/src/messaging"
	"newstrader/src/model"
	"newstrader/src/orders"
	"newstrader/src/resolver"
	"newstrader/src/risk"
)

// Events is the news side of the pipeline.
type Events interface {
	Run(ctx context.Context)
	Events() <-chan model.NewsEvent
	History(ctx context.Context, limit int) []model.NewsEvent
}

type Evaluator interface {
	Evaluate(ev model.NewsEvent) []model.Action
}

type Accounts interface {
	Account(id string) (model.Account, bool)
	Accounts() []model.Account
}

type Submitter interface {
	Submit(ctx context.Context, req orders.OrderRequest) (*orders.OrderHandle, error)
}

type Publisher interface {
	Publish(kind string, payload interface{})
}

// NewsItem is published for every news event that was not ignored.
type NewsItem struct {
	Event   model.NewsEvent `json:"event"`
	Actions []model.Action  `json:"actions,omitempty"`
	History bool            `json:"history,omitempty"`
}

// Suggestion is a quick trade offered for a news event.
type Suggestion struct {
	AccountID string                     `json:"account_id"`
	Trade     model.QuickTradeSuggestion `json:"trade"`
}

// Sound asks observers to play a sound for a news event.
type Sound struct {
	NewsEventID string `json:"news_event_id"`
	SoundID     string `json:"sound_id"`
}

// Pipeline moves news through the filter and the resolver to the bus, and
// optionally straight to the executor.
type Pipeline struct {
	Log *logger.Entry

	cfg         Config
	resolverCfg resolver.Config
	events      Events
	filter      Evaluator
	instruments resolver.Instruments
	prices      resolver.Prices
	accounts    Accounts
	configs     orders.TradeConfigs
	executor    Submitter
	gate        *risk.Gate
	bus         Publisher

	mu      sync.Mutex
	closed  bool
	workers map[string]chan entry
	wg      sync.WaitGroup
}

// entry is an automatic order waiting for its account worker.
type entry struct {
	account model.Account
	req     orders.OrderRequest
	newsID  string
}

type Deps struct {
	Events      Events
	Filter      Evaluator
	Instruments resolver.Instruments
	Prices      resolver.Prices
	Accounts    Accounts
	Configs     orders.TradeConfigs
	Executor    Submitter
	Gate        *risk.Gate
	Bus         Publisher
}

func New(cfg Config, resolverCfg resolver.Config, deps Deps) *Pipeline {
	return &Pipeline{
		Log:         logger.WithField("component", "pipeline"),
		cfg:         cfg,
		resolverCfg: resolverCfg,
		events:      deps.Events,
		filter:      deps.Filter,
		instruments: deps.Instruments,
		prices:      deps.Prices,
		accounts:    deps.Accounts,
		configs:     deps.Configs,
		executor:    deps.Executor,
		gate:        deps.Gate,
		bus:         deps.Bus,
		workers:     make(map[string]chan entry),
	}
}

// Run replays recent history and then processes live news until ctx ends.
func (p *Pipeline) Run(ctx context.Context) {
	if p.cfg.HistoryLimit > 0 {
		for _, ev := range p.events.History(ctx, p.cfg.HistoryLimit) {
			p.handle(ctx, ev, true)
		}
	}

	go p.events.Run(ctx)

	for ev := range p.events.Events() {
		p.Process(ctx, ev)
	}
	p.Close()
	p.Log.Info("news stream closed")
}

// Close stops the account workers after their queued entries and waits for
// them. Entries arriving later are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for _, ch := range p.workers {
			close(ch)
		}
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Process runs one live event through the pipeline.
func (p *Pipeline) Process(ctx context.Context, ev model.NewsEvent) {
	p.handle(ctx, ev, false)
}

func (p *Pipeline) handle(ctx context.Context, ev model.NewsEvent, history bool) {
	actions := p.filter.Evaluate(ev)
	if filter.Ignored(actions) {
		p.Log.WithFields(map[string]interface{}{"id": ev.ID, "rule": actions[0].RuleID}).Debug("news ignored")
		return
	}

	p.bus.Publish(messaging.KindNews, NewsItem{Event: ev, Actions: actions, History: history})
	if history {
		return
	}

	if sound, ok := filter.Sound(actions); ok {
		p.bus.Publish(messaging.KindSound, Sound{NewsEventID: ev.ID, SoundID: sound})
	}

	account, ok := p.account()
	if !ok {
		return
	}
	tc := p.tradeConfig(ctx, account.ID)

	suggestion, ok := resolver.Resolve(ev, actions, p.instruments, p.prices, account.ExchangeID, p.resolverCfg.Settings(tc))
	if !ok {
		return
	}
	p.bus.Publish(messaging.KindSuggestion, Suggestion{AccountID: account.ID, Trade: suggestion})

	// only rule-tagged coins trade on their own; cashtags stay suggestions
	if p.cfg.AutoTrigger && len(filter.Coins(actions)) > 0 {
		p.autoTrade(ctx, ev, account, tc, suggestion)
	}
}

// autoTrade gates the suggestion and queues it for the account worker. It
// never waits on the exchange.
func (p *Pipeline) autoTrade(ctx context.Context, ev model.NewsEvent, account model.Account, tc model.TradeConfig, s model.QuickTradeSuggestion) {
	size := s.Size
	if p.gate != nil {
		decision := p.gate.Check(risk.Entry{NewsID: ev.ID, NewsTime: ev.Timestamp, Symbol: s.Instrument.Symbol, Size: s.Size}, tc)
		if !decision.Allowed {
			p.Log.WithFields(map[string]interface{}{
				"news_id": s.NewsEventID,
				"symbol":  s.Instrument.Symbol,
				"reason":  decision.Reason,
			}).Info("automatic entry skipped")
			return
		}
		size = s.Instrument.ClampSize(decision.Size)
	}

	p.enqueue(ctx, entry{
		account: account,
		newsID:  s.NewsEventID,
		req: orders.OrderRequest{
			AccountID: account.ID,
			Symbol:    s.Instrument.Symbol,
			Side:      s.Side,
			Type:      model.OrderTypeMarket,
			Size:      size,
			Leverage:  s.Leverage,
		},
	})
}

func (p *Pipeline) enqueue(ctx context.Context, e entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	ch, ok := p.workers[e.account.ID]
	if !ok {
		size := p.cfg.EntryQueueSize
		if size <= 0 {
			size = 8
		}
		ch = make(chan entry, size)
		p.workers[e.account.ID] = ch
		p.wg.Add(1)
		go p.worker(ctx, ch)
	}

	select {
	case ch <- e:
	default:
		p.Log.WithFields(map[string]interface{}{
			"news_id": e.newsID,
			"account": e.account.ID,
			"symbol":  e.req.Symbol,
		}).Warn("automatic entry dropped, queue full")
		p.bus.Publish(messaging.KindError, map[string]interface{}{"news_id": e.newsID, "error": "automatic entry queue full"})
	}
}

// worker submits one account's entries in arrival order.
func (p *Pipeline) worker(ctx context.Context, ch <-chan entry) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.submit(ctx, e)
		}
	}
}

func (p *Pipeline) submit(ctx context.Context, e entry) {
	h, err := p.executor.Submit(ctx, e.req)
	if err != nil {
		p.Log.WithError(err).WithFields(map[string]interface{}{
			"news_id": e.newsID,
			"symbol":  e.req.Symbol,
			"size":    e.req.Size.String(),
		}).Error("automatic entry failed")
		p.bus.Publish(messaging.KindError, map[string]interface{}{"news_id": e.newsID, "error": err.Error()})
		return
	}
	p.Log.WithFields(map[string]interface{}{
		"news_id":  e.newsID,
		"order_id": h.Order.ID,
		"state":    h.Order.State,
	}).Info("automatic entry placed")
}

func (p *Pipeline) account() (model.Account, bool) {
	if p.accounts == nil {
		return model.Account{}, false
	}
	if p.cfg.AccountID != "" {
		return p.accounts.Account(p.cfg.AccountID)
	}
	all := p.accounts.Accounts()
	if len(all) == 0 {
		return model.Account{}, false
	}
	return all[0], true
}

func (p *Pipeline) tradeConfig(ctx context.Context, accountID string) model.TradeConfig {
	if p.configs == nil {
		return model.DefaultTradeConfig(accountID)
	}
	tc, err := p.configs.TradeConfig(ctx, accountID)
	if err != nil {
		p.Log.WithError(err).Warn("trade config unavailable, using defaults")
		return model.DefaultTradeConfig(accountID)
	}
	return tc
}

// PriceSinkFunc adapts a context-taking price handler to a price feed sink.
func PriceSinkFunc(ctx context.Context, log *logger.Entry, name string, fn func(ctx context.Context, symbol string, price decimal.Decimal) error) func(string, decimal.Decimal) {
	return func(symbol string, price decimal.Decimal) {
		if err := fn(ctx, symbol, price); err != nil {
			log.WithError(err).WithFields(map[string]interface{}{"sink": name, "symbol": symbol}).Warn("price sink failed")
		}
	}
}
