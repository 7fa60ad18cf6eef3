package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"newstrader/src/catalog"
	"newstrader/src/connectors"
	"newstrader/src/messaging"
	"newstrader/src/model"
	"newstrader/src/registry"
	"newstrader/src/repository"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type staticConfigs struct {
	cfg model.TradeConfig
}

func (s staticConfigs) TradeConfig(_ context.Context, accountID string) (model.TradeConfig, error) {
	c := s.cfg
	c.AccountID = accountID
	return c, nil
}

type fixture struct {
	exec    *Executor
	paper   *connectors.PaperExchange
	reg     *registry.Registry
	bus     *messaging.Bus
	repo    *repository.OrderRepository
	factory *connectors.Factory
}

func testInstruments() []model.Instrument {
	return []model.Instrument{
		{Symbol: "BTC", Pair: "BTCUSD", MinSize: d("0.001"), MaxSize: d("100"), MaxLeverage: d("50"), TickSize: d("0.5")},
		{Symbol: "PEPE", Pair: "PEPEUSD", MinSize: d("100"), MaxLeverage: d("10"), TickSize: d("0.0000001")},
	}
}

func newFixture(t *testing.T, tc model.TradeConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:orders_%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Order{}, &model.OrderLog{}))

	paper := connectors.NewPaperExchange(testInstruments())
	cat := catalog.New(catalog.Config{RefreshTimeout: time.Second}, paper)
	require.NoError(t, cat.Refresh(ctx))

	bus := messaging.NewBus(256)
	t.Cleanup(bus.Close)
	reg := registry.New(bus)
	t.Cleanup(reg.Close)
	require.NoError(t, reg.RegisterAccount(ctx, model.Account{ID: "acc", ExchangeID: connectors.PaperExchangeID}))

	factory := connectors.NewFactory(connectors.Config{}, nil)
	factory.Register("acc", paper)

	repo := repository.NewOrderRepository().WithDB(db)
	cfg := Config{
		ExchangeTimeout:    time.Second,
		ConfirmAttempts:    3,
		ConfirmInterval:    time.Millisecond,
		ConfirmMaxInterval: 2 * time.Millisecond,
		ConfirmTimeout:     time.Second,
		AutoBracketOnFill:  true,
	}
	exec := NewExecutor(cfg, cat, reg, factory, repo, staticConfigs{cfg: tc}, bus)
	exec.sleep = func(context.Context, time.Duration) error { return nil }

	paper.SetPrice("BTC", d("100"))
	return &fixture{exec: exec, paper: paper, reg: reg, bus: bus, repo: repo, factory: factory}
}

func defaultConfig() model.TradeConfig {
	return model.DefaultTradeConfig("acc")
}

func marketBTC(size string) OrderRequest {
	return OrderRequest{AccountID: "acc", Symbol: "btc", Side: model.SideLong, Type: model.OrderTypeMarket, Size: d(size)}
}

func drain(ch <-chan messaging.Event) []messaging.Event {
	var out []messaging.Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(50 * time.Millisecond):
			return out
		}
	}
}

func TestSubmitMarketFillsAndUpdatesRegistry(t *testing.T) {
	f := newFixture(t, defaultConfig())
	updates, stop := f.bus.Subscribe(messaging.KindOrderUpdate)
	defer stop()

	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, h.Order.State)
	assert.Equal(t, "BTC", h.Order.Symbol)
	assert.True(t, h.Order.FilledPrice.Equal(d("100")))
	assert.True(t, h.Order.Leverage.Equal(d("10")), "leverage defaults to the account config")
	assert.NotNil(t, h.Order.ExecutedAt)
	assert.Empty(t, h.Legs)

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.01")))
	assert.True(t, pos.EntryPrice.Equal(d("100")))

	var states []string
	for _, ev := range drain(updates) {
		states = append(states, ev.Payload.(OrderUpdate).Order.State)
	}
	assert.Equal(t, []string{model.OrderStateNew, model.OrderStatePending, model.OrderStateFilled}, states)

	stored, err := f.repo.FindByID(context.Background(), h.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.OrderStateFilled, stored.State)
	require.Len(t, stored.Logs, 3)
	assert.Equal(t, model.OrderStatePending, stored.Logs[2].FromState)
}

func TestSubmitBelowMinimumNeverReachesExchange(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.paper.SetPrice("PEPE", d("0.00001"))

	h, err := f.exec.Submit(context.Background(), OrderRequest{
		AccountID: "acc", Symbol: "PEPE", Side: model.SideLong, Type: model.OrderTypeMarket, Size: d("50"), Leverage: d("5"),
	})
	require.Error(t, err)
	assert.Nil(t, h)
	assert.True(t, IsValidation(err))
	assert.Equal(t, 0, f.paper.SubmitCount())

	open, err := f.repo.FindOpen(context.Background(), "acc")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, defaultConfig())

	cases := map[string]OrderRequest{
		"unknown account": {AccountID: "nope", Symbol: "BTC", Side: model.SideLong, Size: d("1")},
		"unknown symbol":  {AccountID: "acc", Symbol: "FOO", Side: model.SideLong, Size: d("1")},
		"bad side":        {AccountID: "acc", Symbol: "BTC", Side: "up", Size: d("1")},
		"zero size":       {AccountID: "acc", Symbol: "BTC", Side: model.SideLong},
		"above max size":  {AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Size: d("101")},
		"leverage":        {AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Size: d("1"), Leverage: d("51")},
		"limit no price":  {AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Size: d("1"), Type: model.OrderTypeLimit},
		"stop no trigger": {AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Size: d("1"), Type: model.OrderTypeStop},
		"bracket side": {AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Size: d("1"), Type: model.OrderTypeLimit,
			LimitPrice: d("100"), Bracket: &model.Bracket{TakeProfit: d("90")}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.exec.Submit(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), err.Error())
		})
	}
	assert.Equal(t, 0, f.paper.SubmitCount())
}

func TestSubmitTransientFailureMarksFailed(t *testing.T) {
	f := newFixture(t, defaultConfig())
	f.paper.SetInstruments(append(testInstruments(), model.Instrument{Symbol: "ETH", MinSize: d("0.01"), TickSize: d("0.01")}))
	require.NoError(t, f.exec.catalog.(*catalog.Catalog).Refresh(context.Background()))

	req := marketBTC("0.1")
	req.Symbol = "ETH"
	h, err := f.exec.Submit(context.Background(), req)
	require.Error(t, err)
	assert.True(t, connectors.IsTransient(err))
	require.NotNil(t, h)
	assert.Equal(t, model.OrderStateFailed, h.Order.State)
	assert.Equal(t, 1, f.paper.SubmitCount(), "submit is never retried")
}

func TestSubmitRejectedByExchange(t *testing.T) {
	f := newFixture(t, defaultConfig())

	req := marketBTC("0.01")
	req.ReduceOnly = true
	h, err := f.exec.Submit(context.Background(), req)
	require.Error(t, err)
	rej, ok := connectors.IsRejected(err)
	require.True(t, ok)
	assert.Equal(t, "wouldNotReducePosition", rej.Code)
	assert.Equal(t, model.OrderStateRejected, h.Order.State)

	_, open := f.reg.Position("acc", "BTC")
	assert.False(t, open)
}

func TestCancelAfterFillIsNoOp(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)

	res, err := f.exec.Cancel(context.Background(), h.Order.ID)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, model.OrderStateFilled, res.State)

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.01")))
}

func TestCancelRestingLimit(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h, err := f.exec.Submit(context.Background(), OrderRequest{
		AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeLimit, Size: d("0.01"), LimitPrice: d("90"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatePending, h.Order.State)

	res, err := f.exec.Cancel(context.Background(), h.Order.ID)
	require.NoError(t, err)
	assert.False(t, res.NoOp)
	assert.Equal(t, model.OrderStateCancelled, res.State)

	_, err = f.exec.Cancel(context.Background(), h.Order.ID)
	require.NoError(t, err)
}

func TestCancelRacingFillAppliesFill(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h, err := f.exec.Submit(context.Background(), OrderRequest{
		AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeLimit, Size: d("0.01"), LimitPrice: d("90"),
	})
	require.NoError(t, err)

	// fills on the venue before the executor hears about it
	f.paper.SetPrice("BTC", d("89"))

	res, err := f.exec.Cancel(context.Background(), h.Order.ID)
	require.NoError(t, err)
	assert.True(t, res.NoOp)
	assert.Equal(t, model.OrderStateFilled, res.State)

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.01")))
	assert.True(t, pos.EntryPrice.Equal(d("89")))
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t, defaultConfig())
	_, err := f.exec.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnknownOrder)
}

func TestBracketLegsAreOneCancelsOther(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	req := marketBTC("0.01")
	req.Bracket = &model.Bracket{TakeProfit: d("110"), StopLoss: d("95")}
	h, err := f.exec.Submit(ctx, req)
	require.NoError(t, err)
	require.Empty(t, h.BracketError)
	require.Len(t, h.Legs, 2)

	tp, sl := h.Legs[0].Order, h.Legs[1].Order
	assert.Equal(t, model.OrderTypeTakeProfit, tp.Type)
	assert.Equal(t, model.OrderTypeStop, sl.Type)
	for _, leg := range []model.Order{tp, sl} {
		assert.Equal(t, model.OrderStatePending, leg.State)
		assert.Equal(t, model.SideShort, leg.Side)
		assert.True(t, leg.ReduceOnly)
		require.NotNil(t, leg.ParentID)
		assert.Equal(t, h.Order.ID, *leg.ParentID)
	}

	f.paper.SetPrice("BTC", d("111"))
	require.NoError(t, f.exec.Reconcile(ctx))

	gotTP, err := f.exec.Order(ctx, tp.ID)
	require.NoError(t, err)
	gotSL, err := f.exec.Order(ctx, sl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, gotTP.State)
	assert.Equal(t, model.OrderStateCancelled, gotSL.State)

	_, open := f.reg.Position("acc", "BTC")
	assert.False(t, open)

	children, err := f.repo.FindChildren(ctx, h.Order.ID)
	require.NoError(t, err)
	assert.Len(t, children, 2)
}

func TestAutoBracketFromTradeConfig(t *testing.T) {
	tc := defaultConfig()
	tc.TakeProfitPct = d("10")
	tc.StopLossPct = d("5")
	f := newFixture(t, tc)

	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)
	require.Len(t, h.Legs, 2)
	assert.True(t, h.Order.Bracket.TakeProfit.Equal(d("110")))
	assert.True(t, h.Order.Bracket.StopLoss.Equal(d("95")))
}

func TestAttachBracket(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	pending, err := f.exec.Submit(ctx, OrderRequest{
		AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeLimit, Size: d("0.01"), LimitPrice: d("90"),
	})
	require.NoError(t, err)
	_, err = f.exec.AttachBracket(ctx, pending.Order.ID, decimal.Zero, d("80"))
	assert.True(t, IsValidation(err))

	filled, err := f.exec.Submit(ctx, marketBTC("0.01"))
	require.NoError(t, err)

	_, err = f.exec.AttachBracket(ctx, filled.Order.ID, decimal.Zero, d("120"))
	assert.True(t, IsValidation(err), "stop above entry for a long")

	_, err = f.exec.AttachBracket(ctx, filled.Order.ID, decimal.Zero, decimal.Zero)
	assert.True(t, IsValidation(err), "no prices and no defaults")

	legs, err := f.exec.AttachBracket(ctx, filled.Order.ID, decimal.Zero, d("90"))
	require.NoError(t, err)
	require.Len(t, legs, 1)
	first := legs[0].Order

	legs, err = f.exec.AttachBracket(ctx, filled.Order.ID, decimal.Zero, d("92"))
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.True(t, legs[0].Order.TriggerPrice.Equal(d("92")))

	parent, err := f.exec.Order(ctx, filled.Order.ID)
	require.NoError(t, err)
	assert.True(t, parent.Bracket.StopLoss.Equal(d("92")))

	replaced, err := f.exec.Order(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateCancelled, replaced.State)
}

func TestTrailStopsMovesWithPrice(t *testing.T) {
	tc := defaultConfig()
	tc.TrailingStopPct = d("2")
	f := newFixture(t, tc)
	ctx := context.Background()

	req := marketBTC("0.01")
	req.Bracket = &model.Bracket{StopLoss: d("95")}
	h, err := f.exec.Submit(ctx, req)
	require.NoError(t, err)
	require.Len(t, h.Legs, 1)
	oldStop := h.Legs[0].Order

	f.paper.SetPrice("BTC", d("110"))
	require.NoError(t, f.exec.TrailStops(ctx, "BTC", d("110")))

	parent, err := f.exec.Order(ctx, h.Order.ID)
	require.NoError(t, err)
	assert.True(t, parent.Bracket.StopLoss.Equal(d("107.5")), parent.Bracket.StopLoss.String())

	old, err := f.exec.Order(ctx, oldStop.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateCancelled, old.State)

	legs := f.exec.openLegs(h.Order.ID)
	require.Len(t, legs, 1)
	assert.True(t, legs[0].TriggerPrice.Equal(d("107.5")))

	// a lower mark never loosens the stop
	require.NoError(t, f.exec.TrailStops(ctx, "BTC", d("105")))
	legs = f.exec.openLegs(h.Order.ID)
	require.Len(t, legs, 1)
	assert.True(t, legs[0].TriggerPrice.Equal(d("107.5")))
}

func TestOrderLoadsFromStore(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)

	f.exec.mu.Lock()
	delete(f.exec.orders, h.Order.ID)
	f.exec.mu.Unlock()

	got, err := f.exec.Order(context.Background(), h.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, got.State)
}

// lagAdapter delays what the paper venue reports about an order.
type lagAdapter struct {
	*connectors.PaperExchange

	mu         sync.Mutex
	hideFills  bool
	hidePrice  int // status calls reporting a fill without any price
	failStatus int // status calls failing transiently
	calls      int
}

func (l *lagAdapter) OrderStatus(ctx context.Context, id string) (connectors.OrderStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.failStatus > 0 {
		l.failStatus--
		return connectors.OrderStatus{}, connectors.NewTransient("status", errors.New("gateway timeout"))
	}
	st, err := l.PaperExchange.OrderStatus(ctx, id)
	if err != nil {
		return st, err
	}
	if l.hideFills {
		st.Fills = nil
	}
	if l.hidePrice > 0 {
		l.hidePrice--
		st.Fills = nil
		st.AvgFillPrice = decimal.Zero
	}
	return st, nil
}

func (l *lagAdapter) set(fn func(l *lagAdapter)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l)
}

func (l *lagAdapter) statusCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestFilledWithoutFillsUsesVenueAverage(t *testing.T) {
	tc := defaultConfig()
	tc.StopLossPct = d("5")
	f := newFixture(t, tc)
	f.factory.Register("acc", &lagAdapter{PaperExchange: f.paper, hideFills: true})

	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, h.Order.State)
	assert.True(t, h.Order.FilledPrice.Equal(d("100")))
	require.Len(t, h.Legs, 1, "the bracket uses the venue average")
	assert.True(t, h.Legs[0].Order.TriggerPrice.Equal(d("95")))

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.EntryPrice.Equal(d("100")))
	assert.True(t, pos.Size.Equal(d("0.01")))
}

func TestFilledWithoutPriceKeepsPolling(t *testing.T) {
	f := newFixture(t, defaultConfig())
	lag := &lagAdapter{PaperExchange: f.paper, hidePrice: 2}
	f.factory.Register("acc", lag)

	h, err := f.exec.Submit(context.Background(), marketBTC("0.01"))
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, h.Order.State)
	assert.True(t, h.Order.FilledPrice.Equal(d("100")))
	assert.Equal(t, 3, lag.statusCalls())

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.EntryPrice.Equal(d("100")))
}

func TestLateFillIsSettledByReconcile(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	lag := &lagAdapter{PaperExchange: f.paper, hidePrice: 10}
	f.factory.Register("acc", lag)

	h, err := f.exec.Submit(ctx, marketBTC("0.01"))
	require.ErrorIs(t, err, ErrConfirmTimeout)
	assert.Equal(t, model.OrderStateFailed, h.Order.State)
	_, open := f.reg.Position("acc", "BTC")
	assert.False(t, open, "a fill without a price is never booked")

	lag.set(func(l *lagAdapter) { l.hidePrice = 0 })
	require.NoError(t, f.exec.Reconcile(ctx))
	require.NoError(t, f.exec.Reconcile(ctx))

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.01")), "applied once")
	assert.True(t, pos.EntryPrice.Equal(d("100")))

	got, err := f.exec.Order(ctx, h.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFailed, got.State)
	assert.True(t, got.FilledPrice.Equal(d("100")))
	assert.Empty(t, f.exec.unsettledByAccount())
	assert.Equal(t, 1, f.paper.SubmitCount(), "nothing is resubmitted")
}

func TestFailedRestingOrderIsCancelledOnExchange(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	lag := &lagAdapter{PaperExchange: f.paper, failStatus: 3}
	f.factory.Register("acc", lag)

	h, err := f.exec.Submit(ctx, OrderRequest{
		AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeLimit, Size: d("0.01"), LimitPrice: d("90"),
	})
	require.ErrorIs(t, err, ErrConfirmTimeout)
	require.NotEmpty(t, h.Order.ExchangeOrderID)

	require.NoError(t, f.exec.Reconcile(ctx))
	venue, err := f.paper.OrderStatus(ctx, h.Order.ExchangeOrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateCancelled, venue.State)
	assert.Len(t, f.exec.unsettledByAccount()["acc"], 1)

	require.NoError(t, f.exec.Reconcile(ctx))
	assert.Empty(t, f.exec.unsettledByAccount())

	got, err := f.exec.Order(ctx, h.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFailed, got.State)
}

// gatedAdapter holds every submit until release is closed.
type gatedAdapter struct {
	*connectors.PaperExchange
	entered  chan string
	release  chan struct{}
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (g *gatedAdapter) SubmitOrder(ctx context.Context, req connectors.SubmitRequest) (connectors.OrderAck, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		m := g.maxSeen.Load()
		if n <= m || g.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	g.entered <- req.ClientOrderID
	<-g.release
	return g.PaperExchange.SubmitOrder(ctx, req)
}

func TestSubmitsSerializePerAccount(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()

	gated := &gatedAdapter{PaperExchange: f.paper, entered: make(chan string, 4), release: make(chan struct{})}
	f.factory.Register("acc", gated)

	other := connectors.NewPaperExchange(testInstruments())
	other.SetPrice("BTC", d("100"))
	require.NoError(t, f.reg.RegisterAccount(ctx, model.Account{ID: "acc2", ExchangeID: connectors.PaperExchangeID}))
	f.factory.Register("acc2", other)

	var wg sync.WaitGroup
	results := make([]*OrderHandle, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := f.exec.Submit(ctx, marketBTC("0.01"))
			assert.NoError(t, err)
			results[i] = h
		}(i)
	}

	select {
	case <-gated.entered:
	case <-time.After(time.Second):
		t.Fatal("first submit never reached the exchange")
	}
	select {
	case <-gated.entered:
		t.Fatal("second submit of the same account overlapped the first")
	case <-time.After(100 * time.Millisecond):
	}

	done := make(chan *OrderHandle, 1)
	go func() {
		req := marketBTC("0.02")
		req.AccountID = "acc2"
		h, err := f.exec.Submit(ctx, req)
		assert.NoError(t, err)
		done <- h
	}()
	select {
	case h := <-done:
		require.NotNil(t, h)
		assert.Equal(t, model.OrderStateFilled, h.Order.State)
	case <-time.After(time.Second):
		t.Fatal("another account waited on a blocked account")
	}

	close(gated.release)
	wg.Wait()
	assert.Equal(t, int32(1), gated.maxSeen.Load())
	for _, h := range results {
		require.NotNil(t, h)
		assert.Equal(t, model.OrderStateFilled, h.Order.State)
	}

	pos, ok := f.reg.Position("acc", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.02")))
	pos, ok = f.reg.Position("acc2", "BTC")
	require.True(t, ok)
	assert.True(t, pos.Size.Equal(d("0.02")))
}

func TestTransitionIsStoredAfterCallerCancels(t *testing.T) {
	f := newFixture(t, defaultConfig())
	h, err := f.exec.Submit(context.Background(), OrderRequest{
		AccountID: "acc", Symbol: "BTC", Side: model.SideLong, Type: model.OrderTypeLimit, Size: d("0.01"), LimitPrice: d("90"),
	})
	require.NoError(t, err)

	order, err := f.exec.lookup(context.Background(), h.Order.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.exec.move(ctx, order, model.OrderStateFailed, "confirmation failed: deadline exceeded"))

	stored, err := f.repo.FindByID(context.Background(), h.Order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.OrderStateFailed, stored.State)
	require.Len(t, stored.Logs, 3)
	assert.Equal(t, model.OrderStatePending, stored.Logs[2].FromState)
}

func TestReconcilePrunesOldTerminalOrders(t *testing.T) {
	f := newFixture(t, defaultConfig())
	ctx := context.Background()
	f.exec.cfg.TerminalRetention = time.Minute

	plain, err := f.exec.Submit(ctx, marketBTC("0.01"))
	require.NoError(t, err)
	req := marketBTC("0.01")
	req.Bracket = &model.Bracket{StopLoss: d("95")}
	bracketed, err := f.exec.Submit(ctx, req)
	require.NoError(t, err)
	require.Len(t, bracketed.Legs, 1)

	later := time.Now().UTC().Add(2 * time.Minute)
	f.exec.now = func() time.Time { return later }
	require.NoError(t, f.exec.Reconcile(ctx))

	f.exec.mu.Lock()
	_, plainKept := f.exec.orders[plain.Order.ID]
	_, parentKept := f.exec.orders[bracketed.Order.ID]
	_, legKept := f.exec.orders[bracketed.Legs[0].Order.ID]
	f.exec.mu.Unlock()
	assert.False(t, plainKept)
	assert.True(t, parentKept, "parent of a resting leg")
	assert.True(t, legKept)

	got, err := f.exec.Order(ctx, plain.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStateFilled, got.State)
}
