package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/messaging"
	"newstrader/src/model"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrClosed         = errors.New("registry closed")
)

// DefaultFillMemory is how many applied fill ids a registry remembers.
const DefaultFillMemory = 65536

// Publisher is the part of the event bus the registry needs.
type Publisher interface {
	Publish(kind string, payload interface{})
}

// PositionChanged is published after every position mutation.
type PositionChanged struct {
	AccountID string         `json:"account_id"`
	Symbol    string         `json:"symbol"`
	Position  model.Position `json:"position"`
	Closed    bool           `json:"closed"`
	Cause     string         `json:"cause"` // fill, price, sync
}

// Snapshot is an immutable copy of the registry state.
type Snapshot struct {
	Accounts  map[string]model.Account
	Positions map[string][]model.Position
	Marks     map[string]decimal.Decimal
	Version   uint64
}

type state struct {
	accounts  map[string]model.Account
	positions map[string]map[string]model.Position
	fills     map[string]struct{}
	fillRing  []string
	fillNext  int
	marks     map[string]decimal.Decimal
	version   uint64
}

// rememberFill records id and reports whether it was new. The oldest id is
// forgotten once the ring is full.
func (st *state) rememberFill(id string) bool {
	if _, dup := st.fills[id]; dup {
		return false
	}
	if old := st.fillRing[st.fillNext]; old != "" {
		delete(st.fills, old)
	}
	st.fillRing[st.fillNext] = id
	st.fillNext = (st.fillNext + 1) % len(st.fillRing)
	st.fills[id] = struct{}{}
	return true
}

type op struct {
	apply func(*state) []PositionChanged
	done  chan error
}

// Registry owns accounts and positions. All mutations run on one goroutine
// in arrival order; readers load the last published snapshot.
type Registry struct {
	Log *logger.Entry

	bus     Publisher
	ops     chan op
	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
	snap    atomic.Pointer[Snapshot]
	now     func() time.Time
}

func New(bus Publisher) *Registry {
	return newRegistry(bus, DefaultFillMemory)
}

func newRegistry(bus Publisher, fillMemory int) *Registry {
	if fillMemory <= 0 {
		fillMemory = DefaultFillMemory
	}
	r := &Registry{
		Log:     logger.WithField("component", "registry"),
		bus:     bus,
		ops:     make(chan op),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		now:     time.Now,
	}
	r.snap.Store(&Snapshot{Accounts: map[string]model.Account{}, Positions: map[string][]model.Position{}, Marks: map[string]decimal.Decimal{}})
	go r.loop(&state{
		accounts:  make(map[string]model.Account),
		positions: make(map[string]map[string]model.Position),
		fills:     make(map[string]struct{}, fillMemory),
		fillRing:  make([]string, fillMemory),
		marks:     make(map[string]decimal.Decimal),
	})
	return r
}

func (r *Registry) loop(st *state) {
	defer close(r.stopped)
	for {
		select {
		case <-r.stop:
			return
		case o := <-r.ops:
			changes := o.apply(st)
			st.version++
			r.snap.Store(st.snapshot())
			o.done <- nil
			for _, c := range changes {
				if r.bus != nil {
					r.bus.Publish(messaging.KindPositionChanged, c)
				}
			}
		}
	}
}

// do runs fn on the writer goroutine and waits for it.
func (r *Registry) do(ctx context.Context, fn func(*state) []PositionChanged) error {
	if r.closed.Load() {
		return ErrClosed
	}
	o := op{apply: fn, done: make(chan error, 1)}
	select {
	case r.ops <- o:
	case <-r.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-o.done
}

// Close stops the writer. Snapshots stay readable.
func (r *Registry) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.stop)
		<-r.stopped
	}
}

func normSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func (st *state) snapshot() *Snapshot {
	s := &Snapshot{
		Accounts:  make(map[string]model.Account, len(st.accounts)),
		Positions: make(map[string][]model.Position, len(st.positions)),
		Marks:     make(map[string]decimal.Decimal, len(st.marks)),
		Version:   st.version,
	}
	for symbol, price := range st.marks {
		s.Marks[symbol] = price
	}
	for id, a := range st.accounts {
		s.Accounts[id] = a
	}
	for id, bySymbol := range st.positions {
		list := make([]model.Position, 0, len(bySymbol))
		for _, p := range bySymbol {
			list = append(list, p)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Symbol < list[j].Symbol })
		s.Positions[id] = list
	}
	return s
}

func (r *Registry) RegisterAccount(ctx context.Context, account model.Account) error {
	if account.ID == "" {
		return fmt.Errorf("register account: empty id")
	}
	return r.do(ctx, func(st *state) []PositionChanged {
		st.accounts[account.ID] = account
		if _, ok := st.positions[account.ID]; !ok {
			st.positions[account.ID] = make(map[string]model.Position)
		}
		return nil
	})
}

// ApplyFill folds a fill into its account position. A fill id seen before is
// ignored and reported as not applied.
func (r *Registry) ApplyFill(ctx context.Context, fill model.Fill) (bool, error) {
	if fill.FillID == "" {
		return false, fmt.Errorf("apply fill: empty fill id")
	}
	if !fill.Size.IsPositive() {
		return false, fmt.Errorf("apply fill %s: size must be positive", fill.FillID)
	}

	var applied bool
	var opErr error
	err := r.do(ctx, func(st *state) []PositionChanged {
		if _, ok := st.accounts[fill.AccountID]; !ok {
			opErr = fmt.Errorf("apply fill %s: %w %q", fill.FillID, ErrUnknownAccount, fill.AccountID)
			return nil
		}
		if !st.rememberFill(fill.FillID) {
			return nil
		}
		applied = true

		symbol := normSymbol(fill.Symbol)
		if fill.Time.IsZero() {
			fill.Time = r.now().UTC()
		}
		pos, ok := st.positions[fill.AccountID][symbol]
		if !ok {
			pos = model.Position{AccountID: fill.AccountID, Symbol: symbol}
		}
		next, open := applyFill(pos, fill, st.marks[symbol])
		if open {
			st.positions[fill.AccountID][symbol] = next
		} else {
			delete(st.positions[fill.AccountID], symbol)
		}
		return []PositionChanged{{AccountID: fill.AccountID, Symbol: symbol, Position: next, Closed: !open, Cause: "fill"}}
	})
	if err != nil {
		return false, err
	}
	if opErr != nil {
		return false, opErr
	}
	if applied {
		r.Log.WithFields(map[string]interface{}{
			"account": fill.AccountID,
			"symbol":  fill.Symbol,
			"fill_id": fill.FillID,
			"side":    fill.Side,
			"size":    fill.Size.String(),
			"price":   fill.Price.String(),
		}).Info("fill applied")
	}
	return applied, nil
}

// ApplyPriceUpdate revalues every open position on symbol.
func (r *Registry) ApplyPriceUpdate(ctx context.Context, symbol string, price decimal.Decimal) error {
	if !price.IsPositive() {
		return nil
	}
	symbol = normSymbol(symbol)
	return r.do(ctx, func(st *state) []PositionChanged {
		st.marks[symbol] = price
		var changes []PositionChanged
		ids := make([]string, 0, len(st.positions))
		for id := range st.positions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			pos, ok := st.positions[id][symbol]
			if !ok || pos.MarkPrice.Equal(price) {
				continue
			}
			pos = revalue(pos, price)
			st.positions[id][symbol] = pos
			changes = append(changes, PositionChanged{AccountID: id, Symbol: symbol, Position: pos, Cause: "price"})
		}
		return changes
	})
}

// ReplacePositions installs the authoritative exchange positions of an account.
func (r *Registry) ReplacePositions(ctx context.Context, accountID string, positions []model.Position) error {
	var opErr error
	err := r.do(ctx, func(st *state) []PositionChanged {
		old, ok := st.positions[accountID]
		if !ok {
			opErr = fmt.Errorf("replace positions: %w %q", ErrUnknownAccount, accountID)
			return nil
		}

		now := r.now().UTC()
		next := make(map[string]model.Position, len(positions))
		var changes []PositionChanged
		for _, p := range positions {
			if p.Size.IsZero() {
				continue
			}
			p.AccountID = accountID
			p.Symbol = normSymbol(p.Symbol)
			mark := p.MarkPrice
			if mark.IsZero() {
				mark = st.marks[p.Symbol]
			}
			if p.LiquidationPrice.IsZero() {
				p = revalue(p, mark)
			} else if mark.IsPositive() {
				p.MarkPrice = mark
				p.UnrealizedPnL = mark.Sub(p.EntryPrice).Mul(p.Size)
			}
			p.RealizedPnL = old[p.Symbol].RealizedPnL
			p = stamp(p, now)
			next[p.Symbol] = p
			changes = append(changes, PositionChanged{AccountID: accountID, Symbol: p.Symbol, Position: p, Cause: "sync"})
		}
		for symbol, p := range old {
			if _, still := next[symbol]; !still {
				p.Size = decimal.Zero
				changes = append(changes, PositionChanged{AccountID: accountID, Symbol: symbol, Position: p, Closed: true, Cause: "sync"})
			}
		}
		st.positions[accountID] = next
		sort.Slice(changes, func(i, j int) bool { return changes[i].Symbol < changes[j].Symbol })
		return changes
	})
	if err != nil {
		return err
	}
	return opErr
}

// Snapshot returns the state after the last completed mutation.
func (r *Registry) Snapshot() *Snapshot {
	return r.snap.Load()
}

func (r *Registry) Positions(accountID string) []model.Position {
	return append([]model.Position(nil), r.Snapshot().Positions[accountID]...)
}

func (r *Registry) Position(accountID, symbol string) (model.Position, bool) {
	symbol = normSymbol(symbol)
	for _, p := range r.Snapshot().Positions[accountID] {
		if p.Symbol == symbol {
			return p, true
		}
	}
	return model.Position{}, false
}

// Mark returns the last price seen for symbol.
func (r *Registry) Mark(symbol string) (decimal.Decimal, bool) {
	price, ok := r.Snapshot().Marks[normSymbol(symbol)]
	return price, ok
}

func (r *Registry) Account(id string) (model.Account, bool) {
	a, ok := r.Snapshot().Accounts[id]
	return a, ok
}

func (r *Registry) Accounts() []model.Account {
	snap := r.Snapshot()
	out := make([]model.Account, 0, len(snap.Accounts))
	for _, a := range snap.Accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
