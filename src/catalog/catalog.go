package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
)

// Source lists the tradable instruments of one exchange.
type Source interface {
	ID() string
	Instruments(ctx context.Context) ([]model.Instrument, error)
}

// Snapshot is an immutable view of the catalog. Readers never see a partial refresh.
type Snapshot struct {
	byExchange  map[string]map[string]model.Instrument
	symbols     []string
	RefreshedAt time.Time
}

func key(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// NewSnapshot indexes instruments by exchange and symbol.
func NewSnapshot(instruments []model.Instrument) *Snapshot {
	s := &Snapshot{byExchange: make(map[string]map[string]model.Instrument), RefreshedAt: time.Now().UTC()}
	seen := make(map[string]bool)
	for _, inst := range instruments {
		bySymbol, ok := s.byExchange[inst.ExchangeID]
		if !ok {
			bySymbol = make(map[string]model.Instrument)
			s.byExchange[inst.ExchangeID] = bySymbol
		}
		k := key(inst.Symbol)
		bySymbol[k] = inst
		if !seen[k] {
			seen[k] = true
			s.symbols = append(s.symbols, k)
		}
	}
	sort.Strings(s.symbols)
	return s
}

func (s *Snapshot) Lookup(exchangeID, symbol string) (model.Instrument, bool) {
	if s == nil {
		return model.Instrument{}, false
	}
	inst, ok := s.byExchange[exchangeID][key(symbol)]
	return inst, ok
}

// Symbols returns every symbol listed on any exchange, sorted.
func (s *Snapshot) Symbols() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.symbols...)
}

func (s *Snapshot) Instruments(exchangeID string) []model.Instrument {
	if s == nil {
		return nil
	}
	out := make([]model.Instrument, 0, len(s.byExchange[exchangeID]))
	for _, inst := range s.byExchange[exchangeID] {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, bySymbol := range s.byExchange {
		n += len(bySymbol)
	}
	return n
}

// Catalog holds the current instrument snapshot and refreshes it from its sources.
type Catalog struct {
	Log *logger.Entry

	sources []Source
	timeout time.Duration
	current atomic.Pointer[Snapshot]
}

func New(cfg Config, sources ...Source) *Catalog {
	c := &Catalog{
		Log:     logger.WithField("component", "catalog"),
		sources: sources,
		timeout: cfg.RefreshTimeout,
	}
	c.current.Store(NewSnapshot(nil))
	return c
}

func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

func (c *Catalog) Lookup(exchangeID, symbol string) (model.Instrument, bool) {
	return c.Snapshot().Lookup(exchangeID, symbol)
}

func (c *Catalog) Symbols() []string {
	return c.Snapshot().Symbols()
}

// Refresh reloads every source and swaps the snapshot. A failing source
// keeps its previous instruments and its error is returned.
func (c *Catalog) Refresh(ctx context.Context) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prev := c.Snapshot()
	var all []model.Instrument
	var errs []error
	for _, src := range c.sources {
		instruments, err := src.Instruments(ctx)
		if err != nil {
			c.Log.WithError(err).WithField("exchange", src.ID()).Warn("instrument refresh failed, keeping previous list")
			errs = append(errs, fmt.Errorf("refresh %s: %w", src.ID(), err))
			all = append(all, prev.Instruments(src.ID())...)
			continue
		}
		for i := range instruments {
			if instruments[i].ExchangeID == "" {
				instruments[i].ExchangeID = src.ID()
			}
		}
		all = append(all, instruments...)
	}

	next := NewSnapshot(all)
	c.current.Store(next)
	c.Log.WithFields(map[string]interface{}{"instruments": next.Len(), "symbols": len(next.symbols)}).Info("catalog refreshed")
	return errors.Join(errs...)
}
