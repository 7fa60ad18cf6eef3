package news

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"

	"newstrader/src/model"
	"newstrader/src/utils"
)

// Source is one news feed. Run delivers events through emit until the
// connection drops or ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, emit func(model.NewsEvent)) error
}

// HistoryFetcher is implemented by sources that can serve older news.
// Events are returned oldest first.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, limit int) ([]model.NewsEvent, error)
}

// Stream fans in all sources into one channel, reconnecting each source
// independently and dropping duplicates.
type Stream struct {
	Log *logger.Entry

	sources []Source
	backoff utils.Backoff
	dedupe  *Deduper
	events  chan model.NewsEvent
	sleep   func(ctx context.Context, d time.Duration) bool
}

func NewStream(cfg Config, sources ...Source) *Stream {
	buffer := cfg.BufferSize
	if buffer <= 0 {
		buffer = 256
	}
	return &Stream{
		Log:     logger.WithField("component", "news_stream"),
		sources: sources,
		backoff: cfg.Backoff(),
		dedupe:  NewDeduper(cfg.DedupeSize),
		events:  make(chan model.NewsEvent, buffer),
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Events is closed once Run returns.
func (s *Stream) Events() <-chan model.NewsEvent {
	return s.events
}

// Run blocks until ctx is cancelled and every source goroutine has exited.
func (s *Stream) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range s.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			s.runSource(ctx, src)
		}(src)
	}
	wg.Wait()
	close(s.events)
}

func (s *Stream) runSource(ctx context.Context, src Source) {
	log := s.Log.WithField("source", src.Name())
	attempt := 0

	for {
		delivered := 0
		emit := func(ev model.NewsEvent) {
			if s.dedupe.Seen(Key(ev)) {
				log.WithField("id", Key(ev)).Debug("duplicate news dropped")
				return
			}
			delivered++
			select {
			case s.events <- ev:
			case <-ctx.Done():
			}
		}

		err := src.Run(ctx, emit)
		if ctx.Err() != nil {
			return
		}

		// a connection that delivered news was healthy; start the backoff over
		if delivered > 0 {
			attempt = 0
		}
		attempt++
		wait := s.backoff.Next(attempt)

		entry := log.WithFields(map[string]interface{}{"attempt": attempt, "wait": wait.String()})
		if err != nil && !errors.Is(err, context.Canceled) {
			entry = entry.WithError(err)
		}
		entry.Warn("news source disconnected, reconnecting")

		if !s.sleep(ctx, wait) {
			return
		}
	}
}

// History fetches older news from every source that supports it, drops
// duplicates, marks them seen and returns the newest limit events oldest first.
func (s *Stream) History(ctx context.Context, limit int) []model.NewsEvent {
	var all []model.NewsEvent
	for _, src := range s.sources {
		h, ok := src.(HistoryFetcher)
		if !ok {
			continue
		}
		events, err := h.FetchHistory(ctx, limit)
		if err != nil {
			s.Log.WithError(err).WithField("source", src.Name()).Warn("history fetch failed")
			continue
		}
		all = append(all, events...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp.Before(all[j].Timestamp) })

	unique := make([]model.NewsEvent, 0, len(all))
	for _, ev := range all {
		if s.dedupe.Seen(Key(ev)) {
			continue
		}
		unique = append(unique, ev)
	}

	if limit > 0 && len(unique) > limit {
		unique = unique[len(unique)-limit:]
	}
	return unique
}
