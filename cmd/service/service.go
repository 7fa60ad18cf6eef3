package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"newstrader/src/catalog"
	"newstrader/src/connectors"
	"newstrader/src/database"
	"newstrader/src/filter"
	"newstrader/src/messaging"
	"newstrader/src/model"
	"newstrader/src/news"
	"newstrader/src/orders"
	"newstrader/src/pipeline"
	"newstrader/src/registry"
	"newstrader/src/repository"
	"newstrader/src/resolver"
	"newstrader/src/risk"
	"newstrader/src/security"
	"newstrader/src/server"
)

// Service runs the news pipeline, the order executor and the operator API.
type Service struct {
	Log *logger.Entry
}

func (s *Service) Start() error {
	if s.Log == nil {
		s.Log = logger.WithField("cmd", "run")
	}
	config := GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if err := database.InitMainDB(); err != nil {
		s.Log.WithError(err).Error("Failed to connect to main database")
		return err
	}

	accountRepo := repository.NewAccountRepository()
	ruleRepo := repository.NewFilterRuleRepository()
	orderRepo := repository.NewOrderRepository()
	exceptionRepo := repository.NewExceptionRepository()

	secrets, err := security.NewDBSecretStoreFromConfig(repository.NewSecretRepository(), security.GetConfig())
	if err != nil {
		return fmt.Errorf("secret store: %w", err)
	}

	connCfg := connectors.GetConfig()
	factory := connectors.NewFactory(connCfg, secrets)

	accounts, err := accountRepo.List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		s.Log.Warn("no accounts configured, using a paper account")
		accounts = []model.Account{{ID: connectors.PaperExchangeID, ExchangeID: connectors.PaperExchangeID}}
	}

	msgCfg := messaging.GetConfig()
	bus := messaging.NewBus(msgCfg.BusBufferSize)
	defer bus.Close()

	reg := registry.New(bus)
	defer reg.Close()

	var sources []catalog.Source
	seen := make(map[string]bool)
	for _, account := range accounts {
		if err := reg.RegisterAccount(ctx, account); err != nil {
			return fmt.Errorf("register account %s: %w", account.ID, err)
		}
		if seen[account.ExchangeID] {
			continue
		}
		seen[account.ExchangeID] = true
		src, err := factory.Public(account.ExchangeID)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	catCfg := catalog.GetConfig()
	cat := catalog.New(catCfg, sources...)
	if err := cat.Refresh(ctx); err != nil {
		s.Log.WithError(err).Warn("initial catalog refresh incomplete")
	}

	engine, err := s.compileFilter(ctx, config, ruleRepo)
	if err != nil {
		return err
	}

	newsCfg := news.GetConfig()
	var newsSources []news.Source
	var calendar *news.CalendarSource
	if newsCfg.TreeEnabled {
		newsSources = append(newsSources, news.NewTreeSource(newsCfg, secretKey(secrets, config.TreeKeyRef)))
	}
	if newsCfg.PhoenixEnabled {
		newsSources = append(newsSources, news.NewPhoenixSource(newsCfg, secretKey(secrets, config.PhoenixKeyRef)))
	}
	if newsCfg.CalendarEnabled {
		calendar = news.NewCalendarSource(newsCfg)
		newsSources = append(newsSources, calendar)
	}
	stream := news.NewStream(newsCfg, newsSources...)

	upcoming := func() []model.CalendarEvent { return nil }
	if calendar != nil {
		upcoming = calendar.Upcoming
	}
	gate := risk.NewGate(risk.GetConfig(), upcoming)

	ordersCfg := orders.GetConfig()
	exec := orders.NewExecutor(ordersCfg, cat, reg, factory, orderRepo, accountRepo, bus)
	exec.Exceptions = exceptionRepo

	pipeCfg := pipeline.GetConfig()
	pipe := pipeline.New(pipeCfg, resolver.GetConfig(), pipeline.Deps{
		Events:      stream,
		Filter:      engine,
		Instruments: cat,
		Prices:      reg,
		Accounts:    reg,
		Configs:     accountRepo,
		Executor:    exec,
		Gate:        gate,
		Bus:         bus,
	})

	sched := pipeline.NewScheduler(ctx, pipeCfg.JobTimeout)
	if err := sched.Add("catalog_refresh", catCfg.RefreshSchedule, cat.Refresh); err != nil {
		return err
	}

	feed := connectors.NewBinancePriceFeed(connCfg, cat.Symbols)
	feed.Subscribe(pipeline.PriceSinkFunc(ctx, s.Log, "registry", reg.ApplyPriceUpdate))
	feed.Subscribe(factory.Paper().SetPrice)
	feed.Subscribe(pipeline.PriceSinkFunc(ctx, s.Log, "trailing_stop", exec.TrailStops))
	if err := sched.Add("price_feed", connCfg.PriceFeedSchedule, func(context.Context) error {
		feed.Poll()
		return nil
	}); err != nil {
		return err
	}
	if err := sched.Add("order_reconcile", ordersCfg.ReconcileSchedule, exec.Reconcile); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	var wg sync.WaitGroup
	if msgCfg.NATSURL != "" {
		nats, err := messaging.NewNATSPublisher(msgCfg)
		if err != nil {
			s.Log.WithError(err).Error("nats bridge disabled")
		} else {
			defer nats.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				nats.Forward(ctx, bus)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		pipe.Run(ctx)
	}()

	serverCfg := server.GetConfig()
	router := server.NewRouter(serverCfg, server.Deps{
		Executor:  exec,
		Positions: reg,
		Orders:    orderRepo,
		Events:    bus,
	})

	s.Log.WithFields(map[string]interface{}{
		"accounts":     len(accounts),
		"instruments":  cat.Snapshot().Len(),
		"news_sources": len(newsSources),
		"rules":        engine.Len(),
	}).Info("newstrader started")

	err = server.Run(ctx, serverCfg, router)
	stop()
	wg.Wait()
	return err
}

func (s *Service) compileFilter(ctx context.Context, config *Config, rules *repository.FilterRuleRepository) (*filter.Engine, error) {
	list, err := rules.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load filter rules: %w", err)
	}
	if config.TokenListURL != "" {
		tokens, err := filter.NewTokenClient(config.TokenListURL).FetchTokens(ctx)
		if err != nil {
			s.Log.WithError(err).Warn("token list unavailable")
		} else {
			list = append(list, filter.CoinRulesFromTokens(tokens)...)
		}
	}
	engine, err := filter.Compile(list)
	if err != nil {
		return nil, fmt.Errorf("compile filter rules: %w", err)
	}
	return engine, nil
}

// secretKey resolves a news feed API key lazily on every connect.
func secretKey(store security.SecretStore, ref string) news.KeyFunc {
	return func(ctx context.Context) (string, error) {
		return store.Get(ctx, ref)
	}
}
