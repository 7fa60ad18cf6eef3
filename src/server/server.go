package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"newstrader/src/auth"
	"newstrader/src/handler"
	"newstrader/src/messaging"
	"newstrader/src/model"
	"newstrader/src/orders"
)

type Executor interface {
	Submit(ctx context.Context, req orders.OrderRequest) (*orders.OrderHandle, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (orders.CancelResult, error)
	AttachBracket(ctx context.Context, orderID uuid.UUID, tp, sl decimal.Decimal) ([]*orders.OrderHandle, error)
}

type Positions interface {
	Account(id string) (model.Account, bool)
	Positions(accountID string) []model.Position
}

type OrderLister interface {
	FindLatest(ctx context.Context, accountID string, limit int) ([]model.Order, error)
}

type Events interface {
	Subscribe(kinds ...string) (<-chan messaging.Event, func())
}

type Deps struct {
	Executor  Executor
	Positions Positions
	Orders    OrderLister
	Events    Events
}

func NewRouter(cfg *Config, deps Deps) http.Handler {
	// Router with middleware
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Operator routes
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(cfg.APIToken))

		r.Get("/accounts/{id}/positions", handler.PositionsHandler(deps.Positions))
		r.Get("/accounts/{id}/orders", handler.ListOrdersHandler(deps.Orders))
		r.Post("/orders", handler.SubmitOrderHandler(deps.Executor))
		r.Delete("/orders/{id}", handler.CancelOrderHandler(deps.Executor))
		r.Post("/orders/{id}/bracket", handler.AttachBracketHandler(deps.Executor))
		r.Get("/events", handler.EventsHandler(deps.Events))
	})

	return r
}

// Run serves h until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg *Config, h http.Handler) error {
	// Graceful server
	// Server setup
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}
