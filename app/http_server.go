package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
)

const InternalError = "Internal Error"

type HttpJsonResp[T any] struct {
	Data T `json:"data"`
}

// server holds the HTTP handlers. It talks to the engine through narrow interfaces so the routes
// can be exercised without a chain.
type server struct {
	tx          transactionService
	settlements settlementService
	allowances  allowanceService
	keys        *keyring

	jwtSecret []byte
	chainID   int64
	status    func() Status
	gatherer  prometheus.Gatherer
	logger    logger.Logger

	// background confirmation waits outlive the request that started them
	ctx context.Context
	wg  sync.WaitGroup
}

func (a *App) startHttpServer(ctx context.Context) {
	if a.config.HttpBindAddress == "" {
		a.logger.Info("HTTP server disabled: no http_bind_address configured")
		return
	}

	srv := &server{
		tx:          a.orchestrator,
		settlements: a.processor,
		allowances:  a.sponsor,
		keys:        a.keys,
		jwtSecret:   a.config.JwtSecret,
		chainID:     a.config.SmartWallet.ChainID,
		status:      a.Status,
		gatherer:    a.registry,
		logger:      a.logger,
		ctx:         ctx,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	// registered before Recover so panics are reported
	if a.config.SentryDsn != "" {
		e.Use(sentryecho.New(sentryecho.Options{
			Repanic:         true,
			WaitForDelivery: false,
			Timeout:         2 * time.Second,
		}))
	}
	e.Use(middleware.Recover())
	srv.routes(e)

	a.http = e
	a.httpServer = srv

	addr := a.config.HttpBindAddress
	a.logger.Info("HTTP server listening", "address", addr)
	goSafe(func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server stopped", "address", addr, "error", err)
		}
	})
}

func (a *App) stopHttpServer(ctx context.Context) {
	if a.http == nil {
		return
	}
	if err := a.http.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shut down HTTP server", "error", err)
	}
	a.httpServer.wait()
}

func (s *server) routes(e *echo.Echo) {
	e.GET("/up", func(c echo.Context) error {
		if s.status() == runningStatus {
			return c.String(http.StatusOK, "up")
		}
		return c.String(http.StatusServiceUnavailable, "pending...")
	})
	e.GET("/version", s.getVersion)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := e.Group("/v1", s.authenticate)

	v1.POST("/transactions", s.initiateTransaction)
	v1.GET("/transactions/:id", s.getTransaction)
	v1.GET("/transactions/:id/progress", s.getProgress)
	v1.POST("/transactions/:id/cancel", s.cancelTransaction)
	v1.POST("/transactions/:id/process", s.processTransaction)
	v1.POST("/transactions/:id/retry", s.retryTransaction)

	v1.GET("/sponsorship/allowance", s.getAllowance)

	admin := v1.Group("", s.requireAdmin)
	admin.GET("/reports/daily", s.getDailyReport)
	admin.POST("/settlement/sweep", s.sweep)
	admin.POST("/settlement/cleanup", s.cleanup)
}

// background runs fn detached from the request, on the server's lifetime context.
func (s *server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	goSafe(func() {
		defer s.wg.Done()
		fn(s.ctx)
	})
}

func (s *server) wait() {
	s.wg.Wait()
}
