package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"solscope/internal/domain"
	"solscope/internal/infra"
	"solscope/internal/infra/birdeye"
)

// PumpMonitor is the monitor surface the control API needs
type PumpMonitor interface {
	Start(ctx context.Context) error
	Stop()
	IsMonitoring() bool
	Stats() domain.MonitorStats
	RecentLaunches(n int) []domain.TokenLaunch
	AllRecentTrades() []domain.TradeActivity
	TokenTrades(mint string, n int) []domain.TradeActivity
	Launch(mint string) (domain.TokenLaunch, bool)
}

// TokenJournal is the persisted launch and trade history
type TokenJournal interface {
	GetLaunch(mint string) (*domain.TokenLaunch, error)
	TradesByMint(mint string, limit int) ([]domain.TradeActivity, error)
}

// LastPriceSource returns the last traded price of a mint, "" when unknown
type LastPriceSource interface {
	LastPrice(ctx context.Context, mint string) (string, error)
}

// Server is the HTTP control surface
type Server struct {
	engine   *gin.Engine
	http     *http.Server
	monitor  PumpMonitor
	birdeye  *birdeye.Client
	logos    *infra.LogoDownloader
	solPrice *birdeye.SolPriceTracker
	stream   *Stream
	journal  TokenJournal
	prices   LastPriceSource
	metrics  *infra.Metrics
	logger   *slog.Logger
}

// Deps are the components served over HTTP.
// Logos, SolPrice, Journal and Prices may be nil.
type Deps struct {
	Monitor  PumpMonitor
	Birdeye  *birdeye.Client
	Logos    *infra.LogoDownloader
	SolPrice *birdeye.SolPriceTracker
	Stream   *Stream
	Journal  TokenJournal
	Prices   LastPriceSource
	Metrics  *infra.Metrics
}

// New builds the router
func New(addr string, deps Deps) *Server {
	s := &Server{
		engine:   gin.New(),
		monitor:  deps.Monitor,
		birdeye:  deps.Birdeye,
		logos:    deps.Logos,
		solPrice: deps.SolPrice,
		stream:   deps.Stream,
		journal:  deps.Journal,
		prices:   deps.Prices,
		metrics:  deps.Metrics,
		logger:   slog.Default().With("module", "http_server"),
	}
	if s.stream == nil {
		s.stream = NewStream(deps.Metrics)
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.registerRoutes()

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/ws", gin.WrapH(s.stream))

	api := s.engine.Group("/api")
	api.GET("/pumpfun", s.getPumpFun)
	api.POST("/pumpfun", s.controlPumpFun)
	api.GET("/birdeye", s.getBirdeye)
	api.POST("/birdeye", s.postBirdeye)
	api.GET("/tokens/:address", s.tokenDetail)
	api.GET("/tokens/:address/trades", s.tokenTrades)
	api.GET("/tokens/:address/logo", s.tokenLogo)
	api.GET("/metrics", s.getMetrics)
}

// Handler exposes the router (tests)
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server stops; a clean shutdown returns nil
func (s *Server) ListenAndServe() error {
	s.logger.Info("🌐 HTTP server listening", slog.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains HTTP requests and disconnects stream clients
func (s *Server) Shutdown(ctx context.Context) error {
	s.stream.Close()
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"monitoring": s.monitor.IsMonitoring(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.metrics.Snapshot())
}

// statusFor maps an error to an HTTP status: bad input 400, upstream 4xx
// passed through, everything else 500.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrInvalidArgument) {
		return http.StatusBadRequest
	}
	var apiErr *domain.RemoteAPIError
	if errors.As(err, &apiErr) && apiErr.IsClientError() {
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}
