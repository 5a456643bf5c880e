package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"github.com/vitos/credit_line/internal/domain"
	"github.com/vitos/credit_line/internal/usecase"
	"go.uber.org/zap"
)

// CreditLine is the request side of the credit line service.
type CreditLine interface {
	RequestSpendingPower(ctx context.Context, ownerKey, destination string, target decimal.Decimal, provider string) (string, error)
	RequestRepayment(ctx context.Context, ownerKey string) (string, error)
	GetPositionSummary(ctx context.Context, address string) (*domain.PositionSummary, error)
	RegisterWallet(ctx context.Context, ownerKey, address string) (*domain.Wallet, error)
	GetIntent(ctx context.Context, ownerKey, id string) (*domain.Intent, error)
	ListIntents(ctx context.Context, ownerKey string, limit int) ([]*domain.Intent, error)
	StuckIntents(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Intent, error)
}

// CallbackRunner executes scheduler deliveries.
type CallbackRunner interface {
	VerifySecret(secret string) bool
	RunCallback(ctx context.Context, intentID string) (usecase.Outcome, error)
}

type ServerConfig struct {
	Port       int
	StuckAfter time.Duration
}

type Server struct {
	router     *http.ServeMux
	server     *http.Server
	service    CreditLine
	callbacks  CallbackRunner
	hub        *Hub
	limiter    *RateLimiter
	stuckAfter time.Duration
	started    time.Time
	logger     *zap.Logger
}

func NewServer(
	cfg ServerConfig,
	service CreditLine,
	callbacks CallbackRunner,
	hub *Hub,
	limiter *RateLimiter,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		service:    service,
		callbacks:  callbacks,
		hub:        hub,
		limiter:    limiter,
		stuckAfter: cfg.StuckAfter,
		started:    time.Now(),
		logger:     logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	// Wallets
	s.router.HandleFunc("POST /api/wallets", s.limiter.Wrap(s.handleRegisterWallet))

	// Requests
	s.router.HandleFunc("POST /api/spending-power", s.limiter.Wrap(s.handleSpendingPower))
	s.router.HandleFunc("POST /api/repay", s.limiter.Wrap(s.handleRepay))

	// Views
	s.router.HandleFunc("GET /api/position/{address}", s.limiter.Wrap(s.handlePosition))
	s.router.HandleFunc("GET /api/intents", s.limiter.Wrap(s.handleListIntents))
	s.router.HandleFunc("GET /api/intents/stuck", s.limiter.Wrap(s.requireOperator(s.handleStuckIntents)))
	s.router.HandleFunc("GET /api/intents/{id}", s.limiter.Wrap(s.handleGetIntent))

	// Scheduler deliveries
	s.router.HandleFunc("POST /api/workflows/{workflow}", s.handleWorkflow)

	// Push
	if s.hub != nil {
		s.router.Handle("GET /ws", s.hub)
	}

	// Ops
	s.router.Handle("GET /metrics", promhttp.Handler())
	s.router.HandleFunc("GET /status", s.handleStatus)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}
