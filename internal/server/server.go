package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/lottolabs/sollotto/internal/lottery"
	"github.com/lottolabs/sollotto/internal/metrics"
	"github.com/lottolabs/sollotto/internal/session"
	"github.com/lottolabs/sollotto/internal/wallet"
)

// PaymentService moves lamports for purchases, withdrawals and balance
// lookups. Implemented by sol.Gateway.
type PaymentService interface {
	lottery.PaymentGateway
	TransferFrom(ctx context.Context, key solana.PrivateKey, destination string, lamports int64) (*lottery.Receipt, error)
}

type Config struct {
	Logger   *slog.Logger
	Store    *lottery.Store
	Wallets  *wallet.Registry
	Sessions *session.Manager
	Payments PaymentService
	Clock    clockwork.Clock
	Rules    lottery.Rules

	// OperatorAddress receives ticket payments.
	OperatorAddress string
	Bind            string
	Port            int
	Version         string
	// AllowedOrigins for CORS. Empty disables cross-origin access.
	AllowedOrigins []string
	// RateLimit is requests/second per IP on the API. Defaults to 60/min
	// with a burst of 10.
	RateLimit *RateLimiter
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Wallets == nil {
		return errors.New("wallet registry is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session manager is required")
	}
	if cfg.Payments == nil {
		return errors.New("payment service is required")
	}
	if cfg.OperatorAddress == "" {
		return errors.New("operator address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Rules == (lottery.Rules{}) {
		cfg.Rules = lottery.DefaultRules()
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.RateLimit == nil {
		cfg.RateLimit = NewRateLimiter(rate.Every(time.Second), 10)
	}
	return nil
}

// Server exposes the lottery over HTTP: live status, the quoted purchase
// flow, ticket history, wallets and recent draw results.
type Server struct {
	log    *slog.Logger
	cfg    Config
	router *chi.Mux
	srv    *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:    cfg.Logger,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupRoutes()

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Bind, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.Middleware)

	if len(s.cfg.AllowedOrigins) > 0 {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Get("/version", s.handleVersion)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.cfg.RateLimit))

		r.Get("/status", s.handleStatus)
		r.Get("/draws", s.handleRecentDraws)
		r.Get("/history/{owner}", s.handleHistory)

		r.Post("/purchase/quote", s.handlePurchaseQuote)
		r.Get("/purchase/quote/{owner}", s.handlePurchaseStatus)
		r.Post("/purchase/confirm", s.handlePurchaseConfirm)
		r.Post("/purchase/cancel", s.handlePurchaseCancel)

		r.Post("/wallet", s.handleWalletCreate)
		r.Post("/wallet/import", s.handleWalletImport)
		r.Get("/wallet/{owner}", s.handleWalletGet)
		r.Delete("/wallet/{owner}", s.handleWalletDelete)
		r.Put("/wallet/{owner}/preferences", s.handleWalletPreferences)
		r.Post("/wallet/{owner}/withdraw", s.handleWithdraw)
	})
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return <-errCh
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.cfg.Store.Pot(r.Context(), lottery.CadenceHourly); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.cfg.Version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("http: failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
