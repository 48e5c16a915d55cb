package api

import (
	"net/http"

	"github.com/ayo6706/custody-ledger/internal/api/handler"
	"github.com/ayo6706/custody-ledger/internal/api/middleware"
	"github.com/ayo6706/custody-ledger/internal/api/spec"
	"github.com/ayo6706/custody-ledger/internal/config"
	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services are the domain services the HTTP surface drives.
type Services struct {
	Wallets   *service.WalletService
	Ledger    *service.LedgerService
	Deposits  *service.DepositPipeline
	Withdraws *service.WithdrawService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	db     handler.Pinger
	redis  redis.Cmdable
	svc    Services
}

// NewRouter builds the operator API. db and redis are only used by the
// readiness probe; a nil redis is skipped.
func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, redisClient redis.Cmdable, svc Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{cfg: cfg, logger: logger, db: db, redis: redisClient, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   api.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature", "X-Trace-ID"},
		ExposedHeaders:   []string{"X-Trace-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	walletHandler := handler.NewWalletHandler(api.svc.Wallets, api.svc.Ledger)
	depositHandler := handler.NewDepositHandler(api.svc.Deposits)
	withdrawHandler := handler.NewWithdrawHandler(api.svc.Withdraws, api.svc.Wallets)
	settlementHandler := handler.NewSettlementHandler(api.svc.Withdraws, api.cfg.SettlementHMACKey)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/settlements/{method}/callback", settlementHandler.Callback)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole("admin"))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/wallets/{id}", walletHandler.Get)
		r.Get("/v1/wallets/{id}/statement", walletHandler.Statement)
		r.Post("/v1/wallets/{id}/block", walletHandler.Block)
		r.Post("/v1/wallets/{id}/unblock", walletHandler.Unblock)
		r.Post("/v1/wallets/{id}/transfer", walletHandler.Transfer)
		r.Post("/v1/wallets/{id}/invoices", depositHandler.RegisterInvoice)
		r.Post("/v1/wallets/{id}/invoices/refresh", depositHandler.RefreshInvoices)

		r.Post("/v1/deposits/observe", depositHandler.Observe)
		r.Post("/v1/deposits/refresh", depositHandler.Refresh)

		r.Post("/v1/withdraws", withdrawHandler.Create)
		r.Get("/v1/withdraws/{id}", withdrawHandler.Get)
		r.Post("/v1/withdraws/{id}/verify", withdrawHandler.Verify)
		r.Post("/v1/withdraws/{id}/accept", withdrawHandler.Accept)
		r.Post("/v1/withdraws/{id}/cancel", withdrawHandler.Cancel)
		r.Post("/v1/withdraws/{id}/dispatch", withdrawHandler.Dispatch)
		r.Post("/v1/withdraws/{id}/settle", withdrawHandler.Settle)
		r.Post("/v1/withdraws/{id}/refresh", withdrawHandler.Refresh)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})
	return r
}

func (api *Router) allowedOrigins() []string {
	if len(api.cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return api.cfg.CORSAllowedOrigins
}
