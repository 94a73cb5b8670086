// Package server wires the payment engine, escrow custody, dispute,
// multisig, commission, and yield services into one HTTP API and runs
// the background sweeps that move payments forward.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/davigut/pactum/internal/auth"
	"github.com/davigut/pactum/internal/automation"
	"github.com/davigut/pactum/internal/chain"
	"github.com/davigut/pactum/internal/commission"
	"github.com/davigut/pactum/internal/config"
	"github.com/davigut/pactum/internal/dispute"
	"github.com/davigut/pactum/internal/escrow"
	"github.com/davigut/pactum/internal/health"
	"github.com/davigut/pactum/internal/idgen"
	"github.com/davigut/pactum/internal/logging"
	"github.com/davigut/pactum/internal/metrics"
	"github.com/davigut/pactum/internal/money"
	"github.com/davigut/pactum/internal/multisig"
	"github.com/davigut/pactum/internal/notify"
	"github.com/davigut/pactum/internal/outbox"
	"github.com/davigut/pactum/internal/payment"
	"github.com/davigut/pactum/internal/profile"
	"github.com/davigut/pactum/internal/rail"
	"github.com/davigut/pactum/internal/ratelimit"
	"github.com/davigut/pactum/internal/realtime"
	"github.com/davigut/pactum/internal/reconciliation"
	"github.com/davigut/pactum/internal/security"
	"github.com/davigut/pactum/internal/validation"
	"github.com/davigut/pactum/internal/watcher"
	"github.com/davigut/pactum/internal/yield"
)

// Server is the main application server.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sql.DB
	router  *gin.Engine
	httpSrv *http.Server

	custody chain.CustodyClient
	fiat    rail.Rail

	profiles    profile.Store
	authMgr     *auth.Manager
	payments    *payment.Service
	engine      *escrow.Engine
	escrowStore escrow.Store
	disputes    *dispute.Service
	coordinator *multisig.Service
	commissions *commission.Service
	yields      *yield.Service
	notifyStore notify.Store
	outbox      *outbox.Dispatcher
	scheduler   *automation.Scheduler
	reconciler  *reconciliation.Timer
	locks       *watcher.Watcher
	hub         *realtime.Hub
	checks      *health.Registry
	rateLimiter *ratelimit.Limiter

	ready        atomic.Bool
	cancelRunCtx context.CancelFunc
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCustody overrides the custody client, for tests.
func WithCustody(c chain.CustodyClient) Option {
	return func(s *Server) { s.custody = c }
}

// WithRail overrides the fiat rail, for tests.
func WithRail(r rail.Rail) Option {
	return func(s *Server) { s.fiat = r }
}

// New creates a fully wired server. With a DATABASE_URL it uses
// PostgreSQL; otherwise everything runs on in-memory stores, which is
// the demo/development mode.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	var (
		profileStore    profile.Store
		paymentStore    payment.Store
		escrowStore     escrow.Store
		disputeStore    dispute.Store
		multisigStore   multisig.Store
		commissionStore commission.Store
		yieldStore      yield.Store
		notifyStore     notify.Store
		outboxStore     outbox.Store
		authStore       auth.Store
	)

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		s.logger.Info("using postgres storage", "dsn", maskDSN(cfg.DatabaseURL))

		profileStore = profile.NewPostgresStore(db)
		paymentStore = payment.NewPostgresStore(db)
		escrowStore = escrow.NewPostgresStore(db)
		disputeStore = dispute.NewPostgresStore(db)
		multisigStore = multisig.NewPostgresStore(db)
		commissionStore = commission.NewPostgresStore(db)
		yieldStore = yield.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
		outboxStore = outbox.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage, data is lost on restart")

		profileStore = profile.NewMemoryStore()
		paymentStore = payment.NewMemoryStore()
		escrowStore = escrow.NewMemoryStore()
		disputeStore = dispute.NewMemoryStore()
		multisigStore = multisig.NewMemoryStore()
		commissionStore = commission.NewMemoryStore()
		yieldStore = yield.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
		outboxStore = outbox.NewMemoryStore()
		authStore = auth.NewMemoryStore()
	}
	s.profiles = profileStore
	s.escrowStore = escrowStore
	s.notifyStore = notifyStore

	if s.custody == nil {
		if cfg.BridgeKey != "" {
			client, err := chain.New(chain.Config{
				RPCURL:         cfg.RPCURL,
				PrivateKey:     cfg.BridgeKey,
				ChainID:        cfg.ChainID,
				EscrowContract: cfg.EscrowContract,
				TokenContract:  cfg.TokenContract,
			})
			if err != nil {
				return nil, fmt.Errorf("connect chain: %w", err)
			}
			s.custody = client
			s.logger.Info("chain custody connected",
				"rpc", cfg.RPCURL, "chain_id", cfg.ChainID, "bridge", client.Address())
		} else {
			// Simulated custody keeps the full lifecycle runnable
			// without a funded bridge wallet.
			s.custody = chain.NewSimulated(money.TokenUnits(1_000_000_000_00))
			s.logger.Info("using simulated custody, on-chain ops are faked")
		}
	}

	if s.fiat == nil {
		if cfg.RailAPIKey != "" {
			s.fiat = rail.NewStripeRail(cfg.RailAPIKey, s.logger)
			s.logger.Info("fiat rail connected")
		} else {
			s.fiat = rail.NewMock()
			s.logger.Info("using mock fiat rail, deposits must be simulated")
		}
	}

	s.authMgr = auth.NewManager(authStore)
	s.disputes = dispute.NewService(disputeStore, dispute.WithLogger(s.logger))
	s.commissions = commission.NewService(commissionStore,
		&railDisburser{fiat: s.fiat, profiles: profileStore},
		commission.WithLogger(s.logger))

	var rates yield.RateProvider
	var httpRates *yield.HTTPRateProvider
	if cfg.YieldAPIURL != "" {
		httpRates = yield.NewHTTPRateProvider(cfg.YieldAPIURL, cfg.YieldAPIKey, s.logger)
		rates = httpRates
	} else {
		rates = yield.StaticRate(cfg.YieldDefaultRate)
	}
	s.yields = yield.NewService(yieldStore, rates,
		yield.WithLogger(s.logger),
		yield.WithFallbackRate(cfg.YieldDefaultRate),
		yield.WithPaymentStatuses(&paymentStatuses{store: paymentStore}))

	s.engine = escrow.NewEngine(
		escrowStore, paymentStore, profileStore,
		s.disputes, s.custody, s.fiat, s.commissions, s.yields,
		escrow.WithLogger(s.logger),
		escrow.WithRetryPolicy(cfg.MaxAttempts, cfg.BaseBackoff),
	)

	// A real chain client signs multisig executions against the wallet
	// contract; anything else releases through the custody client
	// directly.
	var executor multisig.Executor
	if client, ok := s.custody.(*chain.Client); ok {
		executor = &chainExecutor{client: client}
	} else {
		executor = &custodyExecutor{custody: s.custody}
	}
	s.coordinator = multisig.NewService(multisigStore, executor, s.disputes,
		multisig.WithLogger(s.logger))
	s.coordinator.SetAdvancer(s.engine)
	s.disputes.SetAdvancer(s.engine)

	s.payments = payment.NewService(paymentStore, profileStore, s.commissions, s.engine,
		payment.WithLogger(s.logger))
	s.payments.SetAdvancer(s.engine)

	if len(cfg.MultisigOwners) > 0 {
		walletCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wallet, err := s.coordinator.CreateWallet(walletCtx,
			cfg.MultisigWalletAddr, cfg.MultisigOwners, cfg.MultisigThreshold)
		if err != nil {
			return nil, fmt.Errorf("register multisig wallet: %w", err)
		}
		settlement := "settlement"
		if client, ok := s.custody.(*chain.Client); ok {
			settlement = client.Address()
		}
		s.engine.SetReleaser(&multisigReleaser{
			coordinator: s.coordinator,
			walletID:    wallet.ID,
			to:          settlement,
		})
		s.logger.Info("multisig releases enabled",
			"wallet", cfg.MultisigWalletAddr,
			"owners", len(cfg.MultisigOwners),
			"threshold", cfg.MultisigThreshold)
	}

	s.hub = realtime.NewHub(s.logger)
	webhooks := notify.NewDispatcher(notifyStore)
	s.outbox = outbox.NewDispatcher(outboxStore,
		&fanoutSender{webhooks: webhooks, hub: s.hub},
		outbox.WithLogger(s.logger))
	s.engine.SetNotifier(s.outbox)

	s.scheduler = automation.NewScheduler(s.engine, s.yields,
		&outboxDrainer{dispatcher: s.outbox},
		automation.WithLogger(s.logger),
		automation.WithIntervals(cfg.DepositInterval, cfg.CustodyInterval, cfg.PayoutInterval),
		automation.WithAccrualHour(cfg.YieldRunHourUTC))

	if summer, ok := escrowStore.(reconciliation.CustodySummer); ok {
		service := reconciliation.NewService(summer, s.custody)
		runner := reconciliation.NewRunner(service, escrowStore, s.logger)
		s.reconciler = reconciliation.NewTimer(runner, s.logger)
	}

	// With a real chain behind us, watch the token contract for
	// transfers into the escrow contract so custody locks are
	// confirmed by the chain itself.
	if _, ok := s.custody.(*chain.Client); ok && cfg.EscrowContract != "" && cfg.TokenContract != "" {
		wcfg := watcher.DefaultConfig()
		wcfg.RPCURL = cfg.RPCURL
		wcfg.TokenContract = common.HexToAddress(cfg.TokenContract)
		wcfg.EscrowContract = common.HexToAddress(cfg.EscrowContract)
		w, err := watcher.New(wcfg, &lockBroadcaster{hub: s.hub}, s.logger)
		if err != nil {
			return nil, fmt.Errorf("start custody watcher: %w", err)
		}
		s.locks = w
	}

	s.checks = health.NewRegistry()
	if s.db != nil {
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Fail("database", err)
			}
			return health.Ok("database")
		})
	}
	s.checks.Register("custody", func(ctx context.Context) health.Status {
		if _, err := s.custody.TokenBalance(ctx); err != nil {
			return health.Fail("custody", err)
		}
		return health.Ok("custody")
	})
	if httpRates != nil {
		s.checks.Register("rate_provider", func(ctx context.Context) health.Status {
			if !httpRates.Available() {
				return health.Fail("rate_provider", yield.ErrProviderUnavailable)
			}
			return health.Ok("rate_provider")
		})
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"panic", fmt.Sprint(recovered),
			"path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal server error",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		// Routes addressing a payment carry its ID in the :id param;
		// tag the context so every line for this request names it.
		if id := c.Param("id"); strings.HasPrefix(id, "pay_") {
			c.Request = c.Request.WithContext(logging.WithPayment(c.Request.Context(), id))
		}

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		log := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			log.Error("request failed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			log.Warn("request rejected", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/health/ready", func(c *gin.Context) {
		if !s.ready.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	s.router.GET("/api", s.apiInfo)

	paymentHandler := payment.NewHandler(s.payments, s.engine)
	escrowHandler := escrow.NewHandler(s.escrowStore, s.disputes)
	disputeHandler := dispute.NewHandler(s.disputes)
	yieldHandler := yield.NewHandler(s.yields, s.engine)
	multisigHandler := multisig.NewHandler(s.coordinator)
	notifyHandler := notify.NewHandler(s.notifyStore)
	automationHandler := automation.NewHandler(s.scheduler)
	authHandler := auth.NewHandler(s.authMgr)

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	// Public reads. Payment ids are unguessable, which is the access
	// model for status polling by either party.
	paymentHandler.RegisterRoutes(v1)
	escrowHandler.RegisterRoutes(v1)
	disputeHandler.RegisterRoutes(v1)
	yieldHandler.RegisterRoutes(v1)

	// Multisig signatures carry their own authorization: each one is
	// verified against the wallet's owner set.
	multisigHandler.RegisterRoutes(v1)

	v1.GET("/auth/info", authHandler.Info)
	v1.POST("/profiles", s.registerProfile)

	protected := v1.Group("")
	protected.Use(auth.RequireAuth(s.authMgr))
	paymentHandler.RegisterProtectedRoutes(protected)
	escrowHandler.RegisterProtectedRoutes(protected)
	disputeHandler.RegisterProtectedRoutes(protected)
	yieldHandler.RegisterProtectedRoutes(protected)
	notifyHandler.RegisterRoutes(protected)

	protected.GET("/auth/keys", authHandler.ListKeys)
	protected.POST("/auth/keys", authHandler.CreateKey)
	protected.DELETE("/auth/keys/:keyId", authHandler.RevokeKey)
	protected.POST("/auth/keys/:keyId/regenerate", authHandler.RegenerateKey)
	protected.GET("/auth/me", authHandler.Me)

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin())
	disputeHandler.RegisterAdminRoutes(admin)
	escrowHandler.RegisterAdminRoutes(admin)
	multisigHandler.RegisterAdminRoutes(admin)
	automationHandler.RegisterAdminRoutes(admin)
	admin.POST("/simulate/deposit", s.simulateDeposit)
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	healthy, statuses := s.checks.CheckAll(ctx)
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy": healthy,
		"checks":  statuses,
	})
}

func (s *Server) apiInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "pactum",
		"description": "Escrow custody and release orchestration for MXN payments",
		"version":     "1",
		"endpoints": gin.H{
			"payments":  "/v1/payments",
			"escrow":    "/v1/escrow/:id",
			"disputes":  "/v1/disputes",
			"multisig":  "/v1/multisig/requests/:id",
			"yield":     "/v1/payments/:id/yield",
			"profiles":  "/v1/profiles",
			"webhooks":  "/v1/webhooks",
			"authInfo":  "/v1/auth/info",
			"websocket": "/ws",
			"health":    "/health",
			"metrics":   "/metrics",
		},
	})
}

type registerProfileRequest struct {
	Email         string `json:"email" binding:"required"`
	FullName      string `json:"fullName"`
	WalletAddress string `json:"walletAddress"`
	DepositClabe  string `json:"depositClabe"`
	PayoutClabe   string `json:"payoutClabe"`
}

// registerProfile creates a party profile and issues its first API
// key. This is the only unauthenticated write in the API.
func (s *Server) registerProfile(c *gin.Context) {
	var req registerProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.ValidAddress("walletAddress", req.WalletAddress),
		validation.ValidCLABE("depositClabe", req.DepositClabe),
		validation.ValidCLABE("payoutClabe", req.PayoutClabe),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"details": errs,
		})
		return
	}

	ctx := c.Request.Context()
	email := profile.Normalize(req.Email)

	if _, err := s.profiles.ByEmail(ctx, email); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "profile_exists",
			"message": "A profile with this email already exists",
		})
		return
	}

	p := &profile.Profile{
		ID:            idgen.WithPrefix("prf_"),
		Email:         email,
		FullName:      req.FullName,
		WalletAddress: req.WalletAddress,
		DepositCLABE:  req.DepositClabe,
		PayoutCLABE:   req.PayoutClabe,
	}
	if err := s.profiles.Put(ctx, p); err != nil {
		logging.L(ctx).Error("failed to create profile", "email", email, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create profile"})
		return
	}

	rawKey, key, err := s.authMgr.GenerateKey(ctx, email, "Initial key")
	if err != nil {
		// The profile exists but key issuance failed. Surface it so
		// the caller retries instead of silently losing API access.
		logging.L(ctx).Error("profile created but key issuance failed",
			"email", email, "error", err)
		c.JSON(http.StatusCreated, gin.H{
			"profile": p,
			"warning": "profile created but API key issuance failed, register again to retry",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"profile": p,
		"apiKey":  rawKey,
		"keyId":   key.ID,
		"message": "Store this API key securely. It will not be shown again.",
	})
}

type simulateDepositRequest struct {
	Clabe     string `json:"clabe" binding:"required"`
	Amount    string `json:"amount" binding:"required"`
	Reference string `json:"reference"`
}

// simulateDeposit queues a fake SPEI deposit on the mock rail so the
// full lifecycle can be exercised without real money movement.
func (s *Server) simulateDeposit(c *gin.Context) {
	mock, ok := s.fiat.(*rail.Mock)
	if !ok {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_available",
			"message": "Deposit simulation requires the mock rail",
		})
		return
	}

	var req simulateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	cents, ok := money.Parse(req.Amount)
	if !ok || cents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive decimal, e.g. \"1500.00\"",
		})
		return
	}

	reference := req.Reference
	if reference == "" {
		reference = idgen.WithPrefix("dep_")
	}
	mock.QueueDeposit(rail.Deposit{
		Reference:   reference,
		CLABE:       req.Clabe,
		AmountCents: cents,
		ReceivedAt:  time.Now(),
	})

	c.JSON(http.StatusAccepted, gin.H{
		"reference": reference,
		"message":   "Deposit queued, it will be picked up on the next detection sweep",
	})
}

// Run starts the HTTP server and background loops, then blocks until
// a shutdown signal arrives or the listener fails.
func (s *Server) Run() error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)
	go s.scheduler.Start(runCtx)
	go s.outbox.Start(runCtx)
	if s.reconciler != nil {
		go s.reconciler.Start(runCtx)
	}
	if s.locks != nil {
		if err := s.locks.Start(runCtx); err != nil {
			s.logger.Error("custody watcher failed to start", "error", err)
			s.locks = nil
		}
	}

	// Give the listener a beat before reporting ready.
	time.Sleep(100 * time.Millisecond)
	s.ready.Store(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		s.logger.Info("shutdown signal received", "signal", sig.String())
		return s.Shutdown()
	}
}

// Shutdown stops the HTTP server and background loops gracefully.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.cfg.IsProduction() {
		// Let load balancers notice the failing readiness probe and
		// drain in-flight traffic before the listener closes.
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}

	s.scheduler.Stop()
	s.outbox.Stop()
	if s.reconciler != nil {
		s.reconciler.Stop()
	}
	if s.locks != nil {
		s.locks.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if client, ok := s.custody.(*chain.Client); ok {
		client.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

// railDisburser adapts the fiat rail to the commission service's
// payout surface, resolving the recipient's CLABE from their profile.
type railDisburser struct {
	fiat     rail.Rail
	profiles profile.Resolver
}

func (r *railDisburser) InitiatePayout(ctx context.Context, email string, amountCents int64, reference string) (string, error) {
	clabe := ""
	if p, err := r.profiles.ByEmail(ctx, email); err == nil {
		clabe = p.PayoutCLABE
	}
	return r.fiat.InitiatePayout(ctx, rail.PayoutRequest{
		Email:       email,
		CLABE:       clabe,
		AmountCents: amountCents,
		Reference:   reference,
		Description: "Commission payout",
	})
}

// multisigReleaser routes engine release requests through the
// coordinator's approval flow.
type multisigReleaser struct {
	coordinator *multisig.Service
	walletID    string
	to          string
}

func (m *multisigReleaser) RequestRelease(ctx context.Context, paymentID, amount string) (string, error) {
	req, err := m.coordinator.CreateRequest(ctx, m.walletID, paymentID, m.to, amount)
	if err != nil {
		return "", err
	}
	return req.ID, nil
}

// chainExecutor submits collected signatures to the multisig wallet
// contract.
type chainExecutor struct {
	client *chain.Client
}

func (e *chainExecutor) ExecuteRelease(ctx context.Context, walletAddr string, r *multisig.Request, sigs []*multisig.Signature) (string, error) {
	cents, ok := money.Parse(r.Amount)
	if !ok {
		return "", fmt.Errorf("unparseable release amount %q", r.Amount)
	}
	hexSigs := make([]string, len(sigs))
	for i, sig := range sigs {
		hexSigs[i] = sig.Signature
	}
	return e.client.ExecuteMultisigRelease(ctx, walletAddr, r.To, money.TokenUnits(cents), r.Nonce, hexSigs)
}

// custodyExecutor releases through the custody client directly, used
// with simulated custody where there is no wallet contract to call.
type custodyExecutor struct {
	custody chain.CustodyClient
}

func (e *custodyExecutor) ExecuteRelease(ctx context.Context, walletAddr string, r *multisig.Request, sigs []*multisig.Signature) (string, error) {
	return e.custody.Release(ctx, r.PaymentID)
}

// fanoutSender delivers webhook notifications and mirrors them onto
// the WebSocket hub.
type fanoutSender struct {
	webhooks *notify.Dispatcher
	hub      *realtime.Hub
}

func (f *fanoutSender) DispatchTo(ctx context.Context, email string, event *notify.Event) error {
	if f.hub != nil {
		f.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventType(event.Type),
			Timestamp: event.Timestamp,
			Data:      event.Data,
		})
	}
	return f.webhooks.DispatchTo(ctx, email, event)
}

// lockBroadcaster surfaces observed on-chain custody locks to
// connected WebSocket clients.
type lockBroadcaster struct {
	hub *realtime.Hub
}

func (b *lockBroadcaster) LockObserved(ctx context.Context, from string, amountCents int64, txHash string) error {
	b.hub.Broadcast(&realtime.Event{
		Type:      "custody_lock_observed",
		Timestamp: time.Now().UTC(),
		Data: map[string]interface{}{
			"from":   from,
			"amount": money.Format(amountCents),
			"txHash": txHash,
		},
	})
	return nil
}

// paymentStatuses lets the daily yield job check whether a payment is
// still in an earning status before accruing on its custody.
type paymentStatuses struct {
	store payment.Store
}

func (p *paymentStatuses) PaymentStatus(ctx context.Context, paymentID string) (string, error) {
	pay, err := p.store.Get(ctx, paymentID)
	if err != nil {
		return "", err
	}
	return string(pay.Status), nil
}

// outboxDrainer adapts the dispatcher's Drain to the scheduler's
// error-returning surface.
type outboxDrainer struct {
	dispatcher *outbox.Dispatcher
}

func (d *outboxDrainer) Drain(ctx context.Context) error {
	d.dispatcher.Drain(ctx)
	return nil
}

var (
	_ commission.Disburser  = (*railDisburser)(nil)
	_ escrow.Releaser       = (*multisigReleaser)(nil)
	_ multisig.Executor     = (*chainExecutor)(nil)
	_ multisig.Executor     = (*custodyExecutor)(nil)
	_ outbox.Sender         = (*fanoutSender)(nil)
	_ yield.PaymentStatuses = (*paymentStatuses)(nil)
	_ watcher.Sink          = (*lockBroadcaster)(nil)
	_ automation.Drainer    = (*outboxDrainer)(nil)
)
