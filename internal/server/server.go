package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/advocon/chatgate/internal/api/middleware"
	"github.com/advocon/chatgate/internal/api/ws"
	"github.com/advocon/chatgate/internal/auth"
	"github.com/advocon/chatgate/internal/dispatch"
	"github.com/advocon/chatgate/internal/generation"
	"github.com/advocon/chatgate/internal/infrastructure/config"
	"github.com/advocon/chatgate/internal/infrastructure/logging"
	"github.com/advocon/chatgate/internal/infrastructure/monitoring"
	"github.com/advocon/chatgate/internal/protocol"
	"github.com/advocon/chatgate/internal/registry"
)

// Options carries the pluggable collaborators. Zero values get working
// defaults: an echo engine, a permissive authorizer, and JWT validation
// from config (or accept-any when no secret is configured).
type Options struct {
	Engine     generation.Engine
	Authorizer dispatch.SessionAuthorizer
	Validator  auth.Validator
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	router   *gin.Engine
	registry *registry.Registry
	sweeper  *registry.Sweeper
	disp     *dispatch.Dispatcher

	// Assigned in New, never reassigned: Shutdown may run concurrently
	// with (or before) Run.
	httpSrv     *http.Server
	sweepCtx    context.Context
	cancelSweep context.CancelFunc
}

// New wires the gateway together.
func New(cfg *config.Config, opts Options) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, err
	}

	metrics, promReg := monitoring.NewMetrics()

	reg := registry.New(registry.Config{
		MaxPerIP:       cfg.Transport.MaxConnsPerIP,
		StaleAfter:     cfg.Transport.StaleAfter,
		AdmitPerSecond: cfg.Transport.AdmitPerSecond,
		AdmitBurst:     cfg.Transport.AdmitBurst,
	}, logger, metrics)

	validator := opts.Validator
	if validator == nil {
		if cfg.Auth.JWTSecret != "" {
			validator = auth.NewJWTValidator([]byte(cfg.Auth.JWTSecret))
		} else {
			logger.Warn("no jwt secret configured, accepting any non-empty token")
			validator = auth.AcceptAny{}
		}
	}

	// The dispatcher and the engine reference each other; the function
	// adapter breaks the construction cycle.
	var disp *dispatch.Dispatcher
	engine := opts.Engine
	if engine == nil {
		engine = generation.NewEchoEngine(generation.OutboundFunc(func(sessionID string, env protocol.Envelope) {
			disp.DispatchOutbound(sessionID, env)
		}))
	}
	disp = dispatch.New(reg, engine, opts.Authorizer, logger, metrics)

	wsHandler := ws.NewHandler(ws.Config{
		MaxMessageSize: cfg.Transport.MaxMessageSize,
		WriteTimeout:   cfg.Transport.WriteTimeout,
		SendBuffer:     cfg.Transport.SendBuffer,
	}, reg, disp, validator, logger, metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(monitoring.Middleware(metrics))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   router,
		registry: reg,
		sweeper:  registry.NewSweeper(reg, cfg.Transport.SweepInterval, logger),
		disp:     disp,
	}

	router.GET("/ws/chat", wsHandler.HandleConnection)
	router.GET("/health", srv.health(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})))
	router.GET("/admin/connections", srv.adminConnections)

	srv.httpSrv = &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.sweepCtx, srv.cancelSweep = context.WithCancel(context.Background())

	return srv, nil
}

// Dispatcher exposes the outbound path for embedding callers (tests, the
// generation bridge).
func (s *Server) Dispatcher() *dispatch.Dispatcher { return s.disp }

// Router exposes the gin engine for httptest servers.
func (s *Server) Router() http.Handler { return s.router }

// Run starts the sweeper and serves until the listener fails.
func (s *Server) Run() error {
	go s.sweeper.Run(s.sweepCtx)

	s.logger.Info("gateway listening", zap.String("addr", s.httpSrv.Addr))
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the sweeper, closes every live connection with a
// going-away code, and drains the HTTP server. Safe to call at any point
// after New, including before Run ever starts.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancelSweep()
	s.registry.CloseAll()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(metrics *monitoring.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": s.registry.Len(),
			"uptime":      metrics.Uptime().String(),
		})
	}
}

func (s *Server) adminConnections(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.Stats())
}
