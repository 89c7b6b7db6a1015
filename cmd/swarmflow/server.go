package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent/swarm"
	"github.com/BaSui01/swarmflow/api/handlers"
	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/internal/server"
	"github.com/BaSui01/swarmflow/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 SwarmFlow 的主服务器
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	otel       *telemetry.Providers

	backends *backends
	manager  *swarm.Manager

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	swarmHandler  *handlers.SwarmHandler

	collector *metrics.Collector

	// 热更新管理器
	hotReloadManager *config.HotReloadManager
	configAPIHandler *config.ConfigAPIHandler

	// 限流清理与连接池探活的生命周期
	bgCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, otel *telemetry.Providers) *Server {
	return &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		otel:       otel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	// 1. 指标收集器
	s.collector = metrics.NewCollector("swarmflow", s.logger)

	// 2. 共享后端与蜂群管理器
	if err := s.initSwarms(ctx, bgCtx); err != nil {
		return fmt.Errorf("failed to init swarm manager: %w", err)
	}

	// 3. Handlers
	s.initHandlers()

	// 4. 热更新管理器
	if err := s.initHotReloadManager(); err != nil {
		return fmt.Errorf("failed to init hot reload manager: %w", err)
	}

	// 5. HTTP 服务器
	if err := s.startHTTPServer(bgCtx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 6. Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.configPath != ""),
		zap.Bool("telemetry_enabled", s.otel.Enabled()),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initSwarms(ctx, bgCtx context.Context) error {
	b, err := openBackends(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.backends = b
	b.WatchDatabase(bgCtx, s.cfg.Database.Driver, s.collector)

	s.manager = swarm.NewManager(s.cfg.SwarmDefaults(), b.Deps(s.collector), s.cfg.Server.MaxActiveSwarms, s.logger)

	if s.otel.Enabled() {
		observer, err := telemetry.NewEventObserver()
		if err != nil {
			return fmt.Errorf("event observer: %w", err)
		}
		// 总线关闭时订阅随之释放
		s.manager.OnStart(func(sw *swarm.Swarm) {
			observer.Attach(sw.Events())
		})
	}
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.manager, s.logger)
	for _, check := range s.backends.HealthChecks() {
		s.healthHandler.RegisterCheck(check)
	}
	s.swarmHandler = handlers.NewSwarmHandler(s.manager, s.backends.checkpoints, s.backends.store, s.logger)
	s.logger.Info("Handlers initialized")
}

// initHotReloadManager 初始化热更新管理器，新配置只影响之后创建的蜂群
func (s *Server) initHotReloadManager() error {
	opts := []config.HotReloadOption{
		config.WithHotReloadLogger(s.logger),
	}
	if s.configPath != "" {
		opts = append(opts, config.WithConfigPath(s.configPath))
	}

	s.hotReloadManager = config.NewHotReloadManager(s.cfg, opts...)

	s.hotReloadManager.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart),
		)
	})

	s.hotReloadManager.OnReload(func(_, newConfig *config.Config) {
		s.manager.SetDefaults(newConfig.SwarmDefaults())
		s.logger.Info("Swarm defaults reloaded",
			zap.Int("max_workers", newConfig.Swarm.MaxWorkers),
			zap.String("consensus_algorithm", newConfig.Swarm.ConsensusAlgorithm),
			zap.String("queen_type", newConfig.Swarm.QueenType),
		)
	})

	s.hotReloadManager.OnRollback(func(event config.RollbackEvent) {
		s.logger.Warn("Configuration rolled back", zap.Int("version", event.Version), zap.String("reason", event.Reason))
	})

	if err := s.hotReloadManager.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hot reload manager: %w", err)
	}

	var origin string
	if len(s.cfg.Server.CORSAllowedOrigins) > 0 {
		origin = s.cfg.Server.CORSAllowedOrigins[0]
	}
	s.configAPIHandler = config.NewConfigAPIHandler(s.hotReloadManager, origin)
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// routes 组装全部路由与中间件链
func (s *Server) routes(bgCtx context.Context) http.Handler {
	mux := http.NewServeMux()

	// 健康检查
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 蜂群、检查点与知识库
	s.swarmHandler.Register(mux)

	// 配置管理 API 是敏感端点，不依赖全局中间件链，显式包装认证
	if s.configAPIHandler != nil {
		configAuth := config.NewConfigAPIMiddleware(s.configAPIHandler, s.firstAPIKey())
		mux.HandleFunc("/api/v1/config", configAuth.RequireAuth(s.configAPIHandler.HandleConfig))
		mux.HandleFunc("/api/v1/config/reload", configAuth.RequireAuth(s.configAPIHandler.HandleReload))
		mux.HandleFunc("/api/v1/config/fields", configAuth.RequireAuth(s.configAPIHandler.HandleFields))
		mux.HandleFunc("/api/v1/config/changes", configAuth.RequireAuth(s.configAPIHandler.HandleChanges))
		mux.HandleFunc("/api/v1/config/rollback", configAuth.RequireAuth(s.configAPIHandler.HandleRollback))
	}

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.otel.Enabled() {
		middlewares = append(middlewares, OTelTracing())
	}
	middlewares = append(middlewares,
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(bgCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		Authenticate(s.cfg.Auth, skipAuthPaths, s.logger),
	)
	s.logger.Info("HTTP middleware configured", zap.String("chain", describeMiddleware(s.cfg, s.otel.Enabled())))
	return Chain(mux, middlewares...)
}

func (s *Server) startHTTPServer(bgCtx context.Context) error {
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(s.routes(bgCtx), serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.String("addr", s.httpManager.Addr()))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.ReadTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.String("addr", s.metricsManager.Addr()))
	return nil
}

// firstAPIKey 返回第一个 API Key，用于配置 API 的独立认证。
// 未配置时返回空字符串，ConfigAPIMiddleware 会跳过认证。
func (s *Server) firstAPIKey() string {
	if len(s.cfg.Auth.APIKeys) > 0 {
		return s.cfg.Auth.APIKeys[0]
	}
	return ""
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待信号或服务器错误，然后优雅关闭
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		if err := s.httpManager.WaitForShutdown(context.Background()); err != nil {
			s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务，可在启动失败后调用
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 1. 停止热更新管理器
	if s.hotReloadManager != nil {
		if err := s.hotReloadManager.Stop(); err != nil {
			s.logger.Error("Hot reload manager shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 HTTP 服务器，事件流随之结束
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 停止全部蜂群
	if s.manager != nil {
		graceCtx, cancel := context.WithTimeout(ctx, s.cfg.GracePeriod())
		if err := s.manager.Shutdown(graceCtx); err != nil {
			s.logger.Error("Swarm manager shutdown error", zap.Error(err))
		}
		cancel()
	}

	// 4. 关闭共享后端
	if s.backends != nil {
		s.backends.Close(s.logger)
	}

	// 5. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 6. 刷新遥测数据
	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	if s.bgCancel != nil {
		s.bgCancel()
	}

	s.logger.Info("Graceful shutdown completed")
}
