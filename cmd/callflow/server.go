package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/callflow/agent"
	"github.com/BaSui01/callflow/api/handlers"
	"github.com/BaSui01/callflow/config"
	"github.com/BaSui01/callflow/internal/metrics"
	"github.com/BaSui01/callflow/internal/server"
	"github.com/BaSui01/callflow/internal/telemetry"
	"github.com/BaSui01/callflow/internal/tlsutil"
	"github.com/BaSui01/callflow/orchestrator"
	"github.com/BaSui01/callflow/persistence"
	"github.com/BaSui01/callflow/provider"
	"github.com/BaSui01/callflow/provider/speech"
	"github.com/BaSui01/callflow/provider/telephony"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CallFlow 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 核心组件
	registry     *provider.Registry
	telephony    *telephony.Adapter
	orchestrator *orchestrator.Orchestrator
	publisher    persistence.Publisher
	closeSink    func(context.Context) error

	// Handlers
	healthHandler  *handlers.HealthHandler
	sessionHandler *handlers.SessionHandler
	mediaHandler   *handlers.MediaStreamHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// 供应商探活生命周期
	healthCancel context.CancelFunc
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("callflow", s.logger)

	// 2. 供应商注册表
	if err := s.initProviders(); err != nil {
		return fmt.Errorf("failed to init providers: %w", err)
	}

	// 3. 持久化协作者
	if err := s.initPersistence(); err != nil {
		return fmt.Errorf("failed to init persistence: %w", err)
	}

	// 4. 编排器
	if err := s.initOrchestrator(); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}

	// 5. Handlers
	s.initHandlers()

	// 6. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 7. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("media_stream_path", s.cfg.Server.MediaStreamPath),
	)
	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

func (s *Server) initProviders() error {
	registry, err := speech.BuildRegistry(s.cfg.Providers, s.logger, provider.WithObserver(s.metricsCollector))
	if err != nil {
		return err
	}

	s.telephony = telephony.NewAdapter(s.logger)
	media := provider.NewPool(provider.CapabilityTelephony, provider.DefaultPoolConfig(), s.logger, provider.WithObserver(s.metricsCollector))
	if err := media.Add(s.telephony, 0); err != nil {
		return err
	}
	if err := registry.Register(media); err != nil {
		return err
	}
	s.registry = registry

	checkCtx, cancel := context.WithCancel(context.Background())
	s.healthCancel = cancel
	registry.StartHealthChecks(checkCtx, s.cfg.Providers.Health.HealthCheckInterval)

	for capability, members := range registry.Snapshot() {
		names := make([]string, 0, len(members))
		for _, m := range members {
			names = append(names, m.Name)
		}
		s.logger.Info("Provider pool ready",
			zap.String("capability", string(capability)),
			zap.Strings("providers", names))
	}
	return nil
}

func (s *Server) initPersistence() error {
	publisher, closeFn, err := persistence.NewPublisher(context.Background(), s.cfg, s.logger,
		persistence.WithObserver(s.metricsCollector))
	if err != nil {
		return err
	}
	s.publisher = publisher
	s.closeSink = closeFn
	s.logger.Info("Persistence initialized", zap.String("driver", s.cfg.Persistence.Driver))
	return nil
}

func (s *Server) initOrchestrator() error {
	chat := agent.NewChatAgent(s.cfg.Agent, s.logger)
	tools := agent.CallCenterTools(agent.NewMemoryDirectory())
	if len(s.cfg.Agent.Tools) > 0 {
		selected, err := agent.SelectTools(tools, s.cfg.Agent.Tools)
		if err != nil {
			return err
		}
		tools = selected
	}

	orch, err := orchestrator.New(s.cfg.Orchestrator, s.registry, chat, s.logger,
		orchestrator.WithTools(tools),
		orchestrator.WithPublisher(s.publisher),
		orchestrator.WithRecorder(s.metricsCollector),
		orchestrator.WithTracer(s.otel.Tracer()),
	)
	if err != nil {
		return err
	}
	s.orchestrator = orch

	if err := s.otel.ObserveSessions(orch.Len); err != nil {
		s.logger.Warn("failed to register session gauge", zap.Error(err))
	}
	return nil
}

func (s *Server) initHandlers() {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewProviderHealthCheck(s.registry,
		provider.CapabilitySTT, provider.CapabilityTTS))
	if pinger, ok := s.publisher.(interface{ Ping(context.Context) error }); ok {
		s.healthHandler.RegisterCheck(handlers.NewCheckFunc("persistence", pinger.Ping))
	}

	s.sessionHandler = handlers.NewSessionHandler(s.orchestrator, s.logger)

	mediaCfg := handlers.DefaultMediaStreamConfig()
	if s.cfg.Server.MaxFramesPerSecond > 0 {
		mediaCfg.MaxFramesPerSecond = s.cfg.Server.MaxFramesPerSecond
	}
	if s.cfg.Server.FrameBurst > 0 {
		mediaCfg.FrameBurst = s.cfg.Server.FrameBurst
	}
	s.mediaHandler = handlers.NewMediaStreamHandler(s.orchestrator, s.telephony, mediaCfg, s.logger,
		handlers.WithDropRecorder(s.metricsCollector))

	s.logger.Info("Handlers initialized")
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	api := http.NewServeMux()

	// 健康检查端点
	api.HandleFunc("GET /health", s.healthHandler.HandleHealth)
	api.HandleFunc("GET /healthz", s.healthHandler.HandleHealth)
	api.HandleFunc("GET /ready", s.healthHandler.HandleReady)
	api.HandleFunc("GET /readyz", s.healthHandler.HandleReady)
	api.HandleFunc("GET /version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// 只读管理接口
	api.HandleFunc("GET /api/v1/sessions", s.sessionHandler.HandleList)
	api.HandleFunc("GET /api/v1/sessions/{id}", s.sessionHandler.HandleGet)
	api.HandleFunc("GET /api/v1/providers", handlers.HandleProviders(s.registry))

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(s.otel.Tracer()),
		CORS(s.cfg.Server.CORSAllowedOrigins),
	}
	if s.cfg.JWT.Enabled() {
		middlewares = append(middlewares, JWTAuth(s.cfg.JWT, "/api/", s.logger))
	}

	var apiHandler http.Handler = Chain(api, middlewares...)
	if s.cfg.Server.WriteTimeout > 0 {
		apiHandler = http.TimeoutHandler(apiHandler, s.cfg.Server.WriteTimeout, "request timeout")
	}

	// 媒体流是长连接，不套写超时
	root := http.NewServeMux()
	root.Handle(s.cfg.Server.MediaStreamPath, Chain(s.mediaHandler,
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
	))
	root.Handle("/", apiHandler)

	s.httpManager = server.NewManager(root, server.ConfigFrom(s.cfg.Server), s.logger)

	if s.cfg.Server.TLSCertFile != "" && s.cfg.Server.TLSKeyFile != "" {
		tlsConfig, err := tlsutil.ServerTLSConfig(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile)
		if err != nil {
			return err
		}
		if err := s.httpManager.StartTLS(tlsConfig); err != nil {
			return err
		}
	} else if err := s.httpManager.Start(); err != nil {
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

	cfg := server.DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
	if s.cfg.Server.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = s.cfg.Server.ShutdownTimeout
	}
	s.metricsManager = server.NewManager(mux, cfg, s.logger)

	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待 SIGINT/SIGTERM 或服务异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.httpManager.Wait(ctx); err != nil {
		s.logger.Error("HTTP server failed", zap.Error(err))
	} else {
		s.logger.Info("Shutdown signal received")
	}

	s.Shutdown()
}

// Shutdown 依次结束通话、关闭 HTTP 服务、冲刷持久化队列
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// 1. 停止探活
	if s.healthCancel != nil {
		s.healthCancel()
	}

	// 2. 结束所有通话
	if s.orchestrator != nil {
		if err := s.orchestrator.Shutdown(ctx); err != nil {
			s.logger.Error("Orchestrator shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 5. 冲刷持久化
	if s.closeSink != nil {
		if err := s.closeSink(ctx); err != nil {
			s.logger.Error("Persistence shutdown error", zap.Error(err))
		}
	}

	// 6. 冲刷遥测
	if err := s.otel.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	s.logger.Info("Graceful shutdown completed")
}
