package main

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/botstream/config"
	"github.com/BaSui01/botstream/internal/metrics"
	"github.com/BaSui01/botstream/internal/server"
	"github.com/BaSui01/botstream/internal/telemetry"
	"github.com/BaSui01/botstream/session"
	"github.com/BaSui01/botstream/transport"
	"github.com/BaSui01/botstream/types"
)

// acceptRetryDelay 非致命 accept 错误后的退避
const acceptRetryDelay = 100 * time.Millisecond

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 接入流式连接并用 bot 路由应答请求，同时运行管理端 HTTP 与配置热更新
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel

	// 指标命名空间，promauto 注册全局唯一
	metricsNamespace string

	collector   *metrics.Collector
	providers   *telemetry.Providers
	handler     session.RequestHandler
	listener    *transport.Listener
	httpManager *server.Manager
	watcher     *config.Watcher

	// ready 在所有监听就绪后关闭
	ready chan struct{}

	mu           sync.Mutex
	conns        map[uuid.UUID]*session.Connection
	shuttingDown bool
	wg           sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	return &Server{
		cfg:              cfg,
		configPath:       configPath,
		logger:           logger,
		level:            level,
		metricsNamespace: "botstream",
		handler:          newBotRouter(logger),
		ready:            make(chan struct{}),
		conns:            make(map[uuid.UUID]*session.Connection),
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Run 启动所有组件并阻塞到 ctx 取消或任一组件失败，随后关闭全部连接
func (s *Server) Run(ctx context.Context) error {
	s.collector = metrics.NewCollector(s.metricsNamespace, s.logger)

	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.providers = providers

	g, gctx := errgroup.WithContext(ctx)

	if err := s.setup(gctx, g); err != nil {
		s.shutdownTelemetry()
		return err
	}
	close(s.ready)

	s.logger.Info("botstream started",
		zap.String("transport", s.cfg.Connection.Transport),
		zap.String("listen", s.listenAddr()),
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("hot_reload_enabled", s.watcher != nil),
	)

	err = g.Wait()
	s.closeConnections()
	s.shutdownTelemetry()
	return err
}

// setup 建立监听并把各组件放入 errgroup
func (s *Server) setup(ctx context.Context, g *errgroup.Group) error {
	switch s.cfg.Connection.Transport {
	case config.TransportPipe:
		ln, err := transport.ListenPipe(s.cfg.Connection.PipeName, s.logger)
		if err != nil {
			return err
		}
		s.listener = ln
	case config.TransportTCP:
		ln, err := transport.Listen("tcp", s.cfg.Connection.Address, s.logger)
		if err != nil {
			return err
		}
		s.listener = ln
	case config.TransportWebSocket:
		if s.cfg.Server.HTTPPort == 0 {
			return fmt.Errorf("websocket transport requires server.http_port")
		}
	default:
		return fmt.Errorf("unknown transport %q", s.cfg.Connection.Transport)
	}

	if s.listener != nil {
		g.Go(func() error { return s.acceptLoop(ctx) })
	}

	if s.cfg.Server.HTTPPort > 0 {
		routes := server.Routes{
			Health:   s.health,
			Recorder: s.collector,
		}
		if s.cfg.Connection.Transport == config.TransportWebSocket {
			routes.StreamPath = s.cfg.WebSocket.Path
			routes.Serve = func(reqCtx context.Context, t transport.Transport) {
				// 劫持后的连接不受 http.Server.Shutdown 管理，跟随 Run 的 ctx 结束
				connCtx, cancel := context.WithCancel(reqCtx)
				defer cancel()
				stop := context.AfterFunc(ctx, cancel)
				defer stop()
				s.serveTransport(connCtx, t)
			}
			routes.WebSocket = transport.WebSocketOptions{
				ReadLimit:          s.cfg.WebSocket.ReadLimit,
				Subprotocols:       s.cfg.WebSocket.Subprotocols,
				InsecureSkipVerify: s.cfg.WebSocket.InsecureSkipVerify,
			}
		}
		s.httpManager = server.NewManager(server.NewHandler(routes, s.logger), server.FromConfig(s.cfg.Server), s.logger)
		g.Go(func() error { return s.httpManager.Run(ctx) })
	}

	if s.configPath != "" {
		w, err := config.NewWatcher(config.NewLoader().WithConfigPath(s.configPath), s.cfg,
			config.WithWatcherLogger(s.logger))
		if err != nil {
			return fmt.Errorf("failed to init config watcher: %w", err)
		}
		w.OnReload(s.applyReload)
		s.watcher = w
		g.Go(func() error { return w.Run(ctx) })
	}

	return nil
}

func (s *Server) listenAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.WebSocket.Path
}

// =============================================================================
// 🔌 连接接入
// =============================================================================

// acceptLoop 接受连接直到 ctx 取消；非致命错误退避后重试
func (s *Server) acceptLoop(ctx context.Context) error {
	defer func() { _ = s.listener.Close() }()

	for {
		t, err := s.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, types.ErrConnectionClosed) {
				return err
			}
			s.logger.Warn("accept failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		go s.serveTransport(ctx, t)
	}
}

// serveTransport 在已建立的传输上运行一条连接，阻塞到连接断开或 ctx 取消
func (s *Server) serveTransport(ctx context.Context, t transport.Transport) {
	conn := session.NewConnection(transport.Static(t), s.handler, s.sessionOptions()...)
	if !s.track(conn) {
		_ = t.Close()
		return
	}
	defer s.untrack(conn)

	if err := conn.Connect(ctx, s.cfg.Connection.ConnectTimeout); err != nil {
		s.logger.Warn("connection setup failed", zap.Error(err))
		_ = t.Close()
		s.shutdownConnection(conn)
		return
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
	}
	s.shutdownConnection(conn)
}

func (s *Server) sessionOptions() []session.Option {
	c := s.cfg.Connection
	return []session.Option{
		session.WithLogger(s.logger),
		session.WithRecorder(s.collector),
		session.WithTracerProvider(s.providers.TracerProvider()),
		session.WithMaxPayload(c.MaxPayload),
		session.WithMaxDescriptorSize(c.MaxDescriptorSize),
		session.WithMaxConcurrentRequests(c.MaxConcurrentRequests),
		session.WithSendRateLimit(c.SendRateLimit, c.SendBurst),
	}
}

func (s *Server) track(conn *session.Connection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shuttingDown {
		return false
	}
	s.conns[conn.ID()] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn *session.Connection) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) shutdownConnection(conn *session.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := conn.Shutdown(ctx); err != nil {
		s.logger.Warn("connection shutdown incomplete", zap.Stringer("connection_id", conn.ID()), zap.Error(err))
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if d := s.cfg.Connection.ShutdownTimeout; d > 0 {
		return d
	}
	return session.DefaultShutdownTimeout
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// closeConnections 拒绝新连接并等待现有连接结束
func (s *Server) closeConnections() {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]*session.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.logger.Info("closing connections", zap.Int("count", len(conns)))
	for _, c := range conns {
		c.Disconnect()
	}
	s.wg.Wait()
}

func (s *Server) shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.providers.Shutdown(ctx); err != nil {
		s.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}

// =============================================================================
// 🏥 健康与热更新
// =============================================================================

// ActiveConnections 返回当前连接数
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) health() server.HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := "ok"
	if s.shuttingDown {
		status = "shutting_down"
	}
	return server.HealthStatus{Status: status, Version: Version, Connections: len(s.conns)}
}

// applyReload 日志级别即时生效，其余配置需要重启
func (s *Server) applyReload(oldCfg, newCfg *config.Config) {
	if oldCfg.Log.Level != newCfg.Log.Level {
		if lvl, err := zapcore.ParseLevel(newCfg.Log.Level); err == nil {
			s.level.SetLevel(lvl)
			s.logger.Info("log level changed", zap.String("level", lvl.String()))
		}
	}

	sections := map[string][2]any{
		"connection": {oldCfg.Connection, newCfg.Connection},
		"websocket":  {oldCfg.WebSocket, newCfg.WebSocket},
		"server":     {oldCfg.Server, newCfg.Server},
		"telemetry":  {oldCfg.Telemetry, newCfg.Telemetry},
	}
	for name, pair := range sections {
		if !reflect.DeepEqual(pair[0], pair[1]) {
			s.logger.Warn("config section changed, restart required to apply", zap.String("section", name))
		}
	}
}
