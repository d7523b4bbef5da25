package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/botstream/config"
	"github.com/BaSui01/botstream/message"
	"github.com/BaSui01/botstream/session"
	"github.com/BaSui01/botstream/transport"
)

// send 命令退出码
const (
	exitOK       = 0
	exitError    = 1
	exitNotOK    = 2
	exitBadUsage = 64
)

// runSend 连接到配置中的服务端，发送一条请求并把响应 body 写到 stdout
func runSend(args []string) int {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	verb := fs.String("verb", "GET", "Request verb")
	path := fs.String("path", "/api/version", "Request path")
	body := fs.String("body", "", "Request body")
	asJSON := fs.Bool("json", false, "Send the body as application/json")
	timeout := fs.Duration("timeout", 30*time.Second, "Overall timeout")
	if err := fs.Parse(args); err != nil {
		return exitBadUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitError
	}

	// 日志走 stderr，stdout 只输出响应
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(logCfg)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	req := message.NewRequest(*verb, *path)
	if *body != "" {
		if *asJSON {
			req.AddStream(message.NewBytesContent(message.ContentTypeJSON, []byte(*body)))
		} else {
			req.AddStream(message.NewTextContent(*body))
		}
	}

	status, err := sendOnce(ctx, cfg, logger, req, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		return exitError
	}
	fmt.Fprintf(os.Stderr, "status: %d\n", status)
	if status < 200 || status > 299 {
		return exitNotOK
	}
	return exitOK
}

// sendOnce 建立连接、发送 req、把所有响应 body 依次写入 out，返回状态码
func sendOnce(ctx context.Context, cfg *config.Config, logger *zap.Logger, req *message.Request, out io.Writer) (int, error) {
	dial, err := dialerFor(cfg, logger)
	if err != nil {
		return 0, err
	}

	c := cfg.Connection
	conn := session.NewConnection(dial, nil,
		session.WithLogger(logger),
		session.WithMaxPayload(c.MaxPayload),
		session.WithMaxDescriptorSize(c.MaxDescriptorSize),
		session.WithSendRateLimit(c.SendRateLimit, c.SendBurst),
	)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		_ = conn.Shutdown(sctx)
	}()

	if err := conn.Connect(ctx, c.ConnectTimeout); err != nil {
		return 0, err
	}

	resp, err := conn.SendRequest(ctx, req)
	if err != nil {
		return 0, err
	}
	for _, s := range resp.Streams {
		data, err := s.ReadAll(ctx)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response body: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// dialerFor 按配置的传输类型构造 Dialer
func dialerFor(cfg *config.Config, logger *zap.Logger) (transport.Dialer, error) {
	c := cfg.Connection
	switch c.Transport {
	case config.TransportPipe:
		return transport.PipeDialer(c.PipeName, logger), nil
	case config.TransportTCP:
		return transport.NetDialer("tcp", c.Address, logger), nil
	case config.TransportWebSocket:
		if c.Address == "" {
			return nil, fmt.Errorf("connection.address must be a ws:// or wss:// URL for the websocket transport")
		}
		return transport.WebSocketDialer(c.Address, transport.WebSocketOptions{
			ReadLimit:          cfg.WebSocket.ReadLimit,
			Subprotocols:       cfg.WebSocket.Subprotocols,
			InsecureSkipVerify: cfg.WebSocket.InsecureSkipVerify,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", c.Transport)
	}
}
