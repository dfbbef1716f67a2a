package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GenerateMethod is the full gRPC method name of the generation call.
// Requests and replies are google.protobuf.Struct messages.
const GenerateMethod = "/signdesk.responder.v1.Responder/Generate"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errGenerate                 = errors.New("generate returned error")
)

// GrpcClient provides a gRPC client to the response-generation service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	cfg    Config
	logger *slog.Logger
}

// NewGrpcClient connects to the response-generation service and waits until
// the connection is ready or cfg.ConnectTimeout elapses.
func NewGrpcClient(ctx context.Context, cfg Config, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to responder at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("responder at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to responder", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health runs the standard gRPC health check against the responder.
func (c *GrpcClient) Health(ctx context.Context) (string, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return "", fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus().String(), nil
}

// Generate implements Responder.
func (c *GrpcClient) Generate(ctx context.Context, req Request) (string, error) {
	in, err := c.encode(req)
	if err != nil {
		return "", err
	}

	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, GenerateMethod, in, out); err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}

	fields := out.GetFields()
	if msg := fields["error"].GetStringValue(); msg != "" {
		return "", fmt.Errorf("%w: %s", errGenerate, msg)
	}
	reply := fields["reply"].GetStringValue()
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%w: empty reply", errGenerate)
	}
	return reply, nil
}

func (c *GrpcClient) encode(req Request) (*structpb.Struct, error) {
	history := req.History
	if len(history) > c.cfg.HistoryLimit {
		history = history[len(history)-c.cfg.HistoryLimit:]
	}
	turns := make([]any, len(history))
	for i, m := range history {
		turns[i] = map[string]any{"role": m.Role, "content": m.Content}
	}
	in, err := structpb.NewStruct(map[string]any{
		"session_id": req.SessionID,
		"message":    req.Message,
		"email":      req.Email,
		"history":    turns,
	})
	if err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}
	return in, nil
}
