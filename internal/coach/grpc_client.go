package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goalcoach/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Full method names of the remote coach service. Requests and responses
// are google.protobuf.Struct messages.
const (
	MethodGenerateReply = "/goalcoach.v1.CoachService/GenerateReply"
	MethodGeneratePlan  = "/goalcoach.v1.CoachService/GeneratePlan"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errEmptyResponse            = errors.New("coach service returned an empty response")
)

// GrpcClient calls a remote coach service.
type GrpcClient struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	retry   RetryConfig
	logger  *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	Retry            RetryConfig
	// DialOptions are appended to the defaults, mainly for tests.
	DialOptions []grpc.DialOption
}

func (c *GrpcClientConfig) applyDefaults() {
	if c.Address == "" {
		c.Address = "localhost:50051"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.KeepaliveTime <= 0 {
		c.KeepaliveTime = 2 * time.Minute
	}
	if c.KeepaliveTimeout <= 0 {
		c.KeepaliveTimeout = 10 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = DefaultRetryConfig()
	}
}

// NewGrpcClient connects to the coach service and waits until the
// connection is ready, so a bad address fails at startup.
func NewGrpcClient(ctx context.Context, cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to coach service at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("coach service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to coach service", "address", cfg.Address)

	return &GrpcClient{
		conn:    conn,
		addr:    cfg.Address,
		timeout: cfg.RequestTimeout,
		retry:   cfg.Retry,
		logger:  logger.With("component", "grpc_coach"),
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
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gRPC connection: %w", err)
	}
	return nil
}

func (c *GrpcClient) invoke(ctx context.Context, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("encode request: %w", err))
	}
	return retry(ctx, c.retry, c.logger, method, func(ctx context.Context) (*structpb.Struct, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		out := new(structpb.Struct)
		if err := c.conn.Invoke(callCtx, method, in, out); err != nil {
			return nil, classifyGrpcError(err)
		}
		return out, nil
	})
}

func messagesValue(history []domain.Message) []any {
	out := make([]any, 0, len(history))
	for _, m := range history {
		out = append(out, map[string]any{"role": string(m.Role), "content": m.Content})
	}
	return out
}

// GenerateReply asks the remote service for the next utterance.
func (c *GrpcClient) GenerateReply(ctx context.Context, history []domain.Message, persona domain.Persona, instruction string) (string, error) {
	out, err := c.invoke(ctx, MethodGenerateReply, map[string]any{
		"persona":     persona.Name,
		"instruction": instruction,
		"messages":    messagesValue(history),
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	reply := out.GetFields()["reply"].GetStringValue()
	if reply == "" {
		return "", fmt.Errorf("generate reply: %w", errEmptyResponse)
	}
	return reply, nil
}

// GeneratePlan asks the remote service for a plan. The response carries
// either a structured "plan" object or free "text".
func (c *GrpcClient) GeneratePlan(ctx context.Context, req PlanRequest) (any, error) {
	answers := make([]any, 0, len(req.Answers))
	for _, a := range req.Answers {
		answers = append(answers, a)
	}
	out, err := c.invoke(ctx, MethodGeneratePlan, map[string]any{
		"goal":     req.Goal,
		"answers":  answers,
		"persona":  req.Persona.Name,
		"messages": messagesValue(req.Messages()),
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}

	fields := out.GetFields()
	if plan := fields["plan"].GetStructValue(); plan != nil {
		return plan.AsMap(), nil
	}
	if text := fields["text"].GetStringValue(); text != "" {
		return text, nil
	}
	return nil, fmt.Errorf("generate plan: %w", errEmptyResponse)
}

// classifyGrpcError treats unavailability, deadlines and resource
// exhaustion as transient.
func classifyGrpcError(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return NewTransientError(err)
	default:
		return NewFatalError(err)
	}
}
