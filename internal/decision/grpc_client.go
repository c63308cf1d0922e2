package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/diplobot/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName          = "diplobot.decision.v1.DecisionService"
	decideOrdersMethod   = "/" + serviceName + "/DecideOrders"
	decideMessagesMethod = "/" + serviceName + "/DecideMessages"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClient calls the decision service. Payloads travel as
// google.protobuf.Struct so the service can evolve its context freely.
type GrpcClient struct {
	conn   *grpc.ClientConn
	addr   string
	model  string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	Model            string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the decision service and waits until the
// connection is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to decision service at %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("decision service at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to decision service", "address", cfg.Address, "model", cfg.Model)

	return &GrpcClient{
		conn:   conn,
		addr:   cfg.Address,
		model:  cfg.Model,
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

// Model returns the configured model identity.
func (c *GrpcClient) Model() string {
	if c.model == "" {
		return "default"
	}
	return c.model
}

// DecideOrders asks the service for this phase's orders.
func (c *GrpcClient) DecideOrders(ctx context.Context, req Request) ([]string, error) {
	resp, err := c.invoke(ctx, decideOrdersMethod, req)
	if err != nil {
		return nil, err
	}
	field, ok := resp.GetFields()["orders"]
	if !ok {
		return nil, fmt.Errorf("%w: response has no orders field", domain.ErrDecision)
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: orders is not a list", domain.ErrDecision)
	}
	orders := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, fmt.Errorf("%w: order %d is not a string", domain.ErrDecision, i)
		}
		if o := strings.TrimSpace(s.StringValue); o != "" {
			orders = append(orders, o)
		}
	}
	return orders, nil
}

// DecideMessages asks the service for candidate negotiation messages.
func (c *GrpcClient) DecideMessages(ctx context.Context, req Request) ([]Proposal, error) {
	resp, err := c.invoke(ctx, decideMessagesMethod, req)
	if err != nil {
		return nil, err
	}
	field, ok := resp.GetFields()["messages"]
	if !ok {
		return nil, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("%w: messages is not a list", domain.ErrDecision)
	}
	proposals := make([]Proposal, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		msg := v.GetStructValue()
		if msg == nil {
			return nil, fmt.Errorf("%w: message %d is not an object", domain.ErrDecision, i)
		}
		fields := msg.GetFields()
		proposals = append(proposals, Proposal{
			Content:   fields["content"].GetStringValue(),
			Type:      MessageType(strings.ToLower(fields["message_type"].GetStringValue())),
			Recipient: fields["recipient"].GetStringValue(),
		})
	}
	return proposals, nil
}

func (c *GrpcClient) invoke(ctx context.Context, method string, req Request) (*structpb.Struct, error) {
	payload, err := requestStruct(req, c.Model())
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %w", domain.ErrValidation, err)
	}

	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, method, payload, resp, grpc.WaitForReady(true)); err != nil {
		c.logger.Debug("Decision call failed", "method", method, "power", req.Power, "error", err)
		return nil, classify(method, err)
	}
	if errMsg := resp.GetFields()["error"].GetStringValue(); errMsg != "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrDecision, errMsg)
	}
	return resp, nil
}

// classify maps gRPC status codes onto the domain error taxonomy so the
// resilience wrapper retries only transport-level failures.
func classify(method string, err error) error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w: %w", method, domain.ErrTransportTimeout, err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return fmt.Errorf("%s: %w: %w", method, domain.ErrTransportConnection, err)
	case codes.Canceled:
		return fmt.Errorf("%s: %w", method, err)
	default:
		return fmt.Errorf("%s: %w: %w", method, domain.ErrDecision, err)
	}
}

func requestStruct(req Request, model string) (*structpb.Struct, error) {
	possible := make(map[string]any, len(req.PossibleOrders))
	for loc, orders := range req.PossibleOrders {
		possible[loc] = stringList(orders)
	}
	fields := map[string]any{
		"game_id":         req.GameID,
		"power":           req.Power,
		"model":           model,
		"phase":           string(req.Phase),
		"round":           req.Round,
		"max_rounds":      req.MaxRounds,
		"targets":         stringList(req.Targets),
		"active_powers":   stringList(req.ActivePowers),
		"possible_orders": possible,
		"recent_messages": messageList(req.Recent),
	}
	if req.ReplyTo != nil {
		fields["reply_to"] = messageValue(*req.ReplyTo)
	}
	return structpb.NewStruct(fields)
}

func stringList(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func messageList(in []domain.Message) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = messageValue(m)
	}
	return out
}

func messageValue(m domain.Message) map[string]any {
	return map[string]any{
		"sender":    m.Sender,
		"recipient": m.Recipient,
		"phase":     string(m.Phase),
		"message":   m.Body,
	}
}
