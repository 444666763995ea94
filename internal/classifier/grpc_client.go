package classifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/lexiqai/encounter-scribe/internal/encounter"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/resilience"
)

const (
	// ServiceName is the gRPC service the remote classifier exposes
	ServiceName    = "lexiq.classifier.v1.Classifier"
	classifyMethod = "/" + ServiceName + "/Classify"
)

// GRPCClient classifies transcripts through a remote gRPC service. Requests
// and replies are google.protobuf.StringValue messages.
type GRPCClient struct {
	target  string
	conn    *grpc.ClientConn
	health  healthpb.HealthClient
	breaker *resilience.CircuitBreaker
	retry   *resilience.RetryConfig
	logger  zerolog.Logger
}

// NewGRPCClient creates a client for target. The connection is established lazily.
func NewGRPCClient(target string, res Resilience) (*GRPCClient, error) {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create classifier client for %s: %w", target, err)
	}

	logger := observability.WithComponent("classifier_grpc")
	logger.Info().Str("target", target).Msg("Classifier gRPC client created")

	return &GRPCClient{
		target:  target,
		conn:    conn,
		health:  healthpb.NewHealthClient(conn),
		breaker: res.newBreaker("classifier_grpc"),
		retry:   res.Retry,
		logger:  logger,
	}, nil
}

// Classify sends prompt to the remote classifier
func (c *GRPCClient) Classify(ctx context.Context, prompt string) (encounter.Verdict, error) {
	var verdict encounter.Verdict
	err := callProtected(ctx, c.breaker, c.retry, func(ctx context.Context) error {
		reply := &wrapperspb.StringValue{}
		if err := c.conn.Invoke(ctx, classifyMethod, wrapperspb.String(prompt), reply); err != nil {
			return err
		}
		v, ok := encounter.ParseVerdict(reply.GetValue())
		if !ok {
			return ErrNoVerdict
		}
		verdict = v
		return nil
	}, isRetryableStatus)
	if err != nil {
		return "", fmt.Errorf("grpc classifier: %w", err)
	}
	return verdict, nil
}

// HealthCheck asks the server's grpc.health.v1 service about the classifier
func (c *GRPCClient) HealthCheck(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the gRPC connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}

// isRetryableStatus retries transient gRPC codes and falls back to the
// generic network error check for everything else.
func isRetryableStatus(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return true
	case codes.DeadlineExceeded, codes.Canceled, codes.InvalidArgument, codes.Unimplemented, codes.PermissionDenied, codes.Unauthenticated:
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}
