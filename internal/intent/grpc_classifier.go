package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/ledgerchat/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// classifyMethod is the unary method the classifier service exposes. Both
// request and response are google.protobuf.Struct, so no generated stubs
// are needed.
const classifyMethod = "/ledgerchat.classifier.v1.Classifier/Classify"

var errConnectionShutdown = errors.New("connection shutdown")

// GrpcClassifier asks a remote model service for intent candidates.
type GrpcClassifier struct {
	conn    *grpc.ClientConn
	addr    string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGrpcClassifier connects to the classifier at addr and waits until the
// connection is ready or connectTimeout elapses.
func NewGrpcClassifier(addr string, timeout, connectTimeout time.Duration, logger *slog.Logger) (*GrpcClassifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create classifier client for %s: %w", addr, err)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close classifier connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("classifier at %s not ready: %w", addr, err)
	}

	logger.Info("Connected to intent classifier", "address", addr)
	return &GrpcClassifier{conn: conn, addr: addr, timeout: timeout, logger: logger}, nil
}

// NewGrpcClassifierWithConn wraps an existing connection.
func NewGrpcClassifierWithConn(conn *grpc.ClientConn, timeout time.Duration, logger *slog.Logger) *GrpcClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &GrpcClassifier{conn: conn, addr: conn.Target(), timeout: timeout, logger: logger}
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
			return fmt.Errorf("connection state did not change from %s", state)
		}
	}
}

// Close closes the connection.
func (c *GrpcClassifier) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close classifier connection", "error", err)
		}
	}
}

// Classify sends the text and the session's reference fields and returns
// the service's candidates.
func (c *GrpcClassifier) Classify(ctx context.Context, text string, snap domain.Snapshot) ([]RawCandidate, error) {
	req, err := structpb.NewStruct(map[string]any{
		"text": text,
		"context": map[string]any{
			"lastEntityName": snap.LastEntityName,
			"lastAddress":    snap.LastAddress,
			"lastOperation":  string(snap.LastOperation),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, classifyMethod, req, resp); err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	return decodeCandidates(resp), nil
}

func decodeCandidates(resp *structpb.Struct) []RawCandidate {
	list := resp.GetFields()["candidates"].GetListValue()
	var out []RawCandidate
	for _, v := range list.GetValues() {
		fields := v.GetStructValue().GetFields()
		kind := fields["kind"].GetStringValue()
		if kind == "" {
			continue
		}
		params := make(map[string]string)
		for k, pv := range fields["params"].GetStructValue().GetFields() {
			switch x := pv.GetKind().(type) {
			case *structpb.Value_StringValue:
				params[k] = x.StringValue
			case *structpb.Value_NumberValue:
				params[k] = fmt.Sprint(x.NumberValue)
			case *structpb.Value_BoolValue:
				params[k] = fmt.Sprint(x.BoolValue)
			}
		}
		out = append(out, RawCandidate{
			Kind:       kind,
			Confidence: fields["confidence"].GetNumberValue(),
			Params:     params,
			Source:     "grpc",
		})
	}
	return out
}
