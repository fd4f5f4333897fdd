// ABOUTME: gRPC client for a remote oracle service
// ABOUTME: Connection setup does no I/O; the first Initialize call is the first round trip

package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// GRPCConfig holds client connection settings.
type GRPCConfig struct {
	Address          string
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// GRPCOracle talks to a server registered with RegisterServer.
type GRPCOracle struct {
	conn   *grpc.ClientConn
	addr   string
	logger *slog.Logger
}

// NewGRPC builds a client for the oracle at cfg.Address. Extra dial options are
// appended after the defaults (tests use this to inject a bufconn dialer).
func NewGRPC(cfg GRPCConfig, logger *slog.Logger, opts ...grpc.DialOption) (*GRPCOracle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("oracle address is required")
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.KeepaliveTime > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}))
	}
	dialOpts = append(dialOpts, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating oracle client for %s: %w", cfg.Address, err)
	}

	return &GRPCOracle{
		conn:   conn,
		addr:   cfg.Address,
		logger: logger.With("component", "oracle", "address", cfg.Address),
	}, nil
}

func (c *GRPCOracle) Initialize(ctx context.Context, preamble string) (Handle, error) {
	req := newStruct(map[string]string{fieldPreamble: preamble})
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, initializeMethod, req, resp); err != nil {
		return "", fmt.Errorf("initialize: %w", fromStatus(err))
	}

	id := stringField(resp, fieldSessionID)
	if id == "" {
		return "", fmt.Errorf("initialize: %w: empty session id", ErrProtocol)
	}
	c.logger.Debug("oracle session opened", "session_id", id)
	return Handle(id), nil
}

func (c *GRPCOracle) Turn(ctx context.Context, h Handle, text string) (string, error) {
	req := newStruct(map[string]string{
		fieldSessionID: string(h),
		fieldText:      text,
	})
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, turnMethod, req, resp); err != nil {
		return "", fmt.Errorf("turn: %w", fromStatus(err))
	}

	v, ok := resp.GetFields()[fieldText]
	if !ok {
		return "", fmt.Errorf("turn: %w: missing text", ErrProtocol)
	}
	return v.GetStringValue(), nil
}

// Close releases the underlying connection.
func (c *GRPCOracle) Close() error {
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("failed to close oracle connection", "error", err)
		return err
	}
	return nil
}
