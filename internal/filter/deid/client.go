package deid

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/filter"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultTimeout = 2 * time.Second

// Client calls the remote de-identification service and implements
// filter.Filter.
type Client struct {
	conn *grpc.ClientConn
	cfg  func() config.DeidServiceConfig
}

// NewClient creates a de-identification client. Call Connect before use.
func NewClient(cfg func() config.DeidServiceConfig) *Client {
	return &Client{cfg: cfg}
}

// Connect creates the gRPC channel. Extra options are appended to the
// defaults (plaintext, JSON codec).
func (c *Client) Connect(opts ...grpc.DialOption) error {
	cfg := c.cfg()
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return fmt.Errorf("deid service dial: %w", err)
	}
	c.conn = conn
	slog.Info("deid service configured", "address", cfg.Address)
	return nil
}

func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) Name() string  { return "deid" }
func (c *Client) Enabled() bool { return c.cfg().Enabled }

// Detect sends texts to the service.
func (c *Client) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("deid service not connected")
	}
	resp := new(DetectResponse)
	if err := c.conn.Invoke(ctx, detectMethod, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// ScanRequest implements filter.Filter.
func (c *Client) ScanRequest(ctx context.Context, req *filter.Request) filter.Result {
	cfg := c.cfg()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.Detect(scanCtx, &DetectRequest{
		Texts:       req.Texts(),
		Sensitivity: string(req.Sensitivity),
	})
	if err != nil {
		slog.ErrorContext(ctx, "deid service error", "error", err, "fail_open", cfg.FailOpen)
		if cfg.FailOpen {
			return filter.Result{Action: filter.ActionPass, FilterName: c.Name()}
		}
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: c.Name(),
			Message:    "De-identification service unavailable",
		}
	}

	return filter.IdentifierRule(c.Name(), req.Sensitivity, len(resp.Entities))
}
