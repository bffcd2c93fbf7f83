// Package geyser is a minimal Yellowstone gRPC client. It speaks the
// geyser.Geyser/Subscribe bidirectional stream with hand-encoded messages.
package geyser

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
)

// SubscribeMethod is the full gRPC method name of the Subscribe stream.
const SubscribeMethod = "/geyser.Geyser/Subscribe"

// Client errors.
var (
	ErrClosed = errors.New("geyser client closed")
)

// Stream is one open Subscribe call.
type Stream interface {
	Send(req *SubscribeRequest) error
	Recv() (*Update, error)
	CloseSend() error
}

// Subscriber opens Subscribe streams. The stream lives until ctx is
// cancelled or the server ends it.
type Subscriber interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Client holds one gRPC connection shared by every stream.
type Client struct {
	config Config
	conn   *grpc.ClientConn
}

var _ Subscriber = (*Client)(nil)

// Dial creates the connection. It does not block; connection errors surface
// on the first Subscribe.
func Dial(config Config) (*Client, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	kacp := keepalive.ClientParameters{
		Time:                config.KeepaliveTime,
		Timeout:             config.KeepaliveTimeout,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(kacp),
		grpc.WithDefaultCallOptions(
			grpc.ForceCodec(Codec{}),
			grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(config.MaxMessageSize),
		),
	}

	if config.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(
			credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}),
		))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	if config.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenAuth{
			token:      config.Token,
			requireTLS: config.UseTLS,
		}))
	}

	opts = append(opts, config.DialOptions...)

	//nolint:staticcheck // grpc.NewClient is not available in the pinned grpc version
	conn, err := grpc.Dial(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial gRPC: %w", err)
	}

	return &Client{config: config, conn: conn}, nil
}

// Subscribe opens a new Subscribe stream. The caller sends the first request.
func (c *Client) Subscribe(ctx context.Context) (Stream, error) {
	if c.conn == nil {
		return nil, ErrClosed
	}

	if len(c.config.Headers) > 0 {
		ctx = metadata.NewOutgoingContext(ctx, metadata.New(c.config.Headers))
	}

	desc := &grpc.StreamDesc{
		StreamName:    "Subscribe",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := c.conn.NewStream(ctx, desc, SubscribeMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}
	return &geyserStream{stream: stream}, nil
}

// Close tears down the connection and every open stream.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

type geyserStream struct {
	stream grpc.ClientStream
}

func (s *geyserStream) Send(req *SubscribeRequest) error {
	return s.stream.SendMsg(req)
}

// Recv reads the raw frame and decodes it here rather than in the codec:
// grpc turns codec errors into codes.Internal and loses ErrDecode.
func (s *geyserStream) Recv() (*Update, error) {
	var frame []byte
	if err := s.stream.RecvMsg(&frame); err != nil {
		return nil, err
	}
	update := &Update{}
	if err := update.Unmarshal(frame); err != nil {
		return nil, err
	}
	return update, nil
}

func (s *geyserStream) CloseSend() error {
	return s.stream.CloseSend()
}

// tokenAuth implements grpc.PerRPCCredentials for x-token authentication.
type tokenAuth struct {
	token      string
	requireTLS bool
}

func (t *tokenAuth) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	return map[string]string{"x-token": t.token}, nil
}

func (t *tokenAuth) RequireTransportSecurity() bool {
	return t.requireTLS
}

// ParseEndpoint turns a URL such as https://host or http://host:10000 into a
// dial target and whether TLS is wanted. A bare host:port defaults to TLS.
func ParseEndpoint(raw string) (target string, useTLS bool) {
	useTLS = true
	switch {
	case strings.HasPrefix(raw, "https://"):
		raw = strings.TrimPrefix(raw, "https://")
	case strings.HasPrefix(raw, "http://"):
		raw = strings.TrimPrefix(raw, "http://")
		useTLS = false
	}
	raw = strings.TrimSuffix(raw, "/")

	if _, _, err := net.SplitHostPort(raw); err != nil {
		if useTLS {
			raw = net.JoinHostPort(raw, "443")
		} else {
			raw = net.JoinHostPort(raw, "80")
		}
	}
	return raw, useTLS
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
