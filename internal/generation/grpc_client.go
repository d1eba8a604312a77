package generation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/ashureev/rolechat/internal/prompt"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Generate method of the Python generation worker. Requests and responses
// are google.protobuf.Struct so the worker needs no generated stubs:
//
//	request:  {prompt, messages: [{role, content}], params: {...}}
//	response: {text, done, error}
const (
	GeneratorServiceName = "rolechat.generation.v1.Generator"
	generateMethod       = "/" + GeneratorServiceName + "/Generate"
)

var generateStreamDesc = &grpc.StreamDesc{
	StreamName:    "Generate",
	ServerStreams: true,
}

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errGenerateResponse         = errors.New("generate response returned error")
)

// GrpcClient streams generations from a Python worker over gRPC.
type GrpcClient struct {
	conn           *grpc.ClientConn
	addr           string
	connectTimeout time.Duration
	logger         *slog.Logger
}

// NewGrpcClient builds the client connection without network I/O. Extra
// dial options are appended to the defaults.
func NewGrpcClient(addr string, connectTimeout time.Duration, logger *slog.Logger, opts ...grpc.DialOption) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = "localhost:50051"
	}
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                2 * time.Minute,
		Timeout:             10 * time.Second,
		PermitWithoutStream: false,
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC client for %s: %w", addr, err)
	}

	return &GrpcClient{
		conn:           conn,
		addr:           addr,
		connectTimeout: connectTimeout,
		logger:         logger,
	}, nil
}

// Name implements Backend.
func (c *GrpcClient) Name() string { return BackendGRPC }

// Load forces a connection attempt so a bad worker address fails at startup.
func (c *GrpcClient) Load(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	if err := waitForReady(ctx, c.conn); err != nil {
		return fmt.Errorf("generation worker at %s not ready: %w", c.addr, err)
	}
	c.logger.Info("Connected to generation worker", "address", c.addr)
	return nil
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

// Generate implements Generator.
func (c *GrpcClient) Generate(ctx context.Context, messages []prompt.Message, params Params) iter.Seq2[string, error] {
	return runWorker(ctx, func(ctx context.Context, emit emitFunc) error {
		req, err := newGenerateRequest(messages, params)
		if err != nil {
			return err
		}

		stream, err := c.conn.NewStream(ctx, generateStreamDesc, generateMethod)
		if err != nil {
			return fmt.Errorf("generate request failed: %w", err)
		}
		if err := stream.SendMsg(req); err != nil {
			return fmt.Errorf("generate request failed: %w", err)
		}
		if err := stream.CloseSend(); err != nil {
			return fmt.Errorf("generate request failed: %w", err)
		}

		for {
			var resp structpb.Struct
			err := stream.RecvMsg(&resp)
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("generate stream error: %w", err)
			}

			fields := resp.GetFields()
			if errMsg := fields["error"].GetStringValue(); errMsg != "" {
				return fmt.Errorf("%w: %s", errGenerateResponse, errMsg)
			}
			if text := fields["text"].GetStringValue(); text != "" {
				if err := emit(text); err != nil {
					return err
				}
			}
			if fields["done"].GetBoolValue() {
				return nil
			}
		}
	})
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

func newGenerateRequest(messages []prompt.Message, params Params) (*structpb.Struct, error) {
	msgs := make([]any, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	stop := make([]any, 0, len(params.Stop))
	for _, s := range params.Stop {
		stop = append(stop, s)
	}

	req, err := structpb.NewStruct(map[string]any{
		"prompt":   prompt.Render(messages),
		"messages": msgs,
		"params": map[string]any{
			"temperature":        params.Temperature,
			"top_p":              params.TopP,
			"top_k":              params.TopK,
			"max_new_tokens":     params.MaxNewTokens,
			"repetition_penalty": params.RepetitionPenalty,
			"do_sample":          true,
			"stop":               stop,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	return req, nil
}
