// Package codec carries the oracle contract over gRPC, so a single sidecar
// holding the hosted-model credentials can serve many controllers.
package codec

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #region client-struct

// Client is an oracle.Oracle backed by a remote OracleService.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

var _ oracle.Oracle = (*Client)(nil)

// #endregion client-struct

// #region constructor

// NewClient connects to the oracle sidecar at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	all := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, all...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn wraps an existing connection. The caller owns its lifetime.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close

// Close shuts down the gRPC connection if the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region classify

// Classify asks the sidecar to select sources for question.
func (c *Client) Classify(ctx context.Context, system, question string) (oracle.Classification, error) {
	in, err := toStruct(classifyRequest{System: system, Question: question})
	if err != nil {
		return oracle.Classification{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, classifyMethod, in, out); err != nil {
		return oracle.Classification{}, fmt.Errorf("classify rpc: %w", err)
	}
	var res oracle.Classification
	if err := fromStruct(out, &res); err != nil {
		return oracle.Classification{}, err
	}
	return res, nil
}

// #endregion classify

// #region generate

var generateStreamDesc = grpc.StreamDesc{
	StreamName:    "Generate",
	ServerStreams: true,
}

// Generate opens a server stream for one generation round.
func (c *Client) Generate(ctx context.Context, req oracle.Request) (oracle.Stream, error) {
	in, err := toStruct(toWireRequest(req))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	stream, err := c.cc.NewStream(ctx, &generateStreamDesc, generateMethod)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("generate rpc: %w", err)
	}
	if err := stream.SendMsg(in); err != nil {
		cancel()
		return nil, fmt.Errorf("generate send: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fmt.Errorf("generate close send: %w", err)
	}
	return &clientStream{stream: stream, cancel: cancel}, nil
}

type clientStream struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

func (s *clientStream) Recv() (oracle.Chunk, error) {
	msg := new(structpb.Struct)
	if err := s.stream.RecvMsg(msg); err != nil {
		if errors.Is(err, io.EOF) {
			return oracle.Chunk{}, io.EOF
		}
		return oracle.Chunk{}, fmt.Errorf("generate stream: %w", err)
	}
	var w wireChunk
	if err := fromStruct(msg, &w); err != nil {
		return oracle.Chunk{}, err
	}
	return fromWireChunk(w), nil
}

func (s *clientStream) Close() error {
	s.cancel()
	return nil
}

// #endregion generate
