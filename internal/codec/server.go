package codec

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/sheetwise/internal/oracle"
)

// #region service-desc

// OracleServiceServer is the server API for OracleService.
type OracleServiceServer interface {
	Classify(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Generate(*structpb.Struct, grpc.ServerStream) error
}

// OracleServiceDesc is the grpc.ServiceDesc for OracleService.
var OracleServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OracleServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Classify", Handler: classifyHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Generate", Handler: generateHandler, ServerStreams: true},
	},
	Metadata: "sheetwise/v1/oracle.proto",
}

// RegisterOracleServiceServer registers srv on s.
func RegisterOracleServiceServer(s grpc.ServiceRegistrar, srv OracleServiceServer) {
	s.RegisterService(&OracleServiceDesc, srv)
}

func classifyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OracleServiceServer).Classify(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: classifyMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OracleServiceServer).Classify(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func generateHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OracleServiceServer).Generate(in, stream)
}

// #endregion service-desc

// #region server

// Server exposes an oracle.Oracle as an OracleService.
type Server struct {
	oracle oracle.Oracle
	logger *logrus.Logger
}

// NewServer adapts o for gRPC.
func NewServer(o oracle.Oracle, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{oracle: o, logger: logger}
}

func (s *Server) Classify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req classifyRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	res, err := s.oracle.Classify(ctx, req.System, req.Question)
	if err != nil {
		s.logger.WithError(err).Warn("[CODEC] classify failed")
		return nil, toStatus(err)
	}
	out, err := toStruct(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func (s *Server) Generate(in *structpb.Struct, stream grpc.ServerStream) error {
	var req generateRequest
	if err := fromStruct(in, &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	st, err := s.oracle.Generate(stream.Context(), fromWireRequest(req))
	if err != nil {
		s.logger.WithError(err).Warn("[CODEC] generate failed")
		return toStatus(err)
	}
	defer st.Close()
	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			s.logger.WithError(err).Warn("[CODEC] generate stream failed")
			return toStatus(err)
		}
		msg, err := toStruct(toWireChunk(chunk))
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
}

// Register attaches the server to a gRPC registrar.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	RegisterOracleServiceServer(r, s)
}

// #endregion server

// #region helpers

func toStatus(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Unavailable, err.Error())
	}
}

// #endregion helpers
