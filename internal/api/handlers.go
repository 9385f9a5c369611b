package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "incident.v1.IncidentIntelligence"

// IncidentIntelligenceServer is the server API of incident.v1.IncidentIntelligence.
// Results are carried as google.protobuf.Struct documents with the same shape as the REST API.
type IncidentIntelligenceServer interface {
	Scan(ctx context.Context, service *wrapperspb.StringValue) (*structpb.Struct, error)
	LatestScan(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error)
	CorrelateChange(ctx context.Context, changeID *wrapperspb.StringValue) (*structpb.Struct, error)
	BlastRadius(ctx context.Context, service *wrapperspb.StringValue) (*structpb.Struct, error)
}

// IncidentIntelligenceServiceDesc describes the service for grpc.Server.RegisterService.
var IncidentIntelligenceServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IncidentIntelligenceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Scan", newStringValue, IncidentIntelligenceServer.Scan),
		unary("LatestScan", newEmpty, IncidentIntelligenceServer.LatestScan),
		unary("CorrelateChange", newStringValue, IncidentIntelligenceServer.CorrelateChange),
		unary("BlastRadius", newStringValue, IncidentIntelligenceServer.BlastRadius),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "incident/v1/incident.proto",
}

func newStringValue() *wrapperspb.StringValue { return new(wrapperspb.StringValue) }
func newEmpty() *emptypb.Empty                 { return new(emptypb.Empty) }

// unary builds a method descriptor that decodes Req and routes through any interceptor chain.
func unary[Req proto.Message](
	name string,
	newReq func() Req,
	call func(IncidentIntelligenceServer, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(IncidentIntelligenceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// grpcService adapts the facade to IncidentIntelligenceServer.
type grpcService struct {
	svc IncidentAPI
}

// NewGRPCService wraps svc for registration with IncidentIntelligenceServiceDesc.
func NewGRPCService(svc IncidentAPI) IncidentIntelligenceServer {
	return &grpcService{svc: svc}
}

func (g *grpcService) Scan(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	result, err := g.svc.Scan(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(result)
}

func (g *grpcService) LatestScan(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	data, err := g.svc.LatestScan(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return rawToStruct(data)
}

func (g *grpcService) CorrelateChange(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	alert, err := g.svc.CorrelateChange(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(alert)
}

func (g *grpcService) BlastRadius(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	result, err := g.svc.BlastRadius(ctx, req.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return ToStruct(result)
}

// ToStruct converts a JSON-serialisable domain value into a protobuf Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	return rawToStruct(data)
}

func rawToStruct(data []byte) (*structpb.Struct, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("decode document: %v", err))
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("convert document: %v", err))
	}
	return s, nil
}

// toStatus maps domain errors onto gRPC status codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		code = codes.InvalidArgument
	case errors.Is(err, models.ErrChangeNotFound), errors.Is(err, models.ErrNoResults):
		code = codes.NotFound
	case errors.Is(err, models.ErrInsufficientData):
		code = codes.FailedPrecondition
	case errors.Is(err, models.ErrTimeout):
		code = codes.DeadlineExceeded
	case errors.Is(err, models.ErrModelUnavailable), errors.Is(err, models.ErrStoreUnavailable):
		code = codes.Unavailable
	}
	return status.Error(code, err.Error())
}
