package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// EstimatorServiceName is the fully qualified gRPC service name.
const EstimatorServiceName = "mirador.irt.v1.Estimator"

const estimateMethod = "/" + EstimatorServiceName + "/Estimate"

// EstimatorServer is the server API for the Estimator service. Requests and
// responses are google.protobuf.Struct documents; see FromStructRequest and
// ToStructResponse for their layout.
type EstimatorServer interface {
	Estimate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterEstimatorServer attaches srv to the registrar.
func RegisterEstimatorServer(s grpc.ServiceRegistrar, srv EstimatorServer) {
	s.RegisterService(&EstimatorServiceDesc, srv)
}

func estimateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EstimatorServer).Estimate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: estimateMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(EstimatorServer).Estimate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// EstimatorServiceDesc describes the Estimator service for grpc.Server.
var EstimatorServiceDesc = grpc.ServiceDesc{
	ServiceName: EstimatorServiceName,
	HandlerType: (*EstimatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Estimate",
			Handler:    estimateHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/irt/v1/estimator.proto",
}

// EstimatorClient is the client API for the Estimator service.
type EstimatorClient interface {
	Estimate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type estimatorClient struct {
	cc grpc.ClientConnInterface
}

// NewEstimatorClient wraps a client connection.
func NewEstimatorClient(cc grpc.ClientConnInterface) EstimatorClient {
	return &estimatorClient{cc: cc}
}

func (c *estimatorClient) Estimate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, estimateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
