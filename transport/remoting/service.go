package remoting

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	ServiceName   = "correlation.v1.ReplyService"
	DeliverMethod = "/" + ServiceName + "/Deliver"

	// ReplyTypeHeader carries the reply kind tag in request metadata.
	ReplyTypeHeader = "x-reply-type"
)

// ReplyServiceServer accepts one encoded reply per call.
type ReplyServiceServer interface {
	Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(ReplyServiceServer).Deliver(ctx, in)
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DeliverMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplyServiceServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}

	return interceptor(ctx, in, info, handler)
}

// ReplyServiceDesc is registered by hand; the payload is opaque to gRPC and
// decoded by the configured codec.
var ReplyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplyServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "correlation/v1/reply.proto",
}
