package server

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName is the gRPC content subtype, i.e. application/grpc+json
const jsonCodecName = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets Event and Response travel over gRPC without generated protobuf types
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

// FunctionServer is the gRPC surface of the dispatcher
type FunctionServer interface {
	Handle(ctx context.Context, ev *Event) (*Response, error)
}

const invokeMethod = "/blog.Function/Invoke"

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Event)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FunctionServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: invokeMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FunctionServer).Handle(ctx, req.(*Event))
	}
	return interceptor(ctx, in, info, handler)
}

var functionServiceDesc = grpc.ServiceDesc{
	ServiceName: "blog.Function",
	HandlerType: (*FunctionServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Invoke",
			Handler:    invokeHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterFunctionServer registers srv on a gRPC server
func RegisterFunctionServer(s *grpc.Server, srv FunctionServer) {
	s.RegisterService(&functionServiceDesc, srv)
}

// InvokeRemote calls blog.Function/Invoke on conn using the JSON codec
func InvokeRemote(ctx context.Context, conn *grpc.ClientConn, ev *Event) (*Response, error) {
	out := new(Response)
	if err := conn.Invoke(ctx, invokeMethod, ev, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
