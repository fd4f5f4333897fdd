// ABOUTME: gRPC service exposing any Oracle implementation over the network
// ABOUTME: Messages are google.protobuf.Struct values, so no generated code is needed

package oracle

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName      = "coven.assist.v1.Oracle"
	initializeMethod = "/" + serviceName + "/Initialize"
	turnMethod       = "/" + serviceName + "/Turn"

	fieldPreamble  = "preamble"
	fieldSessionID = "session_id"
	fieldText      = "text"
)

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Oracle)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Initialize", Handler: initializeHandler},
		{MethodName: "Turn", Handler: turnHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "coven/assist/oracle",
}

// RegisterServer exposes o on s.
func RegisterServer(s grpc.ServiceRegistrar, o Oracle) {
	s.RegisterService(&serviceDesc, o)
}

func initializeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		preamble := stringField(req.(*structpb.Struct), fieldPreamble)
		h, err := srv.(Oracle).Initialize(ctx, preamble)
		if err != nil {
			return nil, toStatus(err)
		}
		return newStruct(map[string]string{fieldSessionID: string(h)}), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: initializeMethod}
	return interceptor(ctx, in, info, handler)
}

func turnHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		msg := req.(*structpb.Struct)
		h := Handle(stringField(msg, fieldSessionID))
		if h == "" {
			return nil, status.Error(codes.InvalidArgument, "session_id is required")
		}
		reply, err := srv.(Oracle).Turn(ctx, h, stringField(msg, fieldText))
		if err != nil {
			return nil, toStatus(err)
		}
		return newStruct(map[string]string{fieldText: reply}), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: turnMethod}
	return interceptor(ctx, in, info, handler)
}

// toStatus maps oracle errors onto gRPC status codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, ErrUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrUnauthenticated):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrQuota):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrUnknownSession):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus is the inverse of toStatus for errors received by the client.
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Unavailable:
		return errors.Join(ErrUnavailable, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return errors.Join(ErrUnauthenticated, err)
	case codes.ResourceExhausted:
		return errors.Join(ErrQuota, err)
	case codes.NotFound:
		return errors.Join(ErrUnknownSession, err)
	case codes.DeadlineExceeded:
		return errors.Join(context.DeadlineExceeded, err)
	case codes.Canceled:
		return errors.Join(context.Canceled, err)
	default:
		return err
	}
}

func newStruct(fields map[string]string) *structpb.Struct {
	s := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(fields))}
	for k, v := range fields {
		s.Fields[k] = structpb.NewStringValue(v)
	}
	return s
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}
