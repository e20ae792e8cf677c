package grpc

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"tutorme/tutorchat/internal/logging"
)

// Services calling the ranking API present this shared secret.
const serviceTokenHeader = "x-service-token"

// NewServiceAuthUnaryInterceptor admits ranking calls only when they carry the
// configured service token. Rejections are logged with the method name.
func NewServiceAuthUnaryInterceptor(expectedToken string) (grpc.UnaryServerInterceptor, error) {
	if expectedToken == "" {
		return nil, errors.New("ranking service token required")
	}
	logger := logging.Component("grpc")
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		switch token := incomingServiceToken(ctx); {
		case token == "":
			logger.Warn().Str("method", info.FullMethod).Msg("ranking call without service token")
			return nil, status.Error(codes.Unauthenticated, "missing_service_token")
		case subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1:
			logger.Warn().Str("method", info.FullMethod).Msg("ranking call with wrong service token")
			return nil, status.Error(codes.PermissionDenied, "invalid_service_token")
		}
		return handler(ctx, req)
	}, nil
}

// NewServiceTokenUnaryClientInterceptor stamps token on every call made
// through a connection, for services that dial the ranking API.
func NewServiceTokenUnaryClientInterceptor(token string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(WithServiceToken(ctx, token), method, req, reply, cc, opts...)
	}
}

// WithServiceToken attaches token to outgoing calls made with ctx.
func WithServiceToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, serviceTokenHeader, token)
}

func incomingServiceToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(serviceTokenHeader); len(values) > 0 {
		return strings.TrimSpace(values[0])
	}
	return ""
}
