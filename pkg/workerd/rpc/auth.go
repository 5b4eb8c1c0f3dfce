package rpc

import (
	"context"
	"crypto/subtle"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenMetadataKey carries the shared worker token.
const TokenMetadataKey = "x-moshr-token"

// TokenCredentials attaches a shared token to every call. Transport
// security is not required because the worker listens on a private socket.
type TokenCredentials string

func (t TokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{TokenMetadataKey: string(t)}, nil
}

func (TokenCredentials) RequireTransportSecurity() bool { return false }

// CheckToken verifies the token in ctx. An empty expected token disables the check.
func CheckToken(ctx context.Context, expected string) error {
	if expected == "" {
		return nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	got := md.Get(TokenMetadataKey)
	if len(got) != 1 || subtle.ConstantTimeCompare([]byte(got[0]), []byte(expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid worker token")
	}
	return nil
}

// TokenUnaryInterceptor rejects calls without the expected token.
func TokenUnaryInterceptor(expected string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := CheckToken(ctx, expected); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// TokenStreamInterceptor rejects streams without the expected token.
func TokenStreamInterceptor(expected string) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := CheckToken(ss.Context(), expected); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
