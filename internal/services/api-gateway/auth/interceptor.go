package auth

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

var defaultPublicMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/List",
}

// UnaryAuthInterceptor authenticates the "authorization" metadata of every
// unary call except the health checks and the extra public methods given.
func UnaryAuthInterceptor(a Authenticator, public ...string) grpc.UnaryServerInterceptor {
	open := make(map[string]bool, len(defaultPublicMethods)+len(public))
	for _, m := range append(defaultPublicMethods, public...) {
		open[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		if open[info.FullMethod] {
			return next(ctx, req)
		}

		id, err := a.Authenticate(authorization(ctx))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				return nil, status.Error(codes.Unauthenticated, "token expired")
			}
			return nil, status.Error(codes.Unauthenticated, "invalid or missing bearer token")
		}
		return next(WithIdentity(ctx, id), req)
	}
}

func authorization(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
