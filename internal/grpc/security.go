package grpc

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"robolab/simserver/internal/config"
	"robolab/simserver/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret on every call.
const SharedSecretMetadataKey = "x-sim-shared-secret"

// ServerOptions derives transport security and authentication options from cfg.
func ServerOptions(cfg *config.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, fmt.Errorf("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	var opts []grpc.ServerOption

	if cfg.TLSCertPath != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load grpc tls: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
		logger.Info("gRPC TLS enabled")
	}

	if secret := strings.TrimSpace(cfg.GRPCSharedSecret); secret != "" {
		opts = append(opts,
			grpc.ChainUnaryInterceptor(NewSharedSecretUnaryInterceptor(secret)),
			grpc.ChainStreamInterceptor(NewSharedSecretStreamInterceptor(secret)),
		)
		logger.Info("gRPC shared-secret authentication enabled")
	}
	return opts, nil
}

// NewSharedSecretStreamInterceptor rejects streams whose metadata lacks the secret.
func NewSharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := checkSharedSecret(ss.Context(), normalized); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

// NewSharedSecretUnaryInterceptor rejects unary calls whose metadata lacks the secret.
func NewSharedSecretUnaryInterceptor(secret string) grpc.UnaryServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := checkSharedSecret(ctx, normalized); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// WithSharedSecret attaches the secret to outgoing client calls.
func WithSharedSecret(ctx context.Context, secret string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, secret)
}

func checkSharedSecret(ctx context.Context, expected string) error {
	if expected == "" {
		return status.Error(codes.Unauthenticated, "shared secret not configured")
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	candidate := extractSharedSecret(md)
	if candidate == "" {
		return status.Error(codes.Unauthenticated, "missing shared secret")
	}
	if subtle.ConstantTimeCompare([]byte(candidate), []byte(expected)) != 1 {
		return status.Error(codes.Unauthenticated, "invalid shared secret")
	}
	return nil
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}
