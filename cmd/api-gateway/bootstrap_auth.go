package main

import (
	"context"
	"fmt"

	authn "github.com/NordCoder/Studymate/internal/auth"
	config "github.com/NordCoder/Studymate/internal/config/api-gateway"
	"github.com/NordCoder/Studymate/internal/secrets"
	"github.com/NordCoder/Studymate/internal/services/api-gateway/auth"
	"go.uber.org/zap"
)

func initManager(ctx context.Context, cfg *config.Config, st *stores, logger *zap.Logger) (*auth.Manager, error) {
	key, err := secrets.LoadSigningKey(ctx, secrets.Source{
		Inline: cfg.Auth.JWTSecret,
		ARN:    cfg.Auth.JWTSecretARN,
		Field:  cfg.Auth.JWTSecretField,
		Region: cfg.Auth.AWSRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("signing key: %w", err)
	}

	codec, err := authn.NewCodec(authn.CodecConfig{Secret: key, Issuer: cfg.Auth.Issuer})
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}
	hasher := authn.NewHasher(authn.HasherConfig{
		Cost:          cfg.Hasher.Cost,
		MaxConcurrent: cfg.Hasher.MaxConcurrent,
	})

	return auth.NewManager(auth.Deps{
		Users:  st.Users,
		Tokens: st.Tokens,
		Tx:     st.Tx,
		Events: st.Events,
		Hasher: hasher,
		Codec:  codec,
		Log:    logger,
	}, auth.Config{
		AccessTTL:  cfg.Auth.AccessTTL,
		RefreshTTL: cfg.Auth.RefreshTTL,
		Rotation:   auth.Rotation(cfg.Session.Rotation),
	})
}
