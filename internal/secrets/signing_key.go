// Package secrets resolves the token signing key at process start.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type Source struct {
	// Inline is used when ARN is empty.
	Inline string
	ARN    string
	// Field selects a key when the secret is a JSON object; empty means the
	// whole secret string is the key.
	Field  string
	Region string
}

// SecretsAPI is the part of the Secrets Manager client LoadSigningKey calls.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

var ErrNoSigningKey = errors.New("no signing key configured")

func LoadSigningKey(ctx context.Context, src Source) ([]byte, error) {
	if src.ARN == "" {
		if src.Inline == "" {
			return nil, ErrNoSigningKey
		}
		return []byte(src.Inline), nil
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if src.Region != "" {
		opts = append(opts, awsconfig.WithRegion(src.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return Fetch(ctx, secretsmanager.NewFromConfig(cfg), src.ARN, src.Field)
}

func Fetch(ctx context.Context, api SecretsAPI, id, field string) ([]byte, error) {
	out, err := api.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(id),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch secret %s: %w", id, err)
	}

	var payload []byte
	switch {
	case out.SecretString != nil:
		payload = []byte(*out.SecretString)
	case len(out.SecretBinary) > 0:
		payload = out.SecretBinary
	default:
		return nil, fmt.Errorf("secret %s has no payload", id)
	}

	if field == "" {
		return payload, nil
	}
	var kv map[string]string
	if err := json.Unmarshal(payload, &kv); err != nil {
		return nil, fmt.Errorf("secret %s is not a JSON object: %w", id, err)
	}
	v, ok := kv[field]
	if !ok || v == "" {
		return nil, fmt.Errorf("secret %s has no field %q", id, field)
	}
	return []byte(v), nil
}
