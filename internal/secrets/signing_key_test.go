package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	out   *secretsmanager.GetSecretValueOutput
	err   error
	asked string
}

func (f *fakeSecrets) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.asked = aws.ToString(in.SecretId)
	return f.out, f.err
}

func TestFetch(t *testing.T) {
	const arn = "arn:aws:secretsmanager:eu-west-1:123456789012:secret:studymate-jwt"

	t.Run("whole string", func(t *testing.T) {
		api := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String("k3y")}}
		got, err := Fetch(context.Background(), api, arn, "")
		require.NoError(t, err)
		assert.Equal(t, []byte("k3y"), got)
		assert.Equal(t, arn, api.asked)
	})

	t.Run("json field", func(t *testing.T) {
		api := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"JWT_SECRET":"abc","OTHER":"x"}`)}}
		got, err := Fetch(context.Background(), api, arn, "JWT_SECRET")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), got)
	})

	t.Run("binary", func(t *testing.T) {
		api := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretBinary: []byte{1, 2, 3}}}
		got, err := Fetch(context.Background(), api, arn, "")
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, got)
	})

	t.Run("missing field", func(t *testing.T) {
		api := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{SecretString: aws.String(`{"A":"b"}`)}}
		_, err := Fetch(context.Background(), api, arn, "JWT_SECRET")
		require.Error(t, err)
	})

	t.Run("empty payload", func(t *testing.T) {
		api := &fakeSecrets{out: &secretsmanager.GetSecretValueOutput{}}
		_, err := Fetch(context.Background(), api, arn, "")
		require.Error(t, err)
	})

	t.Run("api error", func(t *testing.T) {
		boom := errors.New("access denied")
		_, err := Fetch(context.Background(), &fakeSecrets{err: boom}, arn, "")
		require.ErrorIs(t, err, boom)
	})
}

func TestLoadSigningKey_Inline(t *testing.T) {
	got, err := LoadSigningKey(context.Background(), Source{Inline: "inline-key"})
	require.NoError(t, err)
	assert.Equal(t, []byte("inline-key"), got)

	_, err = LoadSigningKey(context.Background(), Source{})
	require.ErrorIs(t, err, ErrNoSigningKey)
}
