package api_gateway_config

import (
	"time"

	"github.com/NordCoder/Studymate/internal/config/common"
	pg "github.com/NordCoder/Studymate/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Studymate/internal/repository/redis"
)

type Server struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	// RetryAfter is advertised with 503 answers.
	RetryAfter     time.Duration `mapstructure:"retry_after"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type Auth struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTSecretARN   string        `mapstructure:"jwt_secret_arn"`
	JWTSecretField string        `mapstructure:"jwt_secret_field"`
	AWSRegion      string        `mapstructure:"aws_region"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTTL      time.Duration `mapstructure:"access_ttl"`
	RefreshTTL     time.Duration `mapstructure:"refresh_ttl"`
}

type Hasher struct {
	Cost          int   `mapstructure:"cost"`
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

type Session struct {
	// Store is one of postgres, redis, memory.
	Store string `mapstructure:"store"`
	// Rotation is consume or keep.
	Rotation string `mapstructure:"rotation"`
}

type Config struct {
	App     common.App       `mapstructure:"app"`
	Server  Server           `mapstructure:"server"`
	DB      pg.Config        `mapstructure:"db"`
	Redis   redisrepo.Config `mapstructure:"redis"`
	OTEL    common.OTEL      `mapstructure:"otel"`
	Log     common.Log       `mapstructure:"log"`
	Auth    Auth             `mapstructure:"auth"`
	Hasher  Hasher           `mapstructure:"hasher"`
	Session Session          `mapstructure:"session"`
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
