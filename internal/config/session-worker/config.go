package session_worker_config

import (
	"time"

	"github.com/NordCoder/Studymate/internal/config/common"
	pg "github.com/NordCoder/Studymate/internal/repository/postgres"
	redisrepo "github.com/NordCoder/Studymate/internal/repository/redis"
)

type Sweeper struct {
	Enable bool          `mapstructure:"enable"`
	Tick   time.Duration `mapstructure:"tick"`
}

type Outbox struct {
	Enable        bool          `mapstructure:"enable"`
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	WaitTime      time.Duration `mapstructure:"wait_time"`
	InProgressTTL time.Duration `mapstructure:"in_progress_ttl"`
	// Retention keeps finished rows this long before the sweeper drops them.
	Retention time.Duration `mapstructure:"retention"`
}

// Audit consumes the session events topic and logs every event.
type Audit struct {
	Enable bool `mapstructure:"enable"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	App     common.App       `mapstructure:"app"`
	DB      pg.Config        `mapstructure:"db"`
	Redis   redisrepo.Config `mapstructure:"redis"`
	Kafka   common.Kafka     `mapstructure:"kafka"`
	Store   string           `mapstructure:"store"`
	Sweeper Sweeper          `mapstructure:"sweeper"`
	Outbox  Outbox           `mapstructure:"outbox"`
	Audit   Audit            `mapstructure:"audit"`
	Server  Server           `mapstructure:"server"`
	OTEL    common.OTEL      `mapstructure:"otel"`
	Log     common.Log       `mapstructure:"log"`
}
