package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	HttpServerPort uint16 `env:"HTTP_SERVER_PORT" envDefault:"8085" validate:"min=1000,max=65535"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort uint16 `env:"REDIS_PORT" envDefault:"6379"   validate:"min=1000,max=65535"`

	PostgresHost     string `env:"POSTGRES_HOST"     envDefault:"localhost"`
	PostgresPort     string `env:"POSTGRES_PORT"     envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER"     envDefault:"lobby_user"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"lobby_password"`
	PostgresDb       string `env:"POSTGRES_DB"       envDefault:"lobby_db"`

	// Broker protocol tuning.
	AuthGrace     time.Duration `env:"AUTH_GRACE"     envDefault:"2s"`
	IdleWindow    time.Duration `env:"IDLE_WINDOW"    envDefault:"60s"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"10s"`
	ServerSlots   int           `env:"SERVER_SLOTS"   envDefault:"8"  validate:"min=1,max=256"`
	MaxEvents     int           `env:"MAX_EVENTS"     envDefault:"20" validate:"min=1,max=1000"`
	NicknameMax   int           `env:"NICKNAME_MAX"   envDefault:"12" validate:"min=1,max=64"`
}

func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	err := godotenv.Load(".env")
	if err != nil {
		zap.L().Debug(".env file not found", zap.Error(err))
	}

	cfg := &Config{}
	// Parse config from environment variables
	if err = env.Parse(cfg); err != nil {
		zap.L().Error("config_load_failed", zap.Error(err))
		return nil, err
	}

	// Validate the config
	validate := validator.New()
	err = validate.Struct(cfg)
	if err != nil {
		zap.L().Error("config_validation_failed", zap.Error(err))
		return nil, err
	}
	return cfg, nil
}
