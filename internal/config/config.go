package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	EnvDev   = "dev"
	EnvProd  = "prod"
	EnvLocal = "local"
)

type Config struct {
	Env      string `env:"ENV" env-default:"local"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	HTTP     HTTPConfig
	Journal  JournalConfig
	Telegram TelegramConfig
}

type HTTPConfig struct {
	Addr            string        `env:"HTTP_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

type JournalConfig struct {
	// ":memory:" или путь к файлу; пустая строка выключает журнал
	DSN    string `env:"JOURNAL_DSN" env-default:":memory:"`
	Buffer int    `env:"JOURNAL_BUFFER" env-default:"64"`
}

type TelegramConfig struct {
	Token string `env:"TELEGRAM_TOKEN"`
	Debug bool   `env:"TELEGRAM_DEBUG" env-default:"false"`
}

func (c TelegramConfig) Enabled() bool {
	return c.Token != ""
}

// Read читает конфигурацию из окружения
func Read() (*Config, error) {
	cfg := new(Config)
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvDev, EnvProd, EnvLocal:
	default:
		return fmt.Errorf("неизвестное окружение: %s", c.Env)
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR не может быть пустым")
	}
	if c.Journal.Buffer < 0 {
		return fmt.Errorf("JOURNAL_BUFFER не может быть отрицательным: %d", c.Journal.Buffer)
	}
	return nil
}
