package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Env            string `env:"ENVIRONMENT"`
	ServerPort     int    `env:"SERVER_PORT" envDefault:"8080"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"regwatch.sqlite"`
	BasicAuthCreds string `env:"BASIC_AUTH_CREDS"`

	Registry struct {
		BaseURL    string        `env:"REGISTRY_BASE_URL" envDefault:"https://registry.modelcontextprotocol.io"`
		PageSize   int           `env:"REGISTRY_PAGE_SIZE" envDefault:"100"`
		MaxRetries int           `env:"REGISTRY_MAX_RETRIES" envDefault:"3"`
		RetryDelay time.Duration `env:"REGISTRY_RETRY_DELAY" envDefault:"2s"`
		Timeout    time.Duration `env:"REGISTRY_TIMEOUT" envDefault:"30s"`
	}

	Poll struct {
		Interval    time.Duration `env:"POLL_INTERVAL" envDefault:"5m"`
		SnapshotTTL time.Duration `env:"SNAPSHOT_TTL" envDefault:"336h"` // snapshots older than this are purged
	}

	Dispatch struct {
		MaxConcurrentSends int64         `env:"MAX_CONCURRENT_SENDS" envDefault:"100"`
		SendTimeout        time.Duration `env:"SEND_TIMEOUT" envDefault:"15s"`

		BreakerFailureThreshold int           `env:"BREAKER_FAILURE_THRESHOLD" envDefault:"5"`
		BreakerTimeout          time.Duration `env:"BREAKER_TIMEOUT" envDefault:"5m"`
		BreakerSuccessThreshold int           `env:"BREAKER_SUCCESS_THRESHOLD" envDefault:"3"`

		RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY" envDefault:"5s"`
		RetryMaxDelay      time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1h"`
		RetryMaxAttempts   int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"5"`
		RetrySweepInterval time.Duration `env:"RETRY_SWEEP_INTERVAL" envDefault:"1m"`

		MaxBatchSize  int           `env:"MAX_BATCH_SIZE" envDefault:"10"`
		BatchWindow   time.Duration `env:"BATCH_WINDOW" envDefault:"30s"`
		FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"10s"`
	}

	Mailgun struct {
		Domain      string `env:"MAILGUN_DOMAIN"`
		APIKey      string `env:"MAILGUN_API_KEY"`
		SenderFrom  string `env:"MAILGUN_SENDER_FROM"`
		TimeoutSecs int    `env:"MAILGUN_TIMEOUT_SECS" envDefault:"10"`
	}

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	}

	log   *zap.Logger
	creds map[string]string
}

func NewConfig(lc fx.Lifecycle, log *zap.Logger) *Config {
	cfg := &Config{log: log}
	if err := env.Parse(cfg); err != nil {
		log.Sugar().Panicf("failed to parse environment: %v", err)
	}

	creds, err := cfg.parseCreds()
	if err != nil {
		if cfg.Env == "" || cfg.Env == "development" {
			cfg.log.Sugar().Infof("%s (credentials will be set to default in development env)", err)
			creds = map[string]string{"admin": "password"}
		} else {
			cfg.log.Sugar().Panic(err)
		}
	}
	cfg.creds = creds

	return cfg
}

func (cfg *Config) GetCreds() map[string]string {
	return cfg.creds
}

func (cfg *Config) parseCreds() (map[string]string, error) {
	if cfg.BasicAuthCreds == "" {
		return nil, errors.New("BASIC_AUTH_CREDS envvar must be populated")
	}

	creds := strings.Split(cfg.BasicAuthCreds, ",")
	if len(creds) == 0 {
		return nil, errors.New("BASIC_AUTH_CREDS envvar should be filled with comma-separated values -- user1:pass1,user2:pass2")
	}

	result := make(map[string]string)
	for _, cred := range creds {
		userPass := strings.Split(cred, ":")
		if len(userPass) != 2 {
			return nil, fmt.Errorf("failed to parse '%s', each credential should be delimited by a colon -- user1:pass1,user2:pass2", cred)
		}

		user, pass := userPass[0], userPass[1]
		result[strings.Trim(user, " ")] = strings.Trim(pass, " ")
	}

	return result, nil
}
