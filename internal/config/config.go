package config

import (
	"time"

	"github.com/urfave/cli/v3"
)

type Config struct {
	App
	PostgreSQL
	Redis
	S3
	Ledger
	Dispatch
	HTTP
}

type App struct {
	MaxGroupAttempts int
	DispatchMode     string
}

type PostgreSQL struct {
	Host     string
	Port     string
	Username string
	Password string
	DBName   string
}

type Redis struct {
	Addr      string
	Password  string
	DB        int
	StatusTTL time.Duration
}

type S3 struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PresignExpiry time.Duration
}

type Ledger struct {
	BaseURL string
	Timeout time.Duration
}

type Dispatch struct {
	ProviderURL  string
	CallbackURL  string
	Concurrency  int64
	CallTimeout  time.Duration
	AlertPending int
	AlertETA     time.Duration
}

type HTTP struct {
	Host         string
	Port         string
	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Load(cmd *cli.Command) *Config {
	return &Config{
		App: App{
			MaxGroupAttempts: cmd.Int("max-group-attempts"),
			DispatchMode:     cmd.String("dispatch-mode"),
		},
		PostgreSQL: PostgreSQL{
			Host:     cmd.String("pg-host"),
			Port:     cmd.String("pg-port"),
			Username: cmd.String("pg-username"),
			Password: cmd.String("pg-password"),
			DBName:   cmd.String("pg-dbname"),
		},
		Redis: Redis{
			Addr:      cmd.String("redis-addr"),
			Password:  cmd.String("redis-password"),
			DB:        cmd.Int("redis-db"),
			StatusTTL: cmd.Duration("redis-status-ttl"),
		},
		S3: S3{
			Endpoint:      cmd.String("s3-endpoint"),
			AccessKey:     cmd.String("s3-access-key"),
			SecretKey:     cmd.String("s3-secret-key"),
			Bucket:        cmd.String("s3-bucket"),
			UseSSL:        cmd.Bool("s3-use-ssl"),
			PresignExpiry: cmd.Duration("s3-presign-expiry"),
		},
		Ledger: Ledger{
			BaseURL: cmd.String("ledger-url"),
			Timeout: cmd.Duration("ledger-timeout"),
		},
		Dispatch: Dispatch{
			ProviderURL:  cmd.String("provider-url"),
			CallbackURL:  cmd.String("callback-url"),
			Concurrency:  cmd.Int64("dispatch-concurrency"),
			CallTimeout:  cmd.Duration("dispatch-call-timeout"),
			AlertPending: cmd.Int("dispatch-alert-pending"),
			AlertETA:     cmd.Duration("dispatch-alert-eta"),
		},
		HTTP: HTTP{
			Host:         cmd.String("http-host"),
			Port:         cmd.String("http-port"),
			IdleTimeout:  cmd.Duration("http-idle-timeout"),
			ReadTimeout:  cmd.Duration("http-read-timeout"),
			WriteTimeout: cmd.Duration("http-write-timeout"),
		},
	}
}
