package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	altsrc "github.com/urfave/cli-altsrc/v3"
	"github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/mvai/bracket_orchestrator/internal/app"
	"github.com/mvai/bracket_orchestrator/internal/config"
)

var version = "dev"

func cmd() *cli.Command {
	return &cli.Command{
		Name:    "bracket_orchestrator",
		Usage:   "HDR bracket orchestration service",
		Version: version,
		Flags:   flags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log, ok := ctx.Value(loggerKey{}).(*slog.Logger)
			if !ok {
				return errors.New("failed to get logger from context")
			}

			cfg := config.Load(cmd)

			return app.New(log, cfg).Run(ctx)
		},
	}
}

func flags() []cli.Flag {
	var config string

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Validator:   validateConfig,
			Usage:       "Load configuration from `FILE`",
			Destination: &config,
		},
		&cli.IntFlag{
			Name:    "max-group-attempts",
			Usage:   "Set per-group dispatch attempts before a failure is permanent",
			Value:   3,
			Sources: cli.NewValueSourceChain(yaml.YAML("app.max_group_attempts", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:    "dispatch-mode",
			Usage:   "Set processing mode stamped into dispatch manifests",
			Value:   "hdr_merge",
			Sources: cli.NewValueSourceChain(yaml.YAML("app.dispatch_mode", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:     "pg-host",
			Usage:    "Set PostgreSQL host",
			Value:    "localhost",
			Sources:  cli.NewValueSourceChain(yaml.YAML("postgresql.host", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "pg-port",
			Usage:    "Set PostgreSQL port",
			Value:    "5432",
			Sources:  cli.NewValueSourceChain(yaml.YAML("postgresql.port", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "pg-username",
			Usage:    "Set PostgreSQL username",
			Sources:  cli.NewValueSourceChain(yaml.YAML("postgresql.username", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "pg-password",
			Usage:    "Set PostgreSQL password",
			Sources:  cli.NewValueSourceChain(yaml.YAML("postgresql.password", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "pg-dbname",
			Usage:    "Set PostgreSQL database name",
			Value:    "bracket_orchestrator",
			Sources:  cli.NewValueSourceChain(yaml.YAML("postgresql.dbname", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Set Redis address",
			Value:   "localhost:6379",
			Sources: cli.NewValueSourceChain(yaml.YAML("redis.addr", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Set Redis password",
			Sources: cli.NewValueSourceChain(yaml.YAML("redis.password", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Set Redis database number",
			Sources: cli.NewValueSourceChain(yaml.YAML("redis.db", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "redis-status-ttl",
			Usage:   "Set status snapshot cache TTL",
			Value:   10 * time.Minute,
			Sources: cli.NewValueSourceChain(yaml.YAML("redis.status_ttl", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:     "s3-endpoint",
			Usage:    "Set object storage endpoint",
			Sources:  cli.NewValueSourceChain(yaml.YAML("s3.endpoint", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "s3-access-key",
			Usage:    "Set object storage access key",
			Sources:  cli.NewValueSourceChain(yaml.YAML("s3.access_key", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "s3-secret-key",
			Usage:    "Set object storage secret key",
			Sources:  cli.NewValueSourceChain(yaml.YAML("s3.secret_key", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "s3-bucket",
			Usage:    "Set object storage bucket",
			Value:    "mvai-uploads",
			Sources:  cli.NewValueSourceChain(yaml.YAML("s3.bucket", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.BoolFlag{
			Name:    "s3-use-ssl",
			Usage:   "Use TLS for object storage",
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.use_ssl", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "s3-presign-expiry",
			Usage:   "Set presigned URL lifetime",
			Value:   15 * time.Minute,
			Sources: cli.NewValueSourceChain(yaml.YAML("s3.presign_expiry", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:     "ledger-url",
			Usage:    "Set credit ledger base URL",
			Sources:  cli.NewValueSourceChain(yaml.YAML("ledger.url", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.DurationFlag{
			Name:    "ledger-timeout",
			Usage:   "Set credit ledger request timeout",
			Value:   10 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("ledger.timeout", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:     "provider-url",
			Usage:    "Set compute provider base URL",
			Sources:  cli.NewValueSourceChain(yaml.YAML("dispatch.provider_url", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.StringFlag{
			Name:     "callback-url",
			Usage:    "Set callback URL handed to the compute provider",
			Sources:  cli.NewValueSourceChain(yaml.YAML("dispatch.callback_url", altsrc.NewStringPtrSourcer(&config))),
			Required: true,
		},
		&cli.Int64Flag{
			Name:    "dispatch-concurrency",
			Usage:   "Set concurrent provider call limit",
			Value:   4,
			Sources: cli.NewValueSourceChain(yaml.YAML("dispatch.concurrency", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "dispatch-call-timeout",
			Usage:   "Set per-call provider timeout",
			Value:   30 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("dispatch.call_timeout", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.IntFlag{
			Name:    "dispatch-alert-pending",
			Usage:   "Set pending dispatch count that triggers a backlog alert",
			Value:   50,
			Sources: cli.NewValueSourceChain(yaml.YAML("dispatch.alert_pending", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "dispatch-alert-eta",
			Usage:   "Set backlog ETA that triggers a backlog alert",
			Value:   10 * time.Minute,
			Sources: cli.NewValueSourceChain(yaml.YAML("dispatch.alert_eta", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:    "http-host",
			Usage:   "Set HTTP server host",
			Value:   "localhost",
			Sources: cli.NewValueSourceChain(yaml.YAML("http.host", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.StringFlag{
			Name:    "http-port",
			Usage:   "Set HTTP server port",
			Value:   "8080",
			Sources: cli.NewValueSourceChain(yaml.YAML("http.port", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "http-idle-timeout",
			Usage:   "Set HTTP server idle timeout",
			Value:   1 * time.Minute,
			Sources: cli.NewValueSourceChain(yaml.YAML("http.idle_timeout", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "http-read-timeout",
			Usage:   "Set HTTP server read timeout",
			Value:   15 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("http.read_timeout", altsrc.NewStringPtrSourcer(&config))),
		},
		&cli.DurationFlag{
			Name:    "http-write-timeout",
			Usage:   "Set HTTP server write timeout",
			Value:   15 * time.Second,
			Sources: cli.NewValueSourceChain(yaml.YAML("http.write_timeout", altsrc.NewStringPtrSourcer(&config))),
		},
	}
}

func validateConfig(config string) error {
	info, err := os.Stat(config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%q does not exist", config)
		}
		return fmt.Errorf("failed to stat %q: %w", config, err)
	}

	if info.IsDir() {
		return fmt.Errorf("%q is a directory, not a file", config)
	}

	ext := filepath.Ext(info.Name())
	if ext != ".yml" && ext != ".yaml" {
		return fmt.Errorf("invalid extension %q", config)
	}

	return nil
}
