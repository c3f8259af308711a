package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/api"
	"github.com/samcharles93/starvec/internal/inference"
	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
)

func serveCmd() *cli.Command {
	var (
		s           serveSettings
		readTimeout time.Duration
		maxLength   int64
		cacheSize   int64
		rateBurst   int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP conversion API and upload page",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &s.addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Usage:       "default token bound per conversion (0 = model config)",
				Destination: &maxLength,
			},
			&cli.DurationFlag{
				Name:        "cache-ttl",
				Usage:       "how long finished conversions are cached",
				Value:       api.DefaultCacheTTL,
				Destination: &s.cacheTTL,
			},
			&cli.Int64Flag{
				Name:        "cache-size",
				Usage:       "maximum cached conversions (0 = unbounded)",
				Value:       1024,
				Destination: &cacheSize,
			},
			&cli.Float64Flag{
				Name:        "rate-limit",
				Usage:       "conversions per second (0 = unlimited)",
				Destination: &s.rateLimit,
			},
			&cli.Int64Flag{
				Name:        "rate-burst",
				Usage:       "burst size for --rate-limit",
				Value:       4,
				Destination: &rateBurst,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, configFrom(ctx), &s)
			log := logger.FromContext(ctx)

			t, err := model.ParseTask(task)
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			dev, spec, err := resolveDevice()
			if err != nil {
				return cli.Exit("error: "+err.Error(), 1)
			}
			provider := api.NewCachedModelProvider(api.ProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Loader: func(ctx context.Context, dir string) (*model.Model, error) {
					return model.Load(ctx, dir, t, spec, model.WithLogger(log.With("model_dir", dir)))
				},
			})
			server := api.NewServer(provider, api.ServerConfig{
				CacheTTL:  s.cacheTTL,
				CacheSize: uint64(max(cacheSize, 0)),
				RateLimit: s.rateLimit,
				RateBurst: int(rateBurst),
				Defaults:  inference.Defaults{MaxLength: int(maxLength)},
				Logger:    log,
			})
			defer server.Close()

			e := echo.New()
			e.Logger = logger.Slog(log)
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			log.Info("starting server", "address", s.addr, "device", dev, "dtype", spec)
			sc := echo.StartConfig{
				Address: s.addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
