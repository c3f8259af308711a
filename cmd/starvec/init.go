package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
)

// initCmd writes a tiny randomly initialised checkpoint, enough to exercise
// the pipeline end to end without downloading weights.
func initCmd() *cli.Command {
	var (
		out   string
		dt    string
		seed  int64
		enc   string
		norm  string
		tiny  bool
		force bool
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write a randomly initialised checkpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output checkpoint directory",
				Required:    true,
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "stored precision",
				Value:       "float32",
				Destination: &dt,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "image-encoder",
				Usage:       "vision backbone (clip, siglip)",
				Value:       "clip",
				Destination: &enc,
			},
			&cli.StringFlag{
				Name:        "adapter-norm",
				Usage:       "adapter normalization (layer_norm, batch_norm, rms_norm, none)",
				Value:       "layer_norm",
				Destination: &norm,
			},
			&cli.BoolFlag{
				Name:        "tiny",
				Usage:       "use the test-sized geometry",
				Value:       true,
				Destination: &tiny,
			},
			&cli.BoolFlag{
				Name:        "force",
				Usage:       "overwrite an existing checkpoint",
				Destination: &force,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if isModelDir(out) && !force {
				return cli.Exit(fmt.Sprintf("error: %s already holds a checkpoint (use --force)", out), 1)
			}
			cfg := model.TinyConfig()
			if !tiny {
				cfg = model.SmallConfig()
			}
			cfg.ImageEncoderType = enc
			cfg.AdapterNorm = norm

			log := logger.FromContext(ctx)
			m, err := model.New(cfg, model.TaskIm2SVG, dt, model.WithSeed(seed), model.WithLogger(log))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := m.Save(out); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("checkpoint written", "dir", out, "params", len(m.Parameters()))
			return nil
		},
	}
}
