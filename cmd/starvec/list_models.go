package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
)

func listModelsCmd() *cli.Command {
	return &cli.Command{
		Name:    "list-models",
		Aliases: []string{"ls", "models"},
		Usage:   "List checkpoints in the models directory",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "models-path",
				Aliases:     []string{"path"},
				Usage:       "directory of checkpoint directories",
				Destination: &modelsPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := configFrom(ctx)

			dir := strings.TrimSpace(modelsPath)
			if dir == "" {
				dir = cfg.ModelsDir
			}
			if dir == "" {
				dir = strings.TrimSpace(os.Getenv(envModelsDir))
			}
			if dir == "" {
				return cli.Exit("error: --models-path is required unless "+envModelsDir+" is set", 1)
			}

			models, err := discoverModelDirs(dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if len(models) == 0 {
				log.Info("no models found", "path", dir)
				return nil
			}

			fmt.Printf("Models in %s:\n\n", dir)
			for _, m := range models {
				name := filepath.Base(m)
				size := "-"
				if st, err := os.Stat(filepath.Join(m, model.WeightsFile)); err == nil {
					size = humanize.IBytes(uint64(st.Size()))
				}
				desc := ""
				if c, err := model.LoadConfig(filepath.Join(m, model.ConfigFile)); err == nil {
					desc = fmt.Sprintf("(%s, %s, %s)", c.ImageEncoderType, c.TorchDType, orDash(c.StarcoderModelName))
				}
				fmt.Printf("  %-32s %10s  %s\n", name, size, desc)
			}
			fmt.Printf("\n%d model(s) found\n", len(models))
			return nil
		},
	}
}
