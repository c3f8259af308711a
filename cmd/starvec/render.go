package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/svgpost"
)

func renderCmd() *cli.Command {
	var (
		outDir string
		tag    string
		size   int64
	)

	return &cli.Command{
		Name:      "render",
		Usage:     "Repair raw model output or an SVG file and rasterize it",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out-dir",
				Aliases:     []string{"o"},
				Usage:       "directory for the .svg and .png outputs",
				Value:       ".",
				Destination: &outDir,
			},
			&cli.StringFlag{
				Name:        "tag",
				Usage:       "suffix for output names; defaults to the input file name",
				Destination: &tag,
			},
			&cli.Int64Flag{
				Name:        "size",
				Usage:       "raster edge in pixels",
				Value:       svgpost.DefaultSize,
				Destination: &size,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return cli.Exit("error: render takes exactly one input file", 1)
			}
			in := cmd.Args().First()
			raw, err := os.ReadFile(in)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if tag == "" {
				tag = strings.TrimSuffix(filepath.Base(in), filepath.Ext(in))
			}

			res := svgpost.NewFinalizer(svgpost.Options{Size: int(size)}).Finalize(string(raw))
			svgPath, pngPath := outputPaths(outDir, tag)
			if err := writeOutputs(svgPath, pngPath, res.SVG, res.Raster); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			log := logger.FromContext(ctx)
			if res.Placeholder {
				log.Warn("no <svg> element recovered, wrote placeholder", "input", in)
			}
			if res.RenderFailed {
				log.Warn("renderer rejected the document, raster is blank", "input", in)
			}
			log.Info("rendered", "svg", svgPath, "png", pngPath)
			return nil
		},
	}
}
