package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		imagePath  string
		maxLength  int64
		batchSize  int64
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Measure im2svg generation throughput",
		Flags: append(commonModelFlags(),
			&cli.Int64Flag{
				Name:        "warmup",
				Usage:       "number of warmup runs",
				Value:       1,
				Destination: &warmupRuns,
			},
			&cli.Int64Flag{
				Name:        "runs",
				Usage:       "number of benchmark runs",
				Value:       3,
				Destination: &benchRuns,
			},
			&cli.StringFlag{
				Name:        "image",
				Aliases:     []string{"i"},
				Usage:       "input image; a synthetic gradient is used when empty",
				Destination: &imagePath,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Aliases:     []string{"n"},
				Usage:       "token bound per item",
				Value:       256,
				Destination: &maxLength,
			},
			&cli.Int64Flag{
				Name:        "batch",
				Usage:       "images per generation call",
				Value:       1,
				Destination: &batchSize,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, configFrom(ctx))
			log := logger.FromContext(ctx)
			if benchRuns < 1 || batchSize < 1 {
				return cli.Exit("error: --runs and --batch must be positive", 1)
			}

			loadStart := time.Now()
			m, dir, err := loadModel(ctx, model.TaskIm2SVG)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: load model: %v", err), 1)
			}
			loadDuration := time.Since(loadStart)

			src := syntheticImage(256)
			if imagePath != "" {
				if src, err = imaging.Open(imagePath); err != nil {
					return cli.Exit(fmt.Sprintf("error: open image: %v", err), 1)
				}
			}
			images := make([]image.Image, batchSize)
			for i := range images {
				images[i] = src
			}
			batch, err := m.ProcessImages(images)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			fmt.Println("=== starvec benchmark ===")
			fmt.Printf("Model:      %s (%s)\n", dir, m.Precision())
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("Load:       %s\n", loadDuration.Round(time.Millisecond))
			fmt.Printf("Bound:      %d tokens x %d images\n", maxLength, batchSize)
			fmt.Println()

			for i := range int(warmupRuns) {
				log.Info("warmup run", "run", i+1)
				if _, err := m.Im2SVG(ctx, batch, int(maxLength)); err != nil {
					return cli.Exit(fmt.Sprintf("error: warmup run %d: %v", i+1, err), 1)
				}
			}

			fmt.Printf("%-6s %10s %10s %8s\n", "Run", "tok/s", "Duration", "Tokens")
			var sumTPS float64
			for i := range int(benchRuns) {
				start := time.Now()
				gens, err := m.Im2SVG(ctx, batch, int(maxLength))
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: benchmark run %d: %v", i+1, err), 1)
				}
				elapsed := time.Since(start)
				tokens := 0
				for _, g := range gens {
					tokens += len(g.Tokens)
				}
				tps := float64(tokens) / elapsed.Seconds()
				sumTPS += tps
				fmt.Printf("%-6d %10.2f %10s %8d\n", i+1, tps, elapsed.Round(time.Millisecond), tokens)
			}
			fmt.Printf("\n%-6s %10.2f\n", "Avg", sumTPS/float64(benchRuns))

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %s alloc, %s sys\n", humanize.IBytes(mem.Alloc), humanize.IBytes(mem.Sys))
			return nil
		},
	}
}

// syntheticImage is a diagonal two-colour gradient.
func syntheticImage(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			t := uint8((x + y) * 255 / (2 * (size - 1)))
			img.SetNRGBA(x, y, color.NRGBA{R: t, G: 64, B: 255 - t, A: 255})
		}
	}
	return img
}
