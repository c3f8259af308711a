package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/backend"
	"github.com/samcharles93/starvec/internal/inference"
	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
	"github.com/samcharles93/starvec/internal/svgpost"
)

func runCmd() *cli.Command {
	var (
		imagePath string
		prompt    string
		tag       string
		noBar     bool
		s         runSettings
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate an SVG from an image (or a prompt for text2svg checkpoints)",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "image",
				Aliases:     []string{"i"},
				Usage:       "input raster image (png, jpeg, gif, bmp, tiff, webp)",
				Destination: &imagePath,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "text prompt for text2svg checkpoints",
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-length",
				Aliases:     []string{"n"},
				Usage:       "maximum number of generated tokens",
				Value:       4000,
				Destination: &s.maxLength,
			},
			&cli.Float64Flag{
				Name:        "temperature",
				Aliases:     []string{"temp", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Destination: &s.temperature,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Usage:       "top-k sampling parameter",
				Value:       40,
				Destination: &s.topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Usage:       "top-p sampling parameter",
				Value:       1,
				Destination: &s.topP,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling seed",
				Value:       -1,
				Destination: &s.seed,
			},
			&cli.StringFlag{
				Name:        "out-dir",
				Aliases:     []string{"o"},
				Usage:       "directory for the .svg and .png outputs",
				Value:       ".",
				Destination: &s.outDir,
			},
			&cli.StringFlag{
				Name:        "tag",
				Usage:       "suffix for output names (example-<tag>.svg); defaults to the model directory name",
				Destination: &tag,
			},
			&cli.BoolFlag{
				Name:        "no-progress",
				Usage:       "disable the progress bar",
				Destination: &noBar,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRunConfig(cmd, configFrom(ctx), &s)
			log := logger.FromContext(ctx)

			t, err := model.ParseTask(task)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			switch {
			case t == model.TaskIm2SVG && strings.TrimSpace(imagePath) == "":
				return cli.Exit("error: --image is required", 1)
			case t == model.TaskText2SVG && strings.TrimSpace(prompt) == "":
				return cli.Exit("error: --prompt is required for text2svg", 1)
			}

			m, dir, err := loadModel(ctx, t)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			opts := inference.Options{Seed: &s.seed}
			if cmd.IsSet("temperature") || s.temperature > 0 {
				opts.Temperature, opts.TopK, opts.TopP = &s.temperature, intPtr(s.topK), &s.topP
			}
			req := inference.ResolveOptions(opts, inference.Defaults{MaxLength: int(s.maxLength)})

			gen, err := generate(ctx, m, t, imagePath, prompt, req, noBar)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			doc, raster := m.ProcessAndRasterizeSVG(gen.Text)
			svgPath, pngPath := outputPaths(s.outDir, outputTag(tag, dir))
			if err := writeOutputs(svgPath, pngPath, doc, raster); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			log.Info("conversion complete",
				"tokens", len(gen.Tokens),
				"stop_reason", gen.StopReason.String(),
				"tok_per_s", fmt.Sprintf("%.1f", gen.Stats.TPS),
				"svg", svgPath,
				"svg_size", humanize.IBytes(uint64(len(doc))),
				"png", pngPath,
			)
			return nil
		},
	}
}

// loadModel resolves the shared model flags and loads the checkpoint.
func loadModel(ctx context.Context, t model.Task) (*model.Model, string, error) {
	log := logger.FromContext(ctx)
	dev, spec, err := resolveDevice()
	if err != nil {
		return nil, "", err
	}
	dir, err := resolveModelDir(modelPath, modelsPath, os.Stdin, os.Stderr)
	if err != nil {
		return nil, "", err
	}
	log.Debug("loading model", "dir", dir, "device", dev, "dtype", spec)
	m, err := model.Load(ctx, dir, t, spec, model.WithLogger(log))
	if err != nil {
		return nil, "", err
	}
	log.Info("model loaded", "model", m, "device", dev)
	return m, dir, nil
}

// resolveDevice picks the device and the precision spec: --dtype when given,
// otherwise the device's preferred precision.
func resolveDevice() (string, any, error) {
	dev, err := backend.Resolve(device)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(dtype) != "" {
		return dev, dtype, nil
	}
	return dev, backend.DefaultPrecision(dev), nil
}

func generate(ctx context.Context, m *model.Model, t model.Task, imagePath, prompt string, req inference.Request, noBar bool) (model.Generation, error) {
	genOpts := []model.GenerateOption{model.WithSampler(req.Sampler)}
	if !noBar {
		bar := progressbar.NewOptions(req.MaxLength,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("generating"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("tok"),
			progressbar.OptionSetTheme(progressbar.ThemeASCII),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
		genOpts = append(genOpts, model.WithTokenCallback(func(int) { _ = bar.Add(1) }))
	}

	var (
		gens []model.Generation
		err  error
	)
	if t == model.TaskText2SVG {
		gens, err = m.Text2SVG(ctx, []string{prompt}, req.MaxLength, genOpts...)
	} else {
		var img image.Image
		img, err = imaging.Open(imagePath, imaging.AutoOrientation(true))
		if err != nil {
			return model.Generation{}, fmt.Errorf("open image: %w", err)
		}
		batch, perr := m.ProcessImages([]image.Image{img})
		if perr != nil {
			return model.Generation{}, perr
		}
		gens, err = m.Im2SVG(ctx, batch, req.MaxLength, genOpts...)
	}
	if err != nil {
		return model.Generation{}, err
	}
	return gens[0], nil
}

func writeOutputs(svgPath, pngPath, doc string, raster image.Image) error {
	if err := os.MkdirAll(filepath.Dir(svgPath), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(svgPath, []byte(doc), 0o644); err != nil {
		return err
	}
	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	if err := svgpost.EncodePNG(f, raster); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func intPtr(v int64) *int {
	n := int(v)
	return &n
}
