package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/starvec/internal/model"
)

func inspectCmd() *cli.Command {
	var (
		showParams bool
		asJSON     bool
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Print a checkpoint's config and parameters",
		Flags: append(commonModelFlags(),
			&cli.BoolFlag{
				Name:        "params",
				Usage:       "list every parameter",
				Value:       true,
				Destination: &showParams,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the resolved config as JSON and exit",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, configFrom(ctx))
			t, err := model.ParseTask(task)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			m, dir, err := loadModel(ctx, t)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(m.Config()); err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				return nil
			}
			printModel(os.Stdout, m, showParams)
			if st, err := os.Stat(filepath.Join(dir, model.WeightsFile)); err == nil {
				fmt.Printf("\nweights file: %s\n", humanize.IBytes(uint64(st.Size())))
			}
			return nil
		},
	}
}

func printModel(w io.Writer, m *model.Model, showParams bool) {
	cfg := m.Config()
	fmt.Fprintf(w, "task:            %s\n", m.Task())
	fmt.Fprintf(w, "precision:       %s\n", m.Precision())
	fmt.Fprintf(w, "backbone:        %s\n", orDash(cfg.StarcoderModelName))
	fmt.Fprintf(w, "image encoder:   %s (%dpx, patch %d, hidden %d, %d layers)\n",
		cfg.ImageEncoderType, cfg.Vision.ImageSize, cfg.Vision.PatchSize, cfg.Vision.HiddenSize, cfg.Vision.NumLayers)
	fmt.Fprintf(w, "adapter norm:    %s\n", cfg.AdapterNorm)
	fmt.Fprintf(w, "decoder:         vocab %d, hidden %d, %d layers, %d heads, %d positions\n",
		cfg.Decoder.VocabSize, cfg.Decoder.HiddenSize, cfg.Decoder.NumLayers, cfg.Decoder.NumHeads, cfg.Decoder.NPositions)
	fmt.Fprintf(w, "query length:    %d\n", m.QueryLength())
	fmt.Fprintf(w, "max length:      %d (train %d)\n", cfg.MaxLength, cfg.MaxLengthTrain)
	fmt.Fprintf(w, "special tokens:  svg_start=%d eos=%d pad=%d\n", cfg.SVGStartTokenID, cfg.EOSTokenID, cfg.PadTokenID)

	params := m.Parameters()
	var total, count uint64
	for _, p := range params {
		total += uint64(p.Bytes)
		count += uint64(p.Shape[0] * p.Shape[1])
	}
	fmt.Fprintf(w, "parameters:      %s (%s, %d tensors)\n", humanize.Comma(int64(count)), humanize.IBytes(total), len(params))
	if !showParams {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDTYPE\tSHAPE\tSIZE")
	for _, p := range params {
		fmt.Fprintf(tw, "%s\t%s\t[%d %d]\t%s\n", p.Name, p.Precision, p.Shape[0], p.Shape[1], humanize.IBytes(uint64(p.Bytes)))
	}
	_ = tw.Flush()
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
