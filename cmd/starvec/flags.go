package main

import "github.com/urfave/cli/v3"

var (
	modelPath  string
	modelsPath string
	device     string
	dtype      string
	task       string
	logLevel   string
	logFormat  string
	debug      bool
)

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "checkpoint directory holding config.json",
			Destination: &modelPath,
		},
		&cli.StringFlag{
			Name:        "models-path",
			Aliases:     []string{"path"},
			Usage:       "directory of checkpoint directories",
			Destination: &modelsPath,
		},
		&cli.StringFlag{
			Name:        "device",
			Aliases:     []string{"backend"},
			Usage:       "execution device (auto, cpu, cuda)",
			Value:       "auto",
			Destination: &device,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "parameter precision (float32, float16, bfloat16); defaults to the device's preference",
			Destination: &dtype,
		},
		&cli.StringFlag{
			Name:        "task",
			Usage:       "generation task (im2svg, text2svg)",
			Value:       "im2svg",
			Destination: &task,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}
