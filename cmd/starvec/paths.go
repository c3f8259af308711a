package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/samcharles93/starvec/internal/model"
)

const envModelsDir = "STARVEC_MODELS_DIR"

// stdinIsTTY is a small seam for tests.
var stdinIsTTY = isTTY

func resolveModelDir(modelFlag string, modelsPath string, stdin io.Reader, stderr io.Writer) (string, error) {
	modelFlag = strings.TrimSpace(modelFlag)
	if modelFlag != "" {
		dir := filepath.Clean(modelFlag)
		if !isModelDir(dir) {
			return "", fmt.Errorf("%s: no %s found", dir, model.ConfigFile)
		}
		return dir, nil
	}

	modelsDir := strings.TrimSpace(modelsPath)
	if modelsDir == "" {
		modelsDir = strings.TrimSpace(os.Getenv(envModelsDir))
	}
	if modelsDir == "" {
		return "", fmt.Errorf("--model or --models-path is required unless %s is set", envModelsDir)
	}

	models, err := discoverModelDirs(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no checkpoints found in %s", modelsDir)
	case 1:
		_, _ = fmt.Fprintf(stderr, "using model %s\n", models[0])
		return models[0], nil
	}
	if !stdinIsTTY() {
		return "", fmt.Errorf("multiple models found in %s but stdin is not interactive; set --model", modelsDir)
	}
	return selectModelInteractively(modelsDir, models, stdin, stderr)
}

// discoverModelDirs lists the subdirectories of dir that hold a config.json,
// sorted by name.
func discoverModelDirs(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("models directory is empty")
	}
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		if path := filepath.Join(dir, e.Name()); isModelDir(path) {
			models = append(models, path)
		}
	}
	sort.Strings(models)
	return models, nil
}

func isModelDir(dir string) bool {
	st, err := os.Stat(filepath.Join(dir, model.ConfigFile))
	return err == nil && st.Mode().IsRegular()
}

func selectModelInteractively(modelsDir string, models []string, stdin io.Reader, stderr io.Writer) (string, error) {
	_, _ = fmt.Fprintf(stderr, "select a model from %s\n", modelsDir)
	for i, m := range models {
		_, _ = fmt.Fprintf(stderr, "%d. %s\n", i+1, filepath.Base(m))
	}

	reader := bufio.NewReader(stdin)
	for {
		_, _ = fmt.Fprintf(stderr, "enter selection [1-%d]: ", len(models))
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		line = strings.TrimSpace(line)
		eof := errors.Is(err, io.EOF)
		if line == "" {
			if eof {
				return "", errors.New("no selection provided on stdin; set --model")
			}
			continue
		}
		idx, convErr := strconv.Atoi(line)
		if convErr != nil || idx < 1 || idx > len(models) {
			_, _ = fmt.Fprintf(stderr, "invalid selection %q\n", line)
			if eof {
				return "", errors.New("invalid selection provided on stdin; set --model")
			}
			continue
		}
		return models[idx-1], nil
	}
}

// outputPaths names the files written for one conversion.
func outputPaths(outDir, tag string) (svgPath, pngPath string) {
	base := "example"
	if tag = strings.TrimSpace(tag); tag != "" {
		base += "-" + tag
	}
	return filepath.Join(outDir, base+".svg"), filepath.Join(outDir, base+".png")
}

// outputTag is the file name suffix for a run: the --tag value, or the
// model directory's base name when no tag was given.
func outputTag(tag, modelDir string) string {
	if tag = strings.TrimSpace(tag); tag != "" {
		return tag
	}
	if modelDir == "" {
		return ""
	}
	return filepath.Base(filepath.Clean(modelDir))
}

func isTTY() bool {
	st, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (st.Mode() & os.ModeCharDevice) != 0
}
