package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mkModel(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestDiscoverModelDirsSorted(t *testing.T) {
	root := t.TempDir()
	b := mkModel(t, root, "b")
	a := mkModel(t, root, "a")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := discoverModelDirs(root)
	if err != nil {
		t.Fatalf("discoverModelDirs returned error: %v", err)
	}
	want := []string{a, b}
	if len(got) != len(want) {
		t.Fatalf("unexpected model count: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got %v want %v", got, want)
		}
	}
}

func TestResolveModelDir(t *testing.T) {
	t.Run("explicit model must hold a config", func(t *testing.T) {
		root := t.TempDir()
		dir := mkModel(t, root, "m")
		got, err := resolveModelDir(dir, "", nil, &bytes.Buffer{})
		if err != nil || got != dir {
			t.Fatalf("got %q, %v", got, err)
		}
		if _, err := resolveModelDir(root, "", nil, &bytes.Buffer{}); err == nil {
			t.Fatal("expected error for a directory without config.json")
		}
	})

	t.Run("single model is chosen", func(t *testing.T) {
		root := t.TempDir()
		dir := mkModel(t, root, "only")
		var stderr bytes.Buffer
		got, err := resolveModelDir("", root, nil, &stderr)
		if err != nil || got != dir {
			t.Fatalf("got %q, %v", got, err)
		}
		if !strings.Contains(stderr.String(), "using model") {
			t.Fatalf("expected a notice on stderr, got %q", stderr.String())
		}
	})

	t.Run("env models dir", func(t *testing.T) {
		root := t.TempDir()
		dir := mkModel(t, root, "only")
		t.Setenv(envModelsDir, root)
		got, err := resolveModelDir("", "", nil, &bytes.Buffer{})
		if err != nil || got != dir {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("interactive selection", func(t *testing.T) {
		root := t.TempDir()
		mkModel(t, root, "a")
		b := mkModel(t, root, "b")
		old := stdinIsTTY
		stdinIsTTY = func() bool { return true }
		defer func() { stdinIsTTY = old }()

		got, err := resolveModelDir("", root, strings.NewReader("9\n2\n"), &bytes.Buffer{})
		if err != nil || got != b {
			t.Fatalf("got %q, %v", got, err)
		}
	})

	t.Run("non-interactive ambiguity fails", func(t *testing.T) {
		root := t.TempDir()
		mkModel(t, root, "a")
		mkModel(t, root, "b")
		old := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = old }()

		if _, err := resolveModelDir("", root, strings.NewReader(""), &bytes.Buffer{}); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestOutputPaths(t *testing.T) {
	svg, png := outputPaths("out", "cat")
	if svg != filepath.Join("out", "example-cat.svg") || png != filepath.Join("out", "example-cat.png") {
		t.Fatalf("got %q %q", svg, png)
	}
	svg, _ = outputPaths(".", "")
	if svg != "example.svg" {
		t.Fatalf("got %q", svg)
	}
}

func TestOutputTagDefaultsToModelDir(t *testing.T) {
	cases := []struct {
		tag, dir, want string
	}{
		{"", filepath.Join("models", "starvector-1b-im2svg"), "starvector-1b-im2svg"},
		{"", filepath.Join("models", "tiny") + string(filepath.Separator), "tiny"},
		{"  cat ", filepath.Join("models", "tiny"), "cat"},
		{"", "", ""},
	}
	for _, tc := range cases {
		if got := outputTag(tc.tag, tc.dir); got != tc.want {
			t.Fatalf("outputTag(%q, %q) = %q, want %q", tc.tag, tc.dir, got, tc.want)
		}
	}

	svg, png := outputPaths("out", outputTag("", filepath.Join("models", "tiny")))
	if svg != filepath.Join("out", "example-tiny.svg") || png != filepath.Join("out", "example-tiny.png") {
		t.Fatalf("got %q %q", svg, png)
	}
}
