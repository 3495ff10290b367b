package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with args after restoring every flag to its
// default, and returns what the command wrote to stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// writeGrayPair writes a flat gray frame and a copy with Gaussian grain.
func writeGrayPair(t *testing.T, dir string, std float64) (string, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(3))
	clean := image.NewGray(image.Rect(0, 0, 64, 64))
	grainy := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range clean.Pix {
		clean.Pix[i] = 120
		v := 120 + rng.NormFloat64()*std
		grainy.Pix[i] = uint8(min(max(v+0.5, 0), 255))
	}
	src := filepath.Join(dir, "grainy.png")
	den := filepath.Join(dir, "clean.png")
	writePNG(t, src, grainy)
	writePNG(t, den, clean)
	return src, den
}

// writeColorPair writes RGB frames whose channels carry independent grain.
func writeColorPair(t *testing.T, dir string) (string, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(4))
	clean := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	grainy := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	noisy := func(v float64) uint8 {
		return uint8(min(max(v+rng.NormFloat64()*4+0.5, 0), 255))
	}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			clean.SetNRGBA(x, y, color.NRGBA{100, 140, 120, 255})
			grainy.SetNRGBA(x, y, color.NRGBA{noisy(100), noisy(140), noisy(120), 255})
		}
	}
	src := filepath.Join(dir, "grainy_rgb.png")
	den := filepath.Join(dir, "clean_rgb.png")
	writePNG(t, src, grainy)
	writePNG(t, den, clean)
	return src, den
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}
