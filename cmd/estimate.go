package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/frame"
	"github.com/cwbudde/grainfit/internal/model"
)

var (
	sourcePath   string
	denoisedPath string
	outPath      string
	startTime    uint64
	endTime      uint64
	arLag        int
	fallback     string
	bitDepth     int
	monochrome   bool
	blockSize    int
	randomSeed   uint16
	workers      int
	optIters     int
	optPop       int
	appendTable  bool
	jsonOutput   bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate film grain parameters for a frame pair",
	Long: `Compares a grainy source frame with its denoised version and writes the
fitted grain parameters as a film grain table. Use --out - to write the
table to stdout.`,
	RunE: runEstimate,
}

func init() {
	defaults := estimate.DefaultConfig()

	estimateCmd.Flags().StringVar(&sourcePath, "source", "", "Grainy source frame (required)")
	estimateCmd.Flags().StringVar(&denoisedPath, "denoised", "", "Denoised frame (required)")
	estimateCmd.Flags().StringVar(&outPath, "out", "grain.tbl", "Output table path, - for stdout")
	estimateCmd.Flags().Uint64Var(&startTime, "start", defaults.StartTime, "Segment start time in 10 MHz ticks")
	estimateCmd.Flags().Uint64Var(&endTime, "end", defaults.EndTime, "Segment end time in 10 MHz ticks")
	estimateCmd.Flags().IntVar(&arLag, "lag", defaults.ARLag, "AR filter lag (0-3)")
	estimateCmd.Flags().StringVar(&fallback, "fallback", string(defaults.Fallback), "Singular system fallback: zero, optimizer")
	estimateCmd.Flags().IntVar(&bitDepth, "bit-depth", 0, "Significant bits of 16-bit inputs (9-16, 0 = 16)")
	estimateCmd.Flags().BoolVar(&monochrome, "mono", false, "Estimate luma only")
	estimateCmd.Flags().IntVar(&blockSize, "block-size", defaults.BlockSize, "Analysis block size in samples")
	estimateCmd.Flags().Uint16Var(&randomSeed, "seed", defaults.RandomSeed, "Grain synthesis random seed")
	estimateCmd.Flags().IntVar(&workers, "workers", 0, "Block measurement workers (0 = NumCPU)")
	estimateCmd.Flags().IntVar(&optIters, "iters", defaults.OptimizerIters, "Optimizer fallback iterations")
	estimateCmd.Flags().IntVar(&optPop, "pop", defaults.OptimizerPop, "Optimizer fallback population size")
	estimateCmd.Flags().BoolVar(&appendTable, "append", false, "Add the segment to an existing table at --out")
	estimateCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the estimation result as JSON")

	estimateCmd.MarkFlagRequired("source")
	estimateCmd.MarkFlagRequired("denoised")
	rootCmd.AddCommand(estimateCmd)
}

func estimateConfigFromFlags() estimate.Config {
	cfg := estimate.DefaultConfig()
	cfg.StartTime = startTime
	cfg.EndTime = endTime
	cfg.ARLag = arLag
	cfg.Fallback = estimate.Fallback(fallback)
	cfg.MonochromeOnly = monochrome
	cfg.BlockSize = blockSize
	cfg.RandomSeed = randomSeed
	cfg.Workers = workers
	cfg.OptimizerIters = optIters
	cfg.OptimizerPop = optPop
	return cfg
}

func runEstimate(cmd *cobra.Command, args []string) error {
	cfg := estimateConfigFromFlags()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if appendTable && outPath == "-" {
		return fmt.Errorf("--append needs a table file for --out")
	}

	opts := frame.LoadOptions{BitDepth: bitDepth, Monochrome: monochrome}
	source, err := frame.Load(sourcePath, opts)
	if err != nil {
		return fmt.Errorf("failed to load source: %w", err)
	}
	denoised, err := frame.Load(denoisedPath, opts)
	if err != nil {
		return fmt.Errorf("failed to load denoised: %w", err)
	}
	slog.Info("Loaded frames", "width", source.Width(), "height", source.Height(), "monochrome", source.Monochrome())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	res, err := estimate.Estimate(ctx, source, denoised, cfg)
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("estimation interrupted")
	}
	if err != nil {
		return err
	}

	segs := []model.Segment{*res.Segment}
	if appendTable {
		existing, err := readTable(outPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		segs = mergeSegments(existing, *res.Segment)
	}

	var buf bytes.Buffer
	if err := model.WriteTable(&buf, segs); err != nil {
		return fmt.Errorf("failed to write table: %w", err)
	}

	// The report goes to stderr when stdout carries the table.
	report := cmd.OutOrStdout()
	if outPath == "-" {
		if _, err := cmd.OutOrStdout().Write(buf.Bytes()); err != nil {
			return err
		}
		report = cmd.ErrOrStderr()
	} else if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	if jsonOutput {
		enc := json.NewEncoder(report)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if outPath != "-" {
		fmt.Fprintf(report, "Wrote %s (%d segment(s), %s)\n", outPath, len(segs), res.Elapsed.Round(time.Millisecond))
	}
	return printPlaneReports(report, res.Planes)
}

func readTable(path string) ([]model.Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	segs, err := model.ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return segs, nil
}

// mergeSegments adds seg to segs, replacing a segment with the same start
// time, and keeps the result ordered by start time.
func mergeSegments(segs []model.Segment, seg model.Segment) []model.Segment {
	out := make([]model.Segment, 0, len(segs)+1)
	for _, s := range segs {
		if s.StartTime != seg.StartTime {
			out = append(out, s)
		}
	}
	out = append(out, seg)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out
}

func printPlaneReports(w io.Writer, reports []estimate.PlaneReport) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PLANE\tBLOCKS\tFLAT\tSAMPLES\tPOINTS\tSOLVED\tCORRELATION\tGAIN")
	for _, r := range reports {
		flat := fmt.Sprintf("%d", r.FlatBlocks)
		if r.AllBlocks {
			flat = "all"
		}
		solved := "yes"
		if !r.Solved {
			solved = "no (" + string(r.Fallback) + ")"
		}
		corr := "-"
		if r.CorrelationDefined {
			corr = fmt.Sprintf("%.3f", r.Correlation)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%d\t%d\t%s\t%s\t%.3f\n",
			r.Plane, r.Blocks, flat, r.Samples, r.Points, solved, corr, r.ARGain)
	}
	return tw.Flush()
}
