package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cwbudde/grainfit/internal/model"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <table>",
	Short: "Print the segments of a film grain table",
	Long: `Parses a film grain table, validates every segment and prints its
time span, scaling curves and AR coefficients.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print segments as JSON")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	segs, err := readTable(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if inspectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(segs)
	}

	fmt.Fprintf(out, "%s: %d segment(s)\n", args[0], len(segs))
	invalid := 0
	for i := range segs {
		if err := segs[i].Validate(); err != nil {
			invalid++
			fmt.Fprintf(out, "\nSegment %d: INVALID: %v\n", i, err)
		}
		printSegment(out, i, &segs[i])
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d segment(s) invalid", invalid, len(segs))
	}
	return nil
}

func printSegment(w io.Writer, i int, s *model.Segment) {
	fmt.Fprintf(w, "\nSegment %d: [%d, %d) seed %d\n", i, s.StartTime, s.EndTime, s.RandomSeed)
	fmt.Fprintf(w, "  AR lag %d, coeff shift %d, scaling shift %d, grain scale shift %d\n",
		s.ARCoeffLag, s.ARCoeffShift, s.ScalingShift, s.GrainScaleShift)
	fmt.Fprintf(w, "  overlap %t, chroma scaling from luma %t\n", s.OverlapFlag, s.ChromaScalingFromLuma)

	planes := []struct {
		name   string
		points []model.ScalingPoint
		coeffs []int8
	}{
		{"Y", s.ScalingPointsY, s.ARCoeffsY},
		{"Cb", s.ScalingPointsCb, s.ARCoeffsCb},
		{"Cr", s.ScalingPointsCr, s.ARCoeffsCr},
	}
	for _, p := range planes {
		fmt.Fprintf(w, "  %-2s scaling: %s\n", p.name, formatPoints(p.points))
		if len(p.coeffs) > 0 {
			fmt.Fprintf(w, "     coeffs:  %v\n", p.coeffs)
		}
	}
	fmt.Fprintf(w, "  Cb mult %d luma %d offset %d, Cr mult %d luma %d offset %d\n",
		s.CbMult, s.CbLumaMult, s.CbOffset, s.CrMult, s.CrLumaMult, s.CrOffset)
}

func formatPoints(pts []model.ScalingPoint) string {
	if len(pts) == 0 {
		return "none"
	}
	parts := make([]string, len(pts))
	for i, p := range pts {
		parts[i] = fmt.Sprintf("%d:%d", p.Value, p.Scaling)
	}
	return strings.Join(parts, " ")
}
