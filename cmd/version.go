package main

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"github.com/cwbudde/grainfit/internal/grain"
	"github.com/cwbudde/grainfit/internal/model"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "grainfit version %s\n", version)
		fmt.Fprintf(out, "  table format: %s\n", model.TableFormat)
		fmt.Fprintf(out, "  max AR lag:   %d\n", grain.MaxARLag)
		fmt.Fprintf(out, "  fma:          %s (%s/%s)\n", grain.ActiveFMABackend, runtime.GOOS, runtime.GOARCH)
		if info, ok := debug.ReadBuildInfo(); ok {
			fmt.Fprintf(out, "  go:           %s\n", info.GoVersion)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
