package grain

import (
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sys/cpu"
)

// FMABackend indicates how the CPU evaluates the fused multiply-adds of the
// accumulation kernels. Results are identical on both; only speed differs.
type FMABackend int

const (
	FMABackendSoftware FMABackend = iota // math.FMA emulated in software
	FMABackendHardware                   // math.FMA lowered to an FMA instruction
)

func (b FMABackend) String() string {
	switch b {
	case FMABackendHardware:
		return "hardware"
	case FMABackendSoftware:
		return "software"
	default:
		return "unknown"
	}
}

// ActiveFMABackend reports the capability detected at initialization.
var ActiveFMABackend = detectFMABackend()

// detectFMABackend checks the CPU for fused multiply-add. arm64, ppc64 and
// s390x have it in the base instruction set.
func detectFMABackend() FMABackend {
	switch runtime.GOARCH {
	case "arm64", "ppc64", "ppc64le", "s390x":
		return FMABackendHardware
	case "amd64", "386":
		if cpu.X86.HasFMA {
			return FMABackendHardware
		}
	}
	return FMABackendSoftware
}

func init() {
	slog.Debug("grain kernels initialized", "fma", ActiveFMABackend.String(), "arch", runtime.GOARCH)
}

// mulAdd computes a*b + c with a single rounding.
func mulAdd(a, b, c float64) float64 {
	return math.FMA(a, b, c)
}
