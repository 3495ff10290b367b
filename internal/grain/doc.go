// Package grain implements the numeric core of film-grain parameter estimation.
//
// Given a noisy source plane and its denoised counterpart, the kernels in this
// package compute the block statistics that define a scaling curve and the
// regression rows that define an autoregressive grain model:
//
//   - BlockMean, NoiseVariance:  per-block (mean, variance) pairs
//   - ExtractARRow:              one design-matrix row of lagged residuals
//   - MultiplyMat, Transpose:    normal-equation assembly
//   - Linsolve:                  partial-pivot Gaussian elimination
//   - NormalizedCrossCorrelation: fit quality score
//
// All kernels are synchronous and allocation-free. Planes and coordinate sets
// are read-only and may be shared between goroutines; output buffers must not
// be shared between concurrent calls.
//
// Precondition checks on hot paths (ExtractARRow coordinate bounds) are only
// compiled in with the grain_debug build tag. Buffer sizing checks on
// MultiplyMat and Linsolve are always on and panic on violation.
package grain
