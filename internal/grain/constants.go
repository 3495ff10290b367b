package grain

// BlockSize is the default edge length of the square blocks used for
// scaling-curve statistics.
const BlockSize = 32

// Capacity limits shared with the grain model.
const (
	NumYPoints  = 14 // max luma scaling points
	NumUVPoints = 10 // max scaling points per chroma plane
	NumYCoeffs  = 24 // max luma AR coefficients (lag 3)
	NumUVCoeffs = 25 // max chroma AR coefficients (lag 3 plus the luma slot)
)

// MaxARLag is the largest supported autoregressive lag.
const MaxARLag = 3

// DefaultGrainSeed is the constant starting seed written into estimated
// segments so that encodes stay reproducible.
const DefaultGrainSeed uint16 = 10956

// epsilon is the float64 machine epsilon (2^-52).
const epsilon = 2.220446049250313e-16
