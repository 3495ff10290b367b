package grain

// clipBlock clamps a blockW×blockH block at (x0, y0) to the plane. Origins at
// or past the edge give an empty block.
func clipBlock(p *Plane, x0, y0, blockW, blockH int) (w, h int) {
	w = min(blockW, p.Width-x0)
	h = min(blockH, p.Height-y0)
	if x0 < 0 || y0 < 0 || w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}

// BlockMean returns the mean source sample of the blockW×blockH block at
// (x0, y0), clipped to the plane. ok is false when the clipped block is empty;
// the mean is then 0.
func BlockMean(source *Plane, x0, y0, blockW, blockH int) (mean float64, ok bool) {
	w, h := clipBlock(source, x0, y0, blockW, blockH)
	if w == 0 {
		return 0, false
	}

	var sum uint64
	for y := 0; y < h; y++ {
		off := (y0+y)*source.Stride + x0
		for _, v := range source.Data[off : off+w] {
			sum += uint64(v)
		}
	}
	return float64(sum) / float64(w*h), true
}

// NoiseVariance returns the population variance of source minus denoised
// over the clipped block: mean(n²) − mean(n)². ok is false when the clipped
// block is empty; the variance is then 0.
func NoiseVariance(source, denoised *Plane, x0, y0, blockW, blockH int) (variance float64, ok bool) {
	w, h := clipBlock(source, x0, y0, blockW, blockH)
	if w == 0 {
		return 0, false
	}

	var sqSum uint64
	var sum int64
	stride := source.Stride
	for y := 0; y < h; y++ {
		off := (y0+y)*stride + x0
		s := source.Data[off : off+w]
		d := denoised.Data[off : off+w]
		for i, v := range s {
			n := int64(v) - int64(d[i])
			sum += n
			sqSum += uint64(n * n)
		}
	}

	area := float64(w * h)
	mean := float64(sum) / area
	return mulAdd(mean, -mean, float64(sqSum)/area), true
}

// BlockVariance returns the population variance of the samples themselves
// over the clipped block. It measures texture and is used to select flat
// blocks for curve fitting.
func BlockVariance(p *Plane, x0, y0, blockW, blockH int) (variance float64, ok bool) {
	w, h := clipBlock(p, x0, y0, blockW, blockH)
	if w == 0 {
		return 0, false
	}

	var sqSum, sum uint64
	for y := 0; y < h; y++ {
		off := (y0+y)*p.Stride + x0
		for _, v := range p.Data[off : off+w] {
			sum += uint64(v)
			sqSum += uint64(v) * uint64(v)
		}
	}

	area := float64(w * h)
	mean := float64(sum) / area
	return mulAdd(mean, -mean, float64(sqSum)/area), true
}

// BlockStats is the (mean, noise variance) pair of one block.
type BlockStats struct {
	X, Y     int
	Mean     float64
	Variance float64
	Texture  float64
}

// MeasureBlock computes BlockStats for the block at (x0, y0). Texture is the
// sample variance of the denoised plane.
func MeasureBlock(pair PlanePair, x0, y0, blockW, blockH int) (BlockStats, bool) {
	mean, ok := BlockMean(pair.Source, x0, y0, blockW, blockH)
	if !ok {
		return BlockStats{}, false
	}
	variance, _ := NoiseVariance(pair.Source, pair.Denoised, x0, y0, blockW, blockH)
	texture, _ := BlockVariance(pair.Denoised, x0, y0, blockW, blockH)
	return BlockStats{X: x0, Y: y0, Mean: mean, Variance: variance, Texture: texture}, true
}
