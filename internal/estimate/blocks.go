package estimate

import (
	"context"
	"sync"

	"github.com/cwbudde/grainfit/internal/grain"
)

// measureBlocks computes BlockStats for every blockSize tile of the pair.
// Each goroutine owns one block row and writes only its own slots.
func measureBlocks(ctx context.Context, pair grain.PlanePair, blockSize, workers int) ([]grain.BlockStats, error) {
	w, h := pair.Source.Width, pair.Source.Height
	cols := (w + blockSize - 1) / blockSize
	rows := (h + blockSize - 1) / blockSize
	stats := make([]grain.BlockStats, rows*cols)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for r := 0; r < rows; r++ {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(r int) {
			defer func() { <-sem; wg.Done() }()
			out := stats[r*cols : (r+1)*cols]
			for c := range out {
				// Tiles inside the plane are never empty.
				out[c], _ = grain.MeasureBlock(pair, c*blockSize, r*blockSize, blockSize, blockSize)
			}
		}(r)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}

// selectFlat returns the blocks whose denoised texture is below threshold,
// or all blocks when none is.
func selectFlat(stats []grain.BlockStats, threshold float64) (flat []grain.BlockStats, all bool) {
	for _, s := range stats {
		if s.Texture < threshold {
			flat = append(flat, s)
		}
	}
	if len(flat) == 0 {
		return stats, true
	}
	return flat, false
}
