package compute

import (
	"context"
	"image"
	"math"
	"sync"

	"go.viam.com/utils"
)

// ForEachPixel runs f for every (x, y) in a width x height domain, splitting
// the domain into per-worker column blocks. Cancellation is coarse: a
// canceled ctx stops new blocks from being visited, blocks already running
// finish, and ctx.Err() is returned.
func (c *Context) ForEachPixel(ctx context.Context, size image.Point, f func(x, y int)) error {
	workers := c.Workers()
	if workers > size.X {
		workers = size.X
	}
	if workers < 1 {
		workers = 1
	}
	var wait sync.WaitGroup
	wait.Add(workers)
	for i := 0; i < workers; i++ {
		startX := i * int(math.Floor(float64(size.X)/float64(workers)))
		endX := (i + 1) * int(math.Floor(float64(size.X)/float64(workers)))
		if i == workers-1 {
			endX = size.X
		}
		sX, eX := startX, endX
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			for x := sX; x < eX; x++ {
				if ctx.Err() != nil {
					return
				}
				for y := 0; y < size.Y; y++ {
					f(x, y)
				}
			}
		})
	}
	wait.Wait()
	return ctx.Err()
}

// GroupWork splits [0, totalSize) into one contiguous range per worker and
// runs work(from, to) for each on its own goroutine. Used for kernel domains
// that are not pixel grids (e.g. the columns of one aggregation slice).
func (c *Context) GroupWork(ctx context.Context, totalSize int, work func(from, to int)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	workers := c.Workers()
	if workers > totalSize {
		workers = totalSize
	}
	if workers < 1 {
		workers = 1
	}
	groupSize := totalSize / workers
	extra := totalSize % workers

	var wait sync.WaitGroup
	wait.Add(workers)
	for groupNum := 0; groupNum < workers; groupNum++ {
		from := groupSize * groupNum
		to := groupSize * (groupNum + 1)
		if groupNum == workers-1 {
			to += extra
		}
		fromCopy, toCopy := from, to
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			work(fromCopy, toCopy)
		})
	}
	wait.Wait()
	return ctx.Err()
}
