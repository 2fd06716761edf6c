package background

import (
	"context"
	"fmt"

	"github.com/cytolabs/dcpipe/pkg/barrier"
)

// blockPixels is the number of pixel columns per median job. The value
// keeps per-job overhead small without starving the pool on typical
// frame sizes.
const blockPixels = 500

// medianPool is a fixed set of workers computing blockwise pixel
// medians over a shared input window. The input and output buffers are
// reused across steps; only one step may be in flight at a time.
type medianPool struct {
	kernel int
	npix   int

	input  []uint8 // kernel * npix, written by the coordinator per step
	output []uint8 // npix

	jobs chan [2]int // [start, stop) pixel block
	done *barrier.Counter
	stop context.CancelFunc
}

// newMedianPool starts numWorkers goroutines over shared buffers sized
// for kernel frames of npix pixels.
func newMedianPool(ctx context.Context, numWorkers, kernel, npix int) (*medianPool, error) {
	if numWorkers <= 0 {
		return nil, fmt.Errorf("background: need at least one median worker")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p := &medianPool{
		kernel: kernel,
		npix:   npix,
		input:  make([]uint8, kernel*npix),
		output: make([]uint8, npix),
		jobs:   make(chan [2]int, (npix+blockPixels-1)/blockPixels),
		done:   barrier.NewCounter(),
		stop:   cancel,
	}
	for i := 0; i < numWorkers; i++ {
		go p.worker(workerCtx)
	}
	return p, nil
}

func (p *medianPool) close() { p.stop() }

// worker drains block jobs until the pool is closed.
func (p *medianPool) worker(ctx context.Context) {
	scratch := make([]uint8, p.kernel)
	for {
		select {
		case <-ctx.Done():
			return
		case blk := <-p.jobs:
			p.medianBlock(blk[0], blk[1], scratch)
			p.done.Add(1)
		}
	}
}

// medianBlock fills output[start:stop] with the per-pixel median of
// the input window. The median is the kernel/2-th order statistic
// (upper median for even kernels); for 8-bit grayscale data the one
// value difference to the interpolated median does not matter.
func (p *medianPool) medianBlock(start, stop int, scratch []uint8) {
	kth := p.kernel / 2
	for px := start; px < stop; px++ {
		for k := 0; k < p.kernel; k++ {
			scratch[k] = p.input[k*p.npix+px]
		}
		p.output[px] = selectKth(scratch, kth)
	}
}

// median computes the pixelwise median of frames (kernel*npix values)
// and returns the shared output buffer, valid until the next call.
// The caller blocks on the pool's barrier until every block is done.
func (p *medianPool) median(ctx context.Context, frames []uint8) ([]uint8, error) {
	if len(frames) != p.kernel*p.npix {
		return nil, fmt.Errorf("background: window has %d values, want %d",
			len(frames), p.kernel*p.npix)
	}
	copy(p.input, frames)

	p.done.Reset()
	numJobs := int64(0)
	for start := 0; start < p.npix; start += blockPixels {
		stop := start + blockPixels
		if stop > p.npix {
			stop = p.npix
		}
		p.jobs <- [2]int{start, stop}
		numJobs++
	}
	if err := p.done.Wait(ctx, numJobs); err != nil {
		return nil, err
	}
	return p.output, nil
}

// selectKth returns the k-th smallest element of buf, reordering buf.
func selectKth(buf []uint8, k int) uint8 {
	lo, hi := 0, len(buf)-1
	for lo < hi {
		pivot := buf[(lo+hi)/2]
		i, j := lo, hi
		for i <= j {
			for buf[i] < pivot {
				i++
			}
			for buf[j] > pivot {
				j--
			}
			if i <= j {
				buf[i], buf[j] = buf[j], buf[i]
				i++
				j--
			}
		}
		if k <= j {
			hi = j
		} else if k >= i {
			lo = i
		} else {
			break
		}
	}
	return buf[k]
}
