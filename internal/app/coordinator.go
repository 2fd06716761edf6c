package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cytolabs/dcpipe/internal/domain"
	"github.com/cytolabs/dcpipe/pkg/log"
)

// runSegmenter is the producer loop: it walks the input chunk by
// chunk, labels every frame, and deposits the labeled chunk into a
// free slot.
func (p *Pipeline) runSegmenter(ctx context.Context) error {
	img, corr := p.newImageCaches()
	npix := p.height * p.width

	next := img.Chunks()
	for {
		chunk, ok := next()
		if !ok {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		nframes, err := img.ChunkSizeAt(chunk)
		if err != nil {
			return err
		}
		s, err := p.slots.acquireFree(ctx)
		if err != nil {
			return err
		}
		base := chunk * p.cfg.ChunkSize
		for f := 0; f < nframes; f++ {
			frame, err := corr.Get(base + f)
			if err != nil {
				return fmt.Errorf("segmenter chunk %d frame %d: %w", chunk, f, err)
			}
			s.counts[f] = p.seg.SegmentFrame(frame, s.labels[f*npix:(f+1)*npix])
		}
		p.slots.deposit(s, chunk, nframes)
		p.logger.Debug("chunk segmented",
			log.Int("chunk", chunk),
			log.Int("frames", nframes),
		)
	}
	p.logger.Info("segmenter finished", log.Int("chunks", img.NumChunks()))
	return nil
}

// runCoordinator is the consumer-side driver: it claims labeled slots
// in round-robin order, distributes one work item per frame, and
// returns each slot to the segmenter once the worker pool has
// processed every frame of the chunk.
func (p *Pipeline) runCoordinator(ctx context.Context) error {
	defer close(p.workCh)

	numChunks := (p.count + p.cfg.ChunkSize - 1) / p.cfg.ChunkSize
	npix := p.height * p.width

	var expected int64
	for done := 0; done < numChunks; done++ {
		if err := p.stallOnBackpressure(ctx); err != nil {
			return err
		}

		s, err := p.slots.claim(ctx)
		if err != nil {
			return err
		}

		// The slot goes back to the segmenter before extraction is
		// done, so the labels are staged in the arena. The barrier
		// below keeps the arena stable until the chunk is drained.
		copy(p.arena[:s.nframes*npix], s.labels[:s.nframes*npix])
		base := s.chunk * p.cfg.ChunkSize
		for f := 0; f < s.nframes; f++ {
			item := domain.WorkItem{
				Chunk:     s.chunk,
				Index:     f,
				Frame:     base + f,
				Labels:    p.arena[f*npix : (f+1)*npix],
				NumLabels: s.counts[f],
			}
			select {
			case p.workCh <- item:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		expected += int64(s.nframes)
		if err := p.monitor.Wait(ctx, expected); err != nil {
			return err
		}
		p.slots.release(s)
	}

	p.reportInvalid(expected)
	return nil
}

// stallOnBackpressure applies the linear stall policy: a writer queue
// deeper than backpressureDepth delays the next chunk by
// depth/backpressureDepth seconds.
func (p *Pipeline) stallOnBackpressure(ctx context.Context) error {
	depth := len(p.eventCh)
	if depth <= backpressureDepth {
		return nil
	}
	stall := time.Duration(float64(depth) / backpressureDepth * float64(time.Second))
	p.logger.Info("writer queue congested, stalling",
		log.Int("depth", depth),
		log.Duration("stall", stall),
	)
	t := time.NewTimer(stall)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reportInvalid logs the invalid-mask tally for the whole run.
func (p *Pipeline) reportInvalid(frames int64) {
	invalid := p.invalid.Load()
	frac := 0.0
	if frames > 0 {
		frac = float64(invalid) / float64(frames)
	}
	if frac > invalidWarnFraction {
		p.logger.Warn("unusually many invalid masks",
			log.Int("invalid", int(invalid)),
			log.Float64("fraction", frac),
		)
		return
	}
	p.logger.Info("extraction complete",
		log.Int("frames", int(frames)),
		log.Int("invalid_masks", int(invalid)),
	)
}
