package app

import (
	"bytes"
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/cytolabs/dcpipe/internal/domain"
	"github.com/cytolabs/dcpipe/pkg/feat"
	"github.com/cytolabs/dcpipe/pkg/log"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

// extractor is the per-worker state: each worker owns its chunk
// caches so cache access needs no locking.
type extractor struct {
	p    *Pipeline
	img  *stack.ChunkCache
	corr *stack.CorrectedCache
	id   int
}

// runWorker consumes work items until the coordinator closes the
// channel. Every item, including failed ones, counts toward the
// extraction barrier so the coordinator can never stall on a crashed
// frame.
func (p *Pipeline) runWorker(ctx context.Context, id int) {
	img, corr := p.newImageCaches()
	e := &extractor{p: p, img: img, corr: corr, id: id}
	for {
		select {
		case item, ok := <-p.workCh:
			if !ok {
				return
			}
			e.process(item)
			p.monitor.Add(1)
		case <-ctx.Done():
			return
		}
	}
}

// process shields the pipeline from a single bad frame: a panic or
// error is logged and the frame's event-count entry keeps its -1
// sentinel.
func (e *extractor) process(item domain.WorkItem) {
	defer func() {
		if r := recover(); r != nil {
			e.p.logger.Error("extraction worker recovered",
				log.Int("worker", e.id),
				log.Int("frame", item.Frame),
				log.Any("panic", r),
				log.String("stack", string(debug.Stack())),
			)
		}
	}()
	if err := e.extract(item); err != nil {
		e.p.logger.Error("frame extraction failed",
			log.Int("worker", e.id),
			log.Int("frame", item.Frame),
			log.Err(err),
		)
	}
}

func (e *extractor) extract(item domain.WorkItem) error {
	p := e.p

	raw, err := e.img.Get(item.Frame)
	if err != nil {
		return fmt.Errorf("raw frame: %w", err)
	}
	// A frame bit-identical to its predecessor is a sensor duplicate;
	// its events were already recorded for the earlier frame.
	if item.Frame > 0 {
		prev, err := e.img.Get(item.Frame - 1)
		if err != nil {
			return fmt.Errorf("previous frame: %w", err)
		}
		if bytes.Equal(raw, prev) {
			e.publish(item.Frame, domain.EventBatch{Frame: item.Frame})
			return nil
		}
	}

	corrFrame, err := e.corr.Get(item.Frame)
	if err != nil {
		return fmt.Errorf("corrected frame: %w", err)
	}

	npix := p.height * p.width
	masks := make([][]bool, 0, item.NumLabels)
	for l := int16(1); int(l) <= item.NumLabels; l++ {
		mask := make([]bool, npix)
		sum := 0
		for i, v := range item.Labels {
			if v == l {
				mask[i] = true
				sum++
			}
		}
		if sum == 0 || !p.gate.GateMask(mask, sum) {
			continue
		}
		masks = append(masks, mask)
	}
	if len(masks) == 0 {
		e.publish(item.Frame, domain.EventBatch{Frame: item.Frame})
		return nil
	}

	events := feat.MomentsBasedFeatures(masks, p.height, p.width, p.cfg.PixelSize)
	if p.cfg.Brightness {
		for name, col := range feat.BrightnessFeatures(masks, raw, corrFrame) {
			events[name] = col
		}
	}
	if p.cfg.Haralick {
		for name, col := range feat.HaralickTextureFeatures(masks, corrFrame, p.height, p.width) {
			events[name] = col
		}
	}

	// Box gating first, then invalid-mask removal; the counter only
	// sees events that made it through the box gates.
	keep := p.gate.GateEvents(events)
	valid := events["valid"]
	invalid := int64(0)
	kept := 0
	for i := range keep {
		if keep[i] && valid[i] == 0 {
			invalid++
			keep[i] = false
		}
		if keep[i] {
			kept++
		}
	}
	if invalid > 0 {
		p.invalid.Add(invalid)
	}
	delete(events, "valid")

	e.publish(item.Frame, domain.EventBatch{
		Frame:    item.Frame,
		Count:    kept,
		Features: filterColumns(events, keep, kept),
	})
	return nil
}

// publish records the frame's event count and hands the batch to the
// writer. The send may block; the writer drains the channel until the
// worker pool exits, so this cannot deadlock.
func (e *extractor) publish(frame int, b domain.EventBatch) {
	atomic.StoreInt64(&e.p.nevents[frame], int64(b.Count))
	e.p.eventCh <- b
}

// filterColumns keeps only the rows flagged in keep.
func filterColumns(events map[string][]float64, keep []bool, kept int) map[string][]float64 {
	out := make(map[string][]float64, len(events))
	for name, col := range events {
		f := make([]float64, 0, kept)
		for i, v := range col {
			if keep[i] {
				f = append(f, v)
			}
		}
		out[name] = f
	}
	return out
}
