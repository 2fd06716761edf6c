// Package gate implements the accept predicates that reject invalid or
// out-of-range detected objects: a mask-level size gate applied while
// masks are extracted, and optional feature-level box gates applied
// over whole event batches.
package gate

import (
	"sort"

	"github.com/cytolabs/dcpipe/pkg/ppid"
)

// DefaultSizeThreshMask is the minimum pixel count (exclusive) for a
// mask to pass the mask gate.
const DefaultSizeThreshMask = 10

// Box is one feature-level gate: events with the named feature outside
// [Min, Max] are dropped.
type Box struct {
	Feature string
	Min     float64
	Max     float64
}

// Gate holds the configured gating rules for one pipeline run.
type Gate struct {
	sizeThreshMask int
	onlineGates    bool
	boxes          []Box
}

// Option configures a Gate.
type Option func(*Gate)

// WithSizeThreshMask sets the mask-gate pixel threshold.
func WithSizeThreshMask(n int) Option {
	return func(g *Gate) { g.sizeThreshMask = n }
}

// WithBoxGates enables feature-level gating with the given bounds.
func WithBoxGates(boxes []Box) Option {
	return func(g *Gate) {
		g.onlineGates = len(boxes) > 0
		g.boxes = boxes
	}
}

// New creates a Gate with the default size threshold and no box gates.
func New(opts ...Option) *Gate {
	g := &Gate{sizeThreshMask: DefaultSizeThreshMask}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GateMask is the object-level accept test: a mask passes when its
// pixel count exceeds the size threshold.
func (g *Gate) GateMask(mask []bool, maskSum int) bool {
	return maskSum > g.sizeThreshMask
}

// HasBoxGates reports whether any feature-level gates are configured.
func (g *Gate) HasBoxGates() bool { return len(g.boxes) > 0 }

// GateEvents evaluates the box gates over an entire batch and returns
// one keep flag per event. Events missing a gated feature column keep
// their flag (only configured, present features can reject).
func (g *Gate) GateEvents(events map[string][]float64) []bool {
	n := batchSize(events)
	keep := make([]bool, n)
	for i := range keep {
		keep[i] = true
	}
	for _, box := range g.boxes {
		col, ok := events[box.Feature]
		if !ok {
			continue
		}
		for i, v := range col {
			if v < box.Min || v > box.Max {
				keep[i] = false
			}
		}
	}
	return keep
}

// Boxes returns the configured box gates ordered by feature name.
func (g *Gate) Boxes() []Box {
	out := make([]Box, len(g.boxes))
	copy(out, g.boxes)
	sort.Slice(out, func(i, j int) bool { return out[i].Feature < out[j].Feature })
	return out
}

func batchSize(events map[string][]float64) int {
	for _, col := range events {
		return len(col)
	}
	return 0
}

// stage describes the gate for pipeline-identifier purposes.
var stage = ppid.NewStage("norm", []ppid.Param{
	{Name: "online_gates", Default: false},
	{Name: "size_thresh_mask", Default: DefaultSizeThreshMask},
})

// ID returns the gate's pipeline identifier, e.g. "norm:o=0^s=10".
func (g *Gate) ID() string {
	id, err := stage.Encode(map[string]interface{}{
		"online_gates":     g.onlineGates,
		"size_thresh_mask": g.sizeThreshMask,
	})
	if err != nil {
		// Both parameters are declared above; Encode cannot fail.
		panic(err)
	}
	return id
}

// Stage exposes the gate's ppid stage descriptor for decoding.
func Stage() ppid.Stage { return stage }
