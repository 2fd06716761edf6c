package segm

import (
	"fmt"

	"github.com/cytolabs/dcpipe/pkg/ppid"
)

// Defaults for the threshold segmenter.
const (
	DefaultThresh      = -6.0
	DefaultClosingDisk = 2
)

// Config holds the threshold segmenter parameters.
type Config struct {
	// Thresh is the threshold on background-corrected pixel values.
	// Must be negative: objects are darker than the background.
	Thresh float64

	// ClearBorder removes objects touching the frame border.
	ClearBorder bool

	// FillHoles fills enclosed holes in every mask.
	FillHoles bool

	// ClosingDisk is the radius of the disk structuring element used
	// for morphological closing. Zero disables closing.
	ClosingDisk int
}

// DefaultConfig returns the stock postprocessing configuration.
func DefaultConfig() Config {
	return Config{
		Thresh:      DefaultThresh,
		ClearBorder: true,
		FillHoles:   true,
		ClosingDisk: DefaultClosingDisk,
	}
}

// ThresholdSegmenter labels objects darker than the background. It is
// stateful only through its scratch buffers and must not be shared
// between goroutines.
type ThresholdSegmenter struct {
	cfg           Config
	height, width int

	mask    []bool
	scratch []bool
	queue   []int
	disk    [][2]int
}

// NewThreshold creates a segmenter for frames of the given shape.
func NewThreshold(height, width int, cfg Config) (*ThresholdSegmenter, error) {
	if cfg.Thresh >= 0 {
		return nil, fmt.Errorf("segm: threshold values above zero not supported (got %v)", cfg.Thresh)
	}
	if cfg.ClosingDisk < 0 {
		return nil, fmt.Errorf("segm: closing disk radius must be >= 0")
	}
	npix := height * width
	return &ThresholdSegmenter{
		cfg:     cfg,
		height:  height,
		width:   width,
		mask:    make([]bool, npix),
		scratch: make([]bool, npix),
		queue:   make([]int, 0, npix),
		disk:    diskOffsets(cfg.ClosingDisk),
	}, nil
}

// SegmentFrame computes the label image for one background-corrected
// frame and returns the number of labels. labels must hold
// height*width entries; label 0 is background.
func (s *ThresholdSegmenter) SegmentFrame(corr []int16, labels []int16) int {
	for i, v := range corr {
		s.mask[i] = float64(v) < s.cfg.Thresh
	}
	if s.cfg.ClosingDisk > 0 {
		s.closing()
	}
	if s.cfg.FillHoles {
		s.fillHoles()
	}
	if s.cfg.ClearBorder {
		s.clearBorder()
	}
	return s.label(labels)
}

// closing applies binary dilation followed by erosion with the disk
// structuring element. Pixels outside the frame count as background
// for dilation and as foreground for erosion, so objects touching the
// border are not eaten away.
func (s *ThresholdSegmenter) closing() {
	h, w := s.height, s.width
	for i := range s.scratch {
		s.scratch[i] = false
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !s.mask[y*w+x] {
				continue
			}
			for _, d := range s.disk {
				yy, xx := y+d[0], x+d[1]
				if yy >= 0 && yy < h && xx >= 0 && xx < w {
					s.scratch[yy*w+xx] = true
				}
			}
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			keep := true
			for _, d := range s.disk {
				yy, xx := y+d[0], x+d[1]
				if yy < 0 || yy >= h || xx < 0 || xx >= w {
					continue
				}
				if !s.scratch[yy*w+xx] {
					keep = false
					break
				}
			}
			s.mask[y*w+x] = keep
		}
	}
}

// fillHoles turns background regions not reachable from the frame
// border into foreground.
func (s *ThresholdSegmenter) fillHoles() {
	h, w := s.height, s.width
	for i := range s.scratch {
		s.scratch[i] = false
	}
	s.queue = s.queue[:0]
	push := func(i int) {
		if !s.mask[i] && !s.scratch[i] {
			s.scratch[i] = true
			s.queue = append(s.queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}
	// 4-connected flood of the outside background.
	for len(s.queue) > 0 {
		i := s.queue[len(s.queue)-1]
		s.queue = s.queue[:len(s.queue)-1]
		y, x := i/w, i%w
		if y > 0 {
			push(i - w)
		}
		if y < h-1 {
			push(i + w)
		}
		if x > 0 {
			push(i - 1)
		}
		if x < w-1 {
			push(i + 1)
		}
	}
	for i := range s.mask {
		if !s.mask[i] && !s.scratch[i] {
			s.mask[i] = true
		}
	}
}

// clearBorder removes foreground components touching the frame border.
func (s *ThresholdSegmenter) clearBorder() {
	h, w := s.height, s.width
	s.queue = s.queue[:0]
	push := func(i int) {
		if s.mask[i] {
			s.mask[i] = false
			s.queue = append(s.queue, i)
		}
	}
	for x := 0; x < w; x++ {
		push(x)
		push((h-1)*w + x)
	}
	for y := 0; y < h; y++ {
		push(y * w)
		push(y*w + w - 1)
	}
	for len(s.queue) > 0 {
		i := s.queue[len(s.queue)-1]
		s.queue = s.queue[:len(s.queue)-1]
		y, x := i/w, i%w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				yy, xx := y+dy, x+dx
				if yy >= 0 && yy < h && xx >= 0 && xx < w {
					push(yy*w + xx)
				}
			}
		}
	}
}

// label assigns 8-connected component labels 1..n and returns n.
func (s *ThresholdSegmenter) label(labels []int16) int {
	h, w := s.height, s.width
	for i := range labels[:h*w] {
		labels[i] = 0
	}
	next := int16(0)
	for start, on := range s.mask {
		if !on || labels[start] != 0 {
			continue
		}
		next++
		labels[start] = next
		s.queue = s.queue[:0]
		s.queue = append(s.queue, start)
		for len(s.queue) > 0 {
			i := s.queue[len(s.queue)-1]
			s.queue = s.queue[:len(s.queue)-1]
			y, x := i/w, i%w
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					yy, xx := y+dy, x+dx
					if yy < 0 || yy >= h || xx < 0 || xx >= w {
						continue
					}
					j := yy*w + xx
					if s.mask[j] && labels[j] == 0 {
						labels[j] = next
						s.queue = append(s.queue, j)
					}
				}
			}
		}
	}
	return int(next)
}

// diskOffsets returns the (dy, dx) offsets of a disk of radius r.
func diskOffsets(r int) [][2]int {
	var out [][2]int
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dy*dy+dx*dx <= r*r {
				out = append(out, [2]int{dy, dx})
			}
		}
	}
	return out
}

// stage describes the segmenter for pipeline-identifier purposes. The
// second parameter group carries the mask postprocessing knobs.
var stage = ppid.Stage{
	Code: "thresh",
	Groups: [][]ppid.Param{
		{
			{Name: "thresh", Default: DefaultThresh},
		},
		{
			{Name: "clear_border", Default: true},
			{Name: "fill_holes", Default: true},
			{Name: "closing_disk", Default: DefaultClosingDisk},
		},
	},
}

// ID returns the segmenter's pipeline identifier, e.g.
// "thresh:t=-6:cle=1^f=1^clo=2".
func (s *ThresholdSegmenter) ID() string {
	id, err := stage.Encode(map[string]interface{}{
		"thresh":       s.cfg.Thresh,
		"clear_border": s.cfg.ClearBorder,
		"fill_holes":   s.cfg.FillHoles,
		"closing_disk": s.cfg.ClosingDisk,
	})
	if err != nil {
		panic(err)
	}
	return id
}

// Stage exposes the segmenter's ppid stage descriptor.
func Stage() ppid.Stage { return stage }
