// Package fs provides file-backed adapters: the raw image stack file
// format and the newline-delimited JSON event sink.
package fs

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/cytolabs/dcpipe/internal/ports"
	"github.com/cytolabs/dcpipe/pkg/stack"
)

var (
	_ ports.ImageSource    = (*StackFile)(nil)
	_ ports.TimedSource    = (*StackFile)(nil)
	_ ports.RatedSource    = (*StackFile)(nil)
	_ ports.BackgroundSink = (*StackWriter)(nil)
)

// Raw stack file layout, all integers little-endian:
//
//	magic   4 bytes "DCS1"
//	count   uint32
//	height  uint32
//	width   uint32
//	rate    float64 (Hz, 0 = unknown)
//	flags   uint8 (bit 0: per-frame time column present)
//	times   count * float64, only when the time flag is set
//	frames  count * height * width * uint8
const (
	stackMagic   = "DCS1"
	flagHasTimes = 1 << 0
)

const headerSize = 4 + 4 + 4 + 4 + 8 + 1

// StackFile reads frames from a raw stack file. It implements the
// image source contract with random slice access; the time column, if
// present, is loaded once at open time.
type StackFile struct {
	f             *os.File
	count         int
	height, width int
	rate          float64
	times         []float64
	dataOff       int64
}

// OpenStack opens a raw stack file for reading.
func OpenStack(path string) (*StackFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := readStackHeader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stack %s: %w", path, err)
	}
	return s, nil
}

func readStackHeader(f *os.File) (*StackFile, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		return nil, fmt.Errorf("short header: %w", err)
	}
	if string(hdr[:4]) != stackMagic {
		return nil, fmt.Errorf("bad magic %q", hdr[:4])
	}
	s := &StackFile{
		f:      f,
		count:  int(binary.LittleEndian.Uint32(hdr[4:])),
		height: int(binary.LittleEndian.Uint32(hdr[8:])),
		width:  int(binary.LittleEndian.Uint32(hdr[12:])),
	}
	s.rate = math.Float64frombits(binary.LittleEndian.Uint64(hdr[16:]))
	flags := hdr[24]
	s.dataOff = headerSize
	if flags&flagHasTimes != 0 {
		raw := make([]byte, 8*s.count)
		if _, err := io.ReadFull(f, raw); err != nil {
			return nil, fmt.Errorf("short time column: %w", err)
		}
		s.times = make([]float64, s.count)
		for i := range s.times {
			s.times[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[8*i:]))
		}
		s.dataOff += int64(8 * s.count)
	}
	return s, nil
}

// Len returns the number of frames in the file.
func (s *StackFile) Len() int { return s.count }

// FrameShape returns the height and width of one frame.
func (s *StackFile) FrameShape() (int, int) { return s.height, s.width }

// Times returns the recorded per-frame times, or nil if the file
// carries none.
func (s *StackFile) Times() []float64 { return s.times }

// FrameRate returns the recorded frame rate (0 when unknown).
func (s *StackFile) FrameRate() float64 { return s.rate }

// ReadFrames returns the pixels of frames [start, stop).
func (s *StackFile) ReadFrames(start, stop int) ([]uint8, error) {
	if start < 0 || stop < start || stop > s.count {
		return nil, &stack.BoundsError{Cache: "stack file", Index: start, Length: s.count}
	}
	fl := s.height * s.width
	buf := make([]uint8, (stop-start)*fl)
	off := s.dataOff + int64(start*fl)
	if _, err := s.f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("stack read frames %d..%d: %w", start, stop, err)
	}
	return buf, nil
}

// Close releases the underlying file.
func (s *StackFile) Close() error { return s.f.Close() }

// StackWriter writes a raw stack file of known frame count. Frames may
// arrive in WriteFrames slices in any order; Close is required to
// release the file.
type StackWriter struct {
	f             *os.File
	count         int
	height, width int
	dataOff       int64
}

// CreateStack creates a raw stack file for count frames of the given
// shape. times may be nil; rate 0 marks an unknown frame rate.
func CreateStack(path string, count, height, width int, times []float64, rate float64) (*StackWriter, error) {
	if times != nil && len(times) != count {
		return nil, fmt.Errorf("stack %s: %d times for %d frames", path, len(times), count)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	hdr := make([]byte, headerSize)
	copy(hdr, stackMagic)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(count))
	binary.LittleEndian.PutUint32(hdr[8:], uint32(height))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(width))
	binary.LittleEndian.PutUint64(hdr[16:], math.Float64bits(rate))
	if times != nil {
		hdr[24] |= flagHasTimes
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, err
	}
	dataOff := int64(headerSize)
	if times != nil {
		raw := make([]byte, 8*count)
		for i, t := range times {
			binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(t))
		}
		if _, err := f.Write(raw); err != nil {
			f.Close()
			return nil, err
		}
		dataOff += int64(8 * count)
	}
	return &StackWriter{f: f, count: count, height: height, width: width, dataOff: dataOff}, nil
}

// WriteFrames stores the pixels of consecutive frames beginning at
// frame index start.
func (w *StackWriter) WriteFrames(start int, frames []uint8) error {
	fl := w.height * w.width
	if fl == 0 || len(frames)%fl != 0 {
		return fmt.Errorf("stack write: %d pixels is not a whole number of %dx%d frames",
			len(frames), w.height, w.width)
	}
	n := len(frames) / fl
	if start < 0 || start+n > w.count {
		return fmt.Errorf("stack write: frames %d..%d out of range 0..%d", start, start+n, w.count)
	}
	_, err := w.f.WriteAt(frames, w.dataOff+int64(start*fl))
	return err
}

// Close flushes and releases the underlying file.
func (w *StackWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// WriteStack writes a complete stack file in one call.
func WriteStack(path string, pixels []uint8, height, width int, times []float64, rate float64) error {
	fl := height * width
	if fl == 0 || len(pixels)%fl != 0 {
		return fmt.Errorf("stack %s: %d pixels is not a whole number of %dx%d frames",
			path, len(pixels), height, width)
	}
	w, err := CreateStack(path, len(pixels)/fl, height, width, times, rate)
	if err != nil {
		return err
	}
	if err := w.WriteFrames(0, pixels); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
