package fs

import (
	"bufio"
	"encoding/json"
	"math"
	"os"

	"github.com/cytolabs/dcpipe/internal/domain"
	"github.com/cytolabs/dcpipe/internal/ports"
)

var _ ports.EventSink = (*NDJSONEventSink)(nil)

// NDJSONEventSink writes one JSON object per event batch, newline
// delimited. Batches may arrive out of frame order; consumers sort on
// the frame field.
type NDJSONEventSink struct {
	f   *os.File
	buf *bufio.Writer
	enc *json.Encoder
}

// NewNDJSONEventSink creates the sink, truncating any existing file.
func NewNDJSONEventSink(path string) (*NDJSONEventSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriter(f)
	return &NDJSONEventSink{f: f, buf: buf, enc: json.NewEncoder(buf)}, nil
}

// jsonFloat renders non-finite feature values as null. Degenerate
// masks legitimately produce NaN shape descriptors.
type jsonFloat float64

func (v jsonFloat) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

type eventRecord struct {
	Frame    int                    `json:"frame"`
	Count    int                    `json:"count"`
	Features map[string][]jsonFloat `json:"features,omitempty"`
}

// WriteBatch appends one batch as a single NDJSON line.
func (s *NDJSONEventSink) WriteBatch(b domain.EventBatch) error {
	rec := eventRecord{Frame: b.Frame, Count: b.Count}
	if len(b.Features) > 0 {
		rec.Features = make(map[string][]jsonFloat, len(b.Features))
		for name, col := range b.Features {
			out := make([]jsonFloat, len(col))
			for i, v := range col {
				out[i] = jsonFloat(v)
			}
			rec.Features[name] = out
		}
	}
	return s.enc.Encode(rec)
}

// Close flushes buffered lines and releases the file.
func (s *NDJSONEventSink) Close() error {
	if err := s.buf.Flush(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
