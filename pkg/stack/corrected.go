package stack

// CorrectedCache derives background-corrected frames lazily, per
// chunk, from a raw image cache and a background image cache keyed by
// the same chunk index. On a miss it computes raw minus background as
// signed 16-bit values and caches the result under the same FIFO
// policy and capacity as the raw cache.
//
// Downstream code sees the same Get contract as ChunkCache, so it is
// agnostic to whether correction is precomputed or derived on demand.
type CorrectedCache struct {
	img *ChunkCache
	bg  *ChunkCache

	cacheSize int
	frameLen  int
	chunks    map[int][]int16
	order     []int
}

// NewCorrectedCache creates a corrected-image cache over a raw image
// cache and its matching background cache. Both must share chunk size
// and stack shape.
func NewCorrectedCache(img, bg *ChunkCache) *CorrectedCache {
	return &CorrectedCache{
		img:       img,
		bg:        bg,
		cacheSize: img.cacheSize,
		frameLen:  img.frameLen,
		chunks:    make(map[int][]int16, img.cacheSize),
	}
}

// Len returns the number of frames in the underlying stack.
func (c *CorrectedCache) Len() int { return c.img.Len() }

// FrameShape returns the height and width of one frame.
func (c *CorrectedCache) FrameShape() (int, int) { return c.img.FrameShape() }

// GetChunk returns the corrected chunk i, computing it on a miss.
func (c *CorrectedCache) GetChunk(i int) ([]int16, error) {
	if data, ok := c.chunks[i]; ok {
		return data, nil
	}
	raw, err := c.img.GetChunk(i)
	if err != nil {
		return nil, err
	}
	bg, err := c.bg.GetChunk(i)
	if err != nil {
		return nil, err
	}
	data := make([]int16, len(raw))
	for j := range raw {
		data[j] = int16(raw[j]) - int16(bg[j])
	}
	c.chunks[i] = data
	c.order = append(c.order, i)
	if len(c.chunks) > c.cacheSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.chunks, oldest)
	}
	return data, nil
}

// Get returns the corrected frame at the given index. Negative indices
// resolve relative to the stack length.
func (c *CorrectedCache) Get(index int) ([]int16, error) {
	n := c.img.Len()
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, &BoundsError{Cache: c.img.name + " (corrected)", Index: index, Length: n}
	}
	chunk, err := c.GetChunk(index / c.img.chunkSize)
	if err != nil {
		return nil, err
	}
	sub := index % c.img.chunkSize
	return chunk[sub*c.frameLen : (sub+1)*c.frameLen], nil
}
