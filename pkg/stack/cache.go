package stack

// Cache sizing defaults. A chunk of 1000 frames matches the chunking
// of typical measurement files; five resident chunks keep the working
// set of a sequential sweep plus some lookback.
const (
	DefaultChunkSize = 1000
	DefaultCacheSize = 5
)

// Options configures a ChunkCache.
type Options struct {
	// Name identifies the cache in error messages. Defaults to "ChunkCache".
	Name string

	// ChunkSize is the number of frames materialized per chunk.
	ChunkSize int

	// CacheSize is the maximum number of resident chunks.
	CacheSize int

	// Boolean interprets loaded bytes as a logical mask: every nonzero
	// pixel is normalized to 1 at load time.
	Boolean bool
}

// ChunkCache turns expensive chunked reads on a Source into fast
// single-frame lookups.
//
// Eviction is insertion-order FIFO, not LRU: a cache hit never
// refreshes an entry's eviction priority. This is simple, predictable
// and correct for the mostly-sequential sweeps the pipeline performs.
type ChunkCache struct {
	src       Source
	name      string
	chunkSize int
	cacheSize int
	boolean   bool
	frameLen  int

	chunks map[int][]uint8
	order  []int // chunk indices in insertion order, oldest first
}

// NewChunkCache creates a cache over src.
func NewChunkCache(src Source, opts Options) *ChunkCache {
	if opts.Name == "" {
		opts.Name = "ChunkCache"
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	h, w := src.FrameShape()
	return &ChunkCache{
		src:       src,
		name:      opts.Name,
		chunkSize: opts.ChunkSize,
		cacheSize: opts.CacheSize,
		boolean:   opts.Boolean,
		frameLen:  h * w,
		chunks:    make(map[int][]uint8, opts.CacheSize),
	}
}

// Len returns the number of frames in the underlying stack.
func (c *ChunkCache) Len() int { return c.src.Len() }

// FrameShape returns the height and width of one frame.
func (c *ChunkCache) FrameShape() (int, int) { return c.src.FrameShape() }

// ChunkSize returns the configured frames-per-chunk.
func (c *ChunkCache) ChunkSize() int { return c.chunkSize }

// NumChunks returns the number of chunks the stack partitions into.
func (c *ChunkCache) NumChunks() int {
	return (c.src.Len() + c.chunkSize - 1) / c.chunkSize
}

// ChunkSizeAt returns the number of frames in chunk i. All chunks hold
// ChunkSize frames except possibly the last one.
func (c *ChunkCache) ChunkSizeAt(i int) (int, error) {
	n := c.NumChunks()
	if i < 0 || i >= n {
		return 0, &BoundsError{Cache: c.name, Index: i, Length: n}
	}
	if i == n-1 {
		if rem := c.src.Len() % c.chunkSize; rem != 0 {
			return rem, nil
		}
	}
	return c.chunkSize, nil
}

// Chunks returns a restartable iterator over the valid chunk indices
// 0..NumChunks()-1. Each call starts a fresh pass.
func (c *ChunkCache) Chunks() func() (int, bool) {
	next := 0
	return func() (int, bool) {
		if next >= c.NumChunks() {
			return 0, false
		}
		i := next
		next++
		return i, true
	}
}

// GetChunk returns chunk i, loading it through one slice read on a
// miss. When the cache exceeds its capacity after insertion, the
// oldest inserted chunk is evicted.
func (c *ChunkCache) GetChunk(i int) ([]uint8, error) {
	if i < 0 || i >= c.NumChunks() {
		return nil, &BoundsError{Cache: c.name, Index: i, Length: c.NumChunks()}
	}
	if data, ok := c.chunks[i]; ok {
		return data, nil
	}
	start := i * c.chunkSize
	stop := start + c.chunkSize
	if stop > c.src.Len() {
		stop = c.src.Len()
	}
	data, err := c.src.ReadFrames(start, stop)
	if err != nil {
		return nil, err
	}
	if c.boolean {
		for j, v := range data {
			if v != 0 {
				data[j] = 1
			}
		}
	}
	c.insert(i, data)
	return data, nil
}

// Get returns the frame at the given index. Negative indices resolve
// relative to the stack length.
func (c *ChunkCache) Get(index int) ([]uint8, error) {
	n := c.src.Len()
	if index < 0 {
		index += n
	}
	if index < 0 || index >= n {
		return nil, &BoundsError{Cache: c.name, Index: index, Length: n}
	}
	chunk, err := c.GetChunk(index / c.chunkSize)
	if err != nil {
		return nil, err
	}
	sub := index % c.chunkSize
	return chunk[sub*c.frameLen : (sub+1)*c.frameLen], nil
}

// Resident returns the number of chunks currently held in memory.
func (c *ChunkCache) Resident() int { return len(c.chunks) }

// Contains reports whether chunk i is resident without loading it.
func (c *ChunkCache) Contains(i int) bool {
	_, ok := c.chunks[i]
	return ok
}

func (c *ChunkCache) insert(i int, data []uint8) {
	c.chunks[i] = data
	c.order = append(c.order, i)
	if len(c.chunks) > c.cacheSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.chunks, oldest)
	}
}
