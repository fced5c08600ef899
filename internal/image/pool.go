package image

import "sync"

// Pool is a thread-safe pool for reusing Float images.
//
// Pool groups images by their dimensions so that repeated filter runs over
// same-sized frames do not reallocate pixel storage.
//
// Thread safety: All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[poolKey][]*Float
	maxSize int // max images per bucket
}

type poolKey struct {
	width  int
	height int
}

// NewPool creates a new image pool with the given maximum images per bucket.
// A maxPerBucket of 0 means unlimited.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{
		buckets: make(map[poolKey][]*Float),
		maxSize: maxPerBucket,
	}
}

// Get retrieves a zeroed image from the pool or creates a new one.
// Returns nil if the dimensions are invalid.
func (p *Pool) Get(width, height int) *Float {
	key := poolKey{width: width, height: height}

	p.mu.Lock()
	bucket := p.buckets[key]
	if len(bucket) > 0 {
		f := bucket[len(bucket)-1]
		p.buckets[key] = bucket[:len(bucket)-1]
		p.mu.Unlock()
		clear(f.Pix)
		return f
	}
	p.mu.Unlock()

	f, err := NewFloat(width, height)
	if err != nil {
		return nil
	}
	return f
}

// Put returns an image to the pool. Nil images and images whose bucket is
// full are discarded.
func (p *Pool) Put(f *Float) {
	if f == nil || f.Validate() != nil {
		return
	}
	key := poolKey{width: f.Width, height: f.Height}

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[key]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		return
	}
	p.buckets[key] = append(bucket, f)
}

// Len returns the number of pooled images with the given dimensions.
func (p *Pool) Len(width, height int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets[poolKey{width: width, height: height}])
}
