// Package cache provides a small generic LRU cache.
//
// It backs the spatial weight tables of the CPU filter and the compiled
// SPIR-V of the GPU kernels, both of which are expensive to build and reused
// across runs with the same key.
//
//	c := cache.New[string, []uint32](8)
//	words, err := c.GetOrCreate("bilateral_buffer", compile)
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
