package server

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/polyql/internal/queryir"
)

type cacheKey struct {
	source queryir.Dialect
	target queryir.Dialect
	text   string
}

// outputCache keeps translated strings. A nil cache never hits.
type outputCache struct {
	lru *lru.Cache[cacheKey, string]
	m   *metrics
}

func newOutputCache(size int, m *metrics) (*outputCache, error) {
	if size <= 0 {
		return nil, nil
	}
	c, err := lru.New[cacheKey, string](size)
	if err != nil {
		return nil, err
	}
	return &outputCache{lru: c, m: m}, nil
}

func (c *outputCache) get(k cacheKey) (string, bool) {
	if c == nil {
		return "", false
	}
	if v, ok := c.lru.Get(k); ok {
		c.m.cacheHits.WithLabelValues(string(k.target)).Inc()
		return v, true
	}
	c.m.cacheMisses.WithLabelValues(string(k.target)).Inc()
	return "", false
}

func (c *outputCache) add(k cacheKey, out string) {
	if c != nil {
		c.lru.Add(k, out)
	}
}

func (c *outputCache) len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
