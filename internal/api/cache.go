package api

import (
	"encoding/binary"
	"math"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/samcharles93/starvec/internal/inference"
)

// DefaultCacheTTL is how long a finished conversion is served from memory.
const DefaultCacheTTL = 10 * time.Minute

// conversion is the cacheable part of an im2svg response.
type conversion struct {
	SVG         string
	PNG         string
	Tokens      int
	StopReason  string
	Placeholder bool
	Duration    time.Duration
}

// resultCache memoizes conversions and collapses concurrent identical
// requests into one generation.
type resultCache struct {
	cache *ttlcache.Cache[string, *conversion]
	group singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
	shared atomic.Uint64
}

func newResultCache(ttl time.Duration, capacity uint64) *resultCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	opts := []ttlcache.Option[string, *conversion]{
		ttlcache.WithTTL[string, *conversion](ttl),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *conversion](capacity))
	}
	c := &resultCache{cache: ttlcache.New(opts...)}
	go c.cache.Start()
	return c
}

// get runs fn unless key is cached. cached reports whether the value came
// from the cache rather than a generation started by this caller.
func (c *resultCache) get(key string, fn func() (*conversion, error)) (res *conversion, cached bool, err error) {
	if item := c.cache.Get(key); item != nil {
		c.hits.Add(1)
		return item.Value(), true, nil
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		c.misses.Add(1)
		res, err := fn()
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, res, ttlcache.DefaultTTL)
		return res, nil
	})
	if err != nil {
		return nil, false, err
	}
	if shared {
		c.shared.Add(1)
	}
	return v.(*conversion), false, nil
}

func (c *resultCache) len() int { return c.cache.Len() }

func (c *resultCache) stop() { c.cache.Stop() }

// conversionKey hashes everything that can change the output of a
// conversion.
func conversionKey(modelID string, req inference.Request, image []byte) string {
	h := xxhash.New()
	_, _ = h.WriteString(modelID)
	_, _ = h.WriteString("|")

	var buf [8]byte
	putInt := func(v int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(v))
		_, _ = h.Write(buf[:])
	}
	putFloat := func(v float32) {
		binary.BigEndian.PutUint32(buf[:4], math.Float32bits(v))
		_, _ = h.Write(buf[:4])
	}
	s := req.Sampler
	putInt(int64(req.MaxLength))
	putInt(s.Seed)
	putFloat(s.Temperature)
	putInt(int64(s.TopK))
	putFloat(s.TopP)
	putFloat(s.MinP)
	putFloat(s.RepeatPenalty)
	putInt(int64(s.RepeatLastN))
	_, _ = h.WriteString("|")
	_, _ = h.Write(image)

	return modelID + ":" + strconv.FormatUint(h.Sum64(), 16)
}
