package interp

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// callSite identifies one Call instruction: its module and PC.
type callSite struct {
	module int
	pc     int
}

// monoEntry is the fast path: the last class this call site dispatched
// on, and the resolved method indices.
type monoEntry struct {
	class      int64
	module     int
	methodIdx  int
}

// polyKey indexes the LRU fallback when a call site has seen more than
// one receiver class (a megamorphic or merely polymorphic site).
type polyKey struct {
	site  callSite
	class int64
}

// InlineCache implements spec.md §4.7's per-callsite method cache: a
// monomorphic fast path invalidated whenever the observed receiver
// class changes, backed by a bounded LRU for sites that alternate
// between a handful of classes, mirroring the teacher's itab cache
// idiom (cache the last successful lookup, fall back to a slower
// table on miss) generalized from interface-method lookup to
// prototype method lookup.
type InlineCache struct {
	mu   sync.Mutex
	mono map[callSite]monoEntry
	poly *lru.Cache[polyKey, monoEntry]
}

// NewInlineCache creates a cache whose polymorphic fallback holds up
// to polySize entries across all call sites.
func NewInlineCache(polySize int) *InlineCache {
	if polySize < 1 {
		polySize = 256
	}
	poly, _ := lru.New[polyKey, monoEntry](polySize)
	return &InlineCache{mono: make(map[callSite]monoEntry), poly: poly}
}

// Lookup returns the cached (module, methodIdx) for site dispatching
// on class, if known.
func (c *InlineCache) Lookup(module, pc int, class int64) (int, int, bool) {
	site := callSite{module: module, pc: pc}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.mono[site]; ok && e.class == class {
		return e.module, e.methodIdx, true
	}
	if e, ok := c.poly.Get(polyKey{site: site, class: class}); ok {
		return e.module, e.methodIdx, true
	}
	return 0, 0, false
}

// Update records a resolution for site/class. The first class seen at
// a site occupies the monomorphic slot; a second distinct class
// demotes the site to the polymorphic fallback for both classes,
// matching the teacher's itab invalidation-on-mismatch behaviour.
func (c *InlineCache) Update(module, pc int, class int64, resultModule, resultMethod int) {
	site := callSite{module: module, pc: pc}
	entry := monoEntry{class: class, module: resultModule, methodIdx: resultMethod}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur, has := c.mono[site]
	switch {
	case !has:
		c.mono[site] = entry
	case cur.class == class:
		c.mono[site] = entry
	default:
		c.poly.Add(polyKey{site: site, class: cur.class}, cur)
		c.poly.Add(polyKey{site: site, class: class}, entry)
		delete(c.mono, site)
	}
}

// Invalidate drops every cached resolution for class, used when a
// method table mutates at runtime (spec.md §4.7: "inline-cache
// invalidation on method-table mutation").
func (c *InlineCache) Invalidate(class int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for site, e := range c.mono {
		if e.class == class {
			delete(c.mono, site)
		}
	}
	c.poly.Purge()
}
