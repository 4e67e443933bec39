// Package resource is a keyed front end to the texture cache. Callers name
// images with hierarchical string keys such as "glyph/font-3/65"; the cache
// keeps the texture cache handle for each key, loads pixels on a miss and
// lets whole key prefixes be released at once.
package resource

import (
	"github.com/ansel1/merry"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"

	"github.com/jwilder/texcache"
)

// Loader produces the pixels for key. It is called whenever the texture
// cache has no valid copy.
type Loader func(key string, req ImageRequest) (*texcache.ImageData, error)

// ImageRequest describes the image a key should resolve to this frame.
type ImageRequest struct {
	Descriptor texcache.ImageDescriptor
	Filter     texcache.TextureFilter
	Policy     texcache.EvictionPolicy
	UserParams [3]float32
	// Generation changes whenever the image content changes; a different
	// generation than the cached one forces a reload.
	Generation uint64
}

type entry struct {
	handle     texcache.Handle
	desc       texcache.ImageDescriptor
	filter     texcache.TextureFilter
	generation uint64
	notice     *texcache.EvictionNotice
}

// Stats counts request outcomes.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache maps keys to texture cache entries. It is not safe for concurrent
// use, like the texture cache it drives.
type Cache struct {
	textures *texcache.TextureCache
	load     Loader
	log      logrus.FieldLogger
	tree     *iradix.Tree
	stats    Stats
}

// New creates a Cache placing images in textures and loading misses with
// load. A nil log uses the standard logger.
func New(textures *texcache.TextureCache, load Loader, log logrus.FieldLogger) *Cache {
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "resource")
	}
	return &Cache{
		textures: textures,
		load:     load,
		log:      log,
		tree:     iradix.New(),
	}
}

// Request resolves key for the current frame, loading and uploading the
// image when the texture cache lost it or the request describes different
// content.
func (c *Cache) Request(key string, req ImageRequest) (texcache.CacheItem, error) {
	var e *entry
	v, known := c.tree.Get([]byte(key))
	if known {
		e = v.(*entry)
	} else {
		e = &entry{notice: texcache.NewEvictionNotice()}
	}

	if e.notice.Check() {
		c.stats.Evictions++
	}
	stale := c.textures.Request(e.handle) ||
		e.generation != req.Generation ||
		e.desc != req.Descriptor ||
		e.filter != req.Filter
	if !stale {
		c.stats.Hits++
		return c.textures.Get(e.handle), nil
	}

	data, err := c.load(key, req)
	if err != nil {
		return texcache.CacheItem{}, merry.Prependf(err, "loading %s", key).WithValue("key", key)
	}
	c.textures.Update(&e.handle, texcache.UpdateRequest{
		Descriptor: req.Descriptor,
		Filter:     req.Filter,
		Data:       data,
		UserParams: req.UserParams,
		Dirty:      texcache.DirtyAll,
		Notice:     e.notice,
		Policy:     req.Policy,
	})
	e.desc = req.Descriptor
	e.filter = req.Filter
	e.generation = req.Generation
	if !known {
		c.tree, _, _ = c.tree.Insert([]byte(key), e)
	}
	c.stats.Misses++
	c.log.WithFields(logrus.Fields{
		"key":  key,
		"size": req.Descriptor.Size.String(),
	}).Trace("uploaded")
	return c.textures.Get(e.handle), nil
}

// MarkUnusedPrefix lets the texture cache evict every entry under prefix at
// its next sweep. The keys stay known.
func (c *Cache) MarkUnusedPrefix(prefix string) int {
	n := 0
	c.tree.Root().WalkPrefix([]byte(prefix), func(_ []byte, v interface{}) bool {
		c.textures.MarkUnused(v.(*entry).handle)
		n++
		return false
	})
	return n
}

// DeletePrefix forgets every key under prefix and marks their entries
// unused.
func (c *Cache) DeletePrefix(prefix string) int {
	n := c.MarkUnusedPrefix(prefix)
	if n > 0 {
		c.tree, _ = c.tree.DeletePrefix([]byte(prefix))
	}
	return n
}

// Keys returns the known keys under prefix in lexical order.
func (c *Cache) Keys(prefix string) []string {
	var keys []string
	c.tree.Root().WalkPrefix([]byte(prefix), func(k []byte, _ interface{}) bool {
		keys = append(keys, string(k))
		return false
	})
	return keys
}

// Sweep forgets keys whose texture cache entry was evicted and returns how
// many were dropped.
func (c *Cache) Sweep() int {
	txn := c.tree.Txn()
	n := 0
	c.tree.Root().Walk(func(k []byte, v interface{}) bool {
		if !c.textures.IsAllocated(v.(*entry).handle) {
			txn.Delete(k)
			n++
		}
		return false
	})
	c.tree = txn.Commit()
	return n
}

// Len returns the number of known keys.
func (c *Cache) Len() int {
	return c.tree.Len()
}

// Stats returns hit, miss and eviction counts since New.
func (c *Cache) Stats() Stats {
	return c.stats
}
