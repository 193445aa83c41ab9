package router

// MetadataCache memoizes Metadata extraction for the lifetime of one
// request (a MetadataManager, per spec §4.4). It is not safe for
// concurrent use by design: a request's Conditional evaluation runs on a
// single goroutine, so no locking is needed.
type MetadataCache struct {
	extracted bool
	value     Metadata
}

// Get returns the cached Metadata, computing it via extract on first call
// only.
func (c *MetadataCache) Get(extract func() Metadata) Metadata {
	if !c.extracted {
		c.value = extract()
		c.extracted = true
	}
	return c.value
}

// NewMetadataCache constructs an empty per-request metadata cache.
func NewMetadataCache() *MetadataCache { return &MetadataCache{} }
