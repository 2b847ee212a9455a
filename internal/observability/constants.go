package observability

// Span names and attribute keys used across the module's tracing sites.
const (
	AttrSourceID       = "toolmesh.source_id"
	AttrToolID         = "toolmesh.tool_id"
	AttrSearchQuery    = "toolmesh.search.query"
	AttrSearchMode     = "toolmesh.search.mode"
	AttrSearchHitCount = "toolmesh.search.hit_count"
	AttrCacheHit       = "toolmesh.loader.cache_hit"
	AttrDiscoveryState = "toolmesh.discovery.state"

	SpanCatalogRegister   = "catalog.register"
	SpanCatalogUnregister = "catalog.unregister"
	SpanCatalogRefresh    = "catalog.refresh"

	SpanIndexBuild  = "search.index"
	SpanIndexSearch = "search.search"

	SpanLoaderLoad   = "loader.load"
	SpanLoaderWarmup = "loader.warmup"

	SpanDiscoveryRun = "discovery.run"

	DefaultServiceName = "toolmesh"
)
