package core

import "time"

// Size and shape bounds from spec.md §3 and §4.1, shared by the event
// store's validator and the elicitation manager.
const (
	MaxEventSizeBytes   = 1 << 20 // 1 MiB per event
	MaxBatchEvents      = 1000
	MaxBatchSizeBytes   = 10 << 20 // 10 MiB per batch
	MaxStringFieldBytes = 1 << 20  // 1 MiB for free-form string fields
	MaxIDFieldBytes     = 256
	MaxMappingKeys      = 1000
	MaxNestingDepth     = 10
	MaxListItems        = 10000
	MaxControlCharRatio = 0.10

	MinNonceBits = 128

	DefaultSegmentRollBytes  = 100 << 20 // 100 MiB
	DefaultDiskUsageCapBytes = 50 << 30  // 50 GiB
	DefaultOpenFileHandleCap = 1000

	DefaultElicitationTimeout = 30 * time.Second
	HMACTokenSkew             = 5 * time.Minute
)

// Redis key prefix for the expert registry's directory of experts
// (adapted from the teacher's schema-cache / service-discovery
// namespacing convention). expert.RedisRegistry does not read it; its
// constructor passes its own "lighthouse:expert" namespace.
const DefaultRedisPrefix = "lighthouse:expert:"

// DefaultSchemaCacheTTL is how long a compiled elicitation schema stays
// cached before elicitation.SchemaCache re-reads it. Schemas change rarely
// relative to elicitation volume, so a long TTL is appropriate.
const DefaultSchemaCacheTTL = 24 * time.Hour
