package domain

const (
	// ConflictPrefix qualifies every name as {server}:{name} unconditionally,
	// so names from different servers can never collide.
	ConflictPrefix ConflictPolicy = "prefix"

	// ConflictSuffix qualifies every name as {name}:{server} unconditionally.
	ConflictSuffix ConflictPolicy = "suffix"

	// ConflictIgnore keeps names bare; on a collision the first registration
	// wins and the newcomer is silently dropped.
	ConflictIgnore ConflictPolicy = "ignore"

	// ConflictError keeps names bare; on a collision the registering server
	// fails its startup and contributes nothing.
	ConflictError ConflictPolicy = "error"

	// ConflictOverride keeps names bare; on a collision the last registration
	// wins and the stale mapping is never invoked again.
	ConflictOverride ConflictPolicy = "override"
)

// ConflictPolicy is the global rule for reconciling identically-named
// capabilities advertised by different backends. It is fixed at startup and
// applied uniformly across tools, resources, and prompts.
type ConflictPolicy string

// Valid reports whether p is one of the known conflict policies.
func (p ConflictPolicy) Valid() bool {
	switch p {
	case ConflictPrefix, ConflictSuffix, ConflictIgnore, ConflictError, ConflictOverride:
		return true
	default:
		return false
	}
}
