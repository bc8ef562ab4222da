// Package api exposes the admin HTTP surface of the gateway: server
// lifecycle, the merged capability namespace, tool invocation, health and
// configuration reload. Handlers work against the contracts interfaces and
// translate domain types into API-safe shapes.
package api

type Convertible[T any] interface {
	// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
	// It should be responsible for any normalization required to ensure consistency
	// across the API boundary.
	ToAPIType() (T, error)
}
