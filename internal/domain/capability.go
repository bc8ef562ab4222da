package domain

import "encoding/json"

const (
	CapabilityTool     CapabilityKind = "tool"
	CapabilityResource CapabilityKind = "resource"
	CapabilityPrompt   CapabilityKind = "prompt"
)

// CapabilityKind distinguishes the three capability namespaces a backend
// can advertise. Qualified names are unique per kind, not globally.
type CapabilityKind string

// Valid reports whether k is one of the known capability kinds.
func (k CapabilityKind) Valid() bool {
	switch k {
	case CapabilityTool, CapabilityResource, CapabilityPrompt:
		return true
	default:
		return false
	}
}

// Kinds returns all capability kinds in a stable order.
func Kinds() []CapabilityKind {
	return []CapabilityKind{CapabilityTool, CapabilityResource, CapabilityPrompt}
}

// Capability describes one advertised tool, resource, or prompt after
// conflict resolution. Schema is preserved verbatim from the backend and
// never interpreted by the registry itself.
type Capability struct {
	// QualifiedName is the public, collision-resolved identifier clients use.
	QualifiedName string `json:"qualifiedName"`

	// OriginalName is the name the owning server advertised. It is what gets
	// written back onto the wire when a call is forwarded.
	OriginalName string `json:"originalName"`

	// ServerName identifies the owning managed server.
	ServerName string `json:"serverName"`

	// Kind is the capability namespace this entry lives in.
	Kind CapabilityKind `json:"kind"`

	// Description is the backend-provided human-readable summary, if any.
	Description string `json:"description,omitempty"`

	// Schema is the backend's input schema (tools) or metadata payload
	// (resources, prompts), carried verbatim.
	Schema json.RawMessage `json:"schema,omitempty"`
}
