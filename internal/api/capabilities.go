package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/filter"
)

const (
	// capabilityDetailFull returns all fields including the backend schema.
	capabilityDetailFull capabilityDetailLevel = "full"

	// capabilityDetailSummary omits the backend schema payload.
	capabilityDetailSummary capabilityDetailLevel = "summary"
)

// capabilityDetailLevel defines the amount of information to return about capabilities.
type capabilityDetailLevel string

// DomainCapability is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainCapability domain.Capability

// Capability describes one entry of the merged namespace after conflict resolution.
type Capability struct {
	// QualifiedName is the public identifier clients use.
	QualifiedName string `doc:"Public collision-resolved name" json:"qualifiedName"`

	// OriginalName is the name the owning server advertised.
	OriginalName string `doc:"Name advertised by the owning server" json:"originalName"`

	// Server is the name of the owning managed server.
	Server string `doc:"Owning server" json:"server"`

	// Kind is the capability namespace: tool, resource or prompt.
	Kind string `doc:"Capability kind" json:"kind"`

	// Description is the backend-provided summary, if any.
	Description string `doc:"Backend-provided description" json:"description,omitempty"`

	// Schema is the backend's input schema or metadata payload, verbatim.
	Schema json.RawMessage `doc:"Backend schema or metadata payload" json:"schema,omitempty"`
}

// CapabilitiesRequest represents the incoming API request for listing the merged namespace.
type CapabilitiesRequest struct {
	Kind   string `doc:"Restrict to one capability kind (tool, resource, prompt)" example:"tool"   query:"kind"`
	Server string `doc:"Restrict to capabilities owned by one server"             example:"github" query:"server"`
	Name   string `doc:"Substring match on qualified or original name"            example:"issue"  query:"name"`
	Detail string `doc:"Detail level: full or summary"                            example:"summary" query:"detail"`
}

// CapabilitiesResponse represents the wrapped API response for a list of capabilities.
type CapabilitiesResponse struct {
	Body struct {
		Capabilities []Capability `doc:"Entries of the merged capability namespace" json:"capabilities"`
	}
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainCapability) ToAPIType() (Capability, error) {
	return Capability{
		QualifiedName: d.QualifiedName,
		OriginalName:  d.OriginalName,
		Server:        d.ServerName,
		Kind:          string(d.Kind),
		Description:   d.Description,
		Schema:        d.Schema,
	}, nil
}

// RegisterCapabilityRoutes sets up the merged namespace listing endpoint.
func RegisterCapabilityRoutes(routerAPI huma.API, view contracts.CapabilityView, apiPathPrefix string) {
	capabilitiesAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Capabilities"}

	huma.Register(
		capabilitiesAPI,
		huma.Operation{
			OperationID: "listCapabilities",
			Method:      http.MethodGet,
			Summary:     "List the merged capability namespace",
			Tags:        tags,
		},
		func(ctx context.Context, input *CapabilitiesRequest) (*CapabilitiesResponse, error) {
			return handleCapabilities(view, input.Kind, input.Server, input.Name, input.Detail)
		},
	)
}

// handleCapabilities returns the merged namespace, optionally narrowed by
// kind, owning server and name substring.
func handleCapabilities(
	view contracts.CapabilityView,
	kind string,
	server string,
	name string,
	detail string,
) (*CapabilitiesResponse, error) {
	level, err := parseCapabilityDetail(detail)
	if err != nil {
		return nil, err
	}

	var caps []domain.Capability
	if kind != "" {
		k := domain.CapabilityKind(filter.NormalizeString(kind))
		if !k.Valid() {
			return nil, fmt.Errorf("%w: unknown capability kind '%s'", errors.ErrBadRequest, kind)
		}
		caps = view.CapabilitiesByKind(k)
	} else {
		caps = view.Capabilities()
	}

	filters := map[string]string{}
	if server != "" {
		filters["server"] = server
	}
	if name != "" {
		filters["name"] = name
	}

	matchers := filter.WithMatchers(map[string]filter.Predicate[domain.Capability]{
		"server": filter.Equals(func(c domain.Capability) string { return c.ServerName }),
		"name": filter.EqualsAny(
			func(c domain.Capability) string { return c.QualifiedName },
			func(c domain.Capability) string { return c.OriginalName },
		),
	})

	apiCaps := make([]Capability, 0, len(caps))
	for _, c := range caps {
		ok, err := filter.Match(c, filters, matchers)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		data, err := DomainCapability(c).ToAPIType()
		if err != nil {
			return nil, err
		}
		if level == capabilityDetailSummary {
			data.Schema = nil
		}
		apiCaps = append(apiCaps, data)
	}

	slices.SortFunc(apiCaps, func(a, b Capability) int {
		if c := strings.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		return strings.Compare(a.QualifiedName, b.QualifiedName)
	})

	resp := &CapabilitiesResponse{}
	resp.Body.Capabilities = apiCaps

	return resp, nil
}

func parseCapabilityDetail(detail string) (capabilityDetailLevel, error) {
	switch capabilityDetailLevel(filter.NormalizeString(detail)) {
	case "":
		return capabilityDetailFull, nil
	case capabilityDetailFull:
		return capabilityDetailFull, nil
	case capabilityDetailSummary:
		return capabilityDetailSummary, nil
	default:
		return "", fmt.Errorf("%w: unknown detail level '%s'", errors.ErrBadRequest, detail)
	}
}
