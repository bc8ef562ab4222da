package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mcpmux/mcpmux/internal/contracts"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
)

// DomainReloadSummary is a wrapper that allows receivers to be declared in the API package that deal with domain types.
type DomainReloadSummary domain.ReloadSummary

// ReloadResult reports how the running server set changed after a reload.
type ReloadResult struct {
	Added     []string `doc:"Servers started by the reload" json:"added"`
	Removed   []string `doc:"Servers stopped and pruned by the reload" json:"removed"`
	Changed   []string `doc:"Servers restarted with a new specification" json:"changed"`
	Unchanged []string `doc:"Servers left untouched" json:"unchanged"`
}

// ReloadResponse represents the wrapped API response for a configuration reload.
type ReloadResponse struct {
	Body ReloadResult
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
// Nil slices are normalized to empty ones so the response always carries all
// four arrays.
func (d DomainReloadSummary) ToAPIType() (ReloadResult, error) {
	return ReloadResult{
		Added:     emptyIfNil(d.Added),
		Removed:   emptyIfNil(d.Removed),
		Changed:   emptyIfNil(d.Changed),
		Unchanged: emptyIfNil(d.Unchanged),
	}, nil
}

// RegisterReloadRoutes sets up the configuration reload API endpoint.
func RegisterReloadRoutes(
	routerAPI huma.API,
	reloader contracts.Reloader,
	source contracts.ConfigSource,
	apiPathPrefix string,
) {
	reloadAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Config"}

	huma.Register(
		reloadAPI,
		huma.Operation{
			OperationID: "reloadConfig",
			Method:      http.MethodPost,
			Summary:     "Re-read the configuration and apply the new server set",
			Tags:        tags,
		},
		func(ctx context.Context, _ *struct{}) (*ReloadResponse, error) {
			return handleReload(ctx, reloader, source)
		},
	)
}

// handleReload re-reads the configuration file and applies the declared
// server set to the running composer.
func handleReload(ctx context.Context, reloader contracts.Reloader, source contracts.ConfigSource) (*ReloadResponse, error) {
	entries, err := source.ServerEntries()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errors.ErrConfigInvalid, err)
	}

	summary, err := reloader.Reload(ctx, entries)
	if err != nil {
		return nil, err
	}

	data, err := DomainReloadSummary(summary).ToAPIType()
	if err != nil {
		return nil, err
	}

	resp := &ReloadResponse{}
	resp.Body = data

	return resp, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
