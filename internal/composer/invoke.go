package composer

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/errors"
	"github.com/mcpmux/mcpmux/internal/metrics"
)

type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type resourceReadParams struct {
	URI string `json:"uri"`
}

type promptGetParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// CallTool invokes a tool by qualified name and returns the raw tools/call
// result payload.
func (c *Composer) CallTool(ctx context.Context, qualifiedName string, args map[string]any) (json.RawMessage, error) {
	return c.invoke(ctx, domain.CapabilityTool, qualifiedName, args, "tools/call",
		func(original string) any {
			return toolCallParams{Name: original, Arguments: args}
		})
}

// ReadResource reads a resource by its qualified URI.
func (c *Composer) ReadResource(ctx context.Context, qualifiedURI string) (json.RawMessage, error) {
	return c.invoke(ctx, domain.CapabilityResource, qualifiedURI, nil, "resources/read",
		func(original string) any {
			return resourceReadParams{URI: original}
		})
}

// GetPrompt renders a prompt template with the given arguments.
func (c *Composer) GetPrompt(ctx context.Context, qualifiedName string, args map[string]string) (json.RawMessage, error) {
	return c.invoke(ctx, domain.CapabilityPrompt, qualifiedName, nil, "prompts/get",
		func(original string) any {
			return promptGetParams{Name: original, Arguments: args}
		})
}

// invoke resolves a qualified name and forwards the call to the owning
// backend, translating back to the original name on the wire. No transport
// I/O happens for unknown names or servers that are not Running.
func (c *Composer) invoke(
	ctx context.Context,
	kind domain.CapabilityKind,
	qualifiedName string,
	args map[string]any,
	method string,
	buildParams func(original string) any,
) (json.RawMessage, error) {
	start := time.Now()

	capability, ok := c.reg.Resolve(kind, qualifiedName)
	if !ok {
		metrics.RecordInvocation("none", kind, metrics.OutcomeNotFound, time.Since(start))
		return nil, fmt.Errorf("%w: %s '%s'", errors.ErrCapabilityNotFound, kind, qualifiedName)
	}

	conn, ok := c.sup.Conn(capability.ServerName)
	if !ok {
		state := domain.ServerStateStopped
		if status, err := c.sup.Server(capability.ServerName); err == nil {
			state = status.State
		}
		metrics.RecordInvocation(capability.ServerName, kind, metrics.OutcomeUnavailable, time.Since(start))
		return nil, fmt.Errorf("%w: '%s' owns '%s' but is %s",
			errors.ErrServerUnavailable, capability.ServerName, qualifiedName, state)
	}

	if kind == domain.CapabilityTool && c.validateArgs && len(capability.Schema) > 0 {
		if err := validateToolArguments(capability.Schema, args); err != nil {
			metrics.RecordInvocation(capability.ServerName, kind, metrics.OutcomeInvalidArgs, time.Since(start))
			return nil, fmt.Errorf("'%s': %w", qualifiedName, err)
		}
	}

	ictx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	raw, err := conn.Call(ictx, method, buildParams(capability.OriginalName))
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.RecordInvocation(capability.ServerName, kind, metrics.OutcomeOK, elapsed)
		c.logger.Debug("invocation complete",
			"name", qualifiedName,
			"server", capability.ServerName,
			"kind", kind,
			"duration", elapsed,
		)
		return raw, nil

	case stdErrors.Is(err, errors.ErrInvokeTimeout):
		metrics.RecordInvocation(capability.ServerName, kind, metrics.OutcomeTimeout, elapsed)
		return nil, fmt.Errorf("'%s' on '%s': %w", qualifiedName, capability.ServerName, err)

	default:
		metrics.RecordInvocation(capability.ServerName, kind, metrics.OutcomeError, elapsed)
		return nil, fmt.Errorf("%w: '%s' on '%s': %v",
			errors.ErrToolCallFailed, qualifiedName, capability.ServerName, err)
	}
}

// validateToolArguments checks tool call arguments against the advertised
// input schema before any transport I/O.
func validateToolArguments(schema json.RawMessage, args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	doc, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidArguments, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		// Unusable advertised schemas must not block the call.
		return nil
	}
	if !result.Valid() {
		findings := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			findings = append(findings, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return fmt.Errorf("%w: %s", errors.ErrInvalidArguments, strings.Join(findings, "; "))
	}

	return nil
}
