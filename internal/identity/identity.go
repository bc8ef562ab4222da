// Package identity owns the public naming scheme for composed capabilities:
// how a backend's original name becomes the qualified name clients see, and
// how a qualified name is split back into its parts for routing.
package identity

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mcpmux/mcpmux/internal/domain"
)

// Separator joins server names and capability names in qualified names.
const Separator = ":"

// serverNamePattern restricts server names so that prefix/suffix qualified
// names stay unambiguous and shell/URL safe.
var serverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// ValidateServerName returns an error when name cannot be used as a server
// identifier. The separator is reserved for qualified names.
func ValidateServerName(name string) error {
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	if strings.Contains(name, Separator) {
		return fmt.Errorf("server name %q cannot contain %q", name, Separator)
	}
	if !serverNamePattern.MatchString(name) {
		return fmt.Errorf("server name %q must match %s", name, serverNamePattern.String())
	}
	return nil
}

// Qualify derives the public name for a capability advertised as original by
// server, under the given conflict policy. For prefix and suffix the result
// embeds the server name unconditionally; the remaining policies expose the
// original name unchanged and leave collision handling to the registry.
func Qualify(policy domain.ConflictPolicy, server string, original string) string {
	switch policy {
	case domain.ConflictPrefix:
		return server + Separator + original
	case domain.ConflictSuffix:
		return original + Separator + server
	default:
		return original
	}
}

// SplitPrefixed splits a prefix-qualified name into server and original name.
// It returns ok=false when the name carries no separator. Only the first
// separator is significant: original names may themselves contain colons
// (resource URIs do).
func SplitPrefixed(qualified string) (server string, original string, ok bool) {
	server, original, ok = strings.Cut(qualified, Separator)
	if !ok || server == "" || original == "" {
		return "", "", false
	}
	return server, original, true
}
