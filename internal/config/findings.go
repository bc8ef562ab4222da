package config

import "fmt"

// Finding describes the validation outcome for one config entry or section.
type Finding struct {
	// Target identifies what was checked, e.g. "server 'github'".
	Target string

	// Valid reports whether the target passed every check.
	Valid bool

	// Problems lists the failures when Valid is false.
	Problems []string
}

// Findings validates every entry and section and returns one finding each.
// Unlike Validate, it never stops at the first failure, so a single pass
// reports everything wrong with the file. Entries are checked post-expansion,
// matching what Load enforces.
func (c *Config) Findings() []Finding {
	findings := make([]Finding, 0, len(c.Servers)+len(c.Translators)+2)

	seenServers := map[string]struct{}{}
	for _, entry := range c.ListServers() {
		f := Finding{Target: fmt.Sprintf("server '%s'", entry.Name), Valid: true}
		if err := entry.Validate(); err != nil {
			f.Valid = false
			f.Problems = append(f.Problems, err.Error())
		}
		if _, ok := seenServers[entry.Name]; ok {
			f.Valid = false
			f.Problems = append(f.Problems, fmt.Sprintf("duplicate server name '%s'", entry.Name))
		}
		seenServers[entry.Name] = struct{}{}
		findings = append(findings, f)
	}

	seenTranslators := map[string]struct{}{}
	for _, entry := range c.ListTranslators() {
		f := Finding{Target: fmt.Sprintf("translator '%s'", entry.Name), Valid: true}
		if err := entry.Validate(); err != nil {
			f.Valid = false
			f.Problems = append(f.Problems, err.Error())
		}
		if _, ok := seenTranslators[entry.Name]; ok {
			f.Valid = false
			f.Problems = append(f.Problems, fmt.Sprintf("duplicate translator name '%s'", entry.Name))
		}
		seenTranslators[entry.Name] = struct{}{}
		findings = append(findings, f)
	}

	composer := Finding{Target: "composer", Valid: true}
	if err := c.validateComposer(); err != nil {
		composer.Valid = false
		composer.Problems = append(composer.Problems, err.Error())
	}
	findings = append(findings, composer)

	gateway := Finding{Target: "gateway", Valid: true}
	if err := c.validateGateway(); err != nil {
		gateway.Valid = false
		gateway.Problems = append(gateway.Problems, err.Error())
	}
	findings = append(findings, gateway)

	return findings
}
