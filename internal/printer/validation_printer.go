package printer

import (
	"fmt"
	"io"

	"github.com/mcpmux/mcpmux/internal/cmd/output"
)

var _ output.Printer[ValidationResult] = (*ValidationPrinter)(nil)

// ValidationResult captures the findings for one config entry or section.
type ValidationResult struct {
	// Target identifies what was checked, e.g. "server 'github'".
	Target string `json:"target" yaml:"target"`

	// Valid reports whether the target passed every check.
	Valid bool `json:"valid" yaml:"valid"`

	// Problems lists the failures when Valid is false.
	Problems []string `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// ValidationPrinter renders per-target validation findings.
type ValidationPrinter struct {
	headerFunc output.WriteFunc[ValidationResult]
	footerFunc output.WriteFunc[ValidationResult]
}

func NewValidationPrinter() *ValidationPrinter {
	return &ValidationPrinter{}
}

// Header writes a custom header if one has been configured via SetHeader.
func (p *ValidationPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

// SetHeader configures a custom header function for the printer.
func (p *ValidationPrinter) SetHeader(fn output.WriteFunc[ValidationResult]) {
	p.headerFunc = fn
}

// Item writes one finding, with its problems indented underneath on failure.
func (p *ValidationPrinter) Item(w io.Writer, result ValidationResult) error {
	if result.Valid {
		_, _ = fmt.Fprintf(w, "✓ %s\n", result.Target)
		return nil
	}

	_, _ = fmt.Fprintf(w, "✗ %s\n", result.Target)
	for _, problem := range result.Problems {
		_, _ = fmt.Fprintf(w, "    %s\n", problem)
	}

	return nil
}

// Footer writes a custom footer if one has been configured via SetFooter.
func (p *ValidationPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

// SetFooter configures a custom footer function for the printer.
func (p *ValidationPrinter) SetFooter(fn output.WriteFunc[ValidationResult]) {
	p.footerFunc = fn
}
