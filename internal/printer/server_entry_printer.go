// Package printer holds the text renderers the CLI output handlers delegate to.
package printer

import (
	"fmt"
	"io"
	"strings"

	"github.com/mcpmux/mcpmux/internal/cmd/output"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
)

var _ output.Printer[config.ServerEntry] = (*ServerEntryPrinter)(nil)

// ServerEntryPrinter renders configured backend servers for terminal output.
type ServerEntryPrinter struct {
	headerFunc output.WriteFunc[config.ServerEntry]
	footerFunc output.WriteFunc[config.ServerEntry]
}

func NewServerEntryPrinter() *ServerEntryPrinter {
	return &ServerEntryPrinter{
		headerFunc: DefaultServerEntryHeader(),
	}
}

// Header writes the configured header.
func (p *ServerEntryPrinter) Header(w io.Writer, count int) {
	if p.headerFunc != nil {
		p.headerFunc(w, count)
	}
}

// SetHeader configures a custom header function for the printer.
func (p *ServerEntryPrinter) SetHeader(fn output.WriteFunc[config.ServerEntry]) {
	p.headerFunc = fn
}

// Item writes one server entry with the launch details its kind carries.
func (p *ServerEntryPrinter) Item(w io.Writer, entry config.ServerEntry) error {
	_, _ = fmt.Fprintf(w, "  %s (%s)\n", entry.Name, entry.Kind)

	switch entry.Kind {
	case domain.ServerKindStdio:
		cmdLine := entry.Command
		if len(entry.Args) > 0 {
			cmdLine += " " + strings.Join(entry.Args, " ")
		}
		_, _ = fmt.Fprintf(w, "    Command: %s\n", cmdLine)
	case domain.ServerKindEmbedded:
		_, _ = fmt.Fprintf(w, "    Module: %s\n", entry.Module)
	default:
		_, _ = fmt.Fprintf(w, "    URL: %s\n", entry.URL)
	}

	if entry.RestartPolicy != "" && entry.RestartPolicy != domain.RestartNever {
		_, _ = fmt.Fprintf(w, "    Restart: %s (max %d, delay %s)\n",
			entry.EffectiveRestartPolicy(),
			entry.EffectiveMaxRestarts(),
			entry.EffectiveRestartDelay(),
		)
	}

	if entry.HealthInterval.Duration > 0 {
		_, _ = fmt.Fprintf(w, "    Health interval: %s\n", entry.HealthInterval.Duration)
	}

	if entry.IdleTimeout.Duration > 0 {
		_, _ = fmt.Fprintf(w, "    Idle timeout: %s\n", entry.IdleTimeout.Duration)
	}

	return nil
}

// Footer writes a custom footer if one has been configured via SetFooter.
func (p *ServerEntryPrinter) Footer(w io.Writer, count int) {
	if p.footerFunc != nil {
		p.footerFunc(w, count)
	}
}

// SetFooter configures a custom footer function for the printer.
func (p *ServerEntryPrinter) SetFooter(fn output.WriteFunc[config.ServerEntry]) {
	p.footerFunc = fn
}

func DefaultServerEntryHeader() output.WriteFunc[config.ServerEntry] {
	return func(w io.Writer, count int) {
		_, _ = fmt.Fprintf(w, "Configured servers (%d total):\n", count)
	}
}
