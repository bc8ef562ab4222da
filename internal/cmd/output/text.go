package output

import (
	"io"
)

var _ Handler[any] = (*TextHandler[any])(nil)

// TextHandler renders items through a ListPrinter for terminal consumption.
type TextHandler[T any] struct {
	out     io.Writer
	printer ListPrinter[T]
}

func NewTextHandler[T any](w io.Writer, p ListPrinter[T]) *TextHandler[T] {
	return &TextHandler[T]{
		out:     w,
		printer: p,
	}
}

// Writer returns the underlying io.Writer where text will be written.
func (h *TextHandler[T]) Writer() io.Writer {
	return h.out
}

// HandleResult renders a single item without the empty-collection fallback.
func (h *TextHandler[T]) HandleResult(item T) error {
	h.printer.Header(h.out, 1)

	if err := h.printer.Item(h.out, item); err != nil {
		return err
	}

	h.printer.Footer(h.out, 1)

	return nil
}

func (h *TextHandler[T]) HandleResults(items ...T) error {
	if len(items) == 0 {
		_, _ = io.WriteString(h.out, "No items found\n")
		return nil
	}

	h.printer.Header(h.out, len(items))

	for _, it := range items {
		if err := h.printer.Item(h.out, it); err != nil {
			return err
		}
	}

	h.printer.Footer(h.out, len(items))

	return nil
}

func (h *TextHandler[T]) HandleError(err error) error {
	return err
}
