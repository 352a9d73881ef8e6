package dispatch

import (
	"context"
	"fmt"
	"io"
	"sync"

	"policy-compiler/internal/model"
)

// NameLookup maps an address back to its alias.
type NameLookup interface {
	ReverseLookup(address string) (string, bool)
}

// PreviewWriter is a Dispatcher that prints "<device>\t<rule>" lines instead
// of delivering anything. Known devices get their alias appended as a
// trailing "# name" column.
type PreviewWriter struct {
	mu    sync.Mutex
	w     io.Writer
	names NameLookup
}

func NewPreviewWriter(w io.Writer, names NameLookup) *PreviewWriter {
	return &PreviewWriter{w: w, names: names}
}

func (p *PreviewWriter) Deliver(_ context.Context, device string, rule model.ConcreteRule) error {
	line := fmt.Sprintf("%s\t%s", device, rule.String())
	if p.names != nil {
		if name, ok := p.names.ReverseLookup(device); ok {
			line += "\t# " + name
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.w, line); err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return nil
}
