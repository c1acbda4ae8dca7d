package pipeline

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/kiln-build/kiln/internal/gate"
)

// TransformerFunc adapts a function to the Transformer interface.
type TransformerFunc func(ctx context.Context, source []byte) ([]byte, gate.Diagnostics, error)

func (f TransformerFunc) Transform(ctx context.Context, source []byte) ([]byte, gate.Diagnostics, error) {
	return f(ctx, source)
}

// PassThrough is the default transformer: it forwards the source unchanged
// and only sanity-checks the payload. Real transformers are external
// collaborators plugged in by the caller.
type PassThrough struct{}

func (PassThrough) Transform(_ context.Context, source []byte) ([]byte, gate.Diagnostics, error) {
	if len(source) == 0 {
		return nil, gate.Diagnostics{Critical: 1}, nil
	}
	if !utf8.Valid(source) {
		return nil, gate.Diagnostics{}, fmt.Errorf("source is not valid UTF-8")
	}
	return source, gate.Diagnostics{}, nil
}
