// Package gen provides the text generation collaborator that turns raw
// ad descriptions into publishable captions.
package gen

import "context"

// Generator rewrites source text into a caption. When instruction is
// non-empty it is applied as an edit request against source. Failures
// must be surfaced to the caller; they never mutate conversation state.
type Generator interface {
	Generate(ctx context.Context, source, instruction string) (string, error)
}
