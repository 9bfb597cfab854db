// Package tokenestimate provides budgeting-grade token count estimates.
//
// DESIGN: spec §9's open question on token-estimation heuristics is resolved
// here as: try tiktoken-go's BPE encoder for the model family when one is
// known, otherwise fall back to the char÷4 heuristic the teacher already
// centralizes as config.TokenEstimateRatio. Both paths are "estimates are
// sufficient for budgeting" (spec §1 non-goal), never exact-count claims.
package tokenestimate

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// CharsPerToken is the fallback heuristic ratio, mirrored from the teacher's
// internal/config.TokenEstimateRatio.
const CharsPerToken = 4

// Estimator estimates token counts for budgeting purposes. It is safe for
// concurrent use; the underlying tiktoken encoders are cached per model.
type Estimator struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// New creates an Estimator with an empty encoder cache.
func New() *Estimator {
	return &Estimator{encoders: make(map[string]*tiktoken.Tiktoken)}
}

// Estimate returns a best-effort token count for text under the named
// model. modelName may be an Azure deployment name (no BPE mapping exists,
// falls straight to the heuristic) or a known OpenAI model family.
func (e *Estimator) Estimate(modelName, text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoderFor(modelName); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return charHeuristic(text)
}

func (e *Estimator) encoderFor(modelName string) *tiktoken.Tiktoken {
	key := normalizeModelName(modelName)
	if key == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[key]; ok {
		return enc // nil is a cached "no encoding available" result
	}

	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		e.encoders[key] = nil
		return nil
	}
	e.encoders[key] = enc
	return enc
}

// normalizeModelName trims surrounding whitespace only; no suffix or date is
// removed. "gpt-4o-2024-11-20" reaches tiktoken as-is (tiktoken handles dated
// snapshots), while "my-custom-gpt4-deployment" has no mapping and falls
// through to the heuristic.
func normalizeModelName(modelName string) string {
	return strings.TrimSpace(modelName)
}

// charHeuristic implements the char÷4 fallback, counting runes (not bytes)
// so multi-byte UTF-8 content isn't over-counted.
func charHeuristic(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	tokens := n / CharsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
