// Package credentials hands out outbound API credentials in round-robin order.
package credentials

import (
	"sync"

	"github.com/rewired-gh/soulwatch/internal/apperr"
)

// Rotator holds an immutable pool of interchangeable tokens and a shared cursor.
type Rotator struct {
	mu     sync.Mutex
	tokens []string
	cursor int
}

// NewRotator validates the pool once. An empty pool, or one containing an
// empty token, is a configuration error.
func NewRotator(tokens []string) (*Rotator, error) {
	if len(tokens) == 0 {
		return nil, apperr.Configuration("credential pool is empty")
	}
	for i, tok := range tokens {
		if tok == "" {
			return nil, apperr.Configuration("credential %d is empty", i+1)
		}
	}
	return &Rotator{tokens: append([]string(nil), tokens...)}, nil
}

// Next returns the token under the cursor and advances it.
func (r *Rotator) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok := r.tokens[r.cursor]
	r.cursor = (r.cursor + 1) % len(r.tokens)
	return tok
}

// Size returns the pool size.
func (r *Rotator) Size() int {
	return len(r.tokens)
}
