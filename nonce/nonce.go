// Package nonce generates the correlation tokens embedded in requests and
// echoed back by the peer in replies.
package nonce

import (
	"strings"

	"github.com/google/uuid"
)

// AsyncPrefix tags nonces handed back to callers of asynchronous commands.
const AsyncPrefix = "async-"

// Generator produces nonces that are unique among all in-flight requests.
// The zero value is ready to use and safe for concurrent use.
type Generator struct {
	newID func() string // overridable in tests
}

// New returns a Generator backed by random (version 4) UUIDs.
func New() *Generator {
	return &Generator{newID: uuid.NewString}
}

// Next returns a fresh nonce. async only changes the tag, never uniqueness.
func (g *Generator) Next(async bool) string {
	id := g.id()
	if async {
		return AsyncPrefix + id
	}
	return id
}

func (g *Generator) id() string {
	if g == nil || g.newID == nil {
		return uuid.NewString()
	}
	return g.newID()
}

// IsAsync reports whether n was generated for an asynchronous command.
func IsAsync(n string) bool {
	return strings.HasPrefix(n, AsyncPrefix)
}
