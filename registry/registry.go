// Package registry locates the IPC endpoints a peer process is listening on.
//
// The peer listens on a unix socket named "<name>-<index>" (index 0..9) in
// one of several runtime directories. Multiple peer instances take
// consecutive indexes; clients connect to the first one that answers.
package registry

import "errors"

// ErrNotFound is returned when no endpoint matches.
var ErrNotFound = errors.New("registry: no ipc endpoint found")

// DefaultName is the socket base name used by the peer.
const DefaultName = "discord-ipc"

// Endpoint is one candidate address for the peer.
type Endpoint struct {
	Network string // "unix"
	Addr    string
	Index   int
}

type Registry interface {
	// Discover returns candidate endpoints in preference order.
	Discover(name string) ([]Endpoint, error)
}

// Static always returns the same endpoints, e.g. an explicitly configured socket.
type Static []Endpoint

func (s Static) Discover(string) ([]Endpoint, error) {
	if len(s) == 0 {
		return nil, ErrNotFound
	}
	out := make([]Endpoint, len(s))
	copy(out, s)
	return out, nil
}
