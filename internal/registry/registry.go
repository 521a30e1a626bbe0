// Package registry describes the hierarchical key/value store that
// registrator writes service instances into, independently of the wire
// protocol used to read it.
//
// Layout expected under the watched path:
//
//	<path>/<service-name>/<container>:<ip>:<port>[:<protocol>] = <hostname>:<port>
package registry

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMissingIndex is returned when a read carries no usable change index.
	ErrMissingIndex = errors.New("registry response has no change index")

	// ErrUnexpectedStatus is matched by every *StatusError.
	ErrUnexpectedStatus = errors.New("unexpected registry status")
)

// Node is one entry of the registry tree: a directory holding Nodes, or a
// leaf holding Value.
type Node struct {
	Key   string  `json:"key"`
	Value string  `json:"value,omitempty"`
	Dir   bool    `json:"dir,omitempty"`
	Nodes []*Node `json:"nodes,omitempty"`
}

// Response is the result of a full recursive read.
type Response struct {
	// Node is the root of the watched subtree.
	Node *Node
	// Index is the registry change index the read is consistent with.
	// Waiting for Index+1 reports the first change after this read.
	Index uint64
}

// Client reads a watched subtree and blocks for changes under it.
type Client interface {
	// Fetch reads the whole watched subtree.
	Fetch(ctx context.Context) (*Response, error)

	// Wait blocks until something under the watched subtree changes at or
	// after index. The content of the change is not reported.
	Wait(ctx context.Context, index uint64) error

	// Address identifies the registry and watched path, for logs.
	Address() string
}

// StatusError is returned when the registry answers with an unexpected
// HTTP status.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry %s returned status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("registry %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }
