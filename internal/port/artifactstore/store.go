// Package artifactstore defines the port interface for artifact references.
package artifactstore

import "context"

// Store resolves opaque artifact references attached to tasks. The
// engine never interprets artifact contents; it only records and
// checks that a reference resolves.
type Store interface {
	// Exists reports whether the given artifact reference resolves.
	Exists(ctx context.Context, ref string) (bool, error)

	// Put stores content under a reference and returns the reference.
	Put(ctx context.Context, ref string, content []byte) (string, error)

	// Get returns the content behind a reference.
	Get(ctx context.Context, ref string) ([]byte, error)
}
