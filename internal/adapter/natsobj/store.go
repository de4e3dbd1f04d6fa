// Package natsobj implements the artifact store port on a JetStream
// object store bucket.
package natsobj

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/taskledger/taskledger/internal/domain"
)

// Store holds artifact blobs keyed by their opaque reference.
type Store struct {
	bucket jetstream.ObjectStore
}

// New creates a Store on the given bucket.
func New(bucket jetstream.ObjectStore) *Store {
	return &Store{bucket: bucket}
}

// Exists reports whether the reference resolves.
func (s *Store) Exists(ctx context.Context, ref string) (bool, error) {
	_, err := s.bucket.GetInfo(ctx, ref)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jetstream.ErrObjectNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("artifact info %s: %w", ref, err)
	}
}

// Put stores content under the reference and returns it.
func (s *Store) Put(ctx context.Context, ref string, content []byte) (string, error) {
	if _, err := s.bucket.PutBytes(ctx, ref, content); err != nil {
		return "", fmt.Errorf("artifact put %s: %w", ref, err)
	}
	return ref, nil
}

// Get returns the content behind the reference.
func (s *Store) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, ref)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("artifact %s: %w", ref, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("artifact get %s: %w", ref, err)
	}
	return data, nil
}
