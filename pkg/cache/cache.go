// Package cache stores serialised analysis reports keyed by a fingerprint of
// the dataset and the settings that produced them.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ErrMiss is returned by Get when no entry exists for the key.
var ErrMiss = errors.New("cache miss")

// ReportCache provides report payloads by key.
type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, payload []byte) error
}

// Fingerprint hashes the dataset bytes together with every settings part.
// Parts are length-prefixed so that ("ab", "c") and ("a", "bc") differ.
func Fingerprint(data []byte, parts ...string) string {
	d := xxhash.New()
	_, _ = d.Write(data)
	for _, p := range parts {
		_, _ = fmt.Fprintf(d, "|%d:", len(p))
		_, _ = d.WriteString(p)
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Nop never stores anything. It stands in when caching is disabled or the
// backing store is unreachable.
type Nop struct{}

// Get always misses.
func (Nop) Get(context.Context, string) ([]byte, error) {
	return nil, ErrMiss
}

// Set discards the payload.
func (Nop) Set(context.Context, string, []byte) error {
	return nil
}
