// Package kv provides the key/value backends persisted incident state lives in.
package kv

import (
	"context"
	"errors"
	"time"
)

// Backend is the storage capability the incident store is written against.
// A zero ttl stores the value without expiry.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrMiss signals that a key was not found or has expired.
var ErrMiss = errors.New("kv: key not found")
