package library

import (
	"context"
	"sync"
)

// Serializer owns the Database and lets at most one operation touch it at a
// time. Reads go through it as well, so no operation observes a torn write.
type Serializer struct {
	mu sync.Mutex
	db *Database
}

// NewSerializer wraps db.
func NewSerializer(db *Database) (*Serializer, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}
	return &Serializer{db: db}, nil
}

// WithStore runs fn with exclusive access to the store and returns its
// error. The lock is released on every exit path, panics included.
func (s *Serializer) WithStore(ctx context.Context, fn func(db *Database) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.db)
}

// WithStoreValue is WithStore for callbacks that produce a value.
func WithStoreValue[T any](ctx context.Context, s *Serializer, fn func(db *Database) (T, error)) (T, error) {
	var out T
	err := s.WithStore(ctx, func(db *Database) error {
		var err error
		out, err = fn(db)
		return err
	})
	return out, err
}

// Close waits for the in-flight operation and closes the store.
func (s *Serializer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
