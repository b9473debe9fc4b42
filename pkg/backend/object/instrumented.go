package object

import (
	"context"
	"io"
	"time"
)

// Instrumented wraps a Store with Prometheus metrics.
type Instrumented struct {
	inner Store
}

func NewInstrumented(inner Store) *Instrumented {
	return &Instrumented{inner: inner}
}

func (s *Instrumented) Put(ctx context.Context, key string, body io.Reader) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Put(ctx, key, body)
	observeOp("put", time.Since(start).Seconds(), err)
	return info, err
}

func (s *Instrumented) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	start := time.Now()
	rc, info, err := s.inner.Get(ctx, key)
	observeOp("get", time.Since(start).Seconds(), err)
	return rc, info, err
}

func (s *Instrumented) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	start := time.Now()
	info, err := s.inner.Head(ctx, key)
	observeOp("head", time.Since(start).Seconds(), err)
	return info, err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.inner.Delete(ctx, key)
	observeOp("delete", time.Since(start).Seconds(), err)
	return err
}

func (s *Instrumented) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	start := time.Now()
	infos, err := s.inner.List(ctx, prefix)
	observeOp("list", time.Since(start).Seconds(), err)
	return infos, err
}
