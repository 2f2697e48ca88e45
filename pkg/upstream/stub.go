package upstream

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sync"
)

// Stub is an in-memory Gateway used by tests and local development. It
// never talks to a real network.
type Stub struct {
	mu        sync.RWMutex
	data      map[string][]byte
	metadata  map[string][]Metadata
	notFound  map[string]bool
	forbidden map[string]bool
	failData  map[string]error
	block     map[string]<-chan struct{}
}

// NewStub creates an empty Stub.
func NewStub() *Stub {
	return &Stub{
		data:      make(map[string][]byte),
		metadata:  make(map[string][]Metadata),
		notFound:  make(map[string]bool),
		forbidden: make(map[string]bool),
		failData:  make(map[string]error),
		block:     make(map[string]<-chan struct{}),
	}
}

// Seed registers an object's data and metadata.
func (s *Stub) Seed(upstreamPath string, data []byte, metadata []Metadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[upstreamPath] = data
	s.metadata[upstreamPath] = metadata
}

// MarkNotFound makes subsequent calls for upstreamPath return a not-found
// condition from every method.
func (s *Stub) MarkNotFound(upstreamPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notFound[upstreamPath] = true
}

// MarkForbidden makes subsequent calls for upstreamPath return a
// forbidden condition from every method.
func (s *Stub) MarkForbidden(upstreamPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forbidden[upstreamPath] = true
}

// FailDataOnce makes the next FetchData call for upstreamPath return err,
// then clears the failure so a retry succeeds.
func (s *Stub) FailDataOnce(upstreamPath string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failData[upstreamPath] = err
}

// Block makes subsequent FetchData calls for upstreamPath wait until
// release closes (or ctx is cancelled) before copying any bytes, letting
// tests observe a fetch mid-flight, or cancel one, deterministically.
func (s *Stub) Block(upstreamPath string, release <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block[upstreamPath] = release
}

func (s *Stub) FetchMetadata(ctx context.Context, upstreamPath string) (ObjectMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notFound[upstreamPath] {
		return ObjectMetadata{}, ErrNotFound
	}
	if s.forbidden[upstreamPath] {
		return ObjectMetadata{}, ErrForbidden
	}
	data := s.data[upstreamPath]
	sum := md5.Sum(data)
	return ObjectMetadata{
		Size:     uint64(len(data)),
		Checksum: hex.EncodeToString(sum[:]),
		AVUs:     s.metadata[upstreamPath],
	}, nil
}

func (s *Stub) FetchData(ctx context.Context, upstreamPath string, w io.Writer) (int64, error) {
	s.mu.Lock()
	release := s.block[upstreamPath]
	if err := s.failData[upstreamPath]; err != nil {
		delete(s.failData, upstreamPath)
		s.mu.Unlock()
		return 0, err
	}
	if s.notFound[upstreamPath] {
		s.mu.Unlock()
		return 0, ErrNotFound
	}
	if s.forbidden[upstreamPath] {
		s.mu.Unlock()
		return 0, ErrForbidden
	}
	data := s.data[upstreamPath]
	s.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	n, err := w.Write(data)
	return int64(n), err
}

func (s *Stub) UpstreamChecksum(ctx context.Context, upstreamPath string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notFound[upstreamPath] {
		return "", ErrNotFound
	}
	if s.forbidden[upstreamPath] {
		return "", ErrForbidden
	}
	sum := md5.Sum(s.data[upstreamPath])
	return hex.EncodeToString(sum[:]), nil
}

var _ Gateway = (*Stub)(nil)
