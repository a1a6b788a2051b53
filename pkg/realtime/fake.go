package realtime

import (
	"context"
	"sync"
)

// Faulty wraps a Backend and fails selected operations on demand. It is
// used by service tests to drive error paths.
type Faulty struct {
	Backend

	mu           sync.Mutex
	SubscribeErr error
	WriteErr     error
	MergeErr     error
	QueryErr     error
	Writes       []string
	Queries      int
	onError      []func(error)
}

func NewFaulty(b Backend) *Faulty { return &Faulty{Backend: b} }

func (f *Faulty) Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (Subscription, error) {
	f.mu.Lock()
	err := f.SubscribeErr
	if onError != nil {
		f.onError = append(f.onError, onError)
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.Subscribe(ctx, path, onData, onError)
}

// FailSubscriptions delivers err to every onError callback seen so far.
func (f *Faulty) FailSubscriptions(err error) {
	f.mu.Lock()
	cbs := append([]func(error){}, f.onError...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(err)
	}
}

func (f *Faulty) Write(ctx context.Context, path string, value any) error {
	f.mu.Lock()
	err := f.WriteErr
	f.Writes = append(f.Writes, path)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Backend.Write(ctx, path, value)
}

func (f *Faulty) Merge(ctx context.Context, path string, partial map[string]any) error {
	f.mu.Lock()
	err := f.MergeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Backend.Merge(ctx, path, partial)
}

func (f *Faulty) QueryOrderedLimitedToLast(ctx context.Context, path, orderField string, n int) ([]Snapshot, error) {
	f.mu.Lock()
	err := f.QueryErr
	f.Queries++
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Backend.QueryOrderedLimitedToLast(ctx, path, orderField, n)
}

func (f *Faulty) SetQueryErr(err error) {
	f.mu.Lock()
	f.QueryErr = err
	f.mu.Unlock()
}

func (f *Faulty) SetWriteErr(err error) {
	f.mu.Lock()
	f.WriteErr = err
	f.mu.Unlock()
}

func (f *Faulty) QueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Queries
}
