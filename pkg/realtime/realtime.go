// Package realtime abstracts the hosted realtime database the dashboard
// talks to: a key-value hierarchy with subscribe/push semantics.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrNotFound       = errors.New("realtime: not found")
	ErrInvalidPath    = errors.New("realtime: invalid path")
	ErrUnsupportedKey = errors.New("realtime: order field not indexed")
)

// Backend is the client handle injected into the reconciler, the dispatcher
// and the other services.
type Backend interface {
	// Subscribe delivers the current value at path and then every change
	// under it until the returned Subscription is released or ctx ends.
	Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (Subscription, error)
	GetOnce(ctx context.Context, path string) (Snapshot, error)
	// Write replaces the value at path.
	Write(ctx context.Context, path string, value any) error
	// Merge sets only the given children of path.
	Merge(ctx context.Context, path string, partial map[string]any) error
	// PushNew appends value under collection with a generated key.
	PushNew(ctx context.Context, collection string, value any) (string, error)
	// QueryOrderedLimitedToLast returns the last n children of path ordered
	// ascending by orderField.
	QueryOrderedLimitedToLast(ctx context.Context, path, orderField string, n int) ([]Snapshot, error)
}

// Subscription is a disposable handle. Unsubscribe is idempotent and no
// callback fires after it returns.
type Subscription interface {
	Unsubscribe()
}

// SubscriptionFunc adapts a plain func to Subscription.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Snapshot is the value at one path.
type Snapshot struct {
	Key    string
	Raw    json.RawMessage
	Exists bool
}

// Decode unmarshals the snapshot into v. A missing value is ErrNotFound.
func (s Snapshot) Decode(v any) error {
	if !s.Exists || len(s.Raw) == 0 || string(s.Raw) == "null" {
		return ErrNotFound
	}
	return json.Unmarshal(s.Raw, v)
}

// Children decodes an object snapshot into its direct children, keyed by name.
func (s Snapshot) Children() (map[string]json.RawMessage, error) {
	out := map[string]json.RawMessage{}
	if !s.Exists {
		return out, nil
	}
	if err := json.Unmarshal(s.Raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func splitPath(path string) ([]string, error) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			return nil, ErrInvalidPath
		}
	}
	return parts, nil
}

func cleanPath(path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, "/"), nil
}

func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// related reports whether a change at changed is visible from watched.
func related(watched, changed string) bool {
	if watched == "" || watched == changed {
		return true
	}
	return strings.HasPrefix(changed, watched+"/") || strings.HasPrefix(watched, changed+"/") || changed == ""
}
