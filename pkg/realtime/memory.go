package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Memory is an in-process Backend holding a JSON tree. Callbacks run
// synchronously on the writer's goroutine after the tree lock is released.
type Memory struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*memSub
	nextID int
	newKey func() string
}

type memSub struct {
	path   string
	onData func(Snapshot)
	closed atomic.Bool
}

var _ Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		root:   map[string]any{},
		subs:   map[int]*memSub{},
		newKey: uuid.NewString,
	}
}

func (m *Memory) Subscribe(ctx context.Context, path string, onData func(Snapshot), _ func(error)) (Subscription, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if onData == nil {
		return nil, fmt.Errorf("realtime: subscribe %s: nil callback", p)
	}
	s := &memSub{path: p, onData: onData}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = s
	snap := m.snapshotLocked(p)
	m.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	unsub := SubscriptionFunc(func() {
		once.Do(func() {
			s.closed.Store(true)
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(done)
		})
	})
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				unsub()
			case <-done:
			}
		}()
	}

	if !s.closed.Load() {
		s.onData(snap)
	}
	return unsub, nil
}

func (m *Memory) GetOnce(_ context.Context, path string) (Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(p), nil
}

func (m *Memory) Write(_ context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return fmt.Errorf("realtime: write %s: %w", p, err)
	}
	m.mu.Lock()
	m.setLocked(p, v)
	m.mu.Unlock()
	m.notify(p)
	return nil
}

func (m *Memory) Merge(_ context.Context, path string, partial map[string]any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	type kv struct {
		path string
		val  any
	}
	sets := make([]kv, 0, len(partial))
	for k, raw := range partial {
		child, err := cleanPath(k)
		if err != nil || child == "" {
			return fmt.Errorf("realtime: merge %s: bad key %q", p, k)
		}
		v, err := normalize(raw)
		if err != nil {
			return fmt.Errorf("realtime: merge %s/%s: %w", p, k, err)
		}
		full := child
		if p != "" {
			full = p + "/" + child
		}
		sets = append(sets, kv{full, v})
	}
	m.mu.Lock()
	for _, s := range sets {
		m.setLocked(s.path, s.val)
	}
	m.mu.Unlock()
	m.notify(p)
	return nil
}

func (m *Memory) PushNew(ctx context.Context, collection string, value any) (string, error) {
	p, err := cleanPath(collection)
	if err != nil {
		return "", err
	}
	key := m.newKey()
	if err := m.Write(ctx, p+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

func (m *Memory) QueryOrderedLimitedToLast(_ context.Context, path, orderField string, n int) ([]Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	node, _ := m.getLocked(p).(map[string]any)
	type row struct {
		key   string
		order float64
		val   any
	}
	rows := make([]row, 0, len(node))
	for k, v := range node {
		rec, ok := v.(map[string]any)
		if !ok {
			continue
		}
		o, _ := rec[orderField].(float64)
		rows = append(rows, row{k, o, v})
	}
	m.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].order != rows[j].order {
			return rows[i].order < rows[j].order
		}
		return rows[i].key < rows[j].key
	})
	if n > 0 && len(rows) > n {
		rows = rows[len(rows)-n:]
	}
	out := make([]Snapshot, 0, len(rows))
	for _, r := range rows {
		raw, err := json.Marshal(r.val)
		if err != nil {
			return nil, err
		}
		out = append(out, Snapshot{Key: r.key, Raw: raw, Exists: true})
	}
	return out, nil
}

func (m *Memory) notify(changed string) {
	type delivery struct {
		sub  *memSub
		snap Snapshot
	}
	m.mu.Lock()
	ids := make([]int, 0, len(m.subs))
	for id, s := range m.subs {
		if related(s.path, changed) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	out := make([]delivery, 0, len(ids))
	for _, id := range ids {
		s := m.subs[id]
		out = append(out, delivery{s, m.snapshotLocked(s.path)})
	}
	m.mu.Unlock()

	for _, d := range out {
		if d.sub.closed.Load() {
			continue
		}
		d.sub.onData(d.snap)
	}
}

func (m *Memory) snapshotLocked(p string) Snapshot {
	v := m.getLocked(p)
	s := Snapshot{Key: lastSegment(p)}
	if v == nil {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return s
	}
	s.Raw = raw
	s.Exists = true
	return s
}

func (m *Memory) getLocked(p string) any {
	parts, _ := splitPath(p)
	var cur any = m.root
	for _, part := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	if node, ok := cur.(map[string]any); ok && len(node) == 0 {
		return nil
	}
	return cur
}

func (m *Memory) setLocked(p string, v any) {
	parts, _ := splitPath(p)
	if len(parts) == 0 {
		if obj, ok := v.(map[string]any); ok {
			m.root = obj
		} else {
			m.root = map[string]any{}
		}
		return
	}
	node := m.root
	trail := []map[string]any{node}
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = map[string]any{}
			node[part] = next
		}
		node = next
		trail = append(trail, node)
	}
	last := parts[len(parts)-1]
	if v == nil {
		delete(node, last)
		// prune empty parents
		for i := len(trail) - 1; i > 0; i-- {
			if len(trail[i]) > 0 {
				break
			}
			delete(trail[i-1], parts[i-1])
		}
		return
	}
	node[last] = v
}

// normalize round-trips value through JSON so the tree only holds
// map[string]any, []any, float64, string, bool and nil.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
