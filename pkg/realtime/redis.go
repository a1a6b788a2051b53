package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

const (
	redisPrefix   = "rt:"
	eventsPrefix  = "rt:events:"
	indexedField  = "timestamp"
	childrenSufx  = ":children"
	indexSufx     = ":idx"
	redisMaxTries = 5
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Redis keeps the tree in a Redis instance. Scalars and arrays live at
// rt:{path}, objects are expanded into child keys listed in
// rt:{path}:children, and children carrying a timestamp are scored in
// rt:{path}:idx.
type Redis struct {
	rdb *redis.Client
}

var _ Backend = (*Redis)(nil)

// DialRedis connects with exponential backoff and verifies the link with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second
	err := backoff.Retry(func() error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("realtime: redis ping %s failed: %v", cfg.Addr, err)
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, redisMaxTries-1), ctx))
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("realtime: connect redis %s: %w", cfg.Addr, err)
	}
	log.Printf("realtime: connected to redis at %s", cfg.Addr)
	return &Redis{rdb: rdb}, nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) Close() error { return r.rdb.Close() }

func docKey(p string) string      { return redisPrefix + p }
func childrenKey(p string) string { return redisPrefix + p + childrenSufx }
func indexKey(p string) string    { return redisPrefix + p + indexSufx }
func eventsKey(p string) string   { return eventsPrefix + p }

func join(parent, child string) string {
	if parent == "" {
		return child
	}
	return parent + "/" + child
}

func parentOf(p string) (string, bool) {
	if p == "" {
		return "", false
	}
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i], true
	}
	return "", true
}

func (r *Redis) GetOnce(ctx context.Context, path string) (Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}
	v, err := r.load(ctx, p)
	if err != nil {
		return Snapshot{}, fmt.Errorf("realtime: get %s: %w", p, err)
	}
	s := Snapshot{Key: lastSegment(p)}
	if v == nil {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, fmt.Errorf("realtime: get %s: %w", p, err)
	}
	s.Raw, s.Exists = raw, true
	return s, nil
}

// load rebuilds the value at p; nil means absent.
func (r *Redis) load(ctx context.Context, p string) (any, error) {
	raw, err := r.rdb.Get(ctx, docKey(p)).Bytes()
	switch {
	case err == nil:
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case !errors.Is(err, redis.Nil):
		return nil, err
	}

	kids, err := r.rdb.SMembers(ctx, childrenKey(p)).Result()
	if err != nil {
		return nil, err
	}
	if len(kids) == 0 {
		return nil, nil
	}
	obj := make(map[string]any, len(kids))
	for _, k := range kids {
		v, err := r.load(ctx, join(p, k))
		if err != nil {
			return nil, err
		}
		if v != nil {
			obj[k] = v
		}
	}
	if len(obj) == 0 {
		return nil, nil
	}
	return obj, nil
}

// subtree lists p and every stored descendant path.
func (r *Redis) subtree(ctx context.Context, p string) ([]string, error) {
	out := []string{p}
	kids, err := r.rdb.SMembers(ctx, childrenKey(p)).Result()
	if err != nil {
		return nil, err
	}
	for _, k := range kids {
		sub, err := r.subtree(ctx, join(p, k))
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

func (r *Redis) Write(ctx context.Context, path string, value any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	v, err := normalize(value)
	if err != nil {
		return fmt.Errorf("realtime: write %s: %w", p, err)
	}
	touched, err := r.replace(ctx, map[string]any{p: v})
	if err != nil {
		return fmt.Errorf("realtime: write %s: %w", p, err)
	}
	return r.publish(ctx, p, touched)
}

func (r *Redis) Merge(ctx context.Context, path string, partial map[string]any) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}
	sets := make(map[string]any, len(partial))
	for k, raw := range partial {
		child, err := cleanPath(k)
		if err != nil || child == "" {
			return fmt.Errorf("realtime: merge %s: bad key %q", p, k)
		}
		v, err := normalize(raw)
		if err != nil {
			return fmt.Errorf("realtime: merge %s/%s: %w", p, k, err)
		}
		sets[join(p, child)] = v
	}
	touched, err := r.replace(ctx, sets)
	if err != nil {
		return fmt.Errorf("realtime: merge %s: %w", p, err)
	}
	return r.publish(ctx, p, touched)
}

func (r *Redis) PushNew(ctx context.Context, collection string, value any) (string, error) {
	p, err := cleanPath(collection)
	if err != nil {
		return "", err
	}
	// INCR keeps keys sortable in insertion order.
	n, err := r.rdb.Incr(ctx, redisPrefix+"seq:"+p).Result()
	if err != nil {
		return "", fmt.Errorf("realtime: push %s: %w", p, err)
	}
	key := fmt.Sprintf("%d-%06d", time.Now().UnixMilli(), n)
	if err := r.Write(ctx, join(p, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// replace clears the subtree of every target path and stores the new values
// in one MULTI block. It returns every path whose value changed.
func (r *Redis) replace(ctx context.Context, sets map[string]any) ([]string, error) {
	var stale []string
	for p := range sets {
		sub, err := r.subtree(ctx, p)
		if err != nil {
			return nil, err
		}
		stale = append(stale, sub...)
	}

	var fresh []string
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, sp := range stale {
			pipe.Del(ctx, docKey(sp), childrenKey(sp), indexKey(sp))
		}
		for p, v := range sets {
			if parent, ok := parentOf(p); ok {
				pipe.SRem(ctx, childrenKey(parent), lastSegment(p))
				pipe.ZRem(ctx, indexKey(parent), lastSegment(p))
			}
			if v == nil {
				continue
			}
			linkAncestors(ctx, pipe, p, v)
			var err error
			fresh, err = storeValue(ctx, pipe, p, v, fresh)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append(stale, fresh...), nil
}

func linkAncestors(ctx context.Context, pipe redis.Pipeliner, p string, v any) {
	child := p
	for {
		parent, ok := parentOf(child)
		if !ok {
			return
		}
		pipe.SAdd(ctx, childrenKey(parent), lastSegment(child))
		// an object ancestor replaces any scalar stored there
		pipe.Del(ctx, docKey(parent))
		if child == p {
			if obj, ok := v.(map[string]any); ok {
				if ts, ok := obj[indexedField].(float64); ok {
					pipe.ZAdd(ctx, indexKey(parent), redis.Z{Score: ts, Member: lastSegment(p)})
				}
			}
		}
		child = parent
	}
}

func storeValue(ctx context.Context, pipe redis.Pipeliner, p string, v any, acc []string) ([]string, error) {
	acc = append(acc, p)
	obj, ok := v.(map[string]any)
	if !ok {
		raw, err := json.Marshal(v)
		if err != nil {
			return acc, err
		}
		pipe.Set(ctx, docKey(p), raw, 0)
		return acc, nil
	}
	for k, cv := range obj {
		if cv == nil {
			continue
		}
		cp := join(p, k)
		pipe.SAdd(ctx, childrenKey(p), k)
		if co, ok := cv.(map[string]any); ok {
			if ts, ok := co[indexedField].(float64); ok {
				pipe.ZAdd(ctx, indexKey(p), redis.Z{Score: ts, Member: k})
			}
		}
		var err error
		acc, err = storeValue(ctx, pipe, cp, cv, acc)
		if err != nil {
			return acc, err
		}
	}
	return acc, nil
}

// publish announces changed on its own channel, every ancestor channel and
// every touched descendant channel.
func (r *Redis) publish(ctx context.Context, changed string, touched []string) error {
	seen := map[string]bool{}
	pipe := r.rdb.Pipeline()
	add := func(ch string) {
		if seen[ch] {
			return
		}
		seen[ch] = true
		pipe.Publish(ctx, eventsKey(ch), changed)
	}
	add(changed)
	for p, ok := parentOf(changed); ok; p, ok = parentOf(p) {
		add(p)
	}
	for _, t := range touched {
		add(t)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", changed, err)
	}
	return nil
}

func (r *Redis) QueryOrderedLimitedToLast(ctx context.Context, path, orderField string, n int) ([]Snapshot, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if orderField != indexedField {
		return nil, fmt.Errorf("realtime: query %s by %q: %w", p, orderField, ErrUnsupportedKey)
	}
	start := int64(0)
	if n > 0 {
		start = -int64(n)
	}
	keys, err := r.rdb.ZRange(ctx, indexKey(p), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("realtime: query %s: %w", p, err)
	}
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		s, err := r.GetOnce(ctx, join(p, k))
		if err != nil {
			return nil, err
		}
		if s.Exists {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *Redis) Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (Subscription, error) {
	p, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if onData == nil {
		return nil, fmt.Errorf("realtime: subscribe %s: nil callback", p)
	}
	if onError == nil {
		onError = func(err error) { log.Printf("realtime: subscription %s: %v", p, err) }
	}

	ps := r.rdb.Subscribe(ctx, eventsKey(p))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", p, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	var closed atomic.Bool
	var once sync.Once
	unsub := SubscriptionFunc(func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
			_ = ps.Close()
		})
	})

	deliver := func() {
		snap, err := r.GetOnce(subCtx, p)
		if closed.Load() {
			return
		}
		if err != nil {
			onError(err)
			return
		}
		onData(snap)
	}

	deliver()
	go func() {
		defer unsub()
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if related(p, msg.Payload) {
					deliver()
				}
			}
		}
	}()
	return unsub, nil
}
