package realtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb)
}

func TestRedisWriteGetOnce(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	err := r.Write(ctx, "deviceData/d1", map[string]any{
		"moisture":    55,
		"valveStatus": "OFF",
		"settings":    map[string]any{"autoWatering": true},
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var got struct {
		Moisture    float64 `json:"moisture"`
		ValveStatus string  `json:"valveStatus"`
		Settings    struct {
			AutoWatering bool `json:"autoWatering"`
		} `json:"settings"`
	}
	snap, err := r.GetOnce(ctx, "deviceData/d1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := snap.Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Moisture != 55 || got.ValveStatus != "OFF" || !got.Settings.AutoWatering {
		t.Errorf("round trip: %+v", got)
	}

	// Overwrite drops old children.
	_ = r.Write(ctx, "deviceData/d1", map[string]any{"moisture": 60})
	snap, _ = r.GetOnce(ctx, "deviceData/d1/settings")
	if snap.Exists {
		t.Errorf("stale child survived overwrite: %s", snap.Raw)
	}
}

func TestRedisMerge(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	_ = r.Write(ctx, "users/u/devices/a", map[string]any{"name": "Garden"})
	if err := r.Merge(ctx, "users/u/devices/a", map[string]any{"status": "removed"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	var dev map[string]any
	snap, _ := r.GetOnce(ctx, "users/u/devices/a")
	_ = snap.Decode(&dev)
	if dev["name"] != "Garden" || dev["status"] != "removed" {
		t.Errorf("merged: %v", dev)
	}
}

func TestRedisQueryOrdered(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	for _, ts := range []int{300, 100, 200} {
		if _, err := r.PushNew(ctx, "deviceData/d1/history", map[string]any{"timestamp": ts}); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, err := r.QueryOrderedLimitedToLast(ctx, "deviceData/d1/history", "timestamp", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len: got %d, want 2", len(got))
	}
	for i, want := range []float64{200, 300} {
		var rec struct {
			Timestamp float64 `json:"timestamp"`
		}
		_ = got[i].Decode(&rec)
		if rec.Timestamp != want {
			t.Errorf("row %d: got %v, want %v", i, rec.Timestamp, want)
		}
	}

	if _, err := r.QueryOrderedLimitedToLast(ctx, "deviceData/d1/history", "moisture", 2); !errors.Is(err, ErrUnsupportedKey) {
		t.Errorf("got %v, want ErrUnsupportedKey", err)
	}
}

func TestRedisSubscribe(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)

	got := make(chan Snapshot, 8)
	sub, err := r.Subscribe(ctx, "deviceData/d1", func(s Snapshot) { got <- s }, func(error) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case s := <-got:
		if s.Exists {
			t.Errorf("initial snapshot should be empty, got %s", s.Raw)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	_ = r.Merge(ctx, "deviceData/d1", map[string]any{"moisture": 33})
	select {
	case s := <-got:
		var live struct {
			Moisture float64 `json:"moisture"`
		}
		if err := s.Decode(&live); err != nil || live.Moisture != 33 {
			t.Errorf("change: %v %+v", err, live)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change not delivered")
	}
}
