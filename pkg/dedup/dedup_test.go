package dedup

import (
	"testing"
	"time"
)

func TestShouldProcess(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Minute, 10).WithClock(func() time.Time { return now })

	if !d.ShouldProcess("a") {
		t.Fatal("first sighting should be processed")
	}
	if d.ShouldProcess("a") {
		t.Error("redelivery inside TTL should be dropped")
	}
	if !d.ShouldProcess("") {
		t.Error("empty id is always processed")
	}

	now = now.Add(2 * time.Minute)
	if !d.ShouldProcess("a") {
		t.Error("id should be processed again after TTL")
	}
}

func TestShouldProcessEvictsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d := New(time.Second, 2).WithClock(func() time.Time { return now })
	d.ShouldProcess("a")
	d.ShouldProcess("b")
	now = now.Add(time.Minute)
	d.ShouldProcess("c")
	if d.Len() > 2 {
		t.Errorf("expired entries not evicted: %d", d.Len())
	}
}
