package app

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
)

// archiveUpstream guards archive queries with a circuit breaker and serves
// the last good answer while the archive is failing.
type archiveUpstream struct {
	archive Archive
	cb      *gobreaker.CircuitBreaker

	mu       sync.Mutex
	lastGood map[string][]entities.Reading
}

func mkCB(name string, fails int, openFor time.Duration) *gobreaker.CircuitBreaker {
	if fails <= 0 {
		fails = 3
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= uint32(fails)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("gateway: breaker %s %s -> %s", name, from, to)
		},
	})
}

func newArchiveUpstream(a Archive, fails int, openFor time.Duration) *archiveUpstream {
	return &archiveUpstream{
		archive:  a,
		cb:       mkCB("archive", fails, openFor),
		lastGood: map[string][]entities.Reading{},
	}
}

// Query returns fresh readings, or the cached ones with stale=true when the
// archive call fails and a previous answer exists.
func (u *archiveUpstream) Query(ctx context.Context, deviceID string, w analytics.Window) (readings []entities.Reading, stale bool, err error) {
	key := deviceID + "|" + string(w)
	res, err := u.cb.Execute(func() (interface{}, error) {
		return u.archive.Query(ctx, deviceID, w)
	})
	if err == nil {
		readings = res.([]entities.Reading)
		u.mu.Lock()
		u.lastGood[key] = readings
		u.mu.Unlock()
		return readings, false, nil
	}

	u.mu.Lock()
	cached, ok := u.lastGood[key]
	u.mu.Unlock()
	if ok {
		log.Printf("gateway: archive %s/%s failed, serving cache: %v", deviceID, w, err)
		return cached, true, nil
	}
	return nil, false, fmt.Errorf("archive %s: %w", key, err)
}

func (u *archiveUpstream) Ready(ctx context.Context) bool {
	return u.cb.State() != gobreaker.StateOpen && u.archive.Ready(ctx)
}
