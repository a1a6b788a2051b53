// Package analytics derives trends, watering events, efficiency figures and
// a short-term moisture forecast from a device's reading history. Every
// function is pure; the current time is always passed in.
package analytics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

type Window string

const (
	Window1h  Window = "1h"
	Window6h  Window = "6h"
	Window24h Window = "24h"
	Window7d  Window = "7d"
	Window30d Window = "30d"
	WindowAll Window = "all"
)

var ErrUnknownWindow = errors.New("analytics: unknown window")

var windowMillis = map[Window]int64{
	Window1h:  3_600_000,
	Window6h:  21_600_000,
	Window24h: 86_400_000,
	Window7d:  604_800_000,
	Window30d: 2_592_000_000,
}

// ParseWindow maps a range tag to a Window. The empty string is 24h.
func ParseWindow(s string) (Window, error) {
	w := Window(strings.ToLower(strings.TrimSpace(s)))
	if w == "" {
		return Window24h, nil
	}
	if w == WindowAll {
		return w, nil
	}
	if _, ok := windowMillis[w]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownWindow, s)
	}
	return w, nil
}

// Duration returns the window length; ok is false for "all".
func (w Window) Duration() (time.Duration, bool) {
	ms, ok := windowMillis[w]
	return time.Duration(ms) * time.Millisecond, ok
}

// Filter keeps the readings inside the window ending at now and returns them
// sorted ascending by timestamp. Arrival order is not trusted. A window
// without a bound, including one ParseWindow would reject, keeps everything.
func Filter(readings []entities.Reading, w Window, now time.Time) []entities.Reading {
	out := make([]entities.Reading, 0, len(readings))
	ms, bounded := windowMillis[w]
	cutoff := now.UnixMilli() - ms
	for _, r := range readings {
		if bounded && r.TimestampMillis() < cutoff {
			continue
		}
		out = append(out, r)
	}
	SortByTime(out)
	return out
}

// SortByTime sorts in place, keeping arrival order among equal timestamps.
func SortByTime(readings []entities.Reading) {
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Timestamp < readings[j].Timestamp
	})
}

// ExcludeSynthetic drops demo and fallback readings.
func ExcludeSynthetic(readings []entities.Reading) []entities.Reading {
	out := make([]entities.Reading, 0, len(readings))
	for _, r := range readings {
		if !r.Synthetic {
			out = append(out, r)
		}
	}
	return out
}
