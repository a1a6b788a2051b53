// Package reconciler merges the live snapshot channel and the polled history
// of the selected device into one presented state.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

var (
	ErrNoSelection = errors.New("reconciler: no device selected")
	ErrClosed      = errors.New("reconciler: closed")
)

type Options struct {
	PollInterval   time.Duration
	HistoryLimit   int
	OnlineWindow   time.Duration
	PendingTimeout time.Duration

	// BreakerFailures consecutive poll failures open the breaker for
	// BreakerTimeout.
	BreakerFailures int
	BreakerTimeout  time.Duration

	Now     func() time.Time
	Rand    *rand.Rand
	Metrics *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 20
	}
	if o.OnlineWindow <= 0 {
		o.OnlineWindow = 120 * time.Second
	}
	if o.PendingTimeout <= 0 {
		o.PendingTimeout = 30 * time.Second
	}
	if o.BreakerFailures <= 0 {
		o.BreakerFailures = 3
	}
	if o.BreakerTimeout <= 0 {
		o.BreakerTimeout = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

type session struct {
	gen      uint64
	deviceID string
	sub      realtime.Subscription
	cancel   context.CancelFunc
	// breaker guards the history polls of this selection only
	breaker *gobreaker.CircuitBreaker
}

type Reconciler struct {
	backend realtime.Backend
	opts    Options

	mu        sync.Mutex
	devices   []entities.Device
	gen       uint64
	sess      *session
	state     State
	listeners map[int]func(State)
	nextLID   int
	closed    bool
}

func New(backend realtime.Backend, opts Options) *Reconciler {
	opts.applyDefaults()
	return &Reconciler{
		backend:   backend,
		opts:      opts,
		state:     State{Phase: NoData},
		listeners: map[int]func(State){},
	}
}

func (r *Reconciler) newBreaker(deviceID string) *gobreaker.CircuitBreaker {
	fails := uint32(r.opts.BreakerFailures)
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "history-poll:" + deviceID,
		Timeout: r.opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
	})
}

// OnChange registers fn to receive a copy of the state after every update.
// The returned func removes it.
func (r *Reconciler) OnChange(fn func(State)) func() {
	r.mu.Lock()
	id := r.nextLID
	r.nextLID++
	r.listeners[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// State returns a copy of the presented state.
func (r *Reconciler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *Reconciler) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.DeviceID
}

func (r *Reconciler) Devices() []entities.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.Device(nil), r.devices...)
}

// SetDevices replaces the known device list. The selection is cleared when
// the selected device is gone, and the first device is selected when
// nothing is. A user Select that lands in between wins over the automatic
// choice.
func (r *Reconciler) SetDevices(ctx context.Context, devices []entities.Device) error {
	r.mu.Lock()
	r.devices = append([]entities.Device(nil), devices...)
	selected, gen := r.state.DeviceID, r.gen
	r.mu.Unlock()

	target := selected
	if selected != "" && !containsDevice(devices, selected) {
		log.Printf("reconciler: device %s disappeared, clearing selection", selected)
		target = ""
	}
	if target == "" && len(devices) > 0 {
		target = devices[0].DeviceID
	}
	if target == selected {
		return nil
	}
	return r.selectDevice(ctx, target, &gen)
}

func containsDevice(devices []entities.Device, id string) bool {
	for _, d := range devices {
		if d.DeviceID == id {
			return true
		}
	}
	return false
}

// Select tears down the current session and opens one for deviceID. The
// first history poll runs before Select returns. An empty id only clears.
func (r *Reconciler) Select(ctx context.Context, deviceID string) error {
	return r.selectDevice(ctx, deviceID, nil)
}

// selectDevice switches to deviceID. When expect is set the switch only
// happens if no other selection ran since generation *expect.
func (r *Reconciler) selectDevice(ctx context.Context, deviceID string, expect *uint64) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if expect != nil && *expect != r.gen {
		r.mu.Unlock()
		return nil
	}
	old := r.sess
	r.gen++
	gen := r.gen
	r.sess = nil
	r.state = State{DeviceID: deviceID, Phase: NoData}
	var (
		sess    *session
		sessCtx context.Context
	)
	if deviceID != "" {
		var cancel context.CancelFunc
		sessCtx, cancel = context.WithCancel(context.Background())
		sess = &session{gen: gen, deviceID: deviceID, cancel: cancel, breaker: r.newBreaker(deviceID)}
		r.sess = sess
	}
	r.mu.Unlock()

	stop(old)
	r.emit()
	if sess == nil {
		return nil
	}

	sub, err := r.backend.Subscribe(sessCtx, realtime.DeviceDataPath(deviceID),
		func(s realtime.Snapshot) { r.handleSnapshot(gen, s) },
		func(err error) { r.handleSubError(gen, err) })
	if err != nil {
		r.handleSubError(gen, err)
	} else {
		r.mu.Lock()
		current := r.gen == gen
		if current {
			sess.sub = sub
		}
		r.mu.Unlock()
		if !current {
			sub.Unsubscribe()
			return nil
		}
	}

	r.poll(ctx, sess)
	go r.pollLoop(sessCtx, sess)
	return nil
}

// stop releases the live channel first, then the poll task.
func stop(s *session) {
	if s == nil {
		return
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	s.cancel()
}

// Close releases every subscription and timer. It is safe to call twice.
func (r *Reconciler) Close() {
	r.mu.Lock()
	old := r.sess
	r.sess = nil
	r.gen++
	r.closed = true
	r.mu.Unlock()
	stop(old)
}

func (r *Reconciler) now() time.Time { return r.opts.Now() }

func (r *Reconciler) emit() {
	r.mu.Lock()
	st := r.state.clone()
	fns := make([]func(State), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (r *Reconciler) handleSnapshot(gen uint64, snap realtime.Snapshot) {
	now := r.now()

	var raw map[string]any
	if err := snap.Decode(&raw); err != nil && !errors.Is(err, realtime.ErrNotFound) {
		log.Printf("reconciler: unreadable live record %s: %v", snap.Key, err)
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state.Connected = true
	if !entities.HasLiveFields(raw) {
		if r.state.Phase != NoData || !r.state.Live.Synthetic {
			r.state.Phase = NoData
			r.applySyntheticLocked(now)
		}
		r.refreshLocked(now)
		r.opts.Metrics.Snapshot("empty")
	} else {
		r.applyLiveLocked(raw, now)
		r.opts.Metrics.Snapshot("live")
	}
	r.opts.Metrics.Connected(true)
	r.mu.Unlock()
	r.emit()
}

// handleSubError keeps the last real live record when there is one and
// falls back to demo data otherwise.
func (r *Reconciler) handleSubError(gen uint64, err error) {
	now := r.now()
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	log.Printf("reconciler: live channel for %s failed: %v", r.state.DeviceID, err)
	r.state.Connected = false
	if r.state.Phase == NoData {
		r.applySyntheticLocked(now)
	} else {
		r.refreshLocked(now)
	}
	r.opts.Metrics.Snapshot("error")
	r.opts.Metrics.Connected(false)
	r.mu.Unlock()
	r.emit()
}

func (r *Reconciler) applySyntheticLocked(now time.Time) {
	live := syntheticLive(r.opts.Rand, now)
	if v := r.state.Valve; v.Phase == ValvePending {
		live.ValveStatus = v.Value
	} else {
		r.state.Valve = ValveState{Phase: ValveConfirmed, Value: live.ValveStatus, Real: live.ValveStatus}
	}
	r.state.Live = live
	r.opts.Metrics.Synthetic("live")
}

func (r *Reconciler) applyLiveLocked(raw map[string]any, now time.Time) {
	rd := entities.ReadingFromMap(raw)
	ts := normalizeUnix(raw["timestamp"], now)
	live := entities.LiveState{
		Moisture:    rd.Moisture,
		Temperature: rd.Temperature,
		Humidity:    rd.Humidity,
		ValveStatus: rd.ValveStatus,
		Timestamp:   ts,
		LastUpdate:  now,
	}
	live.Online = now.Sub(time.Unix(ts, 0)) < r.opts.OnlineWindow

	v := r.state.Valve
	v.Real = live.ValveStatus
	switch {
	case v.Phase == ValvePending && v.Value == live.ValveStatus:
		v = ValveState{Phase: ValveConfirmed, Value: live.ValveStatus, Real: live.ValveStatus}
	case v.Phase == ValvePending && now.Sub(v.Since) >= r.opts.PendingTimeout:
		log.Printf("reconciler: %s never reported valve %s, reverting to %s", r.state.DeviceID, v.Value, live.ValveStatus)
		v = ValveState{Phase: ValveReverted, Value: live.ValveStatus, Real: live.ValveStatus}
		r.opts.Metrics.Revert()
	case v.Phase == ValvePending:
		// keep presenting the pending value
	default:
		v = ValveState{Phase: ValveConfirmed, Value: live.ValveStatus, Real: live.ValveStatus}
	}
	live.ValveStatus = v.Value

	r.state.Live = live
	r.state.Valve = v
	if live.Online {
		r.state.Phase = Live
	} else {
		r.state.Phase = Stale
	}
}

// refreshLocked re-evaluates freshness and the pending timeout without a new
// snapshot.
func (r *Reconciler) refreshLocked(now time.Time) {
	if r.state.Phase == Live && !r.state.Live.Synthetic &&
		now.Sub(time.Unix(r.state.Live.Timestamp, 0)) >= r.opts.OnlineWindow {
		r.state.Phase = Stale
		r.state.Live.Online = false
	}
	v := r.state.Valve
	if v.Phase == ValvePending && now.Sub(v.Since) >= r.opts.PendingTimeout {
		log.Printf("reconciler: %s pending valve %s timed out, reverting to %s", r.state.DeviceID, v.Value, v.Real)
		r.state.Valve = ValveState{Phase: ValveReverted, Value: v.Real, Real: v.Real}
		r.state.Live.ValveStatus = v.Real
		r.opts.Metrics.Revert()
	}
}

// normalizeUnix reads a snapshot timestamp as unix seconds. Values above
// 1e12 are taken as milliseconds; a missing value is now.
func normalizeUnix(v any, now time.Time) int64 {
	f := entities.ToF64(v)
	switch {
	case f <= 0:
		return now.Unix()
	case f > 1e12:
		return int64(f / 1000)
	}
	return int64(f)
}

// MarkPending presents valve for deviceID until the device confirms it or
// PendingTimeout expires. Calls for a device that is not selected are
// ignored.
func (r *Reconciler) MarkPending(deviceID string, valve entities.ValveStatus) {
	now := r.now()
	r.mu.Lock()
	if deviceID == "" || deviceID != r.state.DeviceID {
		r.mu.Unlock()
		return
	}
	reported := r.state.Valve.Real
	if reported == "" {
		reported = r.state.Live.ValveStatus
	}
	r.state.Valve = ValveState{Phase: ValvePending, Value: valve, Real: reported, Since: now}
	r.state.Live.ValveStatus = valve
	r.mu.Unlock()
	r.emit()
}

func (r *Reconciler) pollLoop(ctx context.Context, s *session) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.poll(ctx, s)
		}
	}
}

// Refresh polls the selected device's history now.
func (r *Reconciler) Refresh(ctx context.Context) error {
	s := r.current()
	if s == nil {
		return ErrNoSelection
	}
	r.poll(ctx, s)
	return nil
}

func (r *Reconciler) current() *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *Reconciler) poll(ctx context.Context, s *session) {
	gen, deviceID := s.gen, s.deviceID
	start := time.Now()
	readings, err := r.query(ctx, s.breaker, deviceID, r.opts.HistoryLimit)
	took := time.Since(start)
	now := r.now()

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.state.LastPoll = now
	switch {
	case err != nil:
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "rejected"
		}
		log.Printf("reconciler: history poll for %s %s: %v", deviceID, result, err)
		r.state.Connected = false
		r.opts.Metrics.Connected(false)
		r.opts.Metrics.Poll(result, took)
		if len(r.state.History) == 0 {
			r.synthesizeHistoryLocked(now)
		}
	case len(readings) == 0:
		r.opts.Metrics.Poll("empty", took)
		r.synthesizeHistoryLocked(now)
	default:
		r.opts.Metrics.Poll("ok", took)
		r.state.History = readings
	}
	r.refreshLocked(now)
	r.mu.Unlock()
	r.emit()
}

func (r *Reconciler) synthesizeHistoryLocked(now time.Time) {
	r.state.History = syntheticHistory(r.opts.Rand, now)
	r.opts.Metrics.Synthetic("history")
}

// query reads the last n history records through the breaker and returns
// them sorted ascending. Records without moisture or timestamp are skipped.
func (r *Reconciler) query(ctx context.Context, cb *gobreaker.CircuitBreaker, deviceID string, n int) ([]entities.Reading, error) {
	res, err := cb.Execute(func() (any, error) {
		return r.backend.QueryOrderedLimitedToLast(ctx, realtime.HistoryPath(deviceID), "timestamp", n)
	})
	if err != nil {
		return nil, err
	}
	snaps := res.([]realtime.Snapshot)
	out := make([]entities.Reading, 0, len(snaps))
	for _, s := range snaps {
		var raw map[string]any
		if err := s.Decode(&raw); err != nil {
			continue
		}
		if _, ok := raw["moisture"]; !ok {
			continue
		}
		rd := entities.ReadingFromMap(raw)
		if rd.Timestamp == 0 {
			continue
		}
		rd.Timestamp = normalizeUnix(raw["timestamp"], time.Unix(rd.Timestamp, 0))
		out = append(out, rd)
	}
	analytics.SortByTime(out)
	return out, nil
}

// FetchHistory reads up to limit records for the selected device. It does
// not touch the presented state.
func (r *Reconciler) FetchHistory(ctx context.Context, limit int) ([]entities.Reading, error) {
	s := r.current()
	if s == nil {
		return nil, ErrNoSelection
	}
	readings, err := r.query(ctx, s.breaker, s.deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("reconciler: fetch history for %s: %w", s.deviceID, err)
	}
	return readings, nil
}
