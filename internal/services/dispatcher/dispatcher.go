// Package dispatcher writes commands into a device's single command slot.
//
// Every call overwrites deviceData/{id}/commands. There is no read before
// the write, no lock and no queue: concurrent writers race and the last
// write the device observes wins. Failed writes are returned, never retried.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

var ErrInvalidCommand = errors.New("dispatcher: invalid command")

// Patcher receives the optimistic valve state after a successful write.
type Patcher interface {
	MarkPending(deviceID string, valve entities.ValveStatus)
}

type Options struct {
	Now     func() time.Time
	Metrics *metrics.Metrics
}

type Dispatcher struct {
	backend realtime.Backend
	patcher Patcher
	now     func() time.Time
	metrics *metrics.Metrics

	mu     sync.Mutex
	lastID int64
}

// New builds a dispatcher. patcher may be nil.
func New(backend realtime.Backend, patcher Patcher, opts Options) *Dispatcher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{backend: backend, patcher: patcher, now: opts.Now, metrics: opts.Metrics}
}

// nextID returns now in unix ms, bumped past the previous id when two calls
// land in the same millisecond.
func (d *Dispatcher) nextID(now time.Time) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := now.UnixMilli()
	if id <= d.lastID {
		id = d.lastID + 1
	}
	d.lastID = id
	return id
}

func (d *Dispatcher) SetValve(ctx context.Context, deviceID string, valve entities.ValveStatus) (entities.Command, error) {
	v, ok := entities.ParseValveStatus(string(valve))
	if !ok {
		return entities.Command{}, fmt.Errorf("%w: valve %q", ErrInvalidCommand, valve)
	}
	return d.send(ctx, entities.Command{TargetDeviceID: deviceID, Action: entities.Action(v)})
}

// QuickWater opens the valve for minutes; the firmware closes it.
func (d *Dispatcher) QuickWater(ctx context.Context, deviceID string, minutes int) (entities.Command, error) {
	if minutes <= 0 {
		return entities.Command{}, fmt.Errorf("%w: duration must be positive, got %d", ErrInvalidCommand, minutes)
	}
	return d.send(ctx, entities.Command{TargetDeviceID: deviceID, Action: entities.ActionOn, Duration: minutes})
}

// EmergencyStop always writes, even when the valve is already reported OFF.
func (d *Dispatcher) EmergencyStop(ctx context.Context, deviceID string) (entities.Command, error) {
	return d.send(ctx, entities.Command{TargetDeviceID: deviceID, Action: entities.ActionOff, Emergency: true})
}

func (d *Dispatcher) SetMode(ctx context.Context, deviceID string, mode entities.Mode) (entities.Command, error) {
	m, ok := entities.ParseMode(string(mode))
	if !ok {
		return entities.Command{}, fmt.Errorf("%w: mode %q", ErrInvalidCommand, mode)
	}
	return d.send(ctx, entities.Command{TargetDeviceID: deviceID, Action: entities.ActionSetMode, Mode: m})
}

func (d *Dispatcher) send(ctx context.Context, cmd entities.Command) (entities.Command, error) {
	if strings.TrimSpace(cmd.TargetDeviceID) == "" {
		return entities.Command{}, fmt.Errorf("%w: no target device", ErrInvalidCommand)
	}
	now := d.now()
	cmd.IssuedAt = now.Unix()
	cmd.ID = d.nextID(now)

	if err := d.backend.Write(ctx, realtime.CommandsPath(cmd.TargetDeviceID), cmd); err != nil {
		d.metrics.Command(string(cmd.Action), "error")
		log.Printf("dispatcher: %s to %s failed: %v", cmd.Action, cmd.TargetDeviceID, err)
		return cmd, fmt.Errorf("dispatcher: write command: %w", err)
	}
	d.metrics.Command(string(cmd.Action), "ok")
	log.Printf("dispatcher: sent %s to %s (id=%d)", cmd.Action, cmd.TargetDeviceID, cmd.ID)

	if v, ok := cmd.ValveTarget(); ok && d.patcher != nil {
		d.patcher.MarkPending(cmd.TargetDeviceID, v)
	}
	return cmd, nil
}

// Ping merges a connection test next to the command slot without touching
// the current command.
func (d *Dispatcher) Ping(ctx context.Context, deviceID string) (entities.TestCommand, error) {
	if strings.TrimSpace(deviceID) == "" {
		return entities.TestCommand{}, fmt.Errorf("%w: no target device", ErrInvalidCommand)
	}
	now := d.now()
	test := entities.TestCommand{
		Command:   "ping",
		Timestamp: now.UTC().Format(time.RFC3339),
		ID:        d.nextID(now),
	}
	if err := d.backend.Merge(ctx, realtime.CommandsPath(deviceID), map[string]any{"test": test}); err != nil {
		d.metrics.Command("ping", "error")
		return test, fmt.Errorf("dispatcher: write ping: %w", err)
	}
	d.metrics.Command("ping", "ok")
	return test, nil
}
