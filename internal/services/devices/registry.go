// Package devices manages the user's registered controllers: listing,
// configuration and soft removal.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

var ErrUnknownDevice = errors.New("devices: unknown device")

// Connection status shown next to each device.
const (
	StatusOnline  = "online"
	StatusWarning = "warning"
	StatusOffline = "offline"
)

const (
	warningAfter = 5 * time.Minute
	offlineAfter = 10 * time.Minute
)

type Options struct {
	// LoadTimeout bounds the wait for the first device list.
	LoadTimeout time.Duration
	Now         func() time.Time
}

type Registry struct {
	backend realtime.Backend
	uid     string
	opts    Options
}

func New(backend realtime.Backend, uid string, opts Options) *Registry {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{backend: backend, uid: uid, opts: opts}
}

// Load waits for the first value of the device list. A backend that never
// answers yields an empty list after LoadTimeout, not an error.
func (r *Registry) Load(ctx context.Context) ([]entities.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opts.LoadTimeout)
	defer cancel()

	first := make(chan []entities.Device, 1)
	failed := make(chan error, 1)
	sub, err := r.backend.Subscribe(ctx, realtime.UserDevicesPath(r.uid),
		func(s realtime.Snapshot) {
			select {
			case first <- decodeList(s):
			default:
			}
		},
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		})
	if err != nil {
		return nil, fmt.Errorf("devices: load: %w", err)
	}
	defer sub.Unsubscribe()

	select {
	case list := <-first:
		return list, nil
	case err := <-failed:
		return nil, fmt.Errorf("devices: load: %w", err)
	case <-ctx.Done():
		log.Printf("devices: load timed out after %s, continuing with no devices", r.opts.LoadTimeout)
		return []entities.Device{}, nil
	}
}

// Watch calls fn with the current device list on every change until the
// returned subscription is released.
func (r *Registry) Watch(ctx context.Context, fn func([]entities.Device)) (realtime.Subscription, error) {
	sub, err := r.backend.Subscribe(ctx, realtime.UserDevicesPath(r.uid),
		func(s realtime.Snapshot) { fn(decodeList(s)) },
		func(err error) { log.Printf("devices: watch: %v", err) })
	if err != nil {
		return nil, fmt.Errorf("devices: watch: %w", err)
	}
	return sub, nil
}

// decodeList returns the non-removed devices ordered by key. Undecodable
// records are skipped.
func decodeList(s realtime.Snapshot) []entities.Device {
	children, err := s.Children()
	if err != nil {
		log.Printf("devices: decode list: %v", err)
		return []entities.Device{}
	}
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]entities.Device, 0, len(keys))
	for _, k := range keys {
		d := entities.Device{ID: k}
		if err := json.Unmarshal(children[k], &d); err != nil {
			log.Printf("devices: skip %s: %v", k, err)
			continue
		}
		d.ID = k
		if d.DeviceID == "" {
			d.DeviceID = k
		}
		if d.Removed() {
			continue
		}
		out = append(out, d)
	}
	return out
}

// Find returns the device with the given external id.
func Find(list []entities.Device, deviceID string) (entities.Device, bool) {
	for _, d := range list {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return entities.Device{}, false
}

// UpdateConfig stores cfg on the device record and mirrors the watering
// settings where the firmware reads them.
func (r *Registry) UpdateConfig(ctx context.Context, d entities.Device, cfg entities.DeviceConfig) error {
	if d.ID == "" || d.DeviceID == "" {
		return ErrUnknownDevice
	}
	cfg.ApplyDefaults()
	now := r.opts.Now().UTC()

	record := map[string]any{
		"name":              cfg.Name,
		"location":          cfg.Location,
		"moistureThreshold": cfg.MoistureThreshold,
		"autoWatering":      cfg.AutoWatering,
		"wateringDuration":  cfg.WateringDuration,
		"checkInterval":     cfg.CheckInterval,
		"lastConfigUpdate":  now.Format(time.RFC3339),
	}
	if err := r.backend.Merge(ctx, realtime.UserDevicePath(r.uid, d.ID), record); err != nil {
		return fmt.Errorf("devices: update %s: %w", d.DeviceID, err)
	}

	settings := map[string]any{
		"moistureThreshold": cfg.MoistureThreshold,
		"autoWatering":      cfg.AutoWatering,
		"wateringDuration":  cfg.WateringDuration,
		"checkInterval":     cfg.CheckInterval,
		"lastUpdate":        now.Format(time.RFC3339),
	}
	if err := r.backend.Write(ctx, realtime.SettingsPath(d.DeviceID), settings); err != nil {
		return fmt.Errorf("devices: mirror settings %s: %w", d.DeviceID, err)
	}
	log.Printf("devices: %s config updated", d.DeviceID)
	return nil
}

// Remove marks the device removed on the user record and on its data node.
// Nothing is deleted.
func (r *Registry) Remove(ctx context.Context, d entities.Device) error {
	if d.ID == "" || d.DeviceID == "" {
		return ErrUnknownDevice
	}
	mark := map[string]any{
		"status":    entities.DeviceRemoved,
		"removedAt": r.opts.Now().UnixMilli(),
		"removedBy": r.uid,
	}
	if err := r.backend.Merge(ctx, realtime.UserDevicePath(r.uid, d.ID), mark); err != nil {
		return fmt.Errorf("devices: remove %s: %w", d.DeviceID, err)
	}
	if err := r.backend.Merge(ctx, realtime.DeviceDataPath(d.DeviceID), mark); err != nil {
		return fmt.Errorf("devices: remove %s data: %w", d.DeviceID, err)
	}
	log.Printf("devices: %s removed", d.DeviceID)
	return nil
}

// Status classifies a device by how long ago it was last seen.
func Status(d entities.Device, now time.Time) string {
	if d.LastSeen <= 0 {
		return StatusOffline
	}
	age := now.Sub(time.UnixMilli(d.LastSeen))
	switch {
	case age > offlineAfter:
		return StatusOffline
	case age > warningAfter:
		return StatusWarning
	}
	return StatusOnline
}
