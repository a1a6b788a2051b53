// Package bridge moves device traffic between MQTT and the realtime
// backend: telemetry in, commands and settings out.
package bridge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/model/messages"
	"github.com/Parameshwar06/Drip/pkg/broker"
	"github.com/Parameshwar06/Drip/pkg/dedup"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

// Archiver stores a reading for long-range queries.
type Archiver interface {
	Archive(ctx context.Context, deviceID string, r entities.Reading) error
}

type Options struct {
	Topics broker.Topics
	// Devices whose command slot and settings are republished to MQTT.
	Devices []string
	Archive Archiver
	Dedup   *dedup.Deduper
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type Bridge struct {
	backend   realtime.Backend
	consumer  broker.IConsumer
	publisher broker.IPublisher
	opts      Options
}

func New(backend realtime.Backend, consumer broker.IConsumer, publisher broker.IPublisher, opts Options) *Bridge {
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(2*time.Minute, 10000)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bridge{backend: backend, consumer: consumer, publisher: publisher, opts: opts}
}

// Start mirrors the configured devices and consumes telemetry until ctx
// ends.
func (b *Bridge) Start(ctx context.Context) error {
	subs, err := b.MirrorDevices(ctx, b.opts.Devices)
	if err != nil {
		return err
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	b.consumer.SetHandler(b.HandleTelemetry)
	return b.consumer.ConsumeMessage(ctx)
}

// HandleTelemetry stores one telemetry message. Malformed payloads are
// dropped so the stream keeps flowing.
func (b *Bridge) HandleTelemetry(topic string, msg mqtt.Message) error {
	h := sha256.Sum256(append([]byte(topic+"\n"), msg.Payload()...))
	if !b.opts.Dedup.ShouldProcess(hex.EncodeToString(h[:])) {
		b.opts.Metrics.Telemetry("duplicate")
		return nil
	}

	deviceID, ok := b.opts.Topics.DeviceID(topic)
	if !ok {
		b.opts.Metrics.Telemetry("rejected")
		log.Printf("bridge: telemetry on unexpected topic %s", topic)
		return nil
	}
	var t messages.Telemetry
	if err := json.Unmarshal(msg.Payload(), &t); err != nil {
		b.opts.Metrics.Telemetry("rejected")
		log.Printf("bridge: invalid JSON on %s: %v", topic, err)
		return nil
	}
	t.DeviceID = deviceID

	now := b.opts.Now()
	switch {
	case t.Timestamp <= 0:
		t.Timestamp = now.Unix()
	case t.Timestamp > 1e12:
		t.Timestamp /= 1000
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := b.backend.Merge(ctx, realtime.DeviceDataPath(deviceID), t.LiveFields(now.UnixMilli())); err != nil {
		b.opts.Metrics.Telemetry("error")
		return fmt.Errorf("bridge: store live %s: %w", deviceID, err)
	}
	if _, err := b.backend.PushNew(ctx, realtime.HistoryPath(deviceID), t.Reading); err != nil {
		b.opts.Metrics.Telemetry("error")
		return fmt.Errorf("bridge: append history %s: %w", deviceID, err)
	}
	if b.opts.Archive != nil {
		if err := b.opts.Archive.Archive(ctx, deviceID, t.Reading); err != nil {
			log.Printf("bridge: %v", err)
		}
	}
	b.opts.Metrics.Telemetry("ok")
	log.Printf("bridge: %s moisture=%.1f valve=%s", deviceID, t.Moisture, t.ValveStatus)
	return nil
}

// MirrorDevices subscribes the command slot and settings of each device and
// republishes every change retained, so a device that reconnects receives
// the latest values.
func (b *Bridge) MirrorDevices(ctx context.Context, deviceIDs []string) ([]realtime.Subscription, error) {
	var subs []realtime.Subscription
	release := func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
	for _, id := range deviceIDs {
		id := id
		onErr := func(err error) { log.Printf("bridge: watch %s: %v", id, err) }

		s, err := b.backend.Subscribe(ctx, realtime.CommandsPath(id),
			func(snap realtime.Snapshot) { b.forwardCommand(id, snap) }, onErr)
		if err != nil {
			release()
			return nil, fmt.Errorf("bridge: watch commands %s: %w", id, err)
		}
		subs = append(subs, s)

		s, err = b.backend.Subscribe(ctx, realtime.SettingsPath(id),
			func(snap realtime.Snapshot) { b.forwardSettings(id, snap) }, onErr)
		if err != nil {
			release()
			return nil, fmt.Errorf("bridge: watch settings %s: %w", id, err)
		}
		subs = append(subs, s)
		log.Printf("bridge: mirroring %s", id)
	}
	return subs, nil
}

func (b *Bridge) forwardCommand(deviceID string, snap realtime.Snapshot) {
	var slot struct {
		entities.Command
		Test *entities.TestCommand `json:"test,omitempty"`
	}
	if err := snap.Decode(&slot); err != nil {
		return
	}
	if slot.Action == "" && slot.Test == nil {
		return
	}
	b.publish(b.opts.Topics.Commands(deviceID), messages.CommandEnvelope{
		DeviceID: deviceID,
		Command:  slot.Command,
		Test:     slot.Test,
	})
}

func (b *Bridge) forwardSettings(deviceID string, snap realtime.Snapshot) {
	var s messages.SettingsEnvelope
	if err := snap.Decode(&s); err != nil {
		return
	}
	s.DeviceID = deviceID
	b.publish(b.opts.Topics.Settings(deviceID), s)
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("bridge: encode %s: %v", topic, err)
		return
	}
	if err := b.publisher.Publish(topic, 1, true, payload); err != nil {
		log.Printf("bridge: %v", err)
		return
	}
	log.Printf("bridge: published %s", topic)
}
