package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/model/messages"
	"github.com/Parameshwar06/Drip/pkg/broker"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

var t0 = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

type fakeArchive struct {
	got []entities.Reading
	err error
}

func (f *fakeArchive) Archive(_ context.Context, _ string, r entities.Reading) error {
	f.got = append(f.got, r)
	return f.err
}

func newTestBridge(b realtime.Backend, pub broker.IPublisher, arch Archiver) *Bridge {
	return New(b, nil, pub, Options{Archive: arch, Now: func() time.Time { return t0 }})
}

func msg(topic, body string) *broker.FakeMessage {
	return &broker.FakeMessage{TopicName: topic, Body: []byte(body)}
}

func TestHandleTelemetryStoresLiveAndHistory(t *testing.T) {
	b := realtime.NewMemory()
	arch := &fakeArchive{}
	br := newTestBridge(b, &broker.FakePublisher{}, arch)

	m := msg("drip/esp32-a/telemetry", `{"moisture":"41.5","temperature":23,"humidity":58,"valveStatus":"on","timestamp":1777622400}`)
	if err := br.HandleTelemetry(m.Topic(), m); err != nil {
		t.Fatalf("HandleTelemetry: %v", err)
	}

	snap, _ := b.GetOnce(context.Background(), realtime.DeviceDataPath("esp32-a"))
	var live map[string]any
	if err := snap.Decode(&live); err != nil {
		t.Fatal(err)
	}
	if live["moisture"] != 41.5 || live["valveStatus"] != "ON" || live["lastSeen"] != float64(t0.UnixMilli()) {
		t.Errorf("live = %+v", live)
	}

	hist, err := b.QueryOrderedLimitedToLast(context.Background(), realtime.HistoryPath("esp32-a"), "timestamp", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("history has %d entries", len(hist))
	}
	var r entities.Reading
	if err := hist[0].Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Timestamp != 1777622400 || r.Moisture != 41.5 || r.Synthetic {
		t.Errorf("history = %+v", r)
	}
	if len(arch.got) != 1 {
		t.Errorf("archived %d readings", len(arch.got))
	}
}

func TestHandleTelemetryTimestamps(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int64
	}{
		{"missing", `{"moisture":40}`, t0.Unix()},
		{"millis", `{"moisture":40,"timestamp":1777622400123}`, 1777622400},
		{"seconds", `{"moisture":40,"timestamp":1777622000}`, 1777622000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := realtime.NewMemory()
			arch := &fakeArchive{}
			br := newTestBridge(b, &broker.FakePublisher{}, arch)
			m := msg("drip/esp32-a/telemetry", tt.body)
			if err := br.HandleTelemetry(m.Topic(), m); err != nil {
				t.Fatal(err)
			}
			if len(arch.got) != 1 || arch.got[0].Timestamp != tt.want {
				t.Errorf("archived %+v, want timestamp %d", arch.got, tt.want)
			}
		})
	}
}

func TestHandleTelemetryDropsDuplicatesAndGarbage(t *testing.T) {
	b := realtime.NewMemory()
	arch := &fakeArchive{}
	br := newTestBridge(b, &broker.FakePublisher{}, arch)

	body := `{"moisture":40,"timestamp":1777622400}`
	for i := 0; i < 3; i++ {
		m := msg("drip/esp32-a/telemetry", body)
		if err := br.HandleTelemetry(m.Topic(), m); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range []*broker.FakeMessage{
		msg("drip/esp32-a/telemetry", `not json`),
		msg("other/esp32-a/telemetry", `{"moisture":1}`),
	} {
		if err := br.HandleTelemetry(m.Topic(), m); err != nil {
			t.Errorf("%s: %v", m.Topic(), err)
		}
	}
	if len(arch.got) != 1 {
		t.Errorf("archived %d readings, want 1", len(arch.got))
	}
}

func TestHandleTelemetryArchiveFailureIsNotFatal(t *testing.T) {
	b := realtime.NewMemory()
	br := newTestBridge(b, &broker.FakePublisher{}, &fakeArchive{err: errors.New("influx down")})
	m := msg("drip/esp32-a/telemetry", `{"moisture":40}`)
	if err := br.HandleTelemetry(m.Topic(), m); err != nil {
		t.Errorf("err = %v", err)
	}
}

func TestHandleTelemetryBackendFailure(t *testing.T) {
	f := realtime.NewFaulty(realtime.NewMemory())
	f.MergeErr = errors.New("permission denied")
	br := newTestBridge(f, &broker.FakePublisher{}, nil)
	m := msg("drip/esp32-a/telemetry", `{"moisture":40}`)
	if err := br.HandleTelemetry(m.Topic(), m); err == nil {
		t.Error("want error")
	}
}

func TestMirrorDevicesRepublishesRetained(t *testing.T) {
	b := realtime.NewMemory()
	pub := &broker.FakePublisher{}
	br := newTestBridge(b, pub, nil)
	ctx := context.Background()

	if err := b.Write(ctx, realtime.CommandsPath("esp32-a"), entities.Command{TargetDeviceID: "esp32-a", Action: entities.ActionOff, ID: 1}); err != nil {
		t.Fatal(err)
	}
	subs, err := br.MirrorDevices(ctx, []string{"esp32-a"})
	if err != nil {
		t.Fatalf("MirrorDevices: %v", err)
	}
	if len(pub.Messages) != 1 {
		t.Fatalf("initial publishes = %d, want 1 (command only)", len(pub.Messages))
	}

	if err := b.Write(ctx, realtime.CommandsPath("esp32-a"), entities.Command{TargetDeviceID: "esp32-a", Action: entities.ActionOn, Duration: 5, ID: 2}); err != nil {
		t.Fatal(err)
	}
	if err := b.Write(ctx, realtime.SettingsPath("esp32-a"), map[string]any{"moistureThreshold": 35, "autoWatering": true}); err != nil {
		t.Fatal(err)
	}

	if len(pub.Messages) != 3 {
		t.Fatalf("publishes = %d, want 3", len(pub.Messages))
	}
	cmdMsg := pub.Messages[1]
	if cmdMsg.Topic != "drip/esp32-a/commands" || !cmdMsg.Retained || cmdMsg.QoS != 1 {
		t.Errorf("command publish = %+v", cmdMsg)
	}
	var env messages.CommandEnvelope
	if err := json.Unmarshal(cmdMsg.Payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Command.Action != entities.ActionOn || env.Command.Duration != 5 || env.DeviceID != "esp32-a" {
		t.Errorf("envelope = %+v", env)
	}

	setMsg := pub.Messages[2]
	var s messages.SettingsEnvelope
	if err := json.Unmarshal(setMsg.Payload, &s); err != nil {
		t.Fatal(err)
	}
	if setMsg.Topic != "drip/esp32-a/settings" || s.MoistureThreshold != 35 || s.DeviceID != "esp32-a" {
		t.Errorf("settings publish = %s %+v", setMsg.Topic, s)
	}

	for _, s := range subs {
		s.Unsubscribe()
	}
	_ = b.Write(ctx, realtime.CommandsPath("esp32-a"), entities.Command{TargetDeviceID: "esp32-a", Action: entities.ActionOff, ID: 3})
	if len(pub.Messages) != 3 {
		t.Error("published after unsubscribe")
	}
}

func TestMirrorForwardsPing(t *testing.T) {
	b := realtime.NewMemory()
	pub := &broker.FakePublisher{}
	br := newTestBridge(b, pub, nil)
	ctx := context.Background()

	subs, err := br.MirrorDevices(ctx, []string{"esp32-a"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()
	err = b.Merge(ctx, realtime.CommandsPath("esp32-a"), map[string]any{
		"test": entities.TestCommand{Command: "ping", Timestamp: "2026-05-01T08:00:00Z", ID: 9},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(pub.Messages) != 1 {
		t.Fatalf("publishes = %d", len(pub.Messages))
	}
	var env messages.CommandEnvelope
	if err := json.Unmarshal(pub.Messages[0].Payload, &env); err != nil {
		t.Fatal(err)
	}
	if env.Test == nil || env.Test.ID != 9 {
		t.Errorf("envelope = %+v", env)
	}
}
