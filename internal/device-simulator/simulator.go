package simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Parameshwar06/Drip/internal/model"
	"github.com/Parameshwar06/Drip/pkg/broker"
	"github.com/Parameshwar06/Drip/pkg/dedup"
)

// Scheduler runs f after d and returns a func that cancels it.
type Scheduler func(d time.Duration, f func()) (cancel func())

func afterFunc(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

type Options struct {
	DeviceID string
	UserID   string
	Topics   broker.Topics
	Interval time.Duration
	Schedule Scheduler
	Dedup    *dedup.Deduper
	Now      func() time.Time
}

type Simulator struct {
	generator *DataGenerator
	consumer  broker.IConsumer
	publisher broker.IPublisher
	opts      Options

	mu       sync.Mutex
	valve    model.ValveStatus
	mode     model.Mode
	settings model.SettingsEnvelope
	lastCmd  int64
	cancel   func()
	gen      int
}

func New(generator *DataGenerator, consumer broker.IConsumer, publisher broker.IPublisher, opts Options) *Simulator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Schedule == nil {
		opts.Schedule = afterFunc
	}
	if opts.Dedup == nil {
		opts.Dedup = dedup.New(10*time.Minute, 1000)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Simulator{
		generator: generator,
		consumer:  consumer,
		publisher: publisher,
		opts:      opts,
		valve:     model.ValveOff,
		mode:      model.ModeManual,
		settings: model.SettingsEnvelope{
			DeviceID:          opts.DeviceID,
			MoistureThreshold: 30,
			WateringDuration:  5,
		},
	}
}

// Start consumes commands and settings and publishes telemetry every
// interval until ctx ends.
func (s *Simulator) Start(ctx context.Context) error {
	s.consumer.SetHandler(s.HandleMessage)
	errCh := make(chan error, 1)
	go func() { errCh <- s.consumer.ConsumeMessage(ctx) }()

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	defer s.stopTimer()

	for {
		if err := s.Tick(); err != nil {
			log.Printf("simulator: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs the automatic watering check and publishes one telemetry sample.
func (s *Simulator) Tick() error {
	s.mu.Lock()
	if s.mode == model.ModeAutomatic && s.settings.AutoWatering && s.valve == model.ValveOff &&
		s.generator.Moisture() < s.settings.MoistureThreshold {
		log.Printf("simulator: moisture below %.1f%%, watering for %d min", s.settings.MoistureThreshold, s.settings.WateringDuration)
		s.openFor(time.Duration(s.settings.WateringDuration) * time.Minute)
	}
	valve := s.valve
	s.mu.Unlock()

	t := model.Telemetry{
		DeviceID: s.opts.DeviceID,
		UserID:   s.opts.UserID,
		Reading:  s.generator.Next(valve),
	}
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("simulator: encode telemetry: %w", err)
	}
	return s.publisher.Publish(s.opts.Topics.Telemetry(s.opts.DeviceID), 1, false, body)
}

// HandleMessage applies a command or settings message addressed to this
// device.
func (s *Simulator) HandleMessage(topic string, msg mqtt.Message) error {
	h := sha256.Sum256(append([]byte(topic+"\n"), msg.Payload()...))
	if !s.opts.Dedup.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil
	}
	switch {
	case strings.HasSuffix(topic, "/commands"):
		var env model.CommandEnvelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			return fmt.Errorf("simulator: decode command: %w", err)
		}
		s.applyCommand(env)
	case strings.HasSuffix(topic, "/settings"):
		var env model.SettingsEnvelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			return fmt.Errorf("simulator: decode settings: %w", err)
		}
		s.mu.Lock()
		s.settings = env
		s.mu.Unlock()
		log.Printf("simulator: settings threshold=%.1f auto=%t duration=%dmin", env.MoistureThreshold, env.AutoWatering, env.WateringDuration)
	}
	return nil
}

func (s *Simulator) applyCommand(env model.CommandEnvelope) {
	if env.Test != nil {
		s.answerTest(*env.Test)
	}
	cmd := env.Command
	if cmd.Action == "" {
		return
	}
	if t := cmd.TargetDeviceID; t != "" && t != s.opts.DeviceID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// a retained slot is redelivered on every reconnect
	if cmd.ID != 0 && cmd.ID <= s.lastCmd {
		return
	}
	s.lastCmd = cmd.ID

	switch cmd.Action {
	case model.ActionOn:
		if cmd.Duration > 0 {
			s.openFor(time.Duration(cmd.Duration) * time.Minute)
		} else {
			s.cancelTimerLocked()
			s.valve = model.ValveOn
		}
	case model.ActionOff:
		s.cancelTimerLocked()
		s.valve = model.ValveOff
	case model.ActionSetMode:
		if cmd.Mode != "" {
			s.mode = cmd.Mode
		}
	}
	log.Printf("simulator: %s applied (valve=%s mode=%s emergency=%t)", cmd.Action, s.valve, s.mode, cmd.Emergency)
}

// openFor opens the valve and closes it after d. Callers hold mu.
func (s *Simulator) openFor(d time.Duration) {
	s.cancelTimerLocked()
	s.valve = model.ValveOn
	gen := s.gen
	s.cancel = s.opts.Schedule(d, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen != gen {
			return
		}
		s.valve = model.ValveOff
		s.cancel = nil
		log.Printf("simulator: timed watering finished")
	})
}

func (s *Simulator) cancelTimerLocked() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Simulator) stopTimer() {
	s.mu.Lock()
	s.cancelTimerLocked()
	s.mu.Unlock()
}

func (s *Simulator) answerTest(tc model.TestCommand) {
	body, err := json.Marshal(map[string]any{
		"deviceId":  s.opts.DeviceID,
		"test":      tc.ID,
		"response":  "pong",
		"timestamp": s.opts.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(s.opts.Topics.Status(s.opts.DeviceID), 1, false, body); err != nil {
		log.Printf("simulator: answer test %d: %v", tc.ID, err)
	}
}

// State returns the valve and mode currently applied.
func (s *Simulator) State() (model.ValveStatus, model.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valve, s.mode
}
