package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Parameshwar06/Drip/internal/config"
	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/services/archive"
	"github.com/Parameshwar06/Drip/internal/services/bridge"
	"github.com/Parameshwar06/Drip/internal/services/devices"
	"github.com/Parameshwar06/Drip/pkg/broker"
	"github.com/Parameshwar06/Drip/pkg/dedup"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

func main() {
	cfg, err := config.Load(os.Getenv("DRIP_CONFIG"))
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}
	if cfg.Backend.Kind == "memory" {
		log.Printf("bridge: memory backend is private to this process; use BACKEND=redis to share data with the gateway")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := realtime.Open(ctx, cfg.Backend.Kind, realtime.RedisConfig(cfg.Backend.Redis))
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}
	defer closeBackend()

	client, err := broker.Connect(&broker.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
	}, ctx)
	if err != nil {
		log.Fatalf("bridge: %v", err)
	}

	var arch bridge.Archiver
	if cfg.Influx.Enabled() {
		a, err := archive.New(archive.Config{URL: cfg.Influx.URL, Token: cfg.Influx.Token, Org: cfg.Influx.Org, Bucket: cfg.Influx.Bucket})
		if err != nil {
			log.Fatalf("bridge: %v", err)
		}
		defer a.Close()
		arch = a
	}

	deviceIDs := cfg.MQTT.Devices
	if len(deviceIDs) == 0 {
		list, err := devices.New(backend, cfg.UserID, devices.Options{LoadTimeout: cfg.Registry.LoadTimeout}).Load(ctx)
		if err != nil {
			log.Printf("bridge: %v", err)
		}
		for _, d := range list {
			deviceIDs = append(deviceIDs, d.DeviceID)
		}
	}

	topics := broker.Topics{Prefix: cfg.MQTT.TopicPrefix}
	b := bridge.New(backend,
		broker.NewConsumer(client, nil, topics.AllTelemetry()),
		broker.NewPublisher(client),
		bridge.Options{
			Topics:  topics,
			Devices: deviceIDs,
			Archive: arch,
			Dedup:   dedup.New(2*time.Minute, 10000),
			Metrics: metrics.New(prometheus.DefaultRegisterer),
		})

	log.Printf("bridge: running, %d device(s) mirrored", len(deviceIDs))
	if err := b.Start(ctx); err != nil {
		log.Fatalf("bridge: %v", err)
	}
	log.Println("bridge: stopped")
}
