package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Parameshwar06/Drip/internal/config"
	simulator "github.com/Parameshwar06/Drip/internal/device-simulator"
	"github.com/Parameshwar06/Drip/pkg/broker"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("DRIP_CONFIG"), "path to the YAML config file")
	deviceID := flag.String("device", "", "device id, overrides simulator.device_id")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}
	if *deviceID != "" {
		cfg.Simulator.DeviceID = *deviceID
	}
	id := cfg.Simulator.DeviceID

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topics := broker.Topics{Prefix: cfg.MQTT.TopicPrefix}
	client, err := broker.Connect(&broker.Config{
		Host:        cfg.MQTT.Host,
		Port:        cfg.MQTT.Port,
		User:        cfg.MQTT.User,
		Password:    cfg.MQTT.Password,
		ClientID:    "sim-" + id,
		WillTopic:   topics.Status(id),
		WillPayload: `{"deviceId":"` + id + `","online":false}`,
	}, ctx)
	if err != nil {
		log.Fatalf("simulator: %v", err)
	}

	sim := simulator.New(
		simulator.NewDataGenerator(cfg.Simulator.Moisture, cfg.Simulator.DecayPerMin, nil, nil),
		broker.NewConsumer(client, nil, topics.Commands(id), topics.Settings(id)),
		broker.NewPublisher(client),
		simulator.Options{
			DeviceID: id,
			UserID:   cfg.UserID,
			Topics:   topics,
			Interval: cfg.Simulator.Interval,
		})

	log.Printf("simulator: %s publishing every %s", id, cfg.Simulator.Interval)
	if err := sim.Start(ctx); err != nil {
		log.Fatalf("simulator: %v", err)
	}
	log.Println("simulator: stopped")
}
