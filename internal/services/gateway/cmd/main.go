package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/Parameshwar06/Drip/internal/config"
	"github.com/Parameshwar06/Drip/internal/metrics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
	"github.com/Parameshwar06/Drip/internal/services/alerts"
	"github.com/Parameshwar06/Drip/internal/services/archive"
	"github.com/Parameshwar06/Drip/internal/services/bridge"
	"github.com/Parameshwar06/Drip/internal/services/devices"
	"github.com/Parameshwar06/Drip/internal/services/dispatcher"
	"github.com/Parameshwar06/Drip/internal/services/gateway/app"
	"github.com/Parameshwar06/Drip/internal/services/reconciler"
	"github.com/Parameshwar06/Drip/pkg/broker"
	"github.com/Parameshwar06/Drip/pkg/realtime"
)

func main() {
	cfg, err := config.Load(os.Getenv("DRIP_CONFIG"))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := realtime.Open(ctx, cfg.Backend.Kind, realtime.RedisConfig(cfg.Backend.Redis))
	if err != nil {
		log.Fatalf("gateway: %v", err)
	}
	defer closeBackend()

	m := metrics.New(prometheus.DefaultRegisterer)

	rec := reconciler.New(backend, reconciler.Options{
		PollInterval:   cfg.Reconciler.PollInterval,
		HistoryLimit:   cfg.Reconciler.HistoryLimit,
		OnlineWindow:   cfg.Reconciler.OnlineWindow,
		PendingTimeout: cfg.Reconciler.PendingTimeout,
		Metrics:        m,
	})
	defer rec.Close()

	disp := dispatcher.New(backend, rec, dispatcher.Options{Metrics: m})
	reg := devices.New(backend, cfg.UserID, devices.Options{LoadTimeout: cfg.Registry.LoadTimeout})
	mon := alerts.NewMonitor(backend, alerts.Options{Interval: cfg.Alerts.Interval, Metrics: m})

	var arch *archive.Archive
	if cfg.Influx.Enabled() {
		arch, err = archive.New(archive.Config{URL: cfg.Influx.URL, Token: cfg.Influx.Token, Org: cfg.Influx.Org, Bucket: cfg.Influx.Bucket})
		if err != nil {
			log.Fatalf("gateway: %v", err)
		}
		defer arch.Close()
	}

	appCfg := app.Config{
		UserID:         cfg.UserID,
		AnalyticsLimit: cfg.Reconciler.AnalyticsLimit,
		Metrics:        m,
	}
	var gw *app.Gateway
	if arch != nil {
		gw = app.NewGateway(appCfg, rec, disp, reg, mon, arch)
	} else {
		gw = app.NewGateway(appCfg, rec, disp, reg, mon, nil)
	}

	// device list: first value bounded by the load timeout, then live updates
	list, err := reg.Load(ctx)
	if err != nil {
		log.Printf("gateway: %v", err)
	}
	if err := rec.SetDevices(ctx, list); err != nil {
		log.Printf("gateway: %v", err)
	}
	gw.SetReady(true)
	watch, err := reg.Watch(ctx, func(list []entities.Device) {
		if err := rec.SetDevices(ctx, list); err != nil {
			log.Printf("gateway: update devices: %v", err)
		}
	})
	if err != nil {
		log.Printf("gateway: %v", err)
	} else {
		defer watch.Unsubscribe()
	}

	go mon.Start(ctx, rec.Devices)

	if cfg.MQTT.Enabled {
		go runBridge(ctx, cfg, backend, arch, rec.Devices, m)
	}

	// gRPC command service
	lis, err := net.Listen("tcp", cfg.HTTP.GRPCAddr)
	if err != nil {
		log.Fatalf("gateway: grpc listen %s: %v", cfg.HTTP.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(dispatcher.Codec{}))
	dispatcher.RegisterCommandService(grpcServer, dispatcher.NewServer(disp, rec.Selected))
	go func() {
		log.Printf("gateway: grpc listening on %s", cfg.HTTP.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			log.Printf("gateway: grpc: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           gw.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("gateway: http listening on %s", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("gateway: http: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("gateway: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("gateway: http shutdown: %v", err)
	}
	grpcServer.GracefulStop()
}

// runBridge serves device MQTT traffic in-process, which is the only way
// to reach devices with the memory backend.
func runBridge(ctx context.Context, cfg *config.Config, backend realtime.Backend, arch *archive.Archive,
	known func() []entities.Device, m *metrics.Metrics) {
	client, err := broker.Connect(&broker.Config{
		Host:     cfg.MQTT.Host,
		Port:     cfg.MQTT.Port,
		User:     cfg.MQTT.User,
		Password: cfg.MQTT.Password,
		ClientID: cfg.MQTT.ClientID,
	}, ctx)
	if err != nil {
		log.Printf("gateway: bridge disabled: %v", err)
		return
	}

	ids := cfg.MQTT.Devices
	if len(ids) == 0 {
		for _, d := range known() {
			ids = append(ids, d.DeviceID)
		}
	}
	opts := bridge.Options{
		Topics:  broker.Topics{Prefix: cfg.MQTT.TopicPrefix},
		Devices: ids,
		Metrics: m,
	}
	if arch != nil {
		opts.Archive = arch
	}
	b := bridge.New(backend,
		broker.NewConsumer(client, nil, opts.Topics.AllTelemetry()),
		broker.NewPublisher(client), opts)
	if err := b.Start(ctx); err != nil {
		log.Printf("gateway: bridge: %v", err)
	}
}
