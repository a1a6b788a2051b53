// Package archive keeps the full reading history in InfluxDB so that long
// windows survive the realtime history limit.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Parameshwar06/Drip/internal/analytics"
	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const Measurement = "irrigation_reading"

// DefaultQueryLimit caps the rows returned for one window.
const DefaultQueryLimit = 5000

var ErrIncompleteConfig = errors.New("archive: influx config incomplete")

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	Limit  int
}

type Archive struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	limit  int

	mu      sync.RWMutex
	lastErr time.Time
}

func New(cfg Config) (*Archive, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, ErrIncompleteConfig
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultQueryLimit
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Archive{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
		limit:  cfg.Limit,
	}, nil
}

func (a *Archive) Close() { a.client.Close() }

// ReadingToPoint maps one device reading onto the irrigation_reading
// measurement. A reading without a timestamp is stamped with now.
func ReadingToPoint(deviceID string, r entities.Reading, now time.Time) *write.Point {
	t := time.Unix(r.Timestamp, 0)
	if r.Timestamp <= 0 {
		t = now
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{"device_id": deviceID},
		map[string]interface{}{
			"moisture":    r.Moisture,
			"temperature": r.Temperature,
			"humidity":    r.Humidity,
			"valve_on":    r.ValveStatus == entities.ValveOn,
		},
		t)
}

// Archive blocks until the reading is written. Synthetic readings are
// never archived.
func (a *Archive) Archive(ctx context.Context, deviceID string, r entities.Reading) error {
	if r.Synthetic {
		return nil
	}
	if err := a.write.WritePoint(ctx, ReadingToPoint(deviceID, r, time.Now())); err != nil {
		a.mu.Lock()
		a.lastErr = time.Now()
		a.mu.Unlock()
		return fmt.Errorf("archive: write %s: %w", deviceID, err)
	}
	return nil
}

// LastErrorAge reports how long ago a write last failed.
func (a *Archive) LastErrorAge() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.lastErr.IsZero() {
		return 99999 * time.Hour
	}
	return time.Since(a.lastErr)
}

// Ready pings the Influx server.
func (a *Archive) Ready(ctx context.Context) bool {
	ok, err := a.client.Ping(ctx)
	if err != nil {
		log.Printf("archive: ping: %v", err)
	}
	return ok && err == nil
}

// Query returns the archived readings of a device inside w, oldest first.
func (a *Archive) Query(ctx context.Context, deviceID string, w analytics.Window) ([]entities.Reading, error) {
	res, err := a.query.Query(ctx, BuildWindowFlux(a.bucket, deviceID, w, a.limit))
	if err != nil {
		return nil, fmt.Errorf("archive: query %s: %w", deviceID, err)
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			log.Printf("archive: close result: %v", cerr)
		}
	}()

	out := make([]entities.Reading, 0, 64)
	for res.Next() {
		rec := res.Record()
		r := entities.Reading{
			Timestamp:   rec.Time().Unix(),
			Moisture:    entities.ToF64(rec.ValueByKey("moisture")),
			Temperature: entities.ToF64(rec.ValueByKey("temperature")),
			Humidity:    entities.ToF64(rec.ValueByKey("humidity")),
			ValveStatus: entities.ValveOff,
		}
		if on, _ := rec.ValueByKey("valve_on").(bool); on {
			r.ValveStatus = entities.ValveOn
		}
		out = append(out, r)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", deviceID, err)
	}
	analytics.SortByTime(out)
	return out, nil
}
