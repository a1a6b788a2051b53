package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/Parameshwar06/Drip/internal/model/entities"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

var (
	wateringHeader = []string{"Timestamp", "Duration(min)", "Effectiveness(%)"}
	readingHeader  = []string{"Timestamp", "Moisture Level", "Temperature", "Humidity"}
)

func isoTime(unixSeconds int64) string {
	return time.UnixMilli(unixSeconds * 1000).UTC().Format(isoMillis)
}

func num(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// WriteWateringCSV writes one row per event keyed by its start time.
func WriteWateringCSV(w io.Writer, events []entities.WateringEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(wateringHeader); err != nil {
		return err
	}
	for _, e := range events {
		if err := cw.Write([]string{isoTime(e.Start), num(e.DurationMinutes), num(e.EffectivenessPercent)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func WriteReadingsCSV(w io.Writer, readings []entities.Reading) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(readingHeader); err != nil {
		return err
	}
	for _, r := range readings {
		row := []string{isoTime(r.Timestamp), num(r.Moisture), num(r.Temperature), num(r.Humidity)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
