package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"text/tabwriter"
	"time"

	"nrf-collector/internal/sensor"
)

// valueStats summarizes one measured quantity. NaN readings are counted but
// excluded from min, max and mean.
type valueStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
	NaN  int     `json:"nan,omitempty"`

	sum float64
	n   int
}

func (v *valueStats) add(x float32) {
	f := float64(x)
	if math.IsNaN(f) {
		v.NaN++
		return
	}
	if v.n == 0 || f < v.Min {
		v.Min = f
	}
	if v.n == 0 || f > v.Max {
		v.Max = f
	}
	v.sum += f
	v.n++
	v.Mean = v.sum / float64(v.n)
}

type sensorStats struct {
	Sensor      sensor.ID  `json:"-"`
	Name        string     `json:"sensor"`
	Count       int        `json:"count"`
	First       time.Time  `json:"first"`
	Last        time.Time  `json:"last"`
	Temperature valueStats `json:"temperature"`
	Humidity    valueStats `json:"humidity"`
}

// computeStats groups samples by sensor, ordered by sensor id with unknown first.
func computeStats(samples []sensor.Sample) []sensorStats {
	bySensor := make(map[sensor.ID]*sensorStats)
	for _, s := range samples {
		st, ok := bySensor[s.Sensor]
		if !ok {
			st = &sensorStats{Sensor: s.Sensor, Name: s.Sensor.String(), First: s.CapturedAt, Last: s.CapturedAt}
			bySensor[s.Sensor] = st
		}
		st.Count++
		if s.CapturedAt.Before(st.First) {
			st.First = s.CapturedAt
		}
		if s.CapturedAt.After(st.Last) {
			st.Last = s.CapturedAt
		}
		st.Temperature.add(s.Temperature)
		st.Humidity.add(s.Humidity)
	}

	out := make([]sensorStats, 0, len(bySensor))
	for _, st := range bySensor {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sensor < out[j].Sensor })
	return out
}

func writeStats(w io.Writer, format string, stats []sensorStats) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Sensor\tCount\tTemp min/mean/max (°C)\tHumidity min/mean/max (%%)\tFirst\tLast\n")
	for _, st := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%.2f / %.2f / %.2f\t%.2f / %.2f / %.2f\t%s\t%s\n",
			st.Name, st.Count,
			st.Temperature.Min, st.Temperature.Mean, st.Temperature.Max,
			st.Humidity.Min, st.Humidity.Mean, st.Humidity.Max,
			st.First.Format(displayLayout), st.Last.Format(displayLayout))
	}
	return tw.Flush()
}
