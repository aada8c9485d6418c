// Package metrics exports device sensor values in the Prometheus format.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jamesprial/drive-monitor/internal/device"
)

// Exporter publishes sensor readings as gauges. Numeric sensors become
// drive_monitor_sensor_value; enum sensors become one
// drive_monitor_sensor_state series per option, set to 1 for the current
// value and 0 otherwise. Other sensors are not exported.
type Exporter struct {
	value *prometheus.GaugeVec
	state *prometheus.GaugeVec

	mu        sync.Mutex
	published int
}

// NewExporter registers the sensor gauges with reg.
func NewExporter(reg prometheus.Registerer) *Exporter {
	f := promauto.With(reg)
	return &Exporter{
		value: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drive_monitor_sensor_value",
			Help: "Current value of a numeric device sensor",
		}, []string{"device", "node", "sensor"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "drive_monitor_sensor_state",
			Help: "Current state of an enum device sensor (1 for the active state)",
		}, []string{"device", "node", "sensor", "state"}),
	}
}

// Publish records the current value of every sensor. Sensors whose value
// is still unknown are skipped so that no fake zero is exported.
func (e *Exporter) Publish(sensors []*device.Sensor) {
	for _, s := range sensors {
		if s.Class() == device.ClassEnum {
			current, _ := s.Value().(string)
			for _, opt := range s.Options() {
				v := 0.0
				if opt == current {
					v = 1
				}
				e.state.WithLabelValues(s.DeviceID(), s.Node(), s.Name(), opt).Set(v)
			}
			continue
		}
		if f, ok := s.Float(); ok {
			e.value.WithLabelValues(s.DeviceID(), s.Node(), s.Name()).Set(f)
		}
	}

	e.mu.Lock()
	e.published++
	e.mu.Unlock()
}

// Published returns how many times Publish has been called.
func (e *Exporter) Published() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
