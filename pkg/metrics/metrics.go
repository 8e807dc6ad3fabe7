package metrics

import (
	"net/http"

	"github.com/ericogr/plant-autocal/pkg/calibration"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var statuses = []calibration.Status{
	calibration.StatusRed, calibration.StatusYellow, calibration.StatusGreen,
	calibration.StatusError, calibration.StatusUnknown, calibration.StatusWarmup,
}

// Recorder exports the last snapshot of each measurement as gauges. It has its
// own registry so tests and multiple engines do not collide.
type Recorder struct {
	reg *prometheus.Registry

	value    *prometheus.GaugeVec
	raw      *prometheus.GaugeVec
	rangeMin *prometheus.GaugeVec
	rangeMax *prometheus.GaugeVec
	status   *prometheus.GaugeVec
	autocal  *prometheus.GaugeVec

	sampleFaults  *prometheus.CounterVec
	persistFaults *prometheus.CounterVec
}

func New() *Recorder {
	label := []string{"measurement"}
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "value", Help: "Last mapped value.",
		}, label),
		raw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "raw", Help: "Last raw sample.",
		}, label),
		rangeMin: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "range_min", Help: "Lower raw bound of the mapping range.",
		}, label),
		rangeMax: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "range_max", Help: "Upper raw bound of the mapping range.",
		}, label),
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "status", Help: "1 for the current status of the measurement.",
		}, []string{"measurement", "status"}),
		autocal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "plant", Name: "calibration_mode", Help: "1 while autocal is active.",
		}, label),
		sampleFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plant", Name: "sample_faults_total", Help: "Failed sampler reads.",
		}, label),
		persistFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "plant", Name: "persistence_faults_total", Help: "Failed store writes.",
		}, label),
	}
	r.reg.MustRegister(r.value, r.raw, r.rangeMin, r.rangeMax, r.status, r.autocal, r.sampleFaults, r.persistFaults)
	return r
}

func (r *Recorder) Observe(s calibration.Snapshot) {
	r.value.WithLabelValues(s.Key).Set(float64(s.Value))
	r.raw.WithLabelValues(s.Key).Set(float64(s.Raw))
	r.rangeMin.WithLabelValues(s.Key).Set(float64(s.MinMax.Min))
	r.rangeMax.WithLabelValues(s.Key).Set(float64(s.MinMax.Max))
	for _, st := range statuses {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		r.status.WithLabelValues(s.Key, string(st)).Set(v)
	}
	mode := 0.0
	if s.CalibrationMode {
		mode = 1
	}
	r.autocal.WithLabelValues(s.Key).Set(mode)
}

func (r *Recorder) SampleFault(key string) { r.sampleFaults.WithLabelValues(key).Inc() }

func (r *Recorder) PersistenceFault(key string) { r.persistFaults.WithLabelValues(key).Inc() }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
