package bridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bigbag/icdi-flasher/internal/rsp"
)

// Directions used as the metric label.
const (
	ToDevice = "to_device"
	ToClient = "to_client"
)

// Metrics counts relay traffic. A nil *Metrics records nothing.
type Metrics struct {
	sessions       prometheus.Counter
	packets        *prometheus.CounterVec
	bytes          *prometheus.CounterVec
	acks           *prometheus.CounterVec
	naks           *prometheus.CounterVec
	checksumErrors *prometheus.CounterVec
	interrupts     *prometheus.CounterVec
	overflows      *prometheus.CounterVec
}

func counterVec(name, help string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "icdi",
			Subsystem: "bridge",
			Name:      name,
			Help:      help,
		},
		[]string{"direction"},
	)
}

// NewMetrics creates the bridge collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "icdi",
			Subsystem: "bridge",
			Name:      "sessions_total",
			Help:      "Debugger connections served.",
		}),
		packets:        counterVec("packets_total", "RSP packets relayed."),
		bytes:          counterVec("bytes_total", "Bytes relayed."),
		acks:           counterVec("acks_total", "Ack bytes relayed."),
		naks:           counterVec("naks_total", "Nak bytes relayed."),
		checksumErrors: counterVec("checksum_errors_total", "Packets relayed with a bad checksum."),
		interrupts:     counterVec("interrupts_total", "Interrupt bytes relayed."),
		overflows:      counterVec("overflows_total", "Packets dropped for exceeding the size limit."),
	}

	reg.MustRegister(
		m.sessions,
		m.packets,
		m.bytes,
		m.acks,
		m.naks,
		m.checksumErrors,
		m.interrupts,
		m.overflows,
	)
	return m
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

func (m *Metrics) packet(direction string, p rsp.Packet) {
	if m == nil {
		return
	}
	m.packets.WithLabelValues(direction).Inc()
	m.bytes.WithLabelValues(direction).Add(float64(len(p.Data)))
	m.acks.WithLabelValues(direction).Add(float64(p.Acks))
	m.naks.WithLabelValues(direction).Add(float64(p.Naks))
	if p.Interrupt {
		m.interrupts.WithLabelValues(direction).Inc()
	}
	if !p.Valid {
		m.checksumErrors.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) overflow(direction string) {
	if m == nil {
		return
	}
	m.overflows.WithLabelValues(direction).Inc()
}
