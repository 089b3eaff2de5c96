package provider

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics метрики провайдера. Нулевой указатель допустим и ничего не
// записывает.
type Metrics struct {
	registrationTransitions *prometheus.CounterVec
	callTransitions         *prometheus.CounterVec
	engineEvents            *prometheus.CounterVec
	staleEvents             *prometheus.CounterVec
	rejectedCommands        *prometheus.CounterVec
	deviceBindFailures      *prometheus.CounterVec
	busyRejections          prometheus.Counter
	reinitializations       prometheus.Counter
	activeCall              prometheus.Gauge
	callDuration            prometheus.Histogram
}

// MetricsConfig параметры регистрации метрик
type MetricsConfig struct {
	Namespace string
	Subsystem string
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "sip", Subsystem: "provider"}
}

// NewMetrics регистрирует метрики в reg
func NewMetrics(reg prometheus.Registerer, cfg MetricsConfig) *Metrics {
	f := promauto.With(reg)
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		registrationTransitions: counterVec("registration_transitions_total",
			"Переходы машины регистрации", "from", "to"),
		callTransitions: counterVec("call_transitions_total",
			"Переходы машины вызова", "from", "to"),
		engineEvents: counterVec("engine_events_total",
			"События движка, принятые к обработке", "event"),
		staleEvents: counterVec("stale_events_total",
			"События от замененного экземпляра движка", "event"),
		rejectedCommands: counterVec("rejected_commands_total",
			"Команды, отклоненные проверкой предусловий", "operation", "kind"),
		deviceBindFailures: counterVec("device_bind_failures_total",
			"Ошибки привязки аудио устройств", "kind"),
		busyRejections: f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "busy_rejections_total",
			Help: "Сессии, отклоненные с 486 при наличии активной",
		}),
		reinitializations: f.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "reinitializations_total",
			Help: "Пересоздания SIP агента",
		}),
		activeCall: f.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name: "active_call",
			Help: "1 если есть удерживаемая сессия",
		}),
		callDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
			Name:    "call_duration_seconds",
			Help:    "Длительность принятых вызовов",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
	}
}

func (m *Metrics) recordTransition(t Transition) {
	if m == nil {
		return
	}
	switch t.Machine {
	case "registration":
		m.registrationTransitions.WithLabelValues(t.From, t.To).Inc()
	case "call":
		m.callTransitions.WithLabelValues(t.From, t.To).Inc()
	}
}

func (m *Metrics) engineEvent(name string) {
	if m == nil {
		return
	}
	m.engineEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) staleEvent(name string) {
	if m == nil {
		return
	}
	m.staleEvents.WithLabelValues(name).Inc()
}

func (m *Metrics) rejected(op string, err error) {
	if m == nil {
		return
	}
	m.rejectedCommands.WithLabelValues(op, string(KindOf(err))).Inc()
}

func (m *Metrics) deviceBindFailure(kind string) {
	if m == nil {
		return
	}
	m.deviceBindFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) busyRejection() {
	if m == nil {
		return
	}
	m.busyRejections.Inc()
}

func (m *Metrics) reinitialized() {
	if m == nil {
		return
	}
	m.reinitializations.Inc()
}

func (m *Metrics) sessionHeld(held bool) {
	if m == nil {
		return
	}
	if held {
		m.activeCall.Set(1)
	} else {
		m.activeCall.Set(0)
	}
}

func (m *Metrics) callEnded(acceptedAt time.Time) {
	if m == nil || acceptedAt.IsZero() {
		return
	}
	m.callDuration.Observe(time.Since(acceptedAt).Seconds())
}
