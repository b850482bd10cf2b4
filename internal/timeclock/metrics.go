package timeclock

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts engine outcomes. A nil *Metrics records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	droppedEvents *prometheus.CounterVec
}

// Rejection reasons used as the reason label.
const (
	ReasonAlreadyClockedIn    = "already_clocked_in"
	ReasonNotClockedIn        = "not_clocked_in"
	ReasonInvalidDuration     = "invalid_duration"
	ReasonLocationUnavailable = "location_unavailable"
	ReasonUnknownLocation     = "unknown_work_location"
	ReasonStaleFix            = "stale_fix"
	ReasonInvalidFix          = "invalid_fix"
	ReasonPersistence         = "persistence"
	ReasonOther               = "other"
)

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldclock",
			Name:      "transitions_total",
			Help:      "Successful clock transitions by event type.",
		}, []string{"event"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldclock",
			Name:      "rejections_total",
			Help:      "Clock requests that were refused, by reason.",
		}, []string{"reason"}),
		droppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fieldclock",
			Name:      "observer_events_dropped_total",
			Help:      "Events dropped because an observer queue was full.",
		}, []string{"observer"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.transitions, m.rejections, m.droppedEvents} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) RecordTransition(event string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(event).Inc()
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordDrop(observer string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(observer).Inc()
}
