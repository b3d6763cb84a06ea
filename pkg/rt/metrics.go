package rt

import "github.com/prometheus/client_golang/prometheus"

// Collector exports the task counters of a Runtime to Prometheus.
type Collector struct {
	r       *Runtime
	spawned *prometheus.Desc
	active  *prometheus.Desc
}

// NewCollector returns a collector for r. Register it with a
// prometheus.Registerer.
func NewCollector(namespace string, r *Runtime) *Collector {
	return &Collector{
		r: r,
		spawned: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rt", "tasks_spawned_total"),
			"Tasks started on the runtime.",
			nil, nil,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "rt", "tasks_active"),
			"Tasks currently running on the runtime.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.spawned
	ch <- c.active
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.r.Stats()
	ch <- prometheus.MustNewConstMetric(c.spawned, prometheus.CounterValue, float64(s.Spawned))
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Active))
}
