// Package prometheus adapts engine metrics to a client_golang Collector.
//
//	reg.MustRegister(prometheus.NewCollector(engine))
package prometheus
