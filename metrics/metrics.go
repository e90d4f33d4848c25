// Package metrics provides a prometheus-backed implementation of the
// kafka.EventSink interface, exposing the consumer's activity as counters
// and gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sink implements kafka.EventSink on top of a prometheus registry.
type Sink struct {
	messages   *prometheus.CounterVec
	fetches    prometheus.Counter
	commits    prometheus.Counter
	joins      prometheus.Counter
	rebalances prometheus.Counter
	heartbeats prometheus.Counter
	errors     prometheus.Counter
}

// NewSink registers the consumer metrics with reg and returns the sink.
// Passing prometheus.DefaultRegisterer is the common case.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_consumer_messages_total",
			Help: "Messages delivered to the application handler.",
		}, []string{"topic"}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_fetches_total",
			Help: "Fetch operations executed against the brokers.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_offset_commits_total",
			Help: "Offset commit requests sent to the group coordinator.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_group_joins_total",
			Help: "Successful consumer group joins.",
		}),
		rebalances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_group_rebalances_total",
			Help: "Rebalances observed by this consumer.",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_heartbeats_total",
			Help: "Heartbeats sent to the group coordinator.",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Errors observed by the consumer loop.",
		}),
	}
	reg.MustRegister(s.messages, s.fetches, s.commits, s.joins, s.rebalances, s.heartbeats, s.errors)
	return s
}

// OnEvent implements the kafka.EventSink interface.
func (s *Sink) OnEvent(name string, payload map[string]any) {
	switch name {
	case "consumer.message":
		topic, _ := payload["topic"].(string)
		s.messages.WithLabelValues(topic).Inc()
	case "consumer.fetch":
		s.fetches.Inc()
	case "offsets.commit":
		s.commits.Inc()
	case "group.join":
		s.joins.Inc()
	case "group.rebalance":
		s.rebalances.Inc()
	case "group.heartbeat":
		s.heartbeats.Inc()
	case "consumer.error":
		s.errors.Inc()
	}
}

// Handler returns an http.Handler serving the default prometheus registry,
// for programs that don't already expose one.
func Handler() http.Handler {
	return promhttp.Handler()
}
