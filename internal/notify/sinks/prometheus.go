package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// PrometheusSink counts delivered notifications by kind and adapter.
type PrometheusSink struct {
	notifications *prometheus.CounterVec
	lastCritical  *prometheus.GaugeVec
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_notifications_total",
			Help: "Notifications delivered, partitioned by kind and adapter.",
		}, []string{"kind", "adapter"}),
		lastCritical: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "crawler_last_critical_timestamp_seconds",
			Help: "Unix time of the most recent critical notification per adapter.",
		}, []string{"adapter"}),
	}
	var err error
	if s.notifications, err = register(reg, s.notifications); err != nil {
		return nil, err
	}
	if s.lastCritical, err = register(reg, s.lastCritical); err != nil {
		return nil, err
	}
	return s, nil
}

// register adopts an identical collector that is already registered, so a
// rebuilt app keeps counting into the same series.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register notify collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors.
func (s *PrometheusSink) Consume(_ context.Context, batch []crawler.Notification) error {
	for _, n := range batch {
		adapter := n.Adapter
		if adapter == "" {
			adapter = "none"
		}
		s.notifications.WithLabelValues(string(n.Kind), adapter).Inc()
		if n.Kind == crawler.NotifyCritical && !n.At.IsZero() {
			s.lastCritical.WithLabelValues(adapter).Set(float64(n.At.Unix()))
		}
	}
	return nil
}

// Close implements notify.Sink; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
