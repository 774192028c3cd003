package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HoldsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatstore_holds_granted_total",
		Help: "Hold acquisitions granted, renewals included.",
	})

	HoldsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatstore_holds_denied_total",
		Help: "Hold acquisitions denied, by reason.",
	}, []string{"reason"})

	Fulfillments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "beatstore_fulfillments_total",
		Help: "Fulfillment attempts, by terminal outcome.",
	}, []string{"outcome"})

	ExpiredHoldsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "beatstore_expired_holds_released_total",
		Help: "Holds cleared by the expiry sweeper.",
	})
)
