// Package metrics exports account activity and HTTP traffic as Prometheus metrics.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	accounts "github.com/goliatone/go-accounts"
)

const namespace = "accounts"

// Sink counts activity events by type and outcome
type Sink struct {
	registrations  *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	logins         *prometheus.CounterVec
	logouts        prometheus.Counter
	profileUpdates *prometheus.CounterVec
}

var _ accounts.ActivitySink = (*Sink)(nil)

// NewSink registers the activity collectors on reg
func NewSink(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)

	return &Sink{
		registrations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "registrations_total",
				Help:      "Registration attempts by outcome",
			},
			[]string{"outcome", "reason"},
		),
		verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verifications_total",
				Help:      "Verification link visits by outcome",
			},
			[]string{"outcome", "reason"},
		),
		logins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logins_total",
				Help:      "Login attempts by outcome",
			},
			[]string{"outcome", "reason"},
		),
		logouts: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "logouts_total",
				Help:      "Logouts",
			},
		),
		profileUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_updates_total",
				Help:      "Profile updates by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (s *Sink) Record(_ context.Context, event accounts.ActivityEvent) error {
	switch event.EventType {
	case accounts.ActivityEventRegistered:
		s.registrations.WithLabelValues("success", "").Inc()
	case accounts.ActivityEventRegistrationFailed:
		s.registrations.WithLabelValues("failure", event.Reason).Inc()
	case accounts.ActivityEventVerified:
		s.verifications.WithLabelValues("success", "").Inc()
	case accounts.ActivityEventVerificationFailed:
		s.verifications.WithLabelValues("failure", event.Reason).Inc()
	case accounts.ActivityEventLoginSuccess:
		s.logins.WithLabelValues("success", "").Inc()
	case accounts.ActivityEventLoginFailure:
		s.logins.WithLabelValues("failure", event.Reason).Inc()
	case accounts.ActivityEventLogout:
		s.logouts.Inc()
	case accounts.ActivityEventProfileUpdated:
		s.profileUpdates.WithLabelValues("success").Inc()
	case accounts.ActivityEventProfileUpdateFailure:
		s.profileUpdates.WithLabelValues("failure").Inc()
	}
	return nil
}

// HTTP holds request collectors for the fiber middleware
type HTTP struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	factory := promauto.With(reg)

	return &HTTP{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		inFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
	}
}

// Middleware records every request under its route pattern
func (h *HTTP) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		h.inFlight.Inc()
		defer h.inFlight.Dec()

		err := c.Next()

		// route patterns keep label cardinality bounded
		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		h.requests.WithLabelValues(c.Method(), path, strconv.Itoa(status)).Inc()
		h.duration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())

		return err
	}
}
