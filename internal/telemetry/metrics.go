package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/stockpile"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Session metrics
	LoginsTotal        metric.Int64Counter
	LoginFailuresTotal metric.Int64Counter
	LogoutsTotal       metric.Int64Counter
	ProfileFetchTotal  metric.Int64Counter

	// Refresh metrics
	RefreshTotal         metric.Int64Counter
	RefreshFailuresTotal metric.Int64Counter
	RefreshDuration      metric.Float64Histogram

	// Request metrics
	RequestRetriesTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.LoginsTotal, _ = meter.Int64Counter(
		"stockpile.session.logins.total",
		metric.WithDescription("Total number of successful logins"),
		metric.WithUnit("{login}"),
	)

	m.LoginFailuresTotal, _ = meter.Int64Counter(
		"stockpile.session.login_failures.total",
		metric.WithDescription("Total number of rejected or failed logins"),
		metric.WithUnit("{login}"),
	)

	m.LogoutsTotal, _ = meter.Int64Counter(
		"stockpile.session.logouts.total",
		metric.WithDescription("Total number of logouts"),
		metric.WithUnit("{logout}"),
	)

	m.ProfileFetchTotal, _ = meter.Int64Counter(
		"stockpile.session.profile_fetch.total",
		metric.WithDescription("Total number of user profile fetches"),
		metric.WithUnit("{fetch}"),
	)

	m.RefreshTotal, _ = meter.Int64Counter(
		"stockpile.client.refresh.total",
		metric.WithDescription("Total number of token refresh calls issued"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshFailuresTotal, _ = meter.Int64Counter(
		"stockpile.client.refresh.failures.total",
		metric.WithDescription("Total number of token refresh calls that failed"),
		metric.WithUnit("{refresh}"),
	)

	m.RefreshDuration, _ = meter.Float64Histogram(
		"stockpile.client.refresh.duration",
		metric.WithDescription("Duration of token refresh operations"),
		metric.WithUnit("ms"),
	)

	m.RequestRetriesTotal, _ = meter.Int64Counter(
		"stockpile.client.request.retries.total",
		metric.WithDescription("Total number of requests resent after a token refresh"),
		metric.WithUnit("{request}"),
	)

	return m
}
