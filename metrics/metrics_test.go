package metrics_test

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	accounts "github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/metrics"
)

func TestSinkCountsActivityByOutcome(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	sink := metrics.NewSink(reg)
	ctx := context.Background()

	events := []accounts.ActivityEvent{
		{EventType: accounts.ActivityEventRegistered},
		{EventType: accounts.ActivityEventRegistered},
		{EventType: accounts.ActivityEventRegistrationFailed, Reason: accounts.TextCodeEmailDispatch},
		{EventType: accounts.ActivityEventVerified},
		{EventType: accounts.ActivityEventVerificationFailed, Reason: "invalid_token"},
		{EventType: accounts.ActivityEventLoginSuccess},
		{EventType: accounts.ActivityEventLoginFailure, Reason: "inactive"},
		{EventType: accounts.ActivityEventLogout},
		{EventType: accounts.ActivityEventProfileUpdated},
	}

	for _, event := range events {
		require.NoError(t, sink.Record(ctx, event))
	}

	count, err := testutil.GatherAndCount(reg, "accounts_registrations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per outcome/reason pair")

	problems, err := testutil.GatherAndLint(reg)
	require.NoError(t, err)
	assert.Empty(t, problems)

	count, err = testutil.GatherAndCount(reg, "accounts_logouts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSinkIgnoresUnknownEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewSink(reg)

	assert.NoError(t, sink.Record(context.Background(), accounts.ActivityEvent{EventType: "something.else"}))

	count, err := testutil.GatherAndCount(reg, "accounts_logins_total")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTP(reg)

	app := fiber.New()
	app.Use(m.Middleware())
	app.Get("/verify-email/:uid/:token/", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	for _, path := range []string{"/verify-email/a/b/", "/verify-email/c/d/"} {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	count, err := testutil.GatherAndCount(reg, "http_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "both requests share the route pattern label")
}
