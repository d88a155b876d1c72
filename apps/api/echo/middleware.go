package echoapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/astroacademy/backend/core"
)

var (
	errRateLimited = echo.NewHTTPError(http.StatusTooManyRequests, "too many requests, slow down")

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Number of HTTP requests, by method, route and status code.",
	}, []string{"method", "route", "code"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latencies, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// newRateLimiter limits each client IP on the public, unauthenticated endpoints.
// A non-positive rate disables limiting.
func newRateLimiter(conf *core.Config) echo.MiddlewareFunc {
	if conf.Server.RateLimit <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	store := middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(conf.Server.RateLimit),
		Burst:     conf.Server.RateBurst,
		ExpiresIn: 3 * time.Minute,
	})
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		DenyHandler: func(ctx echo.Context, identifier string, err error) error {
			return errRateLimited
		},
	})
}

func requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		if err := next(ctx); err != nil {
			// run the error handler now so that the response status is final
			ctx.Error(err)
		}

		route := ctx.Path() // route pattern, keeps label cardinality bounded
		httpRequests.WithLabelValues(ctx.Request().Method, route, strconv.Itoa(ctx.Response().Status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		return nil
	}
}
