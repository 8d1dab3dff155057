// Package middleware wraps outbound HTTP round trippers.
package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RoundTripperFunc adapts a function to http.RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// Middleware wraps a round tripper.
type Middleware func(http.RoundTripper) http.RoundTripper

// Chain applies mws to next so the first middleware runs first.
func Chain(next http.RoundTripper, mws ...Middleware) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](next)
	}
	return next
}

// Headers sets fixed request headers unless the request already has them.
// The request is cloned before it is modified.
func Headers(headers map[string]string) Middleware {
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			r = r.Clone(r.Context())
			for k, v := range headers {
				if r.Header.Get(k) == "" {
					r.Header.Set(k, v)
				}
			}
			return next.RoundTrip(r)
		})
	}
}

// RateLimitConfig holds token bucket settings for outbound requests.
type RateLimitConfig struct {
	RequestsPerMin int // Maximum requests allowed per minute
	BurstSize      int // Maximum burst of requests allowed
}

// RateLimit blocks each request until the token bucket allows it, or the
// request context ends.
func RateLimit(cfg RateLimitConfig) Middleware {
	limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerMin)/60.0, cfg.BurstSize)
	return func(next http.RoundTripper) http.RoundTripper {
		return RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			if err := limiter.Wait(r.Context()); err != nil {
				return nil, err
			}
			return next.RoundTrip(r)
		})
	}
}
