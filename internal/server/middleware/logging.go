// Package middleware provides HTTP middleware for request logging.
package middleware

import (
	"context"
	"strings"
	"time"

	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// SlowRequestThreshold marks requests worth a dedicated warning. A cold
// dashboard fan-out against a slow GLPI easily takes a few seconds.
const SlowRequestThreshold = 5 * time.Second

// Logging returns a middleware that logs every request with its status and
// latency, reusing X-Request-ID when the caller sets one.
//
// Example output:
//
//	🟢 GET /api/v1/dashboard/metrics - 200 (342ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | GET /api/v1/dashboard/metrics | 6438ms
func Logging(logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			startTime := time.Now()

			var (
				method    string
				path      string
				operation string
				ip        string
				userAgent string
				requestID string
			)

			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				method = tr.Kind().String()
				path = operation

				if ht, ok := tr.(http.Transporter); ok {
					httpReq := ht.Request()
					method = httpReq.Method
					path = httpReq.URL.Path
					if httpReq.URL.RawQuery != "" {
						path = path + "?" + httpReq.URL.RawQuery
					}
					ip = extractClientIP(httpReq)
					userAgent = httpReq.Header.Get("User-Agent")
					requestID = httpReq.Header.Get("X-Request-ID")
				}
			}
			if requestID == "" {
				requestID = pkglog.GenerateRequestID()
			}
			if ht, ok := transport.FromServerContext(ctx); ok {
				ht.ReplyHeader().Set("X-Request-ID", requestID)
			}

			ctx = pkglog.WithRequestContext(ctx, requestID, operation)

			reply, err := handler(ctx, req)

			duration := time.Since(startTime)
			status := extractHTTPStatus(err)

			kvs := []interface{}{"ip", ip, "user_agent", userAgent}
			if err != nil {
				kvs = append(kvs, "reason", errors.Reason(err))
			}
			logger.RequestWithContext(ctx, method, path, status, duration.Milliseconds(), kvs...)

			if duration >= SlowRequestThreshold {
				logger.SlowRequest(ctx, method, path, duration.Milliseconds(), SlowRequestThreshold.Milliseconds())
			}

			return reply, err
		}
	}
}

// extractClientIP returns the client address.
// Order: X-Real-IP > X-Forwarded-For > RemoteAddr
func extractClientIP(req *http.Request) string {
	if ip := req.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}

	if forwarded := req.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	return req.RemoteAddr
}

// extractHTTPStatus reads the status carried by a kratos error.
func extractHTTPStatus(err error) int {
	if err == nil {
		return 200
	}
	return int(errors.Code(err))
}
