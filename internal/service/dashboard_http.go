package service

import (
	"context"
	nethttp "net/http"
	"strconv"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names reported to middleware.
const (
	OperationDashboardGetMetrics  = "/helpdeskpulse.v1.Dashboard/GetMetrics"
	OperationDashboardGetHistory  = "/helpdeskpulse.v1.Dashboard/GetHistory"
	OperationDashboardGLPIHealth  = "/helpdeskpulse.v1.Dashboard/GLPIHealth"
	OperationDashboardCacheHealth = "/helpdeskpulse.v1.Dashboard/CacheHealth"
)

// RegisterDashboardHTTPServer mounts the dashboard routes on s.
func RegisterDashboardHTTPServer(s *http.Server, srv *DashboardService) {
	r := s.Route("/")
	r.GET("/api/v1/dashboard/metrics", _Dashboard_GetMetrics_HTTP_Handler(srv))
	r.GET("/api/v1/dashboard/history", _Dashboard_GetHistory_HTTP_Handler(srv))
	r.GET("/api/v1/health/glpi", _Dashboard_GLPIHealth_HTTP_Handler(srv))
	r.GET("/api/v1/health/cache", _Dashboard_CacheHealth_HTTP_Handler(srv))
}

func _Dashboard_GetMetrics_HTTP_Handler(srv *DashboardService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in MetricsRequest
		q := ctx.Request().URL.Query()
		in.StartDate = q.Get("start_date")
		in.EndDate = q.Get("end_date")
		if v := q.Get("trends"); v != "" {
			trends, err := strconv.ParseBool(v)
			if err != nil {
				return invalidParam("trends", v)
			}
			in.Trends = trends
		}

		http.SetOperation(ctx, OperationDashboardGetMetrics)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetMetrics(ctx, req.(*MetricsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			setRetryAfter(ctx, err)
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Dashboard_GetHistory_HTTP_Handler(srv *DashboardService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		var in HistoryRequest
		if v := ctx.Request().URL.Query().Get("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil {
				return invalidParam("limit", v)
			}
			in.Limit = limit
		}

		http.SetOperation(ctx, OperationDashboardGetHistory)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetHistory(ctx, req.(*HistoryRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Dashboard_GLPIHealth_HTTP_Handler(srv *DashboardService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationDashboardGLPIHealth)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.GLPIHealth(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		reply := out.(*GLPIHealthReply)
		code := nethttp.StatusOK
		if !reply.Healthy {
			code = nethttp.StatusServiceUnavailable
		}
		return ctx.Result(code, reply)
	}
}

func _Dashboard_CacheHealth_HTTP_Handler(srv *DashboardService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		http.SetOperation(ctx, OperationDashboardCacheHealth)
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return srv.CacheHealth(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func setRetryAfter(ctx http.Context, err error) {
	if d, ok := retryAfterSeconds(err); ok {
		ctx.Response().Header().Set("Retry-After", strconv.FormatInt(int64(d.Seconds()), 10))
	}
}
