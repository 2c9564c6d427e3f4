package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"HelpdeskPulse/internal/biz"
	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/pkg/glpi"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Error reasons returned to HTTP clients.
const (
	ReasonGLPIUnavailable    = "GLPI_UNAVAILABLE"
	ReasonGLPISessionExpired = "GLPI_SESSION_EXPIRED"
	ReasonInvalidDateRange   = "INVALID_DATE_RANGE"
	ReasonHistoryDisabled    = "HISTORY_DISABLED"
	ReasonUpstreamTimeout    = "UPSTREAM_TIMEOUT"
	ReasonRequestCanceled    = "REQUEST_CANCELED"
	ReasonInvalidParameter   = "INVALID_PARAMETER"
	ReasonInternal           = "INTERNAL_ERROR"
)

// GLPIInspector exposes the GLPI client's observability view.
type GLPIInspector interface {
	Metrics() glpi.ClientMetrics
}

// CacheInspector exposes the cache layer's observability view.
type CacheInspector interface {
	Info() data.CacheInfo
}

// MetricsRequest selects the dashboard period.
type MetricsRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Trends    bool   `json:"trends"`
}

// HistoryRequest pages through stored snapshots.
type HistoryRequest struct {
	Limit int `json:"limit"`
}

// HistoryReply lists stored snapshots, newest first.
type HistoryReply struct {
	Entries []*biz.HistoryEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// GLPIHealthReply reports the GLPI client state.
type GLPIHealthReply struct {
	Healthy bool               `json:"healthy"`
	Status  string             `json:"status"`
	Metrics glpi.ClientMetrics `json:"metrics"`
}

// CacheHealthReply reports the cache layer state.
type CacheHealthReply struct {
	Healthy bool           `json:"healthy"`
	Status  string         `json:"status"`
	Cache   data.CacheInfo `json:"cache"`
}

// DashboardService serves dashboard snapshots and health views.
type DashboardService struct {
	agg   *biz.MetricsAggregator
	glpi  GLPIInspector
	cache CacheInspector
	log   *log.Helper
}

// NewDashboardService creates a DashboardService.
func NewDashboardService(agg *biz.MetricsAggregator, gi GLPIInspector, ci CacheInspector, logger log.Logger) *DashboardService {
	return &DashboardService{
		agg:   agg,
		glpi:  gi,
		cache: ci,
		log:   log.NewHelper(log.With(logger, "module", "service/dashboard")),
	}
}

// GetMetrics returns the dashboard snapshot for the requested period.
func (s *DashboardService) GetMetrics(ctx context.Context, req *MetricsRequest) (*biz.AggregationResult, error) {
	s.log.WithContext(ctx).Debugw("msg", "GetMetrics called", "start_date", req.StartDate, "end_date", req.EndDate, "trends", req.Trends)

	rng, err := biz.ParseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, toHTTPError(err)
	}

	var opts []biz.SnapshotOption
	if req.Trends {
		opts = append(opts, biz.WithTrends())
	}

	res, err := s.agg.GetSnapshot(ctx, rng, opts...)
	if err != nil {
		s.log.WithContext(ctx).Errorw("msg", "failed to build dashboard snapshot", "range", biz.RangeKey(rng), "error", err)
		return nil, toHTTPError(err)
	}
	return res, nil
}

// GetHistory lists stored snapshots.
func (s *DashboardService) GetHistory(ctx context.Context, req *HistoryRequest) (*HistoryReply, error) {
	if req.Limit < 0 {
		return nil, invalidParam("limit", strconv.Itoa(req.Limit))
	}

	entries, err := s.agg.History(ctx, req.Limit)
	if err != nil {
		if !stderrors.Is(err, data.ErrHistoryDisabled) {
			s.log.WithContext(ctx).Errorw("msg", "failed to list snapshot history", "error", err)
		}
		return nil, toHTTPError(err)
	}
	return &HistoryReply{Entries: entries, Count: len(entries)}, nil
}

// GLPIHealth reports the GLPI client. It is unhealthy while the circuit
// breaker rejects calls.
func (s *DashboardService) GLPIHealth(_ context.Context) (*GLPIHealthReply, error) {
	m := s.glpi.Metrics()
	healthy := m.CircuitBreakerState != glpi.StateOpen.String()

	status := "ok"
	switch {
	case !healthy:
		status = "unavailable"
	case m.CircuitBreakerState == glpi.StateHalfOpen.String():
		status = "recovering"
	}
	return &GLPIHealthReply{Healthy: healthy, Status: status, Metrics: sanitizeMetrics(m)}, nil
}

// CacheHealth reports the cache layer. A lost shared backend degrades the
// service but does not make it unavailable.
func (s *DashboardService) CacheHealth(_ context.Context) (*CacheHealthReply, error) {
	info := s.cache.Info()
	status := "ok"
	if !info.Healthy {
		status = "degraded"
	}
	if math.IsNaN(info.HitRate) {
		info.HitRate = 0
	}
	return &CacheHealthReply{Healthy: true, Status: status, Cache: info}, nil
}

func sanitizeMetrics(m glpi.ClientMetrics) glpi.ClientMetrics {
	if math.IsNaN(m.AverageLatencyMs) || math.IsInf(m.AverageLatencyMs, 0) {
		m.AverageLatencyMs = 0
	}
	return m
}

// toHTTPError maps domain errors onto kratos errors carrying the HTTP status.
func toHTTPError(err error) error {
	var cbErr *glpi.CircuitBreakerError
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, biz.ErrInvalidDateRange):
		return errors.BadRequest(ReasonInvalidDateRange, err.Error())
	case stderrors.As(err, &cbErr):
		e := errors.ServiceUnavailable(ReasonGLPIUnavailable, "GLPI is temporarily unavailable")
		if cbErr.RetryAfter > 0 {
			secs := int64(math.Ceil(cbErr.RetryAfter.Seconds()))
			e = e.WithMetadata(map[string]string{"retry_after": strconv.FormatInt(secs, 10)})
		}
		return e.WithCause(err)
	case stderrors.Is(err, glpi.ErrSessionExpired):
		return errors.New(502, ReasonGLPISessionExpired, "could not open a GLPI session").WithCause(err)
	case stderrors.Is(err, data.ErrHistoryDisabled):
		return errors.New(501, ReasonHistoryDisabled, "snapshot history is not configured")
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.GatewayTimeout(ReasonUpstreamTimeout, "GLPI did not answer in time").WithCause(err)
	case stderrors.Is(err, context.Canceled):
		return errors.ClientClosed(ReasonRequestCanceled, "request canceled")
	default:
		return errors.InternalServer(ReasonInternal, fmt.Sprintf("dashboard unavailable: %v", err)).WithCause(err)
	}
}

func invalidParam(name, value string) error {
	return errors.BadRequest(ReasonInvalidParameter, fmt.Sprintf("invalid %s %q", name, value))
}

// retryAfterSeconds reads the retry hint set by toHTTPError.
func retryAfterSeconds(err error) (time.Duration, bool) {
	e := errors.FromError(err)
	if e == nil || e.Metadata == nil {
		return 0, false
	}
	v, ok := e.Metadata["retry_after"]
	if !ok {
		return 0, false
	}
	secs, perr := strconv.ParseInt(v, 10, 64)
	if perr != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
