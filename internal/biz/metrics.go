package biz

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"HelpdeskPulse/internal/conf"
	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/pkg/glpi"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWorkers      = 8
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	defaultShortTTL  = 60 * time.Second
	defaultMediumTTL = 300 * time.Second
	defaultLongTTL   = 1800 * time.Second
)

// CacheTTL holds the TTL classes used by the aggregator.
type CacheTTL struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
}

func newCacheTTL(c *conf.Cache) CacheTTL {
	ttl := CacheTTL{Short: defaultShortTTL, Medium: defaultMediumTTL, Long: defaultLongTTL}
	if c == nil {
		return ttl
	}
	if c.ShortTTL > 0 {
		ttl.Short = c.ShortTTL
	}
	if c.MediumTTL > 0 {
		ttl.Medium = c.MediumTTL
	}
	if c.LongTTL > 0 {
		ttl.Long = c.LongTTL
	}
	return ttl
}

// SnapshotOption customizes GetSnapshot.
type SnapshotOption func(*snapshotOptions)

type snapshotOptions struct {
	trends bool
}

// WithTrends adds deltas against the previous period of equal length. It
// has no effect without a date range.
func WithTrends() SnapshotOption {
	return func(o *snapshotOptions) { o.trends = true }
}

// HistoryEntry is one stored snapshot.
type HistoryEntry struct {
	ID         int64              `json:"id"`
	Range      string             `json:"range"`
	GrandTotal int64              `json:"grand_total"`
	Partial    bool               `json:"partial"`
	CreatedAt  time.Time          `json:"created_at"`
	Result     *AggregationResult `json:"result,omitempty"`
}

// subQuery is one count the aggregator issues.
type subQuery struct {
	key   string
	level string
	query glpi.TicketQuery
}

type outcome struct {
	count int64
	err   error
}

// MetricsAggregator builds dashboard snapshots from many independent ticket
// counts. A failed count never aborts the others.
type MetricsAggregator struct {
	repo    TicketCountRepo
	history SnapshotHistoryRepo
	catalog *glpi.Catalog
	results *CachedOperation[*AggregationResult]
	ttl     CacheTTL
	workers int
	limit   int
	now     func() time.Time
	log     *pkglog.LogHelper
}

// NewMetricsAggregator creates the aggregator.
func NewMetricsAggregator(
	repo TicketCountRepo,
	history SnapshotHistoryRepo,
	cache Cache,
	catalog *glpi.Catalog,
	dc *conf.Dashboard,
	cc *conf.Cache,
	logger log.Logger,
) *MetricsAggregator {
	a := &MetricsAggregator{
		repo:    repo,
		history: history,
		catalog: catalog,
		ttl:     newCacheTTL(cc),
		workers: defaultWorkers,
		limit:   defaultHistoryLimit,
		now:     time.Now,
		log:     pkglog.NewLogHelper(log.With(logger, "module", "biz/metrics")),
	}
	if dc != nil {
		if dc.Workers > 0 {
			a.workers = dc.Workers
		}
		if dc.HistoryLimit > 0 {
			a.limit = dc.HistoryLimit
		}
	}
	a.results = NewCachedOperation(cache, a.resultTTL, logger)
	return a
}

// resultTTL keeps partial results briefly and closed past periods long.
func (a *MetricsAggregator) resultTTL(r *AggregationResult) time.Duration {
	if r == nil || r.Partial {
		return a.ttl.Short
	}
	if rng := r.Snapshot.Range; rng != nil {
		today := a.now().UTC().Truncate(24 * time.Hour)
		if rng.Until().Before(today) || rng.Until().Equal(today) {
			return a.ttl.Long
		}
	}
	return a.ttl.Medium
}

// CacheKey names the cached result for a range.
func CacheKey(rng *DateRange, trends bool) string {
	key := "dashboard:metrics:" + RangeKey(rng)
	if trends && rng != nil {
		key += ":trends"
	}
	return key
}

// GetSnapshot returns the dashboard for rng (nil = all time). Failed
// sub-queries are reported in the result, not as an error. When every
// sub-query failed the error is the *glpi.CircuitBreakerError if the breaker
// rejected any of them, else the *glpi.SessionExpiredError if one occurred.
func (a *MetricsAggregator) GetSnapshot(ctx context.Context, rng *DateRange, opts ...SnapshotOption) (*AggregationResult, error) {
	trends := withTrends(rng, opts)
	return a.snapshot(ctx, rng, trends, true)
}

// Refresh recomputes the snapshot and replaces the cached entry. Readers keep
// the previous entry until the new one is stored; a failed refresh leaves it
// in place.
func (a *MetricsAggregator) Refresh(ctx context.Context, rng *DateRange, opts ...SnapshotOption) (*AggregationResult, error) {
	trends := withTrends(rng, opts)
	return a.results.Refresh(ctx, CacheKey(rng, trends), a.computeOp(rng, trends, true))
}

func withTrends(rng *DateRange, opts []SnapshotOption) bool {
	var o snapshotOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.trends && rng != nil
}

func (a *MetricsAggregator) snapshot(ctx context.Context, rng *DateRange, trends, record bool) (*AggregationResult, error) {
	key := CacheKey(rng, trends)

	res, cached, err := a.results.Do(ctx, key, a.computeOp(rng, trends, record))
	if err != nil {
		return nil, err
	}
	if cached {
		a.log.Debugw("msg", "dashboard snapshot served from cache", "key", key)
	}
	return res, nil
}

func (a *MetricsAggregator) computeOp(rng *DateRange, trends, record bool) func(context.Context) (*AggregationResult, error) {
	return func(ctx context.Context) (*AggregationResult, error) {
		started := a.now()
		res, err := a.compute(ctx, rng, trends)
		if err != nil {
			return nil, err
		}
		a.log.Aggregate("Dashboard snapshot computed",
			"range", RangeKey(rng),
			"queries", len(res.Status),
			"partial", res.Partial,
			"failed_levels", res.FailedLevels,
			"took_ms", a.now().Sub(started).Milliseconds(),
		)
		if record {
			a.record(ctx, rng, res)
		}
		return res, nil
	}
}

func (a *MetricsAggregator) compute(ctx context.Context, rng *DateRange, trends bool) (*AggregationResult, error) {
	queries := a.plan(rng)
	outcomes := a.run(ctx, queries)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := fatalFailure(outcomes); err != nil {
		a.log.Breaker("Every dashboard sub-query failed, GLPI unavailable", "range", RangeKey(rng), "error", err)
		return nil, err
	}

	res := a.build(rng, queries, outcomes)

	if trends {
		prevRange := rng.Previous()
		prev, err := a.snapshot(ctx, &prevRange, false, false)
		if err != nil {
			a.log.Warnw("msg", "previous period unavailable, trends omitted", "range", RangeKey(&prevRange), "error", err)
		} else {
			res.Snapshot.Trends = trendDeltas(res, prev)
		}
	}
	return res, nil
}

// plan lists one count per level and status plus one general count per status.
func (a *MetricsAggregator) plan(rng *DateRange) []subQuery {
	var since, until time.Time
	if rng != nil {
		since, until = rng.Start, rng.Until()
	}

	statuses := a.catalog.Statuses()
	levels := a.catalog.Levels()
	queries := make([]subQuery, 0, (len(levels)+1)*len(statuses))

	for _, l := range levels {
		for _, s := range statuses {
			queries = append(queries, subQuery{
				key:   glpi.CounterKey(l.Name, s),
				level: l.Name,
				query: glpi.TicketQuery{Status: s, GroupID: l.GroupID, Since: since, Until: until},
			})
		}
	}
	for _, s := range statuses {
		queries = append(queries, subQuery{
			key:   glpi.CounterKey(glpi.GeneralLevel, s),
			level: glpi.GeneralLevel,
			query: glpi.TicketQuery{Status: s, Since: since, Until: until},
		})
	}
	return queries
}

// run issues every query through a bounded worker pool. Errors are kept per
// query and never cancel siblings.
func (a *MetricsAggregator) run(ctx context.Context, queries []subQuery) []outcome {
	out := make([]outcome, len(queries))

	var g errgroup.Group
	g.SetLimit(a.workers)
	for i, q := range queries {
		g.Go(func() error {
			n, err := a.repo.CountTickets(ctx, q.query)
			out[i] = outcome{count: n, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// fatalFailure returns the error to surface instead of a result when every
// outcome failed: the breaker rejection if any, else a session failure.
func fatalFailure(outcomes []outcome) error {
	var (
		cbErr   *glpi.CircuitBreakerError
		sessErr *glpi.SessionExpiredError
	)
	for _, o := range outcomes {
		if o.err == nil {
			return nil
		}
		if cbErr == nil {
			errors.As(o.err, &cbErr)
		}
		if sessErr == nil {
			errors.As(o.err, &sessErr)
		}
	}
	switch {
	case cbErr != nil:
		return cbErr
	case sessErr != nil:
		return sessErr
	}
	return nil
}

func (a *MetricsAggregator) build(rng *DateRange, queries []subQuery, outcomes []outcome) *AggregationResult {
	snap := &MetricsSnapshot{
		Counters:    make(map[string]int64),
		General:     make(map[string]int64),
		LevelTotals: make(map[string]int64),
		Range:       rng,
		GeneratedAt: a.now(),
	}
	res := &AggregationResult{
		Snapshot: snap,
		Status:   make(map[string]QueryStatus, len(queries)),
		Errors:   make(map[string]string),
	}

	succeeded := make(map[string]int)
	for _, l := range a.catalog.Levels() {
		snap.LevelTotals[l.Name] = 0
	}

	for i, q := range queries {
		o := outcomes[i]
		general := q.level == glpi.GeneralLevel

		if o.err != nil {
			res.Status[q.key] = QueryFailed
			res.Errors[q.key] = o.err.Error()
			res.Partial = true
			if general {
				snap.General[q.query.Status.String()] = 0
			} else {
				snap.Counters[q.key] = 0
			}
			continue
		}

		res.Status[q.key] = QueryOK
		if general {
			snap.General[q.query.Status.String()] = o.count
			snap.GrandTotal += o.count
			continue
		}
		snap.Counters[q.key] = o.count
		snap.LevelTotals[q.level] += o.count
		succeeded[q.level]++
	}

	for _, l := range a.catalog.Levels() {
		if succeeded[l.Name] == 0 {
			res.FailedLevels = append(res.FailedLevels, l.Name)
		}
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res
}

// trendDeltas compares counters that succeeded in both periods.
func trendDeltas(cur, prev *AggregationResult) map[string]TrendDelta {
	trends := make(map[string]TrendDelta)
	for key, status := range cur.Status {
		if status != QueryOK || prev.Status[key] != QueryOK {
			continue
		}
		c, p := counterValue(cur.Snapshot, key), counterValue(prev.Snapshot, key)
		trends[key] = newTrendDelta(c, p)
	}
	return trends
}

func counterValue(s *MetricsSnapshot, key string) int64 {
	if v, ok := s.Counters[key]; ok {
		return v
	}
	const prefix = glpi.GeneralLevel + "."
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return s.General[key[len(prefix):]]
	}
	return 0
}

// record appends a freshly computed snapshot to the history. Failures are
// logged only.
func (a *MetricsAggregator) record(ctx context.Context, rng *DateRange, res *AggregationResult) {
	if a.history == nil {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		a.log.Warnw("msg", "failed to encode snapshot for history", "error", err)
		return
	}

	rec := &data.SnapshotRecord{
		RangeKey:   RangeKey(rng),
		GrandTotal: res.Snapshot.GrandTotal,
		Partial:    res.Partial,
		Payload:    payload,
		CreatedAt:  res.Snapshot.GeneratedAt,
	}
	if rng != nil {
		start, end := rng.Start, rng.End
		rec.RangeStart, rec.RangeEnd = &start, &end
	}
	if err := a.history.Save(ctx, rec); err != nil {
		a.log.Warnw("msg", "failed to store snapshot history", "range", rec.RangeKey, "error", err)
	}
}

// History lists stored snapshots, newest first. limit <= 0 uses the
// configured default.
func (a *MetricsAggregator) History(ctx context.Context, limit int) ([]*HistoryEntry, error) {
	if a.history == nil {
		return nil, data.ErrHistoryDisabled
	}
	if limit <= 0 {
		limit = a.limit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := a.history.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshot history: %w", err)
	}

	entries := make([]*HistoryEntry, 0, len(records))
	for _, rec := range records {
		entry := &HistoryEntry{
			ID:         rec.ID,
			Range:      rec.RangeKey,
			GrandTotal: rec.GrandTotal,
			Partial:    rec.Partial,
			CreatedAt:  rec.CreatedAt,
		}
		var res AggregationResult
		if err := json.Unmarshal(rec.Payload, &res); err != nil {
			a.log.Warnw("msg", "skipping undecodable snapshot payload", "id", rec.ID, "error", err)
		} else {
			entry.Result = &res
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].ID > entries[j].ID })
	return entries, nil
}
