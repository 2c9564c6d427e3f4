package biz

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"HelpdeskPulse/internal/conf"
	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/pkg/glpi"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fixedNow is mid-March 2024 so January ranges are closed past periods.
var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

// stubRepo answers counts from a function and can hold every call on a gate.
type stubRepo struct {
	calls atomic.Int64
	count func(q glpi.TicketQuery) (int64, error)
	gate  chan struct{}
}

func (s *stubRepo) CountTickets(ctx context.Context, q glpi.TicketQuery) (int64, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return s.count(q)
}

// groupCount gives level counts of 10*group+status and general counts of
// 100+status.
func groupCount(q glpi.TicketQuery) (int64, error) {
	if q.GroupID == 0 {
		return 100 + int64(q.Status), nil
	}
	return int64(q.GroupID*10) + int64(q.Status), nil
}

func newStubRepo(count func(q glpi.TicketQuery) (int64, error)) *stubRepo {
	if count == nil {
		count = groupCount
	}
	return &stubRepo{count: count}
}

// MockHistoryRepo is a mock implementation of SnapshotHistoryRepo.
type MockHistoryRepo struct {
	mock.Mock
}

func (m *MockHistoryRepo) Save(ctx context.Context, rec *data.SnapshotRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *MockHistoryRepo) List(ctx context.Context, limit int) ([]*data.SnapshotRecord, error) {
	args := m.Called(ctx, limit)
	if records := args.Get(0); records != nil {
		return records.([]*data.SnapshotRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

// memCache is an in-memory Cache that records the TTL of every write.
type memCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	getErr  error
	setErrs int
}

func newMemCache() *memCache {
	return &memCache{values: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (c *memCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, c.getErr
	}
	raw, ok := c.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *memCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErrs > 0 {
		c.setErrs--
		return errors.New("cache unavailable")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	c.ttls[key] = ttl
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	delete(c.ttls, key)
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.values[key]
	return ok
}

func (c *memCache) ttl(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttls[key]
}

func testCatalog(t *testing.T) *glpi.Catalog {
	t.Helper()
	catalog, err := glpi.NewCatalog([]glpi.ServiceLevel{
		{Name: "N1", GroupID: 1},
		{Name: "N2", GroupID: 2},
		{Name: "N3", GroupID: 3},
		{Name: "N4", GroupID: 4},
	})
	require.NoError(t, err)
	return catalog
}

// newTestAggregator wires an aggregator over four levels with a fixed clock.
// history may be nil.
func newTestAggregator(t *testing.T, repo TicketCountRepo, history SnapshotHistoryRepo, cache Cache) *MetricsAggregator {
	t.Helper()
	agg := NewMetricsAggregator(repo, history, cache, testCatalog(t),
		&conf.Dashboard{Workers: 4, HistoryLimit: 20},
		&conf.Cache{ShortTTL: time.Minute, MediumTTL: 5 * time.Minute, LongTTL: 30 * time.Minute},
		log.DefaultLogger,
	)
	agg.now = func() time.Time { return fixedNow }
	return agg
}

func mustRange(t *testing.T, start, end string) *DateRange {
	t.Helper()
	rng, err := ParseDateRange(start, end)
	require.NoError(t, err)
	require.NotNil(t, rng)
	return rng
}

// queriesPerSnapshot is (4 levels + general) x 6 statuses.
const queriesPerSnapshot = 30
