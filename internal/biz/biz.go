// Package biz contains the dashboard use cases: the metrics aggregator that
// fans ticket counts out through the GLPI client, the compute-or-fetch cache
// wrapper and the warmup task.
package biz

import (
	"context"
	"time"

	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/pkg/glpi"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewMetricsAggregator,
	NewWarmupTask,
	// Import data layer providers
	data.NewTicketRepo,
	data.NewSnapshotHistoryRepo,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(TicketCountRepo), new(*data.TicketRepo)),
	wire.Bind(new(SnapshotHistoryRepo), new(*data.SnapshotHistoryRepo)),
	wire.Bind(new(Cache), new(*data.CacheLayer)),
)

// TicketCountRepo counts tickets matching one query.
// Implementation is in data layer (data.TicketRepo).
type TicketCountRepo interface {
	CountTickets(ctx context.Context, q glpi.TicketQuery) (int64, error)
}

// SnapshotHistoryRepo stores computed snapshots.
// Implementation is in data layer (data.SnapshotHistoryRepo).
type SnapshotHistoryRepo interface {
	Save(ctx context.Context, rec *data.SnapshotRecord) error
	List(ctx context.Context, limit int) ([]*data.SnapshotRecord, error)
}

// Cache is a TTL keyed JSON store.
// Implementation is in data layer (data.CacheLayer).
type Cache interface {
	// Get decodes the value for key into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
