// Package service exposes the dashboard use cases over HTTP.
package service

import (
	"HelpdeskPulse/internal/data"
	"HelpdeskPulse/pkg/glpi"

	"github.com/google/wire"
)

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewDashboardService,
	wire.Bind(new(GLPIInspector), new(*glpi.Client)),
	wire.Bind(new(CacheInspector), new(*data.CacheLayer)),
)
