package data

import (
	"context"
	"fmt"
	"time"

	"HelpdeskPulse/internal/conf"
	"HelpdeskPulse/pkg/glpi"

	"github.com/go-kratos/kratos/v2/log"
)

const closeSessionTimeout = 5 * time.Second

// NewGLPIClient builds the resilient GLPI client from configuration. The
// cleanup kills the GLPI session.
func NewGLPIClient(c *conf.GLPI, logger log.Logger) (*glpi.Client, func(), error) {
	if c == nil {
		return nil, nil, fmt.Errorf("glpi configuration is required")
	}

	cfg := glpi.DefaultConfig()
	cfg.BaseURL = c.BaseURL
	cfg.AppToken = c.AppToken
	cfg.UserToken = c.UserToken
	cfg.ProxyURL = c.ProxyURL
	cfg.SessionTimeout = c.SessionTimeout
	cfg.RenewalMargin = c.RenewalMargin
	cfg.RateLimit = c.RateLimit
	cfg.Burst = c.Burst
	if cb := c.CircuitBreaker; cb != nil {
		cfg.Breaker = glpi.BreakerConfig{
			FailureThreshold: cb.FailureThreshold,
			RecoveryTimeout:  cb.RecoveryTimeout,
			SuccessThreshold: cb.SuccessThreshold,
			Timeout:          cb.Timeout,
		}
	}
	if r := c.Retry; r != nil {
		cfg.Retry = glpi.RetryConfig{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   r.BaseDelay,
			MaxDelay:    r.MaxDelay,
		}
	}

	client, err := glpi.New(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	helper := log.NewHelper(log.With(logger, "module", "data/glpi"))
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeSessionTimeout)
		defer cancel()
		if err := client.Close(ctx); err != nil {
			helper.Warnw("msg", "Failed to close GLPI client", "error", err)
		}
	}
	return client, cleanup, nil
}

// NewCatalog builds the status and service level table from configuration.
func NewCatalog(c *conf.Dashboard) (*glpi.Catalog, error) {
	if c == nil {
		return nil, fmt.Errorf("dashboard configuration is required")
	}
	levels := make([]glpi.ServiceLevel, 0, len(c.Levels))
	for _, l := range c.Levels {
		levels = append(levels, glpi.ServiceLevel{Name: l.Name, GroupID: l.GroupID})
	}
	return glpi.NewCatalog(levels)
}

// ticketCounter is the part of *glpi.Client the ticket repo needs.
type ticketCounter interface {
	Count(ctx context.Context, itemtype string, criteria []glpi.Criterion) (int64, error)
}

// TicketRepo counts GLPI tickets through the resilient client.
type TicketRepo struct {
	client ticketCounter
}

// NewTicketRepo creates a TicketRepo.
func NewTicketRepo(client *glpi.Client) *TicketRepo {
	return &TicketRepo{client: client}
}

// CountTickets returns the number of tickets matching q.
func (r *TicketRepo) CountTickets(ctx context.Context, q glpi.TicketQuery) (int64, error) {
	if !q.Status.Valid() {
		return 0, fmt.Errorf("count tickets: invalid status %d", int(q.Status))
	}
	n, err := r.client.Count(ctx, glpi.ItemTicket, q.Criteria())
	if err != nil {
		return 0, fmt.Errorf("count %s tickets: %w", q.Status, err)
	}
	return n, nil
}
