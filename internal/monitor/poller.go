// Package monitor implements the poll-diff-notify engine shared by the
// presence and item-price pollers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
	"github.com/rewired-gh/soulwatch/internal/registry"
)

// ErrTickInProgress is returned by Tick when the previous tick of the same
// poller has not finished.
var ErrTickInProgress = errors.New("tick already in progress")

// Source supplies one kind of observation. K identifies an entity within a
// tenant, V is the observed value compared between ticks.
type Source[K comparable, V comparable] interface {
	Name() string
	Channel() models.Channel
	Entities(t models.Tenant) []K
	EntityID(key K) string
	Fetch(ctx context.Context, key K) (V, error)
	// Baseline returns the last committed value; ok is false when there is none.
	Baseline(ctx context.Context, t models.Tenant, key K) (v V, ok bool, err error)
	Commit(ctx context.Context, tenantID string, key K, v V) error
	// Transition builds the event for a change; old is nil on a first observation.
	// Enrichment failures must not fail it.
	Transition(ctx context.Context, tenantID string, key K, old *V, v V) models.Transition
}

// Tenants is the registry surface the poller reads and prunes.
type Tenants interface {
	Snapshot() []models.Tenant
	RemoveTenants(ctx context.Context, tenantIDs []string, purge registry.PurgeFunc) ([]string, error)
}

// Directory answers membership and destination questions about tenants.
type Directory interface {
	// Reachable returns an apperr.KindTenantUnreachable error when the tenant is gone.
	Reachable(ctx context.Context, tenantID string) error
	Destination(ctx context.Context, tenantID string, ch models.Channel) (string, error)
}

// Sink receives transitions.
type Sink interface {
	NotifyTransition(ctx context.Context, t models.Transition)
}

// Config parameterizes a Poller.
type Config struct {
	Interval time.Duration
	// NotifyFirstObservation emits a transition from "no value" when an entity
	// has no baseline. When false the first value is only recorded.
	NotifyFirstObservation bool
	// RemoveUnreachable deletes tenants reported unreachable, together with
	// their cache entries (Purge). When false they are only skipped.
	RemoveUnreachable bool
	Purge             registry.PurgeFunc
	// OnReport is called after every scheduled tick.
	OnReport func(TickReport)
}

// Poller runs the poll-diff-notify algorithm for one Source.
type Poller[K comparable, V comparable] struct {
	cfg     Config
	tenants Tenants
	dir     Directory
	src     Source[K, V]
	sink    Sink
	running sync.Mutex
	now     func() time.Time
}

// NewPoller creates a Poller.
func NewPoller[K comparable, V comparable](cfg Config, tenants Tenants, dir Directory, src Source[K, V], sink Sink) *Poller[K, V] {
	return &Poller[K, V]{cfg: cfg, tenants: tenants, dir: dir, src: src, sink: sink, now: time.Now}
}

// Name returns the source name.
func (p *Poller[K, V]) Name() string {
	return p.src.Name()
}

// Run ticks immediately and then on every interval until ctx is done. A tick
// that overruns the interval causes the missed ticks to be dropped.
func (p *Poller[K, V]) Run(ctx context.Context) {
	logger.Info("Starting %s poller (interval: %v)", p.src.Name(), p.cfg.Interval)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.scheduledTick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("%s poller stopped", p.src.Name())
			return
		case <-ticker.C:
			p.scheduledTick(ctx)
		}
	}
}

func (p *Poller[K, V]) scheduledTick(ctx context.Context) {
	report, err := p.Tick(ctx)
	if err != nil {
		logger.Warn("Skipping %s tick: %v", p.src.Name(), err)
		return
	}
	if p.cfg.OnReport != nil {
		p.cfg.OnReport(report)
	}
}

// Tick runs one poll over every tenant. It never runs concurrently with
// another Tick of the same poller; an overlapping call returns ErrTickInProgress.
func (p *Poller[K, V]) Tick(ctx context.Context) (TickReport, error) {
	if !p.running.TryLock() {
		return TickReport{}, ErrTickInProgress
	}
	defer p.running.Unlock()

	report := TickReport{
		ID:        uuid.New().String(),
		Poller:    p.src.Name(),
		StartedAt: p.now(),
	}
	logger.Debug("Starting %s tick %s", report.Poller, report.ID)

	var unreachable []string
	for _, t := range p.tenants.Snapshot() {
		if ctx.Err() != nil {
			break
		}
		entities := p.src.Entities(t)
		if len(entities) == 0 && !p.cfg.RemoveUnreachable {
			continue
		}

		if err := p.dir.Reachable(ctx, t.ID); err != nil {
			if p.cfg.RemoveUnreachable && errors.Is(err, apperr.ErrTenantUnreachable) {
				logger.Info("Tenant %s is unreachable, removing after tick: %v", t.ID, err)
				unreachable = append(unreachable, t.ID)
				continue
			}
			logger.Debug("Skipping tenant %s this tick: %v", t.ID, err)
			report.SkippedTenants = append(report.SkippedTenants, TenantSkip{TenantID: t.ID, Reason: err})
			continue
		}
		if len(entities) == 0 {
			continue
		}
		dest, err := p.dir.Destination(ctx, t.ID, p.src.Channel())
		if err != nil {
			logger.Debug("Skipping tenant %s this tick, no %s destination: %v", t.ID, p.src.Channel(), err)
			report.SkippedTenants = append(report.SkippedTenants, TenantSkip{TenantID: t.ID, Reason: err})
			continue
		}

		for _, key := range entities {
			report.Outcomes = append(report.Outcomes, p.observe(ctx, t, dest, key))
		}
	}

	if len(unreachable) > 0 {
		removed, err := p.tenants.RemoveTenants(ctx, unreachable, p.cfg.Purge)
		if err != nil {
			logger.Warn("Failed to remove unreachable tenants: %v", err)
		}
		report.RemovedTenants = removed
	}

	report.Duration = p.now().Sub(report.StartedAt)
	logger.Info("%s", report.String())
	return report, nil
}

// observe handles one entity. Any failure, panics included, is confined to
// the returned Outcome.
func (p *Poller[K, V]) observe(ctx context.Context, t models.Tenant, dest string, key K) (o Outcome) {
	o = Outcome{TenantID: t.ID, EntityID: p.src.EntityID(key)}
	defer func() {
		if r := recover(); r != nil {
			o.Status = OutcomeFailed
			o.Transition = nil
			o.Err = fmt.Errorf("panic while observing %s: %v", o.EntityID, r)
			logger.Error("%s: tenant %s: %v", p.src.Name(), t.ID, o.Err)
		}
	}()

	fail := func(err error) Outcome {
		o.Status = OutcomeFailed
		o.Err = err
		logger.Warn("%s: tenant %s entity %s: %v", p.src.Name(), t.ID, o.EntityID, err)
		return o
	}

	v, err := p.src.Fetch(ctx, key)
	if err != nil {
		return fail(err)
	}
	old, ok, err := p.src.Baseline(ctx, t, key)
	if err != nil {
		return fail(fmt.Errorf("read baseline: %w", err))
	}
	if ok && old == v {
		o.Status = OutcomeUnchanged
		return o
	}

	if err := p.src.Commit(ctx, t.ID, key, v); err != nil {
		return fail(fmt.Errorf("commit: %w", err))
	}
	if !ok && !p.cfg.NotifyFirstObservation {
		o.Status = OutcomeSeeded
		return o
	}

	var prev *V
	if ok {
		prev = &old
	}
	tr := p.src.Transition(ctx, t.ID, key, prev, v)
	tr.ID = uuid.New().String()
	tr.TenantID = t.ID
	tr.EntityID = o.EntityID
	tr.DetectedAt = p.now()
	tr.Destination = dest

	p.sink.NotifyTransition(ctx, tr)
	o.Status = OutcomeChanged
	o.Transition = &tr
	return o
}
