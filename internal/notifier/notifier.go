// Package notifier delivers transitions and changelog broadcasts to tenants.
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rewired-gh/soulwatch/internal/apperr"
	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/models"
)

// Destinations enumerates tenants and resolves where each channel is delivered.
type Destinations interface {
	Tenants(ctx context.Context) ([]string, error)
	Destination(ctx context.Context, tenantID string, ch models.Channel) (string, error)
}

// Sender formats and delivers messages to a resolved destination.
type Sender interface {
	SendTransition(ctx context.Context, destination string, t models.Transition) error
	SendChangelog(ctx context.Context, destination, version, body string) error
}

// Publisher mirrors transitions to an external stream.
type Publisher interface {
	Publish(ctx context.Context, t models.Transition) error
}

// ChangelogStore persists the last broadcast changelog version.
type ChangelogStore interface {
	LoadChangelogState(ctx context.Context) (models.ChangelogState, error)
	SaveChangelogState(ctx context.Context, state models.ChangelogState) error
}

// Notifier is the ChangeNotifier.
type Notifier struct {
	dests     Destinations
	sender    Sender
	store     ChangelogStore
	publisher Publisher

	broadcastMu sync.Mutex
	now         func() time.Time
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithPublisher mirrors every transition to p before delivery.
func WithPublisher(p Publisher) Option {
	return func(n *Notifier) { n.publisher = p }
}

// New creates a Notifier.
func New(dests Destinations, sender Sender, store ChangelogStore, opts ...Option) *Notifier {
	n := &Notifier{dests: dests, sender: sender, store: store, now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NotifyTransition delivers t to its tenant, at t.Destination when the poller
// already resolved it. Failures are logged and the transition is dropped;
// nothing is queued for redelivery.
func (n *Notifier) NotifyTransition(ctx context.Context, t models.Transition) {
	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, t); err != nil {
			logger.Warn("Failed to publish transition %s: %v", t.ID, err)
		}
	}

	dest := t.Destination
	if dest == "" {
		var err error
		dest, err = n.dests.Destination(ctx, t.TenantID, t.Channel())
		if err != nil {
			logger.Warn("Dropping %s transition of %s for tenant %s: %v", t.Kind, t.EntityID, t.TenantID, err)
			return
		}
	}
	if err := n.sender.SendTransition(ctx, dest, t); err != nil {
		logger.Warn("Dropping %s transition of %s for tenant %s: %v", t.Kind, t.EntityID, t.TenantID, err)
		return
	}
	logger.Debug("Delivered %s transition %s to tenant %s", t.Kind, t.ID, t.TenantID)
}

// BroadcastReport describes one BroadcastChangelog call.
type BroadcastReport struct {
	Version   string
	Skipped   bool
	Delivered []string
	Failed    map[string]error
}

// BroadcastChangelog sends body to the changelog destination of every tenant,
// unless version was already broadcast. Per-tenant failures are logged and do
// not stop the version from being recorded once the enumeration completes.
func (n *Notifier) BroadcastChangelog(ctx context.Context, version, body string) (BroadcastReport, error) {
	report := BroadcastReport{Version: version, Failed: make(map[string]error)}
	if version == "" {
		return report, apperr.Validation("broadcast changelog", "version is empty")
	}

	n.broadcastMu.Lock()
	defer n.broadcastMu.Unlock()

	state, err := n.store.LoadChangelogState(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to load changelog state: %w", err)
	}
	if state.LastSentVersion == version {
		report.Skipped = true
		logger.Debug("Changelog %s already broadcast", version)
		return report, nil
	}

	tenants, err := n.dests.Tenants(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to enumerate tenants: %w", err)
	}
	for _, tenantID := range tenants {
		if err := n.deliverChangelog(ctx, tenantID, version, body); err != nil {
			logger.Warn("Changelog %s not delivered to tenant %s: %v", version, tenantID, err)
			report.Failed[tenantID] = err
			continue
		}
		report.Delivered = append(report.Delivered, tenantID)
	}

	if err := n.store.SaveChangelogState(ctx, models.ChangelogState{LastSentVersion: version, SentAt: n.now()}); err != nil {
		return report, fmt.Errorf("failed to save changelog state: %w", err)
	}
	logger.Info("Broadcast changelog %s: %d delivered, %d failed", version, len(report.Delivered), len(report.Failed))
	return report, nil
}

func (n *Notifier) deliverChangelog(ctx context.Context, tenantID, version, body string) error {
	dest, err := n.dests.Destination(ctx, tenantID, models.ChannelChangelog)
	if err != nil {
		return err
	}
	return n.sender.SendChangelog(ctx, dest, version, body)
}
