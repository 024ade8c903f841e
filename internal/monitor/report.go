package monitor

import (
	"fmt"
	"time"

	"github.com/rewired-gh/soulwatch/internal/models"
)

// OutcomeStatus is the result of observing one entity in one tick.
type OutcomeStatus string

const (
	OutcomeUnchanged OutcomeStatus = "unchanged"
	OutcomeChanged   OutcomeStatus = "changed"
	// OutcomeSeeded is a first observation recorded without a notification.
	OutcomeSeeded OutcomeStatus = "seeded"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is one (tenant, entity) observation.
type Outcome struct {
	TenantID   string
	EntityID   string
	Status     OutcomeStatus
	Transition *models.Transition
	Err        error
}

// TenantSkip records a tenant left out of one tick.
type TenantSkip struct {
	TenantID string
	Reason   error
}

// TickReport collects everything one tick did.
type TickReport struct {
	ID             string
	Poller         string
	StartedAt      time.Time
	Duration       time.Duration
	Outcomes       []Outcome
	SkippedTenants []TenantSkip
	RemovedTenants []string
}

// Count returns the number of outcomes with the given status.
func (r *TickReport) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Transitions returns the transitions emitted during the tick, in order.
func (r *TickReport) Transitions() []models.Transition {
	var out []models.Transition
	for _, o := range r.Outcomes {
		if o.Transition != nil {
			out = append(out, *o.Transition)
		}
	}
	return out
}

// Err is non-nil when at least one entity was observed and every observation failed.
func (r *TickReport) Err() error {
	if len(r.Outcomes) == 0 {
		return nil
	}
	failed := r.Count(OutcomeFailed)
	if failed < len(r.Outcomes) {
		return nil
	}
	return fmt.Errorf("%s tick: all %d observations failed: %w", r.Poller, failed, r.Outcomes[0].Err)
}

func (r *TickReport) String() string {
	return fmt.Sprintf("%s tick %s: %d changed, %d unchanged, %d seeded, %d failed, %d tenants skipped, %d removed in %v",
		r.Poller, r.ID,
		r.Count(OutcomeChanged), r.Count(OutcomeUnchanged), r.Count(OutcomeSeeded), r.Count(OutcomeFailed),
		len(r.SkippedTenants), len(r.RemovedTenants), r.Duration.Round(time.Millisecond))
}
