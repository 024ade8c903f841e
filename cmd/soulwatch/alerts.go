package main

import (
	"sync"

	"github.com/rewired-gh/soulwatch/internal/logger"
	"github.com/rewired-gh/soulwatch/internal/monitor"
)

// alertSender is the operator channel, normally the Telegram client.
type alertSender interface {
	SendTickFailure(poller string, tickErr error) error
	SendRecovery(poller string, failureCount int) error
	SendTenantsRemoved(tenantIDs []string) error
}

// alerter turns tick reports into operator alerts: once when a poller starts
// failing, once when it recovers, and whenever tenants are removed.
type alerter struct {
	mu       sync.Mutex
	sender   alertSender
	failures map[string]int
}

func newAlerter(sender alertSender) *alerter {
	return &alerter{sender: sender, failures: make(map[string]int)}
}

func (a *alerter) handle(report monitor.TickReport) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := report.Err(); err != nil {
		a.failures[report.Poller]++
		logger.Error("%v (consecutive failures: %d)", err, a.failures[report.Poller])
		if a.failures[report.Poller] == 1 && a.sender != nil {
			if sendErr := a.sender.SendTickFailure(report.Poller, err); sendErr != nil {
				logger.Error("Failed to send Telegram error alert: %v", sendErr)
			}
		}
	} else if n := a.failures[report.Poller]; n > 0 {
		if a.sender != nil {
			if sendErr := a.sender.SendRecovery(report.Poller, n); sendErr != nil {
				logger.Error("Failed to send Telegram recovery alert: %v", sendErr)
			}
		}
		a.failures[report.Poller] = 0
	}

	if len(report.RemovedTenants) > 0 && a.sender != nil {
		if err := a.sender.SendTenantsRemoved(report.RemovedTenants); err != nil {
			logger.Error("Failed to send Telegram removal alert: %v", err)
		}
	}
}
