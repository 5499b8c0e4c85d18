package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/platform"
)

// ReconcileReport tallies the outcome of a startup reconciliation pass.
type ReconcileReport struct {
	Orphaned    int // accounts removed because their agent no longer exists
	Reconnected int
	Failed      int
	Skipped     int
}

// ReconcileAccounts runs the startup reconciliation pass:
//
//  1. Remove accounts whose agent row no longer exists (orphan sweep).
//  2. Reset error/connecting statuses to disconnected; a fresh process
//     cannot have a live session in either state.
//  3. Reconnect eligible accounts sequentially: session-based platforms
//     need an on-disk session artifact, credential-based platforms need
//     stored credentials. Ineligible accounts are skipped, not attempted.
//
// A single reconnect failure is logged and counted, never aborts the batch.
func (o *Orchestrator) ReconcileAccounts(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{}

	sweep := o.db.WithContext(ctx).
		Where("agent_id IS NOT NULL AND agent_id NOT IN (?)",
			o.db.Model(&models.Agent{}).Select("id")).
		Delete(&models.PlatformAccount{})
	if sweep.Error != nil {
		return nil, fmt.Errorf("orchestrator: orphan sweep: %w", sweep.Error)
	}
	report.Orphaned = int(sweep.RowsAffected)

	if err := o.db.WithContext(ctx).Model(&models.PlatformAccount{}).
		Where("status IN ?", []string{models.StatusError, models.StatusConnecting}).
		Update("status", models.StatusDisconnected).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: reset stale statuses: %w", err)
	}

	var accounts []models.PlatformAccount
	if err := o.db.WithContext(ctx).Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("orchestrator: list accounts: %w", err)
	}

	for _, account := range accounts {
		if !o.reconnectEligible(account) {
			report.Skipped++
			continue
		}
		if err := o.Connect(ctx, account.ID, platform.ConnectOptions{AutoReconnect: true}); err != nil {
			log.Printf("orchestrator: reconcile connect %s: %v", account.ID, err)
			report.Failed++
			continue
		}
		report.Reconnected++
	}

	fmt.Fprintf(o.out, "orchestrator: reconcile done: %d reconnected, %d failed, %d skipped, %d orphaned\n",
		report.Reconnected, report.Failed, report.Skipped, report.Orphaned)
	return report, nil
}

// reconnectEligible applies the per-platform candidate rules.
func (o *Orchestrator) reconnectEligible(account models.PlatformAccount) bool {
	caps, err := platform.Describe(platform.Platform(account.Platform))
	if err != nil {
		return false
	}
	if caps.SessionBased {
		switch account.Status {
		case models.StatusConnected, models.StatusDisconnected, models.StatusQRPending:
		default:
			return false
		}
		return o.sessionArtifactExists(account.ID)
	}
	switch account.Status {
	case models.StatusConnected, models.StatusDisconnected:
	default:
		return false
	}
	return account.EncryptedCredentials != nil
}

// sessionArtifactExists reports whether the account's on-disk session
// directory exists. Its mere existence gates reconnect eligibility.
func (o *Orchestrator) sessionArtifactExists(accountID string) bool {
	dir := o.accountSessionDir(accountID)
	if dir == "" {
		return false
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}
