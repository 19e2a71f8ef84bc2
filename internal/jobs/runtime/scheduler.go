package runtime

import (
	"context"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"keyportal/internal/config"
	"keyportal/internal/keys"
	"keyportal/internal/snapshot"
	"keyportal/internal/support"
	"keyportal/internal/upstream"
)

const (
	expiryCheckLockKey    = "keyportal:leader:expiry_check"
	usageSyncLockKey      = "keyportal:leader:usage_sync"
	snapshotExportLockKey = "keyportal:leader:snapshot_export"
	gitSyncLockKey        = "keyportal:leader:git_sync"
)

// Scheduler owns the portal's periodic jobs. Interval jobs and the calendar
// git sync run on one cron instance; each run takes a redis leader lock so
// only one portal instance executes it.
type Scheduler struct {
	client   *upstream.Client
	registry *keys.Registry
	mapping  *keys.Mapping
	notifier Notifier
	store    *snapshot.Store
	repoDir  string

	cron *cron.Cron
}

func NewScheduler(client *upstream.Client, registry *keys.Registry, mapping *keys.Mapping, notifier Notifier, store *snapshot.Store, repoDir string) *Scheduler {
	return &Scheduler{
		client:   client,
		registry: registry,
		mapping:  mapping,
		notifier: notifier,
		store:    store,
		repoDir:  repoDir,
	}
}

// Start registers every job and launches the cron runner. Intervals are read
// from configuration at registration time.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron = cron.New()

	s.every(config.GetExpiryCheckInterval(), func() {
		s.withLeader(ctx, expiryCheckLockKey, func(jobCtx context.Context) {
			if _, err := CheckExpiry(jobCtx, s.client, s.notifier, s.mapping, ExpiryOptionsFromConfig(true)); err != nil {
				log.Error("Expiry check failed", "error", err)
			}
		})
	})

	s.every(config.GetUsageSyncInterval(), func() {
		s.withLeader(ctx, usageSyncLockKey, func(jobCtx context.Context) {
			RunUsageSync(jobCtx, s.client, s.registry, s.csvPath())
		})
	})

	s.every(config.GetSnapshotExportInterval(), func() {
		s.withLeader(ctx, snapshotExportLockKey, func(jobCtx context.Context) {
			ExportSnapshot(jobCtx, s.client, s.store)
		})
	})

	cfg := config.GetConfig()
	if cfg.GitSync.Enabled && cfg.GitSync.Schedule != "" {
		_, err := s.cron.AddFunc(cfg.GitSync.Schedule, func() {
			s.withLeader(ctx, gitSyncLockKey, func(jobCtx context.Context) {
				PushUsageHistory(jobCtx, s.repoDir, s.csvPath())
			})
		})
		if err != nil {
			log.Error("Invalid git sync schedule", "schedule", cfg.GitSync.Schedule, "error", err)
		}
	}

	// Capture a snapshot right away so a restart shortly after boot still has
	// something to recover from.
	go s.withLeader(ctx, snapshotExportLockKey, func(jobCtx context.Context) {
		ExportSnapshot(jobCtx, s.client, s.store)
	})

	s.cron.Start()
	log.Info("Job scheduler started",
		"expiry_check", config.GetExpiryCheckInterval(),
		"usage_sync", config.GetUsageSyncInterval(),
		"snapshot_export", config.GetSnapshotExportInterval(),
		"git_sync_enabled", cfg.GitSync.Enabled,
	)
}

// Stop halts the cron runner and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Info("Job scheduler stopped")
}

func (s *Scheduler) every(interval time.Duration, job func()) {
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(job))
}

func (s *Scheduler) withLeader(ctx context.Context, key string, fn func(context.Context)) {
	if err := support.TryWithLeader(ctx, key, support.DefaultLeadershipTTL, fn); err != nil {
		log.Error("Leader-gated job failed to run", "key", key, "error", err)
	}
}

func (s *Scheduler) csvPath() string {
	return UsageCSVPath()
}

// UsageCSVPath is where the CSV mirror of the daily history lives.
func UsageCSVPath() string {
	return filepath.Join(config.DataDir, "usage_history.csv")
}
