package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/broadcast"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/orchestrator"
	"github.com/zulandar/switchboard/internal/platform"
	discordclient "github.com/zulandar/switchboard/internal/platform/discord"
	slackclient "github.com/zulandar/switchboard/internal/platform/slack"
	"github.com/zulandar/switchboard/internal/router"
	"github.com/zulandar/switchboard/internal/vault"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard daemon",
		Long:  "Connects the database, reconciles platform accounts, pumps inbound messages, and serves the agent event stream.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedAgents(gormDB, cfg.Owner, cfg.Agents); err != nil {
		return err
	}

	v, err := vault.New(vault.VaultOpts{KeyHex: cfg.EncryptionKey})
	if err != nil {
		return err
	}
	if cfg.EncryptionKey == "" {
		fmt.Fprintf(out, "Warning: no encryption_key configured; credentials will not survive a restart\n")
	}

	registry := platform.NewRegistry()
	registry.Register(platform.Slack, slackclient.Builder())
	registry.Register(platform.Discord, discordclient.Builder())

	orch, err := orchestrator.New(orchestrator.OrchestratorOpts{
		DB:              gormDB,
		Vault:           v,
		Factory:         registry,
		SessionDir:      cfg.SessionDir,
		GracefulTimeout: time.Duration(cfg.GracefulTimeoutSec) * time.Second,
		Out:             out,
	})
	if err != nil {
		return err
	}

	hub := broadcast.NewHub()
	rt, err := router.New(router.RouterOpts{
		DB:           gormDB,
		Orchestrator: orch,
		Broadcaster:  hub,
		Out:          out,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	go func() {
		if err := broadcast.Start(ctx, broadcast.StartOpts{Hub: hub, Port: cfg.Broadcast.Port, Out: out}); err != nil {
			fmt.Fprintf(out, "broadcast server: %v\n", err)
		}
	}()
	go rt.Run(ctx)

	if _, err := orch.ReconcileAccounts(ctx); err != nil {
		return err
	}
	go runReconcileScheduler(ctx, orch, cfg.Reconcile.Cron, out)

	fmt.Fprintf(out, "Switchboard online\n")
	<-ctx.Done()

	fmt.Fprintf(out, "Switchboard shutting down...\n")
	orch.DisconnectAll(context.Background(), true)
	fmt.Fprintf(out, "Switchboard stopped\n")
	return nil
}

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// runReconcileScheduler re-runs account reconciliation on the configured
// cron schedule. Returns immediately when no schedule is configured.
func runReconcileScheduler(ctx context.Context, orch *orchestrator.Orchestrator, expr string, out io.Writer) {
	if expr == "" {
		return
	}
	d := nextCronDuration(expr)
	if d <= 0 {
		fmt.Fprintf(out, "reconcile: invalid cron expression %q, periodic sweep disabled\n", expr)
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := orch.ReconcileAccounts(ctx); err != nil {
				fmt.Fprintf(out, "reconcile: %v\n", err)
			}
			if d := nextCronDuration(expr); d > 0 {
				timer.Reset(d)
			}
		}
	}
}
