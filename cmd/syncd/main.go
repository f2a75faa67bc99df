package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"miqaatsync/internal/config"
	"miqaatsync/internal/connectivity"
	"miqaatsync/internal/localstore"
	"miqaatsync/internal/remote"
	"miqaatsync/internal/syncer"
)

// syncd owns the device's durable store and drains the pending attendance
// queue whenever connectivity to the authoritative API returns.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	local, err := localstore.New(cfg.DeviceDBPath)
	if err != nil {
		log.Fatalf("open device store failed: %v", err)
	}
	defer local.Close()

	client := remote.New(cfg.APIBaseURL, cfg.OperatorToken)
	reconciler := syncer.New(local, client)

	online := connectivity.NewSignal()
	transitions := online.Subscribe()
	watcher := connectivity.NewWatcher(client.Health, online, cfg.ProbeInterval)
	go watcher.Run(ctx)

	if n, err := local.PendingCount(); err == nil {
		log.Printf("syncd started, %d record(s) pending", n)
	}

	for {
		select {
		case isOnline := <-transitions:
			if !isOnline {
				log.Println("connectivity lost; queue accumulates until reconnect")
				continue
			}
			log.Println("connectivity restored, reconciling pending queue")
			drain(ctx, reconciler)
			refreshCache(ctx, cfg.MiqaatID, client, local)
		case <-ctx.Done():
			log.Println("syncd stopped")
			return
		}
	}
}

// refreshCache rebuilds the device's member directory cache for the miqaat
// this device is marking, so offline lookups stay fresh.
func refreshCache(ctx context.Context, miqaatID string, client *remote.Client, local *localstore.Store) {
	if miqaatID == "" {
		return
	}
	if stale, err := local.IsStale(miqaatID); err == nil && !stale {
		return
	}
	members, err := client.EligibleMembers(ctx, miqaatID)
	if err != nil {
		log.Printf("member cache refresh failed: %v", err)
		return
	}
	if err := local.ReplaceMembers(members, miqaatID); err != nil {
		log.Printf("member cache replace failed: %v", err)
		return
	}
	log.Printf("member cache refreshed for miqaat %s (%d members)", miqaatID, len(members))
}

func drain(ctx context.Context, reconciler *syncer.Reconciler) {
	report, err := reconciler.Reconcile(ctx)
	if err != nil {
		log.Printf("reconcile interrupted: %v (synced=%d skipped=%d failed=%d so far)",
			err, report.Synced, report.Skipped, report.Failed)
		return
	}
	log.Printf("reconcile done: synced=%d skipped=%d failed=%d",
		report.Synced, report.Skipped, report.Failed)
	for _, f := range report.Errors {
		log.Printf("  retained %s: %s", f.Token, f.Detail)
	}
}
