package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/spotfi/spotfi/internal/api"
	"github.com/spotfi/spotfi/internal/buildinfo"
	"github.com/spotfi/spotfi/internal/config"
	"github.com/spotfi/spotfi/internal/ephemeral"
	"github.com/spotfi/spotfi/internal/fabric"
	"github.com/spotfi/spotfi/internal/portal"
	"github.com/spotfi/spotfi/internal/quota"
	"github.com/spotfi/spotfi/internal/radauth"
	"github.com/spotfi/spotfi/internal/scheduler"
	"github.com/spotfi/spotfi/internal/store"
)

func main() {
	// 1. Load and validate environment config
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	instanceID := uuid.NewString()
	log.Printf("spotfi %s (%s) starting, instance %s",
		buildinfo.Version, buildinfo.GitCommit, instanceID)

	ctx := context.Background()

	// 2. Backends: Postgres (with migrations) and Redis
	st, err := store.Open(ctx, envCfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	presence, err := ephemeral.Open(ctx, envCfg.RedisURL, envCfg.PresenceTTL)
	if err != nil {
		log.Fatalf("ephemeral: %v", err)
	}
	defer presence.Close()

	// 3. Broker connection
	clientID := envCfg.BrokerClientID
	if clientID == "" {
		clientID = "spotfi-" + instanceID
	}
	bus := fabric.NewClient(fabric.ClientConfig{
		BrokerURL: envCfg.BrokerURL,
		Username:  envCfg.BrokerUsername,
		Password:  envCfg.BrokerPassword,
		ClientID:  clientID,
	})
	if err := bus.Connect(); err != nil {
		log.Fatalf("fabric: %v", err)
	}
	defer bus.Disconnect()

	// 4. Edge fabric: RPC, shell tunnels, presence pipeline
	rpc := fabric.NewRPC(bus, instanceID, envCfg.RPCTimeout, envCfg.RPCMaxOutstanding)
	if err := rpc.Start(); err != nil {
		log.Fatalf("rpc: %v", err)
	}

	tunnels := fabric.NewTunnelMux(fabric.TunnelMuxConfig{
		Bus:         bus,
		IdleTimeout: envCfg.TunnelIdleTimeout,
	})
	if err := tunnels.Start(); err != nil {
		log.Fatalf("tunnel: %v", err)
	}
	defer tunnels.Stop()

	reconciler := quota.NewReconciler(quota.ReconcilerConfig{
		Store:       st,
		Edge:        rpc,
		Presence:    presence,
		Concurrency: envCfg.ReconcileConcurrency,
		RatePerSec:  envCfg.ReconcileRatePerSec,
	})
	reconciler.Start()
	defer reconciler.Stop()

	pipeline := fabric.NewPresencePipeline(fabric.PresencePipelineConfig{
		Bus:        bus,
		Ephemeral:  presence,
		Store:      st,
		FlushEvery: envCfg.PresenceFlushEvery,
		Reconcile:  reconciler.Enqueue,
	})
	if err := pipeline.Start(); err != nil {
		log.Fatalf("presence: %v", err)
	}
	defer pipeline.Stop()

	// 5. Quota engine: notification listener, disconnect worker, plan expiry
	listener := store.NewListener(st, 256)
	listener.Start()
	defer listener.Stop()

	worker := quota.NewDisconnectWorker(quota.DisconnectWorkerConfig{
		Store:        st,
		Edge:         rpc,
		Presence:     presence,
		Jobs:         listener.Jobs(),
		Concurrency:  envCfg.DisconnectConcurrency,
		RatePerSec:   envCfg.DisconnectRatePerSec,
		PollInterval: envCfg.QueuePollInterval,
	})
	worker.Start()
	defer worker.Stop()

	sweeper := quota.NewStaleSweeper(st, 0)
	expiry := quota.NewPlanExpiry(st)

	// 6. Scheduler
	sched, err := scheduler.New([]scheduler.Job{
		{
			Name:     "stale session sweep",
			Schedule: envCfg.StaleSweepSchedule,
			Run:      func() error { return runWithTimeout(sweeper.Sweep) },
		},
		{
			Name:     "plan expiry",
			Schedule: envCfg.PlanExpirySchedule,
			Run:      func() error { return runWithTimeout(expiry.Run) },
		},
		{
			Name:     "presence sweep",
			Schedule: envCfg.PresenceSweepSchedule,
			Run:      func() error { return runWithTimeout(pipeline.Sweep) },
		},
		{
			Name:     "router usage retention",
			Schedule: envCfg.UsageRetentionSchedule,
			Run: func() error {
				return runWithTimeout(func(ctx context.Context) error {
					cutoff := time.Now().UTC().AddDate(0, 0, -envCfg.UsageRetentionDays)
					n, err := st.PruneRouterDailyUsage(ctx, cutoff)
					if err != nil {
						return err
					}
					if n > 0 {
						log.Printf("[retention] pruned %d router usage rows", n)
					}
					return nil
				})
			},
		},
	})
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	sched.Start()
	defer sched.Stop()

	// 7. HTTP surface: portal, admin API, tunnel WebSocket
	portalHandlers := portal.NewHandlers(portal.HandlersConfig{
		Routers: st,
		Auth:    radauth.NewClient(envCfg.RadiusAuthAddr, envCfg.RadiusTimeout),
		Redirects: portal.RedirectPolicy{
			DefaultURL:     envCfg.DefaultRedirectURL,
			AllowedDomains: envCfg.RedirectAllowedDomains,
		},
		AllowPublicUAMIP: envCfg.AllowPublicUAMIP,
		AllowIPv6:        envCfg.AllowIPv6,
	})

	srv := api.NewServer(api.ServerConfig{
		ListenAddress: envCfg.ListenAddress,
		Port:          envCfg.HTTPPort,
		JWTSecret:     envCfg.JWTSecret,
		SystemInfo: api.SystemInfo{
			Version:    buildinfo.Version,
			GitCommit:  buildinfo.GitCommit,
			BuildTime:  buildinfo.BuildTime,
			InstanceID: instanceID,
		},
		Portal:    portalHandlers,
		Routers:   st,
		Presence:  presence,
		Users:     st,
		Edge:      rpc,
		Tunnels:   tunnels,
		Reconcile: reconciler.Enqueue,
		Whitelist: api.WhitelistConfig{
			PortalURL:  envCfg.PortalURL,
			DNSServers: envCfg.PortalDNSServers,
			NTPServers: envCfg.PortalNTPServers,
		},
		MaxBodyBytes:   int64(envCfg.APIMaxBodyBytes),
		RequestTimeout: envCfg.RequestTimeout,
	})

	go func() {
		log.Printf("spotfi HTTP server starting on %s:%d", envCfg.ListenAddress, envCfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received signal %s, shutting down...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func runWithTimeout(fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return fn(ctx)
}
