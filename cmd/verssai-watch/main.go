// verssai-watch connects to a VERSSAI backend, mirrors workflow and
// connection events to the log, and serves client metrics. It can also
// trigger a workflow or run a one-shot retrieval query on startup, which
// makes it a handy smoke test against a live backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	verssai "github.com/verssai/verssai-go"
	"github.com/verssai/verssai-go/pkg/observability"
	"github.com/verssai/verssai-go/pkg/realtime"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile  = flag.String("config", getEnv("CONFIG_FILE", "config/verssai.yaml"), "Client configuration file")
	socketURL   = flag.String("socket-url", "", "Override the configured WebSocket endpoint")
	role        = flag.String("role", "", "Override the configured user role")
	metricsPort = flag.Int("metrics-port", 0, "Override the configured metrics port (0 = use config)")
	trigger     = flag.String("trigger", "", "Workflow id to trigger after connecting")
	query       = flag.String("query", "", "Retrieval query to run after connecting")
)

func main() {
	flag.Parse()

	log.Printf("Starting verssai-watch v%s", Version)

	cfg, err := verssai.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if *socketURL != "" {
		cfg.Server.SocketURL = *socketURL
	}
	if *role != "" {
		cfg.Server.Role = *role
	}
	if *metricsPort != 0 {
		cfg.Metrics.Port = *metricsPort
	}

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("Tracing disabled: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := verssai.NewHub(cfg)
	sub, err := hub.Subscribe(realtime.ScopeConnection, func(ev realtime.Event) {
		if ev.State != nil {
			log.Printf("Connection: %s (retries=%d) %s", ev.State.State, ev.State.Retries, ev.State.Reason)
		}
	})
	if err != nil {
		log.Fatalf("Subscribe: %v", err)
	}
	defer sub.Release()

	sessions, err := hub.Subscribe(realtime.ScopeAllSessions, func(ev realtime.Event) {
		if ev.Session != nil {
			log.Printf("Session %s [%s]: %s %d%%",
				ev.Session.ID, ev.Session.WorkflowID, ev.Session.Status, ev.Session.Progress)
		}
	})
	if err != nil {
		log.Fatalf("Subscribe sessions: %v", err)
	}
	defer sessions.Release()

	client := sub.Client()
	g, ctx := errgroup.WithContext(ctx)

	var obsServer *observability.Server
	if cfg.Metrics.Enabled {
		obsServer = observability.NewServer(cfg.Metrics.Port, client.Status)
		g.Go(func() error {
			log.Printf("Metrics on :%d", cfg.Metrics.Port)
			if err := obsServer.Start(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if *trigger != "" {
		g.Go(func() error {
			requestID, err := client.TriggerWorkflow(ctx, *trigger, nil)
			if err != nil {
				return fmt.Errorf("trigger %s: %w", *trigger, err)
			}
			log.Printf("Triggered %s (request %s)", *trigger, requestID)
			return nil
		})
	}

	if *query != "" {
		g.Go(func() error {
			results, err := client.RunQuery(ctx, *query, nil)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			log.Printf("Query returned %d results", len(results))
			for i, r := range results {
				log.Printf("  %d: %v", i+1, r)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("Error: %v", err)
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if obsServer != nil {
		if err := obsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown error: %v", err)
		}
	}
	if err := observability.ShutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
	log.Println("Stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
