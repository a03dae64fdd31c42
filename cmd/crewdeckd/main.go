// crewdeckd is the reference crew orchestration backend: REST CRUD for
// agents/tasks/flows, run execution with a simulated executor, and per-run
// event streams over SSE and WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/crewdeck/crewdeck/config"
	"github.com/crewdeck/crewdeck/policy"
	"github.com/crewdeck/crewdeck/server"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting crewdeckd...")
	log.Printf("HTTP Port: %d", cfg.HTTPPort)
	log.Printf("Database: %s", cfg.DatabaseURL)

	store, err := server.NewStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	h := server.NewHandler(store, cfg, policyEngine)

	if cfg.SeedFile != "" {
		if err := h.Seed(ctx, cfg.SeedFile); err != nil {
			log.Fatalf("Failed to seed from %s: %v", cfg.SeedFile, err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	h.RegisterRoutes(e)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if cfg.SeedFile != "" {
		g.Go(func() error {
			err := h.WatchSeed(gctx, cfg.SeedFile)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down crewdeckd...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	log.Printf("API started on port %d", cfg.HTTPPort)

	if err := g.Wait(); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
	log.Println("crewdeckd stopped")
}
