package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"authoria.org/internal/audit"
	"authoria.org/internal/auth"
	"authoria.org/internal/cache"
	"authoria.org/internal/httpapi"
	"authoria.org/internal/obs"
	"authoria.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	obs.Init()

	dsn := os.Getenv("AUTHORIA_PG_DSN")
	if dsn == "" {
		log.Fatal("missing AUTHORIA_PG_DSN")
	}
	secret := os.Getenv("AUTHORIA_AUTH_SECRET")
	if secret == "" {
		log.Fatal("missing AUTHORIA_AUTH_SECRET")
	}
	addr := os.Getenv("AUTHORIA_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.EnsurePermissions(ctx, auth.BuiltinPermissions); err != nil {
		cancel()
		log.Fatalf("ensure permissions: %v", err)
	}
	cancel()

	resolver, err := auth.NewResolver(store, store)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}
	issuer, err := auth.NewIssuer(secret, store, auth.WithIssuer("authoria"))
	if err != nil {
		log.Fatalf("issuer: %v", err)
	}
	recorder, err := audit.NewRecorder(store)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}

	var hints *cache.Hints
	if redisAddr := os.Getenv("AUTHORIA_REDIS_ADDR"); redisAddr != "" {
		hints, err = cache.NewHints(redisAddr, os.Getenv("AUTHORIA_REDIS_PASSWORD"))
		if err != nil {
			log.Printf("redis unavailable, running without cache: %v", err)
			hints = nil
		} else {
			defer hints.Close()
		}
	}

	api := httpapi.New(httpapi.Deps{
		Resolver: resolver,
		Issuer:   issuer,
		Identity: store,
		Recorder: recorder,
		Hints:    hints,
		Ready:    httpapi.ReadyProbe{DB: store.DB()},
		Version:  version,
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting authoria-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}
