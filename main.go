// Command agroconsult runs the consultation signaling gateway: the
// WebSocket endpoint that carries video-call negotiation and chat between a
// farmer and an expert, plus a few authenticated HTTP endpoints.
//
// main only wires things together:
//
//  1. config
//  2. database and migrations
//  3. i18n
//  4. repositories, hub, services, handlers
//  5. routes and CORS
//  6. HTTP server with graceful shutdown
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/akinalp/agroconsult/config"
	"github.com/akinalp/agroconsult/database"
	"github.com/akinalp/agroconsult/pkg/i18n"
	"github.com/akinalp/agroconsult/ws"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] agroconsult signaling starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[main] failed to load config: %v", err)
	}
	log.Printf("[main] config loaded (port=%d, turn=%t)", cfg.Server.Port, cfg.ICE.TURNEnabled())

	db, err := database.New(cfg.Database.Path, database.Migrations())
	if err != nil {
		log.Fatalf("[main] failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := i18n.LoadEmbedded(); err != nil {
		log.Fatalf("[main] failed to load i18n translations: %v", err)
	}

	a := newApp(cfg, db)
	defer a.svcs.Close()

	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     a.handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it would cut long-lived WebSocket connections.
		IdleTimeout: 60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("[main] server listening on %s", cfg.Server.Addr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[main] server error: %v", err)
		}
	}()

	<-done
	log.Println("[main] shutting down...")

	// WebSocket connections first, so clients see the close before the
	// listener goes away.
	a.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("[main] forced shutdown: %v", err)
	}

	log.Println("[main] server stopped gracefully")
}

// app is the wired server without its listener.
type app struct {
	hub     *ws.Hub
	svcs    *Services
	handler http.Handler
}

func newApp(cfg *config.Config, db *database.DB) *app {
	repos := initRepositories(db.Conn)

	hub := ws.NewHub()
	svcs := initServices(cfg, repos, hub)
	registerHubCallbacks(hub, svcs)
	go hub.Run()

	h := initHandlers(svcs, hub)

	mux := http.NewServeMux()
	initRoutes(mux, h, svcs.Auth, svcs.VideoRoom)

	origins := cfg.Server.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept-Language"},
		AllowCredentials: len(cfg.Server.CORSOrigins) > 0,
	})

	return &app{
		hub:     hub,
		svcs:    svcs,
		handler: corsHandler.Handler(mux),
	}
}
