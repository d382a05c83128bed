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

	"github.com/joho/godotenv"

	"github.com/pwalczyk/chatkeeper/internal/config"
	"github.com/pwalczyk/chatkeeper/internal/handler"
	"github.com/pwalczyk/chatkeeper/internal/model/registry"
	"github.com/pwalczyk/chatkeeper/internal/service/ai"
	"github.com/pwalczyk/chatkeeper/internal/service/session"
	"github.com/pwalczyk/chatkeeper/internal/store/index"
	"github.com/pwalczyk/chatkeeper/internal/store/transcript"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	models, err := registry.LoadFile(cfg.Storage.ModelsFile)
	if err != nil {
		log.Fatalf("failed to load models file: %v", err)
	}
	if len(models.List()) == 0 {
		log.Printf("warning: no models configured in %s, all session starts will be rejected", cfg.Storage.ModelsFile)
	}

	ix := index.Open(cfg.Storage.IndexFile)
	transcripts := transcript.NewStore(cfg.Storage.ActiveDir, cfg.Storage.ArchiveDir)

	client := ai.NewClient(cfg.AI.Endpoint)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		log.Printf("warning: %v", err)
		log.Println("continuing; chat turns will degrade to empty replies until the backend is up")
	} else {
		log.Printf("generation backend reachable at %s", cfg.AI.Endpoint)
	}
	cancel()

	svc := session.NewService(ix, transcripts, client)

	router := handler.NewRouter(svc, models, cfg.AI.AutoGreet)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chatkeeper listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
