package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"medcoder/internal/config"
	"medcoder/internal/handler"
	"medcoder/internal/repository/postgres"
	"medcoder/internal/router"
	"medcoder/internal/service"
	s3storage "medcoder/internal/storage/s3"
	"medcoder/internal/vlm/openrouter"
)

// @title Medcoder API
// @version 1.0
// @description Extracts ICD-10 diagnosis codes from uploaded medical document images
// @BasePath /api
func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := postgres.NewDB(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	// Repositories
	docRepo := postgres.NewDocumentRepo(db)
	icdRepo := postgres.NewICDRepo(db)

	// Storage and model client
	s3Client, err := s3storage.New(&cfg.S3)
	if err != nil {
		return fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	vlmClient := openrouter.NewClient(&cfg.VLM)

	// Services
	docSvc := service.NewDocumentService(docRepo, icdRepo, s3Client, vlmClient, &cfg.S3, &cfg.Upload)
	dispatcher := service.NewDispatcher(docSvc, docRepo, &cfg.Worker)

	// Handlers
	docH := handler.NewDocumentHandler(docSvc, dispatcher.Enqueue)
	codeH := handler.NewCodeHandler(docSvc)
	healthH := handler.NewHealthHandler(db)

	r := router.Setup(cfg, docH, codeH, healthH)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		stop()
		dispatcher.Wait()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}

	dispatcher.Wait()
	log.Println("shutdown complete")
	return nil
}
