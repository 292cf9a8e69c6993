package main

import (
	"context"
	"errors"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crumbchat/internal/config"
	"crumbchat/internal/http"
	"crumbchat/internal/platform"
	"crumbchat/internal/push"

	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, err := platform.New(ctx, platform.Config{
		Path:        cfg.DBFile,
		ObjectsDir:  cfg.ObjectsPath,
		BaseURL:     cfg.BaseURL,
		TokenExpiry: cfg.TokenExpiry,
	})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	notifier, err := push.New(push.Config{
		Subscriber:      cfg.PushContact,
		VAPIDPublicKey:  cfg.VAPIDPublic,
		VAPIDPrivateKey: cfg.VAPIDPrivate,
	}, p)
	if err != nil {
		return err
	}
	defer notifier.Close()

	apiServer := http.NewAPIServer(p, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
