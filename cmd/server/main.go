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

	"satspos/config"
	"satspos/internal/database"
	"satspos/internal/relay"
	"satspos/internal/router"
	"satspos/pkg/proxy"
	"satspos/pkg/terminal"
	"satspos/pkg/zap"
)

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	database.SeedMerchant(db, &cfg.Merchant)

	pool := relay.NewPool(cfg.Nostr.Relays)
	defer pool.Close()

	signer := zap.DetectSigner(cfg.Nostr.SecretKey)

	engine := router.Setup(cfg, db, router.Deps{
		Pool:     pool,
		Signer:   signer,
		Proxy:    proxy.UnavailableProvider{},
		Reader:   terminal.NoopReader{},
		Printer:  terminal.NoopPrinter{},
		Feedback: terminal.NoopFeedback{},
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	fmt.Println("server stopped")
}
