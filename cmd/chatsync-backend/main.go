package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"chatsync/internal/devserver"
	"chatsync/pkg/banner"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during release
	var version = "dev"

	_ = godotenv.Load(".env")
	cfgPath := flag.String("config", "", "path to yaml config file")
	addrFlag := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.InitWithLevel(cfg.Logging.Level)

	addr := cfg.Addr()
	if *addrFlag != "" {
		addr = *addrFlag
	}

	srv := devserver.New()
	banner.Print(addr, "net/http", version)

	hs := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket feeds stay open indefinitely
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		logger.Info("backend_listening", "addr", addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if err != nil && err != http.ErrServerClosed {
			shutdown.Abort("listen failed", err, "")
		}
	case <-ctx.Done():
		logger.Info("backend_shutting_down")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		if err := hs.Shutdown(shutCtx); err != nil {
			logger.Error("backend_shutdown_failed", "error", err)
		}
	}
	logger.Info("backend_stopped")
}
