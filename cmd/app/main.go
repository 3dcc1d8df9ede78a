package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"solscope/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Environment (.env is optional)
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	gin.SetMode(gin.ReleaseMode)

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(ctx, *configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 4. Pprof Server (for performance profiling)
	if addr := bootstrap.Config.Server.PprofAddr; addr != "" {
		go func() {
			// Localhost only for security
			slog.Info("🕵️ Pprof server started", slog.String("addr", addr))
			if err := http.ListenAndServe(addr, nil); err != nil {
				slog.Error("Pprof server failed", slog.Any("error", err))
			}
		}()
	}

	// 5. Serve until signalled
	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("❌ Exited with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("👋 Bye")
}
