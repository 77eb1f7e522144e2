package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/config"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/dispatcher"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/health"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/janitor"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/latentstore"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/logging"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/middleware"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/ratelimit"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/registry"
	"github.com/mikaelvesavuori/mikroroom-go/internal/v1/roomapi"
)

// version is the server version reported by GET /health. Overridden at
// build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file for local development. Try a couple of likely paths
	// depending on where the binary is run from.
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			slog.Info("loaded environment from file", "path", path)
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	store := latentstore.New(cfg.LatentStorePath)
	records, err := store.Load(cfg.LatentRoomMaxAge)
	if err != nil {
		logging.Warn(ctx, "failed to load latent room store, starting with none", zap.Error(err))
	}

	reg := registry.New(cfg.MaxLatentRooms, cfg.MaxParticipants, store)
	if len(records) > 0 {
		reg.Restore(records)
		logging.Info(ctx, "restored latent rooms from disk", zap.Int("count", len(records)))
	}

	connLimiter, err := ratelimit.NewConnLimiter(cfg, false)
	if err != nil {
		logging.Error(ctx, "invalid rate limit configuration", zap.Error(err))
		os.Exit(1)
	}

	hub := dispatcher.New(reg, connLimiter, cfg.AllowedOrigins)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	j := janitor.New(reg, cfg.RoomCleanupInterval, cfg.RoomMaxAge, cfg.LatentRoomMaxAge)
	go j.Run(janitorCtx)

	router := newRouter(cfg, reg, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "signaling server starting", zap.String("port", cfg.Port))
		var serveErr error
		if cfg.UseHTTPS {
			serveErr = srv.ListenAndServeTLS(cfg.SSLCertPath, cfg.SSLKeyPath)
		} else {
			serveErr = srv.ListenAndServe()
		}
		if serveErr != nil && serveErr != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(serveErr))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down signaling server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shut down", zap.Error(err))
	}
	logging.Info(ctx, "signaling server exiting")
}

func newRouter(cfg *config.Config, reg *registry.Registry, hub *dispatcher.Hub) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	corsCfg.AllowCredentials = true
	router.Use(cors.New(corsCfg))

	router.GET("/ws", gin.WrapF(hub.ServeWs))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(reg, version)
	router.GET("/health", healthHandler.Health)

	router.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"iceServers": cfg.IceServers()})
	})

	roomAPI := roomapi.NewHandler(reg)
	router.POST("/api/rooms", roomAPI.CreateRoom)

	return router
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
