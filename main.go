package main

import (
	// standard library
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	// third-party
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	// internal
	"github.com/tronbyt/server/internal/config"
	"github.com/tronbyt/server/internal/database"
	"github.com/tronbyt/server/internal/handlers"
	"github.com/tronbyt/server/internal/logging"
	"github.com/tronbyt/server/internal/middleware"
	"github.com/tronbyt/server/internal/notify"
	"github.com/tronbyt/server/internal/render"
	"github.com/tronbyt/server/internal/scheduler"
	"github.com/tronbyt/server/internal/storage"
	"github.com/tronbyt/server/internal/version"
	"github.com/tronbyt/server/internal/ws"
)

// isDeviceRoute matches the firmware-facing path shapes
// /<id>/{next,currentapp,ws,push,brightness} and /<id>/<iname>/appwebp.
// Everything else goes to the management router.
func isDeviceRoute(path string) bool {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch len(parts) {
	case 2:
		switch parts[1] {
		case "next", "currentapp", "ws", "push", "brightness":
			return true
		}
	case 3:
		return parts[2] == "appwebp"
	}
	return false
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println(version.String())
		os.Exit(0)
	}

	_ = godotenv.Load()
	logging.InfoWithComponent(logging.ComponentStartup, "Starting Tronbyt server", "version", version.String())

	if err := database.Initialize(); err != nil {
		logging.ErrorWithComponent(logging.ComponentStartup, "Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	clock := clockwork.NewRealClock()
	db := database.GetDB()
	deviceService := database.NewDeviceService(db)
	appService := database.NewAppService(db)
	images := storage.NewImageStoreFromEnv()
	renderer := render.NewHTTPRendererFromEnv()
	gate := render.NewGate(deviceService, images, renderer, clock)
	sched := scheduler.New(deviceService, gate, images, clock)
	registry := ws.NewRegistry()

	// The notifier backend decides how pushes reach websocket sessions:
	// Redis pub/sub when REDIS_URL is set, otherwise in-process channels
	var notifier notify.Notifier
	if redisURL := config.Get("REDIS_URL", ""); redisURL != "" {
		redisNotifier, err := notify.NewRedisNotifier(context.Background(), redisURL, clock)
		if err != nil {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		notifier = redisNotifier
	} else {
		notifier = notify.NewMemoryNotifier(clock)
		logging.InfoWithComponent(logging.ComponentStartup, "Using in-process notifier")
	}
	defer notifier.Close()

	api := &handlers.API{
		Devices:  deviceService,
		Apps:     appService,
		Sched:    sched,
		Images:   images,
		Notifier: notifier,
		Registry: registry,
		Clock:    clock,
	}

	if mode := config.Get("GIN_MODE", ""); mode != "" {
		gin.SetMode(mode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// CORS for browser-based device simulators
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "If-None-Match"}

	// Device firmware addresses the server as /<device-id>/<op>, a root
	// wildcard gin cannot mix with static routes, so the device surface
	// and the management API live on separate engines behind a dispatcher.
	deviceRouter := gin.New()
	deviceRouter.Use(gin.Logger(), gin.Recovery(), cors.New(corsConfig))

	deviceRouter.GET("/:deviceID/next", api.NextHandler)
	deviceRouter.GET("/:deviceID/currentapp", api.CurrentAppHandler)
	deviceRouter.GET("/:deviceID/ws", api.WSHandler)
	deviceRouter.GET("/:deviceID/:iname/appwebp", api.AppWebPHandler)

	pushLimit := rate.Limit(config.GetInt("PUSH_RATE_PER_SEC", 2))
	deviceRouter.POST("/:deviceID/push", middleware.PerDeviceRateLimit(pushLimit, 5), api.PushHandler)
	deviceRouter.POST("/:deviceID/brightness", api.BrightnessHandler)

	mgmtRouter := gin.New()
	mgmtRouter.Use(gin.Logger(), gin.Recovery(), cors.New(corsConfig))

	mgmtRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"sessions": registry.Count(),
			"build":    version.Info(),
		})
	})

	apiGroup := mgmtRouter.Group("/api")
	{
		apiGroup.GET("/devices", handlers.GetDevicesHandler)
		apiGroup.POST("/devices", handlers.CreateDeviceHandler)
		apiGroup.GET("/devices/:deviceID", handlers.GetDeviceHandler)
		apiGroup.PATCH("/devices/:deviceID", handlers.UpdateDeviceHandler)
		apiGroup.DELETE("/devices/:deviceID", handlers.DeleteDeviceHandler)

		apiGroup.POST("/devices/:deviceID/apps", handlers.AddAppHandler)
		apiGroup.PATCH("/devices/:deviceID/apps/:iname", handlers.UpdateAppHandler)
		apiGroup.DELETE("/devices/:deviceID/apps/:iname", handlers.DeleteAppHandler)
		apiGroup.POST("/devices/:deviceID/apps/reorder", handlers.ReorderAppsHandler)
		apiGroup.POST("/devices/:deviceID/apps/:iname/move", handlers.MoveAppHandler)
	}

	port := config.Get("PORT", "8000")
	addr := ":" + port

	srv := &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isDeviceRoute(r.URL.Path) {
				deviceRouter.ServeHTTP(w, r)
				return
			}
			mgmtRouter.ServeHTTP(w, r)
		}),
	}

	go func() {
		logging.InfoWithComponent(logging.ComponentStartup, "Listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.ErrorWithComponent(logging.ComponentStartup, "Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.InfoWithComponent(logging.ComponentShutdown, "Shutting down", "sessions", registry.Count())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.ErrorWithComponent(logging.ComponentShutdown, "Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logging.InfoWithComponent(logging.ComponentShutdown, "Server stopped")
}
