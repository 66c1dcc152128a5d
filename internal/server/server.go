package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"quota-gateway/internal/adapter"
	"quota-gateway/internal/config"
	"quota-gateway/internal/handler"
	"quota-gateway/internal/middleware"
	"quota-gateway/internal/monitoring"
	"quota-gateway/internal/quota"
	"quota-gateway/internal/repository"
	"quota-gateway/internal/scheduler"
	"quota-gateway/internal/service"
	"quota-gateway/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	httpServer *http.Server

	limiter       *quota.Service
	monitor       *monitoring.Monitor
	scheduler     *scheduler.Scheduler
	requestLogger *middleware.RequestLogger

	apiKeyService *service.APIKeyService

	videoHandler     *handler.VideoHandler
	musicHandler     *handler.MusicHandler
	gameHandler      *handler.GameHandler
	chatHandler      *handler.ChatHandler
	statusHandler    *handler.StatusHandler
	adminHandler     *handler.AdminHandler
	apiKeyHandler    *handler.APIKeyHandler
	analyticsHandler *handler.AnalyticsHandler
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) *Server {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Core quota machinery
	store := quota.NewStore(redis)
	limiter := quota.NewService(store, cfg)

	// Upstream adapters
	timeout := cfg.Upstreams.Timeout()
	videoAdapter := adapter.NewVideoAdapter(limiter, adapter.NewYouTubeClient(cfg.Upstreams.YouTubeAPIKey, timeout))
	musicAdapter := adapter.NewMusicAdapter(limiter, adapter.NewSpotifyClient(cfg.Upstreams.SpotifyToken, timeout))

	// Persistence
	apiKeyRepo := repository.NewAPIKeyRepository(postgres)
	requestLogRepo := repository.NewRequestLogRepository(postgres)
	alertRepo := repository.NewAlertRepository(postgres)

	apiKeyService := service.NewAPIKeyService(postgres, apiKeyRepo, redis)
	analyticsService := service.NewAnalyticsService(postgres, requestLogRepo)

	// Background workers
	alerts := monitoring.NewAlertManager(cfg.Monitoring.Cooldown())
	alerts.AddHandler(monitoring.LogHandler{})
	alerts.AddHandler(monitoring.NewArchiveHandler(alertRepo))
	if cfg.Monitoring.Email.Enabled {
		alerts.AddHandler(monitoring.NewEmailHandler(cfg.Monitoring.Email))
	}

	monitor := monitoring.NewMonitor(store, cfg, alerts)
	sched := scheduler.NewScheduler(limiter, analyticsService, cfg.Scheduler)
	requestLogger := middleware.NewRequestLogger(requestLogRepo, 1000)

	breakers := map[string]*adapter.Breaker{
		"video": videoAdapter.Breaker(),
		"music": musicAdapter.Breaker(),
	}

	s := &Server{
		router:        router,
		config:        cfg,
		redis:         redis,
		postgres:      postgres,
		limiter:       limiter,
		monitor:       monitor,
		scheduler:     sched,
		requestLogger: requestLogger,
		apiKeyService: apiKeyService,

		videoHandler:     handler.NewVideoHandler(videoAdapter),
		musicHandler:     handler.NewMusicHandler(musicAdapter),
		gameHandler:      handler.NewGameHandler(),
		chatHandler:      handler.NewChatHandler(),
		statusHandler:    handler.NewStatusHandler(limiter, postgres),
		adminHandler:     handler.NewAdminHandler(limiter, sched, alerts, alertRepo, breakers),
		apiKeyHandler:    handler.NewAPIKeyHandler(apiKeyService),
		analyticsHandler: handler.NewAnalyticsHandler(analyticsService),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
	s.router.Use(middleware.CORS())
	s.router.Use(middleware.NewGlobalLimiter(s.config.GlobalLimit).Middleware())
	s.router.Use(middleware.APIKeyValidator(s.apiKeyService))
	s.router.Use(middleware.Identity([]byte(s.config.Server.JWTSecret)))
	s.router.Use(middleware.RateLimit(s.limiter, middleware.DefaultRoutes()))
	s.router.Use(s.requestLogger.Middleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.statusHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status/:user_id", s.statusHandler.UserStatus)

	// Adapter-backed routes. These meter themselves through the adapters,
	// which is why they are absent from the rate limit route table.
	api := s.router.Group("/api")
	{
		api.GET("/video/search", s.videoHandler.Search)
		api.GET("/video/details", s.videoHandler.Details)
		api.GET("/video/trending", s.videoHandler.Trending)
		api.GET("/video/channel", s.videoHandler.Channel)

		api.GET("/music/search", s.musicHandler.Search)
		api.GET("/music/recommendations", s.musicHandler.Recommendations)
	}

	// Middleware-metered routes
	s.router.GET("/video/recommendations", s.videoHandler.Recommendations)
	s.router.GET("/game/player", s.gameHandler.PlayerSummary)
	s.router.GET("/game/library", s.gameHandler.OwnedGames)
	s.router.POST("/chat/completion", s.chatHandler.Completion)
	s.router.POST("/chat/embedding", s.chatHandler.Embedding)

	admin := s.router.Group("/admin")
	admin.Use(middleware.AdminAuth(s.config.Admin.PasswordHash))
	{
		admin.POST("/quota/reset", s.adminHandler.ResetQuota)
		admin.POST("/queue/drain", s.adminHandler.DrainQueues)
		admin.DELETE("/queue/:user_id", s.adminHandler.DiscardQueue)
		admin.GET("/alerts", s.adminHandler.ListAlerts)
		admin.GET("/system", s.adminHandler.SystemStatus)
		admin.POST("/breakers/:name/reset", s.adminHandler.ResetBreaker)

		admin.POST("/keys", s.apiKeyHandler.Create)
		admin.GET("/keys", s.apiKeyHandler.List)
		admin.GET("/keys/:id", s.apiKeyHandler.Get)
		admin.PATCH("/keys/:id", s.apiKeyHandler.Update)
		admin.DELETE("/keys/:id", s.apiKeyHandler.Delete)

		admin.GET("/analytics", s.analyticsHandler.GetSummary)
		admin.GET("/analytics/timeseries", s.analyticsHandler.GetTimeSeries)
		admin.GET("/analytics/keys/:id", s.analyticsHandler.GetAPIKeyStats)
		admin.GET("/logs", s.analyticsHandler.GetLogs)
	}
}

// Run starts the background workers and the HTTP listener.
func (s *Server) Run(addr string) error {
	s.requestLogger.Start()
	s.monitor.Start()
	s.scheduler.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting quota gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	s.scheduler.Stop()
	s.monitor.Stop()
	s.requestLogger.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
