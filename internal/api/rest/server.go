package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/api/websocket"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/auth"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/config"
	"github.com/KevinKickass/OpenPLCWorkspace/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH ====================
		v1.POST("/auth/login", s.login)
		v1.GET("/auth/me", s.authService.AuthMiddleware(), s.getCurrentUser)

		// ==================== SYSTEM ====================
		system := v1.Group("/system")
		system.Use(s.authService.AuthMiddleware())
		{
			system.GET("/status", auth.RequirePermission(auth.PermOperator), s.getSystemStatus)
			system.POST("/shutdown", auth.RequirePermission(auth.PermAdmin), s.shutdown)
		}

		// ==================== WATCH TABLE ====================
		watch := v1.Group("/watch")
		watch.Use(s.authService.AuthMiddleware())
		{
			// Editing the list is part of watching: Operator+
			watch.GET("", auth.RequirePermission(auth.PermOperator), s.listWatch)
			watch.GET("/:name", auth.RequirePermission(auth.PermOperator), s.getWatch)
			watch.POST("", auth.RequirePermission(auth.PermOperator), s.addWatch)
			watch.PUT("", auth.RequirePermission(auth.PermOperator), s.replaceWatch)
			watch.DELETE("", auth.RequirePermission(auth.PermOperator), s.clearWatch)
			watch.PATCH("/:name", auth.RequirePermission(auth.PermOperator), s.updateWatch)
			watch.DELETE("/:name", auth.RequirePermission(auth.PermOperator), s.removeWatch)

			// Changing device memory: Technician+
			watch.POST("/:name/write", auth.RequirePermission(auth.PermTechnician), s.writeWatch)
		}

		// ==================== DEVICE ====================
		device := v1.Group("/device")
		device.Use(s.authService.AuthMiddleware())
		{
			device.GET("/status", auth.RequirePermission(auth.PermOperator), s.getDeviceStatus)
			device.GET("/memory", auth.RequirePermission(auth.PermOperator), s.readMemory)
			device.POST("/connect", auth.RequirePermission(auth.PermTechnician), s.connectDevice)
			device.POST("/disconnect", auth.RequirePermission(auth.PermTechnician), s.disconnectDevice)
		}

		// ==================== MONITOR ====================
		monitor := v1.Group("/monitor")
		monitor.Use(s.authService.AuthMiddleware())
		monitor.Use(auth.RequirePermission(auth.PermOperator))
		{
			monitor.GET("/status", s.getMonitorStatus)
			monitor.POST("/start", s.startMonitor)
			monitor.POST("/stop", s.stopMonitor)
			monitor.POST("/poll", s.pollOnce)
		}

		// ==================== PROJECT ====================
		proj := v1.Group("/project")
		proj.Use(s.authService.AuthMiddleware())
		{
			proj.GET("", auth.RequirePermission(auth.PermOperator), s.getProject)
			proj.PUT("", auth.RequirePermission(auth.PermAdmin), s.replaceProject)
			proj.PUT("/offsets", auth.RequirePermission(auth.PermAdmin), s.setOffsets)
			proj.POST("/save", auth.RequirePermission(auth.PermAdmin), s.saveProject)
			proj.POST("/reload", auth.RequirePermission(auth.PermAdmin), s.reloadProject)
			proj.POST("/symbols/:name/rename", auth.RequirePermission(auth.PermAdmin), s.renameSymbol)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		ws := v1.Group("/ws")
		{
			ws.GET("/live", s.wsLiveConnection)
			ws.GET("/status", s.authService.AuthMiddleware(), auth.RequirePermission(auth.PermOperator), s.wsStatus)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

func (s *Server) wsStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connected_clients": s.wsHub.GetClientCount(),
	})
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
