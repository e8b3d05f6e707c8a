package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"syncdash/internal/daemon"
	"syncdash/internal/logger"
	"syncdash/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Server is the local daemon API: UI consumers read the reconciled
// connection views from here instead of talking to the backend themselves.
type Server struct {
	echo     *echo.Echo
	manager  *daemon.SessionManager
	histRepo *repository.HistoryRepository
	port     int
	stopCh   chan struct{}
}

func NewServer(manager *daemon.SessionManager, port int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		manager:  manager,
		histRepo: repository.NewHistoryRepository(),
		port:     port,
		stopCh:   make(chan struct{}, 1),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/status", s.handleStatus)
	s.echo.POST("/stop", s.handleStop)

	g := s.echo.Group("/connections")
	g.GET("", s.handleListConnections)
	g.GET("/:id", s.handleGetConnection)
	g.POST("/:id/run", s.handleRun)

	s.echo.GET("/history", s.handleHistory)
}

func (s *Server) Start() {
	go func() {
		addr := ":" + strconv.Itoa(s.port)
		logger.Log.Info("daemon server started",
			zap.String("addr", addr))

		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("daemon server error", zap.Error(err))
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	s.manager.StopAll()
	return s.echo.Shutdown(ctx)
}

func (s *Server) StopCh() <-chan struct{} {
	return s.stopCh
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"watching": s.manager.WatchedIDs(),
	})
}

func (s *Server) handleStop(c echo.Context) error {
	// non-blocking: shutdown may already be signalled and nobody will
	// drain the channel again
	select {
	case s.stopCh <- struct{}{}:
	default:
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleListConnections(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"connections": s.manager.Views(),
	})
}

func (s *Server) handleGetConnection(c echo.Context) error {
	view, ok := s.manager.View(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "connection not watched"})
	}

	return c.JSON(http.StatusOK, view)
}

func (s *Server) handleRun(c echo.Context) error {
	jobID, err := s.manager.Run(c.Request().Context(), c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) handleHistory(c echo.Context) error {
	n := 20
	if nStr := c.QueryParam("n"); nStr != "" {
		if parsed, err := strconv.Atoi(nStr); err == nil {
			n = parsed
		}
	}

	histories, err := s.histRepo.GetRecent(n)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, histories)
}
